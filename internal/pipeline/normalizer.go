package pipeline

import (
	"time"

	"github.com/shopspring/decimal"

	"marketpipe/internal/domain"
)

var two = decimal.NewFromInt(2)
var tenThousand = decimal.NewFromInt(10000)

// Normalizer derives per-event metrics from a validated event plus the
// trailing window supplied by the store. Both entrypoints are pure
// functions of (event, window); the normalizer itself holds only config.
type Normalizer struct {
	largeTradeThreshold decimal.Decimal
	orderBookDepth      int
	vwapWindow          time.Duration
}

// NewNormalizer creates a normalizer with the given thresholds.
func NewNormalizer(largeTradeThresholdUSDT decimal.Decimal, orderBookDepth int, vwapWindow time.Duration) *Normalizer {
	return &Normalizer{
		largeTradeThreshold: largeTradeThresholdUSDT,
		orderBookDepth:      orderBookDepth,
		vwapWindow:          vwapWindow,
	}
}

// NormalizeTrade enriches a trade with metrics over the supplied window.
// window holds the already-stored trades inside the VWAP window, oldest
// first; the incoming trade is included in every derived metric.
func (n *Normalizer) NormalizeTrade(t *domain.Trade, window []domain.NormalizedTrade, outOfOrder bool) *domain.NormalizedTrade {
	amount := t.Price.Mul(t.Quantity)

	cutoff := t.Timestamp - n.vwapWindow.Milliseconds()
	totalPQ := t.Price.Mul(t.Quantity)
	totalQty := t.Quantity
	cumulative := t.Quantity
	buyQty := decimal.Zero
	sellQty := decimal.Zero
	if t.Side == domain.SideBuy {
		buyQty = t.Quantity
	} else {
		sellQty = t.Quantity
	}

	for _, w := range window {
		if w.Timestamp < cutoff {
			continue
		}
		totalPQ = totalPQ.Add(w.Price.Mul(w.Quantity))
		totalQty = totalQty.Add(w.Quantity)
		cumulative = cumulative.Add(w.Quantity)
		if w.Side == domain.SideBuy {
			buyQty = buyQty.Add(w.Quantity)
		} else {
			sellQty = sellQty.Add(w.Quantity)
		}
	}

	vwap := decimal.Zero
	if !totalQty.IsZero() {
		vwap = totalPQ.Div(totalQty)
	}

	pressure := decimal.Zero
	if total := buyQty.Add(sellQty); !total.IsZero() {
		pressure = buyQty.Sub(sellQty).Div(total)
	}

	return &domain.NormalizedTrade{
		ID:               t.ID,
		Symbol:           t.Symbol,
		Price:            t.Price,
		Quantity:         t.Quantity,
		Side:             t.Side,
		Timestamp:        t.Timestamp,
		Sequence:         t.Sequence,
		AmountUSDT:       amount,
		VWAPWindow:       vwap,
		CumulativeVolume: cumulative,
		BuySellPressure:  pressure,
		IsLargeTrade:     amount.GreaterThanOrEqual(n.largeTradeThreshold),
		OutOfOrder:       outOfOrder,
	}
}

// NormalizeOrderBook derives top-of-book and volume metrics from a depth
// update. Volume aggregation is limited to the configured depth.
func (n *Normalizer) NormalizeOrderBook(ob *domain.OrderBookUpdate, outOfOrder bool) *domain.NormalizedOrderBook {
	// Copy the levels out: the update is pooled and its backing arrays get
	// reused for the next feed message once the pipeline releases it.
	bids := copyLevels(ob.Bids, n.orderBookDepth)
	asks := copyLevels(ob.Asks, n.orderBookDepth)

	bestBid := bids[0].Price
	bestAsk := asks[0].Price
	bestBidQty := bids[0].Quantity
	bestAskQty := asks[0].Quantity

	mid := bestBid.Add(bestAsk).Div(two)
	spread := bestAsk.Sub(bestBid)
	spreadBps := decimal.Zero
	if mid.IsPositive() {
		spreadBps = spread.Div(mid).Mul(tenThousand)
	}

	// Weighted mid leans toward the heavier side of the book:
	// (bid*askQty + ask*bidQty) / (bidQty + askQty).
	weightedMid := mid
	if totalTop := bestBidQty.Add(bestAskQty); !totalTop.IsZero() {
		weightedMid = bestBid.Mul(bestAskQty).Add(bestAsk.Mul(bestBidQty)).Div(totalTop)
	}

	bidVol := decimal.Zero
	for _, lvl := range bids {
		bidVol = bidVol.Add(lvl.Quantity)
	}
	askVol := decimal.Zero
	for _, lvl := range asks {
		askVol = askVol.Add(lvl.Quantity)
	}

	ratio := decimal.Zero
	if askVol.IsPositive() {
		ratio = bidVol.Div(askVol)
	}

	imbalance := decimal.Zero
	if total := bidVol.Add(askVol); !total.IsZero() {
		imbalance = bidVol.Sub(askVol).Div(total)
	}

	return &domain.NormalizedOrderBook{
		Symbol:           ob.Symbol,
		Timestamp:        ob.Timestamp,
		Sequence:         ob.Sequence,
		Bids:             bids,
		Asks:             asks,
		BestBid:          bestBid,
		BestAsk:          bestAsk,
		MidPrice:         mid,
		WeightedMidPrice: weightedMid,
		Spread:           spread,
		SpreadBps:        spreadBps,
		TotalBidVolume:   bidVol,
		TotalAskVolume:   askVol,
		BidAskRatio:      ratio,
		Imbalance:        imbalance,
		OutOfOrder:       outOfOrder,
	}
}

// copyLevels clones up to depth levels into a fresh slice.
func copyLevels(src []domain.PriceLevel, depth int) []domain.PriceLevel {
	if len(src) > depth {
		src = src[:depth]
	}
	out := make([]domain.PriceLevel, len(src))
	copy(out, src)
	return out
}

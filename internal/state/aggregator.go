package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"marketpipe/internal/domain"
	"marketpipe/internal/store"
)

var five = decimal.NewFromInt(5)

// Aggregator maintains one rolling MarketState per symbol. Every update
// builds a complete new snapshot from the previous one plus a window
// recomputation against the store, then publishes it in a single atomic
// pointer swap. Readers always get a fully consistent state; no field
// mixing across ticks. Window metrics are recomputed from the store rather
// than accumulated incrementally, so missed evictions cannot drift them.
type Aggregator struct {
	hot *store.TimeSeriesStore

	mu     sync.RWMutex
	states map[string]*atomic.Pointer[domain.MarketState]

	momentumWindow  time.Duration
	spikeMultiplier decimal.Decimal
}

// NewAggregator creates an aggregator over the given hot store.
// momentumWindow is the lookback for price momentum (default 5s when 0).
func NewAggregator(hot *store.TimeSeriesStore, momentumWindow time.Duration) *Aggregator {
	if momentumWindow == 0 {
		momentumWindow = 5 * time.Second
	}
	return &Aggregator{
		hot:             hot,
		states:          make(map[string]*atomic.Pointer[domain.MarketState]),
		momentumWindow:  momentumWindow,
		spikeMultiplier: decimal.NewFromInt(2),
	}
}

func (a *Aggregator) slot(symbol string) *atomic.Pointer[domain.MarketState] {
	a.mu.RLock()
	p, ok := a.states[symbol]
	a.mu.RUnlock()
	if ok {
		return p
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok = a.states[symbol]; ok {
		return p
	}
	p = &atomic.Pointer[domain.MarketState]{}
	p.Store(&domain.MarketState{Symbol: symbol})
	a.states[symbol] = p
	return p
}

// UpdateFromTrade folds a normalized trade into the symbol's state.
// The trade must already be in the store; window metrics are computed with
// the trade's own timestamp as the reference point, which keeps them
// deterministic under replay.
func (a *Aggregator) UpdateFromTrade(t *domain.NormalizedTrade) domain.MarketState {
	slot := a.slot(t.Symbol)
	next := *slot.Load() // copy previous snapshot

	next.LastPrice = t.Price
	next.TradeCount++
	next.LastTradeTimestamp = t.Timestamp

	ref := t.Timestamp
	next.RecentVolume1m = a.hot.VolumeInWindow(t.Symbol, ref, time.Minute)
	next.RecentVolume5m = a.hot.VolumeInWindow(t.Symbol, ref, 5*time.Minute)
	if vwap, ok := a.hot.VWAPInWindow(t.Symbol, ref, time.Minute); ok {
		next.VWAP1m = vwap
	} else {
		next.VWAP1m = decimal.Zero
	}

	next.PriceMomentum = a.momentum(t.Symbol, ref, t.Price)

	// Spike: 1m volume above twice the 5m per-minute baseline.
	baseline := next.RecentVolume5m.Div(five)
	next.VolumeSpike = baseline.IsPositive() &&
		next.RecentVolume1m.GreaterThan(baseline.Mul(a.spikeMultiplier))

	next.LargeTradeCount = a.hot.LargeTradesInWindow(t.Symbol, ref, time.Minute)
	next.LargeTradeDetected = next.LargeTradeCount > 0

	next.LastUpdatedAt = t.Timestamp
	slot.Store(&next)
	return next
}

// UpdateFromOrderBook folds a normalized depth update into the symbol's
// state. Trade-window metrics are carried from the previous snapshot.
func (a *Aggregator) UpdateFromOrderBook(ob *domain.NormalizedOrderBook) domain.MarketState {
	slot := a.slot(ob.Symbol)
	next := *slot.Load()

	next.OrderBookCount++
	next.LastOrderBookTimestamp = ob.Timestamp
	next.BestBid = ob.BestBid
	next.BestAsk = ob.BestAsk
	next.MidPrice = ob.MidPrice
	next.Spread = ob.Spread
	next.SpreadBps = ob.SpreadBps
	next.TotalBidVolume = ob.TotalBidVolume
	next.TotalAskVolume = ob.TotalAskVolume
	next.BidAskRatio = ob.BidAskRatio
	next.BidAskImbalance = ob.Imbalance

	next.LastUpdatedAt = ob.Timestamp
	slot.Store(&next)
	return next
}

// momentum is the relative price change from the oldest trade inside the
// momentum window to the current price.
func (a *Aggregator) momentum(symbol string, ref int64, current decimal.Decimal) decimal.Decimal {
	trades := a.hot.TradesRange(symbol, ref-a.momentumWindow.Milliseconds(), ref)
	if len(trades) < 2 {
		return decimal.Zero
	}
	start := trades[0].Price
	if !start.IsPositive() {
		return decimal.Zero
	}
	return current.Sub(start).Div(start)
}

// GetState returns an immutable snapshot copy of the symbol's state.
func (a *Aggregator) GetState(symbol string) (domain.MarketState, bool) {
	a.mu.RLock()
	p, ok := a.states[symbol]
	a.mu.RUnlock()
	if !ok {
		return domain.MarketState{}, false
	}
	return *p.Load(), true
}

// Symbols returns the symbols with a published state.
func (a *Aggregator) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.states))
	for s := range a.states {
		out = append(out, s)
	}
	return out
}

package domain

import "github.com/shopspring/decimal"

// NormalizedTrade is a validated trade enriched with window-derived metrics.
// Derived fields are deterministic functions of the trade plus the trailing
// window it was normalized against.
type NormalizedTrade struct {
	ID        int64           `json:"id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      string          `json:"side"`
	Timestamp int64           `json:"timestamp"`
	Sequence  uint64          `json:"sequence"`

	AmountUSDT       decimal.Decimal `json:"amount_usdt"`
	VWAPWindow       decimal.Decimal `json:"vwap_window"`
	CumulativeVolume decimal.Decimal `json:"cumulative_volume"`
	BuySellPressure  decimal.Decimal `json:"buy_sell_pressure"` // -1 (all sells) .. +1 (all buys)
	IsLargeTrade     bool            `json:"is_large_trade"`
	OutOfOrder       bool            `json:"out_of_order"`
}

// NormalizedOrderBook is a validated depth update enriched with top-of-book
// and volume metrics.
type NormalizedOrderBook struct {
	Symbol    string       `json:"symbol"`
	Timestamp int64        `json:"timestamp"`
	Sequence  uint64       `json:"sequence"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`

	BestBid          decimal.Decimal `json:"best_bid"`
	BestAsk          decimal.Decimal `json:"best_ask"`
	MidPrice         decimal.Decimal `json:"mid_price"`
	WeightedMidPrice decimal.Decimal `json:"weighted_mid_price"`
	Spread           decimal.Decimal `json:"spread"`
	SpreadBps        decimal.Decimal `json:"spread_bps"`

	TotalBidVolume decimal.Decimal `json:"total_bid_volume"`
	TotalAskVolume decimal.Decimal `json:"total_ask_volume"`
	BidAskRatio    decimal.Decimal `json:"bid_ask_ratio"`
	Imbalance      decimal.Decimal `json:"imbalance"` // (bid-ask)/(bid+ask), 0 when both empty
	OutOfOrder     bool            `json:"out_of_order"`
}

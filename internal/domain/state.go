package domain

import "github.com/shopspring/decimal"

// MarketState is the rolling per-symbol view published by the aggregator.
// Instances are immutable snapshots: the aggregator builds a fresh value and
// publishes it in a single atomic swap, so readers never observe a state with
// fields from two different ticks.
type MarketState struct {
	Symbol string `json:"symbol"`

	// Price
	LastPrice decimal.Decimal `json:"last_price"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	Spread    decimal.Decimal `json:"spread"`
	SpreadBps decimal.Decimal `json:"spread_bps"`
	MidPrice  decimal.Decimal `json:"mid_price"`

	// Book volume
	TotalBidVolume  decimal.Decimal `json:"total_bid_volume"`
	TotalAskVolume  decimal.Decimal `json:"total_ask_volume"`
	BidAskRatio     decimal.Decimal `json:"bid_ask_ratio"`
	BidAskImbalance decimal.Decimal `json:"bid_ask_imbalance"`

	// Trade volume
	RecentVolume1m decimal.Decimal `json:"recent_volume_1m"`
	RecentVolume5m decimal.Decimal `json:"recent_volume_5m"`
	VWAP1m         decimal.Decimal `json:"vwap_1m"`

	// Signal features
	PriceMomentum      decimal.Decimal `json:"price_momentum"` // relative change over the momentum window
	VolumeSpike        bool            `json:"volume_spike"`
	LargeTradeDetected bool            `json:"large_trade_detected"`
	LargeTradeCount    int             `json:"large_trade_count"`

	// Meta
	TradeCount             int64 `json:"trade_count"`
	OrderBookCount         int64 `json:"orderbook_count"`
	LastTradeTimestamp     int64 `json:"last_trade_timestamp"`
	LastOrderBookTimestamp int64 `json:"last_orderbook_timestamp"`
	LastUpdatedAt          int64 `json:"last_updated_at"`
}

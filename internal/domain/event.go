package domain

import "github.com/shopspring/decimal"

// EventKind tags the concrete type behind the Event interface.
// Dispatch happens once at ingress; downstream stages branch on the tag.
type EventKind string

const (
	KindTrade     EventKind = "TRADE"
	KindOrderBook EventKind = "ORDERBOOK"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Event is the tagged variant consumed by the pipeline.
// Events are handed off by value between stages; no stage keeps a
// mutable alias into another stage's working set.
type Event interface {
	Kind() EventKind
	GetSymbol() string
	GetTimestamp() int64
	GetSequence() uint64
}

// Trade is a single executed trade from the push feed.
// Timestamps are Unix milliseconds, matching the feed wire format.
type Trade struct {
	ID        int64           `json:"id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      string          `json:"side"` // "BUY", "SELL"
	Timestamp int64           `json:"timestamp"`
	Sequence  uint64          `json:"sequence"`
}

func (t *Trade) Kind() EventKind     { return KindTrade }
func (t *Trade) GetSymbol() string   { return t.Symbol }
func (t *Trade) GetTimestamp() int64 { return t.Timestamp }
func (t *Trade) GetSequence() uint64 { return t.Sequence }

// PriceLevel is one (price, quantity) rung of an order book side.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBookUpdate is a depth snapshot/diff from the push feed.
// Bids are ordered best-first (descending), asks best-first (ascending).
type OrderBookUpdate struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
	Sequence  uint64       `json:"sequence"`
}

func (o *OrderBookUpdate) Kind() EventKind     { return KindOrderBook }
func (o *OrderBookUpdate) GetSymbol() string   { return o.Symbol }
func (o *OrderBookUpdate) GetTimestamp() int64 { return o.Timestamp }
func (o *OrderBookUpdate) GetSequence() uint64 { return o.Sequence }

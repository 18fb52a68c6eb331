package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceSource is the pull-based authoritative endpoint used for
// reconciliation. It is a scarce, occasionally-failing resource: callers
// must pass a bounded context and treat every error as fetch failure.
type PriceSource interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// OrderBookSource optionally exposes depth from the pull source for the
// book-level cross-check.
type OrderBookSource interface {
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBookUpdate, error)
}

// StateReader is the aggregator surface the reconciliation engine and
// downstream consumers read from. Implementations return snapshot copies.
type StateReader interface {
	GetState(symbol string) (MarketState, bool)
}

// FeedWorker defines the interface for push-feed connectors
type FeedWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// ArchiveRepository is the persistence boundary. The core only writes
// through it; a nil archive disables persistence entirely.
type ArchiveRepository interface {
	SaveLargeTrade(trade *NormalizedTrade) error
	SaveAuditCheck(rec *ReconciliationRecord) error
}

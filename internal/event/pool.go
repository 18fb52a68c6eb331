package event

import (
	"sync"

	"github.com/shopspring/decimal"

	"marketpipe/internal/domain"
)

// Pools for high-frequency event allocation. The feed parses thousands of
// messages per second; reusing event structs keeps GC pressure off the
// hot path. Ownership contract: the ingress worker acquires, the pipeline
// releases after the event has been normalized and stored.
var tradePool = sync.Pool{
	New: func() interface{} {
		return &domain.Trade{}
	},
}

var orderBookPool = sync.Pool{
	New: func() interface{} {
		return &domain.OrderBookUpdate{}
	},
}

// AcquireTrade gets a Trade from the pool. The returned event has zero
// values and must be initialized.
func AcquireTrade() *domain.Trade {
	return tradePool.Get().(*domain.Trade)
}

// ReleaseTrade returns a Trade to the pool after resetting it.
func ReleaseTrade(t *domain.Trade) {
	if t == nil {
		return
	}
	t.ID = 0
	t.Symbol = ""
	t.Price = decimal.Zero
	t.Quantity = decimal.Zero
	t.Side = ""
	t.Timestamp = 0
	t.Sequence = 0

	tradePool.Put(t)
}

// AcquireOrderBook gets an OrderBookUpdate from the pool. Level slices keep
// their capacity across reuse.
func AcquireOrderBook() *domain.OrderBookUpdate {
	return orderBookPool.Get().(*domain.OrderBookUpdate)
}

// ReleaseOrderBook returns an OrderBookUpdate to the pool after resetting it.
func ReleaseOrderBook(ob *domain.OrderBookUpdate) {
	if ob == nil {
		return
	}
	ob.Symbol = ""
	ob.Bids = ob.Bids[:0]
	ob.Asks = ob.Asks[:0]
	ob.Timestamp = 0
	ob.Sequence = 0

	orderBookPool.Put(ob)
}

// Release returns any pooled event to its pool.
func Release(ev domain.Event) {
	switch e := ev.(type) {
	case *domain.Trade:
		ReleaseTrade(e)
	case *domain.OrderBookUpdate:
		ReleaseOrderBook(e)
	}
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	trades := make([]*domain.Trade, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		trades = append(trades, AcquireTrade())
	}
	for _, t := range trades {
		ReleaseTrade(t)
	}

	books := make([]*domain.OrderBookUpdate, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		books = append(books, AcquireOrderBook())
	}
	for _, ob := range books {
		ReleaseOrderBook(ob)
	}
}

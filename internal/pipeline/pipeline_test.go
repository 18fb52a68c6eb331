package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketpipe/internal/domain"
	"marketpipe/internal/state"
	"marketpipe/internal/store"
)

type archiveSpy struct {
	mu     sync.Mutex
	trades []domain.NormalizedTrade
	audits int
}

func (a *archiveSpy) SaveLargeTrade(t *domain.NormalizedTrade) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trades = append(a.trades, *t)
	return nil
}

func (a *archiveSpy) SaveAuditCheck(*domain.ReconciliationRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audits++
	return nil
}

func (a *archiveSpy) largeTrades() []domain.NormalizedTrade {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.NormalizedTrade(nil), a.trades...)
}

type pipelineFixture struct {
	pipe    *Pipeline
	hot     *store.TimeSeriesStore
	agg     *state.Aggregator
	archive *archiveSpy
	updates chan domain.MarketState
	cancel  context.CancelFunc
	done    chan struct{}
}

func startPipeline(t *testing.T) *pipelineFixture {
	t.Helper()

	hot := store.New(1000, 100, time.Hour)
	agg := state.NewAggregator(hot, 5*time.Second)
	archive := &archiveSpy{}
	updates := make(chan domain.MarketState, 100)

	pipe := New(Options{
		Symbols:    []string{"BTCUSDT"},
		InboxSize:  100,
		Validator:  NewValidator([]string{"BTCUSDT"}, 1000, 0),
		Normalizer: NewNormalizer(decimal.NewFromInt(10000), 5, time.Minute),
		Store:      hot,
		Aggregator: agg,
		Archive:    archive,
		VWAPWindow: time.Minute,
		OnStateUpdate: func(kind domain.EventKind, st domain.MarketState) {
			updates <- st
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pipe.Run(ctx)
		close(done)
	}()

	f := &pipelineFixture{pipe: pipe, hot: hot, agg: agg, archive: archive, updates: updates, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("pipeline did not stop")
		}
	})
	return f
}

func (f *pipelineFixture) waitUpdate(t *testing.T) domain.MarketState {
	t.Helper()
	select {
	case st := <-f.updates:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("no state update received")
		return domain.MarketState{}
	}
}

func TestPipeline_TradeFlow(t *testing.T) {
	f := startPipeline(t)

	require.NoError(t, f.pipe.Submit(&domain.Trade{
		ID: 1, Symbol: "BTCUSDT",
		Price: decimal.NewFromInt(62000), Quantity: decimal.NewFromFloat(0.5),
		Side: domain.SideBuy, Timestamp: 1000, Sequence: 1,
	}))

	st := f.waitUpdate(t)
	require.True(t, st.LastPrice.Equal(decimal.NewFromInt(62000)))
	require.Equal(t, int64(1), st.TradeCount)

	stored := f.hot.TradesRange("BTCUSDT", 0, 10000)
	require.Len(t, stored, 1)
	require.True(t, stored[0].AmountUSDT.Equal(decimal.NewFromInt(31000)))
}

func TestPipeline_LargeTradeArchived(t *testing.T) {
	f := startPipeline(t)

	// 62000 * 0.5 = 31000 USDT, above the 10k threshold.
	require.NoError(t, f.pipe.Submit(&domain.Trade{
		ID: 1, Symbol: "BTCUSDT",
		Price: decimal.NewFromInt(62000), Quantity: decimal.NewFromFloat(0.5),
		Side: domain.SideBuy, Timestamp: 1000, Sequence: 1,
	}))
	f.waitUpdate(t)

	require.Eventually(t, func() bool {
		return len(f.archive.largeTrades()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, f.archive.largeTrades()[0].IsLargeTrade)
}

func TestPipeline_DuplicateDropped(t *testing.T) {
	f := startPipeline(t)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.pipe.Submit(&domain.Trade{
			ID: 7, Symbol: "BTCUSDT",
			Price: decimal.NewFromInt(62000), Quantity: decimal.NewFromInt(1),
			Side: domain.SideBuy, Timestamp: 1000, Sequence: 7,
		}))
	}

	f.waitUpdate(t)
	select {
	case <-f.updates:
		t.Fatal("duplicate produced a second state update")
	case <-time.After(100 * time.Millisecond):
	}

	require.Len(t, f.hot.TradesRange("BTCUSDT", 0, 10000), 1)
}

func TestPipeline_OrderBookFlow(t *testing.T) {
	f := startPipeline(t)

	require.NoError(t, f.pipe.Submit(&domain.OrderBookUpdate{
		Symbol: "BTCUSDT",
		Bids: []domain.PriceLevel{
			{Price: decimal.NewFromInt(61990), Quantity: decimal.NewFromInt(2)},
		},
		Asks: []domain.PriceLevel{
			{Price: decimal.NewFromInt(62010), Quantity: decimal.NewFromInt(3)},
		},
		Timestamp: 2000, Sequence: 1,
	}))

	st := f.waitUpdate(t)
	require.True(t, st.MidPrice.Equal(decimal.NewFromInt(62000)))
	require.True(t, st.BestBid.Equal(decimal.NewFromInt(61990)))

	_, ok := f.hot.LatestOrderBook("BTCUSDT")
	require.True(t, ok)
}

func TestPipeline_UnknownSymbolRejected(t *testing.T) {
	f := startPipeline(t)

	err := f.pipe.Submit(&domain.Trade{
		ID: 1, Symbol: "DOGEUSDT",
		Price: decimal.NewFromInt(1), Quantity: decimal.NewFromInt(1),
		Side: domain.SideBuy, Timestamp: 1000,
	})
	require.ErrorIs(t, err, domain.ErrUnknownSymbol)
}

func TestPipeline_MalformedDropped(t *testing.T) {
	f := startPipeline(t)

	require.NoError(t, f.pipe.Submit(&domain.Trade{
		ID: 1, Symbol: "BTCUSDT",
		Price: decimal.Zero, Quantity: decimal.NewFromInt(1),
		Side: domain.SideBuy, Timestamp: 1000,
	}))

	select {
	case <-f.updates:
		t.Fatal("malformed trade reached the aggregator")
	case <-time.After(100 * time.Millisecond):
	}
	require.Empty(t, f.hot.TradesRange("BTCUSDT", 0, 10000))
}

func TestPipeline_DropReleasesEvent(t *testing.T) {
	// No Run: the single-slot inbox fills after the first submit.
	pipe := New(Options{Symbols: []string{"BTCUSDT"}, InboxSize: 1})

	require.NoError(t, pipe.Submit(&domain.Trade{
		ID: 1, Symbol: "BTCUSDT",
		Price: decimal.NewFromInt(62000), Quantity: decimal.NewFromInt(1),
		Side: domain.SideBuy, Timestamp: 1000, Sequence: 1,
	}))

	dropped := &domain.Trade{
		ID: 2, Symbol: "BTCUSDT",
		Price: decimal.NewFromInt(62000), Quantity: decimal.NewFromInt(1),
		Side: domain.SideBuy, Timestamp: 1001, Sequence: 2,
	}
	require.NoError(t, pipe.Submit(dropped))

	require.Equal(t, int64(1), pipe.Stats().DroppedEvents)
	// Release resets the event before pooling it; a still-populated struct
	// means the drop path leaked it.
	require.Equal(t, int64(0), dropped.ID, "dropped event must go back to the pool")
	require.Empty(t, dropped.Symbol)
	require.True(t, dropped.Price.IsZero())
}

func TestPipeline_Stats(t *testing.T) {
	f := startPipeline(t)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, f.pipe.Submit(&domain.Trade{
			ID: i, Symbol: "BTCUSDT",
			Price: decimal.NewFromInt(62000), Quantity: decimal.NewFromInt(1),
			Side: domain.SideBuy, Timestamp: 1000 + i, Sequence: uint64(i),
		}))
	}
	for i := 0; i < 5; i++ {
		f.waitUpdate(t)
	}

	stats := f.pipe.Stats()
	require.Equal(t, int64(5), stats.ProcessedTrades)
	require.Equal(t, int64(0), stats.DroppedEvents)
}

package state

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketpipe/internal/domain"
	"marketpipe/internal/store"
)

func newAggregator() (*Aggregator, *store.TimeSeriesStore) {
	hot := store.New(10000, 1000, time.Hour)
	return NewAggregator(hot, 5*time.Second), hot
}

func feedTrade(hot *store.TimeSeriesStore, a *Aggregator, ts int64, seq uint64, price, qty float64) domain.MarketState {
	nt := &domain.NormalizedTrade{
		ID:        int64(seq),
		Symbol:    "BTCUSDT",
		Price:     decimal.NewFromFloat(price),
		Quantity:  decimal.NewFromFloat(qty),
		Side:      domain.SideBuy,
		Timestamp: ts,
		Sequence:  seq,
	}
	hot.AppendTrade(nt)
	return a.UpdateFromTrade(nt)
}

func TestAggregator_TradeFields(t *testing.T) {
	a, hot := newAggregator()

	st := feedTrade(hot, a, 1000, 1, 62000, 0.5)
	require.True(t, st.LastPrice.Equal(decimal.NewFromInt(62000)))
	require.Equal(t, int64(1), st.TradeCount)
	require.Equal(t, int64(1000), st.LastTradeTimestamp)
	require.True(t, st.RecentVolume1m.Equal(decimal.NewFromFloat(0.5)))

	got, ok := a.GetState("BTCUSDT")
	require.True(t, ok)
	require.Equal(t, st, got)
}

func TestAggregator_UnknownSymbol(t *testing.T) {
	a, _ := newAggregator()
	_, ok := a.GetState("ETHUSDT")
	require.False(t, ok)
}

func TestAggregator_VolumeWindows(t *testing.T) {
	a, hot := newAggregator()

	// 3m old trade counts toward 5m volume only.
	feedTrade(hot, a, 0, 1, 100, 5)
	st := feedTrade(hot, a, 3*60*1000, 2, 100, 2)

	require.True(t, st.RecentVolume1m.Equal(decimal.NewFromInt(2)), "got %s", st.RecentVolume1m)
	require.True(t, st.RecentVolume5m.Equal(decimal.NewFromInt(7)), "got %s", st.RecentVolume5m)
}

func TestAggregator_VWAP1m(t *testing.T) {
	a, hot := newAggregator()

	feedTrade(hot, a, 1000, 1, 100, 1)
	st := feedTrade(hot, a, 2000, 2, 110, 1)
	require.True(t, st.VWAP1m.Equal(decimal.NewFromInt(105)), "got %s", st.VWAP1m)
}

func TestAggregator_Momentum(t *testing.T) {
	a, hot := newAggregator()

	feedTrade(hot, a, 1000, 1, 100, 1)
	// (102-100)/100 = 0.02 over the 5s lookback.
	st := feedTrade(hot, a, 3000, 2, 102, 1)
	require.True(t, st.PriceMomentum.Equal(decimal.NewFromFloat(0.02)), "got %s", st.PriceMomentum)

	// A single trade inside the window has no momentum.
	st = feedTrade(hot, a, 60_000, 3, 200, 1)
	require.True(t, st.PriceMomentum.IsZero())
}

func TestAggregator_VolumeSpike(t *testing.T) {
	a, hot := newAggregator()

	// Baseline: 10 qty spread over earlier minutes.
	feedTrade(hot, a, 0, 1, 100, 5)
	feedTrade(hot, a, 2*60*1000, 2, 100, 5)

	// Last minute carries 30 qty; baseline is 40/5 = 8/min, spike at >16.
	st := feedTrade(hot, a, 4*60*1000, 3, 100, 30)
	require.True(t, st.VolumeSpike)

	a2, hot2 := newAggregator()
	feedTrade(hot2, a2, 0, 1, 100, 5)
	st = feedTrade(hot2, a2, 2*60*1000, 2, 100, 1)
	require.False(t, st.VolumeSpike)
}

func TestAggregator_LargeTrades(t *testing.T) {
	a, hot := newAggregator()

	nt := &domain.NormalizedTrade{
		ID: 1, Symbol: "BTCUSDT", Price: decimal.NewFromInt(62000),
		Quantity: decimal.NewFromInt(1), Side: domain.SideBuy,
		Timestamp: 1000, Sequence: 1, IsLargeTrade: true,
	}
	hot.AppendTrade(nt)
	st := a.UpdateFromTrade(nt)

	require.True(t, st.LargeTradeDetected)
	require.Equal(t, 1, st.LargeTradeCount)
}

func TestAggregator_OrderBookFields(t *testing.T) {
	a, hot := newAggregator()

	feedTrade(hot, a, 1000, 1, 62000, 1)

	nb := &domain.NormalizedOrderBook{
		Symbol:         "BTCUSDT",
		Timestamp:      2000,
		Sequence:       1,
		BestBid:        decimal.NewFromInt(61990),
		BestAsk:        decimal.NewFromInt(62010),
		MidPrice:       decimal.NewFromInt(62000),
		Spread:         decimal.NewFromInt(20),
		TotalBidVolume: decimal.NewFromInt(6),
		TotalAskVolume: decimal.NewFromInt(4),
		BidAskRatio:    decimal.NewFromFloat(1.5),
		Imbalance:      decimal.NewFromFloat(0.2),
	}
	st := a.UpdateFromOrderBook(nb)

	require.True(t, st.MidPrice.Equal(decimal.NewFromInt(62000)))
	require.True(t, st.BidAskImbalance.Equal(decimal.NewFromFloat(0.2)))
	// Trade-side fields carry over from the previous snapshot.
	require.True(t, st.LastPrice.Equal(decimal.NewFromInt(62000)))
	require.Equal(t, int64(1), st.TradeCount)
	require.Equal(t, int64(2000), st.LastUpdatedAt)
}

// TestAggregator_SnapshotAtomicity hammers one symbol with a writer while
// readers assert that every observed snapshot is internally consistent: the
// writer always publishes LastPrice equal to LastTradeTimestamp, so a reader
// seeing them disagree has caught a torn state.
func TestAggregator_SnapshotAtomicity(t *testing.T) {
	a, hot := newAggregator()

	const updates = 2000
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := int64(1); i <= updates; i++ {
			nt := &domain.NormalizedTrade{
				ID:        i,
				Symbol:    "BTCUSDT",
				Price:     decimal.NewFromInt(i),
				Quantity:  decimal.NewFromInt(1),
				Side:      domain.SideBuy,
				Timestamp: i,
				Sequence:  uint64(i),
			}
			hot.AppendTrade(nt)
			a.UpdateFromTrade(nt)
		}
	}()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				st, ok := a.GetState("BTCUSDT")
				if !ok {
					continue
				}
				if st.LastPrice.IntPart() != st.LastTradeTimestamp {
					t.Errorf("torn snapshot: price=%s ts=%d", st.LastPrice, st.LastTradeTimestamp)
					return
				}
				if st.TradeCount < 0 || st.TradeCount > updates {
					t.Errorf("impossible trade count %d", st.TradeCount)
					return
				}
			}
		}()
	}
	wg.Wait()

	st, ok := a.GetState("BTCUSDT")
	require.True(t, ok)
	require.Equal(t, int64(updates), st.TradeCount)
	require.Equal(t, int64(updates), st.LastTradeTimestamp)
}

func TestAggregator_Symbols(t *testing.T) {
	a, hot := newAggregator()

	feedTrade(hot, a, 1000, 1, 100, 1)
	require.Equal(t, []string{"BTCUSDT"}, a.Symbols())
}

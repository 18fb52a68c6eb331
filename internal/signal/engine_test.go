package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketpipe/internal/domain"
)

type stubVerifier struct {
	mu     sync.Mutex
	accept bool
	price  decimal.Decimal
	calls  int
}

func (v *stubVerifier) VerifyBeforeAction(ctx context.Context, symbol string, push decimal.Decimal) (bool, decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if !v.accept {
		return false, decimal.Zero
	}
	return true, v.price
}

func (v *stubVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// blockingVerifier holds every verification until release is closed.
type blockingVerifier struct {
	release chan struct{}
	price   decimal.Decimal
}

func (v *blockingVerifier) VerifyBeforeAction(ctx context.Context, symbol string, push decimal.Decimal) (bool, decimal.Decimal) {
	<-v.release
	return true, v.price
}

func testCfg() Config {
	return Config{
		SpikeWindow:        5 * time.Second,
		SpikeThreshold:     decimal.NewFromFloat(0.001),
		ImbalanceThreshold: decimal.NewFromFloat(0.65),
	}
}

func spikeState(momentum float64, ts int64) domain.MarketState {
	return domain.MarketState{
		Symbol:        "BTCUSDT",
		LastPrice:     decimal.NewFromInt(62015),
		PriceMomentum: decimal.NewFromFloat(momentum),
		LastUpdatedAt: ts,
	}
}

func TestEngine_EmitsVerifiedSignal(t *testing.T) {
	verifier := &stubVerifier{accept: true, price: decimal.NewFromInt(62000)}
	var got []Signal
	e := NewEngine(testCfg(), verifier, func(s Signal) { got = append(got, s) })

	e.OnStateUpdate(context.Background(), spikeState(0.002, 10_000))
	e.Wait()

	require.Len(t, got, 1)
	sig := got[0]
	require.Equal(t, DirectionLong, sig.Direction)
	require.True(t, sig.Price.Equal(decimal.NewFromInt(62000)),
		"signal carries the verified pull price")
	require.True(t, sig.PushPrice.Equal(decimal.NewFromInt(62015)))
}

func TestEngine_ShortOnNegativeMomentum(t *testing.T) {
	verifier := &stubVerifier{accept: true, price: decimal.NewFromInt(62000)}
	var got []Signal
	e := NewEngine(testCfg(), verifier, func(s Signal) { got = append(got, s) })

	e.OnStateUpdate(context.Background(), spikeState(-0.002, 10_000))
	e.Wait()

	require.Len(t, got, 1)
	require.Equal(t, DirectionShort, got[0].Direction)
}

func TestEngine_NoSignalBelowThreshold(t *testing.T) {
	verifier := &stubVerifier{accept: true, price: decimal.NewFromInt(62000)}
	fired := 0
	e := NewEngine(testCfg(), verifier, func(Signal) { fired++ })

	e.OnStateUpdate(context.Background(), spikeState(0.0005, 10_000))
	e.Wait()

	require.Equal(t, 0, fired)
	require.Equal(t, 0, verifier.callCount(), "verification only runs for real spike candidates")
}

func TestEngine_RejectionSuppressesSignal(t *testing.T) {
	verifier := &stubVerifier{accept: false}
	fired := 0
	e := NewEngine(testCfg(), verifier, func(Signal) { fired++ })

	e.OnStateUpdate(context.Background(), spikeState(0.002, 10_000))
	e.Wait()

	require.Equal(t, 0, fired, "a rejected verification produces no signal at all")
	require.Equal(t, 1, verifier.callCount())
}

func TestEngine_Cooldown(t *testing.T) {
	verifier := &stubVerifier{accept: true, price: decimal.NewFromInt(62000)}
	fired := 0
	e := NewEngine(testCfg(), verifier, func(Signal) { fired++ })

	e.OnStateUpdate(context.Background(), spikeState(0.002, 10_000))
	// 2s later: inside the 5s cooldown.
	e.OnStateUpdate(context.Background(), spikeState(0.002, 12_000))
	e.Wait()
	require.Equal(t, 1, fired)

	// 6s later: cooldown expired.
	e.OnStateUpdate(context.Background(), spikeState(0.002, 16_000))
	e.Wait()
	require.Equal(t, 2, fired)
}

func TestEngine_OnStateUpdateDoesNotBlockOnVerification(t *testing.T) {
	bv := &blockingVerifier{release: make(chan struct{}), price: decimal.NewFromInt(62000)}
	sigCh := make(chan Signal, 1)
	e := NewEngine(testCfg(), bv, func(s Signal) { sigCh <- s })

	// The verifier is stuck; the event-loop side must return immediately.
	start := time.Now()
	e.OnStateUpdate(context.Background(), spikeState(0.002, 10_000))
	require.Less(t, time.Since(start), 100*time.Millisecond,
		"state updates must not wait on the pull source")

	select {
	case <-sigCh:
		t.Fatal("signal emitted before verification finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(bv.release)
	select {
	case sig := <-sigCh:
		require.True(t, sig.Price.Equal(decimal.NewFromInt(62000)))
	case <-time.After(2 * time.Second):
		t.Fatal("verified signal never arrived")
	}
	e.Wait()
}

func TestEngine_CheckExit(t *testing.T) {
	e := NewEngine(testCfg(), &stubVerifier{}, nil)

	// ratio threshold 0.65 maps to imbalance bound 0.3.
	st := domain.MarketState{BidAskImbalance: decimal.NewFromFloat(-0.4)}
	require.True(t, e.CheckExit(st, DirectionLong), "heavy ask side closes a long")
	require.False(t, e.CheckExit(st, DirectionShort))

	st.BidAskImbalance = decimal.NewFromFloat(0.4)
	require.True(t, e.CheckExit(st, DirectionShort), "heavy bid side closes a short")
	require.False(t, e.CheckExit(st, DirectionLong))

	st.BidAskImbalance = decimal.NewFromFloat(0.1)
	require.False(t, e.CheckExit(st, DirectionLong))
	require.False(t, e.CheckExit(st, DirectionShort))
}

package signal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketpipe/internal/domain"
)

// Direction of an entry signal.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Signal is an entry decision that already passed price verification.
// Price is the pull-verified price to act on, never the raw push price.
type Signal struct {
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	PushPrice decimal.Decimal `json:"push_price"`
	Momentum  decimal.Decimal `json:"momentum"`
	Timestamp int64           `json:"timestamp"`
}

// Verifier is the pre-action gate. Satisfied by the reconciliation engine.
type Verifier interface {
	VerifyBeforeAction(ctx context.Context, symbol string, pushPrice decimal.Decimal) (bool, decimal.Decimal)
}

// Config holds the signal thresholds.
type Config struct {
	SpikeWindow        time.Duration   // momentum lookback, also the signal cooldown
	SpikeThreshold     decimal.Decimal // relative price change that fires a signal
	ImbalanceThreshold decimal.Decimal // bid/ask ratio (0.5..1) for the exit check
}

// Engine turns market-state updates into entry signals. A price spike beyond
// the threshold proposes LONG/SHORT; the proposal only becomes a Signal
// after VerifyBeforeAction accepts it. Rejected verifications suppress the
// signal entirely.
type Engine struct {
	cfg      Config
	verifier Verifier
	onSignal func(Signal)
	logger   *slog.Logger

	mu         sync.Mutex
	lastSignal map[string]int64 // cooldown per symbol, feed time (ms)
	wg         sync.WaitGroup
}

// NewEngine creates a signal engine. onSignal receives verified signals.
func NewEngine(cfg Config, verifier Verifier, onSignal func(Signal)) *Engine {
	if cfg.SpikeWindow == 0 {
		cfg.SpikeWindow = 5 * time.Second
	}
	return &Engine{
		cfg:        cfg,
		verifier:   verifier,
		onSignal:   onSignal,
		logger:     slog.Default().With("module", "signal"),
		lastSignal: make(map[string]int64),
	}
}

// OnStateUpdate consumes aggregator state updates. It never blocks: the
// caller is a per-symbol event loop, so the verification fetch runs on its
// own goroutine. The cooldown slot is taken before dispatching, which keeps
// at most one verification in flight per symbol per window.
// Safe for concurrent use across symbols.
func (e *Engine) OnStateUpdate(ctx context.Context, st domain.MarketState) {
	dir, ok := e.direction(st.PriceMomentum)
	if !ok {
		return
	}
	if !st.LastPrice.IsPositive() {
		return
	}

	e.mu.Lock()
	last := e.lastSignal[st.Symbol]
	if st.LastUpdatedAt-last < e.cfg.SpikeWindow.Milliseconds() {
		e.mu.Unlock()
		return
	}
	e.lastSignal[st.Symbol] = st.LastUpdatedAt
	e.mu.Unlock()

	e.logger.Info("price spike",
		slog.String("symbol", st.Symbol),
		slog.String("direction", string(dir)),
		slog.String("momentum", st.PriceMomentum.String()))

	e.wg.Add(1)
	go e.verifyAndEmit(ctx, st, dir)
}

func (e *Engine) verifyAndEmit(ctx context.Context, st domain.MarketState, dir Direction) {
	defer e.wg.Done()

	accepted, verified := e.verifier.VerifyBeforeAction(ctx, st.Symbol, st.LastPrice)
	if !accepted {
		e.logger.Warn("signal suppressed, verification rejected",
			slog.String("symbol", st.Symbol),
			slog.String("push_price", st.LastPrice.String()))
		return
	}

	sig := Signal{
		Symbol:    st.Symbol,
		Direction: dir,
		Price:     verified,
		PushPrice: st.LastPrice,
		Momentum:  st.PriceMomentum,
		Timestamp: st.LastUpdatedAt,
	}
	e.logger.Info("signal",
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
		slog.String("price", sig.Price.String()))
	if e.onSignal != nil {
		e.onSignal(sig)
	}
}

// Wait blocks until all in-flight verifications have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) direction(momentum decimal.Decimal) (Direction, bool) {
	switch {
	case momentum.GreaterThanOrEqual(e.cfg.SpikeThreshold):
		return DirectionLong, true
	case momentum.LessThanOrEqual(e.cfg.SpikeThreshold.Neg()):
		return DirectionShort, true
	default:
		return "", false
	}
}

// CheckExit reports whether an open position should close based on book
// imbalance turning against it. The configured bid/ask ratio threshold r
// maps to the normalized imbalance bound 2r-1.
func (e *Engine) CheckExit(st domain.MarketState, side Direction) bool {
	bound := e.cfg.ImbalanceThreshold.Mul(decimal.NewFromInt(2)).Sub(decimal.NewFromInt(1))
	switch side {
	case DirectionLong:
		return st.BidAskImbalance.LessThan(bound.Neg())
	case DirectionShort:
		return st.BidAskImbalance.GreaterThan(bound)
	default:
		return false
	}
}

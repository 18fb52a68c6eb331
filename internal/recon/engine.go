package recon

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"marketpipe/internal/domain"
	"marketpipe/internal/infra"
)

// Config carries the reconciliation safety parameters. All of them are
// injected; none may be hard-coded at the decision points.
type Config struct {
	WarnThreshold       decimal.Decimal // relative diff above which a check is a mismatch
	RejectThreshold     decimal.Decimal // relative diff above which verification rejects
	AuditInterval       time.Duration
	MaxStaleness        time.Duration // verification cache bound
	MismatchRateCeiling decimal.Decimal
	MinChecks           int64 // checks before the ceiling applies
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	FetchTimeout        time.Duration
	MaxConcurrent       int // bound on in-flight pull-source calls
}

// ConditionHandler receives system-level conditions. The engine never halts
// trading itself; the subscriber decides.
type ConditionHandler func(symbol string, cond domain.Condition, rec domain.ReconciliationRecord)

// Engine cross-verifies push-derived state against the pull source. It runs
// a periodic audit per symbol and answers synchronous pre-action
// verification. Both paths share one rate-limited source handle. The engine
// is the single writer of each symbol's ReconciliationRecord; records are
// published as immutable snapshots in one atomic step per check.
type Engine struct {
	src    *limitedSource
	states domain.StateReader
	cfg    Config

	archive     domain.ArchiveRepository
	onCondition ConditionHandler
	logger      *slog.Logger

	mu       sync.Mutex // serializes record writes
	records  map[string]*atomic.Pointer[domain.ReconciliationRecord]
	degraded map[string]bool

	now func() time.Time
}

// NewEngine creates a reconciliation engine over the given pull source.
func NewEngine(src domain.PriceSource, states domain.StateReader, cfg Config, archive domain.ArchiveRepository, onCondition ConditionHandler) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Minute
	}
	if cfg.MaxStaleness <= 0 {
		cfg.MaxStaleness = cfg.AuditInterval
	}
	return &Engine{
		src:         newLimitedSource(src, cfg.MaxConcurrent, cfg.FetchTimeout),
		states:      states,
		cfg:         cfg,
		archive:     archive,
		onCondition: onCondition,
		logger:      slog.Default().With("module", "reconciliation"),
		records:     make(map[string]*atomic.Pointer[domain.ReconciliationRecord]),
		degraded:    make(map[string]bool),
		now:         time.Now,
	}
}

// Track registers symbols for auditing. Records exist from registration on
// and are never deleted while the symbol is active.
func (e *Engine) Track(symbols ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range symbols {
		if _, ok := e.records[s]; ok {
			continue
		}
		p := &atomic.Pointer[domain.ReconciliationRecord]{}
		p.Store(&domain.ReconciliationRecord{Symbol: s})
		e.records[s] = p
	}
}

// Run starts one audit loop per tracked symbol and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	symbols := make([]string, 0, len(e.records))
	for s := range e.records {
		symbols = append(symbols, s)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			e.auditLoop(ctx, sym)
		}(symbol)
	}
	wg.Wait()
}

// auditLoop runs the periodic audit for one symbol. Repeated pull failures
// back off exponentially up to BackoffMax; the first success returns to the
// configured interval.
func (e *Engine) auditLoop(ctx context.Context, symbol string) {
	e.logger.Info("audit loop started", slog.String("symbol", symbol),
		slog.Duration("interval", e.cfg.AuditInterval))

	failures := 0
	timer := time.NewTimer(e.cfg.AuditInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("audit loop stopped", slog.String("symbol", symbol))
			return
		case <-timer.C:
		}

		wait := e.cfg.AuditInterval
		if err := e.audit(ctx, symbol); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			wait = infra.CalculateBackoff(failures, e.cfg.BackoffBase, e.cfg.BackoffMax)
			e.logger.Warn("audit fetch failed",
				slog.String("symbol", symbol),
				slog.Int("consecutive", failures),
				slog.Duration("retry_in", wait),
				slog.Any("error", err))
		} else {
			failures = 0
		}
		timer.Reset(wait)
	}
}

// audit performs one integrity check: fetch the authoritative price, compare
// it to the aggregator's last push price and fold the outcome into the
// record in a single publish.
func (e *Engine) audit(ctx context.Context, symbol string) error {
	pull, err := e.src.FetchPrice(ctx, symbol)
	if err != nil {
		e.updateRecord(symbol, func(r *domain.ReconciliationRecord) {
			r.ConsecutiveFailures++
		})
		return err
	}

	var push decimal.Decimal
	if st, ok := e.states.GetState(symbol); ok {
		push = st.LastPrice
	}

	mismatch := false
	diff := decimal.Zero
	if push.IsPositive() && pull.IsPositive() {
		diff = push.Sub(pull).Abs().Div(pull)
		mismatch = diff.GreaterThan(e.cfg.WarnThreshold)
	}

	var snapshot domain.ReconciliationRecord
	e.updateRecord(symbol, func(r *domain.ReconciliationRecord) {
		r.TotalChecks++
		r.ConsecutiveFailures = 0
		r.LastPushPrice = push
		r.LastPullPrice = pull
		r.LastDiff = diff
		r.LastCheckedAt = e.now().UnixMilli()
		if mismatch {
			r.MismatchCount++
			r.ConsecutiveMismatch++
		} else {
			r.ConsecutiveMismatch = 0
		}
		snapshot = *r
	})

	infra.GlobalMetrics.RecordReconCheck(mismatch)
	if mismatch {
		e.logger.Warn("price mismatch",
			slog.String("symbol", symbol),
			slog.String("push", push.String()),
			slog.String("pull", pull.String()),
			slog.String("diff", diff.String()))
	}

	if e.archive != nil {
		if err := e.archive.SaveAuditCheck(&snapshot); err != nil {
			e.logger.Warn("audit archive write failed", slog.Any("error", err))
		}
	}

	e.evaluateQuality(symbol, snapshot)
	return nil
}

// evaluateQuality raises DATA_QUALITY_DEGRADED when the running mismatch
// rate crosses the ceiling, once per crossing.
func (e *Engine) evaluateQuality(symbol string, rec domain.ReconciliationRecord) {
	if rec.TotalChecks < e.cfg.MinChecks {
		return
	}
	over := rec.MismatchRate().GreaterThan(e.cfg.MismatchRateCeiling)

	e.mu.Lock()
	was := e.degraded[symbol]
	e.degraded[symbol] = over
	e.mu.Unlock()

	if over && !was {
		e.logger.Error("data quality degraded",
			slog.String("symbol", symbol),
			slog.Int64("checks", rec.TotalChecks),
			slog.Int64("mismatches", rec.MismatchCount),
			slog.String("rate", rec.MismatchRate().String()))
		if e.onCondition != nil {
			e.onCondition(symbol, domain.ConditionDataQualityDegraded, rec)
		}
	}
	if !over && was {
		e.logger.Info("data quality recovered", slog.String("symbol", symbol))
	}
}

// VerifyBeforeAction is the synchronous gate in front of any capital-
// affecting action. It compares the caller's push price against a pull price
// no older than MaxStaleness (fetching fresh when the audit cache is stale)
// and either returns a pull-verified price or rejects. Every failure path
// rejects: this function never falls back to the push price.
func (e *Engine) VerifyBeforeAction(ctx context.Context, symbol string, pushPrice decimal.Decimal) (bool, decimal.Decimal) {
	if pushPrice.LessThanOrEqual(decimal.Zero) {
		infra.GlobalMetrics.RecordVerification(false, false)
		return false, decimal.Zero
	}

	pull, ok := e.cachedPull(symbol)
	if !ok {
		fresh, err := e.src.FetchPrice(ctx, symbol)
		if err != nil {
			e.logger.Error("cannot verify price, pull source failed",
				slog.String("symbol", symbol), slog.Any("error", err))
			infra.GlobalMetrics.RecordVerification(false, false)
			return false, decimal.Zero
		}
		pull = fresh
		e.updateRecord(symbol, func(r *domain.ReconciliationRecord) {
			r.LastPullPrice = pull
			r.LastCheckedAt = e.now().UnixMilli()
		})
	}
	if !pull.IsPositive() {
		infra.GlobalMetrics.RecordVerification(false, false)
		return false, decimal.Zero
	}

	diff := pushPrice.Sub(pull).Abs().Div(pull)

	switch {
	case diff.LessThanOrEqual(e.cfg.WarnThreshold):
		// The authoritative source wins even on agreement; acting on the
		// pull price avoids a stale push value that happens to pass.
		infra.GlobalMetrics.RecordVerification(true, false)
		return true, pull

	case diff.LessThanOrEqual(e.cfg.RejectThreshold):
		e.updateRecord(symbol, func(r *domain.ReconciliationRecord) {
			r.DegradedAccepts++
		})
		e.logger.Warn("price verification degraded",
			slog.String("symbol", symbol),
			slog.String("push", pushPrice.String()),
			slog.String("pull", pull.String()),
			slog.String("diff", diff.String()))
		infra.GlobalMetrics.RecordVerification(true, true)
		return true, pull

	default:
		e.logger.Error("price verification rejected",
			slog.String("symbol", symbol),
			slog.String("push", pushPrice.String()),
			slog.String("pull", pull.String()),
			slog.String("diff", diff.String()))
		infra.GlobalMetrics.RecordVerification(false, false)
		return false, decimal.Zero
	}
}

// cachedPull returns the audit's pull price when it is younger than
// MaxStaleness.
func (e *Engine) cachedPull(symbol string) (decimal.Decimal, bool) {
	rec, ok := e.Stats(symbol)
	if !ok || rec.LastCheckedAt == 0 || !rec.LastPullPrice.IsPositive() {
		return decimal.Zero, false
	}
	age := e.now().UnixMilli() - rec.LastCheckedAt
	if age > e.cfg.MaxStaleness.Milliseconds() {
		return decimal.Zero, false
	}
	return rec.LastPullPrice, true
}

// Stats returns a snapshot of the symbol's reconciliation record.
func (e *Engine) Stats(symbol string) (domain.ReconciliationRecord, bool) {
	e.mu.Lock()
	p, ok := e.records[symbol]
	e.mu.Unlock()
	if !ok {
		return domain.ReconciliationRecord{}, false
	}
	return *p.Load(), true
}

// updateRecord applies fn to a copy of the record and publishes the result
// atomically. Unknown symbols are registered on first touch.
func (e *Engine) updateRecord(symbol string, fn func(*domain.ReconciliationRecord)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.records[symbol]
	if !ok {
		p = &atomic.Pointer[domain.ReconciliationRecord]{}
		p.Store(&domain.ReconciliationRecord{Symbol: symbol})
		e.records[symbol] = p
	}
	next := *p.Load()
	fn(&next)
	p.Store(&next)
}

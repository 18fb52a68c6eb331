package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marketpipe/internal/domain"
	"marketpipe/internal/event"
	"marketpipe/internal/infra"
	"marketpipe/internal/state"
	"marketpipe/internal/store"
)

// statsLogEvery controls how often the per-symbol loop logs throughput.
const statsLogEvery = 1000

// Options carries the pipeline collaborators and tunables.
type Options struct {
	Symbols       []string
	InboxSize     int
	Validator     *Validator
	Normalizer    *Normalizer
	Store         *store.TimeSeriesStore
	Aggregator    *state.Aggregator
	Archive       domain.ArchiveRepository // nil disables persistence
	VWAPWindow    time.Duration
	OnStateUpdate func(domain.EventKind, domain.MarketState)
}

// Pipeline runs validate → normalize → store → aggregate for every symbol.
// Each symbol gets its own inbox and its own goroutine, so events for one
// symbol are processed strictly in delivery order while symbols proceed in
// parallel. The pipeline never reorders its own processing; the validator's
// out-of-order tolerance applies to feed timestamps, not to this loop.
type Pipeline struct {
	opts    Options
	inboxes map[string]chan domain.Event
	logger  *slog.Logger
	wg      sync.WaitGroup

	mu              sync.Mutex
	processedTrades int64
	processedBooks  int64
	droppedEvents   int64
}

// New creates a pipeline for the configured symbols.
func New(opts Options) *Pipeline {
	if opts.InboxSize == 0 {
		opts.InboxSize = 10000
	}
	if opts.VWAPWindow == 0 {
		opts.VWAPWindow = time.Minute
	}

	inboxes := make(map[string]chan domain.Event, len(opts.Symbols))
	for _, s := range opts.Symbols {
		inboxes[s] = make(chan domain.Event, opts.InboxSize)
	}
	return &Pipeline{
		opts:    opts,
		inboxes: inboxes,
		logger:  slog.Default().With("module", "pipeline"),
	}
}

// Inbox returns the event channel for a symbol. Ingress workers send here.
func (p *Pipeline) Inbox(symbol string) (chan<- domain.Event, bool) {
	ch, ok := p.inboxes[symbol]
	return ch, ok
}

// Submit routes an event to its symbol's inbox. Unknown symbols are
// rejected; a full inbox drops the event rather than blocking the feed.
func (p *Pipeline) Submit(ev domain.Event) error {
	ch, ok := p.inboxes[ev.GetSymbol()]
	if !ok {
		return domain.ErrUnknownSymbol
	}
	select {
	case ch <- ev:
		return nil
	default:
		p.mu.Lock()
		p.droppedEvents++
		p.mu.Unlock()
		p.logger.Warn("inbox full, event dropped", slog.String("symbol", ev.GetSymbol()))
		// Ownership passed to the pipeline on submit; a dropped event still
		// goes back to the pool here.
		event.Release(ev)
		return nil
	}
}

// Run starts one processing goroutine per symbol and blocks until ctx is
// done and all loops have exited.
func (p *Pipeline) Run(ctx context.Context) {
	for symbol, ch := range p.inboxes {
		p.wg.Add(1)
		go p.runSymbol(ctx, symbol, ch)
	}
	p.wg.Wait()
}

func (p *Pipeline) runSymbol(ctx context.Context, symbol string, inbox <-chan domain.Event) {
	defer p.wg.Done()
	p.logger.Info("pipeline started", slog.String("symbol", symbol))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", slog.String("symbol", symbol))
			return
		case ev := <-inbox:
			p.process(ev)
		}
	}
}

// process consumes one event. The pipeline owns submitted events from here
// on; pooled events go back to the pool once normalization copied them out.
func (p *Pipeline) process(ev domain.Event) {
	start := time.Now()

	switch e := ev.(type) {
	case *domain.Trade:
		p.processTrade(e, start)
	case *domain.OrderBookUpdate:
		p.processOrderBook(e, start)
	default:
		p.logger.Warn("unknown event kind", slog.Any("kind", ev.Kind()))
		return
	}
	event.Release(ev)
}

func (p *Pipeline) processTrade(t *domain.Trade, start time.Time) {
	res := p.opts.Validator.ValidateTrade(t)
	if !res.OK {
		p.logger.Debug("trade dropped",
			slog.String("reason", string(res.Reason)), slog.String("detail", res.Message))
		return
	}

	window := p.opts.Store.TradesRange(t.Symbol, t.Timestamp-p.opts.VWAPWindow.Milliseconds(), t.Timestamp)
	nt := p.opts.Normalizer.NormalizeTrade(t, window, res.OutOfOrder)

	p.opts.Store.AppendTrade(nt)
	st := p.opts.Aggregator.UpdateFromTrade(nt)

	if nt.IsLargeTrade {
		infra.GlobalMetrics.RecordLargeTrade()
		p.logger.Info("large trade",
			slog.String("symbol", nt.Symbol),
			slog.String("side", nt.Side),
			slog.String("amount_usdt", nt.AmountUSDT.StringFixed(0)),
			slog.String("price", nt.Price.String()))
		if p.opts.Archive != nil {
			if err := p.opts.Archive.SaveLargeTrade(nt); err != nil {
				p.logger.Warn("archive write failed", slog.Any("error", err))
			}
		}
	}

	if p.opts.OnStateUpdate != nil {
		p.opts.OnStateUpdate(domain.KindTrade, st)
	}

	infra.GlobalMetrics.RecordTrade(time.Since(start).Nanoseconds())

	p.mu.Lock()
	p.processedTrades++
	n := p.processedTrades
	p.mu.Unlock()
	if n%statsLogEvery == 0 {
		p.logStats(nt.Symbol)
	}
}

func (p *Pipeline) processOrderBook(ob *domain.OrderBookUpdate, start time.Time) {
	res := p.opts.Validator.ValidateOrderBook(ob)
	if !res.OK {
		p.logger.Debug("orderbook dropped",
			slog.String("reason", string(res.Reason)), slog.String("detail", res.Message))
		return
	}

	nob := p.opts.Normalizer.NormalizeOrderBook(ob, res.OutOfOrder)
	p.opts.Store.AppendOrderBook(nob)
	st := p.opts.Aggregator.UpdateFromOrderBook(nob)

	if p.opts.OnStateUpdate != nil {
		p.opts.OnStateUpdate(domain.KindOrderBook, st)
	}

	infra.GlobalMetrics.RecordOrderBook(time.Since(start).Nanoseconds())

	p.mu.Lock()
	p.processedBooks++
	p.mu.Unlock()
}

func (p *Pipeline) logStats(symbol string) {
	p.mu.Lock()
	trades, books, dropped := p.processedTrades, p.processedBooks, p.droppedEvents
	p.mu.Unlock()

	vs := p.opts.Validator.Stats()
	p.logger.Info("pipeline stats",
		slog.String("symbol", symbol),
		slog.Int64("trades", trades),
		slog.Int64("orderbooks", books),
		slog.Int64("inbox_dropped", dropped),
		slog.Int64("validation_errors", vs.TotalErrors))
}

// PipelineStats is a copy of the processing counters.
type PipelineStats struct {
	ProcessedTrades int64 `json:"processed_trades"`
	ProcessedBooks  int64 `json:"processed_orderbooks"`
	DroppedEvents   int64 `json:"inbox_dropped"`
}

// Stats returns the running counters.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PipelineStats{
		ProcessedTrades: p.processedTrades,
		ProcessedBooks:  p.processedBooks,
		DroppedEvents:   p.droppedEvents,
	}
}

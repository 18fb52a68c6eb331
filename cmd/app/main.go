package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"marketpipe/internal/app"
	"marketpipe/internal/domain"
	"marketpipe/internal/event"
	"marketpipe/internal/infra"
	"marketpipe/internal/infra/binance"
	"marketpipe/internal/pipeline"
	"marketpipe/internal/recon"
	"marketpipe/internal/signal"
	"marketpipe/internal/state"
	"marketpipe/internal/store"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize("configs/config.yaml"); err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config

	// 3. Graceful Shutdown Context
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	event.Warmup()

	// 4. Core: store, aggregator, pipeline
	hot := store.New(cfg.Store.MaxTrades, cfg.Store.MaxOrderBooks, cfg.StoreTTL())
	aggregator := state.NewAggregator(hot, time.Duration(cfg.Signal.PriceSpikeWindowSec)*time.Second)

	validator := pipeline.NewValidator(cfg.Feed.Symbols, cfg.Pipeline.DuplicateWindow, cfg.Pipeline.OutOfOrderToleranceMS)
	normalizer := pipeline.NewNormalizer(
		cfg.Pipeline.LargeTradeThresholdUSDT,
		cfg.Pipeline.OrderBookDepth,
		time.Duration(cfg.Pipeline.VWAPWindowSec)*time.Second,
	)

	// 5. Reconciliation engine over the pull source
	pullClient := binance.NewClient(cfg.PullSource.RestURL)
	reconEngine := recon.NewEngine(pullClient, aggregator, recon.Config{
		WarnThreshold:       cfg.Reconciliation.WarnThreshold,
		RejectThreshold:     cfg.Reconciliation.RejectThreshold,
		AuditInterval:       cfg.AuditInterval(),
		MaxStaleness:        cfg.MaxStaleness(),
		MismatchRateCeiling: cfg.Reconciliation.MismatchRateCeiling,
		MinChecks:           cfg.Reconciliation.MinChecks,
		BackoffBase:         time.Duration(cfg.Reconciliation.BackoffBaseSec) * time.Second,
		BackoffMax:          time.Duration(cfg.Reconciliation.BackoffMaxSec) * time.Second,
		FetchTimeout:        cfg.PullTimeout(),
		MaxConcurrent:       cfg.PullSource.MaxConcurrent,
	}, bootstrap.ArchiveRepo(), func(symbol string, cond domain.Condition, rec domain.ReconciliationRecord) {
		// The halt decision belongs to the operator; surface it loudly.
		slog.Error("condition raised",
			slog.String("condition", string(cond)),
			slog.String("symbol", symbol),
			slog.String("mismatch_rate", rec.MismatchRate().String()))
	})
	reconEngine.Track(cfg.Feed.Symbols...)

	// 6. Signal engine gated by pre-action verification
	signalEngine := signal.NewEngine(signal.Config{
		SpikeWindow:        time.Duration(cfg.Signal.PriceSpikeWindowSec) * time.Second,
		SpikeThreshold:     cfg.Signal.PriceSpikeThreshold,
		ImbalanceThreshold: cfg.Signal.ImbalanceThreshold,
	}, reconEngine, func(sig signal.Signal) {
		slog.Info("verified signal ready",
			slog.String("symbol", sig.Symbol),
			slog.String("direction", string(sig.Direction)),
			slog.String("price", sig.Price.String()))
	})

	pipe := pipeline.New(pipeline.Options{
		Symbols:    cfg.Feed.Symbols,
		InboxSize:  cfg.Feed.InboxSize,
		Validator:  validator,
		Normalizer: normalizer,
		Store:      hot,
		Aggregator: aggregator,
		Archive:    bootstrap.ArchiveRepo(),
		VWAPWindow: time.Duration(cfg.Pipeline.VWAPWindowSec) * time.Second,
		OnStateUpdate: func(kind domain.EventKind, st domain.MarketState) {
			if kind == domain.KindTrade {
				signalEngine.OnStateUpdate(ctx, st)
			}
		},
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pipe.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		reconEngine.Run(ctx)
	}()

	// 7. Feed worker (push ingress)
	worker := binance.NewWorker(cfg.Feed.WSURL, cfg.Feed.Symbols, cfg.Feed.Streams, pipe.Submit)
	if err := worker.Connect(ctx); err != nil {
		slog.Error("failed to start feed worker", slog.Any("error", err))
	}
	defer worker.Disconnect()

	slog.InfoContext(ctx, "marketpipe operational",
		slog.Any("symbols", cfg.Feed.Symbols),
		slog.Duration("audit_interval", cfg.AuditInterval()))

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down gracefully...")
	wg.Wait()
	signalEngine.Wait()

	snap := infra.GlobalMetrics.Snapshot()
	slog.Info("final stats",
		slog.Uint64("events_validated", snap.EventsValidated),
		slog.Uint64("trades", snap.TradesProcessed),
		slog.Uint64("orderbooks", snap.BooksProcessed),
		slog.Uint64("duplicates_dropped", snap.DuplicateDropped),
		slog.Uint64("malformed_dropped", snap.MalformedDropped),
		slog.Uint64("out_of_order", snap.OutOfOrderSeen),
		slog.Uint64("recon_checks", snap.ReconChecks),
		slog.Uint64("recon_mismatches", snap.ReconMismatches))
}

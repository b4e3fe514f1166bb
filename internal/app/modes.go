package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predindexer/internal/chain"
	"github.com/alanyoungcy/predindexer/internal/domain"
	"github.com/alanyoungcy/predindexer/internal/indexer"
	"github.com/alanyoungcy/predindexer/internal/pipeline"
	"github.com/alanyoungcy/predindexer/internal/server"
	"github.com/alanyoungcy/predindexer/internal/server/handler"
	"github.com/alanyoungcy/predindexer/internal/server/ws"
	"github.com/alanyoungcy/predindexer/internal/service"
	"github.com/alanyoungcy/predindexer/internal/store/memory"
)

// shutdownGrace is how long in-flight HTTP requests get to finish.
const shutdownGrace = 10 * time.Second

// IndexMode runs the ingestion pipeline only: chain poller, event processor,
// and (when enabled) the raw event archiver.
func (a *App) IndexMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting index mode")

	orch, err := a.buildPipeline(ctx, deps)
	if err != nil {
		return err
	}
	return orch.Run(ctx)
}

// ServeMode runs the HTTP/WebSocket API over already-derived state without
// ingesting new events.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs ingestion and the API side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	orch, err := a.buildPipeline(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// ReplayMode re-folds the entire raw event mirror into a fresh in-memory
// aggregate set and compares the result against the persisted derived state.
// The fold is deterministic, so any divergence indicates corrupted aggregates.
// When blob archiving is configured, archived rows are folded first so history
// pruned from the database still participates; rows present in both places
// dedupe through the idempotent mirror.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode")

	mem := memory.New()
	var collected indexer.CollectSink
	applier := indexer.New(mem, indexer.MultiSink{
		indexer.NewSlogSink(a.logger),
		&collected,
	}, a.logger)

	restored, err := a.foldArchives(ctx, deps.Restorer, applier)
	if err != nil {
		return err
	}
	if restored > 0 {
		a.logger.InfoContext(ctx, "archived events folded", slog.Int("events_applied", restored))
	}

	replayer := indexer.NewReplayer(deps.RawEventStore, applier, 1000, a.logger)
	applied, err := replayer.Run(ctx)
	if err != nil {
		return err
	}
	applied += restored

	replayMarkets := int64(len(mem.Markets()))
	replayUsers := int64(len(mem.Users()))

	storedMarkets, err := deps.MarketStore.Count(ctx)
	if err != nil {
		return err
	}
	storedUsers, err := deps.UserStore.Count(ctx)
	if err != nil {
		return err
	}

	if replayMarkets != storedMarkets || replayUsers != storedUsers {
		a.logger.WarnContext(ctx, "replay diverged from stored aggregates",
			slog.Int64("replay_markets", replayMarkets),
			slog.Int64("stored_markets", storedMarkets),
			slog.Int64("replay_users", replayUsers),
			slog.Int64("stored_users", storedUsers),
		)
	} else {
		a.logger.InfoContext(ctx, "replay matches stored aggregates",
			slog.Int64("markets", replayMarkets),
			slog.Int64("users", replayUsers),
		)
	}

	a.logger.InfoContext(ctx, "replay finished",
		slog.Int("events_applied", applied),
		slog.Int("diagnostics", len(collected.Diags)),
	)
	return nil
}

// foldArchives replays archived JSONL objects, oldest cutoff first, into the
// applier. Event-scoped faults are skipped the same way the live replayer
// skips them; a nil restorer (archiving disabled) folds nothing.
func (a *App) foldArchives(ctx context.Context, restorer domain.ArchiveRestorer, applier *indexer.Applier) (int, error) {
	if restorer == nil {
		return 0, nil
	}

	paths, err := restorer.ListArchives(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, path := range paths {
		rows, err := restorer.ReadArchive(ctx, path)
		if err != nil {
			return applied, err
		}
		for _, row := range rows {
			ev, err := row.Event()
			if err != nil {
				a.logger.WarnContext(ctx, "skipping undecodable archived event",
					slog.String("archive", path),
					slog.String("cursor", row.Cursor().String()),
					slog.Any("error", err),
				)
				continue
			}
			if err := applier.Apply(ctx, ev); err != nil {
				if indexer.EventFault(err) {
					continue
				}
				return applied, err
			}
			applied++
		}
	}
	return applied, nil
}

// buildApplier assembles the event applier with every configured diagnostic
// sink attached.
func (a *App) buildApplier(deps *Dependencies) *indexer.Applier {
	sinks := indexer.MultiSink{indexer.NewSlogSink(a.logger)}
	if deps.SignalBus != nil {
		sinks = append(sinks, pipeline.NewBusSink(deps.SignalBus, a.logger))
	}
	if deps.Notifier != nil {
		sinks = append(sinks, pipeline.NewNotifySink(deps.Notifier))
	}
	return indexer.New(deps.AggregateStore, sinks, a.logger)
}

// buildPipeline wires the chain poller, processor, and optional archiver into
// an orchestrator ready to run.
func (a *App) buildPipeline(ctx context.Context, deps *Dependencies) (*pipeline.Orchestrator, error) {
	backend, err := chain.Dial(ctx, a.cfg.Chain.RPCURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, backend.Close)

	decoder, err := chain.NewDecoder()
	if err != nil {
		return nil, err
	}

	poller := chain.NewPoller(backend, decoder, deps.CheckpointStore, chain.PollerConfig{
		Contract:      a.cfg.Chain.Contract,
		StartBlock:    a.cfg.Chain.StartBlock,
		Confirmations: a.cfg.Chain.Confirmations,
		PollInterval:  a.cfg.Chain.PollInterval.Duration,
		MaxBlockSpan:  a.cfg.Chain.MaxBlockSpan,
	}, a.logger)

	processor := pipeline.NewProcessor(
		a.buildApplier(deps),
		deps.CheckpointStore,
		deps.SignalBus,
		deps.MarketCache,
		a.logger,
	)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(
			deps.Archiver,
			deps.CheckpointStore,
			a.cfg.Ingest.ArchiveRetentionBlocks,
			a.logger,
		)
	}

	return pipeline.NewOrchestrator(poller, processor, archiver, a.cfg.Ingest.ArchiveCron, a.logger), nil
}

// startHTTPServer registers the API server (and WebSocket hub when a signal
// bus is available) on the errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()

	marketSvc := service.NewMarketService(deps.MarketStore, deps.MarketCache, a.logger)

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, a.logger),
		Markets: handler.NewMarketHandler(marketSvc, a.logger),
		Users:   handler.NewUserHandler(deps.UserStore, a.logger),
		Orders:  handler.NewOrderHandler(deps.OrderStore, a.logger),
		Events:  handler.NewEventHandler(deps.RawEventStore, a.logger),
		Status: handler.NewStatusHandler(
			deps.CheckpointStore,
			deps.MarketStore,
			deps.UserStore,
			deps.RawEventStore,
			startedAt,
			a.logger,
		),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		handlers.Diagnostics = handler.NewDiagnosticHandler(
			deps.SignalBus,
			pipeline.DiagnosticStream,
			a.logger,
		)
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: startedAt,
		})
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predindexer/internal/chain"
	"github.com/alanyoungcy/predindexer/internal/domain"
)

// eventBuffer is the depth of the poller-to-processor channel. The processor
// is strictly sequential, so the buffer only smooths bursts within one poll
// cycle.
const eventBuffer = 256

// Orchestrator manages the indexing goroutines: the chain poller, the fold
// processor, and the cold-storage archiver.
type Orchestrator struct {
	poller      *chain.Poller
	processor   *Processor
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. archiver may be nil when cold
// storage is not configured.
func NewOrchestrator(poller *chain.Poller, processor *Processor, archiver *Archiver, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		poller:      poller,
		processor:   processor,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger,
	}
}

// Run starts all loops as concurrent goroutines using an errgroup. Each
// goroutine respects ctx cancellation. If any goroutine returns a non-context
// error, the errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting")

	g, ctx := errgroup.WithContext(ctx)
	events := make(chan domain.Event, eventBuffer)

	g.Go(func() error {
		o.logger.Info("starting chain poller")
		err := o.poller.Run(ctx, events)
		close(events)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("poller: %w", err)
	})

	g.Go(func() error {
		o.logger.Info("starting event processor")
		err := o.processor.Run(ctx, events)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("processor: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archiver cron")
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// EventFault reports whether an apply error is scoped to the single event
// (reject and continue) rather than infrastructural (stop the stream). The
// log is immutable and ordered, so retrying an event-scoped fault would
// yield the same outcome.
func EventFault(err error) bool {
	return errors.Is(err, domain.ErrInvalidPayload) ||
		errors.Is(err, domain.ErrUnknownEvent) ||
		errors.Is(err, domain.ErrOutcomeRange) ||
		errors.Is(err, domain.ErrConflict)
}

// Replayer re-folds aggregates from the raw mirror table. Because the fold
// is deterministic and every accumulator is watermarked, replaying into a
// fresh aggregate set reproduces the exact state the live fold built, which
// makes it the recovery and verification path.
type Replayer struct {
	source    domain.RawEventStore
	applier   *Applier
	batchSize int
	logger    *slog.Logger
}

// NewReplayer creates a Replayer reading from source and folding through
// applier in pages of batchSize rows.
func NewReplayer(source domain.RawEventStore, applier *Applier, batchSize int, logger *slog.Logger) *Replayer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Replayer{
		source:    source,
		applier:   applier,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "replayer")),
	}
}

// Run replays the whole raw table in log order and returns the number of
// events applied. Event-scoped faults are skipped (their diagnostics have
// already been emitted by the applier); any other error aborts.
func (r *Replayer) Run(ctx context.Context) (int, error) {
	var (
		after   domain.Cursor
		applied int
	)
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		rows, err := r.source.ListAfter(ctx, after, r.batchSize)
		if err != nil {
			return applied, fmt.Errorf("replay: list raw events after %s: %w", after, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			ev, err := row.Event()
			if err != nil {
				r.logger.ErrorContext(ctx, "replay: undecodable raw event, skipping",
					slog.String("cursor", row.Cursor().String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := r.applier.Apply(ctx, ev); err != nil {
				if EventFault(err) {
					continue
				}
				return applied, fmt.Errorf("replay: apply %s at %s: %w", ev.Kind, ev.Cursor(), err)
			}
			applied++
		}
		after = rows[len(rows)-1].Cursor()
	}

	r.logger.InfoContext(ctx, "replay complete", slog.Int("events_applied", applied))
	return applied, nil
}

// Package pipeline wires ingestion, the event fold, archival, and fan-out
// into long-running loops.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predindexer/internal/domain"
	"github.com/alanyoungcy/predindexer/internal/indexer"
	"github.com/alanyoungcy/predindexer/internal/notify"
)

// Bus channel and stream names.
const (
	EventChannel      = "predindexer:events"      // pub/sub, one message per applied event
	DiagnosticStream  = "predindexer:diagnostics" // durable stream of warnings and fatals
	DiagnosticChannel = "predindexer:diagnostics" // pub/sub fan-out of the same
)

// Processor drains the poller's event channel through the fold, advances the
// ingest checkpoint, and fans applied events out to the signal bus.
//
// The checkpoint advances past event-scoped faults too: the log is immutable,
// so a rejected event would be rejected identically on every retry and must
// not wedge ingestion.
type Processor struct {
	applier     *indexer.Applier
	checkpoints domain.CheckpointStore
	bus         domain.SignalBus   // optional
	cache       domain.MarketCache // optional
	logger      *slog.Logger
}

// NewProcessor creates a Processor. bus and cache may be nil.
func NewProcessor(applier *indexer.Applier, checkpoints domain.CheckpointStore, bus domain.SignalBus, cache domain.MarketCache, logger *slog.Logger) *Processor {
	return &Processor{
		applier:     applier,
		checkpoints: checkpoints,
		bus:         bus,
		cache:       cache,
		logger:      logger.With(slog.String("component", "processor")),
	}
}

// Run consumes events until ctx is cancelled or in is closed.
func (p *Processor) Run(ctx context.Context, in <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if err := p.process(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (p *Processor) process(ctx context.Context, ev domain.Event) error {
	if err := p.applier.Apply(ctx, ev); err != nil {
		if !indexer.EventFault(err) {
			return fmt.Errorf("pipeline: apply %s at %s: %w", ev.Kind, ev.Cursor(), err)
		}
		p.logger.WarnContext(ctx, "event rejected, advancing past it",
			slog.String("kind", string(ev.Kind)),
			slog.String("cursor", ev.Cursor().String()),
			slog.String("error", err.Error()),
		)
	} else {
		p.fanOut(ctx, ev)
	}

	if err := p.checkpoints.Put(ctx, ev.Cursor()); err != nil {
		return fmt.Errorf("pipeline: checkpoint %s: %w", ev.Cursor(), err)
	}
	return nil
}

// fanOut publishes the applied event and invalidates the cached snapshot of
// the market it touched. Both are best-effort; a bus or cache hiccup must not
// stall ingestion.
func (p *Processor) fanOut(ctx context.Context, ev domain.Event) {
	if p.cache != nil {
		if id := marketIDOf(ev.Payload); id != "" {
			if err := p.cache.Invalidate(ctx, id); err != nil {
				p.logger.WarnContext(ctx, "cache invalidate failed",
					slog.String("market_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if p.bus == nil {
		return
	}
	raw, err := domain.NewRawEvent(ev)
	if err != nil {
		return
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, EventChannel, payload); err != nil {
		p.logger.WarnContext(ctx, "event publish failed", slog.String("error", err.Error()))
	}
}

// marketIDOf returns the market an event's transition touches, or "" for
// kinds that touch no market.
func marketIDOf(p domain.Payload) string {
	switch v := p.(type) {
	case domain.BetPlacedPayload:
		return v.MarketID
	case domain.MarketCreatedPayload:
		return v.MarketID
	case domain.MarketSettledPayload:
		return v.MarketID
	case domain.SwapPayload:
		return v.MarketID
	default:
		return ""
	}
}

// BusSink is a diagnostic sink that records every diagnostic on the signal
// bus: appended to a durable stream for later inspection and published for
// live subscribers.
type BusSink struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewBusSink creates a BusSink.
func NewBusSink(bus domain.SignalBus, logger *slog.Logger) *BusSink {
	return &BusSink{bus: bus, logger: logger.With(slog.String("component", "diag_bus"))}
}

// Emit implements domain.DiagnosticSink.
func (s *BusSink) Emit(ctx context.Context, d domain.Diagnostic) {
	payload, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := s.bus.StreamAppend(ctx, DiagnosticStream, payload); err != nil {
		s.logger.WarnContext(ctx, "diagnostic stream append failed", slog.String("error", err.Error()))
	}
	if err := s.bus.Publish(ctx, DiagnosticChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "diagnostic publish failed", slog.String("error", err.Error()))
	}
}

// NotifySink forwards fatal diagnostics to the operator notifier. Warnings
// are routine (missing referents on a fresh index) and stay in the log.
type NotifySink struct {
	notifier *notify.Notifier
}

// NewNotifySink creates a NotifySink.
func NewNotifySink(notifier *notify.Notifier) *NotifySink {
	return &NotifySink{notifier: notifier}
}

// Emit implements domain.DiagnosticSink.
func (s *NotifySink) Emit(ctx context.Context, d domain.Diagnostic) {
	if d.Severity != domain.SeverityFatal {
		return
	}
	title := fmt.Sprintf("indexer fault: %s", d.Code)
	msg := fmt.Sprintf("%s event at %s (tx %s): %s", d.Kind, d.Cursor, d.TxHash, d.Message)
	_ = s.notifier.Notify(ctx, "diagnostic.fatal", title, msg)
}

var _ domain.DiagnosticSink = (*BusSink)(nil)
var _ domain.DiagnosticSink = (*NotifySink)(nil)

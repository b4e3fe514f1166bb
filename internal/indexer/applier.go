// Package indexer implements the event fold: it dispatches each contract
// event to its transition function and maintains the derived Market, User,
// and Order aggregates. Processing is strictly sequential; every event runs
// inside one all-or-nothing store transaction.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// Applier folds events into the aggregate store.
type Applier struct {
	store  domain.AggregateStore
	diags  domain.DiagnosticSink
	logger *slog.Logger
}

// New creates an Applier. The sink receives every warning and fatal
// diagnostic; pass a NopSink if diagnostics are not wanted.
func New(store domain.AggregateStore, diags domain.DiagnosticSink, logger *slog.Logger) *Applier {
	return &Applier{
		store:  store,
		diags:  diags,
		logger: logger.With(slog.String("component", "applier")),
	}
}

// Apply validates and folds a single event. A returned error means this
// event's transition was rejected and nothing was committed; the caller
// decides whether the fault is event-scoped (skip and continue) or
// infrastructural (stop the stream). Duplicate deliveries commit their
// byte-identical mirror row and skip every aggregate mutation via the
// per-aggregate watermarks.
func (a *Applier) Apply(ctx context.Context, ev domain.Event) error {
	if err := ev.Validate(); err != nil {
		a.fatal(ctx, ev, domain.DiagBadPayload, err.Error())
		return err
	}

	err := a.store.InTx(ctx, func(tx domain.Tx) error {
		raw, err := domain.NewRawEvent(ev)
		if err != nil {
			return err
		}
		if err := tx.AppendRaw(ctx, raw); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				a.fatal(ctx, ev, domain.DiagReplayConflict,
					fmt.Sprintf("replayed event at %s differs from stored content", ev.Cursor()))
			}
			return err
		}
		return a.dispatch(ctx, tx, ev)
	})
	if err != nil {
		return err
	}

	a.logger.DebugContext(ctx, "event applied",
		slog.String("kind", string(ev.Kind)),
		slog.String("cursor", ev.Cursor().String()),
		slog.String("tx_hash", ev.TxHash),
	)
	return nil
}

// dispatch routes the event to the transition function for its kind. The
// payload union is closed; anything else is rejected with a fatal diagnostic.
func (a *Applier) dispatch(ctx context.Context, tx domain.Tx, ev domain.Event) error {
	switch p := ev.Payload.(type) {
	case domain.MarketCreatedPayload:
		return a.applyMarketCreated(ctx, tx, ev, p)
	case domain.BetPlacedPayload:
		return a.applyBetPlaced(ctx, tx, ev, p)
	case domain.OrderPlacedPayload:
		return a.applyOrderPlaced(ctx, tx, ev, p)
	case domain.OrderMatchedPayload:
		return a.applyOrderMatched(ctx, tx, ev, p)
	case domain.OrderCancelledPayload:
		return a.applyOrderCancelled(ctx, tx, ev, p)
	case domain.MarketSettledPayload:
		return a.applyMarketSettled(ctx, tx, ev, p)
	case domain.RewardClaimedPayload:
		return a.applyRewardClaimed(ctx, tx, ev, p)
	case domain.SwapPayload:
		return a.applySwap(ctx, tx, ev, p)
	case domain.FeesWithdrawnPayload, domain.LogPayload, domain.OwnershipTransferredPayload:
		// Mirror-only kinds: the raw row appended above is the whole fold.
		return nil
	default:
		a.fatal(ctx, ev, domain.DiagUnknownKind, fmt.Sprintf("no transition for kind %q", ev.Kind))
		return fmt.Errorf("%w: %q at %s", domain.ErrUnknownEvent, ev.Kind, ev.Cursor())
	}
}

// loadOrCreateUser returns the existing user for address, or a zeroed record
// if none exists yet. Creation is lazy and idempotent: repeated references
// to the same address always load the stored record.
func loadOrCreateUser(ctx context.Context, tx domain.Tx, address string) (domain.User, error) {
	u, err := tx.GetUser(ctx, address)
	if err == nil {
		return u, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewUser(address), nil
	}
	return domain.User{}, err
}

func (a *Applier) warn(ctx context.Context, ev domain.Event, code, msg string) {
	a.emit(ctx, ev, domain.SeverityWarn, code, msg)
}

func (a *Applier) fatal(ctx context.Context, ev domain.Event, code, msg string) {
	a.emit(ctx, ev, domain.SeverityFatal, code, msg)
}

func (a *Applier) emit(ctx context.Context, ev domain.Event, sev domain.Severity, code, msg string) {
	a.diags.Emit(ctx, domain.Diagnostic{
		ID:       uuid.NewString(),
		Severity: sev,
		Code:     code,
		Kind:     ev.Kind,
		Cursor:   ev.Cursor(),
		TxHash:   ev.TxHash,
		Message:  msg,
	})
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/predindexer/internal/domain"
	"github.com/alanyoungcy/predindexer/internal/indexer"
	"github.com/alanyoungcy/predindexer/internal/store/memory"
)

type fakeCheckpoints struct {
	cursor *domain.Cursor
}

func (f *fakeCheckpoints) Get(context.Context) (domain.Cursor, error) {
	if f.cursor == nil {
		return domain.Cursor{}, domain.ErrNotFound
	}
	return *f.cursor, nil
}

func (f *fakeCheckpoints) Put(_ context.Context, c domain.Cursor) error {
	f.cursor = &c
	return nil
}

type fakeBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamRead(_ context.Context, stream string, _ string, _ int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for i, p := range b.streamed[stream] {
		out = append(out, domain.StreamMessage{ID: string(rune('a' + i)), Payload: p})
	}
	return out, nil
}

var _ domain.SignalBus = (*fakeBus)(nil)

func newTestProcessor(t *testing.T, bus domain.SignalBus) (*Processor, *memory.Store, *fakeCheckpoints) {
	t.Helper()
	store := memory.New()
	logger := slog.New(slog.DiscardHandler)
	applier := indexer.New(store, indexer.NopSink{}, logger)
	cps := &fakeCheckpoints{}
	return NewProcessor(applier, cps, bus, nil, logger), store, cps
}

func testEvent(kind domain.EventKind, block uint64, logIndex uint, txHash string, p domain.Payload) domain.Event {
	return domain.Event{
		Kind:      kind,
		Block:     block,
		BlockTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		TxHash:    txHash,
		LogIndex:  logIndex,
		Payload:   p,
	}
}

func TestProcessorAdvancesCheckpointPastEventFaults(t *testing.T) {
	proc, store, cps := newTestProcessor(t, nil)
	ctx := context.Background()

	in := make(chan domain.Event, 3)
	in <- testEvent(domain.KindMarketCreated, 10, 0, "0xaaa", domain.MarketCreatedPayload{
		MarketID: "7", EventID: big.NewInt(3),
	})
	// Outcome 4 does not exist on the fresh market; the swap is rejected as
	// an event-scoped fault but must not stop the stream.
	in <- testEvent(domain.KindSwap, 11, 0, "0xbbb", domain.SwapPayload{
		MarketID: "7", Outcome: 4, AmountIn: big.NewInt(1), AmountOut: big.NewInt(1), Trader: "0xa2",
	})
	in <- testEvent(domain.KindBetPlaced, 12, 0, "0xccc", domain.BetPlacedPayload{
		User: "0xa1", MarketID: "7", Outcome: 0, Shares: big.NewInt(2), Price: big.NewInt(3),
	})
	close(in)

	if err := proc.Run(ctx, in); err != nil {
		t.Fatalf("run: %v", err)
	}

	// The checkpoint covers the rejected event too.
	if cps.cursor == nil || *cps.cursor != (domain.Cursor{Block: 12, LogIndex: 0}) {
		t.Errorf("checkpoint = %v, want 12/0", cps.cursor)
	}

	m, err := store.GetMarket(ctx, "7")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.TotalLocked.Cmp(big.NewInt(6)) != 0 {
		t.Errorf("total locked = %s, want 6 (bet past the fault applied)", m.TotalLocked)
	}
}

func TestProcessorPublishesAppliedEvents(t *testing.T) {
	bus := newFakeBus()
	proc, _, _ := newTestProcessor(t, bus)

	in := make(chan domain.Event, 1)
	in <- testEvent(domain.KindMarketCreated, 10, 0, "0xaaa", domain.MarketCreatedPayload{
		MarketID: "7", EventID: big.NewInt(3),
	})
	close(in)

	if err := proc.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}

	msgs := bus.published[EventChannel]
	if len(msgs) != 1 {
		t.Fatalf("published = %d messages, want 1", len(msgs))
	}
	var raw domain.RawEvent
	if err := json.Unmarshal(msgs[0], &raw); err != nil {
		t.Fatalf("decode published event: %v", err)
	}
	if raw.Kind != domain.KindMarketCreated || raw.Block != 10 {
		t.Errorf("published event = %s at block %d, want MarketCreated at 10", raw.Kind, raw.Block)
	}
}

func TestProcessorSkipsReplayConflicts(t *testing.T) {
	proc, store, cps := newTestProcessor(t, nil)
	ctx := context.Background()

	in := make(chan domain.Event, 3)
	in <- testEvent(domain.KindMarketCreated, 10, 0, "0xaaa", domain.MarketCreatedPayload{
		MarketID: "7", EventID: big.NewInt(3),
	})
	// Same key and kind, divergent payload: the conflict is deterministic,
	// so the processor skips it rather than retrying forever.
	in <- testEvent(domain.KindMarketCreated, 10, 0, "0xaaa", domain.MarketCreatedPayload{
		MarketID: "8", EventID: big.NewInt(3),
	})
	in <- testEvent(domain.KindBetPlaced, 11, 0, "0xbbb", domain.BetPlacedPayload{
		User: "0xa1", MarketID: "7", Outcome: 0, Shares: big.NewInt(2), Price: big.NewInt(3),
	})
	close(in)

	if err := proc.Run(ctx, in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if cps.cursor == nil || *cps.cursor != (domain.Cursor{Block: 11, LogIndex: 0}) {
		t.Errorf("checkpoint = %v, want 11/0", cps.cursor)
	}
	// The conflicting create never replaced the original.
	m, err := store.GetMarket(ctx, "7")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.TotalLocked.Cmp(big.NewInt(6)) != 0 {
		t.Errorf("total locked = %s, want 6", m.TotalLocked)
	}
	if _, err := store.GetMarket(ctx, "8"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("conflicting market visible: err = %v", err)
	}
}

type failingCheckpoints struct{ err error }

func (f *failingCheckpoints) Get(context.Context) (domain.Cursor, error) {
	return domain.Cursor{}, domain.ErrNotFound
}

func (f *failingCheckpoints) Put(context.Context, domain.Cursor) error { return f.err }

func TestProcessorStopsOnInfrastructuralError(t *testing.T) {
	store := memory.New()
	logger := slog.New(slog.DiscardHandler)
	applier := indexer.New(store, indexer.NopSink{}, logger)
	boom := errors.New("disk full")
	proc := NewProcessor(applier, &failingCheckpoints{err: boom}, nil, nil, logger)

	in := make(chan domain.Event, 1)
	in <- testEvent(domain.KindMarketCreated, 10, 0, "0xaaa", domain.MarketCreatedPayload{
		MarketID: "7", EventID: big.NewInt(3),
	})
	close(in)

	if err := proc.Run(context.Background(), in); !errors.Is(err, boom) {
		t.Errorf("run err = %v, want checkpoint failure", err)
	}
}

func TestBusSinkRecordsDiagnostics(t *testing.T) {
	bus := newFakeBus()
	sink := NewBusSink(bus, slog.New(slog.DiscardHandler))

	d := domain.Diagnostic{
		ID:       "d-1",
		Severity: domain.SeverityWarn,
		Code:     domain.DiagMarketNotFound,
		Kind:     domain.KindBetPlaced,
		Cursor:   domain.Cursor{Block: 5, LogIndex: 1},
		TxHash:   "0x01",
		Message:  "market 404 not found for bet",
	}
	sink.Emit(context.Background(), d)

	if len(bus.streamed[DiagnosticStream]) != 1 {
		t.Errorf("stream appends = %d, want 1", len(bus.streamed[DiagnosticStream]))
	}
	if len(bus.published[DiagnosticChannel]) != 1 {
		t.Errorf("publishes = %d, want 1", len(bus.published[DiagnosticChannel]))
	}
	var got domain.Diagnostic
	if err := json.Unmarshal(bus.streamed[DiagnosticStream][0], &got); err != nil {
		t.Fatalf("decode diagnostic: %v", err)
	}
	if got.Code != domain.DiagMarketNotFound || got.Cursor != d.Cursor {
		t.Errorf("streamed diagnostic = %+v", got)
	}
}

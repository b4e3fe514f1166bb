package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// streamBus serves stream reads from an in-memory slice; the other bus
// methods are not exercised by the handler.
type streamBus struct {
	entries []domain.StreamMessage
	err     error
}

func (b *streamBus) Publish(context.Context, string, []byte) error { return nil }

func (b *streamBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *streamBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *streamBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	if b.err != nil {
		return nil, b.err
	}
	start := 0
	if lastID != "" && lastID != "0" {
		for i, e := range b.entries {
			if e.ID == lastID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+count, len(b.entries))
	return b.entries[start:end], nil
}

var _ domain.SignalBus = (*streamBus)(nil)

func diagEntry(t *testing.T, id string, code string) domain.StreamMessage {
	t.Helper()
	payload, err := json.Marshal(domain.Diagnostic{
		ID:       "d-" + id,
		Severity: domain.SeverityWarn,
		Code:     code,
		Kind:     domain.KindBetPlaced,
		Cursor:   domain.Cursor{Block: 10},
		TxHash:   "0xabc",
		Message:  "market 7 not found",
	})
	if err != nil {
		t.Fatalf("marshal diagnostic: %v", err)
	}
	return domain.StreamMessage{ID: id, Payload: payload}
}

func listDiagnostics(t *testing.T, bus domain.SignalBus, query string) (listDiagnosticsResponse, int) {
	t.Helper()
	h := NewDiagnosticHandler(bus, "predindexer:diagnostics", slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/diagnostics"+query, nil)
	rec := httptest.NewRecorder()
	h.ListDiagnostics(rec, req)

	var resp listDiagnosticsResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, rec.Code
}

func TestListDiagnostics(t *testing.T) {
	bus := &streamBus{entries: []domain.StreamMessage{
		diagEntry(t, "1-0", domain.DiagMarketNotFound),
		diagEntry(t, "2-0", domain.DiagOrderNotFound),
	}}

	resp, code := listDiagnostics(t, bus, "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Diagnostics) != 2 {
		t.Fatalf("got %d diagnostics, want 2", len(resp.Diagnostics))
	}
	if resp.Diagnostics[0].StreamID != "1-0" {
		t.Errorf("first stream id = %s, want 1-0", resp.Diagnostics[0].StreamID)
	}
	if resp.Diagnostics[0].Diagnostic.Code != domain.DiagMarketNotFound {
		t.Errorf("first code = %s, want %s", resp.Diagnostics[0].Diagnostic.Code, domain.DiagMarketNotFound)
	}
	if resp.Next != "" {
		t.Errorf("next = %q on a short page, want empty", resp.Next)
	}
}

func TestListDiagnosticsPagination(t *testing.T) {
	bus := &streamBus{}
	for i := 1; i <= 5; i++ {
		bus.entries = append(bus.entries, diagEntry(t, strconv.Itoa(i)+"-0", domain.DiagOutcomeRange))
	}

	resp, code := listDiagnostics(t, bus, "?limit=2")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Diagnostics) != 2 || resp.Next != "2-0" {
		t.Fatalf("page 1 = %d entries next %q, want 2 entries next 2-0", len(resp.Diagnostics), resp.Next)
	}

	resp, _ = listDiagnostics(t, bus, "?limit=2&after="+resp.Next)
	if len(resp.Diagnostics) != 2 || resp.Diagnostics[0].StreamID != "3-0" {
		t.Fatalf("page 2 starts at %s with %d entries, want 3-0 with 2",
			resp.Diagnostics[0].StreamID, len(resp.Diagnostics))
	}
}

func TestListDiagnosticsSkipsUndecodableEntries(t *testing.T) {
	bus := &streamBus{entries: []domain.StreamMessage{
		diagEntry(t, "1-0", domain.DiagBadPayload),
		{ID: "2-0", Payload: []byte("not json")},
		diagEntry(t, "3-0", domain.DiagReplayConflict),
	}}

	resp, code := listDiagnostics(t, bus, "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Diagnostics) != 2 {
		t.Fatalf("got %d diagnostics, want 2 (corrupt entry skipped)", len(resp.Diagnostics))
	}
	if resp.Diagnostics[1].StreamID != "3-0" {
		t.Errorf("second stream id = %s, want 3-0", resp.Diagnostics[1].StreamID)
	}
}

func TestListDiagnosticsBusError(t *testing.T) {
	bus := &streamBus{err: fmt.Errorf("connection refused")}

	_, code := listDiagnostics(t, bus, "")
	if code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", code)
	}
}

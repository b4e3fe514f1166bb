package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// DiagnosticHandler serves fold diagnostics from the durable signal stream.
// Pub/sub delivery is fire-and-forget; the stream is what lets an operator
// inspect warnings and rejections after the fact.
type DiagnosticHandler struct {
	bus    domain.SignalBus
	stream string
	logger *slog.Logger
}

// NewDiagnosticHandler creates a DiagnosticHandler reading the named stream.
func NewDiagnosticHandler(bus domain.SignalBus, stream string, logger *slog.Logger) *DiagnosticHandler {
	return &DiagnosticHandler{
		bus:    bus,
		stream: stream,
		logger: logger,
	}
}

type diagnosticEntry struct {
	// StreamID is the bus-assigned position; pass it back as after to page.
	StreamID   string            `json:"stream_id"`
	Diagnostic domain.Diagnostic `json:"diagnostic"`
}

type listDiagnosticsResponse struct {
	Diagnostics []diagnosticEntry `json:"diagnostics"`
	// Next is the after value for the following page, present only when this
	// page was full.
	Next string `json:"next,omitempty"`
}

// ListDiagnostics pages through recorded diagnostics in stream order.
// GET /api/diagnostics?after=<stream id>&limit=100
func (h *DiagnosticHandler) ListDiagnostics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	after := q.Get("after")

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list diagnostics failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list diagnostics")
		return
	}

	entries := make([]diagnosticEntry, 0, len(msgs))
	for _, msg := range msgs {
		var d domain.Diagnostic
		if err := json.Unmarshal(msg.Payload, &d); err != nil {
			h.logger.WarnContext(r.Context(), "handler: skipping undecodable diagnostic",
				slog.String("stream_id", msg.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, diagnosticEntry{StreamID: msg.ID, Diagnostic: d})
	}

	resp := listDiagnosticsResponse{Diagnostics: entries}
	if len(msgs) == limit {
		resp.Next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// EventHandler serves the raw event mirror over HTTP.
type EventHandler struct {
	raws   domain.RawEventStore
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler backed by the given store.
func NewEventHandler(raws domain.RawEventStore, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		raws:   raws,
		logger: logger,
	}
}

type listEventsResponse struct {
	Events []domain.RawEvent `json:"events"`
	// Next is the cursor to pass as after_block/after_index for the following
	// page, present only when this page was full.
	Next *domain.Cursor `json:"next,omitempty"`
}

// ListEvents pages through the raw log in order.
// GET /api/events?after_block=0&after_index=0&limit=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var after domain.Cursor
	if v := q.Get("after_block"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_block")
			return
		}
		after.Block = n
	}
	if v := q.Get("after_index"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_index")
			return
		}
		after.LogIndex = uint(n)
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	events, err := h.raws.ListAfter(r.Context(), after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	resp := listEventsResponse{Events: events}
	if len(events) == limit {
		c := events[len(events)-1].Cursor()
		resp.Next = &c
	}
	writeJSON(w, http.StatusOK, resp)
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// StatusHandler reports indexing progress: the ingest checkpoint and the
// sizes of the derived collections.
type StatusHandler struct {
	checkpoints domain.CheckpointStore
	markets     domain.MarketStore
	users       domain.UserStore
	raws        domain.RawEventStore
	startedAt   time.Time
	logger      *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(
	checkpoints domain.CheckpointStore,
	markets domain.MarketStore,
	users domain.UserStore,
	raws domain.RawEventStore,
	startedAt time.Time,
	logger *slog.Logger,
) *StatusHandler {
	return &StatusHandler{
		checkpoints: checkpoints,
		markets:     markets,
		users:       users,
		raws:        raws,
		startedAt:   startedAt,
		logger:      logger,
	}
}

type statusResponse struct {
	Checkpoint    *domain.Cursor `json:"checkpoint,omitempty"`
	Markets       int64          `json:"markets"`
	Users         int64          `json:"users"`
	RawEvents     int64          `json:"raw_events"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}

// GetStatus returns the indexing status snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse

	cp, err := h.checkpoints.Get(r.Context())
	switch {
	case err == nil:
		resp.Checkpoint = &cp
	case errors.Is(err, domain.ErrNotFound):
		// nothing ingested yet
	default:
		h.logger.ErrorContext(r.Context(), "handler: get checkpoint failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read checkpoint")
		return
	}

	if resp.Markets, err = h.markets.Count(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}
	if resp.Users, err = h.users.Count(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count users")
		return
	}
	if resp.RawEvents, err = h.raws.Count(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count raw events")
		return
	}

	resp.UptimeSeconds = int64(time.Since(h.startedAt).Seconds())
	writeJSON(w, http.StatusOK, resp)
}

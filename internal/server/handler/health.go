package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler answers liveness probes. It reports the running mode so an
// operator hitting a bare deployment can tell an API-only instance from one
// that is also ingesting.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler for the given run mode.
func NewHealthHandler(mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Mode      string `json:"mode"`
	UptimeSec int64  `json:"uptime_sec"`
	Timestamp string `json:"timestamp"`
}

// HealthCheck reports liveness. Deep dependency checks live under
// /api/status; this endpoint stays dependency-free so load balancers get an
// answer even when the database is down.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Service:   "predindexer",
		Mode:      h.mode,
		UptimeSec: int64(now.Sub(h.startedAt).Seconds()),
		Timestamp: now.Format(time.RFC3339),
	})
}

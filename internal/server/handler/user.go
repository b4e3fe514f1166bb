package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// UserHandler serves user-related HTTP endpoints.
type UserHandler struct {
	users  domain.UserStore
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler backed by the given store.
func NewUserHandler(users domain.UserStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

type listUsersResponse struct {
	Users  []domain.User `json:"users"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListUsers returns users ordered by traded volume, with pagination.
// GET /api/users?limit=50&offset=0
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	users, err := h.users.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list users failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	total, err := h.users.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count users failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count users")
		return
	}

	writeJSON(w, http.StatusOK, listUsersResponse{
		Users:  users,
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetUser returns a single user by address. Addresses are stored lowercase;
// the lookup is case-insensitive.
// GET /api/users/{address}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(r.PathValue("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing user address")
		return
	}

	user, err := h.users.Get(r.Context(), address)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get user failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

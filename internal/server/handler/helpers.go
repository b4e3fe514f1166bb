package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// Pagination bounds shared by the list endpoints.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// writeJSON encodes v to the response. Encoding failures after the header has
// gone out cannot be reported to the client, so the body is simply truncated.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit and offset from the query string, clamping limit
// to maxListLimit. Unparseable values fall back to the defaults rather than
// erroring, so sloppy dashboard URLs still work.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := defaultListLimit
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, maxListLimit)
	}

	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		offset = n
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

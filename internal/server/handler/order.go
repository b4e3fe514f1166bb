package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// OrderHandler serves order-related HTTP endpoints. Orders are derived
// read-only history; there is no placement or cancellation surface here.
type OrderHandler struct {
	orders domain.OrderStore
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler backed by the given store.
func NewOrderHandler(orders domain.OrderStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListOrders returns orders filtered by market or trader.
// GET /api/orders?market={id}  or  GET /api/orders?trader={address}
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var (
		orders []domain.Order
		err    error
	)
	switch {
	case q.Get("market") != "":
		orders, err = h.orders.ListByMarket(r.Context(), q.Get("market"), opts)
	case q.Get("trader") != "":
		orders, err = h.orders.ListByTrader(r.Context(), strings.ToLower(q.Get("trader")), opts)
	default:
		writeError(w, http.StatusBadRequest, "market or trader query parameter is required")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{
		Orders: orders,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetOrder returns a single order by its composite key.
// GET /api/orders/{txHash}/{logIndex}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	txHash := strings.ToLower(r.PathValue("txHash"))
	logIndex, err := strconv.ParseUint(r.PathValue("logIndex"), 10, 32)
	if txHash == "" || err != nil {
		writeError(w, http.StatusBadRequest, "order key is txHash/logIndex")
		return
	}
	key := domain.OrderKey{TxHash: txHash, LogIndex: uint(logIndex)}

	order, err := h.orders.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get order failed",
			slog.String("order_key", key.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, order)
}

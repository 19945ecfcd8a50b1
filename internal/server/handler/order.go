package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/brokergw/internal/api"
	"github.com/alanyoungcy/brokergw/internal/domain"
)

// OrderService is the brokerage command surface the order endpoints need.
type OrderService interface {
	PlaceOrder(ctx context.Context, o domain.Order) (domain.Order, error)
	UpdateOrder(ctx context.Context, o domain.Order) error
	CancelOrder(ctx context.Context, localID int64) error
	CancelAll(ctx context.Context) error
	Order(localID int64) (domain.Order, error)
	OpenOrders() []domain.Order
	OrderExecutions(localID int64) []domain.Execution
}

// OrderHandler serves order endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

type listOrdersResponse struct {
	Orders []api.Order `json:"orders"`
}

// ListOpen returns every order still working at the venue.
// GET /api/orders/open
func (h *OrderHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: api.FromOrders(h.orders.OpenOrders())})
}

// GetOrder returns one order with its fills.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := h.orders.Order(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order":      api.FromOrder(o),
		"executions": api.FromExecutions(h.orders.OrderExecutions(id)),
	})
}

// PlaceOrder submits a new order. The response carries the assigned ids;
// fills are reported asynchronously on the event stream.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req api.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	o, err := req.ToOrder()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	placed, err := h.orders.PlaceOrder(r.Context(), o)
	if err != nil {
		h.fail(w, r, "place order", err)
		return
	}
	writeJSON(w, http.StatusCreated, api.FromOrder(placed))
}

// UpdateOrder amends an open order. Only the non-zero fields of the body
// are applied.
// PUT /api/orders/{id}
func (h *OrderHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req api.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	o, err := req.ToOrder()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o.ID = id

	if err := h.orders.UpdateOrder(r.Context(), o); err != nil {
		h.fail(w, r, "update order", err)
		return
	}
	current, err := h.orders.Order(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.FromOrder(current))
}

// CancelOrder requests cancellation. Confirmation arrives on the event stream.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	if err := h.orders.CancelOrder(r.Context(), id); err != nil {
		h.fail(w, r, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "cancel_requested", "id": id})
}

// CancelAll requests cancellation of every non-terminal order.
// DELETE /api/orders
func (h *OrderHandler) CancelAll(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.CancelAll(r.Context()); err != nil {
		h.fail(w, r, "cancel all", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}

func (h *OrderHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error())
}

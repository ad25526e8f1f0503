package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_cart/order-service/internal/domain"
)

type CheckoutHandler struct {
	orders  OrderService
	timeout time.Duration
	logger  *slog.Logger
}

func NewCheckoutHandler(orders OrderService, timeout time.Duration, logger *slog.Logger) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{
		orders:  orders,
		timeout: timeout,
		logger:  logger,
	}
}

type CheckoutRequestDTO struct {
	ShippingAddress *domain.ShippingAddress `json:"shipping_address"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CheckoutRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.orders.Checkout(ctx, userID, req.ShippingAddress)
	if err != nil {
		handleServiceError(ctx, w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, convertOrder(order))
}

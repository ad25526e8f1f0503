package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fjod/go_cart/order-service/internal/domain"
	"github.com/fjod/go_cart/order-service/internal/pricing"
	"github.com/fjod/go_cart/order-service/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fjod/go_cart/order-service/internal/service"

// placeAttempts is the number of times a transaction is run when it loses
// a stock race: the first try plus one retry.
const placeAttempts = 2

// AccessPolicy decides what a requester who neither owns an order nor holds
// an elevated role is told about it.
type AccessPolicy string

const (
	// AccessConceal reports a non-owned order as not found.
	AccessConceal AccessPolicy = "conceal"
	// AccessReveal reports a non-owned order as forbidden.
	AccessReveal AccessPolicy = "reveal"
)

func (p AccessPolicy) Valid() bool {
	return p == AccessConceal || p == AccessReveal
}

// CartSource is the part of the cart service checkout depends on.
type CartSource interface {
	LoadCart(ctx context.Context, userID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

type OrderOptions struct {
	AccessPolicy        AccessPolicy
	ClearCartOnCheckout bool
	Logger              *slog.Logger
}

type OrderService struct {
	repo      repository.OrderRepository
	carts     CartSource
	policy    AccessPolicy
	clearCart bool
	logger    *slog.Logger
	tracer    trace.Tracer
	placed    metric.Int64Counter
	rejected  metric.Int64Counter
	newID     func() uuid.UUID
}

func NewOrderService(repo repository.OrderRepository, carts CartSource, opts OrderOptions) (*OrderService, error) {
	policy := opts.AccessPolicy
	if policy == "" {
		policy = AccessConceal
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown order access policy %q", policy)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter(instrumentationName)
	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed"))
	if err != nil {
		return nil, fmt.Errorf("create orders.placed counter: %w", err)
	}
	rejected, err := meter.Int64Counter("orders.rejected",
		metric.WithDescription("Order placements that did not commit, by reason"))
	if err != nil {
		return nil, fmt.Errorf("create orders.rejected counter: %w", err)
	}

	return &OrderService{
		repo:      repo,
		carts:     carts,
		policy:    policy,
		clearCart: opts.ClearCartOnCheckout,
		logger:    logger.With("component", "order_service"),
		tracer:    otel.Tracer(instrumentationName),
		placed:    placed,
		rejected:  rejected,
		newID:     uuid.New,
	}, nil
}

// PlaceOrder prices lines against a catalog read taken inside the order
// transaction, persists the order with its lines and decrements stock. On
// any error nothing is persisted. A lost stock race is retried once.
func (s *OrderService) PlaceOrder(ctx context.Context, userID string, lines []domain.Line, addr *domain.ShippingAddress) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.PlaceOrder",
		trace.WithAttributes(attribute.String("user_id", userID), attribute.Int("lines", len(lines))))
	defer span.End()

	order, err := s.placeOrder(ctx, userID, lines, addr)
	if err != nil {
		reason := rejectionReason(err)
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		if reason == "internal" {
			s.logger.ErrorContext(ctx, "place order failed", "user_id", userID, "error", err)
		} else {
			s.logger.InfoContext(ctx, "order rejected", "user_id", userID, "reason", reason, "error", err)
		}
		return nil, err
	}

	s.placed.Add(ctx, 1)
	span.SetAttributes(attribute.String("order_id", order.ID.String()))
	s.logger.InfoContext(ctx, "order placed",
		"order_id", order.ID, "user_id", userID, "total", order.TotalAmount.StringFixed(2))
	return order, nil
}

func (s *OrderService) placeOrder(ctx context.Context, userID string, lines []domain.Line, addr *domain.ShippingAddress) (*domain.Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	if err := addr.Validate(); err != nil {
		return nil, err
	}

	var err error
	for attempt := 1; attempt <= placeAttempts; attempt++ {
		var order *domain.Order
		order, err = s.placeOnce(ctx, userID, lines, *addr)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrStockChanged) {
			return nil, err
		}
		s.logger.WarnContext(ctx, "stock changed during order placement", "user_id", userID, "attempt", attempt)
	}
	return nil, err
}

func (s *OrderService) placeOnce(ctx context.Context, userID string, lines []domain.Line, addr domain.ShippingAddress) (*domain.Order, error) {
	var placed *domain.Order

	err := s.repo.RunInTx(ctx, func(tx repository.OrderTx) error {
		catalog, err := tx.GetProducts(ctx, pricing.ProductIDs(lines))
		if err != nil {
			return fmt.Errorf("read catalog: %w", err)
		}

		priced, err := pricing.Validate(lines, catalog)
		if err != nil {
			return err
		}

		order := &domain.Order{
			ID:              s.newID(),
			UserID:          userID,
			TotalAmount:     priced.TotalAmount,
			Currency:        domain.DefaultCurrency,
			Status:          domain.OrderStatusPending,
			ShippingAddress: addr,
			Items:           priced.Items,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		// Lock rows in a fixed order so concurrent orders cannot deadlock.
		for _, item := range sortedByProduct(order.Items) {
			if err := tx.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		event, err := newOrderEvent(domain.EventOrderPlaced, order, "")
		if err != nil {
			return err
		}
		if err := tx.AddOutboxEvent(ctx, event); err != nil {
			return err
		}

		placed = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// Checkout places an order for the current contents of the user's cart.
func (s *OrderService) Checkout(ctx context.Context, userID string, addr *domain.ShippingAddress) (*domain.Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if err := addr.Validate(); err != nil {
		return nil, err
	}

	cart, err := s.carts.LoadCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, domain.ErrEmptyOrder
	}

	order, err := s.PlaceOrder(ctx, userID, cart.Lines(), addr)
	if err != nil {
		return nil, err
	}

	if s.clearCart {
		// The order is committed; a failure here leaves a stale cart, not a
		// broken order.
		if err := s.carts.ClearCart(ctx, userID); err != nil {
			s.logger.WarnContext(ctx, "clear cart after checkout failed",
				"user_id", userID, "order_id", order.ID, "error", err)
		}
	}
	return order, nil
}

// GetOrder returns the order if the requester owns it or holds an elevated
// role.
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID, userID string, role domain.Role) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.UserID != userID && !role.IsElevated() {
		if s.policy == AccessReveal {
			return nil, domain.ErrForbidden
		}
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListOrders returns the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	orders, err := s.repo.ListOrdersByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	return orders, nil
}

// UpdateStatus moves an order along its lifecycle. Only elevated roles may
// do this. Cancelling returns the ordered quantities to stock.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, role domain.Role) (*domain.Order, error) {
	if !role.IsElevated() {
		return nil, domain.ErrForbidden
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidInput, status)
	}

	ctx, span := s.tracer.Start(ctx, "orders.UpdateStatus",
		trace.WithAttributes(attribute.String("order_id", orderID.String()), attribute.String("status", status.String())))
	defer span.End()

	var updated *domain.Order
	err := s.repo.RunInTx(ctx, func(tx repository.OrderTx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		from := order.Status
		if !domain.CanTransitionTo(from, status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, status)
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, status); err != nil {
			return err
		}

		if status == domain.OrderStatusCancelled {
			for _, item := range sortedByProduct(order.Items) {
				if err := tx.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
		}

		order.Status = status
		order.UpdatedAt = time.Now().UTC()
		event, err := newOrderEvent(domain.EventOrderStatusChanged, order, from)
		if err != nil {
			return err
		}
		if err := tx.AddOutboxEvent(ctx, event); err != nil {
			return err
		}

		updated = order
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.logger.InfoContext(ctx, "order status updated", "order_id", orderID, "status", status)
	return updated, nil
}

func sortedByProduct(items []domain.OrderItem) []domain.OrderItem {
	sorted := make([]domain.OrderItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })
	return sorted
}

type orderEventItem struct {
	ProductID       domain.ProductID `json:"product_id"`
	Quantity        int              `json:"quantity"`
	PriceAtPurchase string           `json:"price_at_purchase"`
}

type orderEvent struct {
	OrderID        string             `json:"order_id"`
	UserID         string             `json:"user_id"`
	Status         domain.OrderStatus `json:"status"`
	PreviousStatus domain.OrderStatus `json:"previous_status,omitempty"`
	TotalAmount    string             `json:"total_amount"`
	Currency       string             `json:"currency"`
	Items          []orderEventItem   `json:"items"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

func newOrderEvent(eventType string, order *domain.Order, previous domain.OrderStatus) (*domain.OutboxEvent, error) {
	items := make([]orderEventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderEventItem{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase.StringFixed(2),
		})
	}

	occurred := order.UpdatedAt
	if occurred.IsZero() {
		occurred = order.CreatedAt
	}
	payload, err := json.Marshal(orderEvent{
		OrderID:        order.ID.String(),
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: previous,
		TotalAmount:    order.TotalAmount.StringFixed(2),
		Currency:       order.Currency,
		Items:          items,
		OccurredAt:     occurred,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	return &domain.OutboxEvent{
		AggregateID: order.ID.String(),
		EventType:   eventType,
		Payload:     payload,
	}, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrStockChanged):
		return "stock_changed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

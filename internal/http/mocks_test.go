package http

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/order-service/internal/domain"
	"github.com/google/uuid"
)

type mockCartService struct {
	cart     *domain.Cart
	err      error
	lastUser string
	lastQty  int
	lastItem domain.ProductID
	cleared  bool
}

func (m *mockCartService) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.lastUser = userID
	return m.cart, m.err
}

func (m *mockCartService) AddItem(_ context.Context, userID string, productID domain.ProductID, quantity int) (*domain.Cart, error) {
	m.lastUser, m.lastItem, m.lastQty = userID, productID, quantity
	return m.cart, m.err
}

func (m *mockCartService) UpdateQuantity(_ context.Context, userID string, productID domain.ProductID, quantity int) (*domain.Cart, error) {
	m.lastUser, m.lastItem, m.lastQty = userID, productID, quantity
	return m.cart, m.err
}

func (m *mockCartService) RemoveItem(_ context.Context, userID string, productID domain.ProductID) (*domain.Cart, error) {
	m.lastUser, m.lastItem = userID, productID
	return m.cart, m.err
}

func (m *mockCartService) ClearCart(_ context.Context, userID string) error {
	m.lastUser = userID
	m.cleared = m.err == nil
	return m.err
}

type mockOrderService struct {
	order     *domain.Order
	orders    []*domain.Order
	err       error
	lastUser  string
	lastRole  domain.Role
	lastLines []domain.Line
	lastAddr  *domain.ShippingAddress
	lastID    uuid.UUID
	lastState domain.OrderStatus
}

func (m *mockOrderService) PlaceOrder(_ context.Context, userID string, lines []domain.Line, addr *domain.ShippingAddress) (*domain.Order, error) {
	m.lastUser, m.lastLines, m.lastAddr = userID, lines, addr
	return m.order, m.err
}

func (m *mockOrderService) Checkout(_ context.Context, userID string, addr *domain.ShippingAddress) (*domain.Order, error) {
	m.lastUser, m.lastAddr = userID, addr
	return m.order, m.err
}

func (m *mockOrderService) GetOrder(_ context.Context, orderID uuid.UUID, userID string, role domain.Role) (*domain.Order, error) {
	m.lastID, m.lastUser, m.lastRole = orderID, userID, role
	return m.order, m.err
}

func (m *mockOrderService) ListOrders(_ context.Context, userID string) ([]*domain.Order, error) {
	m.lastUser = userID
	return m.orders, m.err
}

func (m *mockOrderService) UpdateStatus(_ context.Context, orderID uuid.UUID, status domain.OrderStatus, role domain.Role) (*domain.Order, error) {
	m.lastID, m.lastState, m.lastRole = orderID, status, role
	return m.order, m.err
}

type mockProducts struct {
	catalog domain.Catalog
	err     error
}

func (m *mockProducts) GetProducts(_ context.Context, ids []domain.ProductID) (domain.Catalog, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := domain.Catalog{}
	for _, id := range ids {
		if p, ok := m.catalog[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

var errDatabaseDown = errors.New("database down")

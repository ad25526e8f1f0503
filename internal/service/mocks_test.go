package service

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/order-service/internal/cache"
	"github.com/fjod/go_cart/order-service/internal/domain"
	"github.com/fjod/go_cart/order-service/internal/repository"
	"github.com/google/uuid"
)

// mockOrderRepository is an in-memory OrderRepository. RunInTx holds the
// lock for the whole callback and restores a snapshot when it fails.
type mockOrderRepository struct {
	mu       sync.Mutex
	products map[domain.ProductID]domain.Product
	orders   map[uuid.UUID]*domain.Order
	outbox   []*domain.OutboxEvent

	// stockRaces makes the next N DecrementStock calls lose a race.
	stockRaces int
	catalogErr error
	txCount    int
}

func newMockOrderRepository(products ...domain.Product) *mockOrderRepository {
	m := &mockOrderRepository{
		products: make(map[domain.ProductID]domain.Product),
		orders:   make(map[uuid.UUID]*domain.Order),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockOrderRepository) GetProducts(_ context.Context, ids []domain.ProductID) (domain.Catalog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catalog(ids)
}

func (m *mockOrderRepository) catalog(ids []domain.ProductID) (domain.Catalog, error) {
	if m.catalogErr != nil {
		return nil, m.catalogErr
	}
	out := make(domain.Catalog, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *mockOrderRepository) RunInTx(ctx context.Context, fn func(tx repository.OrderTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	products := make(map[domain.ProductID]domain.Product, len(m.products))
	for k, v := range m.products {
		products[k] = v
	}
	orders := make(map[uuid.UUID]*domain.Order, len(m.orders))
	for k, v := range m.orders {
		cp := *v
		orders[k] = &cp
	}
	outbox := append([]*domain.OutboxEvent(nil), m.outbox...)

	err := fn(&mockOrderTx{m: m})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.products, m.orders, m.outbox = products, orders, outbox
	}
	return err
}

func (m *mockOrderRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepository) ListOrdersByUserID(_ context.Context, userID string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockOrderRepository) stock(id domain.ProductID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].StockQuantity
}

func (m *mockOrderRepository) setPrice(id domain.ProductID, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	p.Price = dec(price)
	m.products[id] = p
}

func (m *mockOrderRepository) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type mockOrderTx struct {
	m *mockOrderRepository
}

func (t *mockOrderTx) GetProducts(_ context.Context, ids []domain.ProductID) (domain.Catalog, error) {
	return t.m.catalog(ids)
}

func (t *mockOrderTx) CreateOrder(_ context.Context, order *domain.Order) error {
	cp := *order
	cp.Items = append([]domain.OrderItem(nil), order.Items...)
	t.m.orders[order.ID] = &cp
	return nil
}

func (t *mockOrderTx) DecrementStock(_ context.Context, id domain.ProductID, qty int) error {
	if t.m.stockRaces > 0 {
		t.m.stockRaces--
		return domain.ErrStockChanged
	}
	p, ok := t.m.products[id]
	if !ok || p.StockQuantity < qty {
		return domain.ErrStockChanged
	}
	p.StockQuantity -= qty
	t.m.products[id] = p
	return nil
}

func (t *mockOrderTx) IncrementStock(_ context.Context, id domain.ProductID, qty int) error {
	p := t.m.products[id]
	p.StockQuantity += qty
	t.m.products[id] = p
	return nil
}

func (t *mockOrderTx) GetOrderForUpdate(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (t *mockOrderTx) UpdateOrderStatus(_ context.Context, id uuid.UUID, status domain.OrderStatus) error {
	o, ok := t.m.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	cp := *o
	cp.Status = status
	t.m.orders[id] = &cp
	return nil
}

func (t *mockOrderTx) AddOutboxEvent(_ context.Context, event *domain.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	t.m.outbox = append(t.m.outbox, event)
	return nil
}

// mockCartRepository keeps carts in memory with the same merge semantics as
// the real stores.
type mockCartRepository struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart
	err   error
	gets  int
}

func newMockCartRepository() *mockCartRepository {
	return &mockCartRepository{carts: make(map[string]*domain.Cart)}
}

func (m *mockCartRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	cp := *c
	cp.Items = append([]domain.CartItem{}, c.Items...)
	return &cp, nil
}

func (m *mockCartRepository) AddItem(_ context.Context, userID string, item domain.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		c = &domain.Cart{ID: "cart-" + userID, UserID: userID}
		m.carts[userID] = c
	}
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			c.Items[i].Quantity += item.Quantity
			return nil
		}
	}
	c.Items = append(c.Items, item)
	return nil
}

func (m *mockCartRepository) UpdateItemQuantity(ctx context.Context, userID string, productID domain.ProductID, quantity int) error {
	if quantity <= 0 {
		return m.RemoveItem(ctx, userID, productID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[userID]; ok {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				c.Items[i].Quantity = quantity
				return nil
			}
		}
	}
	return repository.ErrItemNotFound
}

func (m *mockCartRepository) RemoveItem(_ context.Context, userID string, productID domain.ProductID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[userID]; ok {
		for i, item := range c.Items {
			if item.ProductID == productID {
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
				return nil
			}
		}
	}
	return repository.ErrItemNotFound
}

func (m *mockCartRepository) DeleteCart(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.carts[userID]; !ok {
		return repository.ErrCartNotFound
	}
	delete(m.carts, userID)
	return nil
}

type mockCache struct {
	mu      sync.Mutex
	carts   map[string]*domain.Cart
	deletes []string
	sets    chan string
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart), sets: make(chan string, 16)}
}

func (c *mockCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (c *mockCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	c.mu.Lock()
	c.carts[userID] = cart
	c.mu.Unlock()
	c.sets <- userID
	return nil
}

func (c *mockCache) Delete(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, userID)
	c.deletes = append(c.deletes, userID)
	return nil
}

package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/order-service/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrItemNotFound = errors.New("item not found in cart")
)

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// CatalogReader looks up current price and stock. Missing ids are absent from
// the result rather than reported as errors.
type CatalogReader interface {
	GetProducts(ctx context.Context, ids []domain.ProductID) (domain.Catalog, error)
}

// OrderTx is the set of operations available inside one order transaction.
type OrderTx interface {
	CatalogReader
	CreateOrder(ctx context.Context, order *domain.Order) error
	// DecrementStock fails with domain.ErrStockChanged when fewer than qty
	// units remain at the moment of the update.
	DecrementStock(ctx context.Context, productID domain.ProductID, qty int) error
	IncrementStock(ctx context.Context, productID domain.ProductID, qty int) error
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error
	AddOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error
}

type OrderRepository interface {
	CatalogReader
	// RunInTx commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(tx OrderTx) error) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id uuid.UUID) error
}

// CartRepository defines the interface for cart data operations
// Consumers define this interface, not the storage implementation
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// AddItem creates the cart lazily and merges quantities per product.
	AddItem(ctx context.Context, userID string, item domain.CartItem) error
	UpdateItemQuantity(ctx context.Context, userID string, productID domain.ProductID, quantity int) error
	RemoveItem(ctx context.Context, userID string, productID domain.ProductID) error
	DeleteCart(ctx context.Context, userID string) error
}

package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/order-service/internal/cache"
	"github.com/fjod/go_cart/order-service/internal/domain"
	"github.com/fjod/go_cart/order-service/internal/repository"
	"golang.org/x/sync/singleflight"
)

// cacheStripes is the number of invalidation counters users hash onto.
const cacheStripes = 64

type CartService struct {
	repo    repository.CartRepository
	catalog repository.CatalogReader
	cache   cache.CartCache
	sfg     singleflight.Group // Prevents cache stampede
	logger  *slog.Logger
	// generations is bumped on every cart write, before the cache delete.
	// A reader that saw it move while filling the cache drops its entry.
	generations [cacheStripes]atomic.Uint64
}

func NewCartService(repo repository.CartRepository, catalog repository.CatalogReader, c cache.CartCache, logger *slog.Logger) *CartService {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CartService{
		repo:    repo,
		catalog: catalog,
		cache:   c,
		logger:  logger.With("component", "cart_service"),
	}
}

// GetCart returns the user's cart, or an empty one when none exists yet.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}

	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.WarnContext(ctx, "cache get failed", "user_id", userID, "error", err)
		}

		gen := s.generation(userID).Load()
		cart, found, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !found {
			return cart, nil
		}

		s.fillCache(ctx, userID, cart, gen)
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// LoadCart reads the cart from the durable store, bypassing the cache.
// Checkout uses it so that a stale cached cart is never ordered.
func (s *CartService) LoadCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, _, err := s.load(ctx, userID)
	return cart, err
}

func (s *CartService) load(ctx context.Context, userID string) (*domain.Cart, bool, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		now := time.Now().UTC()
		return &domain.Cart{
			UserID:    userID,
			Items:     []domain.CartItem{},
			CreatedAt: now,
			UpdatedAt: now,
		}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cart, true, nil
}

// AddItem merges quantity into the user's cart after checking that the
// product exists. Stock is not checked here.
func (s *CartService) AddItem(ctx context.Context, userID string, productID domain.ProductID, quantity int) (*domain.Cart, error) {
	if userID == "" || productID == "" {
		return nil, fmt.Errorf("%w: user id and product id are required", domain.ErrInvalidInput)
	}
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	catalog, err := s.catalog.GetProducts(ctx, []domain.ProductID{productID})
	if err != nil {
		return nil, fmt.Errorf("lookup product: %w", err)
	}
	if _, ok := catalog[productID]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}

	if err := s.repo.AddItem(ctx, userID, domain.CartItem{ProductID: productID, Quantity: quantity}); err != nil {
		s.logger.ErrorContext(ctx, "repo add item failed", "user_id", userID, "product_id", productID, "error", err)
		return nil, err
	}

	s.invalidateCache(userID)
	return s.LoadCart(ctx, userID)
}

// UpdateQuantity sets an absolute quantity; zero or less removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, userID string, productID domain.ProductID, quantity int) (*domain.Cart, error) {
	if err := s.repo.UpdateItemQuantity(ctx, userID, productID, quantity); err != nil {
		if !errors.Is(err, repository.ErrItemNotFound) {
			s.logger.ErrorContext(ctx, "repo update item quantity failed", "user_id", userID, "error", err)
		}
		return nil, err
	}

	s.invalidateCache(userID)
	return s.LoadCart(ctx, userID)
}

func (s *CartService) RemoveItem(ctx context.Context, userID string, productID domain.ProductID) (*domain.Cart, error) {
	if err := s.repo.RemoveItem(ctx, userID, productID); err != nil {
		if !errors.Is(err, repository.ErrItemNotFound) {
			s.logger.ErrorContext(ctx, "repo remove item failed", "user_id", userID, "error", err)
		}
		return nil, err
	}

	s.invalidateCache(userID)
	return s.LoadCart(ctx, userID)
}

// ClearCart deletes the cart. Clearing a cart that does not exist is not an
// error.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	err := s.repo.DeleteCart(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		s.logger.ErrorContext(ctx, "repo delete cart failed", "user_id", userID, "error", err)
		return err
	}

	s.invalidateCache(userID)
	return nil
}

// fillCache stores a cart read at generation gen. If a write bumped the
// generation meanwhile the entry may predate it, so it is removed again.
func (s *CartService) fillCache(ctx context.Context, userID string, cart *domain.Cart, gen uint64) {
	counter := s.generation(userID)
	if counter.Load() != gen {
		return
	}

	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Set(setCtx, userID, cart); err != nil {
		s.logger.WarnContext(ctx, "cache set failed", "user_id", userID, "error", err)
		return
	}

	if counter.Load() != gen {
		s.invalidateCache(userID)
	}
}

func (s *CartService) generation(userID string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.generations[h.Sum32()%cacheStripes]
}

func (s *CartService) invalidateCache(userID string) {
	s.generation(userID).Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("cache invalidate failed", "user_id", userID, "error", err)
	}
}

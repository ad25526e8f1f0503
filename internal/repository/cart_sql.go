package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/order-service/internal/domain"
	"github.com/google/uuid"
)

type sqlCartRepository struct {
	repo *Repository
}

// NewSQLCartRepository stores carts in the same database as products and orders.
func NewSQLCartRepository(repo *Repository) CartRepository {
	return &sqlCartRepository{repo: repo}
}

func (s *sqlCartRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart
	err := s.repo.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`, userID).
		Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	rows, err := s.repo.db.QueryContext(ctx,
		`SELECT product_id, quantity, added_at FROM cart_items
		 WHERE cart_id = $1 ORDER BY added_at, product_id`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	defer rows.Close()

	cart.Items = make([]domain.CartItem, 0)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return &cart, nil
}

func (s *sqlCartRepository) AddItem(ctx context.Context, userID string, item domain.CartItem) error {
	if item.Quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	now := s.repo.now().UTC()

	tx, err := s.repo.db.BeginTx(ctx, s.repo.dialect.txOptions)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var cartID string
	err = tx.QueryRowContext(ctx,
		`INSERT INTO carts (id, user_id, created_at, updated_at) VALUES ($1, $2, $3, $3)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at
		 RETURNING id`,
		uuid.NewString(), userID, now).Scan(&cartID)
	if err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cart_items (cart_id, product_id, quantity, added_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + excluded.quantity`,
		cartID, string(item.ProductID), item.Quantity, now)
	if err != nil {
		return fmt.Errorf("failed to add item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateItemQuantity sets an absolute quantity; zero or less removes the line.
func (s *sqlCartRepository) UpdateItemQuantity(ctx context.Context, userID string, productID domain.ProductID, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	res, err := s.repo.db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $1
		 WHERE product_id = $2 AND cart_id = (SELECT id FROM carts WHERE user_id = $3)`,
		quantity, string(productID), userID)
	if err != nil {
		return fmt.Errorf("failed to update item quantity: %w", err)
	}
	return requireAffected(res, ErrItemNotFound)
}

func (s *sqlCartRepository) RemoveItem(ctx context.Context, userID string, productID domain.ProductID) error {
	res, err := s.repo.db.ExecContext(ctx,
		`DELETE FROM cart_items
		 WHERE product_id = $1 AND cart_id = (SELECT id FROM carts WHERE user_id = $2)`,
		string(productID), userID)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	return requireAffected(res, ErrItemNotFound)
}

func (s *sqlCartRepository) DeleteCart(ctx context.Context, userID string) error {
	tx, err := s.repo.db.BeginTx(ctx, s.repo.dialect.txOptions)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)`, userID); err != nil {
		return fmt.Errorf("failed to delete cart items: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if err := requireAffected(res, ErrCartNotFound); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/order-service/internal/domain"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repository) GetProducts(ctx context.Context, ids []domain.ProductID) (domain.Catalog, error) {
	return getProducts(ctx, r.db, ids)
}

func getProducts(ctx context.Context, q dbtx, ids []domain.ProductID) (domain.Catalog, error) {
	catalog := make(domain.Catalog, len(ids))
	if len(ids) == 0 {
		return catalog, nil
	}

	placeholders, args := inClause(1, productKeys(ids))
	query := `SELECT id, name, price, stock_quantity, updated_at
	          FROM products WHERE id IN (` + placeholders + `) ORDER BY id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.StockQuantity, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		catalog[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return catalog, nil
}

// SaveProduct inserts the product or overwrites its name, price and stock.
func (r *Repository) SaveProduct(ctx context.Context, p *domain.Product) error {
	if p.StockQuantity < 0 {
		return fmt.Errorf("%w: stock quantity must not be negative", domain.ErrInvalidInput)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", domain.ErrInvalidInput)
	}
	// Prices are whole cents in both dialects.
	if !p.Price.Equal(p.Price.Truncate(2)) {
		return fmt.Errorf("%w: price %s has more than two decimal places", domain.ErrInvalidInput, p.Price)
	}
	p.UpdatedAt = r.now().UTC()

	query := `INSERT INTO products (id, name, price, stock_quantity, updated_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (id) DO UPDATE SET
	              name = excluded.name,
	              price = excluded.price,
	              stock_quantity = excluded.stock_quantity,
	              updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query, string(p.ID), p.Name, p.Price, p.StockQuantity, p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// DeleteProduct removes a product that no order line references.
func (r *Repository) DeleteProduct(ctx context.Context, id domain.ProductID) error {
	tx, err := r.db.BeginTx(ctx, r.dialect.txOptions)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE id = $1`, string(id)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("query product: %w", err)
	}
	if exists == 0 {
		return domain.ErrProductNotFound
	}

	var refs int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_items WHERE product_id = $1`, string(id)).Scan(&refs)
	if err != nil {
		return fmt.Errorf("count order references: %w", err)
	}
	if refs > 0 {
		return domain.ErrProductInUse
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE product_id = $1`, string(id)); err != nil {
		return fmt.Errorf("delete cart lines: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, string(id)); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// inClause renders "$n, $n+1, ..." for the given values starting at position start.
func inClause[T any](start int, values []T) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = fmt.Sprintf("$%d", start+i)
		args[i] = v
	}
	return strings.Join(marks, ", "), args
}

func productKeys(ids []domain.ProductID) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	return keys
}

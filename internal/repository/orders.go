package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/order-service/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const orderColumns = `id, user_id, total_amount, currency, status, shipping_address, created_at, updated_at`

func (r *Repository) RunInTx(ctx context.Context, fn func(tx OrderTx) error) error {
	tx, err := r.db.BeginTx(ctx, r.dialect.txOptions)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&orderTx{tx: tx, dialect: r.dialect, now: r.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classifyConflict(err))
	}
	return nil
}

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, r.db, id, "")
}

func (r *Repository) ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
	          FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	for _, order := range orders {
		if order.Items, err = getOrderItems(ctx, r.db, order.ID); err != nil {
			return nil, err
		}
	}

	return orders, nil
}

type orderTx struct {
	tx      *sql.Tx
	dialect dialect
	now     func() time.Time
}

func (t *orderTx) GetProducts(ctx context.Context, ids []domain.ProductID) (domain.Catalog, error) {
	return getProducts(ctx, t.tx, ids)
}

func (t *orderTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to marshal shipping address: %w", err)
	}

	now := t.now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = t.tx.ExecContext(ctx, query,
		order.ID,
		order.UserID,
		order.TotalAmount,
		order.Currency,
		string(order.Status),
		string(address),
		order.CreatedAt,
		order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `INSERT INTO order_items (order_id, line_no, product_id, product_name, quantity, price_at_purchase)
	              VALUES ($1, $2, $3, $4, $5, $6)`

	for i, item := range order.Items {
		_, err := t.tx.ExecContext(ctx, itemQuery,
			order.ID,
			i+1,
			string(item.ProductID),
			item.ProductName,
			item.Quantity,
			item.PriceAtPurchase)
		if err != nil {
			return fmt.Errorf("insert order item %s: %w", item.ProductID, err)
		}
	}
	return nil
}

func (t *orderTx) DecrementStock(ctx context.Context, productID domain.ProductID, qty int) error {
	query := `UPDATE products
	          SET stock_quantity = stock_quantity - $1, updated_at = $2
	          WHERE id = $3 AND stock_quantity >= $1`

	res, err := t.tx.ExecContext(ctx, query, qty, t.now().UTC(), string(productID))
	if err != nil {
		return fmt.Errorf("decrement stock for %s: %w", productID, classifyConflict(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock for %s: %w", productID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: product %s", domain.ErrStockChanged, productID)
	}
	return nil
}

func (t *orderTx) IncrementStock(ctx context.Context, productID domain.ProductID, qty int) error {
	query := `UPDATE products
	          SET stock_quantity = stock_quantity + $1, updated_at = $2
	          WHERE id = $3`

	if _, err := t.tx.ExecContext(ctx, query, qty, t.now().UTC(), string(productID)); err != nil {
		return fmt.Errorf("increment stock for %s: %w", productID, classifyConflict(err))
	}
	return nil
}

func (t *orderTx) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, t.tx, id, t.dialect.forUpdate)
}

func (t *orderTx) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), t.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", classifyConflict(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (t *orderTx) AddOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = t.now().UTC()

	query := `INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4, $5)`

	_, err := t.tx.ExecContext(ctx, query,
		event.ID,
		event.AggregateID,
		event.EventType,
		string(event.Payload),
		event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func getOrder(ctx context.Context, q dbtx, id uuid.UUID, suffix string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1` + suffix

	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if order.Items, err = getOrderItems(ctx, q, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var order domain.Order
	var address []byte
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.TotalAmount,
		&order.Currency,
		&order.Status,
		&address,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order row: %w", err)
	}

	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	return &order, nil
}

func getOrderItems(ctx context.Context, q dbtx, orderID uuid.UUID) ([]domain.OrderItem, error) {
	query := `SELECT product_id, product_name, quantity, price_at_purchase
	          FROM order_items WHERE order_id = $1 ORDER BY line_no`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.PriceAtPurchase); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// classifyConflict turns Postgres serialization failures and deadlocks into
// domain.ErrStockChanged so callers can retry them.
func classifyConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", domain.ErrStockChanged, err)
		}
	}
	return err
}

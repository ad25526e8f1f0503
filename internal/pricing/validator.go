// Package pricing turns requested lines into a priced order against a catalog
// snapshot.
package pricing

import (
	"math"

	"github.com/fjod/go_cart/order-service/internal/domain"
	"github.com/shopspring/decimal"
)

type Result struct {
	TotalAmount decimal.Decimal
	// Items holds one entry per distinct product, in first-requested order,
	// priced from the snapshot that was validated. Repeated lines for a
	// product are merged and their quantities summed.
	Items []domain.OrderItem
}

// Validate checks every line against the catalog and prices the order.
// The first failing line aborts validation; no partial result is returned.
func Validate(lines []domain.Line, catalog domain.Catalog) (*Result, error) {
	if len(lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}

	index := make(map[domain.ProductID]int, len(lines))
	items := make([]domain.OrderItem, 0, len(lines))

	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}

		product, ok := catalog[line.ProductID]
		if !ok {
			return nil, domain.ErrProductNotFound
		}

		pos, seen := index[line.ProductID]
		if !seen {
			pos = len(items)
			index[line.ProductID] = pos
			items = append(items, domain.OrderItem{
				ProductID:       product.ID,
				ProductName:     product.Name,
				PriceAtPurchase: product.Price,
			})
		}
		// Compared by subtraction so that a huge quantity cannot wrap the sum.
		already := items[pos].Quantity
		if line.Quantity > product.StockQuantity-already {
			return nil, &domain.InsufficientStockError{
				ProductID: product.ID,
				Requested: saturatingAdd(already, line.Quantity),
				Available: product.StockQuantity,
			}
		}
		items[pos].Quantity = already + line.Quantity
	}

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	if !total.IsPositive() {
		return nil, domain.ErrEmptyOrder
	}

	return &Result{TotalAmount: total, Items: items}, nil
}

func saturatingAdd(a, b int) int {
	if b > math.MaxInt-a {
		return math.MaxInt
	}
	return a + b
}

// ProductIDs returns the distinct product ids referenced by lines.
func ProductIDs(lines []domain.Line) []domain.ProductID {
	seen := make(map[domain.ProductID]struct{}, len(lines))
	ids := make([]domain.ProductID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

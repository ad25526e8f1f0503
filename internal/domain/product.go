package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductID string

type Product struct {
	ID            ProductID       `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Catalog is a point-in-time view of products keyed by id. Ids that do not
// exist are absent.
type Catalog map[ProductID]Product

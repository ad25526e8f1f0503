package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/order-service/internal/domain"
)

// maxProductIDs bounds one lookup so the query stays under the database's
// bound-parameter limit.
const maxProductIDs = 100

type ProductReader interface {
	GetProducts(ctx context.Context, ids []domain.ProductID) (domain.Catalog, error)
}

type ProductHandler struct {
	products ProductReader
	timeout  time.Duration
	logger   *slog.Logger
}

func NewProductHandler(products ProductReader, timeout time.Duration, logger *slog.Logger) *ProductHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductHandler{
		products: products,
		timeout:  timeout,
		logger:   logger,
	}
}

// GET /api/v1/products?ids=a,b,c
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var ids []domain.ProductID
	seen := make(map[domain.ProductID]bool)
	for _, raw := range strings.Split(r.URL.Query().Get("ids"), ",") {
		id := domain.ProductID(strings.TrimSpace(raw))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		respondError(w, http.StatusBadRequest, "missing_ids", "ids query parameter is required")
		return
	}
	if len(ids) > maxProductIDs {
		respondError(w, http.StatusBadRequest, "too_many_ids",
			fmt.Sprintf("at most %d distinct ids per request", maxProductIDs))
		return
	}

	catalog, err := h.products.GetProducts(ctx, ids)
	if err != nil {
		handleServiceError(ctx, w, h.logger, err)
		return
	}

	resp := ProductsResponse{
		Products: make([]ProductResponse, 0, len(catalog)),
		Missing:  make([]string, 0),
	}
	for _, id := range ids {
		p, ok := catalog[id]
		if !ok {
			resp.Missing = append(resp.Missing, string(id))
			continue
		}
		resp.Products = append(resp.Products, ProductResponse{
			ID:            string(p.ID),
			Name:          p.Name,
			Price:         p.Price.StringFixed(2),
			StockQuantity: p.StockQuantity,
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

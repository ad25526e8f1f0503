package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStockChanged      = errors.New("stock changed during checkout, retry")
	ErrForbidden         = errors.New("access to order is forbidden")
	ErrOrderNotFound     = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal transition of order status")
	ErrProductInUse      = errors.New("product is referenced by existing orders")

	ErrInvalidQuantity        = fmt.Errorf("%w: quantity must be a positive integer", ErrInvalidInput)
	ErrEmptyOrder             = fmt.Errorf("%w: order has no lines or a non-positive total", ErrInvalidInput)
	ErrMissingShippingAddress = fmt.Errorf("%w: shipping address is incomplete", ErrInvalidInput)
)

// InsufficientStockError carries the numbers a client needs to fix its cart.
type InsufficientStockError struct {
	ProductID ProductID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

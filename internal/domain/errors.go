package domain

import (
	"errors"
	"fmt"
)

// ErrMalformedEvent marks a payload that cannot be classified into any known
// event variant. Retrying cannot fix it.
var ErrMalformedEvent = errors.New("malformed event payload")

// InsufficientStockError reports a quantity check failure. Requested is the
// quantity argument of the failed operation; Available and Reserved are the
// aggregate counters before the operation.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
	Reserved  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for product %s: requested %d, available %d, reserved %d",
		e.ProductID, e.Requested, e.Available, e.Reserved)
}

package domain

import "time"

// Inventory is the stock record for a single product. Reserve, Release and
// Confirm are pure: they take the current snapshot by value and return the
// next one, so a failed operation never leaves a half-mutated aggregate.
type Inventory struct {
	ProductID string
	Available int
	Reserved  int
	Version   int64
	UpdatedAt time.Time
}

func NewInventory(productID string, available, reserved int) Inventory {
	return Inventory{
		ProductID: productID,
		Available: available,
		Reserved:  reserved,
		UpdatedAt: time.Now().UTC(),
	}
}

// Total is the stock known to the system, reserved or not.
func (inv Inventory) Total() int {
	return inv.Available + inv.Reserved
}

// Reserve moves qty units from available to reserved. A negative qty would
// underflow the counters, so it is rejected like any unsatisfiable request.
func (inv Inventory) Reserve(qty int) (Inventory, error) {
	if qty < 0 || inv.Available < qty {
		return inv, inv.insufficient(qty)
	}
	inv.Available -= qty
	inv.Reserved += qty
	return inv.touched(), nil
}

// Release returns qty reserved units to available stock. It is the
// compensation for Reserve and restores the pre-reserve snapshot exactly.
func (inv Inventory) Release(qty int) (Inventory, error) {
	if qty < 0 || inv.Reserved < qty {
		return inv, inv.insufficient(qty)
	}
	inv.Reserved -= qty
	inv.Available += qty
	return inv.touched(), nil
}

// Confirm finalizes a sale: qty reserved units leave the system for good.
func (inv Inventory) Confirm(qty int) (Inventory, error) {
	if qty < 0 || inv.Reserved < qty {
		return inv, inv.insufficient(qty)
	}
	inv.Reserved -= qty
	return inv.touched(), nil
}

func (inv Inventory) insufficient(qty int) error {
	return &InsufficientStockError{
		ProductID: inv.ProductID,
		Requested: qty,
		Available: inv.Available,
		Reserved:  inv.Reserved,
	}
}

// touched keeps UpdatedAt non-decreasing even if the wall clock steps back.
func (inv Inventory) touched() Inventory {
	now := time.Now().UTC()
	if now.After(inv.UpdatedAt) {
		inv.UpdatedAt = now
	}
	return inv
}

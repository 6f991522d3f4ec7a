package inventory

import (
	"context"
	"errors"

	"inventorysvc/internal/domain"
)

// ErrConflict is returned by Store implementations when an optimistic version
// check fails, meaning another writer touched the product row since it was
// read. Callers may retry.
var ErrConflict = errors.New("optimistic lock conflict")

// Store is the persistence port for the saga: aggregate repository,
// idempotency records and outbox rows behind one transactional boundary.
type Store interface {
	// FindByProductID returns nil, nil when no inventory row exists.
	FindByProductID(ctx context.Context, productID string) (*domain.Inventory, error)

	// OperationsByOrder returns every recorded operation for an order.
	// The saga derives its position from these records.
	OperationsByOrder(ctx context.Context, orderID string) ([]domain.OperationRecord, error)

	// ApplyOperation persists the new aggregate state, the idempotency record
	// and the outbox row in a single transaction. inv may be nil when the
	// operation terminates the saga without mutating stock (a failed reserve),
	// and evt may be nil when the operation produces no outcome event.
	ApplyOperation(ctx context.Context, inv *domain.Inventory, rec domain.OperationRecord, evt *domain.OutboxEvent) error

	MarkPublished(ctx context.Context, eventID string) error
	MarkParked(ctx context.Context, eventID string) error

	// PendingEvents returns outbox rows not yet published, oldest first.
	PendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
}

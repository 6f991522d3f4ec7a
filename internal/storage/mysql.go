package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"inventorysvc/internal/domain"
	"inventorysvc/internal/inventory"

	"github.com/go-sql-driver/mysql"
)

const duplicateKeyErr = 1062

// MySQLStore persists the inventory aggregate, the idempotency records and
// the outbox in one database so that ApplyOperation can commit them as a
// single transaction.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) FindByProductID(ctx context.Context, productID string) (*domain.Inventory, error) {
	var inv domain.Inventory
	err := s.db.QueryRowContext(ctx, `
		SELECT id, available_quantity, reserved_quantity, version, updated_at
		FROM inventories WHERE id = ?`, productID,
	).Scan(&inv.ProductID, &inv.Available, &inv.Reserved, &inv.Version, &inv.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return &inv, nil
}

func (s *MySQLStore) OperationsByOrder(ctx context.Context, orderID string) ([]domain.OperationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, kind, product_id, quantity, succeeded, outcome, applied_at
		FROM inventory_operations WHERE order_id = ?`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var records []domain.OperationRecord
	for rows.Next() {
		var rec domain.OperationRecord
		if err := rows.Scan(&rec.OrderID, &rec.Kind, &rec.ProductID, &rec.Quantity, &rec.Succeeded, &rec.Outcome, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ApplyOperation writes the aggregate update, the idempotency record and the
// outbox row in one transaction. The aggregate update carries an optimistic
// version check; a lost race surfaces as inventory.ErrConflict so the caller
// retries and lands on the duplicate path.
func (s *MySQLStore) ApplyOperation(ctx context.Context, inv *domain.Inventory, rec domain.OperationRecord, evt *domain.OutboxEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if inv != nil {
		if err := s.saveInventory(ctx, tx, inv); err != nil {
			return err
		}
	}

	var outcome any
	if len(rec.Outcome) > 0 {
		outcome = rec.Outcome
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_operations (order_id, kind, product_id, quantity, succeeded, outcome, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.OrderID, string(rec.Kind), rec.ProductID, rec.Quantity, rec.Succeeded, outcome, rec.AppliedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return inventory.ErrConflict
		}
		return fmt.Errorf("insert operation record: %w", err)
	}

	if evt != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_outbox (id, order_id, payload, status, attempts, created_at)
			VALUES (?, ?, ?, ?, 0, ?)`,
			evt.ID, evt.OrderID, evt.Payload, string(evt.Status), evt.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}

	return tx.Commit()
}

// saveInventory upserts by product id: a fresh aggregate inserts, an existing
// one updates under its version check.
func (s *MySQLStore) saveInventory(ctx context.Context, tx *sql.Tx, inv *domain.Inventory) error {
	if inv.Version == 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inventories (id, available_quantity, reserved_quantity, version, created_at, updated_at)
			VALUES (?, ?, ?, 1, NOW(), ?)`,
			inv.ProductID, inv.Available, inv.Reserved, inv.UpdatedAt,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return inventory.ErrConflict
			}
			return fmt.Errorf("insert inventory: %w", err)
		}
		return nil
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE inventories
		SET available_quantity = ?, reserved_quantity = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		inv.Available, inv.Reserved, inv.UpdatedAt, inv.ProductID, inv.Version,
	)
	if err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return inventory.ErrConflict
	}
	return nil
}

func (s *MySQLStore) MarkPublished(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE inventory_outbox
		SET status = ?, attempts = attempts + 1, published_at = NOW()
		WHERE id = ?`,
		string(domain.OutboxPublished), eventID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}

func (s *MySQLStore) MarkParked(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE inventory_outbox
		SET status = ?, attempts = attempts + 1
		WHERE id = ?`,
		string(domain.OutboxParked), eventID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox event parked: %w", err)
	}
	return nil
}

func (s *MySQLStore) PendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, payload, status, attempts, created_at
		FROM inventory_outbox
		WHERE status = ?
		ORDER BY created_at
		LIMIT ?`,
		string(domain.OutboxPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox events: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var evt domain.OutboxEvent
		if err := rows.Scan(&evt.ID, &evt.OrderID, &evt.Payload, &evt.Status, &evt.Attempts, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateKeyErr
}

package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inventorysvc/internal/domain"
	"inventorysvc/internal/platform/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Coordinator maps classified triggers onto inventory operations and outcome
// events. Saga position is derived from the operation records on each
// delivery, so duplicates and redeliveries collapse into no-ops that still
// re-emit the recorded outcome.
type Coordinator struct {
	store  Store
	relay  *Relay
	logger observability.Logger
	tracer observability.Tracer
}

func NewCoordinator(store Store, relay *Relay, logger observability.Logger, tracer observability.Tracer) *Coordinator {
	return &Coordinator{
		store:  store,
		relay:  relay,
		logger: logger,
		tracer: tracer,
	}
}

// Handle processes one trigger to completion. A nil return means the
// processing unit finished and the message may be committed; a non-nil return
// means a transient infrastructure failure and the message must be
// redelivered. Domain violations never return an error: they terminate the
// saga with an outcome event instead.
func (c *Coordinator) Handle(ctx context.Context, t domain.Trigger) error {
	op := t.Operation()

	ctx, span := c.tracer.Start(ctx, "saga_"+string(op))
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", t.OrderID),
		attribute.String("product.id", t.ProductID),
		attribute.String("inventory.operation", string(op)),
		attribute.String("event.kind", string(t.Kind)),
	)

	records, err := c.store.OperationsByOrder(ctx, t.OrderID)
	if err != nil {
		span.SetStatus(codes.Error, "failed to load operation records")
		return fmt.Errorf("load operations for order %s: %w", t.OrderID, err)
	}

	if rec := findOperation(records, op); rec != nil {
		c.logger.Info("Duplicate trigger, operation already applied",
			zap.String("order_id", t.OrderID),
			zap.String("operation", string(op)),
		)
		if len(rec.Outcome) > 0 {
			_ = c.relay.Republish(ctx, t.OrderID, rec.Outcome)
		}
		span.SetStatus(codes.Ok, "duplicate delivery")
		return nil
	}

	state := domain.DeriveSagaState(records)
	if state.Terminal() {
		c.logger.Info("Saga already terminal, ignoring trigger",
			zap.String("order_id", t.OrderID),
			zap.String("state", state.String()),
			zap.String("trigger", string(t.Kind)),
		)
		if payload := domain.LastOutcome(records); payload != nil {
			_ = c.relay.Republish(ctx, t.OrderID, payload)
		}
		span.SetStatus(codes.Ok, "terminal state")
		return nil
	}

	switch op {
	case domain.OpReserve:
		return c.reserve(ctx, span, t)
	case domain.OpRelease:
		return c.release(ctx, span, t, state)
	case domain.OpConfirm:
		return c.confirm(ctx, span, t, state)
	default:
		span.SetStatus(codes.Error, "unknown operation")
		c.logger.Error("❌ Trigger mapped to unknown operation", zap.String("operation", string(op)))
		return nil
	}
}

func (c *Coordinator) reserve(ctx context.Context, span trace.Span, t domain.Trigger) error {
	inv, err := c.store.FindByProductID(ctx, t.ProductID)
	if err != nil {
		span.SetStatus(codes.Error, "failed to load inventory")
		return fmt.Errorf("load inventory %s: %w", t.ProductID, err)
	}

	now := time.Now().UTC()
	if inv == nil {
		c.logger.Error("❌ Cannot reserve stock for unknown product",
			zap.String("order_id", t.OrderID),
			zap.String("product_id", t.ProductID),
		)
		span.SetStatus(codes.Error, "product not found")
		return c.finalize(ctx, t, nil, domain.InventoryFailed{
			OrderID:   t.OrderID,
			ProductID: t.ProductID,
			Reason:    fmt.Sprintf("Product not found: %s", t.ProductID),
			FailedAt:  now,
		}, false)
	}

	updated, err := inv.Reserve(t.Quantity)
	if err != nil {
		var stockErr *domain.InsufficientStockError
		if !errors.As(err, &stockErr) {
			span.SetStatus(codes.Error, "reserve failed")
			return err
		}
		c.logger.Warn("Insufficient stock, rejecting order",
			zap.String("order_id", t.OrderID),
			zap.String("product_id", t.ProductID),
			zap.Int("requested", stockErr.Requested),
			zap.Int("available", stockErr.Available),
		)
		span.SetStatus(codes.Error, "insufficient stock")
		return c.finalize(ctx, t, nil, domain.InventoryFailed{
			OrderID:   t.OrderID,
			ProductID: t.ProductID,
			Reason:    err.Error(),
			FailedAt:  now,
		}, false)
	}

	span.SetAttributes(
		attribute.Int("inventory.available", updated.Available),
		attribute.Int("inventory.reserved", updated.Reserved),
	)
	span.SetStatus(codes.Ok, "inventory reserved")
	return c.finalize(ctx, t, &updated, domain.InventoryReserved{
		OrderID:    t.OrderID,
		ProductID:  t.ProductID,
		Quantity:   t.Quantity,
		ReservedAt: now,
	}, true)
}

func (c *Coordinator) release(ctx context.Context, span trace.Span, t domain.Trigger, state domain.SagaState) error {
	if state != domain.SagaReserved {
		// A release before its reserve means the per-product ordering
		// assumption was violated upstream.
		c.logger.Error("❌ Release trigger without an applied reserve",
			zap.String("order_id", t.OrderID),
			zap.String("product_id", t.ProductID),
			zap.String("state", state.String()),
			zap.String("trigger", string(t.Kind)),
		)
		span.SetStatus(codes.Error, "ordering violation")
		return c.finalize(ctx, t, nil, nil, false)
	}

	inv, err := c.store.FindByProductID(ctx, t.ProductID)
	if err != nil {
		span.SetStatus(codes.Error, "failed to load inventory")
		return fmt.Errorf("load inventory %s: %w", t.ProductID, err)
	}
	if inv == nil {
		c.logger.Error("❌ Inventory row vanished for reserved product",
			zap.String("order_id", t.OrderID),
			zap.String("product_id", t.ProductID),
		)
		span.SetStatus(codes.Error, "product not found")
		return c.finalize(ctx, t, nil, nil, false)
	}

	now := time.Now().UTC()
	updated, err := inv.Release(t.Quantity)
	if err != nil {
		c.logger.Error("❌ Release exceeds reserved stock",
			zap.Error(err),
			zap.String("order_id", t.OrderID),
			zap.String("product_id", t.ProductID),
			zap.Int("reserved", inv.Reserved),
			zap.Int("requested", t.Quantity),
		)
		span.SetStatus(codes.Error, "invariant breach on release")
		return c.finalize(ctx, t, nil, nil, false)
	}

	span.SetStatus(codes.Ok, "inventory released")
	return c.finalize(ctx, t, &updated, domain.InventoryReleased{
		OrderID:    t.OrderID,
		ProductID:  t.ProductID,
		Quantity:   t.Quantity,
		ReleasedAt: now,
	}, true)
}

func (c *Coordinator) confirm(ctx context.Context, span trace.Span, t domain.Trigger, state domain.SagaState) error {
	if state != domain.SagaReserved {
		c.logger.Error("❌ Confirm trigger without an applied reserve",
			zap.String("order_id", t.OrderID),
			zap.String("product_id", t.ProductID),
			zap.String("state", state.String()),
		)
		span.SetStatus(codes.Error, "ordering violation")
		return c.finalize(ctx, t, nil, nil, false)
	}

	inv, err := c.store.FindByProductID(ctx, t.ProductID)
	if err != nil {
		span.SetStatus(codes.Error, "failed to load inventory")
		return fmt.Errorf("load inventory %s: %w", t.ProductID, err)
	}
	if inv == nil {
		c.logger.Error("❌ Inventory row vanished for reserved product",
			zap.String("order_id", t.OrderID),
			zap.String("product_id", t.ProductID),
		)
		span.SetStatus(codes.Error, "product not found")
		return c.finalize(ctx, t, nil, nil, false)
	}

	updated, err := inv.Confirm(t.Quantity)
	if err != nil {
		c.logger.Error("❌ Confirm exceeds reserved stock",
			zap.Error(err),
			zap.String("order_id", t.OrderID),
			zap.String("product_id", t.ProductID),
			zap.Int("reserved", inv.Reserved),
			zap.Int("requested", t.Quantity),
		)
		span.SetStatus(codes.Error, "invariant breach on confirm")
		return c.finalize(ctx, t, nil, nil, false)
	}

	// Confirm is terminal without an outcome event: the sale is final and
	// downstream consumers already saw the reservation.
	span.SetStatus(codes.Ok, "inventory confirmed")
	return c.finalize(ctx, t, &updated, nil, true)
}

// finalize persists the aggregate snapshot, the idempotency record and the
// outbox row in one transaction, then hands the outcome to the relay. inv is
// nil when the operation did not mutate stock; outcome is nil when nothing is
// published.
func (c *Coordinator) finalize(ctx context.Context, t domain.Trigger, inv *domain.Inventory, outcome domain.Outcome, succeeded bool) error {
	now := time.Now().UTC()

	rec := domain.OperationRecord{
		OrderID:   t.OrderID,
		Kind:      t.Operation(),
		ProductID: t.ProductID,
		Quantity:  t.Quantity,
		Succeeded: succeeded,
		AppliedAt: now,
	}

	var evt *domain.OutboxEvent
	if outcome != nil {
		payload, err := domain.MarshalOutcome(outcome)
		if err != nil {
			return fmt.Errorf("marshal outcome for order %s: %w", t.OrderID, err)
		}
		rec.Outcome = payload
		evt = &domain.OutboxEvent{
			ID:        uuid.NewString(),
			OrderID:   t.OrderID,
			Payload:   payload,
			Status:    domain.OutboxPending,
			CreatedAt: now,
		}
	}

	if err := c.store.ApplyOperation(ctx, inv, rec, evt); err != nil {
		return fmt.Errorf("apply %s for order %s: %w", rec.Kind, t.OrderID, err)
	}

	c.logger.Info("✅ Operation applied",
		zap.String("order_id", t.OrderID),
		zap.String("operation", string(rec.Kind)),
		zap.Bool("succeeded", succeeded),
	)

	if evt != nil {
		// The mutation is durable; a publish failure parks the event and
		// must not fail the unit, or the guard would swallow the retry.
		_ = c.relay.Publish(ctx, *evt)
	}
	return nil
}

func findOperation(records []domain.OperationRecord, kind domain.OperationKind) *domain.OperationRecord {
	for i := range records {
		if records[i].Kind == kind {
			return &records[i]
		}
	}
	return nil
}

package inventory

import (
	"context"
	"time"

	"inventorysvc/internal/config"
	"inventorysvc/internal/domain"
	"inventorysvc/internal/platform/kafka"
	"inventorysvc/internal/platform/observability"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Relay publishes persisted outbox events to the transport. The aggregate
// mutation and the outbox row commit together before the relay runs, so a
// publish failure never loses the outcome: it stays pending and is retried,
// or parked for out-of-band replay once the attempt ceiling is reached.
type Relay struct {
	store       Store
	producer    kafka.Producer
	logger      observability.Logger
	maxAttempts int
}

func NewRelay(store Store, producer kafka.Producer, logger observability.Logger, maxAttempts int) *Relay {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Relay{
		store:       store,
		producer:    producer,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Publish delivers one outbox event with bounded exponential backoff and
// records the outcome of the attempt. A parked event is reported but does not
// fail the processing unit: the mutation is already durable.
func (r *Relay) Publish(ctx context.Context, evt domain.OutboxEvent) error {
	err := r.write(ctx, evt.OrderID, evt.Payload)
	if err != nil {
		r.logger.Error("❌ Publish retries exhausted, parking outcome for replay",
			zap.Error(err),
			zap.String("event_id", evt.ID),
			zap.String("order_id", evt.OrderID),
		)
		if parkErr := r.store.MarkParked(ctx, evt.ID); parkErr != nil {
			r.logger.Error("❌ Failed to park outbox event", zap.Error(parkErr), zap.String("event_id", evt.ID))
		}
		return err
	}

	if markErr := r.store.MarkPublished(ctx, evt.ID); markErr != nil {
		// The event went out; a stale pending row only means the sweep
		// publishes it again, which consumers already tolerate.
		r.logger.Warn("⚠️ Published event could not be marked, may be re-published by sweep",
			zap.Error(markErr),
			zap.String("event_id", evt.ID),
		)
	}
	return nil
}

// Republish re-emits a previously recorded outcome payload. Used when a
// duplicate trigger arrives after the operation was already applied, so the
// delivery that missed the first publication still converges.
func (r *Relay) Republish(ctx context.Context, orderID string, payload []byte) error {
	if err := r.write(ctx, orderID, payload); err != nil {
		r.logger.Error("❌ Failed to re-publish recorded outcome",
			zap.Error(err),
			zap.String("order_id", orderID),
		)
		return err
	}
	r.logger.Info("📤 Re-published recorded outcome", zap.String("order_id", orderID))
	return nil
}

func (r *Relay) write(ctx context.Context, key string, payload []byte) error {
	attempt := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, config.PublishTimeout)
		defer cancel()
		return r.producer.WriteMessage(attemptCtx, kafkago.Message{
			Key:   []byte(key),
			Value: payload,
		})
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(r.maxAttempts-1)),
		ctx,
	)
	return backoff.Retry(attempt, policy)
}

// Run sweeps pending outbox rows at startup and on a ticker. This covers the
// window where the process dies after the transaction commits but before the
// first publish attempt.
func (r *Relay) Run(ctx context.Context, every time.Duration) {
	r.Sweep(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep publishes every outbox row still pending.
func (r *Relay) Sweep(ctx context.Context) {
	events, err := r.store.PendingEvents(ctx, 100)
	if err != nil {
		r.logger.Error("❌ Failed to load pending outbox events", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	r.logger.Info("Relaying pending outbox events", zap.Int("count", len(events)))
	for _, evt := range events {
		if ctx.Err() != nil {
			return
		}
		_ = r.Publish(ctx, evt)
	}
}

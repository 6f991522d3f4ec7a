package inventory

import (
	"context"

	"inventorysvc/internal/domain"
	"inventorysvc/internal/platform/observability"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// storageRetries bounds the backoff loop around one processing unit; after
// exhaustion the message stays uncommitted and the transport redelivers it.
const storageRetries = 4

// TriggerHandler runs one classified trigger through the coordinator with
// trace continuity and transient-failure retries.
type TriggerHandler struct {
	coordinator *Coordinator
	logger      observability.Logger
}

func NewTriggerHandler(coordinator *Coordinator, logger observability.Logger) *TriggerHandler {
	return &TriggerHandler{
		coordinator: coordinator,
		logger:      logger,
	}
}

// Handle processes the trigger. A nil return means the message may be
// committed; an error means it must be left for redelivery.
func (h *TriggerHandler) Handle(ctx context.Context, msg kafkago.Message, trigger domain.Trigger) error {
	msgCtx := h.extractTraceContext(ctx, msg.Headers)

	h.logger.Info("📨 Trigger received",
		zap.String("topic", msg.Topic),
		zap.String("event", string(trigger.Kind)),
		zap.String("order_id", trigger.OrderID),
		zap.String("product_id", trigger.ProductID),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	attempt := func() error {
		return h.coordinator.Handle(msgCtx, trigger)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), storageRetries),
		msgCtx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		h.logger.Error("❌ Trigger processing failed, leaving message for redelivery",
			zap.Error(err),
			zap.String("order_id", trigger.OrderID),
			zap.String("event", string(trigger.Kind)),
		)
		return err
	}
	return nil
}

// extractTraceContext connects this unit to the producer's span via the
// message headers.
func (h *TriggerHandler) extractTraceContext(ctx context.Context, headers []kafkago.Header) context.Context {
	propagator := otel.GetTextMapPropagator()
	carrier := propagation.MapCarrier{}

	for _, header := range headers {
		carrier[string(header.Key)] = string(header.Value)
	}

	return propagator.Extract(ctx, carrier)
}

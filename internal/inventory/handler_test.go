package inventory

import (
	"context"
	"testing"

	"inventorysvc/internal/domain"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func TestHandlerRetriesTransientStorageFailure(t *testing.T) {
	store := newMemStore()
	store.seed(domain.NewInventory("p1", 10, 0))
	store.findErrs = 1
	producer := &mockProducer{}
	logger := zap.NewNop()
	relay := NewRelay(store, producer, logger, 3)
	coordinator := NewCoordinator(store, relay, logger, otel.Tracer("test"))
	handler := NewTriggerHandler(coordinator, logger)

	err := handler.Handle(context.Background(), kafkago.Message{}, orderCreated("o1", "p1", 3))
	require.NoError(t, err, "a single transient failure is absorbed by the retry loop")

	inv := store.inventory("p1")
	assert.Equal(t, 7, inv.Available)
	assert.Equal(t, 3, inv.Reserved)
	require.Len(t, producer.published(), 1)
}

func TestHandlerGivesUpWhenContextCancelled(t *testing.T) {
	store := newMemStore()
	store.seed(domain.NewInventory("p1", 10, 0))
	store.findErrs = 100
	producer := &mockProducer{}
	logger := zap.NewNop()
	relay := NewRelay(store, producer, logger, 3)
	coordinator := NewCoordinator(store, relay, logger, otel.Tracer("test"))
	handler := NewTriggerHandler(coordinator, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handler.Handle(ctx, kafkago.Message{}, orderCreated("o1", "p1", 3))
	require.Error(t, err, "the message stays uncommitted for redelivery")
	assert.Empty(t, store.records("o1"))
}

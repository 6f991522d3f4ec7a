package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"inventorysvc/internal/domain"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type fakeConsumer struct {
	mu         sync.Mutex
	msgs       chan kafkago.Message
	committed  []kafkago.Message
	nextOffset int64
}

func newFakeConsumer(buffer int) *fakeConsumer {
	return &fakeConsumer{msgs: make(chan kafkago.Message, buffer)}
}

func (c *fakeConsumer) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	select {
	case msg := <-c.msgs:
		return msg, nil
	case <-ctx.Done():
		return kafkago.Message{}, ctx.Err()
	}
}

func (c *fakeConsumer) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, msgs...)
	return nil
}

func (c *fakeConsumer) Close() error { return nil }

// committedThrough is the number of leading partition-0 offsets the group has
// acknowledged, mirroring how a Kafka group holds one offset per partition.
func (c *fakeConsumer) committedThrough() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var through int64
	for _, msg := range c.committed {
		if msg.Offset+1 > through {
			through = msg.Offset + 1
		}
	}
	return through
}

func (c *fakeConsumer) push(payload string) {
	c.mu.Lock()
	offset := c.nextOffset
	c.nextOffset++
	c.mu.Unlock()
	c.msgs <- kafkago.Message{Partition: 0, Offset: offset, Value: []byte(payload)}
}

func newTestConsumerService(store Store, producer *mockProducer, orderCons, payCons *fakeConsumer, shards int) *ConsumerService {
	logger := zap.NewNop()
	relay := NewRelay(store, producer, logger, 3)
	coordinator := NewCoordinator(store, relay, logger, otel.Tracer("test"))
	handler := NewTriggerHandler(coordinator, logger)
	return NewConsumerService(orderCons, payCons, handler, logger, shards)
}

func TestConsumerServiceProcessesBothTopics(t *testing.T) {
	store := newMemStore()
	store.seed(domain.NewInventory("p1", 10, 0))
	store.seed(domain.NewInventory("p2", 10, 0))
	producer := &mockProducer{}
	orderCons := newFakeConsumer(8)
	payCons := newFakeConsumer(8)
	svc := newTestConsumerService(store, producer, orderCons, payCons, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Start(ctx)
		close(done)
	}()

	orderCons.push(`{"OrderCreated":{"order_id":"o1","customer_id":"c1","product_id":"p1","quantity":3,"created_at":"2026-01-02T15:04:05Z"}}`)
	orderCons.push(`{"OrderCreated":{"order_id":"o2","customer_id":"c2","product_id":"p2","quantity":4,"created_at":"2026-01-02T15:04:06Z"}}`)

	require.Eventually(t, func() bool { return orderCons.committedThrough() == 2 },
		5*time.Second, 10*time.Millisecond)

	// Reserves landed before the payment trigger goes in, keeping the
	// per-product ordering assumption intact across topics.
	payCons.push(`{"PaymentFailed":{"order_id":"o1","reason":"card declined","product_id":"p1","quantity":3}}`)

	require.Eventually(t, func() bool { return payCons.committedThrough() == 1 },
		5*time.Second, 10*time.Millisecond)

	p1 := store.inventory("p1")
	assert.Equal(t, 10, p1.Available, "reservation was compensated")
	assert.Equal(t, 0, p1.Reserved)

	p2 := store.inventory("p2")
	assert.Equal(t, 6, p2.Available)
	assert.Equal(t, 4, p2.Reserved)

	assert.Len(t, producer.published(), 3)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer service did not shut down")
	}
}

func TestConsumerServiceDropsMalformedMessages(t *testing.T) {
	store := newMemStore()
	producer := &mockProducer{}
	orderCons := newFakeConsumer(8)
	payCons := newFakeConsumer(8)
	svc := newTestConsumerService(store, producer, orderCons, payCons, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Start(ctx)
		close(done)
	}()

	orderCons.push(`{"OrderShipped":{"order_id":"o1"}}`)
	orderCons.push(`not json at all`)

	// Malformed payloads are committed so they are never redelivered.
	require.Eventually(t, func() bool { return orderCons.committedThrough() == 2 },
		5*time.Second, 10*time.Millisecond)

	assert.Empty(t, producer.published())

	cancel()
	<-done
}

func TestCommitTrackerAdvancesContiguously(t *testing.T) {
	tracker := newCommitTracker()
	msgs := []kafkago.Message{
		{Partition: 0, Offset: 0},
		{Partition: 0, Offset: 1},
		{Partition: 0, Offset: 2},
	}
	for _, msg := range msgs {
		tracker.track(msg)
	}

	_, ok := tracker.complete(msgs[1])
	assert.False(t, ok, "offset 1 must wait for offset 0")

	mark, ok := tracker.complete(msgs[0])
	require.True(t, ok)
	assert.Equal(t, int64(1), mark.Offset, "completing offset 0 releases both")

	mark, ok = tracker.complete(msgs[2])
	require.True(t, ok)
	assert.Equal(t, int64(2), mark.Offset)
}

func TestCommitTrackerHoldsWindowBehindIncompleteUnit(t *testing.T) {
	tracker := newCommitTracker()
	stuck := kafkago.Message{Partition: 0, Offset: 0}
	later := kafkago.Message{Partition: 0, Offset: 1}
	tracker.track(stuck)
	tracker.track(later)

	// The unit at offset 0 never completes (say, its retries exhausted):
	// offset 1 must stay unacknowledged so both are redelivered.
	_, ok := tracker.complete(later)
	assert.False(t, ok)
}

func TestCommitTrackerKeepsPartitionsIndependent(t *testing.T) {
	tracker := newCommitTracker()
	p0 := kafkago.Message{Partition: 0, Offset: 0}
	p1 := kafkago.Message{Partition: 1, Offset: 0}
	tracker.track(p0)
	tracker.track(p1)

	mark, ok := tracker.complete(p1)
	require.True(t, ok, "a stalled partition must not block its siblings")
	assert.Equal(t, 1, mark.Partition)
	assert.Equal(t, int64(0), mark.Offset)
}

func TestFailingUnitBlocksLaterOffsetCommits(t *testing.T) {
	store := newMemStore()
	store.seed(domain.NewInventory("pa", 10, 0))
	store.seed(domain.NewInventory("pb", 10, 0))
	store.brokenProducts["pa"] = true
	producer := &mockProducer{}
	orderCons := newFakeConsumer(8)
	payCons := newFakeConsumer(8)
	svc := newTestConsumerService(store, producer, orderCons, payCons, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Start(ctx)
		close(done)
	}()

	// Offset 0 hits storage that stays down; offset 1 is healthy and lands
	// on a different shard worker.
	orderCons.push(`{"OrderCreated":{"order_id":"o1","customer_id":"c1","product_id":"pa","quantity":1,"created_at":"2026-01-02T15:04:05Z"}}`)
	orderCons.push(`{"OrderCreated":{"order_id":"o2","customer_id":"c2","product_id":"pb","quantity":2,"created_at":"2026-01-02T15:04:06Z"}}`)

	require.Eventually(t, func() bool { return len(producer.published()) == 1 },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 8, store.inventory("pb").Available)

	// The healthy unit finished, but acknowledging its offset would also
	// acknowledge the unapplied one before it. Nothing may be committed.
	assert.EqualValues(t, 0, orderCons.committedThrough())

	cancel()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("consumer service did not shut down")
	}

	// The stuck trigger exhausted its retries without being applied or
	// acknowledged: a redelivery after restart can still apply it.
	assert.Empty(t, store.records("o1"))
	assert.EqualValues(t, 0, orderCons.committedThrough())
}

func TestShardForIsStablePerProduct(t *testing.T) {
	svc := &ConsumerService{shards: 8}

	for _, productID := range []string{"p1", "p2", "some-long-product-id"} {
		first := svc.shardFor(productID)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, svc.shardFor(productID))
		}
	}
}

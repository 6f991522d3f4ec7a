package inventory

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"inventorysvc/internal/config"
	"inventorysvc/internal/domain"
	"inventorysvc/internal/platform/kafka"
	"inventorysvc/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// topicSource binds an inbound topic to its consumer and its event codec.
type topicSource struct {
	topic    string
	consumer kafka.Consumer
	decode   func([]byte) (domain.Trigger, error)
	tracker  *commitTracker
}

// commitTracker serializes offset commits for one topic. The group holds a
// single offset per partition, so a message may only be acknowledged once
// every earlier message of its partition has completed; units finishing out
// of order across shards advance a contiguous low-water mark instead of
// committing directly. A unit that never completes holds the window, keeping
// its message and everything after it eligible for redelivery.
type commitTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionWindow

	// commitMu serializes the commit calls themselves; acked is the offset
	// the group already stands at per partition, so a mark that lost the
	// race to a newer one is skipped instead of regressing the group.
	commitMu sync.Mutex
	acked    map[int]int64
}

type partitionWindow struct {
	inFlight []kafkago.Message // fetch order, which is offset order
	done     map[int64]bool
}

func newCommitTracker() *commitTracker {
	return &commitTracker{
		partitions: make(map[int]*partitionWindow),
		acked:      make(map[int]int64),
	}
}

// track registers a fetched message before it is dispatched.
func (t *commitTracker) track(msg kafkago.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.partitions[msg.Partition]
	if w == nil {
		w = &partitionWindow{done: make(map[int64]bool)}
		t.partitions[msg.Partition] = w
	}
	w.inFlight = append(w.inFlight, msg)
}

// complete marks one unit as finished and returns the newest message of its
// partition whose predecessors have all finished. ok is false while an older
// message is still in flight.
func (t *commitTracker) complete(msg kafkago.Message) (kafkago.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.partitions[msg.Partition]
	if w == nil {
		return kafkago.Message{}, false
	}
	w.done[msg.Offset] = true

	var mark kafkago.Message
	var ok bool
	for len(w.inFlight) > 0 && w.done[w.inFlight[0].Offset] {
		mark = w.inFlight[0]
		ok = true
		delete(w.done, w.inFlight[0].Offset)
		w.inFlight = w.inFlight[1:]
	}
	return mark, ok
}

type shardTask struct {
	source  topicSource
	msg     kafkago.Message
	trigger domain.Trigger
}

// ConsumerService fans the inbound topics out over a pool of shard workers.
// Every trigger for a product lands on the same worker, even across the two
// inbound topics, so triggers for one product serialize in delivery order
// while products run in parallel. Offsets are committed only after a unit
// completes, and never past a partition's oldest incomplete message, keeping
// delivery at-least-once.
type ConsumerService struct {
	sources []topicSource
	handler *TriggerHandler
	logger  observability.Logger
	shards  int
}

func NewConsumerService(orderConsumer, paymentConsumer kafka.Consumer, handler *TriggerHandler, logger observability.Logger, shards int) *ConsumerService {
	if shards < 1 {
		shards = 1
	}
	return &ConsumerService{
		sources: []topicSource{
			{topic: config.OrderEventsTopic, consumer: orderConsumer, decode: domain.DecodeOrderEvent, tracker: newCommitTracker()},
			{topic: config.PaymentEventsTopic, consumer: paymentConsumer, decode: domain.DecodePaymentEvent, tracker: newCommitTracker()},
		},
		handler: handler,
		logger:  logger,
		shards:  shards,
	}
}

// Start runs until ctx is cancelled, then drains: readers stop fetching,
// shard channels close, and in-flight units finish before workers exit.
func (c *ConsumerService) Start(ctx context.Context) error {
	shards := make([]chan shardTask, c.shards)
	var workers sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan shardTask)
		workers.Add(1)
		go c.runWorker(ctx, shards[i], &workers)
	}

	var readers sync.WaitGroup
	for _, src := range c.sources {
		readers.Add(1)
		go c.runReader(ctx, src, shards, &readers)
	}

	readers.Wait()
	for _, ch := range shards {
		close(ch)
	}
	workers.Wait()

	c.logger.Info("Consumer service finished. Shutting down...")
	return nil
}

func (c *ConsumerService) runReader(ctx context.Context, src topicSource, shards []chan shardTask, wg *sync.WaitGroup) {
	defer wg.Done()

	c.logger.Info("Kafka consumer started. Waiting for messages...", zap.String("topic", src.topic))

	for {
		msg, err := src.consumer.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context done, exiting Kafka read loop.", zap.String("topic", src.topic), zap.Error(err))
				return
			}
			c.logger.Error("❌ Error reading from Kafka", zap.String("topic", src.topic), zap.Error(err))
			continue
		}

		src.tracker.track(msg)

		trigger, err := src.decode(msg.Value)
		if err != nil {
			// Unclassifiable payloads are permanent failures; retrying cannot help.
			c.logger.Error("❌ Dropping malformed message",
				zap.Error(err),
				zap.String("topic", src.topic),
				zap.ByteString("raw_value", msg.Value),
			)
			if mark, ok := src.tracker.complete(msg); ok {
				c.commit(ctx, src, mark)
			}
			continue
		}

		select {
		case shards[c.shardFor(trigger.ProductID)] <- shardTask{source: src, msg: msg, trigger: trigger}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *ConsumerService) runWorker(ctx context.Context, tasks <-chan shardTask, wg *sync.WaitGroup) {
	defer wg.Done()

	for task := range tasks {
		// An in-flight unit must complete even during shutdown; fresh
		// fetches have already stopped.
		procCtx := context.WithoutCancel(ctx)
		if err := c.handler.Handle(procCtx, task.msg, task.trigger); err != nil {
			// Not completed: the window stops here, so this message and
			// everything after it stay unacknowledged for redelivery.
			continue
		}
		if mark, ok := task.source.tracker.complete(task.msg); ok {
			c.commit(procCtx, task.source, mark)
		}
	}
}

func (c *ConsumerService) commit(ctx context.Context, src topicSource, msg kafkago.Message) {
	t := src.tracker
	t.commitMu.Lock()
	defer t.commitMu.Unlock()
	if msg.Offset+1 <= t.acked[msg.Partition] {
		return
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.PublishTimeout)
	defer cancel()

	if err := src.consumer.CommitMessages(commitCtx, msg); err != nil {
		c.logger.Error("❌ Failed to commit offset",
			zap.Error(err),
			zap.String("topic", src.topic),
			zap.Int64("offset", msg.Offset),
		)
		return
	}
	t.acked[msg.Partition] = msg.Offset + 1
}

func (c *ConsumerService) shardFor(productID string) int {
	h := fnv.New32a()
	h.Write([]byte(productID))
	return int(h.Sum32() % uint32(c.shards))
}

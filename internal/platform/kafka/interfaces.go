package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Producer publishes messages with delivery confirmation.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// Consumer yields an at-least-once, ordered-per-partition message stream.
// FetchMessage does not advance the group offset; callers commit a message
// only after its processing unit has completed.
type Consumer interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

package domain

import "time"

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
	// OutboxParked marks an event whose publish retries were exhausted.
	// Parked events are left for out-of-band replay, never dropped.
	OutboxParked OutboxStatus = "parked"
)

// OutboxEvent is an outcome persisted in the same transaction as the
// aggregate mutation, then relayed to the transport.
type OutboxEvent struct {
	ID          string
	OrderID     string
	Payload     []byte
	Status      OutboxStatus
	Attempts    int
	CreatedAt   time.Time
	PublishedAt time.Time
}

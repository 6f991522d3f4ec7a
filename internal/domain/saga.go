package domain

import "time"

// OperationKind names the inventory mutation an order trigger maps to.
// (orderID, kind) is the idempotency key: at most one record per pair.
type OperationKind string

const (
	OpReserve OperationKind = "reserve"
	OpRelease OperationKind = "release"
	OpConfirm OperationKind = "confirm"
)

// OperationRecord is the durable proof that an operation has been applied
// for an order. Outcome holds the exact payload that was (or will be)
// published, so a duplicate delivery can re-emit a content-equal event.
type OperationRecord struct {
	OrderID   string
	Kind      OperationKind
	ProductID string
	Quantity  int
	Succeeded bool
	Outcome   []byte
	AppliedAt time.Time
}

// SagaState is the position of an order in the reservation saga. It is never
// stored; it is derived from which operation records exist, so crash recovery
// needs no separate state store that could drift from the aggregate.
type SagaState int

const (
	SagaIdle SagaState = iota
	SagaReserved
	SagaRejected
	SagaReleased
	SagaSettled
)

func (s SagaState) String() string {
	switch s {
	case SagaIdle:
		return "idle"
	case SagaReserved:
		return "reserved"
	case SagaRejected:
		return "rejected"
	case SagaReleased:
		return "released"
	case SagaSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the saga can accept no further operations.
func (s SagaState) Terminal() bool {
	return s == SagaRejected || s == SagaReleased || s == SagaSettled
}

// DeriveSagaState replays the recorded operations for one order.
func DeriveSagaState(records []OperationRecord) SagaState {
	var reserved, rejected, released, settled bool
	for _, rec := range records {
		switch rec.Kind {
		case OpReserve:
			if rec.Succeeded {
				reserved = true
			} else {
				rejected = true
			}
		case OpRelease:
			if rec.Succeeded {
				released = true
			}
		case OpConfirm:
			if rec.Succeeded {
				settled = true
			}
		}
	}

	switch {
	case settled:
		return SagaSettled
	case released:
		return SagaReleased
	case rejected:
		return SagaRejected
	case reserved:
		return SagaReserved
	default:
		return SagaIdle
	}
}

// LastOutcome returns the most recently recorded outcome payload for the
// order, or nil when no operation produced one (e.g. a confirm).
func LastOutcome(records []OperationRecord) []byte {
	var latest []byte
	var latestAt time.Time
	for _, rec := range records {
		if len(rec.Outcome) > 0 && !rec.AppliedAt.Before(latestAt) {
			latest = rec.Outcome
			latestAt = rec.AppliedAt
		}
	}
	return latest
}

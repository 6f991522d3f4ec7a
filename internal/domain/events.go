package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound and outbound events travel as externally tagged JSON unions:
// the top-level object has exactly one key naming the variant, e.g.
// {"OrderCreated":{"order_id":"o1","product_id":"p1","quantity":3,...}}.

type TriggerKind string

const (
	TriggerOrderCreated     TriggerKind = "OrderCreated"
	TriggerOrderCancelled   TriggerKind = "OrderCancelled"
	TriggerPaymentCompleted TriggerKind = "PaymentCompleted"
	TriggerPaymentFailed    TriggerKind = "PaymentFailed"
)

// Trigger is a classified inbound event. All variants carry the order/product
// correlation pair and a quantity; Reason and OccurredAt are variant-specific.
type Trigger struct {
	Kind       TriggerKind
	OrderID    string
	ProductID  string
	Quantity   int
	Reason     string
	OccurredAt time.Time
}

// Operation maps the trigger to the inventory operation it demands.
func (t Trigger) Operation() OperationKind {
	switch t.Kind {
	case TriggerOrderCreated:
		return OpReserve
	case TriggerPaymentCompleted:
		return OpConfirm
	default:
		return OpRelease
	}
}

type orderCreatedBody struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	CreatedAt  time.Time `json:"created_at"`
}

type orderCancelledBody struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type paymentCompletedBody struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    uint64 `json:"amount"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type paymentFailedBody struct {
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// DecodeOrderEvent classifies a payload from the order-events topic.
func DecodeOrderEvent(payload []byte) (Trigger, error) {
	variant, body, err := splitVariant(payload)
	if err != nil {
		return Trigger{}, err
	}

	switch TriggerKind(variant) {
	case TriggerOrderCreated:
		var e orderCreatedBody
		if err := json.Unmarshal(body, &e); err != nil {
			return Trigger{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, variant, err)
		}
		if err := checkQuantity(variant, e.Quantity); err != nil {
			return Trigger{}, err
		}
		return Trigger{
			Kind:       TriggerOrderCreated,
			OrderID:    e.OrderID,
			ProductID:  e.ProductID,
			Quantity:   e.Quantity,
			OccurredAt: e.CreatedAt,
		}, nil
	case TriggerOrderCancelled:
		var e orderCancelledBody
		if err := json.Unmarshal(body, &e); err != nil {
			return Trigger{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, variant, err)
		}
		if err := checkQuantity(variant, e.Quantity); err != nil {
			return Trigger{}, err
		}
		return Trigger{
			Kind:      TriggerOrderCancelled,
			OrderID:   e.OrderID,
			ProductID: e.ProductID,
			Quantity:  e.Quantity,
		}, nil
	default:
		return Trigger{}, fmt.Errorf("%w: unknown order event variant %q", ErrMalformedEvent, variant)
	}
}

// DecodePaymentEvent classifies a payload from the payment-events topic.
func DecodePaymentEvent(payload []byte) (Trigger, error) {
	variant, body, err := splitVariant(payload)
	if err != nil {
		return Trigger{}, err
	}

	switch TriggerKind(variant) {
	case TriggerPaymentCompleted:
		var e paymentCompletedBody
		if err := json.Unmarshal(body, &e); err != nil {
			return Trigger{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, variant, err)
		}
		if err := checkQuantity(variant, e.Quantity); err != nil {
			return Trigger{}, err
		}
		return Trigger{
			Kind:      TriggerPaymentCompleted,
			OrderID:   e.OrderID,
			ProductID: e.ProductID,
			Quantity:  e.Quantity,
		}, nil
	case TriggerPaymentFailed:
		var e paymentFailedBody
		if err := json.Unmarshal(body, &e); err != nil {
			return Trigger{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, variant, err)
		}
		if err := checkQuantity(variant, e.Quantity); err != nil {
			return Trigger{}, err
		}
		return Trigger{
			Kind:      TriggerPaymentFailed,
			OrderID:   e.OrderID,
			ProductID: e.ProductID,
			Quantity:  e.Quantity,
			Reason:    e.Reason,
		}, nil
	default:
		return Trigger{}, fmt.Errorf("%w: unknown payment event variant %q", ErrMalformedEvent, variant)
	}
}

// checkQuantity rejects quantities no operation could apply. The upstream
// services encode quantities as unsigned integers, so anything non-positive
// is a corrupted payload, not a domain condition.
func checkQuantity(variant string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %s: non-positive quantity %d", ErrMalformedEvent, variant, qty)
	}
	return nil
}

// splitVariant unwraps the single-key union envelope.
func splitVariant(payload []byte) (string, json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(envelope) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one variant key, got %d", ErrMalformedEvent, len(envelope))
	}
	for variant, body := range envelope {
		return variant, body, nil
	}
	return "", nil, ErrMalformedEvent
}

// Outcome is an outbound inventory event, published keyed by order id.
type Outcome interface {
	variant() string
	Key() string
}

type InventoryReserved struct {
	OrderID    string    `json:"order_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	ReservedAt time.Time `json:"reserved_at"`
}

func (e InventoryReserved) variant() string { return "InventoryReserved" }
func (e InventoryReserved) Key() string     { return e.OrderID }

type InventoryFailed struct {
	OrderID   string    `json:"order_id"`
	ProductID string    `json:"product_id"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

func (e InventoryFailed) variant() string { return "InventoryFailed" }
func (e InventoryFailed) Key() string     { return e.OrderID }

type InventoryReleased struct {
	OrderID    string    `json:"order_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	ReleasedAt time.Time `json:"released_at"`
}

func (e InventoryReleased) variant() string { return "InventoryReleased" }
func (e InventoryReleased) Key() string     { return e.OrderID }

// MarshalOutcome wraps the outcome in its union envelope.
func MarshalOutcome(o Outcome) ([]byte, error) {
	return json.Marshal(map[string]Outcome{o.variant(): o})
}

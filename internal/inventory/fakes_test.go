package inventory

import (
	"context"
	"errors"
	"sync"

	"inventorysvc/internal/domain"

	kafkago "github.com/segmentio/kafka-go"
)

var errStorageDown = errors.New("storage unreachable")

// memStore is an in-memory Store with transient-failure injection.
type memStore struct {
	mu          sync.Mutex
	inventories map[string]domain.Inventory
	operations  map[string][]domain.OperationRecord
	outbox      map[string]*domain.OutboxEvent
	outboxOrder []string
	findErrs    int
	applyErrs   int
	// brokenProducts fail every FindByProductID, simulating storage that
	// stays down for the whole retry budget.
	brokenProducts map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		inventories:    make(map[string]domain.Inventory),
		operations:     make(map[string][]domain.OperationRecord),
		outbox:         make(map[string]*domain.OutboxEvent),
		brokenProducts: make(map[string]bool),
	}
}

func (m *memStore) seed(inv domain.Inventory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.Version++
	m.inventories[inv.ProductID] = inv
}

func (m *memStore) FindByProductID(_ context.Context, productID string) (*domain.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErrs > 0 {
		m.findErrs--
		return nil, errStorageDown
	}
	if m.brokenProducts[productID] {
		return nil, errStorageDown
	}
	inv, ok := m.inventories[productID]
	if !ok {
		return nil, nil
	}
	cp := inv
	return &cp, nil
}

func (m *memStore) OperationsByOrder(_ context.Context, orderID string) ([]domain.OperationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]domain.OperationRecord, len(m.operations[orderID]))
	copy(records, m.operations[orderID])
	return records, nil
}

func (m *memStore) ApplyOperation(_ context.Context, inv *domain.Inventory, rec domain.OperationRecord, evt *domain.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErrs > 0 {
		m.applyErrs--
		return errStorageDown
	}
	for _, existing := range m.operations[rec.OrderID] {
		if existing.Kind == rec.Kind {
			return ErrConflict
		}
	}
	if inv != nil {
		next := *inv
		next.Version++
		m.inventories[next.ProductID] = next
	}
	m.operations[rec.OrderID] = append(m.operations[rec.OrderID], rec)
	if evt != nil {
		cp := *evt
		m.outbox[cp.ID] = &cp
		m.outboxOrder = append(m.outboxOrder, cp.ID)
	}
	return nil
}

func (m *memStore) MarkPublished(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt, ok := m.outbox[eventID]; ok {
		evt.Status = domain.OutboxPublished
		evt.Attempts++
	}
	return nil
}

func (m *memStore) MarkParked(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt, ok := m.outbox[eventID]; ok {
		evt.Status = domain.OutboxParked
		evt.Attempts++
	}
	return nil
}

func (m *memStore) PendingEvents(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []domain.OutboxEvent
	for _, id := range m.outboxOrder {
		if len(events) == limit {
			break
		}
		if evt := m.outbox[id]; evt.Status == domain.OutboxPending {
			events = append(events, *evt)
		}
	}
	return events, nil
}

func (m *memStore) inventory(productID string) domain.Inventory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inventories[productID]
}

func (m *memStore) records(orderID string) []domain.OperationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OperationRecord(nil), m.operations[orderID]...)
}

func (m *memStore) outboxEvents() []domain.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]domain.OutboxEvent, 0, len(m.outboxOrder))
	for _, id := range m.outboxOrder {
		events = append(events, *m.outbox[id])
	}
	return events
}

// mockProducer records writes; failures > 0 fails that many writes,
// failures < 0 fails every write.
type mockProducer struct {
	mu       sync.Mutex
	messages []kafkago.Message
	failures int
}

func (p *mockProducer) WriteMessage(_ context.Context, msg kafkago.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures != 0 {
		if p.failures > 0 {
			p.failures--
		}
		return errors.New("broker unreachable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *mockProducer) Close() error { return nil }

func (p *mockProducer) published() []kafkago.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafkago.Message(nil), p.messages...)
}

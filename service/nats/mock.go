package nats

import (
	"context"
	"sync"
)

// MockPublisher is an in-memory Publisher and Subscriber for testing. Published
// events are recorded and delivered to matching subscribers synchronously.
type MockPublisher struct {
	mu                sync.RWMutex
	publishedEvents   []*TransactionEvent
	publishError      error
	publishBatchError error
	subscribers       map[int]mockSubscription
	nextID            int
	closed            bool
}

type mockSubscription struct {
	address string
	handler func(*TransactionEvent)
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*TransactionEvent, 0),
		subscribers:     make(map[int]mockSubscription),
	}
}

// PublishTransaction records the event and returns any configured error.
func (m *MockPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	m.mu.Lock()
	if m.publishError != nil {
		err := m.publishError
		m.mu.Unlock()
		return err
	}
	m.publishedEvents = append(m.publishedEvents, event)
	handlers := m.handlersFor(event.Address)
	m.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

// PublishTransactionBatch records the events and returns any configured error.
func (m *MockPublisher) PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error {
	m.mu.RLock()
	err := m.publishBatchError
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := m.PublishTransaction(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers handler for events on address ("" for all addresses).
func (m *MockPublisher) Subscribe(ctx context.Context, address string, handler func(*TransactionEvent)) (func(), error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = mockSubscription{address: address, handler: handler}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}, nil
}

// must hold m.mu
func (m *MockPublisher) handlersFor(address string) []func(*TransactionEvent) {
	var handlers []func(*TransactionEvent)
	for _, sub := range m.subscribers {
		if sub.address == "" || sub.address == address {
			handlers = append(handlers, sub.handler)
		}
	}
	return handlers
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of all published events.
func (m *MockPublisher) GetPublishedEvents() []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransactionEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventCount returns the number of published events.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishedEvents)
}

// GetPublishedEventsForAddress returns events published for a specific address.
func (m *MockPublisher) GetPublishedEventsForAddress(address string) []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransactionEvent, 0)
	for _, event := range m.publishedEvents {
		if event.Address == address {
			events = append(events, event)
		}
	}
	return events
}

// SubscriberCount returns the number of active subscriptions.
func (m *MockPublisher) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// SetPublishError configures the mock to return an error on PublishTransaction.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetPublishBatchError configures the mock to return an error on PublishTransactionBatch.
func (m *MockPublisher) SetPublishBatchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishBatchError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = make([]*TransactionEvent, 0)
	m.publishError = nil
	m.publishBatchError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

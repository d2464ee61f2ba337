package nats

import (
	"context"
	"sync"
)

// MockPublisher records published operation events in memory.
// It satisfies the batch publishing interface the sync activities and the HTTP server consume.
type MockPublisher struct {
	mu        sync.RWMutex
	published []*OperationEvent
	batchErr  error
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{published: make([]*OperationEvent, 0)}
}

// PublishOperationBatch records the events, or fails the whole batch when an error is set.
func (m *MockPublisher) PublishOperationBatch(ctx context.Context, events []*OperationEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.batchErr != nil {
		return 0, m.batchErr
	}
	m.published = append(m.published, events...)
	return len(events), nil
}

// GetPublishedEventCount returns the number of published events.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.published)
}

// GetPublishedEventsForAccount returns events published for a specific address.
func (m *MockPublisher) GetPublishedEventsForAccount(address string) []*OperationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*OperationEvent, 0)
	for _, event := range m.published {
		if event.Address == address {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishBatchError makes every following PublishOperationBatch fail with err.
func (m *MockPublisher) SetPublishBatchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchErr = err
}

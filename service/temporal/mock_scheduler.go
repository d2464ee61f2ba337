package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is an in-memory Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	createErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// CreateAccountSchedule records that a schedule was created.
func (m *MockScheduler) CreateAccountSchedule(ctx context.Context, address, network string, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}

	id := ScheduleID(address, network)
	if _, exists := m.schedules[id]; exists {
		return fmt.Errorf("schedule %q already exists", id)
	}
	m.schedules[id] = interval
	return nil
}

// UpsertAccountSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertAccountSchedule(ctx context.Context, address, network string, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}

	m.schedules[ScheduleID(address, network)] = interval
	return nil
}

// DeleteAccountSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteAccountSchedule(ctx context.Context, address, network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := ScheduleID(address, network)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}

	delete(m.schedules, id)
	return nil
}

// SetCreateError makes Create and Upsert return err; nil clears it.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// ScheduleExists checks if a schedule exists for an account.
func (m *MockScheduler) ScheduleExists(address, network string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.schedules[ScheduleID(address, network)]
	return exists
}

// GetScheduleInterval returns the interval of an account's schedule.
func (m *MockScheduler) GetScheduleInterval(address, network string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	interval, exists := m.schedules[ScheduleID(address, network)]
	return interval, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

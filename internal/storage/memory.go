package storage

import (
	"context"
	"sync"

	"github.com/lorawan-server/udp-forwarder/internal/models"
)

// MemoryStore keeps the most recent event logs in memory. It is used when
// no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	events   []*models.EventLog // oldest first
}

// NewMemoryStore creates a MemoryStore holding at most capacity events.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{capacity: capacity}
}

// CreateEventLog stores the event, dropping the oldest when full
func (s *MemoryStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	prepareEventLog(event)

	e := *event
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) == s.capacity {
		copy(s.events, s.events[1:])
		s.events = s.events[:len(s.events)-1]
	}
	s.events = append(s.events, &e)
	return nil
}

// ListEventLogs lists event logs with filters, newest first
func (s *MemoryStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.EventLog
	for i := len(s.events) - 1; i >= 0; i-- {
		if filters.match(s.events[i]) {
			e := *s.events[i]
			matched = append(matched, &e)
		}
	}

	total := int64(len(matched))
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit >= 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}

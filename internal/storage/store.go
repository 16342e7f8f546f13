package storage

import (
	"context"
	"time"

	"github.com/lorawan-server/udp-forwarder/internal/models"
)

// Store defines the storage interface
type Store interface {
	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	GatewayID *string
	Server    *string
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}

func (f EventLogFilters) match(e *models.EventLog) bool {
	switch {
	case f.GatewayID != nil && e.GatewayID != *f.GatewayID:
		return false
	case f.Server != nil && e.Server != *f.Server:
		return false
	case f.Type != nil && e.Type != *f.Type:
		return false
	case f.Level != nil && e.Level != *f.Level:
		return false
	case f.StartTime != nil && e.CreatedAt.Before(*f.StartTime):
		return false
	case f.EndTime != nil && e.CreatedAt.After(*f.EndTime):
		return false
	}
	return true
}

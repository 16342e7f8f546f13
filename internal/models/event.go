package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	GatewayID string `json:"gatewayId" db:"gateway_id"`
	Server    string `json:"server,omitempty" db:"server"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Code        string     `json:"code" db:"code"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Server events
	EventTypeServerUp   EventType = "SERVER_UP"
	EventTypeServerDown EventType = "SERVER_DOWN"

	// Frame events
	EventTypeDownlink   EventType = "DOWNLINK"
	EventTypeUplinkDrop EventType = "UPLINK_DROP"
	EventTypeStatsDrop  EventType = "STATS_DROP"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)

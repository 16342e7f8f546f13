package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/udp-forwarder/internal/models"
)

const eventLogColumns = "id, created_at, gateway_id, server, type, level, code, description, details"

// CreateEventLog creates an event log entry
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	prepareEventLog(event)

	query := `
		INSERT INTO event_logs (` + eventLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.GatewayID, event.Server,
		event.Type, event.Level, event.Code, event.Description, event.Details,
	)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// ListEventLogs lists event logs with filters, newest first
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	where, args := eventLogWhere(filters)

	// Get count
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event_logs"+where, args...).Scan(&count)
	if err != nil {
		return nil, 0, fmt.Errorf("count event logs: %w", err)
	}

	// Get rows
	selectQuery := fmt.Sprintf("SELECT %s FROM event_logs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		eventLogColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list event logs: %w", err)
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		event := &models.EventLog{}
		err := rows.Scan(
			&event.ID, &event.CreatedAt, &event.GatewayID, &event.Server,
			&event.Type, &event.Level, &event.Code, &event.Description, &event.Details,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan event log: %w", err)
		}
		events = append(events, event)
	}

	return events, count, rows.Err()
}

// eventLogWhere builds the WHERE clause and its positional arguments.
func eventLogWhere(filters EventLogFilters) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filters.GatewayID != nil {
		add("gateway_id = $%d", *filters.GatewayID)
	}
	if filters.Server != nil {
		add("server = $%d", *filters.Server)
	}
	if filters.Type != nil {
		add("type = $%d", *filters.Type)
	}
	if filters.Level != nil {
		add("level = $%d", *filters.Level)
	}
	if filters.StartTime != nil {
		add("created_at >= $%d", *filters.StartTime)
	}
	if filters.EndTime != nil {
		add("created_at <= $%d", *filters.EndTime)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func prepareEventLog(event *models.EventLog) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Level == "" {
		event.Level = models.EventLevelInfo
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-forwarder/internal/models"
	"github.com/lorawan-server/udp-forwarder/internal/storage"
)

const maxEventLimit = 1000

// HandleHealth health check handler
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"gatewayId": s.gatewayID,
		"time":      time.Now(),
	})
}

// HandleListServers lists the UDP servers and their counters
func (s *RESTServer) HandleListServers(w http.ResponseWriter, r *http.Request) {
	servers := s.status.Status()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"servers": servers,
		"total":   len(servers),
	})
}

// HandleListEvents lists event logs
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, offset, err := parsePagination(q.Get("limit"), q.Get("offset"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	filters := storage.EventLogFilters{}

	// Parse filters
	if server := q.Get("server"); server != "" {
		filters.Server = &server
	}

	if eventType := q.Get("type"); eventType != "" {
		modelEventType := models.EventType(eventType)
		filters.Type = &modelEventType
	}

	if level := q.Get("level"); level != "" {
		modelEventLevel := models.EventLevel(level)
		filters.Level = &modelEventLevel
	}

	if start := q.Get("start"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start time")
			return
		}
		filters.StartTime = &t
	}

	if end := q.Get("end"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end time")
			return
		}
		filters.EndTime = &t
	}

	events, total, err := s.store.ListEventLogs(r.Context(), filters, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list event logs")
		s.respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*models.EventLog{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// ========== Helper functions ==========

// parsePagination parses limit and offset, defaulting to 20 and 0
func parsePagination(limitStr, offsetStr string) (int, int, error) {
	limit, offset := 20, 0

	if limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil || v <= 0 {
			return 0, 0, errInvalidParam("limit")
		}
		limit = v
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	if offsetStr != "" {
		v, err := strconv.Atoi(offsetStr)
		if err != nil || v < 0 {
			return 0, 0, errInvalidParam("offset")
		}
		offset = v
	}

	return limit, offset, nil
}

type errInvalidParam string

func (e errInvalidParam) Error() string {
	return "invalid " + string(e)
}

package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/stdcap/app/eventlog"
	"github.com/umputun/stdcap/app/host"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 1000
)

// APIStatusResponse represents the status API response
type APIStatusResponse struct {
	Status    host.Status `json:"status"`
	Uptime    string      `json:"uptime,omitempty"`
	Hostname  string      `json:"hostname,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIEventsResponse represents the events API response
type APIEventsResponse struct {
	Events []eventlog.Event `json:"events"`
	Total  int              `json:"total"`
}

// handleAPIStatus returns worker status as JSON
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.status.Status()
	if s.hideOutput {
		st.Output = ""
	}
	resp := APIStatusResponse{Status: st, Hostname: s.hostname, Timestamp: time.Now()}
	if up := st.Uptime(); up > 0 {
		resp.Uptime = up.String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleAPIOutput returns captured worker output as plain text
func (s *Server) handleAPIOutput(w http.ResponseWriter, _ *http.Request) {
	if s.hideOutput {
		s.writeJSONError(w, http.StatusForbidden, "output is hidden")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(s.status.Status().Output)); err != nil {
		log.Printf("[DEBUG] failed to write output: %v", err)
	}
}

// handleAPIEvents returns recent events as JSON, limit param sets max number of events
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(l, maxEventsLimit)
	}

	resp := APIEventsResponse{Events: []eventlog.Event{}}
	if s.events != nil {
		events, err := s.events.List(r.Context(), limit)
		if err != nil {
			log.Printf("[WARN] failed to list events: %v", err)
			s.writeJSONError(w, http.StatusInternalServerError, "failed to list events")
			return
		}
		resp.Events = events
	}
	if s.hideOutput {
		for i := range resp.Events {
			resp.Events[i].Output = ""
		}
	}
	resp.Total = len(resp.Events)
	s.writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}

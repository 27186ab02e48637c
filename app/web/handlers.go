package web

import (
	"bytes"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/stdcap/app/host"
)

// pageData holds data for page templates
type pageData struct {
	Status     host.Status
	Uptime     time.Duration
	Hostname   string
	Version    string
	HideOutput bool
	Year       int
}

// handlePage shows failure page with 500 status if the worker failed to start, status page otherwise
func (s *Server) handlePage(w http.ResponseWriter, _ *http.Request) {
	st := s.status.Status()
	data := pageData{Status: st, Uptime: st.Uptime(), Hostname: s.hostname, Version: s.version,
		HideOutput: s.hideOutput, Year: time.Now().Year()}

	if st.State != host.StateFailed {
		s.render(w, http.StatusOK, "status.html", data)
		return
	}

	if s.hideOutput {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.render(w, http.StatusInternalServerError, "failure.html", data)
}

// render executes template into buffer first, so a template error doesn't leave partial page
func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	buf := bytes.Buffer{}
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("[WARN] failed to render template %s: %v", name, err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[DEBUG] failed to write page: %v", err)
	}
}

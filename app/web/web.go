// Package web implements the diagnostics server. It shows the failure page with the captured
// worker output when the worker failed to start and exposes status, output and events API.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/stdcap/app/eventlog"
	"github.com/umputun/stdcap/app/host"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Server represents the web server
type Server struct {
	status       StatusProvider
	events       EventLister
	templates    *template.Template
	hostname     string
	version      string
	passwordHash string
	hideOutput   bool
	apiLimiter   *limiter.Limiter
}

// StatusProvider returns worker status
type StatusProvider interface {
	Status() host.Status
}

// EventLister returns recent host events
type EventLister interface {
	List(ctx context.Context, limit int) ([]eventlog.Event, error)
}

// Config holds server configuration
type Config struct {
	Hostname     string         // hostname to display on pages
	Version      string         // app version
	PasswordHash string         // bcrypt hash for basic auth (empty to disable)
	HideOutput   bool           // don't show captured output on failure page
	APIRateLimit float64        // api requests per second per client, 0 disables
	Status       StatusProvider // required
	Events       EventLister    // optional
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Status == nil {
		return nil, errors.New("web server initialization failed: status provider is required")
	}

	templates, err := template.New("").Funcs(template.FuncMap{
		"fmtTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format(time.RFC3339)
		},
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: failed to parse HTML templates: %w", err)
	}

	s := &Server{
		status:       cfg.Status,
		events:       cfg.Events,
		templates:    templates,
		hostname:     cfg.Hostname,
		version:      cfg.Version,
		passwordHash: cfg.PasswordHash,
		hideOutput:   cfg.HideOutput,
	}
	if cfg.APIRateLimit > 0 {
		s.apiLimiter = tollbooth.NewLimiter(cfg.APIRateLimit, nil)
		s.apiLimiter.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	}
	return s, nil
}

// Run starts the web server, blocks until ctx canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("stdcap", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	if s.passwordHash != "" {
		log.Printf("[INFO] authentication enabled for web server")
		router.Use(s.authMiddleware)
	}

	// worker page, any path not matched by api
	router.HandleFunc("GET /", s.handlePage)

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		if s.apiLimiter != nil {
			api.Use(tollbooth.HTTPMiddleware(s.apiLimiter))
		}
		api.HandleFunc("GET /status", s.handleAPIStatus)
		api.HandleFunc("GET /output", s.handleAPIOutput)
		api.HandleFunc("GET /events", s.handleAPIEvents)
	})

	return router
}

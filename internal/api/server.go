package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/monitor"
	"github.com/JakeFAU/pagewatch/internal/trigger"
	"github.com/JakeFAU/pagewatch/internal/worker"
)

// Config controls server behavior.
type Config struct {
	// RequestTimeout bounds every route except the process route.
	RequestTimeout time.Duration
	// RunBudget bounds a scan executed by the process route.
	RunBudget time.Duration
	// APIKey enables key auth on /v1 routes when non-empty.
	APIKey string
}

// Deps are the collaborators used by the handlers. Runner and Trigger are
// optional; their routes answer 503 when unset.
type Deps struct {
	Store   monitor.Store
	Relay   monitor.Relay
	Runner  worker.Runner
	Trigger trigger.Firer
	IDs     monitor.IDGenerator
	Clock   monitor.Clock
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the scan pipeline and store.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		// Scans run for up to the run budget, longer than RequestTimeout.
		r.Post("/scans/process", s.processScan)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
			r.Post("/scans", s.startScan)
			r.Post("/cron", s.cron)
			r.With(corsMiddleware).Get("/report", s.getReport)
			r.With(corsMiddleware).Get("/urls", s.getURLs)
			r.Put("/urls", s.updateURLs)
			r.Post("/urls", s.updateURLs)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.deps.Store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("store not ready", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// errInvalidURLs is returned for a body whose urls field is missing, null or
// not an array of strings.
var errInvalidURLs = errors.New("Invalid `urls` array") //nolint:staticcheck // client-facing message

type urlsBody struct {
	URLs json.RawMessage `json:"urls"`
}

func decodeURLs(r *http.Request) ([]string, error) {
	var body urlsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, errInvalidURLs
	}
	if len(body.URLs) == 0 || string(body.URLs) == "null" {
		return nil, errInvalidURLs
	}
	var urls []string
	if err := json.Unmarshal(body.URLs, &urls); err != nil {
		return nil, errInvalidURLs
	}
	if urls == nil {
		urls = []string{}
	}
	return urls, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// ABOUTME: HTTP boundary exposing engine operations as JSON endpoints under /api
// ABOUTME: Routes with chi, maps domain errors to status codes and serves prometheus metrics

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/agentstate/internal/dedupe"
	"github.com/2389/agentstate/internal/engine"
	"github.com/2389/agentstate/internal/events"
	"github.com/2389/agentstate/internal/mcp"
)

// idempotencyMaxKeys bounds the number of remembered Idempotency-Key values.
const idempotencyMaxKeys = 10000

// Config holds server settings.
type Config struct {
	Addr           string
	Version        string
	MetricsEnabled bool
	MetricsPath    string
	// IdempotencyTTL is how long an Idempotency-Key is remembered. Zero disables the check.
	IdempotencyTTL time.Duration
}

// Server serves the engine over HTTP.
type Server struct {
	engine     *engine.Engine
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	events     *events.Broadcaster
	seen       *dedupe.Cache
	mcp        *mcp.Server
}

// NewServer creates a server for eng and subscribes it to the backend's commits.
// A nil logger uses slog.Default().
func NewServer(eng *engine.Engine, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	s := &Server{
		engine: eng,
		cfg:    cfg,
		logger: logger.With("component", "api"),
		events: events.NewBroadcaster(logger),
	}
	if cfg.IdempotencyTTL > 0 {
		s.seen = dedupe.New(cfg.IdempotencyTTL, idempotencyMaxKeys)
	}
	eng.Backend().OnCommit(s.events.Hook())

	mcpServer, err := mcp.NewServer(eng, mcp.Config{Version: cfg.Version, Logger: logger})
	if err != nil {
		s.logger.Warn("MCP endpoint disabled", "error", err)
	} else {
		s.mcp = mcpServer
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.corsMiddleware)
	router.Use(s.logRequests)

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/notes", s.handleListNotes)
		r.Get("/decisions", s.handleListDecisions)
		r.Get("/errors", s.handleListErrors)
		r.Get("/history", s.handleHistory)
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.idempotent)

			r.Post("/plan", s.handleCreatePlan)
			r.Route("/phase", func(r chi.Router) {
				r.Post("/start", s.handleStartPhase)
				r.Post("/complete", s.handleCompletePhase)
				r.Post("/fail", s.handleFailPhase)
			})
			r.Post("/note", s.handleAddNote)
			r.Post("/decision", s.handleAddDecision)
			r.Post("/error", s.handleLogError)
			r.Post("/rollback", s.handleRollback)
			r.Delete("/clear", s.handleClear)
		})
	})

	if s.mcp != nil {
		router.Handle("/mcp", s.mcp)
	}

	if s.cfg.MetricsEnabled {
		router.Handle(s.cfg.MetricsPath, promhttp.Handler())
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.sendJSONError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("serving HTTP API", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down HTTP API")
		// Event streams never go idle on their own.
		s.Close()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		s.Close()
		return fmt.Errorf("serving HTTP: %w", err)
	}
}

// Close ends open event streams and stops background work. It does not close the
// engine's backend.
func (s *Server) Close() {
	s.events.Close()
	if s.seen != nil {
		s.seen.Close()
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Idempotency-Key, Mcp-Session-Id, Mcp-Protocol-Version")
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// idempotent rejects a repeated write carrying the same Idempotency-Key within the
// TTL. A key whose request failed is released so the client can retry it.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if s.seen == nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		scoped := r.Method + " " + r.URL.Path + " " + key
		if s.seen.CheckAndMark(scoped) {
			s.logger.Debug("duplicate request", "path", r.URL.Path, "key", key)
			s.sendJSONError(w, http.StatusConflict, "duplicate request")
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if ww.Status() >= http.StatusBadRequest {
			s.seen.Forget(scoped)
		}
	})
}

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/relwiz/internal/adapter"
	"github.com/mattjoyce/relwiz/internal/auth"
	"github.com/mattjoyce/relwiz/internal/engine"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

// ReleaseEngine is the slice of the engine the API drives.
type ReleaseEngine interface {
	CreateRelease(ctx context.Context, req engine.CreateReleaseRequest) (*release.Release, error)
	StartRelease(ctx context.Context, releaseID string) error
	PauseRelease(ctx context.Context, releaseID string) error
	CancelRelease(ctx context.Context, releaseID string) error
	DeleteRelease(ctx context.Context, releaseID string) error
	RestartBlock(ctx context.Context, blockExecutionID string, overrides map[string]string) error
	PauseBlock(ctx context.Context, blockExecutionID string) error
	CancelBlock(ctx context.Context, blockExecutionID string) error
	SubmitUserInput(ctx context.Context, inputID, value, submittedBy string) error

	GetRelease(ctx context.Context, id string) (*release.Release, error)
	ListReleases(ctx context.Context, req release.ListRequest) ([]release.Release, int, error)
	GetBlockExecution(ctx context.Context, id string) (*release.BlockExecution, error)
	GetBlockLogs(ctx context.Context, blockExecutionID string, req release.LogRequest) ([]release.ExecutionLog, int, error)
	PendingInputs(ctx context.Context, releaseID string) ([]release.UserInput, error)
	GetInput(ctx context.Context, id string) (*release.UserInput, error)
	Statistics(ctx context.Context, projectID string, req release.StatisticsRequest) (*release.Statistics, error)
	Active() int
}

// EventStream opens filtered subscriptions on the event bus.
type EventStream interface {
	Subscribe(ctx context.Context, f events.Filter, c events.Cursor) (<-chan events.Event, error)
	SubscribeRelease(ctx context.Context, releaseID string, c events.Cursor) (<-chan events.Event, error)
	SubscribeBlock(ctx context.Context, releaseID, blockExecutionID string, c events.Cursor) (<-chan events.Event, error)
	StreamLogs(ctx context.Context, releaseID, blockExecutionID string, c events.Cursor) (<-chan events.Event, error)
}

// ProjectCatalog looks up loaded projects.
type ProjectCatalog interface {
	Get(id string) (*project.Project, bool)
	List() []*project.Project
}

// ConnectionTester checks credentials against one external system.
type ConnectionTester interface {
	TestConnection(ctx context.Context) (adapter.Info, error)
}

// Config holds API server configuration
type Config struct {
	Listen      string
	Tokens      []auth.TokenConfig
	CORSOrigins []string
	// KeepAlive is the SSE comment interval; zero means 15s.
	KeepAlive time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config      Config
	engine      ReleaseEngine
	stream      EventStream
	catalog     ProjectCatalog
	connections map[project.ConnectionType]ConnectionTester
	logger      *slog.Logger
	server      *http.Server
	startedAt   time.Time
}

// New creates a new API server instance. connections may be nil or sparse;
// testing an unconfigured connection type reports 404.
func New(config Config, eng ReleaseEngine, stream EventStream, catalog ProjectCatalog, connections map[project.ConnectionType]ConnectionTester, logger *slog.Logger) *Server {
	if config.KeepAlive <= 0 {
		config.KeepAlive = 15 * time.Second
	}
	if connections == nil {
		connections = map[project.ConnectionType]ConnectionTester{}
	}
	return &Server{
		config:      config,
		engine:      eng,
		stream:      stream,
		catalog:     catalog,
		connections: connections,
		logger:      logger.With("component", "api"),
		startedAt:   time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams stay open for the life of a release, so no WriteTimeout.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	if len(s.config.CORSOrigins) > 0 {
		r.Use(s.corsMiddleware)
	}

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		read := r.With(s.requireScopes(auth.ScopeRead))
		write := r.With(s.requireScopes(auth.ScopeWrite))

		read.Get("/events", s.handleEvents)

		read.Get("/projects", s.handleListProjects)
		read.Get("/projects/{id}", s.handleGetProject)
		read.Post("/projects/{id}/validate", s.handleValidateProject)
		read.Get("/projects/{id}/statistics", s.handleProjectStatistics)

		write.Post("/releases", s.handleCreateRelease)
		read.Get("/releases", s.handleListReleases)
		read.Get("/releases/{id}", s.handleGetRelease)
		write.Delete("/releases/{id}", s.handleDeleteRelease)
		write.Post("/releases/{id}/start", s.handleReleaseOp(s.engine.StartRelease))
		write.Post("/releases/{id}/pause", s.handleReleaseOp(s.engine.PauseRelease))
		write.Post("/releases/{id}/cancel", s.handleReleaseOp(s.engine.CancelRelease))
		read.Get("/releases/{id}/inputs", s.handlePendingInputs)
		read.Get("/releases/{id}/events", s.handleReleaseEvents)
		read.Get("/releases/{id}/ws", s.handleReleaseWS)

		write.Post("/blocks/{id}/restart", s.handleRestartBlock)
		write.Post("/blocks/{id}/pause", s.handleBlockOp(s.engine.PauseBlock))
		write.Post("/blocks/{id}/cancel", s.handleBlockOp(s.engine.CancelBlock))
		read.Get("/blocks/{id}/logs", s.handleBlockLogs)
		read.Get("/blocks/{id}/events", s.handleBlockEvents)
		read.Get("/blocks/{id}/logs/stream", s.handleBlockLogStream)

		write.Post("/inputs/{id}", s.handleSubmitInput)

		write.Post("/connections/{type}/test", s.handleTestConnection)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.config.CORSOrigins))
	for _, o := range s.config.CORSOrigins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Last-Event-ID")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/relwiz/internal/adapter"
	"github.com/mattjoyce/relwiz/internal/engine"
	"github.com/mattjoyce/relwiz/internal/release"
)

// Server represents the webhook HTTP server.
type Server struct {
	config  Config
	inputs  InputSubmitter
	updater MessageUpdater
	logger  *slog.Logger
	server  *http.Server
	now     func() time.Time
}

// New creates a new webhook server instance. updater may be nil, in which
// case answered approval messages are left as posted.
func New(config Config, inputs InputSubmitter, updater MessageUpdater, logger *slog.Logger) *Server {
	if config.Slack.MaxBodySize == 0 {
		config.Slack.MaxBodySize = DefaultMaxBodySize
	}
	if config.Slack.MaxSkew == 0 {
		config.Slack.MaxSkew = DefaultMaxSkew
	}
	return &Server{
		config:  config,
		inputs:  inputs,
		updater: updater,
		logger:  logger.With("component", "webhook"),
		now:     time.Now,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "slack_path", s.config.Slack.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post(s.config.Slack.Path, s.handleSlackAction)
	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleSlackAction receives Slack interactivity callbacks and answers the
// user inputs named by approval buttons.
func (s *Server) handleSlackAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ep := s.config.Slack

	body, err := io.ReadAll(io.LimitReader(r.Body, ep.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > ep.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	err = verifySlackSignature(body,
		r.Header.Get("X-Slack-Request-Timestamp"),
		r.Header.Get("X-Slack-Signature"),
		ep.SigningSecret, s.now(), ep.MaxSkew)
	if err != nil {
		s.logger.Warn("slack signature verification failed", "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil || form.Get("payload") == "" {
		s.respondError(w, http.StatusBadRequest, "missing payload")
		return
	}
	var in interaction
	if err := json.Unmarshal([]byte(form.Get("payload")), &in); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if in.Type != "block_actions" {
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, action := range in.Actions {
		if !strings.HasPrefix(action.ActionID, adapter.ApprovalActionID) {
			continue
		}
		inputID, value, ok := strings.Cut(action.Value, "|")
		if !ok || inputID == "" {
			s.logger.Warn("malformed approval action", "action_id", action.ActionID)
			continue
		}

		who := in.submitter()
		err := s.inputs.SubmitUserInput(ctx, inputID, value, who)
		switch {
		case err == nil:
			s.logger.Info("input answered from slack", "input_id", inputID, "value", value, "by", who)
			s.markAnswered(ctx, in, fmt.Sprintf("*%s* by %s", value, who))
		case errors.Is(err, engine.ErrInputAlreadySubmitted),
			errors.Is(err, engine.ErrInputNotPending),
			errors.Is(err, release.ErrNotFound):
			s.logger.Info("stale slack approval", "input_id", inputID, "error", err)
			s.respondJSON(w, http.StatusOK, map[string]string{
				"response_type": "ephemeral",
				"text":          "This request has already been answered or closed.",
			})
			return
		case errors.Is(err, engine.ErrInvalidInput):
			s.respondJSON(w, http.StatusOK, map[string]string{
				"response_type": "ephemeral",
				"text":          err.Error(),
			})
			return
		default:
			s.logger.Error("failed to submit slack input", "input_id", inputID, "error", err)
			s.respondError(w, http.StatusInternalServerError, "failed to submit input")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// markAnswered appends the decision to the approval message.
func (s *Server) markAnswered(ctx context.Context, in interaction, decision string) {
	if s.updater == nil {
		return
	}
	channel := in.Container.ChannelID
	if channel == "" {
		channel = in.Channel.ID
	}
	ts := in.Container.MessageTS
	if ts == "" {
		ts = in.Message.TS
	}
	if channel == "" || ts == "" {
		return
	}
	text := decision
	if in.Message.Text != "" {
		text = in.Message.Text + "\n" + decision
	}
	if _, err := s.updater.UpdateMessage(ctx, channel, ts, text); err != nil {
		s.logger.Warn("failed to update slack approval message", "channel", channel, "ts", ts, "error", err)
	}
}

// respondJSON writes a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{Error: message})
}

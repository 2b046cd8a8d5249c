package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/relwiz/internal/engine"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		ActiveReleases: s.engine.Active(),
		ProjectsLoaded: len(s.catalog.List()),
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects := s.catalog.List()
	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		out = append(out, ProjectSummary{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Version:     p.Version,
			Fingerprint: p.Fingerprint,
			Blocks:      len(p.Graph.Blocks),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, maskProject(p))
}

// handleValidateProject checks the project graph and, when a body carries
// parameter values, those values too. Problems are reported with 200.
func (s *Server) handleValidateProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	var req ValidateProjectRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}

	res := project.ValidateProject(p)
	if req.ParameterValues != nil {
		params := project.ValidateParameters(p, req.ParameterValues)
		res.Errors = append(res.Errors, params.Errors...)
		res.Valid = res.Valid && params.Valid
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleProjectStatistics(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	req := release.StatisticsRequest{GroupBy: q.Get("group_by")}
	var err error
	if req.From, err = parseTimeParam(q, "from"); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.To, err = parseTimeParam(q, "to"); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.GroupBy {
	case "", "day", "week", "month":
	default:
		s.writeError(w, http.StatusBadRequest, "group_by must be day, week or month")
		return
	}

	stats, err := s.engine.Statistics(r.Context(), p.ID, req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	var req CreateReleaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		s.writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	rel, err := s.engine.CreateRelease(r.Context(), engine.CreateReleaseRequest{
		ProjectID:       req.ProjectID,
		Name:            req.Name,
		Description:     req.Description,
		ParameterValues: req.ParameterValues,
		StartedBy:       actor(r, req.StartedBy),
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if req.Start {
		if err := s.engine.StartRelease(r.Context(), rel.ID); err != nil {
			s.writeEngineError(w, err)
			return
		}
	}

	rel, err = s.engine.GetRelease(r.Context(), rel.ID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.Header().Set("Location", "/releases/"+rel.ID)
	respondJSON(w, http.StatusCreated, rel)
}

func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := paging(q, 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := release.ListRequest{
		ProjectID: q.Get("project_id"),
		Status:    release.Status(strings.ToUpper(q.Get("status"))),
		Search:    q.Get("search"),
		Limit:     limit,
		Offset:    offset,
		SortBy:    q.Get("sort_by"),
		Order:     q.Get("order"),
	}

	rels, total, err := s.engine.ListReleases(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if rels == nil {
		rels = []release.Release{}
	}
	respondJSON(w, http.StatusOK, ListReleasesResponse{Releases: rels, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	rel, err := s.engine.GetRelease(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rel)
}

func (s *Server) handleDeleteRelease(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRelease(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReleaseOp runs a release lifecycle command and returns the release.
func (s *Server) handleReleaseOp(op func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := op(r.Context(), id); err != nil {
			s.writeEngineError(w, err)
			return
		}
		rel, err := s.engine.GetRelease(r.Context(), id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rel)
	}
}

func (s *Server) handlePendingInputs(w http.ResponseWriter, r *http.Request) {
	inputs, err := s.engine.PendingInputs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if inputs == nil {
		inputs = []release.UserInput{}
	}
	respondJSON(w, http.StatusOK, inputs)
}

func (s *Server) handleRestartBlock(w http.ResponseWriter, r *http.Request) {
	var req RestartBlockRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.engine.RestartBlock(r.Context(), id, req.Overrides); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.respondBlock(w, r, id)
}

// handleBlockOp runs a block command and returns the block execution.
func (s *Server) handleBlockOp(op func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := op(r.Context(), id); err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.respondBlock(w, r, id)
	}
}

func (s *Server) respondBlock(w http.ResponseWriter, r *http.Request, id string) {
	be, err := s.engine.GetBlockExecution(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, be)
}

func (s *Server) handleBlockLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := paging(q, 100)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := release.LogRequest{
		Level:  release.LogLevel(strings.ToUpper(q.Get("level"))),
		Source: q.Get("source"),
		Limit:  limit,
		Offset: offset,
	}
	switch req.Level {
	case "", release.LevelDebug, release.LevelInfo, release.LevelWarning, release.LevelError:
	default:
		s.writeError(w, http.StatusBadRequest, "level must be DEBUG, INFO, WARNING or ERROR")
		return
	}
	if req.From, err = parseTimeParam(q, "from"); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.To, err = parseTimeParam(q, "to"); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, total, err := s.engine.GetBlockLogs(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if logs == nil {
		logs = []release.ExecutionLog{}
	}
	respondJSON(w, http.StatusOK, LogsResponse{Logs: logs, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleSubmitInput(w http.ResponseWriter, r *http.Request) {
	var req SubmitInputRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.engine.SubmitUserInput(r.Context(), id, req.Value, actor(r, req.SubmittedBy)); err != nil {
		s.writeEngineError(w, err)
		return
	}
	in, err := s.engine.GetInput(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, in)
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	typ := project.ConnectionType(strings.ToUpper(chi.URLParam(r, "type")))
	tester, ok := s.connections[typ]
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("connection %s is not configured", typ))
		return
	}

	start := time.Now()
	info, err := tester.TestConnection(r.Context())
	resp := TestConnectionResponse{
		Type:       typ,
		Success:    err == nil,
		DurationMS: time.Since(start).Milliseconds(),
		CheckedAt:  start.UTC(),
	}
	if err != nil {
		s.logger.Warn("connection test failed", "type", typ, "error", err)
		resp.Message = err.Error()
	} else {
		resp.Info = &info
		resp.Message = "connected as " + info.Identity
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) project(w http.ResponseWriter, r *http.Request) (*project.Project, bool) {
	id := chi.URLParam(r, "id")
	p, ok := s.catalog.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("project %s not found", id))
	}
	return p, ok
}

// maskProject hides the defaults of SECRET project parameters.
func maskProject(p *project.Project) *project.Project {
	secrets := project.SecretNames(p)
	out := *p
	out.Parameters = make([]project.ProjectParameter, len(p.Parameters))
	for i, param := range p.Parameters {
		if secrets[param.Name] && param.Default != nil {
			masked := project.SecretMask
			param.Default = &masked
		}
		out.Parameters[i] = param
	}
	return &out
}

// decode reads a required JSON body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func paging(q url.Values, defLimit int) (limit, offset int, err error) {
	limit, offset = defLimit, 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > 1000 {
			return 0, 0, errors.New("limit must be between 1 and 1000")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func parseTimeParam(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}

// statusFor maps engine and store errors onto HTTP status codes.
func statusFor(err error) int {
	var vr *project.ValidationResult
	switch {
	case errors.Is(err, release.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &vr),
		errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, release.ErrInvalidSortSpec):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, engine.ErrInputAlreadySubmitted),
		errors.Is(err, engine.ErrInputNotPending),
		errors.Is(err, engine.ErrReleaseRunning),
		errors.Is(err, release.ErrInputClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	var vr *project.ValidationResult
	if errors.As(err, &vr) {
		resp.Error = "validation failed"
		resp.Details = vr.Errors
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		resp.Error = "internal error"
	}
	respondJSON(w, status, resp)
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

package api

import (
	"time"

	"github.com/mattjoyce/relwiz/internal/adapter"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error   string                    `json:"error"`
	Details []project.ValidationError `json:"details,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveReleases int    `json:"active_releases"`
	ProjectsLoaded int    `json:"projects_loaded"`
}

// ProjectSummary is one row of GET /projects.
type ProjectSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     int    `json:"version"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Blocks      int    `json:"blocks"`
}

// ValidateProjectRequest is the optional body of POST /projects/{id}/validate.
type ValidateProjectRequest struct {
	ParameterValues map[string]string `json:"parameter_values,omitempty"`
}

// CreateReleaseRequest is the body of POST /releases. Start launches the
// release right after it is stored.
type CreateReleaseRequest struct {
	ProjectID       string            `json:"project_id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	ParameterValues map[string]string `json:"parameter_values"`
	StartedBy       string            `json:"started_by,omitempty"`
	Start           bool              `json:"start,omitempty"`
}

type ListReleasesResponse struct {
	Releases []release.Release `json:"releases"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type LogsResponse struct {
	Logs   []release.ExecutionLog `json:"logs"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

// RestartBlockRequest carries manual parameter overrides, keyed by bare
// parameter name or "<blockId>.<param>".
type RestartBlockRequest struct {
	Overrides map[string]string `json:"overrides,omitempty"`
}

type SubmitInputRequest struct {
	Value       string `json:"value"`
	SubmittedBy string `json:"submitted_by,omitempty"`
}

// TestConnectionResponse reports the outcome of POST /connections/{type}/test.
type TestConnectionResponse struct {
	Type       project.ConnectionType `json:"type"`
	Success    bool                   `json:"success"`
	Message    string                 `json:"message,omitempty"`
	Info       *adapter.Info          `json:"info,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
	CheckedAt  time.Time              `json:"checked_at"`
}

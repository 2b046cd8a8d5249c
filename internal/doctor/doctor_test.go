package doctor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/relwiz/internal/config"
	"github.com/mattjoyce/relwiz/internal/project"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Tokens = []config.APIToken{{Name: "ci", Token: "secret", Scopes: []string{"releases:rw"}}}
	cfg.Archive.Retention = 30 * 24 * time.Hour
	cfg.Connections = config.ConnectionsConfig{
		Slack:    &config.SlackConnection{Token: "xoxb-test"},
		TeamCity: &config.TeamCityConnection{URL: "https://tc.example.com", Username: "u", Password: "p"},
	}
	return cfg
}

func releaseProject() *project.Project {
	return &project.Project{
		ID:   "core",
		Name: "Core",
		Parameters: []project.ProjectParameter{
			{Name: "version", Type: project.ParamString},
		},
		Graph: project.BlockGraph{
			Blocks: []project.Block{
				{
					Header:   project.Header{ID: "build", Type: project.TypeTeamCityBuild},
					TeamCity: &project.TeamCityBuildSpec{BuildConfigID: "Core_Release"},
				},
				{
					Header: project.Header{ID: "notify", Type: project.TypeContainer},
					Container: &project.ContainerSpec{Graph: project.BlockGraph{Blocks: []project.Block{{
						Header: project.Header{ID: "announce", Type: project.TypeSlackMessage},
						Slack:  &project.SlackMessageSpec{Channel: "#releases", MessageTemplate: "released"},
					}}}},
				},
			},
			Connections: []project.BlockConnection{{From: "build", To: "notify"}},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	d := New(validConfig(), project.NewCatalog(releaseProject()))
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_ConfigErrorsAreSplit(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.State.Path = ""
	cfg.Service.LogLevel = "loud"
	d := New(cfg, project.NewCatalog(releaseProject()))
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "config", "state.path")
	assertHasError(t, r, "config", "log_level")
}

func TestValidate_InvalidProject(t *testing.T) {
	t.Parallel()
	p := releaseProject()
	p.Graph.Connections = append(p.Graph.Connections, project.BlockConnection{From: "notify", To: "build"})
	d := New(validConfig(), project.NewCatalog(p))
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "projects", "projects.core")
}

func TestValidate_MissingConnection(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Connections.TeamCity = nil
	d := New(cfg, project.NewCatalog(releaseProject()))
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "connections", "teamcity")
}

func TestValidate_NestedBlocksNeedConnections(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Connections.Slack = nil
	d := New(cfg, project.NewCatalog(releaseProject()))
	r := d.Validate()
	assertHasError(t, r, "connections", "SLACK")
}

func TestValidate_ApprovalChannelNeedsSlack(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Connections.Slack = nil
	p := &project.Project{
		ID: "gate", Name: "Gate", SlackApprovalChannel: "#approvals",
		Graph: project.BlockGraph{Blocks: []project.Block{{
			Header:     project.Header{ID: "approve", Type: project.TypeUserAction},
			UserAction: &project.UserActionSpec{Instructions: "ship?", InputType: "CONFIRMATION"},
		}}},
	}
	d := New(cfg, project.NewCatalog(p))
	r := d.Validate()
	assertHasError(t, r, "connections", "approval channel")
	assertHasWarning(t, r, "webhooks", "listener is disabled")
}

func TestValidate_WebhookListenConflict(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Webhooks = config.WebhooksConfig{
		Enabled: true,
		Listen:  cfg.API.Listen,
		Slack:   &config.SlackWebhookConfig{Path: "/slack/actions", SigningSecret: "s"},
	}
	d := New(cfg, project.NewCatalog(releaseProject()))
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "webhooks", "conflicts")
}

func TestValidate_Warnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Connections.GitHub = &config.GitHubConnection{Token: "ghp"}
	cfg.Tokens = append(cfg.Tokens,
		config.APIToken{Name: "ci", Token: "other", Scopes: []string{"*"}},
		config.APIToken{Token: "anon", Scopes: []string{"releases:ro"}},
	)
	cfg.Engine.PollInterval = 100 * time.Millisecond
	cfg.Archive.Backend = "none"

	d := New(cfg, project.NewCatalog(releaseProject()))
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("warnings must not invalidate, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "unused", "GITHUB")
	for _, w := range r.Warnings {
		if w.Category == "unused" && strings.Contains(w.Message, "MAVEN") {
			t.Errorf("unconfigured maven connection reported as unused: %v", w)
		}
	}
	assertHasWarning(t, r, "tokens", "wildcard")
	assertHasWarning(t, r, "tokens", "also used by tokens[0]")
	assertHasWarning(t, r, "tokens", "unnamed")
	assertHasWarning(t, r, "engine", "very short")
	assertHasWarning(t, r, "archive", "not kept")
}

func TestValidate_NoProjects(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Connections = config.ConnectionsConfig{}
	r := New(cfg, nil).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "projects", "no projects")
}

func TestProbe(t *testing.T) {
	t.Parallel()
	d := New(validConfig(), project.NewCatalog(releaseProject()))
	r := d.Validate()

	d.Probe(context.Background(), r, time.Second,
		Check{Category: "storage", Name: "sqlite", Run: func(context.Context) (string, error) { return "ok", nil }},
		Check{Category: "connections", Name: "TEAMCITY", Run: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}},
	)
	if r.Valid {
		t.Fatal("a failed check must invalidate the result")
	}
	if len(r.Checks) != 2 || !r.Checks[0].OK || r.Checks[1].OK {
		t.Fatalf("checks = %+v", r.Checks)
	}
	assertHasError(t, r, "connections", "TEAMCITY check failed")
}

func TestProbe_Timeout(t *testing.T) {
	t.Parallel()
	d := New(validConfig(), nil)
	r := &Result{Valid: true}
	start := time.Now()
	d.Probe(context.Background(), r, 20*time.Millisecond, Check{Category: "archive", Name: "minio",
		Run: func(ctx context.Context) (string, error) {
			select {
			case <-ctx.Done():
				return "", errors.New("bucket unreachable")
			case <-time.After(5 * time.Second):
				return "late", nil
			}
		}})
	if time.Since(start) > 2*time.Second {
		t.Fatal("probe did not honour its timeout")
	}
	if r.Checks[0].Detail != "bucket unreachable" {
		t.Fatalf("detail = %q", r.Checks[0].Detail)
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "config", Message: "state.path is required"}},
		Warnings: []Issue{{Category: "archive", Field: "archive.backend", Message: "no archive backend"}},
		Checks:   []Probe{{Category: "storage", Name: "sqlite", OK: true, Detail: "ok"}},
	}
	out := FormatHuman(r)
	for _, want := range []string{
		"Configuration invalid (1 error(s), 1 warning(s))",
		"ERROR [config] state.path is required",
		"WARN  [archive] archive.backend: no archive backend",
		"ok   storage",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if got := FormatHuman(&Result{Valid: true}); got != "Configuration valid.\n" {
		t.Errorf("FormatHuman(valid) = %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true, Warnings: []Issue{{Category: "unused", Message: "m"}}})
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if !strings.Contains(out, `"valid": true`) || !strings.Contains(out, `"category": "unused"`) {
		t.Errorf("unexpected JSON: %s", out)
	}
}

func assertHasError(t *testing.T, r *Result, category, substr string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && (strings.Contains(e.Message, substr) || strings.Contains(e.Field, substr)) {
			return
		}
	}
	t.Errorf("expected error in category %q containing %q, got: %v", category, substr, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substr string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && (strings.Contains(w.Message, substr) || strings.Contains(w.Field, substr)) {
			return
		}
	}
	t.Errorf("expected warning in category %q containing %q, got: %v", category, substr, r.Warnings)
}

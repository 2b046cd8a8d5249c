// Package doctor checks a relwiz installation: configuration, project
// definitions and the live reachability of storage, archive and connections.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/relwiz/internal/config"
	"github.com/mattjoyce/relwiz/internal/project"
)

// Result holds the outcome of a doctor run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
	Checks   []Probe `json:"checks,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Probe records one live check.
type Probe struct {
	Category   string `json:"category"`
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Detail     string `json:"detail,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Check is a live dependency check run by Probe.
type Check struct {
	Category string
	Name     string
	Run      func(ctx context.Context) (string, error)
}

// Doctor validates configuration against the loaded project catalog.
type Doctor struct {
	cfg     *config.Config
	catalog *project.Catalog
}

// New creates a Doctor from a loaded config and project catalog.
func New(cfg *config.Config, catalog *project.Catalog) *Doctor {
	if catalog == nil {
		catalog = project.NewCatalog()
	}
	return &Doctor{cfg: cfg, catalog: catalog}
}

// Validate runs all static checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validateProjects(r)
	d.validateProjectConnections(r)
	d.validateWebhooks(r)
	d.warnUnusedConnections(r)
	d.warnTokenScopes(r)
	d.warnEngineTiming(r)
	d.warnArchive(r)

	r.Valid = len(r.Errors) == 0
	return r
}

// Probe runs live checks with a per-check timeout and records them on r.
// A failed check is an error.
func (d *Doctor) Probe(ctx context.Context, r *Result, timeout time.Duration, checks ...Check) {
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		detail, err := c.Run(cctx)
		cancel()

		p := Probe{Category: c.Category, Name: c.Name, OK: err == nil, Detail: detail,
			DurationMS: time.Since(start).Milliseconds()}
		if err != nil {
			p.Detail = err.Error()
			d.addError(r, c.Category, c.Name, fmt.Sprintf("%s check failed: %v", c.Name, err))
		}
		r.Checks = append(r.Checks, p)
	}
	r.Valid = len(r.Errors) == 0
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConfig reports every problem config.Validate finds.
func (d *Doctor) validateConfig(r *Result) {
	err := config.Validate(d.cfg)
	if err == nil {
		return
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			d.addError(r, "config", "", e.Error())
		}
		return
	}
	d.addError(r, "config", "", err.Error())
}

func (d *Doctor) validateProjects(r *Result) {
	if len(d.catalog.List()) == 0 {
		d.addWarning(r, "projects", "projects", "no projects loaded")
		return
	}
	for _, p := range d.catalog.List() {
		res := project.ValidateProject(p)
		for _, e := range res.Errors {
			d.addError(r, "projects", fmt.Sprintf("projects.%s.%s", p.ID, e.Field), e.Message)
		}
		if _, err := project.BuildPlan(p); err != nil && res.Valid {
			d.addError(r, "projects", "projects."+p.ID, fmt.Sprintf("cannot build plan: %v", err))
		}
	}
}

// validateProjectConnections checks that every external system a project
// calls has credentials configured.
func (d *Doctor) validateProjectConnections(r *Result) {
	configured := d.configuredConnections()
	for _, p := range d.catalog.List() {
		for _, ct := range requiredConnections(p) {
			if !configured[ct] {
				d.addError(r, "connections", "projects."+p.ID,
					fmt.Sprintf("project %q uses %s but connections.yaml has no %s section", p.ID, ct, connectionKey(ct)))
			}
		}
		if p.SlackApprovalChannel != "" && !configured[project.ConnSlack] {
			d.addError(r, "connections", "projects."+p.ID+".slack_approval_channel",
				"approval channel set but no slack connection configured")
		}
	}
}

func (d *Doctor) validateWebhooks(r *Result) {
	wh := d.cfg.Webhooks
	if !wh.Enabled {
		approvals := false
		for _, p := range d.catalog.List() {
			approvals = approvals || p.SlackApprovalChannel != ""
		}
		if approvals {
			d.addWarning(r, "webhooks", "webhooks.enabled",
				"projects post slack approvals but the webhook listener is disabled; buttons will not answer inputs")
		}
		return
	}
	if d.cfg.API.Enabled && wh.Listen == d.cfg.API.Listen {
		d.addError(r, "webhooks", "webhooks.listen",
			fmt.Sprintf("webhook listener %q conflicts with api.listen", wh.Listen))
	}
}

func (d *Doctor) warnUnusedConnections(r *Result) {
	used := make(map[project.ConnectionType]bool)
	for _, p := range d.catalog.List() {
		for _, ct := range requiredConnections(p) {
			used[ct] = true
		}
		if p.SlackApprovalChannel != "" {
			used[project.ConnSlack] = true
		}
	}
	for ct, configured := range d.configuredConnections() {
		if configured && !used[ct] {
			d.addWarning(r, "unused", "connections."+connectionKey(ct),
				fmt.Sprintf("%s connection configured but no project uses it", ct))
		}
	}
	sort.SliceStable(r.Warnings, func(i, j int) bool { return r.Warnings[i].Field < r.Warnings[j].Field })
}

func (d *Doctor) warnTokenScopes(r *Result) {
	seen := make(map[string]int)
	for i, tok := range d.cfg.Tokens {
		field := fmt.Sprintf("tokens[%d]", i)
		for _, s := range tok.Scopes {
			if s == "*" {
				d.addWarning(r, "tokens", field+".scopes", "wildcard scope grants full access; prefer releases:ro or releases:rw")
			}
		}
		if tok.Name == "" {
			d.addWarning(r, "tokens", field+".name", "unnamed token; releases started with it are attributed to \"api\"")
			continue
		}
		if prev, ok := seen[tok.Name]; ok {
			d.addWarning(r, "tokens", field+".name", fmt.Sprintf("token name %q also used by tokens[%d]", tok.Name, prev))
		}
		seen[tok.Name] = i
	}
}

func (d *Doctor) warnEngineTiming(r *Result) {
	e := d.cfg.Engine
	if e.PollInterval > 0 && e.PollInterval < time.Second {
		d.addWarning(r, "engine", "engine.poll_interval",
			fmt.Sprintf("poll interval %s is very short (< 1s); external systems may rate limit", e.PollInterval))
	}
	if e.BlockTimeout > 0 && e.BlockTimeout < e.PollInterval {
		d.addWarning(r, "engine", "engine.block_timeout", "block_timeout is shorter than poll_interval; long builds can never finish")
	}
	if e.MaxConcurrentBlocks > e.MaxInflightCalls && e.MaxInflightCalls > 0 {
		d.addWarning(r, "engine", "engine.max_concurrent_blocks", "max_concurrent_blocks exceeds max_inflight_calls; blocks will queue on the global limit")
	}
}

func (d *Doctor) warnArchive(r *Result) {
	switch strings.ToLower(d.cfg.Archive.Backend) {
	case "", "none":
		d.addWarning(r, "archive", "archive.backend", "no archive backend; deleted releases are not kept")
	case "fs", "minio":
		if d.cfg.Archive.Retention == 0 {
			d.addWarning(r, "archive", "archive.retention", "no retention set; archived releases are kept forever")
		}
	}
}

func (d *Doctor) configuredConnections() map[project.ConnectionType]bool {
	c := d.cfg.Connections
	return map[project.ConnectionType]bool{
		project.ConnSlack:        c.Slack != nil,
		project.ConnTeamCity:     c.TeamCity != nil,
		project.ConnGitHub:       c.GitHub != nil,
		project.ConnMavenCentral: c.Maven != nil,
	}
}

// requiredConnections lists the connection types a project's blocks call,
// plus any it declares, in a stable order.
func requiredConnections(p *project.Project) []project.ConnectionType {
	set := make(map[project.ConnectionType]bool)
	for _, ct := range p.Connections {
		set[ct] = true
	}
	var walk func(g project.BlockGraph)
	walk = func(g project.BlockGraph) {
		for _, b := range g.Blocks {
			if ct, ok := b.Type.Connection(); ok {
				set[ct] = true
			}
			if b.Container != nil {
				walk(b.Container.Graph)
			}
		}
	}
	walk(p.Graph)

	out := make([]project.ConnectionType, 0, len(set))
	for ct := range set {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func connectionKey(ct project.ConnectionType) string {
	switch ct {
	case project.ConnSlack:
		return "slack"
	case project.ConnTeamCity:
		return "teamcity"
	case project.ConnGitHub:
		return "github"
	case project.ConnMavenCentral:
		return "maven_central"
	}
	return strings.ToLower(string(ct))
}

// FormatHuman returns a human-readable report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}
	if len(r.Checks) > 0 {
		b.WriteString("Checks:\n")
		for _, c := range r.Checks {
			mark := "ok  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Fprintf(&b, "  %s %-12s %-24s %5dms  %s\n", mark, c.Category, c.Name, c.DurationMS, c.Detail)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

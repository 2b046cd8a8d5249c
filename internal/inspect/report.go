// Package inspect renders the history of one release: its block executions,
// the inputs it asked for and a timeline rebuilt from the event log.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

// Report is the structured JSON representation of a release report.
type Report struct {
	ReleaseID   string            `json:"release_id"`
	Name        string            `json:"name"`
	ProjectID   string            `json:"project_id"`
	Version     int               `json:"project_version"`
	Status      string            `json:"status"`
	StartedBy   string            `json:"started_by,omitempty"`
	Parameters  map[string]string `json:"parameters"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Blocks      []Block           `json:"blocks"`
	Inputs      []Input           `json:"inputs"`
	Timeline    []Entry           `json:"timeline"`
}

// Block summarizes one block execution.
type Block struct {
	Position   int               `json:"position"`
	BlockID    string            `json:"block_id"`
	Type       string            `json:"type"`
	Status     string            `json:"status"`
	Retries    string            `json:"retries"`
	Duration   string            `json:"duration,omitempty"`
	Error      string            `json:"error,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty"`
}

// Input summarizes one user input request.
type Input struct {
	ID      string `json:"id"`
	BlockID string `json:"block_id"`
	Purpose string `json:"purpose"`
	Prompt  string `json:"prompt"`
	State   string `json:"state"`
	Value   string `json:"value,omitempty"`
	By      string `json:"by,omitempty"`
}

// Entry is one line of the event timeline.
type Entry struct {
	Seq     int64         `json:"seq"`
	Offset  time.Duration `json:"offset_ns"`
	Type    string        `json:"type"`
	BlockID string        `json:"block_id,omitempty"`
	Summary string        `json:"summary"`
}

// Source is what a report is built from.
type Source struct {
	Releases *release.Store
	Events   *events.Log
	// Logs adds block.log events to the timeline.
	Logs bool
}

// BuildReport renders a terminal-friendly report for a release.
func BuildReport(ctx context.Context, src Source, releaseID string) (string, error) {
	report, err := gatherReportData(ctx, src, releaseID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Release Report\n")
	fmt.Fprintf(&out, "Release ID  : %s\n", report.ReleaseID)
	fmt.Fprintf(&out, "Name        : %s\n", report.Name)
	fmt.Fprintf(&out, "Project     : %s (v%d)\n", report.ProjectID, report.Version)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Started by  : %s\n", renderUnset(report.StartedBy, "<none>"))
	fmt.Fprintf(&out, "Created     : %s\n", report.CreatedAt.Format(time.RFC3339))
	if report.StartedAt != nil && report.CompletedAt != nil {
		fmt.Fprintf(&out, "Duration    : %s\n", report.CompletedAt.Sub(*report.StartedAt).Round(time.Second))
	}
	if len(report.Parameters) > 0 {
		fmt.Fprintf(&out, "Parameters  :\n")
		for _, k := range sortedKeys(report.Parameters) {
			fmt.Fprintf(&out, "  %s = %s\n", k, report.Parameters[k])
		}
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Blocks\n")
	for _, b := range report.Blocks {
		fmt.Fprintf(&out, "[%d] %s (%s) %s\n", b.Position, b.BlockID, b.Type, b.Status)
		fmt.Fprintf(&out, "    retries    : %s\n", b.Retries)
		if b.Duration != "" {
			fmt.Fprintf(&out, "    duration   : %s\n", b.Duration)
		}
		if b.Error != "" {
			fmt.Fprintf(&out, "    error      : %s\n", b.Error)
		}
		if len(b.Outputs) == 0 {
			fmt.Fprintf(&out, "    outputs    : <none>\n")
		} else {
			fmt.Fprintf(&out, "    outputs    :\n")
			for _, k := range sortedKeys(b.Outputs) {
				fmt.Fprintf(&out, "      %s = %s\n", k, b.Outputs[k])
			}
		}
	}

	if len(report.Inputs) > 0 {
		fmt.Fprintf(&out, "\nInputs\n")
		for _, in := range report.Inputs {
			fmt.Fprintf(&out, "  %s %s/%s %s: %q", in.ID, in.BlockID, in.Purpose, in.State, in.Prompt)
			if in.Value != "" {
				fmt.Fprintf(&out, " -> %s by %s", in.Value, renderUnset(in.By, "<unknown>"))
			}
			fmt.Fprintf(&out, "\n")
		}
	}

	fmt.Fprintf(&out, "\nTimeline\n")
	if len(report.Timeline) == 0 {
		fmt.Fprintf(&out, "  <no events>\n")
	}
	for _, e := range report.Timeline {
		fmt.Fprintf(&out, "  %8s  #%-6d %-15s %s\n", formatOffset(e.Offset), e.Seq, e.Type, e.Summary)
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, src Source, releaseID string) (string, error) {
	report, err := gatherReportData(ctx, src, releaseID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, releaseID string) (*Report, error) {
	if strings.TrimSpace(releaseID) == "" {
		return nil, fmt.Errorf("release id is required")
	}

	rel, err := src.Releases.GetRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	secrets := map[string]bool{}
	if len(rel.Plan) > 0 {
		if plan, err := project.RestorePlan(rel.Plan); err == nil {
			secrets = plan.SecretSet()
		}
	}

	report := &Report{
		ReleaseID:   rel.ID,
		Name:        rel.Name,
		ProjectID:   rel.ProjectID,
		Version:     rel.ProjectVersion,
		Status:      string(rel.Status),
		StartedBy:   rel.StartedBy,
		Parameters:  project.Mask(rel.ParameterValues, secrets),
		CreatedAt:   rel.CreatedAt,
		StartedAt:   rel.StartedAt,
		CompletedAt: rel.CompletedAt,
		Blocks:      make([]Block, 0),
		Inputs:      make([]Input, 0),
		Timeline:    make([]Entry, 0),
	}

	execs, err := src.Releases.ListBlockExecutions(ctx, releaseID)
	if err != nil {
		return nil, fmt.Errorf("load block executions: %w", err)
	}
	sort.SliceStable(execs, func(i, j int) bool { return execs[i].Position < execs[j].Position })
	blockOf := make(map[string]string, len(execs))
	for _, be := range execs {
		blockOf[be.ID] = be.BlockID
		b := Block{
			Position:   be.Position,
			BlockID:    be.BlockID,
			Type:       be.BlockType,
			Status:     string(be.Status),
			Retries:    fmt.Sprintf("%d/%d", be.RetryCount, be.MaxRetries),
			Parameters: project.Mask(be.ParameterValues, secrets),
			Outputs:    be.OutputValues,
		}
		if be.StartedAt != nil && be.CompletedAt != nil {
			b.Duration = be.CompletedAt.Sub(*be.StartedAt).Round(time.Millisecond).String()
		}
		if be.LastError != nil {
			b.Error = *be.LastError
		}
		report.Blocks = append(report.Blocks, b)
	}

	inputs, err := src.Releases.ListInputs(ctx, releaseID, false)
	if err != nil {
		return nil, fmt.Errorf("load inputs: %w", err)
	}
	for _, in := range inputs {
		item := Input{
			ID:      in.ID,
			BlockID: blockOf[in.BlockExecutionID],
			Purpose: string(in.Purpose),
			Prompt:  in.Prompt,
			State:   inputState(in),
		}
		if in.SubmittedValue != nil {
			item.Value = *in.SubmittedValue
		}
		if in.SubmittedBy != nil {
			item.By = *in.SubmittedBy
		}
		report.Inputs = append(report.Inputs, item)
	}

	if src.Events != nil {
		timeline, err := buildTimeline(ctx, src, releaseID, blockOf)
		if err != nil {
			return nil, err
		}
		report.Timeline = timeline
	}
	return report, nil
}

func buildTimeline(ctx context.Context, src Source, releaseID string, blockOf map[string]string) ([]Entry, error) {
	var (
		out   []Entry
		after int64
		first time.Time
	)
	for {
		page, err := src.Events.After(ctx, releaseID, after, 500)
		if err != nil {
			return nil, fmt.Errorf("load events: %w", err)
		}
		for _, e := range page {
			after = e.Seq
			if e.Type == events.TypeBlockLog && !src.Logs {
				continue
			}
			if first.IsZero() {
				first = e.At
			}
			out = append(out, Entry{
				Seq:     e.Seq,
				Offset:  e.At.Sub(first),
				Type:    string(e.Type),
				BlockID: blockOf[e.BlockExecutionID],
				Summary: summarize(e),
			})
		}
		if len(page) < 500 {
			return out, nil
		}
	}
}

// summarize renders the interesting part of an event payload on one line.
func summarize(e events.Event) string {
	switch e.Type {
	case events.TypeReleaseStatus:
		var st events.ReleaseStatus
		if err := e.Decode(&st); err == nil {
			return transition("release", st.Previous, st.Status)
		}
	case events.TypeBlockStatus:
		var st events.BlockStatus
		if err := e.Decode(&st); err == nil {
			s := transition(st.BlockID, st.Previous, st.Status)
			if st.RetryCount > 0 {
				s += fmt.Sprintf(" (retry %d)", st.RetryCount)
			}
			if st.Error != "" {
				s += ": " + st.Error
			}
			return s
		}
	case events.TypeBlockLog:
		var l events.LogLine
		if err := e.Decode(&l); err == nil {
			return fmt.Sprintf("%s [%s] %s", l.BlockID, l.Level, l.Message)
		}
	case events.TypeBlockOutput, events.TypeBlockMetadata:
		var v events.Values
		if err := e.Decode(&v); err == nil {
			return fmt.Sprintf("%s %s", v.BlockID, strings.Join(sortedKeys(v.Values), ","))
		}
	case events.TypeInputRequired:
		var in events.InputRequired
		if err := e.Decode(&in); err == nil {
			return fmt.Sprintf("%s asks %q (%s)", in.BlockID, in.Prompt, in.InputType)
		}
	}
	return string(e.Data)
}

func transition(who, from, to string) string {
	if from == "" {
		return fmt.Sprintf("%s -> %s", who, to)
	}
	return fmt.Sprintf("%s %s -> %s", who, from, to)
}

func inputState(in release.UserInput) string {
	switch {
	case in.SubmittedAt != nil:
		return "submitted"
	case in.CancelledAt != nil:
		return "cancelled"
	default:
		return "pending"
	}
}

func formatOffset(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("+%dms", d.Milliseconds())
	}
	return "+" + d.Round(time.Second).String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

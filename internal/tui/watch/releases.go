package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/release"
)

// ReleaseState tracks one release seen on the stream.
type ReleaseState struct {
	ID        string
	Name      string
	ProjectID string
	Status    string
	Blocks    map[string]*BlockState // by block execution id
	Loaded    bool
	StartedAt time.Time
	LastEvent time.Time
}

// BlockState tracks an individual block execution.
type BlockState struct {
	ID         string
	BlockID    string
	Position   int
	Status     string
	RetryCount int
	Error      string
	StartTime  time.Time
}

func newReleaseState(id string) *ReleaseState {
	return &ReleaseState{ID: id, Blocks: make(map[string]*BlockState)}
}

// load merges a fetched release into the tracked state.
func (r *ReleaseState) load(rel release.Release) {
	r.Name = rel.Name
	r.ProjectID = rel.ProjectID
	r.Loaded = true
	if r.Status == "" {
		r.Status = string(rel.Status)
	}
	if rel.StartedAt != nil {
		r.StartedAt = *rel.StartedAt
	}
	for _, be := range rel.BlockExecutions {
		b, ok := r.Blocks[be.ID]
		if !ok {
			b = &BlockState{ID: be.ID, Status: string(be.Status), RetryCount: be.RetryCount}
			r.Blocks[be.ID] = b
		}
		b.BlockID = be.BlockID
		b.Position = be.Position
		if be.StartedAt != nil && b.StartTime.IsZero() {
			b.StartTime = *be.StartedAt
		}
	}
}

// updateReleaseState applies an event and reports whether the release is new.
func updateReleaseState(releases map[string]*ReleaseState, e events.Event) bool {
	if e.ReleaseID == "" {
		return false
	}
	r, ok := releases[e.ReleaseID]
	if !ok {
		r = newReleaseState(e.ReleaseID)
		releases[e.ReleaseID] = r
	}
	r.LastEvent = e.At

	switch e.Type {
	case events.TypeReleaseStatus:
		var st events.ReleaseStatus
		if e.Decode(&st) == nil {
			r.Status = st.Status
			if st.Status == string(release.StatusRunning) && r.StartedAt.IsZero() {
				r.StartedAt = e.At
			}
		}
	case events.TypeBlockStatus:
		var st events.BlockStatus
		if e.Decode(&st) != nil {
			break
		}
		b, found := r.Blocks[e.BlockExecutionID]
		if !found {
			b = &BlockState{ID: e.BlockExecutionID, Position: len(r.Blocks)}
			r.Blocks[e.BlockExecutionID] = b
		}
		b.BlockID = st.BlockID
		b.Status = st.Status
		b.RetryCount = st.RetryCount
		b.Error = st.Error
		if st.Status == string(release.BlockRunning) && b.StartTime.IsZero() {
			b.StartTime = e.At
		}
	}
	return !ok
}

// counts returns finished and total block executions.
func (r *ReleaseState) counts() (done, total int) {
	for _, b := range r.Blocks {
		if release.BlockStatus(b.Status).Terminal() {
			done++
		}
	}
	return done, len(r.Blocks)
}

// activeBlocks lists blocks that are running, retrying or waiting for a person.
func (r *ReleaseState) activeBlocks() []*BlockState {
	var out []*BlockState
	for _, b := range r.Blocks {
		switch release.BlockStatus(b.Status) {
		case release.BlockRunning, release.BlockRetrying, release.BlockWaitingForInput:
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// sortedReleases returns releases with live ones first, newest activity first.
func sortedReleases(releases map[string]*ReleaseState) []*ReleaseState {
	out := make([]*ReleaseState, 0, len(releases))
	for _, r := range releases {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := release.Status(out[i].Status).Terminal(), release.Status(out[j].Status).Terminal()
		if ti != tj {
			return !ti
		}
		if !out[i].LastEvent.Equal(out[j].LastEvent) {
			return out[i].LastEvent.After(out[j].LastEvent)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func renderReleases(releases map[string]*ReleaseState, selected int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(releases) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("RELEASES"),
			theme.Dim.Render("  No release activity yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, r := range sortedReleases(releases) {
		if i >= 12 {
			lines = append(lines, theme.Dim.Render(fmt.Sprintf("  ... %d more", len(releases)-i)))
			break
		}
		lines = append(lines, renderReleaseRow(i+1, r, i == selected, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("RELEASES")}, lines...)...,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderReleaseRow(num int, r *ReleaseState, isSelected bool, theme Theme) string {
	name := r.Name
	if name == "" {
		name = shortID(r.ID)
	}
	nameStyle := lipgloss.NewStyle()
	if isSelected {
		nameStyle = nameStyle.Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))
	}

	done, total := r.counts()
	progress := theme.Progress.Render(progressBar(done, total, 12))

	elapsed := ""
	if !r.StartedAt.IsZero() {
		end := time.Now()
		if release.Status(r.Status).Terminal() && !r.LastEvent.IsZero() {
			end = r.LastEvent
		}
		elapsed = theme.Dim.Render(formatDuration(end.Sub(r.StartedAt)))
	}

	var line strings.Builder
	fmt.Fprintf(&line, " %d. %s %s %s %d/%d %s",
		num,
		nameStyle.Render(fmt.Sprintf("%-28s", truncate(name, 28))),
		theme.ForStatus(r.Status).Render(fmt.Sprintf("%-10s", r.Status)),
		progress, done, total,
		elapsed,
	)

	for _, b := range r.activeBlocks() {
		detail := ""
		if !b.StartTime.IsZero() {
			detail = time.Since(b.StartTime).Round(time.Second).String()
		}
		if b.RetryCount > 0 {
			detail += fmt.Sprintf(" retry %d", b.RetryCount)
		}
		fmt.Fprintf(&line, "\n    └─ %s %s %s",
			theme.Highlight.Render(b.BlockID),
			theme.ForStatus(b.Status).Render(b.Status),
			theme.Dim.Render(strings.TrimSpace(detail)),
		)
	}
	return line.String()
}

func progressBar(done, total, width int) string {
	if total == 0 {
		return strings.Repeat("░", width)
	}
	filled := done * width / total
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

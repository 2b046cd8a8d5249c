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

// InputState is a user input the stream announced and nobody has answered yet.
type InputState struct {
	ID               string
	ReleaseID        string
	BlockExecutionID string
	BlockID          string
	Purpose          string
	Prompt           string
	InputType        string
	Options          []string
	AskedAt          time.Time
}

// updateInputState adds inputs on input.required and drops them once their
// block leaves WAITING_FOR_INPUT or the release ends.
func updateInputState(inputs map[string]*InputState, e events.Event) {
	switch e.Type {
	case events.TypeInputRequired:
		var in events.InputRequired
		if e.Decode(&in) != nil || in.InputID == "" {
			return
		}
		inputs[in.InputID] = &InputState{
			ID:               in.InputID,
			ReleaseID:        e.ReleaseID,
			BlockExecutionID: e.BlockExecutionID,
			BlockID:          in.BlockID,
			Purpose:          in.Purpose,
			Prompt:           in.Prompt,
			InputType:        in.InputType,
			Options:          in.Options,
			AskedAt:          e.At,
		}
	case events.TypeBlockStatus:
		var st events.BlockStatus
		if e.Decode(&st) != nil || st.Status == string(release.BlockWaitingForInput) {
			return
		}
		for id, in := range inputs {
			if in.BlockExecutionID == e.BlockExecutionID {
				delete(inputs, id)
			}
		}
	case events.TypeReleaseStatus:
		if !e.Terminal() {
			return
		}
		for id, in := range inputs {
			if in.ReleaseID == e.ReleaseID {
				delete(inputs, id)
			}
		}
	}
}

func sortedInputs(inputs map[string]*InputState) []*InputState {
	out := make([]*InputState, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AskedAt.Equal(out[j].AskedAt) {
			return out[i].AskedAt.Before(out[j].AskedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func renderInputs(inputs map[string]*InputState, releases map[string]*ReleaseState, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render(fmt.Sprintf("WAITING FOR INPUT (%d)", len(inputs)))

	if len(inputs) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  Nothing to answer."),
		))
	}

	var lines []string
	for _, in := range sortedInputs(inputs) {
		name := shortID(in.ReleaseID)
		if r, ok := releases[in.ReleaseID]; ok && r.Name != "" {
			name = r.Name
		}
		kind := in.InputType
		if in.Purpose == string(release.PurposeResume) {
			kind = "RESUME"
		}
		choices := ""
		if len(in.Options) > 0 {
			choices = theme.Dim.Render(" [" + strings.Join(in.Options, "|") + "]")
		}
		lines = append(lines, fmt.Sprintf(" %s %s/%s %s %q%s",
			theme.StatusQueued.Render(formatAgo(time.Since(in.AskedAt).Round(time.Second))),
			name,
			theme.Highlight.Render(in.BlockID),
			theme.Dim.Render(kind),
			truncate(in.Prompt, 60),
			choices,
		))
		lines = append(lines, theme.Dim.Render("    relwiz input submit "+in.ID+" <value>"))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		append([]string{title}, lines...)...,
	))
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}

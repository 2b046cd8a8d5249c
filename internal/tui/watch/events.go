package watch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/relwiz/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		))
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))
	desc, status := describeEvent(e)

	typeStyle := theme.Dim
	switch e.Type {
	case events.TypeReleaseStatus, events.TypeBlockStatus:
		typeStyle = theme.ForStatus(status)
	case events.TypeInputRequired:
		typeStyle = theme.StatusWaiting
	case events.TypeBlockOutput, events.TypeBlockMetadata:
		typeStyle = theme.Highlight
	}

	return fmt.Sprintf("%s %s [%s] %s", ts,
		typeStyle.Render(fmt.Sprintf("%-15s", e.Type)),
		shortID(e.ReleaseID),
		desc,
	)
}

// describeEvent renders a one-line summary and, for status events, the new status.
func describeEvent(e events.Event) (string, string) {
	switch e.Type {
	case events.TypeReleaseStatus:
		var st events.ReleaseStatus
		if e.Decode(&st) == nil {
			return arrow(st.Previous, st.Status), st.Status
		}
	case events.TypeBlockStatus:
		var st events.BlockStatus
		if e.Decode(&st) == nil {
			desc := st.BlockID + " " + arrow(st.Previous, st.Status)
			if st.Error != "" {
				desc += ": " + truncate(st.Error, 50)
			}
			return desc, st.Status
		}
	case events.TypeBlockLog:
		var l events.LogLine
		if e.Decode(&l) == nil {
			return fmt.Sprintf("%s %s %s", l.BlockID, strings.ToLower(l.Level), truncate(l.Message, 60)), ""
		}
	case events.TypeBlockOutput, events.TypeBlockMetadata:
		var v events.Values
		if e.Decode(&v) == nil {
			keys := make([]string, 0, len(v.Values))
			for k := range v.Values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return fmt.Sprintf("%s %s", v.BlockID, strings.Join(keys, ",")), ""
		}
	case events.TypeInputRequired:
		var in events.InputRequired
		if e.Decode(&in) == nil {
			return fmt.Sprintf("%s %s %q", in.BlockID, in.Purpose, truncate(in.Prompt, 50)), ""
		}
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw, ""
}

func arrow(from, to string) string {
	if from == "" {
		return to
	}
	return from + " → " + to
}

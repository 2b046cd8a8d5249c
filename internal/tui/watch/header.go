package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState is the last /healthz answer plus the stream connection state.
type HealthState struct {
	Status         string
	UptimeSeconds  int64
	ActiveReleases int
	ProjectsLoaded int
	Connected      bool
	LastCheck      time.Time
	LastSeq        int64
}

// keepAliveGrace is how long the header tolerates a silent stream.
const keepAliveGrace = 45 * time.Second

func renderHeader(health HealthState, ticker Ticker, spinner Spinner, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	statusIcon := "✅"
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
		statusIcon = "🔌"
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render("DEGRADED")
		statusIcon = "⚠️"
	case ticker.Stale(keepAliveGrace):
		statusText = theme.StatusQueued.Render("QUIET")
		statusIcon = "⏸"
	}

	lastEventStr := "never"
	if !spinner.LastEvent().IsZero() {
		lastEventStr = formatAgo(time.Since(spinner.LastEvent()).Round(time.Second))
	}

	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" RELWIZ WATCH %s", tickerStr)

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  Active releases: %d  Projects: %d",
		statusIcon, statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.ActiveReleases,
		health.ProjectsLoaded,
	)

	activityLine := fmt.Sprintf(" Last event: %s %s  seq %d",
		lastEventStr,
		spinner.Render(theme),
		health.LastSeq,
	)

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		activityLine,
	))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

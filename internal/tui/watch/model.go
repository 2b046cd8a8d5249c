package watch

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/relwiz/internal/client"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/release"
)

const eventLogSize = 50

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client *client.Client

	width  int
	height int

	health   HealthState
	releases map[string]*ReleaseState
	inputs   map[string]*InputState
	eventLog []events.Event

	ticker  Ticker
	spinner Spinner

	theme           Theme
	selectedRelease int

	hubEvents chan events.Event
	beats     chan struct{}

	lastError string
}

// New creates a watch model talking to the relwiz API at apiURL.
func New(apiURL, apiKey string) *Model {
	return &Model{
		client:    client.New(apiURL, apiKey),
		releases:  make(map[string]*ReleaseState),
		inputs:    make(map[string]*InputState),
		eventLog:  make([]events.Event, 0, eventLogSize),
		hubEvents: make(chan events.Event, 100),
		beats:     make(chan struct{}, 1),
		ticker:    NewTicker(),
		spinner:   NewSpinner(),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, 0, m.hubEvents, m.beats),
		receiveNextEvent(m.hubEvents),
		receiveHeartbeat(m.beats),
		func() tea.Msg { return fetchHealth(m.client) },
		func() tea.Msg { return fetchActive(m.client) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selectedRelease > 0 {
				m.selectedRelease--
			}
		case "down", "j":
			if m.selectedRelease < len(m.releases)-1 {
				m.selectedRelease++
			}
		case "x":
			m.pruneFinished()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.spinner.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case heartbeatMsg:
		m.ticker.Beat()
		m.health.Connected = true
		return m, receiveHeartbeat(m.beats)

	case eventMsg:
		e := events.Event(msg)
		cmd := m.applyEvent(e)
		return m, tea.Batch(cmd, receiveNextEvent(m.hubEvents))

	case releasesMsg:
		for _, rel := range msg {
			r, ok := m.releases[rel.ID]
			if !ok {
				r = newReleaseState(rel.ID)
				r.LastEvent = rel.UpdatedAt
				m.releases[rel.ID] = r
			}
			r.load(rel)
		}

	case releaseMsg:
		if r, ok := m.releases[msg.ID]; ok {
			r.load(release.Release(msg))
		}

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.ActiveReleases = msg.ActiveReleases
		m.health.ProjectsLoaded = msg.ProjectsLoaded
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.client)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		// the pending receiveNextEvent keeps reading the shared channel
		return m, subscribeToEvents(m.client, m.health.LastSeq, m.hubEvents, m.beats)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.client)
		})
	}

	return m, nil
}

// applyEvent folds e into the model and returns a fetch for releases seen
// for the first time.
func (m *Model) applyEvent(e events.Event) tea.Cmd {
	if e.Seq > m.health.LastSeq {
		m.health.LastSeq = e.Seq
	}

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > eventLogSize {
		m.eventLog = m.eventLog[:eventLogSize]
	}

	m.spinner.OnEvent()
	m.health.Connected = true
	m.lastError = ""

	isNew := updateReleaseState(m.releases, e)
	updateInputState(m.inputs, e)
	if isNew {
		return fetchRelease(m.client, e.ReleaseID)
	}
	return nil
}

// pruneFinished drops terminal releases from the view.
func (m *Model) pruneFinished() {
	for id, r := range m.releases {
		if release.Status(r.Status).Terminal() {
			delete(m.releases, id)
		}
	}
	if m.selectedRelease >= len(m.releases) {
		m.selectedRelease = max(len(m.releases)-1, 0)
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to relwiz..."
	}

	header := renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width)
	releases := renderReleases(m.releases, m.selectedRelease, m.theme, m.width)
	inputs := renderInputs(m.inputs, m.releases, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Navigate Releases • [x] Clear finished")

	parts := []string{header, releases, inputs, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

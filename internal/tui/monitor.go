// Package tui holds the interactive terminal views behind relwiz release
// watch and relwiz config token. The system-wide view lives in tui/watch.
package tui

import (
	"context"
	"fmt"
	"net/url"
	"os/user"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/relwiz/internal/client"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/release"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	statusWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color("#C678DD"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

const maxLogLines = 500

// BlockRow is one block execution as the monitor shows it.
type BlockRow struct {
	ID         string
	BlockID    string
	BlockType  string
	Position   int
	Status     release.BlockStatus
	RetryCount int
	MaxRetries int
	Error      string
	StartTime  time.Time
	EndTime    time.Time
}

// Model follows a single release over its event stream.
type Model struct {
	client    *client.Client
	releaseID string
	operator  string

	width  int
	height int

	rel      release.Release
	blocks   map[string]*BlockRow
	order    []string
	inputs   map[string]release.UserInput // open inputs by block execution id
	logLines []string
	lastSeq  int64
	finished bool
	notice   string

	hubEvents chan events.Event

	blockTable table.Model
	viewport   viewport.Model
}

type (
	monitorEventMsg   events.Event
	monitorReleaseMsg release.Release
	monitorInputsMsg  []release.UserInput
	streamEndedMsg    struct{ err error }
	noticeMsg         string
	monitorErrMsg     error
)

// NewMonitor builds the monitor for one release.
func NewMonitor(apiURL, apiKey, releaseID string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Block", Width: 24},
			{Title: "Type", Width: 14},
			{Title: "Status", Width: 18},
			{Title: "Retries", Width: 7},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	operator := "tui"
	if u, err := user.Current(); err == nil && u.Username != "" {
		operator = "tui:" + u.Username
	}

	return &Model{
		client:     client.New(apiURL, apiKey),
		releaseID:  releaseID,
		operator:   operator,
		blocks:     make(map[string]*BlockRow),
		inputs:     make(map[string]release.UserInput),
		hubEvents:  make(chan events.Event, 100),
		blockTable: t,
		viewport:   viewport.New(80, 10),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchRelease(),
		m.fetchInputs(),
		m.subscribe(0),
		m.receiveNextEvent(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "y":
			return m, m.answerSelected("yes")
		case "n":
			return m, m.answerSelected("no")
		case "p":
			return m, m.releaseOp("pause")
		case "s":
			return m, m.releaseOp("start")
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.blockTable.SetWidth(m.width - 6)
		m.viewport.Width = m.width - 6
		m.viewport.Height = max(m.height/3, 3)

	case monitorReleaseMsg:
		m.loadRelease(release.Release(msg))
		m.updateTable()

	case monitorInputsMsg:
		m.inputs = make(map[string]release.UserInput, len(msg))
		for _, in := range msg {
			if in.Open() {
				m.inputs[in.BlockExecutionID] = in
			}
		}

	case monitorEventMsg:
		refetch := m.handleEvent(events.Event(msg))
		m.updateTable()
		cmds := []tea.Cmd{m.receiveNextEvent()}
		if refetch {
			cmds = append(cmds, m.fetchRelease())
		}
		if events.Event(msg).Type == events.TypeInputRequired {
			cmds = append(cmds, m.fetchInputs())
		}
		return m, tea.Batch(cmds...)

	case streamEndedMsg:
		if msg.err == nil {
			// the server closes release streams after the terminal status
			m.finished = true
			return m, m.fetchRelease()
		}
		m.notice = fmt.Sprintf("stream: %v, reconnecting...", msg.err)
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return m.subscribe(m.lastSeq)()
		})

	case noticeMsg:
		m.notice = string(msg)
		return m, m.fetchInputs()

	case monitorErrMsg:
		m.notice = msg.Error()
	}

	m.blockTable, cmd = m.blockTable.Update(msg)
	return m, cmd
}

func (m *Model) loadRelease(rel release.Release) {
	m.rel = rel
	for _, be := range rel.BlockExecutions {
		row, ok := m.blocks[be.ID]
		if !ok {
			row = &BlockRow{ID: be.ID}
			m.blocks[be.ID] = row
		}
		row.BlockID = be.BlockID
		row.BlockType = be.BlockType
		row.Position = be.Position
		row.Status = be.Status
		row.RetryCount = be.RetryCount
		row.MaxRetries = be.MaxRetries
		if be.LastError != nil {
			row.Error = *be.LastError
		}
		if be.StartedAt != nil {
			row.StartTime = *be.StartedAt
		}
		if be.CompletedAt != nil {
			row.EndTime = *be.CompletedAt
		}
	}
	m.sortBlocks()
}

func (m *Model) sortBlocks() {
	m.order = m.order[:0]
	for id := range m.blocks {
		m.order = append(m.order, id)
	}
	sort.Slice(m.order, func(i, j int) bool {
		return m.blocks[m.order[i]].Position < m.blocks[m.order[j]].Position
	})
}

// handleEvent folds e into the model and reports whether an unknown block
// execution appeared.
func (m *Model) handleEvent(e events.Event) bool {
	if e.Seq > m.lastSeq {
		m.lastSeq = e.Seq
	}

	switch e.Type {
	case events.TypeReleaseStatus:
		var st events.ReleaseStatus
		if e.Decode(&st) == nil {
			m.rel.Status = release.Status(st.Status)
			if st.Terminal {
				m.finished = true
			}
		}

	case events.TypeBlockStatus:
		var st events.BlockStatus
		if e.Decode(&st) != nil {
			return false
		}
		row, ok := m.blocks[e.BlockExecutionID]
		if !ok {
			row = &BlockRow{ID: e.BlockExecutionID, BlockID: st.BlockID, Position: len(m.blocks)}
			m.blocks[e.BlockExecutionID] = row
			m.sortBlocks()
		}
		row.Status = release.BlockStatus(st.Status)
		row.RetryCount = st.RetryCount
		row.Error = st.Error
		switch {
		case row.Status == release.BlockRunning && row.StartTime.IsZero():
			row.StartTime = e.At
		case row.Status.Terminal():
			row.EndTime = e.At
		}
		if row.Status != release.BlockWaitingForInput {
			delete(m.inputs, e.BlockExecutionID)
		}
		return !ok

	case events.TypeBlockLog:
		var l events.LogLine
		if e.Decode(&l) == nil {
			m.appendLog(fmt.Sprintf("%s %-7s %-16s %s",
				e.At.Local().Format("15:04:05"), l.Level, l.BlockID, l.Message))
		}

	case events.TypeBlockOutput:
		var v events.Values
		if e.Decode(&v) == nil {
			keys := make([]string, 0, len(v.Values))
			for k := range v.Values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			m.appendLog(fmt.Sprintf("%s OUTPUT  %-16s %s",
				e.At.Local().Format("15:04:05"), v.BlockID, strings.Join(keys, ", ")))
		}

	case events.TypeInputRequired:
		var in events.InputRequired
		if e.Decode(&in) == nil {
			m.appendLog(fmt.Sprintf("%s INPUT   %-16s %s", e.At.Local().Format("15:04:05"), in.BlockID, in.Prompt))
		}
	}
	return false
}

func (m *Model) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
	m.viewport.SetContent(strings.Join(m.logLines, "\n"))
	m.viewport.GotoBottom()
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.order))
	for _, id := range m.order {
		rows = append(rows, m.blockToRow(m.blocks[id]))
	}
	m.blockTable.SetRows(rows)
}

func (m *Model) blockToRow(b *BlockRow) table.Row {
	sym := statusQueued.Render("○")
	switch b.Status {
	case release.BlockRunning, release.BlockReady:
		sym = statusRunning.Render("◉")
	case release.BlockRetrying:
		sym = statusRunning.Render("◑")
	case release.BlockWaitingForInput:
		sym = statusWaiting.Render("?")
	case release.BlockSucceeded:
		sym = statusOK.Render("●")
	case release.BlockFailed:
		sym = statusFailed.Render("∅")
	case release.BlockCancelled:
		sym = statusQueued.Render("◌")
	}

	duration := "-"
	if !b.StartTime.IsZero() {
		end := b.EndTime
		if end.IsZero() {
			end = time.Now()
		}
		duration = end.Sub(b.StartTime).Round(time.Second).String()
	}

	retries := "-"
	if b.MaxRetries > 0 || b.RetryCount > 0 {
		retries = fmt.Sprintf("%d/%d", b.RetryCount, b.MaxRetries)
	}

	return table.Row{sym, b.BlockID, b.BlockType, string(b.Status), retries, duration}
}

// selected returns the block under the table cursor.
func (m Model) selected() *BlockRow {
	i := m.blockTable.Cursor()
	if i < 0 || i >= len(m.order) {
		return nil
	}
	return m.blocks[m.order[i]]
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	blocks := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Blocks"),
			m.blockTable.View(),
		),
	)
	logs := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Log"),
			m.viewport.View(),
		),
	)

	parts := []string{m.renderHeader(), blocks}
	if prompt := m.renderPrompt(); prompt != "" {
		parts = append(parts, prompt)
	}
	parts = append(parts, logs)
	if m.notice != "" {
		parts = append(parts, statusWaiting.Render(" "+m.notice))
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select block • [y/n] Answer • [p] Pause • [s] Start/resume"))

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	st := string(m.rel.Status)
	style := statusQueued
	switch m.rel.Status {
	case release.StatusSucceeded:
		style = statusOK
	case release.StatusRunning:
		style = statusRunning
	case release.StatusFailed:
		style = statusFailed
	case release.StatusPaused:
		style = statusWaiting
	}
	if m.finished {
		st += " (final)"
	}

	name := m.rel.Name
	if name == "" {
		name = m.releaseID
	}
	elapsed := "-"
	if m.rel.StartedAt != nil {
		end := time.Now()
		if m.rel.CompletedAt != nil {
			end = *m.rel.CompletedAt
		}
		elapsed = end.Sub(*m.rel.StartedAt).Round(time.Second).String()
	}

	w := (m.width - 4) / 3
	return borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width(w).Render("Release: "+name),
			lipgloss.NewStyle().Width(w).Render("Status: "+style.Render(st)),
			lipgloss.NewStyle().Width(w).Render("Elapsed: "+elapsed),
		),
	)
}

// renderPrompt shows the open input of the selected block, if any.
func (m Model) renderPrompt() string {
	b := m.selected()
	if b == nil {
		return ""
	}
	in, ok := m.inputs[b.ID]
	if !ok {
		return ""
	}
	hint := "answer with relwiz input submit " + in.ID + " <value>"
	if in.InputType == release.InputConfirmation {
		hint = "[y] yes • [n] no"
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(fmt.Sprintf("Waiting on %s (%s)", b.BlockID, in.Purpose)),
		" "+in.Prompt,
		statusQueued.Render(" "+hint),
	))
}

func (m Model) answerSelected(value string) tea.Cmd {
	b := m.selected()
	if b == nil {
		return nil
	}
	in, ok := m.inputs[b.ID]
	if !ok || in.InputType != release.InputConfirmation {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := m.client.SubmitInput(ctx, in.ID, value, m.operator); err != nil {
			return monitorErrMsg(err)
		}
		return noticeMsg(fmt.Sprintf("answered %s: %s", b.BlockID, value))
	}
}

func (m Model) releaseOp(op string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rel, err := m.client.ReleaseOp(ctx, m.releaseID, op)
		if err != nil {
			return monitorErrMsg(err)
		}
		return monitorReleaseMsg(*rel)
	}
}

func (m Model) subscribe(afterSeq int64) tea.Cmd {
	return func() tea.Msg {
		err := m.client.Stream(context.Background(), "/releases/"+url.PathEscape(m.releaseID)+"/events", afterSeq, m.hubEvents, nil)
		return streamEndedMsg{err: err}
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return monitorEventMsg(<-m.hubEvents)
	}
}

func (m Model) fetchRelease() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rel, err := m.client.GetRelease(ctx, m.releaseID)
		if err != nil {
			return monitorErrMsg(err)
		}
		return monitorReleaseMsg(*rel)
	}
}

func (m Model) fetchInputs() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ins, err := m.client.PendingInputs(ctx, m.releaseID)
		if err != nil {
			return monitorErrMsg(err)
		}
		return monitorInputsMsg(ins)
	}
}

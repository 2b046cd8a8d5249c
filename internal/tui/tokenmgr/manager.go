// Package tokenmgr is the scope picker behind relwiz config token.
package tokenmgr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/relwiz/internal/auth"
	"github.com/mattjoyce/relwiz/internal/config"
)

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	quitTextStyle   = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

// Scopes lists every scope a token can carry.
var Scopes = []struct {
	Scope string
	Desc  string
}{
	{auth.ScopeAll, "Full access (all scopes)"},
	{auth.ScopeRead, "Read projects, releases, logs and event streams"},
	{auth.ScopeWrite, "Create and drive releases, answer inputs, test connections (implies releases:ro)"},
}

type item struct {
	scope    string
	desc     string
	selected bool
}

func (i item) Title() string {
	check := "[ ]"
	if i.selected {
		check = "[x]"
	}
	return fmt.Sprintf("%s %s", check, i.scope)
}
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.scope }

type model struct {
	list     list.Model
	quitting bool
	done     bool
	scopes   []string
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit

		case " ":
			if i, ok := m.list.SelectedItem().(item); ok {
				i.selected = !i.selected
				m.list.SetItem(m.list.Index(), i)
			}
			return m, nil

		case "enter":
			m.done = true
			m.scopes = m.selected()
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m model) selected() []string {
	var out []string
	for _, li := range m.list.Items() {
		if it, ok := li.(item); ok && it.selected {
			out = append(out, it.scope)
		}
	}
	return out
}

func (m model) View() string {
	if m.quitting {
		return quitTextStyle.Render("Cancelled.")
	}
	if m.done {
		return quitTextStyle.Render(fmt.Sprintf("Selected scopes: %s", strings.Join(m.scopes, ", ")))
	}
	return "\n" + m.list.View()
}

// New builds the picker with preselected scopes ticked.
func New(preselected ...string) *model {
	pre := make(map[string]bool, len(preselected))
	for _, s := range preselected {
		pre[s] = true
	}

	items := make([]list.Item, 0, len(Scopes))
	for _, s := range Scopes {
		items = append(items, item{scope: s.Scope, desc: s.Desc, selected: pre[s.Scope]})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Select Scopes (Space to toggle, Enter to confirm)"
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle

	return &model{list: l}
}

// GetSelectedScopes returns the confirmed scopes, or nil if the picker was cancelled.
func (m *model) GetSelectedScopes() []string {
	if !m.done {
		return nil
	}
	return m.scopes
}

// Selected reads the confirmed scopes from the model tea.Program.Run returns.
func Selected(final tea.Model) []string {
	switch m := final.(type) {
	case model:
		return m.GetSelectedScopes()
	case *model:
		return m.GetSelectedScopes()
	}
	return nil
}

// ValidScope reports whether s is a scope the API understands.
func ValidScope(s string) bool {
	for _, known := range Scopes {
		if known.Scope == s {
			return true
		}
	}
	return false
}

// GenerateToken returns a random 32-byte token, hex encoded.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return "rw_" + hex.EncodeToString(b), nil
}

// Snippet renders a tokens.yaml fragment for one token.
func Snippet(name, token string, scopes []string) (string, error) {
	doc := struct {
		Tokens []config.APIToken `yaml:"tokens"`
	}{Tokens: []config.APIToken{{Name: name, Token: token, Scopes: scopes}}}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal token snippet: %w", err)
	}
	return string(out), nil
}

package tokenmgr

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/relwiz/internal/config"
)

func TestPickerTogglesAndConfirms(t *testing.T) {
	m := New("releases:ro")

	var tm tea.Model = *m
	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(" ")})
	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeyEnter})

	got := tm.(model)
	if !got.done {
		t.Fatal("enter should finish the picker")
	}
	scopes := Selected(tm)
	// cursor starts on "*", which the space toggled on
	if strings.Join(scopes, ",") != "*,releases:ro" {
		t.Errorf("scopes = %v, want [* releases:ro]", scopes)
	}
}

func TestPickerCancel(t *testing.T) {
	m := New()
	var tm tea.Model = *m
	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	got := tm.(model)
	if scopes := (&got).GetSelectedScopes(); scopes != nil {
		t.Errorf("cancelled picker returned %v", scopes)
	}
	if !strings.Contains(got.View(), "Cancelled") {
		t.Errorf("view = %q", got.View())
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	b, _ := GenerateToken()
	if a == b {
		t.Error("tokens should differ")
	}
	if !strings.HasPrefix(a, "rw_") || len(a) != 3+64 {
		t.Errorf("token = %q", a)
	}
}

func TestSnippetRoundTrips(t *testing.T) {
	out, err := Snippet("ci", "secret", []string{"releases:rw"})
	if err != nil {
		t.Fatalf("Snippet() error = %v", err)
	}
	var doc struct {
		Tokens []config.APIToken `yaml:"tokens"`
	}
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("snippet is not valid yaml: %v\n%s", err, out)
	}
	if len(doc.Tokens) != 1 || doc.Tokens[0].Name != "ci" || doc.Tokens[0].Scopes[0] != "releases:rw" {
		t.Errorf("tokens = %+v", doc.Tokens)
	}
}

func TestValidScope(t *testing.T) {
	for _, s := range []string{"*", "releases:ro", "releases:rw"} {
		if !ValidScope(s) {
			t.Errorf("ValidScope(%q) = false", s)
		}
	}
	if ValidScope("jobs:rw") {
		t.Error("unknown scope accepted")
	}
}

package watch

import (
	"strings"
	"time"
)

// Ticker rotates on every server keep-alive. It stops rotating when the
// stream goes quiet, which is how a wedged connection shows up.
type Ticker struct {
	frames   []string
	index    int
	lastBeat time.Time
}

func NewTicker() Ticker {
	return Ticker{
		frames:   []string{"⟲", "⟳"},
		lastBeat: time.Now(),
	}
}

func (t *Ticker) Beat() {
	t.index = (t.index + 1) % len(t.frames)
	t.lastBeat = time.Now()
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Stale reports whether no keep-alive arrived within d.
func (t Ticker) Stale(d time.Duration) bool {
	return time.Since(t.lastBeat) > d
}

// Spinner lights up on events and fades over the following ten seconds.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func NewSpinner() Spinner {
	return Spinner{}
}

func (s *Spinner) OnEvent() {
	s.dots = 5
	s.lastEvent = time.Now()
}

func (s *Spinner) Decay() {
	if s.dots == 0 {
		return
	}
	// one dot per two seconds of silence
	left := 5 - int(time.Since(s.lastEvent)/(2*time.Second))
	if left < 0 {
		left = 0
	}
	if left < s.dots {
		s.dots = left
	}
}

func (s Spinner) Render(theme Theme) string {
	var result strings.Builder
	for i := range 5 {
		if i < s.dots {
			result.WriteString(theme.TickerActive.Render("●"))
		} else {
			result.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return result.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}

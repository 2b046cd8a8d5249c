package watch

import (
	"context"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/relwiz/internal/api"
	"github.com/mattjoyce/relwiz/internal/client"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/release"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg api.HealthzResponse

type releasesMsg []release.Release

type releaseMsg release.Release

type heartbeatMsg struct{}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{ err error }
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents follows GET /events from afterSeq and feeds events into
// ch. It returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(c *client.Client, afterSeq int64, ch chan<- events.Event, beats chan<- struct{}) tea.Cmd {
	return func() tea.Msg {
		err := c.Stream(context.Background(), "/events", afterSeq, ch, func() {
			select {
			case beats <- struct{}{}:
			default:
			}
		})
		return sseDisconnectedMsg{err: err}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func receiveHeartbeat(beats <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-beats
		return heartbeatMsg{}
	}
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(c *client.Client) tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := c.Health(ctx)
	if err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}

// fetchActive seeds the view with releases that are already live.
func fetchActive(c *client.Client) tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []release.Release
	for _, st := range []release.Status{release.StatusRunning, release.StatusPaused} {
		page, err := c.ListReleases(ctx, url.Values{"status": {string(st)}, "limit": {"100"}})
		if err != nil {
			return errMsg(err)
		}
		out = append(out, page.Releases...)
	}
	return releasesMsg(out)
}

// fetchRelease loads one release the first time its events are seen.
func fetchRelease(c *client.Client, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rel, err := c.GetRelease(ctx, id)
		if err != nil {
			return errMsg(err)
		}
		return releaseMsg(*rel)
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/relwiz/internal/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second
)

type subscribeFunc func(ctx context.Context, c events.Cursor) (<-chan events.Event, error)

// handleEvents streams events of every release, optionally narrowed with
// ?type=release.status,block.status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var f events.Filter
	for _, t := range strings.Split(r.URL.Query().Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.Types = append(f.Types, events.Type(t))
		}
	}
	s.serveSSE(w, r, func(ctx context.Context, c events.Cursor) (<-chan events.Event, error) {
		return s.stream.Subscribe(ctx, f, c)
	})
}

// handleReleaseEvents streams every event of one release as SSE.
func (s *Server) handleReleaseEvents(w http.ResponseWriter, r *http.Request) {
	releaseID := chi.URLParam(r, "id")
	if _, err := s.engine.GetRelease(r.Context(), releaseID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.serveSSE(w, r, func(ctx context.Context, c events.Cursor) (<-chan events.Event, error) {
		return s.stream.SubscribeRelease(ctx, releaseID, c)
	})
}

// handleBlockEvents streams status, log, metadata and output events of one
// block execution.
func (s *Server) handleBlockEvents(w http.ResponseWriter, r *http.Request) {
	be, err := s.engine.GetBlockExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.serveSSE(w, r, func(ctx context.Context, c events.Cursor) (<-chan events.Event, error) {
		return s.stream.SubscribeBlock(ctx, be.ReleaseID, be.ID, c)
	})
}

func (s *Server) handleBlockLogStream(w http.ResponseWriter, r *http.Request) {
	be, err := s.engine.GetBlockExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.serveSSE(w, r, func(ctx context.Context, c events.Cursor) (<-chan events.Event, error) {
		return s.stream.StreamLogs(ctx, be.ReleaseID, be.ID, c)
	})
}

// serveSSE replays from the client's cursor and follows the live stream
// until the client leaves or the bus closes the subscription.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, subscribe subscribeFunc) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	cursor, err := streamCursor(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ch, err := subscribe(ctx, cursor)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(s.config.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// streamCursor reads the resume point: Last-Event-ID, then ?after=<seq>,
// then ?since=<RFC 3339>. ?from=now skips history.
func streamCursor(r *http.Request) (events.Cursor, error) {
	if seq := parseLastEventID(r.Header.Get("Last-Event-ID")); seq > 0 {
		return events.Cursor{AfterSeq: seq}, nil
	}
	q := r.URL.Query()
	if v := q.Get("after"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil || seq < 0 {
			return events.Cursor{}, fmt.Errorf("after must be a non-negative sequence number")
		}
		return events.Cursor{AfterSeq: seq}, nil
	}
	since, err := parseTimeParam(q, "since")
	if err != nil {
		return events.Cursor{}, err
	}
	return events.Cursor{Since: since, FromNow: q.Get("from") == "now"}, nil
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	// SSE framing: https://html.spec.whatwg.org/multipage/server-sent-events.html
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
	return err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Bearer auth has already run; origins are not restricted further.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleReleaseWS streams a release's events over a WebSocket, one JSON
// event per text message. The socket is closed after the terminal event.
func (s *Server) handleReleaseWS(w http.ResponseWriter, r *http.Request) {
	releaseID := chi.URLParam(r, "id")
	if _, err := s.engine.GetRelease(r.Context(), releaseID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	cursor, err := streamCursor(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The request context is not cancelled for hijacked connections.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := s.stream.SubscribeRelease(ctx, releaseID, cursor)
	if err != nil {
		s.logger.Error("ws subscribe failed", "release_id", releaseID, "error", err)
		return
	}

	// Reader goroutine: handles pongs and detects close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "release finished"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("ws write failed", "release_id", releaseID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/relwiz/internal/log"
)

// Mirror receives a copy of every published event. Implementations must not block.
type Mirror interface {
	Mirror(Event)
}

// Bus appends events to the durable log and fans them out to subscribers.
// Each subscriber reads through its own cursor, so a slow reader lags
// instead of losing events.
type Bus struct {
	log    *Log
	logger *slog.Logger

	appendMu sync.Mutex

	mu      sync.RWMutex
	ring    []Event
	start   int
	size    int
	lastSeq int64
	wake    chan struct{}
	mirrors []Mirror
}

// NewBus primes the sequence cursor from the log. capacity bounds the
// in-memory ring used for catch-up.
func NewBus(ctx context.Context, l *Log, capacity int) (*Bus, error) {
	if capacity <= 0 {
		capacity = 1024
	}
	last, err := l.LastSeq(ctx)
	if err != nil {
		return nil, err
	}
	return &Bus{
		log:     l,
		logger:  log.WithComponent("events"),
		ring:    make([]Event, capacity),
		lastSeq: last,
		wake:    make(chan struct{}),
	}, nil
}

func (b *Bus) AddMirror(m Mirror) {
	b.mu.Lock()
	b.mirrors = append(b.mirrors, m)
	b.mu.Unlock()
}

// Publish persists e and then wakes subscribers. The returned event carries its seq.
func (b *Bus) Publish(ctx context.Context, e Event) (Event, error) {
	b.appendMu.Lock()
	if err := b.log.Append(ctx, &e); err != nil {
		b.appendMu.Unlock()
		return e, err
	}

	b.mu.Lock()
	b.pushLocked(e)
	b.lastSeq = e.Seq
	close(b.wake)
	b.wake = make(chan struct{})
	mirrors := b.mirrors
	b.mu.Unlock()
	b.appendMu.Unlock()

	for _, m := range mirrors {
		m.Mirror(e)
	}
	return e, nil
}

// LastSeq is the seq of the newest published event.
func (b *Bus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeq
}

// Subscribe streams matching events after the cursor. The channel closes
// when ctx ends, or after the terminal release.status of f.ReleaseID.
func (b *Bus) Subscribe(ctx context.Context, f Filter, c Cursor) (<-chan Event, error) {
	after := c.AfterSeq
	switch {
	case c.FromNow:
		after = b.LastSeq()
	case c.Since != nil:
		seq, err := b.log.SeqBefore(ctx, *c.Since)
		if err != nil {
			return nil, err
		}
		after = seq
	}

	out := make(chan Event, 16)
	if f.ReleaseID != "" {
		last, ok, err := b.log.LatestStatus(ctx, f.ReleaseID)
		if err != nil {
			return nil, err
		}
		// Already finished and the cursor is past the end.
		if ok && last.Seq <= after && last.Terminal() {
			close(out)
			return out, nil
		}
	}
	go b.run(ctx, f, after, out)
	return out, nil
}

// SubscribeRelease streams every event of a release.
func (b *Bus) SubscribeRelease(ctx context.Context, releaseID string, c Cursor) (<-chan Event, error) {
	return b.Subscribe(ctx, Filter{ReleaseID: releaseID}, c)
}

// SubscribeBlock streams the block-level events of one execution.
func (b *Bus) SubscribeBlock(ctx context.Context, releaseID, blockExecutionID string, c Cursor) (<-chan Event, error) {
	return b.Subscribe(ctx, Filter{ReleaseID: releaseID, BlockExecutionID: blockExecutionID, Types: BlockTypes}, c)
}

// StreamLogs streams the log lines of one execution.
func (b *Bus) StreamLogs(ctx context.Context, releaseID, blockExecutionID string, c Cursor) (<-chan Event, error) {
	return b.Subscribe(ctx, Filter{ReleaseID: releaseID, BlockExecutionID: blockExecutionID, Types: []Type{TypeBlockLog}}, c)
}

const fetchBatch = 256

func (b *Bus) run(ctx context.Context, f Filter, cursor int64, out chan<- Event) {
	defer close(out)
	for {
		wake := b.waitChan()
		batch, scanned, err := b.fetch(ctx, f.ReleaseID, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("event subscriber read failed", "error", err, "release_id", f.ReleaseID)
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		for _, e := range batch {
			cursor = e.Seq
			if f.match(e) {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
			if f.ReleaseID != "" && e.ReleaseID == f.ReleaseID && e.Terminal() {
				return
			}
		}
		if len(batch) >= fetchBatch {
			continue
		}
		if scanned > cursor {
			cursor = scanned
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) waitChan() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.wake
}

// fetch serves from the ring when it still holds every event after cursor,
// and from the durable log otherwise. scanned is the highest seq inspected.
func (b *Bus) fetch(ctx context.Context, releaseID string, cursor int64) (batch []Event, scanned int64, err error) {
	b.mu.RLock()
	if cursor >= b.lastSeq {
		b.mu.RUnlock()
		return nil, cursor, nil
	}
	if b.size > 0 && cursor >= b.ring[b.start].Seq-1 {
		out := make([]Event, 0, fetchBatch)
		for i := 0; i < b.size && len(out) < fetchBatch; i++ {
			e := b.ring[(b.start+i)%len(b.ring)]
			if e.Seq <= cursor {
				continue
			}
			scanned = e.Seq
			if releaseID != "" && e.ReleaseID != releaseID {
				continue
			}
			out = append(out, e)
		}
		b.mu.RUnlock()
		return out, scanned, nil
	}
	b.mu.RUnlock()

	evs, err := b.log.After(ctx, releaseID, cursor, fetchBatch)
	if err != nil {
		return nil, cursor, fmt.Errorf("catch up from log: %w", err)
	}
	return evs, cursor, nil
}

func (b *Bus) pushLocked(e Event) {
	capacity := len(b.ring)
	if b.size < capacity {
		b.ring[(b.start+b.size)%capacity] = e
		b.size++
		return
	}
	// Overwrite oldest.
	b.ring[b.start] = e
	b.start = (b.start + 1) % capacity
}

// History reads persisted events of a release after seq.
func (b *Bus) History(ctx context.Context, releaseID string, afterSeq int64, limit int) ([]Event, error) {
	return b.log.After(ctx, releaseID, afterSeq, limit)
}

package engine

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relwiz/internal/archive"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/executor"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
	"github.com/mattjoyce/relwiz/internal/storage"
)

const waitFor = 5 * time.Second

var testConfig = Config{
	RetryBaseDelay: time.Millisecond,
	RetryMaxDelay:  5 * time.Millisecond,
}

type harness struct {
	t       *testing.T
	store   *release.Store
	bus     *events.Bus
	catalog *project.Catalog
	reg     *executor.Registry
	eng     *Engine
}

func newHarness(t *testing.T, cfg Config, projects []*project.Project, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "relwiz.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus, err := events.NewBus(ctx, events.NewLog(db), 0)
	require.NoError(t, err)

	h := &harness{
		t:       t,
		store:   release.NewStore(db),
		bus:     bus,
		catalog: project.NewCatalog(projects...),
		reg:     executor.NewRegistry(executor.Clients{}, executor.Options{PollInterval: time.Millisecond}),
	}
	quiet := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h.eng = New(h.store, h.bus, h.catalog, h.reg, cfg, append([]Option{WithLogger(quiet)}, opts...)...)
	t.Cleanup(h.eng.Close)
	return h
}

// start creates and starts a release of projectID.
func (h *harness) start(projectID string, values map[string]string) *release.Release {
	h.t.Helper()
	ctx := context.Background()
	rel, err := h.eng.CreateRelease(ctx, CreateReleaseRequest{ProjectID: projectID, ParameterValues: values, StartedBy: "tester"})
	require.NoError(h.t, err)
	require.NoError(h.t, h.eng.StartRelease(ctx, rel.ID))
	return rel
}

func (h *harness) waitRelease(id string, want release.Status) *release.Release {
	h.t.Helper()
	var last *release.Release
	require.Eventually(h.t, func() bool {
		rel, err := h.eng.GetRelease(context.Background(), id)
		if err != nil {
			return false
		}
		last = rel
		return rel.Status == want
	}, waitFor, 2*time.Millisecond, "release never reached %s", want)
	return last
}

func (h *harness) waitBlock(releaseID, blockID string, want release.BlockStatus) release.BlockExecution {
	h.t.Helper()
	var last release.BlockExecution
	require.Eventually(h.t, func() bool {
		rel, err := h.eng.GetRelease(context.Background(), releaseID)
		if err != nil {
			return false
		}
		last = blockOf(rel, blockID)
		return last.Status == want
	}, waitFor, 2*time.Millisecond, "block %s never reached %s", blockID, want)
	return last
}

func (h *harness) block(releaseID, blockID string) release.BlockExecution {
	h.t.Helper()
	rel, err := h.eng.GetRelease(context.Background(), releaseID)
	require.NoError(h.t, err)
	return blockOf(rel, blockID)
}

// statusEvents returns block.status payloads of a release in seq order.
func (h *harness) statusEvents(releaseID string) []events.BlockStatus {
	h.t.Helper()
	evs, err := h.bus.History(context.Background(), releaseID, 0, 1000)
	require.NoError(h.t, err)
	var out []events.BlockStatus
	for _, e := range evs {
		if e.Type != events.TypeBlockStatus {
			continue
		}
		var st events.BlockStatus
		require.NoError(h.t, e.Decode(&st))
		out = append(out, st)
	}
	return out
}

func blockOf(rel *release.Release, blockID string) release.BlockExecution {
	for _, be := range rel.BlockExecutions {
		if be.BlockID == blockID {
			return be
		}
	}
	return release.BlockExecution{}
}

func indexOf(evs []events.BlockStatus, blockID string, status release.BlockStatus) int {
	for i, e := range evs {
		if e.BlockID == blockID && e.Status == string(status) {
			return i
		}
	}
	return -1
}

func newProject(id string, blocks []project.Block, edges ...project.BlockConnection) *project.Project {
	return &project.Project{
		ID:      id,
		Name:    id,
		Version: 1,
		Graph:   project.BlockGraph{Blocks: blocks, Connections: edges},
	}
}

func slackBlock(id string) project.Block {
	return project.Block{
		Header: project.Header{ID: id, Name: id, Type: project.TypeSlackMessage},
		Slack:  &project.SlackMessageSpec{Channel: "#releases", MessageTemplate: "step {{version}}"},
	}
}

func buildBlock(id string, maxRetries int) project.Block {
	return project.Block{
		Header:   project.Header{ID: id, Name: id, Type: project.TypeTeamCityBuild, MaxRetries: &maxRetries},
		TeamCity: &project.TeamCityBuildSpec{BuildConfigID: "Proj_Build"},
	}
}

func approvalBlock(id string) project.Block {
	return project.Block{
		Header:     project.Header{ID: id, Name: id, Type: project.TypeUserAction},
		UserAction: &project.UserActionSpec{Instructions: "Approve {{version}}?", InputType: "CONFIRMATION"},
	}
}

func seq(from, to string) project.BlockConnection {
	return project.BlockConnection{From: from, To: to, Type: project.Sequential}
}

func par(from, to string) project.BlockConnection {
	return project.BlockConnection{From: from, To: to, Type: project.Parallel}
}

func succeed(outputs map[string]string) executor.Func {
	return func(context.Context, executor.Request) executor.Outcome {
		return executor.Success(outputs, nil)
	}
}

// gate is an executor that holds every call until opened and tracks concurrency.
type gate struct {
	mu      sync.Mutex
	open    chan struct{}
	current int
	max     int
	calls   int
}

func newGate() *gate {
	return &gate{open: make(chan struct{})}
}

func (g *gate) fn(ctx context.Context, _ executor.Request) executor.Outcome {
	g.mu.Lock()
	g.current++
	g.calls++
	if g.current > g.max {
		g.max = g.current
	}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.current--
		g.mu.Unlock()
	}()
	select {
	case <-g.open:
		return executor.Success(nil, nil)
	case <-ctx.Done():
		return executor.Retryable(ctx.Err(), nil)
	}
}

func (g *gate) running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func (g *gate) peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

type memArchive struct {
	mu      sync.Mutex
	bundles []*archive.Bundle
}

func (m *memArchive) Archive(_ context.Context, b *archive.Bundle) error {
	m.mu.Lock()
	m.bundles = append(m.bundles, b)
	m.mu.Unlock()
	return nil
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

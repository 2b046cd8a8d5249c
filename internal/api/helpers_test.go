package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relwiz/internal/adapter"
	"github.com/mattjoyce/relwiz/internal/auth"
	"github.com/mattjoyce/relwiz/internal/engine"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/executor"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
	"github.com/mattjoyce/relwiz/internal/storage"
)

const (
	rwToken  = "rw-token"
	roToken  = "ro-token"
	waitTime = 5 * time.Second
)

var testTokens = []auth.TokenConfig{
	{Name: "ci", Token: rwToken, Scopes: []string{auth.ScopeWrite}},
	{Name: "dashboard", Token: roToken, Scopes: []string{auth.ScopeRead}},
}

type testEnv struct {
	t       *testing.T
	eng     *engine.Engine
	bus     *events.Bus
	reg     *executor.Registry
	server  *Server
	handler http.Handler
}

func newTestEnv(t *testing.T, connections map[project.ConnectionType]ConnectionTester, projects ...*project.Project) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "relwiz.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus, err := events.NewBus(ctx, events.NewLog(db), 0)
	require.NoError(t, err)
	reg := executor.NewRegistry(executor.Clients{}, executor.Options{PollInterval: time.Millisecond})
	reg.Register(project.TypeSlackMessage, func(context.Context, executor.Request) executor.Outcome {
		return executor.Success(map[string]string{"message_ts": "1.1"}, nil)
	})
	catalog := project.NewCatalog(projects...)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng := engine.New(release.NewStore(db), bus, catalog, reg,
		engine.Config{RetryBaseDelay: time.Millisecond, RetryMaxDelay: time.Millisecond},
		engine.WithLogger(logger))
	t.Cleanup(eng.Close)

	srv := New(Config{Tokens: testTokens, KeepAlive: 50 * time.Millisecond}, eng, bus, catalog, connections, logger)
	return &testEnv{t: t, eng: eng, bus: bus, reg: reg, server: srv, handler: srv.Handler()}
}

// do runs one request through the router and decodes a JSON response into out.
func (e *testEnv) do(method, path, token string, body any, out any) int {
	e.t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (e *testEnv) waitRelease(id string, want release.Status) *release.Release {
	e.t.Helper()
	var last release.Release
	require.Eventually(e.t, func() bool {
		last = release.Release{}
		code := e.do(http.MethodGet, "/releases/"+id, rwToken, nil, &last)
		return code == http.StatusOK && last.Status == want
	}, waitTime, 5*time.Millisecond, "release never reached %s", want)
	return &last
}

// createStarted creates a release over HTTP and starts it.
func (e *testEnv) createStarted(projectID string, values map[string]string) *release.Release {
	e.t.Helper()
	var rel release.Release
	code := e.do(http.MethodPost, "/releases", rwToken, CreateReleaseRequest{
		ProjectID:       projectID,
		Name:            projectID + " release",
		ParameterValues: values,
		Start:           true,
	}, &rel)
	require.Equal(e.t, http.StatusCreated, code)
	return &rel
}

func (e *testEnv) pendingInput(releaseID string) release.UserInput {
	e.t.Helper()
	var inputs []release.UserInput
	require.Eventually(e.t, func() bool {
		inputs = nil
		code := e.do(http.MethodGet, "/releases/"+releaseID+"/inputs", roToken, nil, &inputs)
		return code == http.StatusOK && len(inputs) == 1
	}, waitTime, 5*time.Millisecond, "no pending input")
	return inputs[0]
}

func approvalProject() *project.Project {
	return &project.Project{
		ID:         "gate",
		Name:       "Gated release",
		Version:    2,
		Parameters: []project.ProjectParameter{{Name: "version"}},
		Graph: project.BlockGraph{
			Blocks: []project.Block{
				{
					Header:     project.Header{ID: "approve", Name: "Approve", Type: project.TypeUserAction},
					UserAction: &project.UserActionSpec{Instructions: "Ship {{version}}?", InputType: "CONFIRMATION"},
				},
				{
					Header: project.Header{ID: "announce", Name: "Announce", Type: project.TypeSlackMessage},
					Slack:  &project.SlackMessageSpec{Channel: "#releases", MessageTemplate: "{{version}} is out"},
				},
			},
			Connections: []project.BlockConnection{{From: "approve", To: "announce", Type: project.Sequential}},
		},
	}
}

type fakeTester struct {
	info adapter.Info
	err  error
}

func (f fakeTester) TestConnection(context.Context) (adapter.Info, error) {
	return f.info, f.err
}

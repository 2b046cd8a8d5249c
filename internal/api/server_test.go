package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relwiz/internal/adapter"
	"github.com/mattjoyce/relwiz/internal/engine"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

func TestHealthzNeedsNoAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, approvalProject())

	var resp HealthzResponse
	code := env.do(http.MethodGet, "/healthz", "", nil, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.ProjectsLoaded)
	assert.Zero(t, resp.ActiveReleases)
}

func TestAuthAndScopes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, approvalProject())
	body := CreateReleaseRequest{ProjectID: "gate", ParameterValues: map[string]string{"version": "1.0.0"}}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"missing token", http.MethodGet, "/releases", "", nil, http.StatusUnauthorized},
		{"unknown token", http.MethodGet, "/releases", "nope", nil, http.StatusUnauthorized},
		{"read token reads", http.MethodGet, "/releases", roToken, nil, http.StatusOK},
		{"read token cannot write", http.MethodPost, "/releases", roToken, body, http.StatusForbidden},
		{"write token implies read", http.MethodGet, "/projects", rwToken, nil, http.StatusOK},
		{"write token writes", http.MethodPost, "/releases", rwToken, body, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out ErrorResponse
			code := env.do(tt.method, tt.path, tt.token, tt.body, &out)
			assert.Equal(t, tt.want, code, out.Error)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/projects?access_token="+roToken, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "query token should authenticate GET requests")

	req = httptest.NewRequest(http.MethodPost, "/releases?access_token="+rwToken, strings.NewReader("{}"))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "query token must not authorize mutations")
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, approvalProject())

	rel := env.createStarted("gate", map[string]string{"version": "3.1.0"})
	assert.Equal(t, "gate release", rel.Name)
	assert.Equal(t, "ci", rel.StartedBy, "started_by defaults to the token name")

	env.waitRelease(rel.ID, release.StatusPaused)
	in := env.pendingInput(rel.ID)
	assert.Equal(t, "Ship 3.1.0?", in.Prompt)

	var submitted release.UserInput
	code := env.do(http.MethodPost, "/inputs/"+in.ID, rwToken, SubmitInputRequest{Value: "yes"}, &submitted)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, submitted.SubmittedBy)
	assert.Equal(t, "ci", *submitted.SubmittedBy)

	done := env.waitRelease(rel.ID, release.StatusSucceeded)
	for _, be := range done.BlockExecutions {
		assert.Equal(t, release.BlockSucceeded, be.Status, be.BlockID)
	}

	var errResp ErrorResponse
	code = env.do(http.MethodPost, "/inputs/"+in.ID, rwToken, SubmitInputRequest{Value: "yes", SubmittedBy: "bob"}, &errResp)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCreateReleaseReportsValidationDetails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, approvalProject())

	var errResp ErrorResponse
	code := env.do(http.MethodPost, "/releases", rwToken, CreateReleaseRequest{ProjectID: "gate"}, &errResp)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation failed", errResp.Error)
	require.NotEmpty(t, errResp.Details)
	assert.Equal(t, project.CodeRequired, errResp.Details[0].Code)

	code = env.do(http.MethodPost, "/releases", rwToken, CreateReleaseRequest{ProjectID: "missing"}, &errResp)
	assert.Equal(t, http.StatusNotFound, code)

	code = env.do(http.MethodPost, "/releases", rwToken, map[string]any{"project_id": "gate", "colour": "red"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code, "unknown fields are rejected")
}

func TestReleaseLifecycleEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, approvalProject())

	var created release.Release
	code := env.do(http.MethodPost, "/releases", rwToken, CreateReleaseRequest{
		ProjectID:       "gate",
		Name:            "v4",
		ParameterValues: map[string]string{"version": "4.0.0"},
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, release.StatusPending, created.Status)

	var rel release.Release
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/releases/"+created.ID+"/start", rwToken, nil, &rel))
	env.waitRelease(created.ID, release.StatusPaused)

	var errResp ErrorResponse
	code = env.do(http.MethodDelete, "/releases/"+created.ID, rwToken, nil, &errResp)
	assert.Equal(t, http.StatusConflict, code, "live releases cannot be deleted")

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/releases/"+created.ID+"/cancel", rwToken, nil, &rel))
	env.waitRelease(created.ID, release.StatusCancelled)

	code = env.do(http.MethodPost, "/releases/"+created.ID+"/start", rwToken, nil, &errResp)
	assert.Equal(t, http.StatusConflict, code)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/releases/"+created.ID, rwToken, nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/releases/"+created.ID, roToken, nil, &errResp))
}

func TestListReleasesQuery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, approvalProject())
	for _, v := range []string{"1.0.0", "1.1.0", "2.0.0"} {
		code := env.do(http.MethodPost, "/releases", rwToken, CreateReleaseRequest{
			ProjectID:       "gate",
			Name:            "release " + v,
			ParameterValues: map[string]string{"version": v},
		}, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	var page ListReleasesResponse
	code := env.do(http.MethodGet, "/releases?project_id=gate&limit=2&sort_by=name&order=asc", roToken, nil, &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Releases, 2)
	assert.Equal(t, "release 1.0.0", page.Releases[0].Name)

	code = env.do(http.MethodGet, "/releases?search=2.0", roToken, nil, &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, page.Total)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/releases?limit=0", roToken, nil, &errResp))
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/releases?sort_by=colour", roToken, nil, &errResp))
}

func TestProjectEndpoints(t *testing.T) {
	t.Parallel()
	secret := "hunter2"
	p := approvalProject()
	p.Parameters = append(p.Parameters, project.ProjectParameter{Name: "token", Type: project.ParamSecret, Default: &secret})
	env := newTestEnv(t, nil, p)

	var list []ProjectSummary
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/projects", roToken, nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "gate", list[0].ID)
	assert.Equal(t, 2, list[0].Version)
	assert.Equal(t, 2, list[0].Blocks)

	var detail project.Project
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/projects/gate", roToken, nil, &detail))
	tok, ok := detail.Parameter("token")
	require.True(t, ok)
	assert.Equal(t, project.SecretMask, *tok.Default)
	assert.Equal(t, "hunter2", *p.Parameters[1].Default, "masking must not touch the catalog copy")

	var res project.ValidationResult
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/projects/gate/validate", roToken, nil, &res))
	assert.True(t, res.Valid)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/projects/gate/validate", roToken,
		ValidateProjectRequest{ParameterValues: map[string]string{}}, &res))
	assert.False(t, res.Valid)
	assert.True(t, res.HasCode(project.CodeRequired))

	var stats release.Statistics
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/projects/gate/statistics?group_by=week", roToken, nil, &stats))
	assert.Zero(t, stats.TotalReleases)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/projects/gate/statistics?from=yesterday", roToken, nil, &errResp))
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/projects/nope", roToken, nil, &errResp))
}

func TestBlockEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, approvalProject())
	rel := env.createStarted("gate", map[string]string{"version": "5.0.0"})
	env.waitRelease(rel.ID, release.StatusPaused)

	full := env.waitRelease(rel.ID, release.StatusPaused)
	var approveID, announceID string
	for _, be := range full.BlockExecutions {
		switch be.BlockID {
		case "approve":
			approveID = be.ID
		case "announce":
			announceID = be.ID
		}
	}
	require.NotEmpty(t, approveID)

	var logs LogsResponse
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/blocks/"+approveID+"/logs", roToken, nil, &logs))
	assert.NotZero(t, logs.Total)
	assert.Equal(t, 100, logs.Limit)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/blocks/"+approveID+"/logs?level=loud", roToken, nil, &errResp))
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/blocks/nope/logs", roToken, nil, &errResp))

	var be release.BlockExecution
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/blocks/"+approveID+"/cancel", rwToken, nil, &be))
	assert.Equal(t, release.BlockCancelled, be.Status)

	code := env.do(http.MethodPost, "/blocks/"+approveID+"/restart", rwToken,
		RestartBlockRequest{Overrides: map[string]string{"colour": "red"}}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotEmpty(t, errResp.Details)
	assert.Equal(t, project.CodeUnknownParameter, errResp.Details[0].Code)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/blocks/"+approveID+"/restart", rwToken, nil, &be))
	in := env.pendingInput(rel.ID)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/inputs/"+in.ID, rwToken, SubmitInputRequest{Value: "yes", SubmittedBy: "alice"}, nil))
	env.waitRelease(rel.ID, release.StatusSucceeded)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/releases/"+rel.ID, roToken, nil, full))
	for _, b := range full.BlockExecutions {
		if b.ID == announceID {
			assert.Equal(t, release.BlockSucceeded, b.Status)
		}
	}
}

func TestConnectionTest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, map[project.ConnectionType]ConnectionTester{
		project.ConnSlack:    fakeTester{info: adapter.Info{System: "slack", Identity: "relwiz-bot"}},
		project.ConnTeamCity: fakeTester{err: &adapter.Error{System: "teamcity", Op: "test", Class: adapter.Permanent, Err: errors.New("401")}},
	})

	var resp TestConnectionResponse
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/connections/slack/test", rwToken, nil, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, project.ConnSlack, resp.Type)
	require.NotNil(t, resp.Info)
	assert.Equal(t, "relwiz-bot", resp.Info.Identity)

	resp = TestConnectionResponse{}
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/connections/TEAMCITY/test", rwToken, nil, &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "401")

	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/connections/github/test", rwToken, nil, &errResp))
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	id   int64
	typ  string
	data events.Event
}

// readSSE parses events until the body ends or n events arrive.
func readSSE(t *testing.T, sc *bufio.Scanner, n int) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			id, err := strconv.ParseInt(strings.TrimPrefix(line, "id: "), 10, 64)
			require.NoError(t, err)
			cur.id = id
		case strings.HasPrefix(line, "event: "):
			cur.typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.data))
		case line == "" && cur.id != 0:
			out = append(out, cur)
			cur = sseEvent{}
			if n > 0 && len(out) == n {
				return out
			}
		}
	}
	return out
}

func openStream(t *testing.T, ctx context.Context, url string, lastID int64) *bufio.Scanner {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+roToken)
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", fmt.Sprint(lastID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewScanner(resp.Body)
}

func TestReleaseEventStreamEndsAtTerminalStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, approvalProject())
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	rel := env.createStarted("gate", map[string]string{"version": "6.0.0"})
	in := env.pendingInput(rel.ID)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/inputs/"+in.ID, rwToken, SubmitInputRequest{Value: "yes"}, nil))
	env.waitRelease(rel.ID, release.StatusSucceeded)

	ctx, cancel := context.WithTimeout(context.Background(), waitTime)
	defer cancel()
	evs := readSSE(t, openStream(t, ctx, ts.URL+"/releases/"+rel.ID+"/events", 0), 0)
	require.NotEmpty(t, evs)
	for i := 1; i < len(evs); i++ {
		assert.Greater(t, evs[i].id, evs[i-1].id, "sequence numbers must increase")
	}
	last := evs[len(evs)-1]
	assert.Equal(t, string(events.TypeReleaseStatus), last.typ)
	assert.True(t, last.data.Terminal())
	assert.Equal(t, rel.ID, last.data.ReleaseID)

	// Resuming from the middle replays only the tail.
	mid := evs[len(evs)/2]
	tail := readSSE(t, openStream(t, ctx, ts.URL+"/releases/"+rel.ID+"/events", mid.id), 0)
	require.NotEmpty(t, tail)
	assert.Greater(t, tail[0].id, mid.id)
	assert.Equal(t, len(evs)-len(evs)/2-1, len(tail))
}

func TestGlobalEventStreamFiltersByType(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, approvalProject())
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	rel := env.createStarted("gate", map[string]string{"version": "6.1.0"})
	in := env.pendingInput(rel.ID)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/inputs/"+in.ID, rwToken, SubmitInputRequest{Value: "yes"}, nil))
	env.waitRelease(rel.ID, release.StatusSucceeded)

	ctx, cancel := context.WithTimeout(context.Background(), waitTime)
	defer cancel()
	stream := openStream(t, ctx, ts.URL+"/events?type=release.status", 0)

	// The global stream never ends on its own; read up to the terminal status.
	var got []sseEvent
	for len(got) == 0 || !got[len(got)-1].data.Terminal() {
		next := readSSE(t, stream, 1)
		require.Len(t, next, 1)
		got = append(got, next[0])
	}
	for _, ev := range got {
		assert.Equal(t, string(events.TypeReleaseStatus), ev.typ)
		assert.Equal(t, rel.ID, ev.data.ReleaseID)
	}
}

func TestBlockLogStreamFollowsLiveRelease(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, approvalProject())
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	rel := env.createStarted("gate", map[string]string{"version": "7.0.0"})
	in := env.pendingInput(rel.ID)

	ctx, cancel := context.WithTimeout(context.Background(), waitTime)
	defer cancel()
	stream := openStream(t, ctx, ts.URL+"/blocks/"+in.BlockExecutionID+"/logs/stream", 0)
	first := readSSE(t, stream, 1)
	require.Len(t, first, 1)
	assert.Equal(t, string(events.TypeBlockLog), first[0].typ)
	assert.Equal(t, in.BlockExecutionID, first[0].data.BlockExecutionID)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/inputs/"+in.ID, rwToken, SubmitInputRequest{Value: "yes"}, nil))
	rest := readSSE(t, stream, 0)
	for _, ev := range rest {
		assert.Equal(t, string(events.TypeBlockLog), ev.typ)
	}
	assert.NotEmpty(t, rest, "submission should be logged on the live stream")
}

func TestReleaseWebSocket(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, approvalProject())
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	rel := env.createStarted("gate", map[string]string{"version": "8.0.0"})
	in := env.pendingInput(rel.ID)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+roToken)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/releases/" + rel.ID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/inputs/"+in.ID, rwToken, SubmitInputRequest{Value: "yes"}, nil))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTime)))
	var terminal bool
	for !terminal {
		var ev events.Event
		err := conn.ReadJSON(&ev)
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, rel.ID, ev.ReleaseID)
		terminal = ev.Terminal()
	}
	assert.True(t, terminal, "stream closed before the terminal event")

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected a normal close, got %v", err)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	vr := project.ValidationResult{Errors: []project.ValidationError{{Field: "x", Code: project.CodeRequired}}}
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("release r1: %w", release.ErrNotFound), http.StatusNotFound},
		{vr.Err(), http.StatusBadRequest},
		{fmt.Errorf("%w: bad choice", engine.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: \"colour\"", release.ErrInvalidSortSpec), http.StatusBadRequest},
		{fmt.Errorf("start: %w", engine.ErrInvalidState), http.StatusConflict},
		{engine.ErrInputAlreadySubmitted, http.StatusConflict},
		{engine.ErrInputNotPending, http.StatusConflict},
		{engine.ErrReleaseRunning, http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

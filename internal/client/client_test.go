package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relwiz/internal/api"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

func TestCreateReleaseSendsTokenAndBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/releases", r.URL.Path)
		var req api.CreateReleaseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "core", req.ProjectID)
		assert.True(t, req.Start)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(release.Release{ID: "r1", ProjectID: req.ProjectID, Status: release.StatusRunning})
	}))
	t.Cleanup(srv.Close)

	rel, err := New(srv.URL+"/", "tok").CreateRelease(context.Background(), api.CreateReleaseRequest{
		ProjectID: "core", Name: "Core 1.0", Start: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", rel.ID)
	assert.Equal(t, release.StatusRunning, rel.Status)
}

func TestErrorsCarryValidationDetails(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{
			Error:   "validation failed",
			Details: []project.ValidationError{{Field: "version", Code: project.CodeRequired, Message: "version is required"}},
		})
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL, "tok").CreateRelease(context.Background(), api.CreateReleaseRequest{ProjectID: "core"})
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Len(t, apiErr.Details, 1)
	assert.Contains(t, err.Error(), "version is required")
	assert.False(t, IsNotFound(err))
}

func TestPlainTextErrorAndNotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := New(srv.URL, "").GetRelease(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestListReleasesEncodesQuery(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "RUNNING", r.URL.Query().Get("status"))
		assert.Equal(t, "core", r.URL.Query().Get("project_id"))
		_ = json.NewEncoder(w).Encode(api.ListReleasesResponse{Releases: []release.Release{{ID: "a"}, {ID: "b"}}, Total: 2, Limit: 50})
	}))
	t.Cleanup(srv.Close)

	out, err := New(srv.URL, "tok").ListReleases(context.Background(), url.Values{"status": {"RUNNING"}, "project_id": {"core"}})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Total)
	assert.Len(t, out.Releases, 2)
}

func TestDeleteReleaseNoContent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	require.NoError(t, New(srv.URL, "tok").DeleteRelease(context.Background(), "r1"))
}

func TestStreamParsesEventsAndHeartbeats(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.Header.Get("Last-Event-ID"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for seq := int64(8); seq <= 9; seq++ {
			ev := events.New("r1", "", events.TypeReleaseStatus, events.ReleaseStatus{Status: "RUNNING", Terminal: seq == 9})
			ev.Seq = seq
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, ev.Type, data)
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := make(chan events.Event, 4)
	beats := 0
	err := New(srv.URL, "tok").Stream(ctx, "/releases/r1/events", 7, out, func() { beats++ })
	require.NoError(t, err)
	close(out)

	var got []events.Event
	for ev := range out {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(8), got[0].Seq)
	assert.True(t, got[1].Terminal())
	assert.Equal(t, 2, beats)
}

func TestStreamRejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "unauthorized"})
	}))
	t.Cleanup(srv.Close)

	err := New(srv.URL, "bad").Stream(context.Background(), "/events", 0, make(chan events.Event, 1), nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

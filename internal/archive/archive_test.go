package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relwiz/internal/release"
)

func bundle() *Bundle {
	return &Bundle{
		Release: release.Release{ID: "r1", ProjectID: "proj", Name: "Release 1", Status: release.StatusSucceeded},
		Logs:    []release.ExecutionLog{{ID: "l1", Message: "done"}},
	}
}

func TestFSArchiveWritesBundle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, err := NewFS(dir)
	require.NoError(t, err)

	require.NoError(t, a.Archive(context.Background(), bundle()))

	data, err := os.ReadFile(filepath.Join(dir, "proj", "r1.json"))
	require.NoError(t, err)
	var got Bundle
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Release 1", got.Release.Name)
	assert.Len(t, got.Logs, 1)
	assert.False(t, got.ArchivedAt.IsZero())
}

func TestFSRejectsEscapingNames(t *testing.T) {
	t.Parallel()
	a, err := NewFS(t.TempDir())
	require.NoError(t, err)
	b := bundle()
	b.Release.ProjectID = "../outside"
	assert.Error(t, a.Archive(context.Background(), b))
}

func TestFSCleanup(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, err := NewFS(dir)
	require.NoError(t, err)
	require.NoError(t, a.Archive(context.Background(), bundle()))

	old := filepath.Join(dir, "proj", "r1.json")
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	n, err := a.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
}

func TestNewFSRejectsEmptyDir(t *testing.T) {
	t.Parallel()
	_, err := NewFS("  ")
	assert.Error(t, err)
}

func TestMinIOConfigValidate(t *testing.T) {
	t.Parallel()
	assert.Error(t, MinIOConfig{}.Validate())
	assert.NoError(t, MinIOConfig{Endpoint: "localhost:9000", Bucket: "relwiz"}.Validate())
}

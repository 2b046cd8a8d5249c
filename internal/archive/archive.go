package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/release"
)

// Bundle is everything recorded about a release at the time it is deleted.
type Bundle struct {
	Release    release.Release        `json:"release"`
	Logs       []release.ExecutionLog `json:"logs"`
	Inputs     []release.UserInput    `json:"inputs"`
	Events     []events.Event         `json:"events"`
	ArchivedAt time.Time              `json:"archived_at"`
}

// Archiver keeps a copy of a release before it is removed from the store.
type Archiver interface {
	Archive(ctx context.Context, b *Bundle) error
}

// ObjectName is the archive key of a release: <project>/<release-id>.json.
func ObjectName(b *Bundle) string {
	return path.Join(b.Release.ProjectID, b.Release.ID+".json")
}

func encode(b *Bundle) ([]byte, error) {
	if b.ArchivedAt.IsZero() {
		b.ArchivedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode archive bundle: %w", err)
	}
	return data, nil
}

// Discard drops bundles. It is used when no archive backend is configured.
type Discard struct{}

func (Discard) Archive(context.Context, *Bundle) error { return nil }

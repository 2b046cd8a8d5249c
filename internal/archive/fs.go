package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FS writes bundles as JSON files under a base directory.
type FS struct {
	baseDir string
	now     func() time.Time
}

var _ Archiver = (*FS)(nil)

func NewFS(baseDir string) (*FS, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("archive directory is empty")
	}
	return &FS{baseDir: filepath.Clean(trimmed), now: time.Now}, nil
}

// Archive writes the bundle atomically (temp file then rename).
func (a *FS) Archive(ctx context.Context, b *Bundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := a.pathFor(ObjectName(b))
	if err != nil {
		return err
	}
	data, err := encode(b)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".archive-*")
	if err != nil {
		return fmt.Errorf("create archive temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename archive: %w", err)
	}
	return nil
}

// Cleanup deletes archive files older than olderThan and returns how many went.
func (a *FS) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := a.now().Add(-olderThan)
	deleted := 0
	err := filepath.WalkDir(a.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("cleanup archive: %w", err)
	}
	return deleted, nil
}

// pathFor resolves name under baseDir and refuses anything that escapes it.
func (a *FS) pathFor(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid archive name %q", name)
	}
	full := filepath.Join(a.baseDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(a.baseDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("archive name %q escapes base directory", name)
	}
	return full, nil
}

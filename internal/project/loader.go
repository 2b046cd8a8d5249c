package project

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// Catalog is the set of projects loaded from <configDir>/projects.
type Catalog struct {
	mu       sync.RWMutex
	projects map[string]*Project
	order    []string
}

// NewCatalog builds a catalog from already-loaded projects.
func NewCatalog(projects ...*Project) *Catalog {
	c := &Catalog{projects: make(map[string]*Project)}
	for _, p := range projects {
		c.projects[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c
}

// Get returns the project with id.
func (c *Catalog) Get(id string) (*Project, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.projects[id]
	return p, ok
}

// List returns projects in load order.
func (c *Catalog) List() []*Project {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Project, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.projects[id])
	}
	return out
}

// Replace swaps the catalog contents, e.g. after a reload.
func (c *Catalog) Replace(other *Catalog) {
	other.mu.RLock()
	projects, order := other.projects, other.order
	other.mu.RUnlock()

	c.mu.Lock()
	c.projects, c.order = projects, order
	c.mu.Unlock()
}

// LoadDir reads <configDir>/projects/*.yaml in sorted order. A missing
// directory yields an empty catalog. Every project is validated.
func LoadDir(configDir string) (*Catalog, error) {
	dir := filepath.Join(configDir, "projects")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewCatalog(), nil
		}
		return nil, fmt.Errorf("read projects directory %q: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	catalog := NewCatalog()
	for _, path := range files {
		p, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if res := ValidateProject(p); !res.Valid {
			return nil, fmt.Errorf("project file %q: %w", path, res.Err())
		}
		if _, dup := catalog.projects[p.ID]; dup {
			return nil, fmt.Errorf("project file %q: duplicate project id %q", path, p.ID)
		}
		catalog.projects[p.ID] = p
		catalog.order = append(catalog.order, p.ID)
	}
	return catalog, nil
}

// LoadFile parses one project YAML file without validating its graph.
func LoadFile(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file %q: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse project file %q: %w", path, err)
	}
	if p.ID == "" {
		p.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	p.Source = path
	return p, nil
}

// Parse decodes a project document. Unknown fields are rejected.
func Parse(data []byte) (*Project, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Project
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty project document")
		}
		return nil, err
	}
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.Version == 0 {
		p.Version = 1
	}
	applyBlockDefaults(&p.Graph)

	sum := blake3.Sum256(data)
	p.Fingerprint = "blake3:" + hex.EncodeToString(sum[:])
	return &p, nil
}

func applyBlockDefaults(g *BlockGraph) {
	for i := range g.Blocks {
		b := &g.Blocks[i]
		b.ID = strings.TrimSpace(b.ID)
		if b.Name == "" {
			b.Name = b.ID
		}
		switch {
		case b.GitHubAction != nil && b.GitHubAction.Ref == "":
			b.GitHubAction.Ref = "main"
		case b.GitHubRelease != nil && b.GitHubRelease.ReleaseBranch == "":
			b.GitHubRelease.ReleaseBranch = "main"
		case b.UserAction != nil && b.UserAction.InputType == "":
			b.UserAction.InputType = "CONFIRMATION"
		case b.Container != nil:
			applyBlockDefaults(&b.Container.Graph)
		}
	}
}

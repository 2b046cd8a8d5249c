package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleProject = `
name: Library release
description: Ships the library
parameters:
  - name: version
    type: STRING
graph:
  blocks:
    - id: build
      type: teamcity_build
      timeout: 45m
      max_retries: 2
      teamcity:
        build_config_id: Lib_Release
        branch: "release/{{version}}"
    - id: approve
      type: user_action
      user_action:
        instructions: Check the staging repository
    - id: tag
      type: github_release
      github_release:
        repository: acme/lib
        tag_pattern: "v{{version}}"
      parameters:
        - name: build
          source: {kind: block_output, block: build, output: build_number}
  connections:
    - {from: build, to: approve}
    - {from: approve, to: tag, type: SEQUENTIAL}
`

func writeProject(t *testing.T, dir, name, body string) {
	t.Helper()
	projects := filepath.Join(dir, "projects")
	if err := os.MkdirAll(projects, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(projects, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadDirParsesProjects(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "lib.yaml", sampleProject)

	catalog, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	p, ok := catalog.Get("lib")
	if !ok {
		t.Fatal("project id should default to the file name")
	}
	if p.Version != 1 || !strings.HasPrefix(p.Fingerprint, "blake3:") {
		t.Fatalf("unexpected defaults: version=%d fingerprint=%q", p.Version, p.Fingerprint)
	}

	build := p.Graph.Blocks[0]
	if build.Timeout != 45*time.Minute || build.EffectiveMaxRetries(3) != 2 {
		t.Fatalf("header not decoded: %+v", build.Header)
	}
	if p.Graph.Blocks[1].UserAction.InputType != "CONFIRMATION" {
		t.Fatal("user action input type should default to CONFIRMATION")
	}
	if p.Graph.Blocks[2].GitHubRelease.ReleaseBranch != "main" {
		t.Fatal("release branch should default to main")
	}
}

func TestLoadDirRejectsInvalidGraph(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "bad.yaml", `
name: Bad
graph:
  blocks:
    - {id: a, type: slack_message, slack: {channel: "#x"}}
  connections:
    - {from: a, to: b}
`)
	if _, err := LoadDir(dir); err == nil || !strings.Contains(err.Error(), "not a block of this graph") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte("name: x\nbogus: true\ngraph: {blocks: []}\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestLoadDirMissingDirectory(t *testing.T) {
	catalog, err := LoadDir(t.TempDir())
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(catalog.List()) != 0 {
		t.Fatal("expected empty catalog")
	}
}

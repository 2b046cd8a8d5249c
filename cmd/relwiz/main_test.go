package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/relwiz/internal/api"
	"github.com/mattjoyce/relwiz/internal/config"
	"github.com/mattjoyce/relwiz/internal/lock"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	outCh := make(chan []byte)
	errCh := make(chan []byte)
	go func() { b, _ := io.ReadAll(stdoutR); outCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); errCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes := <-outCh
	stderrBytes := <-errCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

const demoProject = `
name: Demo
parameters:
  - name: version
    type: STRING
graph:
  blocks:
    - id: prepare
      type: user_action
      user_action:
        instructions: "Prepare {{version}}"
    - id: approve
      type: user_action
      user_action:
        instructions: Approve the release
  connections:
    - {from: prepare, to: approve}
`

// writeConfigDir creates a minimal config directory with the API disabled
// and one project. It returns the directory and the sqlite path.
func writeConfigDir(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "relwiz.db")

	configYAML := `
service:
  log_level: info
state:
  driver: sqlite
  path: ` + dbPath + `
api:
  enabled: false
archive:
  backend: none
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "projects"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "projects", "demo.yaml"), []byte(demoProject), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, dbPath
}

func TestRunCLIRootVersionFlag(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef", "2026-03-01T10:00:00Z")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"--version"})
	})
	if code != 0 {
		t.Fatalf("runCLI(--version) code = %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"relwiz 1.2.3", "commit: 0123456789ab", "built_at: 2026-03-01T10:00:00Z"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("version output missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunVersionJSONOutputIncludesMetadata(t *testing.T) {
	setVersionMetadataForTest(t, "2.0.0", "abc123", "2026-03-01T12:30:00+02:00")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "--json"})
	})
	if code != 0 {
		t.Fatalf("runCLI(version --json) code = %d, stderr: %s", code, stderr)
	}

	var got versionInfo
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if got.Version != "2.0.0" || got.Commit != "abc123" {
		t.Errorf("version info = %+v", got)
	}
	if got.BuildTime != "2026-03-01T10:30:00Z" {
		t.Errorf("build time = %q, want UTC-normalized", got.BuildTime)
	}
}

func TestRunNounActionHelp(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"system", "help"}, "Actions: start, status, doctor, watch"},
		{[]string{"system", "doctor", "--help"}, "Usage: relwiz system doctor"},
		{[]string{"config", "--help"}, "Actions: check, lock, token"},
		{[]string{"config", "token", "-h"}, "Usage: relwiz config token"},
		{[]string{"project", "help"}, "Actions: list, validate, plan"},
		{[]string{"release", "help"}, "Actions: create, list, show"},
		{[]string{"block", "help"}, "Actions: restart, pause, cancel, logs"},
		{[]string{"input", "-h"}, "Actions: list, submit"},
	}
	for _, tc := range cases {
		code, stdout, stderr := captureOutputWithExitCode(t, func() int { return runCLI(tc.args) })
		if code != 0 {
			t.Errorf("runCLI(%v) code = %d, stderr: %s", tc.args, code, stderr)
			continue
		}
		if !strings.Contains(stdout, tc.want) {
			t.Errorf("runCLI(%v) output missing %q:\n%s", tc.args, tc.want, stdout)
		}
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return runCLI([]string{"deploy"}) })
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: deploy") {
		t.Errorf("stderr = %q", stderr)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int { return runCLI([]string{"release", "promote"}) })
	if code != 1 || !strings.Contains(stderr, "Unknown release action: promote") {
		t.Errorf("code = %d stderr = %q", code, stderr)
	}
}

func TestPrintUsageUsesActionTerminology(t *testing.T) {
	_, stdout, _ := captureOutputWithExitCode(t, func() int {
		printUsage()
		return 0
	})
	for _, want := range []string{"relwiz <noun> <action>", "Resources (Nouns):", "block logs <id>", "RELWIZ_API_KEY"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("usage missing %q", want)
		}
	}
}

func TestSplitFlagsAndPositionals(t *testing.T) {
	flags, pos := splitFlagsAndPositionals(
		[]string{"demo", "--name", "R1", "--start", "--set=version=1.0", "extra"},
		withValueFlags("name", "set"),
	)
	if strings.Join(flags, " ") != "--name R1 --start --set=version=1.0" {
		t.Errorf("flags = %v", flags)
	}
	if strings.Join(pos, " ") != "demo extra" {
		t.Errorf("positionals = %v", pos)
	}
}

func TestKeyValuesFlag(t *testing.T) {
	kv := keyValues{}
	if err := kv.Set("version=1.2=rc"); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set("build.notes="); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set("novalue"); err == nil {
		t.Error("expected error for missing '='")
	}
	if kv["version"] != "1.2=rc" || kv["build.notes"] != "" {
		t.Errorf("values = %v", kv)
	}
	if kv.String() != "build.notes=,version=1.2=rc" {
		t.Errorf("String() = %q", kv.String())
	}
}

func TestLoadValuesFileKeepsExplicitFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	if err := os.WriteFile(path, []byte("version: 1.10\ndry_run: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	kv := keyValues{"dry_run": "false"}
	if err := loadValuesFile(path, kv); err != nil {
		t.Fatal(err)
	}
	if kv["version"] != "1.10" {
		t.Errorf("version = %q, want the literal scalar 1.10", kv["version"])
	}
	if kv["dry_run"] != "false" {
		t.Errorf("dry_run = %q, flag value should win", kv["dry_run"])
	}

	if err := os.WriteFile(path, []byte("list: [a, b]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := loadValuesFile(path, keyValues{}); err == nil {
		t.Error("expected error for non-scalar value")
	}
}

func TestEngineConfigMapsZeroRetries(t *testing.T) {
	c := engineConfig(config.EngineConfig{DefaultMaxRetries: 0, MaxConcurrentBlocks: 2})
	if c.DefaultMaxRetries != -1 {
		t.Errorf("zero retries should map to -1, got %d", c.DefaultMaxRetries)
	}
	if c.MaxConcurrentBlocks != 2 {
		t.Errorf("MaxConcurrentBlocks = %d", c.MaxConcurrentBlocks)
	}
	if c := engineConfig(config.EngineConfig{DefaultMaxRetries: 5}); c.DefaultMaxRetries != 5 {
		t.Errorf("DefaultMaxRetries = %d, want 5", c.DefaultMaxRetries)
	}
}

func TestGetPIDLockPath(t *testing.T) {
	cfg := &config.Config{State: config.StateConfig{Driver: "sqlite", Path: "/var/lib/relwiz/state.db"}}
	if got := getPIDLockPath(cfg); got != "/var/lib/relwiz/state.pid" {
		t.Errorf("sqlite lock path = %q", got)
	}

	cfg = &config.Config{Dir: "/etc/relwiz", State: config.StateConfig{Driver: "postgres", DSN: "postgres://x"}}
	if got := getPIDLockPath(cfg); got != "/etc/relwiz/relwiz.pid" {
		t.Errorf("postgres lock path = %q", got)
	}

	cfg.Service.PIDFile = "/run/relwiz.pid"
	if got := getPIDLockPath(cfg); got != "/run/relwiz.pid" {
		t.Errorf("pid_file override = %q", got)
	}
}

func TestBuildConnectionsLeavesUnconfiguredNil(t *testing.T) {
	cfg := config.Defaults()
	cfg.Connections.GitHub = &config.GitHubConnection{Token: "ghp_x"}

	conns := buildConnections(cfg)
	clients := conns.clients()
	if clients.GitHub == nil {
		t.Error("github client should be set")
	}
	if clients.Slack != nil || clients.TeamCity != nil || clients.Maven != nil {
		t.Errorf("unconfigured clients must be nil interfaces: %+v", clients)
	}

	testers := conns.testers()
	if len(testers) != 1 {
		t.Fatalf("testers = %d, want 1", len(testers))
	}
	if _, ok := testers[project.ConnGitHub]; !ok {
		t.Error("github tester missing")
	}
}

func TestParseConnectionType(t *testing.T) {
	for in, want := range map[string]project.ConnectionType{
		"slack":    project.ConnSlack,
		"TeamCity": project.ConnTeamCity,
		"maven":    project.ConnMavenCentral,
	} {
		got, ok := parseConnectionType(in)
		if !ok || got != want {
			t.Errorf("parseConnectionType(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := parseConnectionType("jenkins"); ok {
		t.Error("jenkins should be unknown")
	}
}

func TestRunProjectListValidateAndPlan(t *testing.T) {
	dir, _ := writeConfigDir(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"project", "list", "--config", dir})
	})
	if code != 0 {
		t.Fatalf("project list code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "demo") || !strings.Contains(stdout, "Demo") {
		t.Errorf("project list output:\n%s", stdout)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"project", "validate", "demo", "--config", dir})
	})
	if code != 1 {
		t.Fatalf("validate without version should fail, code = %d", code)
	}
	if !strings.Contains(stdout, "parameter_values.version") {
		t.Errorf("validate output should name the missing parameter:\n%s", stdout)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"project", "validate", "demo", "--set", "version=1.0", "--config", dir})
	})
	if code != 0 {
		t.Fatalf("validate code = %d, stdout: %s stderr: %s", code, stdout, stderr)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"project", "plan", "demo", "--config", dir})
	})
	if code != 0 {
		t.Fatalf("plan code = %d, stderr: %s", code, stderr)
	}
	prepare := strings.Index(stdout, "prepare")
	approve := strings.Index(stdout, "approve")
	if prepare < 0 || approve < 0 || prepare > approve {
		t.Errorf("plan should list prepare before approve:\n%s", stdout)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"project", "plan", "missing", "--config", dir})
	})
	if code != 1 || !strings.Contains(stderr, "Unknown project: missing") {
		t.Errorf("code = %d stderr = %q", code, stderr)
	}
}

func TestRunConfigLockThenCheck(t *testing.T) {
	dir, _ := writeConfigDir(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", dir, "--dry-run", "-v"})
	})
	if code != 0 {
		t.Fatalf("lock --dry-run code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "DRY-RUN") {
		t.Errorf("dry run output:\n%s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, ".checksums")); !os.IsNotExist(err) {
		t.Fatalf("dry run must not write .checksums (stat err = %v)", err)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", dir})
	})
	if code != 0 {
		t.Fatalf("lock code = %d, stderr: %s", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, ".checksums")); err != nil {
		t.Fatalf(".checksums not written: %v", err)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", dir, "--json"})
	})
	if code != 0 {
		t.Fatalf("check code = %d, stdout: %s stderr: %s", code, stdout, stderr)
	}
	var result struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil || !result.Valid {
		t.Errorf("check output = %s (err %v)", stdout, err)
	}
}

func TestRunConfigTokenWithScopes(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "token", "--name", "ci", "--scopes", "releases:ro, releases:rw,releases:ro"})
	})
	if code != 0 {
		t.Fatalf("token code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stderr, "tokens.yaml") {
		t.Errorf("stderr should explain where the snippet goes: %q", stderr)
	}

	var doc struct {
		Tokens []config.APIToken `yaml:"tokens"`
	}
	if err := yaml.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("snippet is not YAML: %v\n%s", err, stdout)
	}
	if len(doc.Tokens) != 1 {
		t.Fatalf("tokens = %d", len(doc.Tokens))
	}
	tok := doc.Tokens[0]
	if tok.Name != "ci" || !strings.HasPrefix(tok.Token, "rw_") {
		t.Errorf("token = %+v", tok)
	}
	if strings.Join(tok.Scopes, ",") != "releases:ro,releases:rw" {
		t.Errorf("scopes = %v, want deduplicated", tok.Scopes)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "token", "--name", "ci", "--scopes", "admin"})
	})
	if code != 1 || !strings.Contains(stderr, `unknown scope "admin"`) {
		t.Errorf("code = %d stderr = %q", code, stderr)
	}
}

func TestRunSystemStatusJSONHealthy(t *testing.T) {
	dir, _ := writeConfigDir(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"system", "status", "--config", dir, "--json"})
	})
	if code != 0 {
		t.Fatalf("status code = %d, stdout: %s stderr: %s", code, stdout, stderr)
	}

	var report statusReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("failed to parse JSON status output: %v\noutput=%s", err, stdout)
	}
	if !report.Healthy {
		t.Fatalf("expected healthy=true; output=%s", stdout)
	}
	if len(report.Checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(report.Checks))
	}
}

func TestRunSystemStatusConfigLoadFailure(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("invalid: [yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--config", dir})
	})
	if code == 0 {
		t.Fatalf("status should fail for invalid config; stdout=%s", stdout)
	}
	for _, want := range []string{"config_load: FAIL", "state_db: FAIL", "pid_lock: FAIL"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected %q in output; stdout=%s", want, stdout)
		}
	}
}

func TestRunSystemStatusDetectsActivePIDLock(t *testing.T) {
	dir, dbPath := writeConfigDir(t)

	cfg, _, err := loadConfig(dir)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got, want := getPIDLockPath(cfg), strings.TrimSuffix(dbPath, ".db")+".pid"; got != want {
		t.Fatalf("lock path = %q, want %q", got, want)
	}

	held, err := lock.AcquirePIDLock(getPIDLockPath(cfg))
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	defer held.Release()

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--config", dir, "--json"})
	})
	if code == 0 {
		t.Fatalf("status should fail while the lock is held; stderr=%s stdout=%s", stderr, stdout)
	}

	var report statusReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	for _, c := range report.Checks {
		if c.Name == "pid_lock" {
			if c.OK || !strings.Contains(c.Detail, strconv.Itoa(os.Getpid())) {
				t.Errorf("pid_lock check = %+v", c)
			}
			return
		}
	}
	t.Fatal("pid_lock check missing")
}

// fakeAPI serves the handful of endpoints the release and input commands use.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	errMsg := "TeamCity unreachable"
	rel := release.Release{
		ID: "rel-1", ProjectID: "demo", ProjectVersion: 1, Name: "R1", Status: release.StatusRunning,
		CreatedAt: now, UpdatedAt: now,
		BlockExecutions: []release.BlockExecution{
			{ID: "be-2", BlockID: "approve", BlockType: "user_action", Position: 2, Status: release.BlockWaiting},
			{ID: "be-1", BlockID: "prepare", BlockType: "user_action", Position: 1, Status: release.BlockFailed, RetryCount: 3, MaxRetries: 3, LastError: &errMsg},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /releases", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req api.CreateReleaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.ParameterValues["version"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{
				Error: "invalid parameter values",
				Details: []project.ValidationError{{
					Field: "parameter_values.version", Code: project.CodeRequired, Message: `parameter "version" is required`,
				}},
			})
			return
		}
		created := rel
		created.Name = req.Name
		created.Status = release.StatusPending
		created.BlockExecutions = nil
		_ = json.NewEncoder(w).Encode(created)
	})
	mux.HandleFunc("GET /releases/rel-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rel)
	})
	mux.HandleFunc("POST /inputs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "input already answered"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunReleaseCreateAndShow(t *testing.T) {
	srv := fakeAPI(t)
	t.Setenv("RELWIZ_API_URL", srv.URL)
	t.Setenv("RELWIZ_API_KEY", "secret")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"release", "create", "demo", "--name", "R9", "--set", "version=1.0"})
	})
	if code != 0 {
		t.Fatalf("create code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Created release rel-1 (R9) status=PENDING") {
		t.Errorf("create output = %q", stdout)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"release", "create", "demo", "--name", "R9"})
	})
	if code != 1 {
		t.Fatalf("create without version should fail")
	}
	if !strings.Contains(stderr, "parameter_values.version") {
		t.Errorf("stderr should list validation details: %q", stderr)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"release", "show", "rel-1"})
	})
	if code != 0 {
		t.Fatalf("show code = %d, stderr: %s", code, stderr)
	}
	prepare := strings.Index(stdout, "prepare")
	approve := strings.Index(stdout, "approve")
	if prepare < 0 || approve < 0 || prepare > approve {
		t.Errorf("blocks should be listed by position:\n%s", stdout)
	}
	if !strings.Contains(stdout, "3/3") || !strings.Contains(stdout, "TeamCity unreachable") {
		t.Errorf("show output missing retry/error columns:\n%s", stdout)
	}
}

func TestRunInputSubmitReportsConflict(t *testing.T) {
	srv := fakeAPI(t)

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"input", "submit", "in-1", "yes", "--api-url", srv.URL, "--api-key", "secret"})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "input already answered") || !strings.Contains(stderr, "409") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestAPICommandsRequireKey(t *testing.T) {
	t.Setenv("RELWIZ_API_KEY", "")
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"release", "list"})
	})
	if code != 1 || !strings.Contains(stderr, "API key required") {
		t.Errorf("code = %d stderr = %q", code, stderr)
	}
}

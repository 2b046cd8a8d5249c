package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/mattjoyce/relwiz/internal/archive"
	"github.com/mattjoyce/relwiz/internal/config"
	"github.com/mattjoyce/relwiz/internal/doctor"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/lock"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/storage"
	"github.com/mattjoyce/relwiz/internal/tui/tokenmgr"
)

// --- config ---

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration directory")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	result, code := validateConfigDir(configPath)
	if result == nil {
		return code
	}
	return printDoctorResult(result, format, strict)
}

// validateConfigDir loads the config and project catalog and runs the static
// doctor checks. A nil result means loading failed and was already reported.
func validateConfigDir(configPath string) (*doctor.Result, int) {
	cfg, dir, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return nil, 1
	}
	catalog, err := project.LoadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Project load error: %v\n", err)
		return nil, 1
	}
	return doctor.New(cfg, catalog).Validate(), 0
}

func printDoctorResult(result *doctor.Result, format string, strict bool) int {
	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration directory")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	dir, err := config.DiscoverConfigDir(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	files, err := config.DiscoverConfigFiles(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config files in %s: %v\n", dir, err)
		return 1
	}

	report, err := config.Lock(files, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config in %s: %v\n", dir, err)
		return 1
	}

	if isVerbose {
		fmt.Printf("Processing directory: %s\n", report.ConfigDir)
		for _, f := range report.Files {
			tier := "operational"
			if files.FileTier(f.Path) == config.TierHighSecurity {
				tier = "high-security"
			}
			fmt.Printf("  HASH [%s] %s: %s\n", tier, f.Filename, f.Hash)
		}
		if report.Written {
			fmt.Printf("  WROTE .checksums: %s\n", report.ChecksumPath)
		} else {
			fmt.Printf("  DRY-RUN .checksums: %s (not written)\n", report.ChecksumPath)
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed for %s (%d file(s), nothing written)\n", report.ConfigDir, len(report.Files))
	} else {
		fmt.Printf("Successfully locked configuration in %s (%d file(s))\n", report.ConfigDir, len(report.Files))
	}
	return 0
}

func runConfigToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	name := fs.String("name", "", "Token name (required)")
	scopesArg := fs.String("scopes", "", "Comma-separated scopes; omit on a terminal to pick interactively")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "Usage: relwiz config token --name NAME [--scopes releases:ro,releases:rw,*]")
		return 1
	}

	var scopes []string
	switch {
	case *scopesArg != "":
		scopes = parseCSVScopes(*scopesArg)
	case isatty.IsTerminal(os.Stdin.Fd()):
		final, err := tea.NewProgram(tokenmgr.New()).Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			return 1
		}
		scopes = tokenmgr.Selected(final)
		if scopes == nil {
			fmt.Fprintln(os.Stderr, "Cancelled.")
			return 1
		}
	default:
		fmt.Fprintln(os.Stderr, "Error: --scopes is required when stdin is not a terminal")
		return 1
	}

	if len(scopes) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one scope is required")
		return 1
	}
	for _, s := range scopes {
		if !tokenmgr.ValidScope(s) {
			fmt.Fprintf(os.Stderr, "Error: unknown scope %q\n", s)
			return 1
		}
	}

	token, err := tokenmgr.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	snippet, err := tokenmgr.Snippet(*name, token, scopes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintln(os.Stderr, "Add this entry to tokens.yaml, then run 'relwiz config lock':")
	fmt.Print(snippet)
	return 0
}

func parseCSVScopes(in string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(in, ",") {
		s := strings.TrimSpace(part)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// --- system ---

func runSystemDoctor(args []string) int {
	var configPath, format string
	var strict, jsonOut, offline bool
	var timeout time.Duration

	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration directory")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	fs.BoolVar(&offline, "offline", false, "Skip live checks against backends")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "Per-check timeout")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, dir, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	catalog, err := project.LoadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Project load error: %v\n", err)
		return 1
	}

	d := doctor.New(cfg, catalog)
	result := d.Validate()
	if !offline {
		d.Probe(context.Background(), result, timeout, doctorChecks(cfg)...)
	}
	return printDoctorResult(result, format, strict)
}

// doctorChecks builds one live check per configured backend.
func doctorChecks(cfg *config.Config) []doctor.Check {
	checks := []doctor.Check{{
		Category: "state",
		Name:     cfg.State.Driver,
		Run: func(ctx context.Context) (string, error) {
			db, err := storage.Open(ctx, storage.Config{Driver: cfg.State.Driver, Path: cfg.State.Path, DSN: cfg.State.DSN})
			if err != nil {
				return "", err
			}
			defer db.Close()
			if err := db.PingContext(ctx); err != nil {
				return "", err
			}
			return "reachable (" + string(db.Dialect) + ")", nil
		},
	}}

	switch cfg.Archive.Backend {
	case "fs":
		checks = append(checks, doctor.Check{Category: "archive", Name: "fs", Run: func(context.Context) (string, error) {
			if _, err := archive.NewFS(cfg.Archive.Dir); err != nil {
				return "", err
			}
			return cfg.Archive.Dir, nil
		}})
	case "minio":
		if cfg.Archive.MinIO != nil {
			mc := minioConfig(cfg.Archive.MinIO)
			checks = append(checks, doctor.Check{Category: "archive", Name: "minio", Run: func(ctx context.Context) (string, error) {
				m, err := archive.NewMinIO(mc)
				if err != nil {
					return "", err
				}
				if err := m.Check(ctx); err != nil {
					return "", err
				}
				return "bucket " + mc.Bucket, nil
			}})
		}
	}

	if m := cfg.Events.MQTT; m != nil {
		checks = append(checks, doctor.Check{Category: "events", Name: "mqtt", Run: func(context.Context) (string, error) {
			mirror := events.NewMQTTMirror(events.MQTTConfig{
				BrokerURL: m.Broker, ClientID: "relwiz-doctor", Username: m.Username, Password: m.Password,
			})
			if err := mirror.Connect(); err != nil {
				return "", err
			}
			mirror.Disconnect()
			return m.Broker, nil
		}})
	}

	conns := buildConnections(cfg)
	for typ, tester := range conns.testers() {
		tester := tester
		checks = append(checks, doctor.Check{Category: "connection", Name: strings.ToLower(string(typ)), Run: func(ctx context.Context) (string, error) {
			info, err := tester.TestConnection(ctx)
			if err != nil {
				return "", err
			}
			return info.Identity, nil
		}})
	}
	return checks
}

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Config  string        `json:"config,omitempty"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := buildStatusReport(*configPath)
	if *jsonOut {
		printJSON(report)
	} else {
		if report.Config != "" {
			fmt.Printf("config: %s\n", report.Config)
		}
		for _, c := range report.Checks {
			mark := "OK"
			if !c.OK {
				mark = "FAIL"
			}
			if c.Detail != "" {
				fmt.Printf("%s: %s (%s)\n", c.Name, mark, c.Detail)
			} else {
				fmt.Printf("%s: %s\n", c.Name, mark)
			}
		}
	}
	if !report.Healthy {
		return 1
	}
	return 0
}

func buildStatusReport(configPath string) statusReport {
	var report statusReport
	add := func(name string, err error, detail string) {
		c := statusCheck{Name: name, OK: err == nil, Detail: detail}
		if err != nil {
			c.Detail = err.Error()
		}
		report.Checks = append(report.Checks, c)
	}

	cfg, dir, err := loadConfig(configPath)
	report.Config = dir
	if err != nil {
		add("config_load", err, "")
		skipped := errors.New("skipped: config not loaded")
		add("state_db", skipped, "")
		add("projects", skipped, "")
		add("pid_lock", skipped, "")
		return report
	}
	add("config_load", nil, fmt.Sprintf("%d file(s)", len(cfg.Files)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.Open(ctx, storage.Config{Driver: cfg.State.Driver, Path: cfg.State.Path, DSN: cfg.State.DSN})
	if err == nil {
		err = db.PingContext(ctx)
		db.Close()
	}
	add("state_db", err, cfg.State.Driver)

	catalog, err := project.LoadDir(dir)
	detail := ""
	if err == nil {
		detail = fmt.Sprintf("%d loaded", len(catalog.List()))
	}
	add("projects", err, detail)

	lockPath := getPIDLockPath(cfg)
	if lock.Held(lockPath) {
		pid, _ := lock.ReadPID(lockPath)
		add("pid_lock", fmt.Errorf("held by running instance (pid %d) at %s", pid, lockPath), "")
	} else {
		add("pid_lock", nil, "free "+lockPath)
	}

	report.Healthy = true
	for _, c := range report.Checks {
		if !c.OK {
			report.Healthy = false
		}
	}
	return report
}

// --- help ---

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: relwiz system <action>")
	fmt.Fprintln(w, "Actions: start, status, doctor, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: relwiz config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, token")
}

func printProjectNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: relwiz project <action> [flags]")
	fmt.Fprintln(w, "Actions: list, validate, plan")
	fmt.Fprintln(w, "Reads projects/*.yaml from the config directory (--config PATH).")
}

func printReleaseNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: relwiz release <action> [flags]")
	fmt.Fprintln(w, "Actions: create, list, show, start, pause, cancel, delete, inspect, watch")
}

func printBlockNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: relwiz block <action> <block-execution-id> [flags]")
	fmt.Fprintln(w, "Actions: restart, pause, cancel, logs")
}

func printInputNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: relwiz input <action> [flags]")
	fmt.Fprintln(w, "Actions: list, submit")
}

func printSystemStartHelp() {
	fmt.Println("Usage: relwiz system start [--config PATH]")
	fmt.Println("Start the release engine and API in the foreground.")
	fmt.Println("SIGHUP reloads project definitions; SIGINT/SIGTERM stop the service.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: relwiz system status [--config PATH] [--json]")
	fmt.Println("Show config, state store, project and PID lock state.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemDoctorHelp() {
	fmt.Println("Usage: relwiz system doctor [--config PATH] [--json] [--strict] [--offline] [--timeout 10s]")
	fmt.Println("Validate configuration and projects, then probe every configured backend.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: relwiz system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI over every release.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    relwiz API URL (default: http://127.0.0.1:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or RELWIZ_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓              Navigate releases")
	fmt.Println("  x                Clear finished releases")
}

func printConfigLockHelp() {
	fmt.Println("Usage: relwiz config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize current configuration state by regenerating integrity hashes.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: relwiz config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration syntax, policy, and integrity.")
}

func printConfigTokenHelp() {
	fmt.Println("Usage: relwiz config token --name NAME [--scopes SCOPES]")
	fmt.Println("Generate an API token and print its tokens.yaml entry.")
	fmt.Println("Scopes: releases:ro, releases:rw, *")
}

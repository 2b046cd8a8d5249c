package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/relwiz/internal/client"
	"github.com/mattjoyce/relwiz/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "project":
		return runProjectNoun(args)
	case "release":
		return runReleaseNoun(args)
	case "block":
		return runBlockNoun(args)
	case "input":
		return runInputNoun(args)
	case "connection":
		return runConnectionNoun(args)

	// root shortcuts
	case "start":
		if hasHelpFlag(args) {
			printSystemStartHelp()
			return 0
		}
		return runStart(args)
	case "doctor":
		return runSystemDoctor(args)
	case "watch":
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("relwiz %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`relwiz - release orchestration engine

Usage:
  relwiz <noun> <action> [flags]

Resources (Nouns):
  system      Server lifecycle, health and live monitoring
  config      Configuration integrity and API tokens
  project     Release project definitions
  release     Release instances
  block       Block executions within a release
  input       Pending user inputs (approvals, manual values)
  connection  External system connections

System Commands:
  system start              Run the release engine and API in the foreground
  system status             Show config, store and PID lock state
  system doctor             Validate config and probe every backend
  system watch              Live TUI over every release

Config Commands:
  config check              Validate syntax, policy and integrity
  config lock               Authorize current state (update integrity hashes)
  config token              Generate an API token and print its tokens.yaml entry

Project Commands:
  project list              List projects in the config directory
  project validate <id>     Validate a project graph and parameter values
  project plan <id>         Show the execution order of a project

Release Commands:
  release create <project>  Create (and optionally start) a release
  release list              List releases
  release show <id>         Show a release and its blocks
  release start|pause|cancel|delete <id>
  release inspect <id>      Full report from the local store
  release watch <id>        Live TUI for one release

Block Commands:
  block restart <id>        Restart a failed or cancelled block execution
  block pause|cancel <id>   Pause or cancel one block execution
  block logs <id>           Show execution logs

Input Commands:
  input list <release-id>   Show open inputs
  input submit <input-id> <value>

Connection Commands:
  connection test <slack|teamcity|github|maven>

General:
  --version, version        Show version information
  help                      Show this help message

API commands read --api-url/--api-key, or RELWIZ_API_URL and RELWIZ_API_KEY.
Use 'relwiz <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "doctor":
		if hasHelpFlag(actionArgs) {
			printSystemDoctorHelp()
			return 0
		}
		return runSystemDoctor(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "token":
		if hasHelpFlag(actionArgs) {
			printConfigTokenHelp()
			return 0
		}
		return runConfigToken(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runProjectNoun(args []string) int {
	if len(args) < 1 {
		printProjectNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printProjectNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	if hasHelpFlag(actionArgs) {
		printProjectNounHelp(os.Stdout)
		return 0
	}
	switch action {
	case "list":
		return runProjectList(actionArgs)
	case "validate":
		return runProjectValidate(actionArgs)
	case "plan":
		return runProjectPlan(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown project action: %s\n", action)
		return 1
	}
}

func runReleaseNoun(args []string) int {
	if len(args) < 1 {
		printReleaseNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printReleaseNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	if hasHelpFlag(actionArgs) {
		printReleaseNounHelp(os.Stdout)
		return 0
	}
	switch action {
	case "create":
		return runReleaseCreate(actionArgs)
	case "list":
		return runReleaseList(actionArgs)
	case "show":
		return runReleaseShow(actionArgs)
	case "start", "pause", "cancel":
		return runReleaseOp(action, actionArgs)
	case "delete":
		return runReleaseDelete(actionArgs)
	case "inspect":
		return runReleaseInspect(actionArgs)
	case "watch":
		return runReleaseWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown release action: %s\n", action)
		return 1
	}
}

func runInputNoun(args []string) int {
	if len(args) < 1 {
		printInputNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printInputNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	if hasHelpFlag(actionArgs) {
		printInputNounHelp(os.Stdout)
		return 0
	}
	switch action {
	case "list":
		return runInputList(actionArgs)
	case "submit":
		return runInputSubmit(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown input action: %s\n", action)
		return 1
	}
}

func runConnectionNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		w := os.Stderr
		if len(args) > 0 {
			w = os.Stdout
		}
		fmt.Fprintln(w, "Usage: relwiz connection test <slack|teamcity|github|maven> [--api-url URL] [--api-key KEY]")
		if len(args) > 0 {
			return 0
		}
		return 1
	}
	switch args[0] {
	case "test":
		return runConnectionTest(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown connection action: %s\n", args[0])
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// splitFlagsAndPositionals lets positionals appear before or after flags,
// as in 'relwiz release show <id> --json'. takesValue names flags that
// consume the next argument.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	var flags, positionals []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positionals = append(positionals, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if strings.Contains(name, "=") {
			continue
		}
		if takesValue[name] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, positionals
}

// --- shared flag helpers ---

type apiFlags struct {
	url string
	key string
}

func addAPIFlags(fs *flag.FlagSet) *apiFlags {
	f := &apiFlags{}
	defURL := os.Getenv("RELWIZ_API_URL")
	if defURL == "" {
		defURL = client.DefaultURL
	}
	fs.StringVar(&f.url, "api-url", defURL, "relwiz API URL")
	fs.StringVar(&f.key, "api-key", os.Getenv("RELWIZ_API_KEY"), "API Bearer Token")
	return f
}

var apiValueFlags = map[string]bool{"api-url": true, "api-key": true}

func withValueFlags(names ...string) map[string]bool {
	out := make(map[string]bool, len(apiValueFlags)+len(names))
	for k := range apiValueFlags {
		out[k] = true
	}
	for _, n := range names {
		out[n] = true
	}
	return out
}

func (f *apiFlags) client() (*client.Client, error) {
	if f.key == "" {
		return nil, fmt.Errorf("API key required. Use --api-key or RELWIZ_API_KEY env var")
	}
	return client.New(f.url, f.key), nil
}

// loadConfig resolves the config directory and loads it, printing integrity
// warnings to stderr.
func loadConfig(configDir string) (*config.Config, string, error) {
	dir, err := config.DiscoverConfigDir(configDir)
	if err != nil {
		return nil, "", err
	}
	cfg, warnings, err := config.Load(dir)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if err != nil {
		return nil, dir, err
	}
	return cfg, dir, nil
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// reportAPIError prints err, including per-field validation details.
func reportAPIError(action string, err error) int {
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", action, err)
	var apiErr *client.Error
	if errors.As(err, &apiErr) {
		for _, d := range apiErr.Details {
			fmt.Fprintf(os.Stderr, "  - %s: %s (%s)\n", d.Field, d.Message, d.Code)
		}
	}
	return 1
}

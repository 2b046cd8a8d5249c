package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/relwiz/internal/api"
	"github.com/mattjoyce/relwiz/internal/config"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/inspect"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
	"github.com/mattjoyce/relwiz/internal/storage"
	"github.com/mattjoyce/relwiz/internal/tui"
	"github.com/mattjoyce/relwiz/internal/tui/watch"
)

const requestTimeout = 30 * time.Second

// keyValues collects repeated --set key=value flags.
type keyValues map[string]string

func (kv keyValues) String() string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+kv[k])
	}
	return strings.Join(parts, ",")
}

func (kv keyValues) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	kv[k] = v
	return nil
}

// loadValuesFile reads a flat YAML map of parameter values. Scalars of any
// YAML type are accepted and kept in their string form.
func loadValuesFile(path string, into keyValues) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for k, node := range raw {
		if node.Kind != yaml.ScalarNode {
			return fmt.Errorf("%s: value for %q must be a scalar", path, k)
		}
		if _, set := into[k]; !set {
			into[k] = node.Value
		}
	}
	return nil
}

func operatorName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// --- project ---

func loadCatalog(configPath string) (*project.Catalog, error) {
	dir, err := config.DiscoverConfigDir(configPath)
	if err != nil {
		return nil, err
	}
	return project.LoadDir(dir)
}

func runProjectList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	catalog, err := loadCatalog(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load projects: %v\n", err)
		return 1
	}

	projects := catalog.List()
	if *jsonOut {
		out := make([]api.ProjectSummary, 0, len(projects))
		for _, p := range projects {
			out = append(out, api.ProjectSummary{
				ID: p.ID, Name: p.Name, Description: p.Description,
				Version: p.Version, Fingerprint: p.Fingerprint, Blocks: countBlocks(p.Graph),
			})
		}
		return printJSON(out)
	}

	if len(projects) == 0 {
		fmt.Println("No projects found.")
		return 0
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tBLOCKS")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", p.ID, p.Name, p.Version, countBlocks(p.Graph))
	}
	_ = w.Flush()
	return 0
}

func countBlocks(g project.BlockGraph) int {
	n := 0
	for _, b := range g.Blocks {
		if b.Container != nil {
			n += countBlocks(b.Container.Graph)
			continue
		}
		n++
	}
	return n
}

func runProjectValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration directory")
	valuesFile := fs.String("values", "", "YAML file of parameter values")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	values := keyValues{}
	fs.Var(values, "set", "Parameter value key=value (repeatable)")

	flags, pos := splitFlagsAndPositionals(args, map[string]bool{"config": true, "values": true, "set": true})
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz project validate <project-id> [--set key=value]... [--values FILE] [--config PATH] [--json]")
		return 1
	}
	if *valuesFile != "" {
		if err := loadValuesFile(*valuesFile, values); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read values: %v\n", err)
			return 1
		}
	}

	catalog, err := loadCatalog(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load projects: %v\n", err)
		return 1
	}
	p, ok := catalog.Get(pos[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown project: %s\n", pos[0])
		return 1
	}

	res := project.ValidateProject(p)
	if res.Valid {
		res = project.ValidateParameters(p, values)
	}
	if *jsonOut {
		if code := printJSON(res); code != 0 {
			return code
		}
	} else if res.Valid {
		fmt.Printf("Project %s is valid.\n", p.ID)
	} else {
		fmt.Printf("Project %s is invalid (%d error(s))\n", p.ID, len(res.Errors))
		for _, e := range res.Errors {
			fmt.Printf("  ERROR %s: %s (%s)\n", e.Field, e.Message, e.Code)
		}
	}
	if !res.Valid {
		return 1
	}
	return 0
}

func runProjectPlan(args []string) int {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	flags, pos := splitFlagsAndPositionals(args, map[string]bool{"config": true})
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz project plan <project-id> [--config PATH] [--json]")
		return 1
	}

	catalog, err := loadCatalog(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load projects: %v\n", err)
		return 1
	}
	p, ok := catalog.Get(pos[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown project: %s\n", pos[0])
		return 1
	}
	plan, err := project.BuildPlan(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build plan: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(plan)
	}

	fmt.Printf("Plan for %s (%s)\n", p.ID, plan.Fingerprint)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tBLOCK\tTYPE\tAFTER")
	for i, id := range plan.Order {
		b, _ := plan.Block(id)
		after := strings.Join(plan.Predecessors(id), ",")
		if after == "" {
			after = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, id, b.Type, after)
	}
	_ = w.Flush()
	return 0
}

// --- release ---

func runReleaseCreate(args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	remote := addAPIFlags(fs)
	name := fs.String("name", "", "Release name (required)")
	description := fs.String("description", "", "Release description")
	valuesFile := fs.String("values", "", "YAML file of parameter values")
	start := fs.Bool("start", false, "Start the release immediately")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	values := keyValues{}
	fs.Var(values, "set", "Parameter value key=value (repeatable)")

	flags, pos := splitFlagsAndPositionals(args, withValueFlags("name", "description", "values", "set"))
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 || strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "Usage: relwiz release create <project-id> --name NAME [--set key=value]... [--values FILE] [--start]")
		return 1
	}
	if *valuesFile != "" {
		if err := loadValuesFile(*valuesFile, values); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read values: %v\n", err)
			return 1
		}
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	rel, err := c.CreateRelease(ctx, apiCreateRequest(pos[0], *name, *description, values, *start))
	if err != nil {
		return reportAPIError("Create release", err)
	}
	if *jsonOut {
		return printJSON(rel)
	}
	fmt.Printf("Created release %s (%s) status=%s\n", rel.ID, rel.Name, rel.Status)
	return 0
}

func apiCreateRequest(projectID, name, description string, values keyValues, start bool) api.CreateReleaseRequest {
	return api.CreateReleaseRequest{
		ProjectID:       projectID,
		Name:            name,
		Description:     description,
		ParameterValues: map[string]string(values),
		StartedBy:       operatorName(),
		Start:           start,
	}
}

func runReleaseList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	remote := addAPIFlags(fs)
	projectID := fs.String("project", "", "Filter by project id")
	status := fs.String("status", "", "Filter by status")
	search := fs.String("search", "", "Search release names")
	limit := fs.Int("limit", 50, "Page size")
	offset := fs.Int("offset", 0, "Page offset")
	sortBy := fs.String("sort-by", "", "name|created_at|started_at|completed_at|status")
	order := fs.String("order", "", "asc|desc")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	q := url.Values{}
	setIf := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	setIf("project_id", *projectID)
	setIf("status", *status)
	setIf("search", *search)
	setIf("sort_by", *sortBy)
	setIf("order", *order)
	q.Set("limit", strconv.Itoa(*limit))
	q.Set("offset", strconv.Itoa(*offset))

	ctx, cancel := requestContext()
	defer cancel()
	resp, err := c.ListReleases(ctx, q)
	if err != nil {
		return reportAPIError("List releases", err)
	}
	if *jsonOut {
		return printJSON(resp)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROJECT\tSTATUS\tCREATED")
	for _, r := range resp.Releases {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.ProjectID, r.Status, r.CreatedAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
	fmt.Printf("%d of %d release(s)\n", len(resp.Releases), resp.Total)
	return 0
}

func runReleaseShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	remote := addAPIFlags(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	flags, pos := splitFlagsAndPositionals(args, apiValueFlags)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz release show <release-id> [--json]")
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	rel, err := c.GetRelease(ctx, pos[0])
	if err != nil {
		return reportAPIError("Get release", err)
	}
	if *jsonOut {
		return printJSON(rel)
	}
	printRelease(rel)
	return 0
}

func printRelease(rel *release.Release) {
	fmt.Printf("Release %s\n", rel.ID)
	fmt.Printf("  name:    %s\n", rel.Name)
	fmt.Printf("  project: %s (v%d)\n", rel.ProjectID, rel.ProjectVersion)
	fmt.Printf("  status:  %s\n", rel.Status)
	if rel.StartedBy != "" {
		fmt.Printf("  by:      %s\n", rel.StartedBy)
	}
	if len(rel.BlockExecutions) == 0 {
		return
	}
	fmt.Println()
	blocks := append([]release.BlockExecution(nil), rel.BlockExecutions...)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Position < blocks[j].Position })
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tBLOCK\tTYPE\tSTATUS\tRETRIES\tEXECUTION\tERROR")
	for _, b := range blocks {
		errText := ""
		if b.LastError != nil {
			errText = *b.LastError
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			b.Position, b.BlockID, b.BlockType, b.Status, b.RetryCount, b.MaxRetries, b.ID, errText)
	}
	_ = w.Flush()
}

func runReleaseOp(op string, args []string) int {
	fs := flag.NewFlagSet(op, flag.ContinueOnError)
	remote := addAPIFlags(fs)
	flags, pos := splitFlagsAndPositionals(args, apiValueFlags)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: relwiz release %s <release-id>\n", op)
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	rel, err := c.ReleaseOp(ctx, pos[0], op)
	if err != nil {
		return reportAPIError(strings.ToUpper(op[:1])+op[1:]+" release", err)
	}
	fmt.Printf("Release %s: %s\n", rel.ID, rel.Status)
	return 0
}

func runReleaseDelete(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	remote := addAPIFlags(fs)
	flags, pos := splitFlagsAndPositionals(args, apiValueFlags)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz release delete <release-id>")
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	if err := c.DeleteRelease(ctx, pos[0]); err != nil {
		return reportAPIError("Delete release", err)
	}
	fmt.Printf("Deleted release %s\n", pos[0])
	return 0
}

// runReleaseInspect reads the local store directly, so it also works while
// the server is down.
func runReleaseInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	withLogs := fs.Bool("logs", false, "Include block log lines in the timeline")
	flags, pos := splitFlagsAndPositionals(args, map[string]bool{"config": true})
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz release inspect <release-id> [--config PATH] [--json] [--logs]")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	ctx, cancel := requestContext()
	defer cancel()
	db, err := storage.Open(ctx, storage.Config{Driver: cfg.State.Driver, Path: cfg.State.Path, DSN: cfg.State.DSN})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open state store: %v\n", err)
		return 1
	}
	defer db.Close()

	src := inspect.Source{Releases: release.NewStore(db), Events: events.NewLog(db), Logs: *withLogs}
	var report string
	if *jsonOut {
		report, err = inspect.BuildJSONReport(ctx, src, pos[0])
	} else {
		report, err = inspect.BuildReport(ctx, src, pos[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Print(report)
	if !strings.HasSuffix(report, "\n") {
		fmt.Println()
	}
	return 0
}

func runReleaseWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	remote := addAPIFlags(fs)
	flags, pos := splitFlagsAndPositionals(args, apiValueFlags)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz release watch <release-id> [--api-url URL] [--api-key KEY]")
		return 1
	}
	if remote.key == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or RELWIZ_API_KEY env var.")
		return 1
	}

	m := tui.NewMonitor(remote.url, remote.key, pos[0])
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	remote := addAPIFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if remote.key == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or RELWIZ_API_KEY env var.")
		return 1
	}

	m := watch.New(remote.url, remote.key)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// --- block ---

func runBlockNoun(args []string) int {
	if len(args) < 1 {
		printBlockNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) || hasHelpFlag(args[1:]) {
		printBlockNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "restart":
		return runBlockRestart(actionArgs)
	case "pause", "cancel":
		return runBlockOp(action, actionArgs)
	case "logs":
		return runBlockLogs(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown block action: %s\n", action)
		return 1
	}
}

func runBlockRestart(args []string) int {
	fs := flag.NewFlagSet("restart", flag.ContinueOnError)
	remote := addAPIFlags(fs)
	overrides := keyValues{}
	fs.Var(overrides, "set", "Manual parameter override key=value (repeatable)")
	flags, pos := splitFlagsAndPositionals(args, withValueFlags("set"))
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz block restart <block-execution-id> [--set key=value]...")
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	be, err := c.RestartBlock(ctx, pos[0], overrides)
	if err != nil {
		return reportAPIError("Restart block", err)
	}
	fmt.Printf("Block %s (%s): %s\n", be.BlockID, be.ID, be.Status)
	return 0
}

func runBlockOp(op string, args []string) int {
	fs := flag.NewFlagSet(op, flag.ContinueOnError)
	remote := addAPIFlags(fs)
	flags, pos := splitFlagsAndPositionals(args, apiValueFlags)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: relwiz block %s <block-execution-id>\n", op)
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	be, err := c.BlockOp(ctx, pos[0], op)
	if err != nil {
		return reportAPIError(strings.ToUpper(op[:1])+op[1:]+" block", err)
	}
	fmt.Printf("Block %s (%s): %s\n", be.BlockID, be.ID, be.Status)
	return 0
}

func runBlockLogs(args []string) int {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	remote := addAPIFlags(fs)
	level := fs.String("level", "", "Filter by level (DEBUG, INFO, WARN, ERROR)")
	source := fs.String("source", "", "Filter by log source")
	limit := fs.Int("limit", 100, "Page size")
	offset := fs.Int("offset", 0, "Page offset")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	flags, pos := splitFlagsAndPositionals(args, withValueFlags("level", "source", "limit", "offset"))
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz block logs <block-execution-id> [--level LEVEL] [--limit N] [--json]")
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	q := url.Values{}
	if *level != "" {
		q.Set("level", *level)
	}
	if *source != "" {
		q.Set("source", *source)
	}
	q.Set("limit", strconv.Itoa(*limit))
	q.Set("offset", strconv.Itoa(*offset))

	ctx, cancel := requestContext()
	defer cancel()
	resp, err := c.BlockLogs(ctx, pos[0], q)
	if err != nil {
		return reportAPIError("Get logs", err)
	}
	if *jsonOut {
		return printJSON(resp)
	}
	for _, l := range resp.Logs {
		fmt.Printf("%s %-5s %s\n", l.Timestamp.Local().Format("15:04:05.000"), l.Level, l.Message)
	}
	return 0
}

// --- input ---

func runInputList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	remote := addAPIFlags(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	flags, pos := splitFlagsAndPositionals(args, apiValueFlags)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz input list <release-id> [--json]")
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	inputs, err := c.PendingInputs(ctx, pos[0])
	if err != nil {
		return reportAPIError("List inputs", err)
	}
	if *jsonOut {
		return printJSON(inputs)
	}
	if len(inputs) == 0 {
		fmt.Println("No pending inputs.")
		return 0
	}
	for _, in := range inputs {
		fmt.Printf("%s [%s/%s] %s\n", in.ID, in.Purpose, in.InputType, in.Prompt)
		if len(in.Options) > 0 {
			fmt.Printf("  options: %s\n", strings.Join(in.Options, ", "))
		}
	}
	return 0
}

func runInputSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	remote := addAPIFlags(fs)
	by := fs.String("by", operatorName(), "Submitter recorded on the input")
	flags, pos := splitFlagsAndPositionals(args, withValueFlags("by"))
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz input submit <input-id> <value> [--by NAME]")
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	in, err := c.SubmitInput(ctx, pos[0], pos[1], *by)
	if err != nil {
		return reportAPIError("Submit input", err)
	}
	fmt.Printf("Submitted %q to input %s\n", pos[1], in.ID)
	return 0
}

// --- connection ---

var connectionAliases = map[string]project.ConnectionType{
	"slack":                project.ConnSlack,
	"teamcity":             project.ConnTeamCity,
	"github":               project.ConnGitHub,
	"maven":                project.ConnMavenCentral,
	"maven_central":        project.ConnMavenCentral,
	"maven_central_portal": project.ConnMavenCentral,
}

func parseConnectionType(s string) (project.ConnectionType, bool) {
	t, ok := connectionAliases[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

func runConnectionTest(args []string) int {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	remote := addAPIFlags(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	flags, pos := splitFlagsAndPositionals(args, apiValueFlags)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: relwiz connection test <slack|teamcity|github|maven>")
		return 1
	}
	typ, ok := parseConnectionType(pos[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown connection type: %s\n", pos[0])
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	resp, err := c.TestConnection(ctx, typ)
	if err != nil {
		return reportAPIError("Connection test", err)
	}
	if *jsonOut {
		printJSON(resp)
	} else if resp.Success {
		fmt.Printf("%s: ok %s\n", resp.Type, resp.Message)
	} else {
		fmt.Printf("%s: FAIL %s\n", resp.Type, resp.Message)
	}
	if !resp.Success {
		return 1
	}
	return 0
}

package project

import (
	"fmt"
	"sort"
	"strings"
)

// MaxNestingDepth bounds Container recursion.
const MaxNestingDepth = 16

// Validation error codes.
const (
	CodeRequired         = "required"
	CodeDuplicateID      = "duplicate_id"
	CodeUnknownBlock     = "unknown_block"
	CodeUnknownType      = "unknown_type"
	CodeInvalidPayload   = "invalid_payload"
	CodeCycle            = "cycle"
	CodeNotAncestor      = "not_ancestor"
	CodeUnknownOutput    = "unknown_output"
	CodeUnknownParameter = "unknown_parameter"
	CodeUnknownTemplate  = "unknown_template"
	CodeMaxDepth         = "max_depth"
	CodeInvalidValue     = "invalid_value"
	CodeInvalidEdge      = "invalid_edge"
)

// ValidationError is one problem found in a project, graph, or parameter set.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationResult collects every problem found; Valid is true when there are none.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (r *ValidationResult) add(field, code, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	r.Valid = false
}

func (r *ValidationResult) merge(other ValidationResult) {
	for _, e := range other.Errors {
		r.Errors = append(r.Errors, e)
		r.Valid = false
	}
}

func (r *ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Err returns the result as an error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &r
}

// HasCode reports whether any error carries code.
func (r ValidationResult) HasCode(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Validate checks a block graph: unique ids, resolvable edges, acyclicity at
// every nesting level, well-formed payloads, and that every block_output
// source is a strict ancestor of the block that reads it.
func Validate(g BlockGraph) ValidationResult {
	res := ValidationResult{Valid: true}
	seen := make(map[string]string)
	validateLevel(g, "graph", 0, seen, &res)
	if !res.Valid {
		return res
	}

	plan, err := flatten(g)
	if err != nil {
		res.add("graph", CodeCycle, "%v", err)
		return res
	}
	validateDataFlow(plan, &res)
	return res
}

func validateLevel(g BlockGraph, path string, depth int, seen map[string]string, res *ValidationResult) {
	if depth > MaxNestingDepth {
		res.add(path, CodeMaxDepth, "container nesting exceeds %d levels", MaxNestingDepth)
		return
	}

	local := make(map[string]bool, len(g.Blocks))
	for i, b := range g.Blocks {
		field := fmt.Sprintf("%s.blocks[%d]", path, i)
		id := strings.TrimSpace(b.ID)
		if id == "" {
			res.add(field+".id", CodeRequired, "block id is required")
			continue
		}
		if prev, dup := seen[id]; dup {
			res.add(field+".id", CodeDuplicateID, "duplicate block id %q (first declared at %s)", id, prev)
			continue
		}
		seen[id] = field
		local[id] = true
		validatePayload(b, field, res)
		if b.Type == TypeContainer && b.Container != nil {
			validateLevel(b.Container.Graph, field+".container.graph", depth+1, seen, res)
		}
	}

	for i, c := range g.Connections {
		field := fmt.Sprintf("%s.connections[%d]", path, i)
		if !local[c.From] {
			res.add(field+".from", CodeUnknownBlock, "edge source %q is not a block of this graph", c.From)
		}
		if !local[c.To] {
			res.add(field+".to", CodeUnknownBlock, "edge target %q is not a block of this graph", c.To)
		}
		if c.From == c.To && c.From != "" {
			res.add(field, CodeCycle, "self-loop on %q", c.From)
		}
		if k := c.Kind(); k != Sequential && k != Parallel {
			res.add(field+".type", CodeInvalidEdge, "unknown edge type %q", c.Type)
		}
	}

	if cycle := findCycle(g); len(cycle) > 0 {
		res.add(path, CodeCycle, "cycle detected: %s", strings.Join(cycle, " -> "))
	}
}

// findCycle runs a DFS with in-progress marking over every declared edge of one level.
func findCycle(g BlockGraph) []string {
	const (
		unvisited = iota
		inProgress
		done
	)
	adj := make(map[string][]string)
	for _, c := range g.Connections {
		adj[c.From] = append(adj[c.From], c.To)
	}

	state := make(map[string]int, len(g.Blocks))
	var stack []string
	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case done:
			return false
		case inProgress:
			for i := range stack {
				if stack[i] == id {
					cycle = append(append([]string{}, stack[i:]...), id)
					break
				}
			}
			return true
		}
		state[id] = inProgress
		stack = append(stack, id)
		for _, next := range adj[id] {
			if visit(next) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, b := range g.Blocks {
		if visit(b.ID) {
			return cycle
		}
	}
	return nil
}

func validatePayload(b Block, field string, res *ValidationResult) {
	if !KnownBlockType(b.Type) {
		res.add(field+".type", CodeUnknownType, "unknown block type %q", b.Type)
		return
	}
	set := b.payloadTypes()
	if len(set) != 1 || set[0] != b.Type {
		res.add(field, CodeInvalidPayload, "block of type %q must define exactly its own payload, found %v", b.Type, set)
		return
	}

	required := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			res.add(field+"."+name, CodeRequired, "%s is required for %s blocks", name, b.Type)
		}
	}
	switch b.Type {
	case TypeContainer:
		if len(b.Container.Graph.Blocks) == 0 {
			res.add(field+".container.graph", CodeRequired, "container graph must contain at least one block")
		}
	case TypeSlackMessage:
		required("slack.channel", b.Slack.Channel)
	case TypeTeamCityBuild:
		required("teamcity.build_config_id", b.TeamCity.BuildConfigID)
	case TypeMavenCentralStatus:
		required("maven.group_id", b.Maven.GroupID)
		required("maven.artifact_id", b.Maven.ArtifactID)
		required("maven.version", b.Maven.Version)
	case TypeGitHubAction:
		required("github_action.repository", b.GitHubAction.Repository)
		required("github_action.workflow_id", b.GitHubAction.WorkflowID)
	case TypeGitHubRelease:
		required("github_release.repository", b.GitHubRelease.Repository)
		required("github_release.tag_pattern", b.GitHubRelease.TagPattern)
	case TypeUserAction:
		switch strings.ToUpper(b.UserAction.InputType) {
		case "", "TEXT", "CONFIRMATION":
		case "CHOICE", "MULTI_CHOICE":
			if len(b.UserAction.Options) == 0 {
				res.add(field+".user_action.options", CodeRequired, "%s input needs options", b.UserAction.InputType)
			}
		default:
			res.add(field+".user_action.input_type", CodeInvalidValue, "unknown input type %q", b.UserAction.InputType)
		}
	}

	if b.Timeout < 0 {
		res.add(field+".timeout", CodeInvalidValue, "timeout must not be negative")
	}
	if b.MaxRetries != nil && *b.MaxRetries < 0 {
		res.add(field+".max_retries", CodeInvalidValue, "max_retries must not be negative")
	}

	names := make(map[string]bool, len(b.Parameters))
	for i, p := range b.Parameters {
		pf := fmt.Sprintf("%s.parameters[%d]", field, i)
		if p.Name == "" {
			res.add(pf+".name", CodeRequired, "parameter name is required")
			continue
		}
		if names[p.Name] {
			res.add(pf+".name", CodeDuplicateID, "duplicate parameter %q", p.Name)
		}
		names[p.Name] = true
		switch p.Source.Kind {
		case SourceManual, SourceDefault:
		case SourceProjectParameter:
			required("parameters["+p.Name+"].source.parameter", p.Source.Parameter)
		case SourceBlockOutput:
			required("parameters["+p.Name+"].source.block", p.Source.Block)
			required("parameters["+p.Name+"].source.output", p.Source.Output)
		default:
			res.add(pf+".source.kind", CodeInvalidValue, "unknown parameter source %q", p.Source.Kind)
		}
	}
}

// validateDataFlow rejects block_output sources that are not strict SEQUENTIAL ancestors.
func validateDataFlow(plan *Plan, res *ValidationResult) {
	for _, b := range plan.Blocks {
		for _, p := range b.Parameters {
			if p.Source.Kind != SourceBlockOutput {
				continue
			}
			field := fmt.Sprintf("blocks[%s].parameters[%s]", b.ID, p.Name)
			src, ok := plan.Block(p.Source.Block)
			if !ok {
				if _, isContainer := plan.containers[p.Source.Block]; isContainer {
					res.add(field, CodeInvalidValue, "container %q produces no outputs", p.Source.Block)
				} else {
					res.add(field, CodeUnknownBlock, "output source block %q does not exist", p.Source.Block)
				}
				continue
			}
			if !plan.IsAncestor(src.ID, b.ID) {
				res.add(field, CodeNotAncestor, "block %q is not a predecessor of %q in every execution order", src.ID, b.ID)
				continue
			}
			if !src.HasOutput(p.Source.Output) {
				res.add(field, CodeUnknownOutput, "block %q has no output %q", src.ID, p.Source.Output)
			}
		}
	}
}

// ValidateProject validates the graph and every project-level reference.
func ValidateProject(p *Project) ValidationResult {
	res := ValidationResult{Valid: true}
	if strings.TrimSpace(p.ID) == "" {
		res.add("id", CodeRequired, "project id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		res.add("name", CodeRequired, "project name is required")
	}
	if len(p.Graph.Blocks) == 0 {
		res.add("graph.blocks", CodeRequired, "graph must contain at least one block")
	}

	params := make(map[string]bool, len(p.Parameters))
	for i, param := range p.Parameters {
		field := fmt.Sprintf("parameters[%d]", i)
		if param.Name == "" {
			res.add(field+".name", CodeRequired, "parameter name is required")
			continue
		}
		if params[param.Name] {
			res.add(field+".name", CodeDuplicateID, "duplicate parameter %q", param.Name)
		}
		params[param.Name] = true
		if !knownParameterType(param.Type) {
			res.add(field+".type", CodeInvalidValue, "unknown parameter type %q", param.Type)
		}
	}

	res.merge(Validate(p.Graph))

	walkBlocks(p.Graph, func(b Block) {
		for _, bp := range b.Parameters {
			if bp.Source.Kind == SourceProjectParameter && bp.Source.Parameter != "" && !params[bp.Source.Parameter] {
				res.add(fmt.Sprintf("blocks[%s].parameters[%s]", b.ID, bp.Name), CodeUnknownParameter,
					"project parameter %q is not declared", bp.Source.Parameter)
			}
		}
		if b.Slack != nil && b.Slack.TemplateName != "" {
			if _, ok := p.Template(b.Slack.TemplateName); !ok {
				res.add(fmt.Sprintf("blocks[%s].slack.template_name", b.ID), CodeUnknownTemplate,
					"message template %q is not declared", b.Slack.TemplateName)
			}
		}
	})

	sort.SliceStable(res.Errors, func(i, j int) bool { return res.Errors[i].Field < res.Errors[j].Field })
	return res
}

func walkBlocks(g BlockGraph, fn func(Block)) {
	for _, b := range g.Blocks {
		fn(b)
		if b.Container != nil {
			walkBlocks(b.Container.Graph, fn)
		}
	}
}

func knownParameterType(t ParameterType) bool {
	switch ParameterType(strings.ToUpper(string(t))) {
	case "", ParamString, ParamNumber, ParamBoolean, ParamSecret, ParamURL, ParamEmail, ParamPath:
		return true
	}
	return false
}

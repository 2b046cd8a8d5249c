package project

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/zeebo/blake3"
)

// Edge is one flattened control-flow dependency.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Plan is the flattened, ordered execution form of a block graph. Containers
// are inlined: edges into a container point at its entry blocks and edges out
// of it leave from its exit blocks.
type Plan struct {
	Blocks      []Block  `json:"blocks"` // executable blocks in declaration (pre-order) order
	Edges       []Edge   `json:"edges"`
	Order       []string `json:"order"` // deterministic topological order
	Fingerprint string   `json:"fingerprint"`

	// Frozen with the plan so later project edits never reach a live release.
	Templates       []MessageTemplate `json:"templates,omitempty"`
	ApprovalChannel string            `json:"approval_channel,omitempty"`
	Secrets         []string          `json:"secrets,omitempty"`

	index      map[string]int
	preds      map[string][]string
	succs      map[string][]string
	containers map[string]struct{}
}

// BuildPlan validates p and returns its execution plan.
func BuildPlan(p *Project) (*Plan, error) {
	if res := ValidateProject(p); !res.Valid {
		return nil, res.Err()
	}
	plan, err := flatten(p.Graph)
	if err != nil {
		return nil, err
	}
	plan.Templates = p.Templates
	plan.ApprovalChannel = p.SlackApprovalChannel
	for name := range SecretNames(p) {
		plan.Secrets = append(plan.Secrets, name)
	}
	sort.Strings(plan.Secrets)
	return plan, nil
}

// Template returns the frozen message template called name.
func (p *Plan) Template(name string) (MessageTemplate, bool) {
	for _, t := range p.Templates {
		if t.Name == name {
			return t, true
		}
	}
	return MessageTemplate{}, false
}

// SecretSet returns the names whose values must be masked.
func (p *Plan) SecretSet() map[string]bool {
	out := make(map[string]bool, len(p.Secrets))
	for _, name := range p.Secrets {
		out[name] = true
	}
	return out
}

// RestorePlan decodes a plan persisted with json.Marshal.
func RestorePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	plan.reindex()
	return &plan, nil
}

// Block returns the executable block with id.
func (p *Plan) Block(id string) (Block, bool) {
	i, ok := p.index[id]
	if !ok {
		return Block{}, false
	}
	return p.Blocks[i], true
}

// Position is the declaration index of an executable block, or -1.
func (p *Plan) Position(id string) int {
	if i, ok := p.index[id]; ok {
		return i
	}
	return -1
}

// Predecessors returns the blocks that must succeed before id may run.
func (p *Plan) Predecessors(id string) []string {
	return p.preds[id]
}

// Successors returns the blocks that wait on id.
func (p *Plan) Successors(id string) []string {
	return p.succs[id]
}

// IsAncestor reports whether anc must complete before id in every execution order.
func (p *Plan) IsAncestor(anc, id string) bool {
	if anc == id {
		return false
	}
	seen := make(map[string]bool)
	stack := append([]string{}, p.preds[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == anc {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, p.preds[n]...)
	}
	return false
}

func (p *Plan) reindex() {
	p.index = make(map[string]int, len(p.Blocks))
	for i, b := range p.Blocks {
		p.index[b.ID] = i
	}
	p.preds = make(map[string][]string)
	p.succs = make(map[string][]string)
	for _, e := range p.Edges {
		if e.Kind != Sequential {
			continue
		}
		p.preds[e.To] = append(p.preds[e.To], e.From)
		p.succs[e.From] = append(p.succs[e.From], e.To)
	}
	if p.containers == nil {
		p.containers = make(map[string]struct{})
	}
}

type flattener struct {
	plan *Plan
	seen map[Edge]bool
}

func flatten(g BlockGraph) (*Plan, error) {
	f := &flattener{
		plan: &Plan{containers: make(map[string]struct{})},
		seen: make(map[Edge]bool),
	}
	if _, _, err := f.level(g, 0); err != nil {
		return nil, err
	}
	f.plan.reindex()

	order, err := stableOrder(f.plan)
	if err != nil {
		return nil, err
	}
	f.plan.Order = order

	fp, err := fingerprintPlan(f.plan)
	if err != nil {
		return nil, err
	}
	f.plan.Fingerprint = fp
	return f.plan, nil
}

// level inlines one graph and returns its entry and exit executable blocks.
func (f *flattener) level(g BlockGraph, depth int) (entry, exit []string, err error) {
	if depth > MaxNestingDepth {
		return nil, nil, fmt.Errorf("container nesting exceeds %d levels", MaxNestingDepth)
	}

	ins := make(map[string][]string, len(g.Blocks))
	outs := make(map[string][]string, len(g.Blocks))
	for _, b := range g.Blocks {
		if b.Type == TypeContainer && b.Container != nil {
			f.plan.containers[b.ID] = struct{}{}
			in, out, err := f.level(b.Container.Graph, depth+1)
			if err != nil {
				return nil, nil, fmt.Errorf("container %q: %w", b.ID, err)
			}
			if len(in) == 0 {
				return nil, nil, fmt.Errorf("container %q is empty", b.ID)
			}
			ins[b.ID], outs[b.ID] = in, out
			continue
		}
		f.plan.Blocks = append(f.plan.Blocks, b)
		ins[b.ID], outs[b.ID] = []string{b.ID}, []string{b.ID}
	}

	hasIn := make(map[string]bool)
	hasOut := make(map[string]bool)
	for _, c := range g.Connections {
		kind := c.Kind()
		if kind == Sequential {
			hasIn[c.To] = true
			hasOut[c.From] = true
		}
		for _, from := range outs[c.From] {
			for _, to := range ins[c.To] {
				f.addEdge(Edge{From: from, To: to, Kind: kind})
			}
		}
	}

	for _, b := range g.Blocks {
		if !hasIn[b.ID] {
			entry = append(entry, ins[b.ID]...)
		}
		if !hasOut[b.ID] {
			exit = append(exit, outs[b.ID]...)
		}
	}
	return entry, exit, nil
}

func (f *flattener) addEdge(e Edge) {
	if f.seen[e] {
		return
	}
	f.seen[e] = true
	f.plan.Edges = append(f.plan.Edges, e)
}

// stableOrder topologically sorts SEQUENTIAL edges, breaking ties by declaration order.
func stableOrder(p *Plan) ([]string, error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, b := range p.Blocks {
		if err := g.AddVertex(b.ID); err != nil {
			return nil, fmt.Errorf("add block %q: %w", b.ID, err)
		}
	}
	for _, e := range p.Edges {
		if e.Kind != Sequential {
			continue
		}
		if err := g.AddEdge(e.From, e.To); err != nil {
			if errors.Is(err, graph.ErrEdgeAlreadyExists) {
				continue
			}
			if errors.Is(err, graph.ErrEdgeCreatesCycle) {
				return nil, fmt.Errorf("flattened graph contains a cycle through %s -> %s", e.From, e.To)
			}
			return nil, fmt.Errorf("add edge %s -> %s: %w", e.From, e.To, err)
		}
	}
	return graph.StableTopologicalSort(g, func(a, b string) bool {
		return p.index[a] < p.index[b]
	})
}

func fingerprintPlan(p *Plan) (string, error) {
	type shape struct {
		Blocks []Block `json:"blocks"`
		Edges  []Edge  `json:"edges"`
	}
	edges := append([]Edge(nil), p.Edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].Kind < edges[j].Kind
	})
	body, err := json.Marshal(shape{Blocks: p.Blocks, Edges: edges})
	if err != nil {
		return "", fmt.Errorf("marshal plan fingerprint input: %w", err)
	}
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:]), nil
}

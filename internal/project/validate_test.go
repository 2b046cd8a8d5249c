package project

import (
	"strings"
	"testing"
)

func TestValidateAcceptsLinearGraph(t *testing.T) {
	g := BlockGraph{
		Blocks:      []Block{slack("notify"), readsOutput(build("build"), "ts", "notify", "message_ts")},
		Connections: []BlockConnection{seq("notify", "build")},
	}
	res := Validate(g)
	if !res.Valid {
		t.Fatalf("expected valid graph, got %v", res.Errors)
	}
}

func TestValidateRejectsCycles(t *testing.T) {
	cases := []struct {
		name string
		g    BlockGraph
	}{
		{
			name: "direct",
			g: BlockGraph{
				Blocks:      []Block{slack("a"), slack("b"), slack("c")},
				Connections: []BlockConnection{seq("a", "b"), seq("b", "c"), seq("c", "a")},
			},
		},
		{
			name: "self loop",
			g: BlockGraph{
				Blocks:      []Block{slack("a")},
				Connections: []BlockConnection{seq("a", "a")},
			},
		},
		{
			name: "through parallel edge",
			g: BlockGraph{
				Blocks:      []Block{slack("a"), slack("b")},
				Connections: []BlockConnection{seq("a", "b"), par("b", "a")},
			},
		},
		{
			name: "inside container",
			g: BlockGraph{
				Blocks: []Block{
					slack("start"),
					container("group", BlockGraph{
						Blocks:      []Block{build("x"), build("y")},
						Connections: []BlockConnection{seq("x", "y"), seq("y", "x")},
					}),
				},
				Connections: []BlockConnection{seq("start", "group")},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Validate(tc.g)
			if res.Valid {
				t.Fatal("expected cycle to be rejected")
			}
			if !res.HasCode(CodeCycle) {
				t.Fatalf("expected cycle code, got %v", res.Errors)
			}
		})
	}
}

func TestValidateReportsCyclePath(t *testing.T) {
	res := Validate(BlockGraph{
		Blocks:      []Block{slack("a"), slack("b")},
		Connections: []BlockConnection{seq("a", "b"), seq("b", "a")},
	})
	found := false
	for _, e := range res.Errors {
		if e.Code == CodeCycle && strings.Contains(e.Message, "a -> b -> a") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cycle path in errors, got %v", res.Errors)
	}
}

func TestValidateRejectsDanglingAndDuplicateIDs(t *testing.T) {
	res := Validate(BlockGraph{
		Blocks: []Block{
			slack("a"),
			slack("a"),
			container("c", BlockGraph{Blocks: []Block{build("a")}}),
		},
		Connections: []BlockConnection{seq("a", "ghost")},
	})
	if !res.HasCode(CodeDuplicateID) {
		t.Fatalf("expected duplicate id error, got %v", res.Errors)
	}
	if !res.HasCode(CodeUnknownBlock) {
		t.Fatalf("expected unknown block error, got %v", res.Errors)
	}
}

func TestValidateRejectsEdgesAcrossNestingLevels(t *testing.T) {
	res := Validate(BlockGraph{
		Blocks: []Block{
			slack("outer"),
			container("c", BlockGraph{Blocks: []Block{build("inner")}}),
		},
		Connections: []BlockConnection{seq("outer", "inner")},
	})
	if !res.HasCode(CodeUnknownBlock) {
		t.Fatalf("expected edge into nested block to be rejected, got %v", res.Errors)
	}
}

func TestValidateRejectsNonAncestorOutputs(t *testing.T) {
	cases := []struct {
		name string
		g    BlockGraph
	}{
		{
			name: "sideways",
			g: BlockGraph{
				Blocks: []Block{slack("root"), build("left"), readsOutput(build("right"), "n", "left", "build_number")},
				Connections: []BlockConnection{
					seq("root", "left"), seq("root", "right"),
				},
			},
		},
		{
			name: "forward",
			g: BlockGraph{
				Blocks:      []Block{readsOutput(build("first"), "n", "second", "build_number"), build("second")},
				Connections: []BlockConnection{seq("first", "second")},
			},
		},
		{
			name: "parallel edge is not precedence",
			g: BlockGraph{
				Blocks:      []Block{build("a"), readsOutput(build("b"), "n", "a", "build_number")},
				Connections: []BlockConnection{par("a", "b")},
			},
		},
		{
			name: "self",
			g: BlockGraph{
				Blocks: []Block{readsOutput(build("a"), "n", "a", "build_number")},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Validate(tc.g)
			if !res.HasCode(CodeNotAncestor) {
				t.Fatalf("expected not_ancestor, got %v", res.Errors)
			}
		})
	}
}

func TestValidateAcceptsOutputFromTransitiveAncestorThroughContainer(t *testing.T) {
	g := BlockGraph{
		Blocks: []Block{
			build("compile"),
			container("publish", BlockGraph{
				Blocks:      []Block{approval("gate"), readsOutput(slack("announce"), "build", "compile", "build_number")},
				Connections: []BlockConnection{seq("gate", "announce")},
			}),
		},
		Connections: []BlockConnection{seq("compile", "publish")},
	}
	if res := Validate(g); !res.Valid {
		t.Fatalf("expected valid, got %v", res.Errors)
	}
}

func TestValidateRejectsUnknownOutput(t *testing.T) {
	res := Validate(BlockGraph{
		Blocks:      []Block{build("a"), readsOutput(slack("b"), "x", "a", "nope")},
		Connections: []BlockConnection{seq("a", "b")},
	})
	if !res.HasCode(CodeUnknownOutput) {
		t.Fatalf("expected unknown_output, got %v", res.Errors)
	}
}

func TestValidateRejectsMismatchedPayload(t *testing.T) {
	b := slack("a")
	b.TeamCity = &TeamCityBuildSpec{BuildConfigID: "x"}
	res := Validate(BlockGraph{Blocks: []Block{b}})
	if !res.HasCode(CodeInvalidPayload) {
		t.Fatalf("expected invalid_payload, got %v", res.Errors)
	}
}

func TestValidateBoundsNestingDepth(t *testing.T) {
	g := BlockGraph{Blocks: []Block{slack("leaf")}}
	for i := 0; i <= MaxNestingDepth+1; i++ {
		g = BlockGraph{Blocks: []Block{container("c"+strings.Repeat("x", i), g)}}
	}
	res := Validate(g)
	if !res.HasCode(CodeMaxDepth) {
		t.Fatalf("expected max_depth, got %v", res.Errors)
	}
}

func TestValidateProjectChecksReferences(t *testing.T) {
	b := slack("notify")
	b.Slack.TemplateName = "missing"
	b.Parameters = []BlockParameter{{Name: "v", Source: ParameterSource{Kind: SourceProjectParameter, Parameter: "version"}}}
	p := &Project{ID: "p", Name: "P", Graph: BlockGraph{Blocks: []Block{b}}}

	res := ValidateProject(p)
	if !res.HasCode(CodeUnknownTemplate) || !res.HasCode(CodeUnknownParameter) {
		t.Fatalf("expected template and parameter errors, got %v", res.Errors)
	}
}

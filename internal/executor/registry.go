package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultBlockTimeout = 30 * time.Minute
)

// Prior describes how the previous attempt of the same block ended.
type Prior struct {
	Error    string
	TimedOut bool
}

// Submission is the answer to a block's input request.
type Submission struct {
	Value       string
	SubmittedBy string
}

// Request is everything an executor gets for one attempt.
type Request struct {
	ReleaseID        string
	BlockExecutionID string
	Block            project.Block
	Plan             *project.Plan
	Params           map[string]string
	ProjectValues    map[string]string
	Attempt          int
	Prior            *Prior
	Input            *Submission

	// Log and Progress may be nil. They are safe to call from the executor goroutine.
	Log      func(level release.LogLevel, source, message string)
	Progress func(metadata map[string]string)
}

func (r Request) log(level release.LogLevel, source, format string, args ...any) {
	if r.Log != nil {
		r.Log(level, source, fmt.Sprintf(format, args...))
	}
}

func (r Request) progress(metadata map[string]string) {
	if r.Progress != nil {
		r.Progress(metadata)
	}
}

// render substitutes placeholders from the block parameters, then the project values.
func (r Request) render(s string) string {
	return project.Render(s, r.Params, r.ProjectValues)
}

// Func executes one attempt of a block.
type Func func(ctx context.Context, req Request) Outcome

// Options tunes executor timing.
type Options struct {
	PollInterval   time.Duration
	DefaultTimeout time.Duration
	Tracer         trace.Tracer
}

// Registry dispatches block execution by block type.
type Registry struct {
	funcs  map[project.BlockType]Func
	tracer trace.Tracer
	opts   Options
}

// NewRegistry wires the built-in executors to the given clients.
func NewRegistry(clients Clients, opts Options) *Registry {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultBlockTimeout
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/mattjoyce/relwiz/internal/executor")
	}
	r := &Registry{funcs: make(map[project.BlockType]Func), tracer: tracer, opts: opts}
	r.Register(project.TypeSlackMessage, slackMessage(clients.Slack))
	r.Register(project.TypeTeamCityBuild, teamCityBuild(clients.TeamCity, opts))
	r.Register(project.TypeGitHubAction, gitHubAction(clients.GitHub, opts))
	r.Register(project.TypeGitHubRelease, gitHubRelease(clients.GitHub, opts))
	r.Register(project.TypeMavenCentralStatus, mavenCentralStatus(clients.Maven))
	r.Register(project.TypeUserAction, userAction)
	return r
}

// Register installs or replaces the executor for a block type.
func (r *Registry) Register(t project.BlockType, f Func) {
	r.funcs[t] = f
}

// Execute runs one attempt inside an executor.<type> span.
func (r *Registry) Execute(ctx context.Context, req Request) Outcome {
	ctx, span := r.tracer.Start(ctx, "executor."+string(req.Block.Type), trace.WithAttributes(
		attribute.String("relwiz.release.id", req.ReleaseID),
		attribute.String("relwiz.block.id", req.Block.ID),
		attribute.String("relwiz.block_execution.id", req.BlockExecutionID),
		attribute.Int("relwiz.attempt", req.Attempt),
	))
	defer span.End()

	f, ok := r.funcs[req.Block.Type]
	var out Outcome
	if !ok {
		out = Fatal(fmt.Errorf("no executor for block type %q", req.Block.Type), nil)
	} else {
		out = f(ctx, req)
	}

	span.SetAttributes(attribute.String("relwiz.outcome", out.Kind.String()))
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return out
}

func (o Options) timeoutFor(b project.Block) time.Duration {
	if b.Timeout > 0 {
		return b.Timeout
	}
	return o.DefaultTimeout
}

// withBlockTimeout runs fn under the block timeout and classifies a timeout:
// the first is Retryable, a repeat after a timed-out attempt is Fatal.
func withBlockTimeout(ctx context.Context, req Request, timeout time.Duration, fn func(ctx context.Context) Outcome) Outcome {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out := fn(tctx)
	if ctx.Err() != nil || tctx.Err() == nil || out.Kind == KindSuccess {
		return out
	}
	err := fmt.Errorf("block %s timed out after %s", req.Block.ID, timeout)
	if req.Prior != nil && req.Prior.TimedOut {
		out = Fatal(fmt.Errorf("%w (again after a timed-out attempt)", err), out.Metadata)
	} else {
		out = Retryable(err, out.Metadata)
	}
	out.TimedOut = true
	return out
}

// poll calls check every interval until it reports done or ctx ends.
func poll(ctx context.Context, interval time.Duration, check func(ctx context.Context) (bool, error)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		done, err := check(ctx)
		if err != nil || done {
			return err
		}
		timer.Reset(interval)
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

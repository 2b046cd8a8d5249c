package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/relwiz/internal/adapter"
	"github.com/mattjoyce/relwiz/internal/archive"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/executor"
	"github.com/mattjoyce/relwiz/internal/log"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks github.com/mattjoyce/relwiz/internal/engine Executor,ApprovalNotifier

// Executor runs one attempt of a block. *executor.Registry implements it.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) executor.Outcome
}

// ApprovalNotifier posts input requests to a chat channel. *adapter.Slack implements it.
type ApprovalNotifier interface {
	PostApproval(ctx context.Context, channel, text, inputID string, options []string) (adapter.SlackMessage, error)
}

// Engine owns every live release. Each one is driven by a runner goroutine
// that serializes all of that release's state changes.
type Engine struct {
	store    *release.Store
	bus      *events.Bus
	catalog  *project.Catalog
	exec     Executor
	archiver archive.Archiver
	notifier ApprovalNotifier
	cfg      Config
	sem      *semaphore.Weighted
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	runners map[string]*runner
	closed  bool
}

// Option customizes an Engine.
type Option func(*Engine)

func WithArchiver(a archive.Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

func WithNotifier(n ApprovalNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l.With("component", "engine") }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. Call Recover to resume releases left running by a
// previous process, and Close on shutdown.
func New(store *release.Store, bus *events.Bus, catalog *project.Catalog, exec Executor, cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:    store,
		bus:      bus,
		catalog:  catalog,
		exec:     exec,
		archiver: archive.Discard{},
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxInflightCalls)),
		logger:   log.WithComponent("engine"),
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
		runners:  make(map[string]*runner),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close stops every runner and waits for in-flight executor calls to return.
// Block state is left as persisted so Recover can pick it up.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// CreateReleaseRequest submits a new release of a project.
type CreateReleaseRequest struct {
	ProjectID       string            `json:"project_id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	ParameterValues map[string]string `json:"parameter_values"`
	StartedBy       string            `json:"started_by,omitempty"`
}

// CreateRelease validates the project graph and parameter values and persists
// a PENDING release with one WAITING execution per executable block. Nothing
// is stored when validation fails.
func (e *Engine) CreateRelease(ctx context.Context, req CreateReleaseRequest) (*release.Release, error) {
	p, ok := e.catalog.Get(req.ProjectID)
	if !ok {
		return nil, fmt.Errorf("project %s: %w", req.ProjectID, release.ErrNotFound)
	}
	plan, err := project.BuildPlan(p)
	if err != nil {
		return nil, err
	}
	if err := project.ValidateParameters(p, req.ParameterValues).Err(); err != nil {
		return nil, err
	}
	values := project.ResolveProjectValues(p, req.ParameterValues)

	projectValues := make(map[string]string)
	for _, param := range p.Parameters {
		if v, ok := values[param.Name]; ok {
			projectValues[param.Name] = v
		}
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("%s %s", p.Name, e.now().Format("2006-01-02 15:04"))
	}

	rel := &release.Release{
		ProjectID:       p.ID,
		ProjectVersion:  p.Version,
		Name:            name,
		Description:     req.Description,
		ParameterValues: projectValues,
		StartedBy:       req.StartedBy,
		Plan:            planJSON,
		CreatedAt:       e.now(),
	}
	for i, b := range plan.Blocks {
		manual := make(map[string]string)
		for _, bp := range b.Parameters {
			if bp.Source.Kind != project.SourceManual {
				continue
			}
			if v, ok := values[project.ManualKey(b.ID, bp.Name)]; ok {
				manual[bp.Name] = v
			}
		}
		rel.BlockExecutions = append(rel.BlockExecutions, release.BlockExecution{
			BlockID:      b.ID,
			BlockType:    string(b.Type),
			Position:     i,
			ManualValues: manual,
			MaxRetries:   b.EffectiveMaxRetries(e.cfg.DefaultMaxRetries),
		})
	}

	if err := e.store.CreateRelease(ctx, rel); err != nil {
		return nil, err
	}
	if _, err := e.bus.Publish(ctx, events.New(rel.ID, "", events.TypeReleaseStatus, events.ReleaseStatus{
		Status: string(rel.Status),
	})); err != nil {
		e.logger.Error("publish release created", "release_id", rel.ID, "error", err)
	}
	e.logger.Info("release created", "release_id", rel.ID, "project_id", p.ID, "blocks", len(rel.BlockExecutions))
	return rel, nil
}

// StartRelease moves a PENDING release to RUNNING, or resumes a user-paused one.
func (e *Engine) StartRelease(ctx context.Context, releaseID string) error {
	return e.withRunner(ctx, releaseID, func(r *runner) error { return r.start() })
}

// PauseRelease stops new dispatches. Blocks already running finish.
func (e *Engine) PauseRelease(ctx context.Context, releaseID string) error {
	return e.withRunner(ctx, releaseID, func(r *runner) error { return r.pause() })
}

// CancelRelease cancels every non-terminal block and the release.
func (e *Engine) CancelRelease(ctx context.Context, releaseID string) error {
	return e.withRunner(ctx, releaseID, func(r *runner) error { return r.cancel() })
}

// RestartBlock returns a FAILED or CANCELLED block to WAITING, merging
// overrides into its manual parameters.
func (e *Engine) RestartBlock(ctx context.Context, blockExecutionID string, overrides map[string]string) error {
	be, err := e.store.GetBlockExecution(ctx, blockExecutionID)
	if err != nil {
		return err
	}
	return e.withRunner(ctx, be.ReleaseID, func(r *runner) error { return r.restartBlock(blockExecutionID, overrides) })
}

// PauseBlock holds a block behind a resume confirmation.
func (e *Engine) PauseBlock(ctx context.Context, blockExecutionID string) error {
	be, err := e.store.GetBlockExecution(ctx, blockExecutionID)
	if err != nil {
		return err
	}
	return e.withRunner(ctx, be.ReleaseID, func(r *runner) error { return r.pauseBlock(blockExecutionID) })
}

func (e *Engine) CancelBlock(ctx context.Context, blockExecutionID string) error {
	be, err := e.store.GetBlockExecution(ctx, blockExecutionID)
	if err != nil {
		return err
	}
	return e.withRunner(ctx, be.ReleaseID, func(r *runner) error { return r.cancelBlock(blockExecutionID) })
}

// SubmitUserInput answers an open input exactly once.
func (e *Engine) SubmitUserInput(ctx context.Context, inputID, value, submittedBy string) error {
	in, err := e.store.GetInput(ctx, inputID)
	if err != nil {
		return err
	}
	return e.withRunner(ctx, in.ReleaseID, func(r *runner) error { return r.submitInput(inputID, value, submittedBy) })
}

// DeleteRelease archives and removes a release that is not RUNNING or PAUSED.
func (e *Engine) DeleteRelease(ctx context.Context, releaseID string) error {
	return e.withRunner(ctx, releaseID, func(r *runner) error { return r.delete(ctx) })
}

// withRunner runs fn on the release's runner goroutine and returns its error.
func (e *Engine) withRunner(ctx context.Context, releaseID string, fn func(*runner) error) error {
	for {
		r, err := e.runnerFor(ctx, releaseID)
		if err != nil {
			return err
		}
		reply := make(chan error, 1)
		select {
		case r.mailbox <- command{fn: fn, reply: reply}:
		case <-r.done:
			// The runner exited between lookup and send; load a fresh one.
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case err := <-reply:
			return err
		case <-r.done:
			// The reply is sent before done closes.
			select {
			case err := <-reply:
				return err
			default:
				return errEngineClosed
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runnerFor returns the live runner of a release, starting one from the
// persisted state when there is none.
func (e *Engine) runnerFor(ctx context.Context, releaseID string) (*runner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errEngineClosed
	}
	if r, ok := e.runners[releaseID]; ok {
		return r, nil
	}
	rel, err := e.store.GetRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	plan, err := project.RestorePlan(rel.Plan)
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", releaseID, err)
	}
	r := newRunner(e, rel, plan)
	e.runners[releaseID] = r
	e.wg.Add(1)
	go r.run()
	return r, nil
}

// Recover resumes every RUNNING or PAUSED release found in the store.
func (e *Engine) Recover(ctx context.Context) error {
	rels, err := e.store.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("list non-terminal releases: %w", err)
	}
	resumed := 0
	for _, rel := range rels {
		if rel.Status == release.StatusPending {
			continue
		}
		if err := e.withRunner(ctx, rel.ID, func(r *runner) error { return r.recover() }); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			e.logger.Error("recover release", "release_id", rel.ID, "error", err)
			continue
		}
		resumed++
	}
	e.logger.Info("recovery complete", "releases", resumed)
	return nil
}

// Active reports how many releases currently have a runner.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runners)
}

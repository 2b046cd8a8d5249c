package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/executor"
	"github.com/mattjoyce/relwiz/internal/log"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

// Values of the cancelled_by metadata key.
const (
	cancelledByUser    = "user"
	cancelledByRelease = "release"
	cancelledByFailure = "failure"
	cancelledByStall   = "stall"
)

const (
	metaCancelledBy = "cancelled_by"
	metaTimedOut    = "timed_out"
	engineSource    = "engine"
	notifyTimeout   = 30 * time.Second
)

type command struct {
	fn    func(*runner) error
	reply chan error
}

type attempt struct {
	id     int
	cancel context.CancelFunc
}

// runner owns one release. Only its goroutine reads or writes rel and the
// executions; executor calls and timers talk to it through the mailbox.
type runner struct {
	e       *Engine
	rel     *release.Release
	plan    *project.Plan
	secrets map[string]bool
	logger  *slog.Logger

	execs    map[string]*release.BlockExecution // by block id
	byID     map[string]*release.BlockExecution
	attempts map[string]attempt
	timers   map[string]*time.Timer
	due      map[string]bool
	answers  map[string]*executor.Submission // READY blocks resuming with input
	seq      int

	ctx     context.Context // cancelled on engine shutdown
	db      context.Context // store writes outlive shutdown
	mailbox chan command
	done    chan struct{}
}

func newRunner(e *Engine, rel *release.Release, plan *project.Plan) *runner {
	r := &runner{
		e:        e,
		rel:      rel,
		plan:     plan,
		secrets:  plan.SecretSet(),
		logger:   log.WithRelease(e.logger, rel.ID).With("project_id", rel.ProjectID),
		execs:    make(map[string]*release.BlockExecution, len(rel.BlockExecutions)),
		byID:     make(map[string]*release.BlockExecution, len(rel.BlockExecutions)),
		attempts: make(map[string]attempt),
		timers:   make(map[string]*time.Timer),
		due:      make(map[string]bool),
		answers:  make(map[string]*executor.Submission),
		ctx:      e.ctx,
		db:       context.WithoutCancel(e.ctx),
		mailbox:  make(chan command),
		done:     make(chan struct{}),
	}
	for i := range rel.BlockExecutions {
		be := &rel.BlockExecutions[i]
		r.execs[be.BlockID] = be
		r.byID[be.ID] = be
	}
	return r
}

func (r *runner) run() {
	defer r.e.wg.Done()
	defer r.exit()
	for {
		select {
		case <-r.ctx.Done():
			return
		case cmd := <-r.mailbox:
			err := cmd.fn(r)
			r.step()
			if cmd.reply != nil {
				cmd.reply <- err
			}
			if !r.live() {
				return
			}
		}
	}
}

func (r *runner) exit() {
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	for id, a := range r.attempts {
		a.cancel()
		delete(r.attempts, id)
	}
	r.e.mu.Lock()
	if r.e.runners[r.rel.ID] == r {
		delete(r.e.runners, r.rel.ID)
	}
	close(r.done)
	r.e.mu.Unlock()
}

// post queues fn on the runner. It is dropped once the runner has exited.
func (r *runner) post(fn func(*runner)) {
	select {
	case r.mailbox <- command{fn: func(r *runner) error { fn(r); return nil }}:
	case <-r.done:
	}
}

func (r *runner) live() bool {
	return r.rel.Status == release.StatusRunning || r.rel.Status == release.StatusPaused
}

// step recomputes the READY set, dispatches what it can and re-evaluates
// the release status.
func (r *runner) step() {
	if !r.live() {
		return
	}
	r.promote()
	if !r.live() {
		return
	}
	r.dispatchReady()
	if !r.live() {
		return
	}
	r.evaluate()
}

// promote moves WAITING blocks whose SEQUENTIAL predecessors succeeded and
// whose block-output sources are populated to READY.
func (r *runner) promote() {
	for _, id := range r.plan.Order {
		be := r.execs[id]
		if be == nil || be.Status != release.BlockWaiting {
			continue
		}
		ready, err := r.readiness(id)
		if err != nil {
			r.failBlock(be, err)
			return
		}
		if ready {
			r.transition(be, release.BlockReady)
		}
	}
}

func (r *runner) readiness(id string) (bool, error) {
	for _, pred := range r.plan.Predecessors(id) {
		if p := r.execs[pred]; p == nil || p.Status != release.BlockSucceeded {
			return false, nil
		}
	}
	block, _ := r.plan.Block(id)
	for _, bp := range block.Parameters {
		if bp.Source.Kind != project.SourceBlockOutput {
			continue
		}
		src := r.execs[bp.Source.Block]
		if src == nil || src.Status != release.BlockSucceeded {
			return false, nil
		}
		if _, ok := src.OutputValues[bp.Source.Output]; !ok && !bp.Optional {
			return false, fmt.Errorf("output %q of block %q was not produced", bp.Source.Output, bp.Source.Block)
		}
	}
	return true, nil
}

func (r *runner) dispatchReady() {
	if r.rel.UserPaused {
		return
	}
	running := r.count(release.BlockRunning)
	for _, id := range r.plan.Order {
		if running >= r.e.cfg.MaxConcurrentBlocks {
			return
		}
		be := r.execs[id]
		if be == nil {
			continue
		}
		switch {
		case be.Status == release.BlockReady:
		case be.Status == release.BlockRetrying && r.due[be.ID]:
		default:
			continue
		}
		input := r.answers[be.ID]
		delete(r.answers, be.ID)
		if r.dispatch(be, input) {
			running++
		}
		if !r.live() {
			return
		}
	}
}

// dispatch starts one attempt of be on a worker goroutine.
func (r *runner) dispatch(be *release.BlockExecution, input *executor.Submission) bool {
	block, ok := r.plan.Block(be.BlockID)
	if !ok {
		r.failBlock(be, fmt.Errorf("block %s is not in the release plan", be.BlockID))
		return false
	}
	params, err := project.ResolveBlockParameters(block, r.rel.ParameterValues, be.ManualValues, r.outputsOf)
	if err != nil {
		r.failBlock(be, fmt.Errorf("resolve parameters: %w", err))
		return false
	}

	prior := r.prior(be)
	r.stopTimer(be.ID)
	delete(r.due, be.ID)
	be.ParameterValues = project.Mask(params, r.blockSecrets(block))
	be.NextAttemptAt = nil
	r.transition(be, release.BlockRunning)

	n := be.RetryCount + 1
	r.logf(be, release.LevelInfo, "attempt %d started", n)
	log.WithBlock(r.e.logger, r.rel.ID, be.ID, be.BlockID).Debug("block dispatched", "attempt", n)

	r.seq++
	actx, cancel := context.WithCancel(r.ctx)
	r.attempts[be.ID] = attempt{id: r.seq, cancel: cancel}

	execID := be.ID
	req := executor.Request{
		ReleaseID:        r.rel.ID,
		BlockExecutionID: execID,
		Block:            block,
		Plan:             r.plan,
		Params:           params,
		ProjectValues:    r.rel.ParameterValues,
		Attempt:          n,
		Prior:            prior,
		Input:            input,
		Log: func(level release.LogLevel, source, message string) {
			r.post(func(r *runner) { r.appendLog(execID, level, source, message) })
		},
		Progress: func(metadata map[string]string) {
			md := copyMap(metadata)
			r.post(func(r *runner) { r.mergeMetadata(execID, md) })
		},
	}
	r.e.wg.Add(1)
	go r.work(actx, execID, r.seq, req)
	return true
}

func (r *runner) work(ctx context.Context, execID string, id int, req executor.Request) {
	defer r.e.wg.Done()
	var out executor.Outcome
	if err := r.e.sem.Acquire(ctx, 1); err != nil {
		out = executor.Retryable(fmt.Errorf("wait for executor slot: %w", err), nil)
	} else {
		out = r.e.exec.Execute(ctx, req)
		r.e.sem.Release(1)
	}
	r.post(func(r *runner) { r.onResult(execID, id, out) })
}

// onResult applies an attempt's outcome. Results of discarded attempts are ignored.
func (r *runner) onResult(execID string, id int, out executor.Outcome) {
	a, ok := r.attempts[execID]
	if !ok || a.id != id {
		return
	}
	delete(r.attempts, execID)
	a.cancel()

	be := r.byID[execID]
	if be == nil || be.Status != release.BlockRunning {
		return
	}
	if be.Metadata == nil {
		be.Metadata = make(map[string]string)
	}
	if out.TimedOut {
		be.Metadata[metaTimedOut] = "true"
	} else {
		delete(be.Metadata, metaTimedOut)
	}
	r.mergeMetadata(execID, out.Metadata)

	switch out.Kind {
	case executor.KindSuccess:
		be.OutputValues = copyMap(out.Outputs)
		be.LastError = nil
		r.publish(be.ID, events.TypeBlockOutput, events.Values{BlockID: be.BlockID, Values: copyMap(be.OutputValues)})
		r.logf(be, release.LevelInfo, "completed")
		r.transition(be, release.BlockSucceeded)
	case executor.KindNeedsInput:
		spec := executor.InputSpec{Type: string(release.InputConfirmation)}
		if out.Input != nil {
			spec = *out.Input
		}
		r.requestInput(be, release.PurposeAction, spec)
	case executor.KindRetryable:
		r.retry(be, out.Err)
	default:
		r.failBlock(be, out.Err)
	}
}

// retry consumes one retry. retry_count never exceeds max_retries; once the
// budget is spent the block fails.
func (r *runner) retry(be *release.BlockExecution, err error) {
	msg := errText(err)
	be.LastError = &msg
	if be.RetryCount < be.MaxRetries {
		be.RetryCount++
	}
	if be.RetryCount < be.MaxRetries {
		delay := r.e.cfg.Backoff(be.RetryCount)
		at := r.e.now().Add(delay)
		be.NextAttemptAt = &at
		r.logf(be, release.LevelWarning, "attempt %d failed, retrying in %s: %s", be.RetryCount, delay, msg)
		r.transition(be, release.BlockRetrying)
		r.scheduleRetry(be, delay)
		return
	}
	r.failBlock(be, fmt.Errorf("retries exhausted (%d of %d): %s", be.RetryCount, be.MaxRetries, msg))
}

func (r *runner) scheduleRetry(be *release.BlockExecution, delay time.Duration) {
	execID := be.ID
	at := *be.NextAttemptAt
	r.setTimer(execID, delay, func(r *runner) {
		be := r.byID[execID]
		if be == nil || be.Status != release.BlockRetrying || be.NextAttemptAt == nil || !be.NextAttemptAt.Equal(at) {
			return
		}
		r.due[execID] = true
	})
}

// failBlock marks be FAILED, which fails the whole release.
func (r *runner) failBlock(be *release.BlockExecution, err error) {
	msg := errText(err)
	be.LastError = &msg
	be.NextAttemptAt = nil
	r.logf(be, release.LevelError, "failed: %s", msg)
	r.discardAttempt(be.ID)
	r.stopTimer(be.ID)
	delete(r.due, be.ID)
	delete(r.answers, be.ID)
	r.closeInputs(be)
	r.transition(be, release.BlockFailed)
	r.failRelease(be)
}

func (r *runner) failRelease(cause *release.BlockExecution) {
	for _, id := range r.plan.Order {
		if be := r.execs[id]; be != nil && !be.Status.Terminal() {
			r.cancelExec(be, cancelledByFailure)
		}
	}
	r.logger.Warn("release failed", "block_id", cause.BlockID, "block_execution_id", cause.ID)
	r.finish(release.StatusFailed)
}

// cancelExec cancels a non-terminal block, interrupting any in-flight call.
func (r *runner) cancelExec(be *release.BlockExecution, by string) {
	r.discardAttempt(be.ID)
	r.stopTimer(be.ID)
	delete(r.due, be.ID)
	delete(r.answers, be.ID)
	r.closeInputs(be)
	be.NextAttemptAt = nil
	if be.Metadata == nil {
		be.Metadata = make(map[string]string)
	}
	be.Metadata[metaCancelledBy] = by
	r.logf(be, release.LevelWarning, "cancelled (%s)", by)
	r.transition(be, release.BlockCancelled)
}

// evaluate derives the release status from its blocks.
func (r *runner) evaluate() {
	var running, ready, retrying, waitingInput, succeeded int
	var failed *release.BlockExecution
	for _, id := range r.plan.Order {
		be := r.execs[id]
		if be == nil {
			continue
		}
		switch be.Status {
		case release.BlockRunning:
			running++
		case release.BlockReady:
			ready++
		case release.BlockRetrying:
			retrying++
		case release.BlockWaitingForInput:
			waitingInput++
		case release.BlockSucceeded:
			succeeded++
		case release.BlockFailed:
			if failed == nil {
				failed = be
			}
		}
	}
	switch {
	case succeeded == len(r.execs):
		r.finish(release.StatusSucceeded)
		return
	case failed != nil:
		r.failRelease(failed)
		return
	case running+ready+retrying+waitingInput == 0:
		// Nothing can make progress: the remaining blocks wait on cancelled ones.
		for _, id := range r.plan.Order {
			if be := r.execs[id]; be != nil && be.Status == release.BlockWaiting {
				r.cancelExec(be, cancelledByStall)
			}
		}
		r.finish(release.StatusCancelled)
		return
	}
	if r.rel.UserPaused || (waitingInput > 0 && running == 0) {
		r.setReleaseStatus(release.StatusPaused)
	} else {
		r.setReleaseStatus(release.StatusRunning)
	}
}

// requestInput records an input request and parks the block on it.
func (r *runner) requestInput(be *release.BlockExecution, purpose release.InputPurpose, spec executor.InputSpec) {
	typ := release.InputType(strings.ToUpper(strings.TrimSpace(spec.Type)))
	if typ == "" {
		typ = release.InputConfirmation
	}
	in := &release.UserInput{
		ReleaseID:        r.rel.ID,
		BlockExecutionID: be.ID,
		Purpose:          purpose,
		Prompt:           r.redact(spec.Prompt),
		InputType:        typ,
		Options:          spec.Options,
		Required:         spec.Required,
		CreatedAt:        r.e.now(),
	}
	if err := r.e.store.CreateInput(r.db, in); err != nil {
		r.failBlock(be, fmt.Errorf("record input request: %w", err))
		return
	}
	r.transition(be, release.BlockWaitingForInput)
	r.publish(be.ID, events.TypeInputRequired, events.InputRequired{
		BlockID:   be.BlockID,
		InputID:   in.ID,
		Purpose:   string(in.Purpose),
		Prompt:    in.Prompt,
		InputType: string(in.InputType),
		Options:   in.Options,
	})
	r.logf(be, release.LevelInfo, "waiting for input: %s", in.Prompt)

	if purpose == release.PurposeAction {
		r.notify(be, in)
	}
	if d := r.e.cfg.InputTimeout; d > 0 {
		r.scheduleInputTimeout(be, in.ID, d)
	}
}

// notify posts the input request to the project's approval channel.
func (r *runner) notify(be *release.BlockExecution, in *release.UserInput) {
	channel := r.plan.ApprovalChannel
	if channel == "" || r.e.notifier == nil {
		return
	}
	text := fmt.Sprintf("*%s* / %s\n%s", r.rel.Name, r.blockName(be), in.Prompt)
	execID, inputID, options := be.ID, in.ID, in.Options
	r.e.wg.Add(1)
	go func() {
		defer r.e.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, notifyTimeout)
		defer cancel()
		msg, err := r.e.notifier.PostApproval(ctx, channel, text, inputID, options)
		r.post(func(r *runner) {
			if err != nil {
				r.appendLog(execID, release.LevelWarning, "slack", "approval request not posted: "+err.Error())
				return
			}
			r.mergeMetadata(execID, map[string]string{"approval_channel": msg.Channel, "approval_ts": msg.TS})
			r.appendLog(execID, release.LevelInfo, "slack", "approval requested in "+channel)
		})
	}()
}

func (r *runner) scheduleInputTimeout(be *release.BlockExecution, inputID string, d time.Duration) {
	execID := be.ID
	r.setTimer(execID, d, func(r *runner) {
		be := r.byID[execID]
		if be == nil || be.Status != release.BlockWaitingForInput {
			return
		}
		in, err := r.e.store.GetInput(r.db, inputID)
		if err != nil || !in.Open() {
			return
		}
		r.failBlock(be, fmt.Errorf("no input received within %s", d))
	})
}

func (r *runner) setTimer(execID string, d time.Duration, fn func(*runner)) {
	r.stopTimer(execID)
	if d < 0 {
		d = 0
	}
	r.timers[execID] = time.AfterFunc(d, func() { r.post(fn) })
}

func (r *runner) stopTimer(execID string) {
	if t, ok := r.timers[execID]; ok {
		t.Stop()
		delete(r.timers, execID)
	}
}

func (r *runner) discardAttempt(execID string) {
	if a, ok := r.attempts[execID]; ok {
		a.cancel()
		delete(r.attempts, execID)
	}
}

func (r *runner) closeInputs(be *release.BlockExecution) {
	if be.Status != release.BlockWaitingForInput {
		return
	}
	if _, err := r.e.store.CancelOpenInputs(r.db, be.ID, r.e.now()); err != nil {
		r.logger.Error("cancel open inputs", "block_execution_id", be.ID, "error", err)
	}
}

// transition persists a block status change and announces it.
func (r *runner) transition(be *release.BlockExecution, to release.BlockStatus) {
	prev := be.Status
	now := r.e.now()
	be.Status = to
	switch {
	case to == release.BlockRunning && be.StartedAt == nil:
		be.StartedAt = &now
	case to.Terminal():
		be.CompletedAt = &now
	case to == release.BlockWaiting:
		be.CompletedAt = nil
	}
	if err := r.e.store.SaveBlockExecution(r.db, be); err != nil {
		r.logger.Error("save block execution", "block_id", be.BlockID, "error", err)
	}
	payload := events.BlockStatus{
		BlockID:       be.BlockID,
		Status:        string(to),
		Previous:      string(prev),
		RetryCount:    be.RetryCount,
		NextAttemptAt: be.NextAttemptAt,
	}
	if be.LastError != nil && (to == release.BlockFailed || to == release.BlockRetrying) {
		payload.Error = *be.LastError
	}
	r.publish(be.ID, events.TypeBlockStatus, payload)
	r.logger.Debug("block transition", "block_id", be.BlockID, "from", prev, "to", to)
}

func (r *runner) setReleaseStatus(to release.Status) {
	prev := r.rel.Status
	if prev == to {
		return
	}
	r.rel.Status = to
	if to == release.StatusRunning && r.rel.StartedAt == nil {
		now := r.e.now()
		r.rel.StartedAt = &now
	}
	r.saveRelease()
	r.publish("", events.TypeReleaseStatus, events.ReleaseStatus{Status: string(to), Previous: string(prev)})
	r.logger.Info("release status changed", "from", prev, "to", to)
}

// finish freezes the release at a terminal status.
func (r *runner) finish(to release.Status) {
	prev := r.rel.Status
	now := r.e.now()
	r.rel.Status = to
	r.rel.UserPaused = false
	r.rel.CompletedAt = &now
	r.saveRelease()
	r.publish("", events.TypeReleaseStatus, events.ReleaseStatus{Status: string(to), Previous: string(prev), Terminal: true})
	r.logger.Info("release finished", "status", to)
}

func (r *runner) saveRelease() {
	if err := r.e.store.SaveRelease(r.db, r.rel); err != nil {
		r.logger.Error("save release", "error", err)
	}
}

func (r *runner) publish(execID string, typ events.Type, payload any) {
	if _, err := r.e.bus.Publish(r.db, events.New(r.rel.ID, execID, typ, payload)); err != nil {
		r.logger.Error("publish event", "type", typ, "error", err)
	}
}

func (r *runner) mergeMetadata(execID string, md map[string]string) {
	be := r.byID[execID]
	if be == nil || be.Status.Terminal() || len(md) == 0 {
		return
	}
	if be.Metadata == nil {
		be.Metadata = make(map[string]string)
	}
	for k, v := range md {
		be.Metadata[k] = v
	}
	if err := r.e.store.SaveBlockExecution(r.db, be); err != nil {
		r.logger.Error("save block metadata", "block_id", be.BlockID, "error", err)
	}
	r.publish(execID, events.TypeBlockMetadata, events.Values{BlockID: be.BlockID, Values: copyMap(md)})
}

// appendLog stores one execution log line with secret values masked.
func (r *runner) appendLog(execID string, level release.LogLevel, source, message string) {
	be := r.byID[execID]
	if be == nil {
		return
	}
	l := &release.ExecutionLog{
		ReleaseID:        r.rel.ID,
		BlockExecutionID: execID,
		Level:            level,
		Message:          r.redact(message),
		Source:           source,
		Timestamp:        r.e.now(),
	}
	if err := r.e.store.AppendLog(r.db, l); err != nil {
		r.logger.Error("append log", "block_id", be.BlockID, "error", err)
	}
	r.publish(execID, events.TypeBlockLog, events.LogLine{
		BlockID: be.BlockID,
		Level:   string(l.Level),
		Message: l.Message,
		Source:  l.Source,
	})
}

func (r *runner) logf(be *release.BlockExecution, level release.LogLevel, format string, args ...any) {
	r.appendLog(be.ID, level, engineSource, fmt.Sprintf(format, args...))
}

func (r *runner) outputsOf(blockID string) (map[string]string, bool) {
	be := r.execs[blockID]
	if be == nil || be.Status != release.BlockSucceeded {
		return nil, false
	}
	return be.OutputValues, true
}

// prior reports how the previous attempt ended, or nil on a first attempt.
func (r *runner) prior(be *release.BlockExecution) *executor.Prior {
	timedOut := be.Metadata[metaTimedOut] == "true"
	if be.LastError == nil && !timedOut {
		return nil
	}
	p := &executor.Prior{TimedOut: timedOut}
	if be.LastError != nil {
		p.Error = *be.LastError
	}
	return p
}

// blockSecrets names the block parameters whose values must be masked.
func (r *runner) blockSecrets(b project.Block) map[string]bool {
	out := make(map[string]bool)
	for _, bp := range b.Parameters {
		switch {
		case strings.EqualFold(string(bp.Type), string(project.ParamSecret)):
			out[bp.Name] = true
		case bp.Source.Kind == project.SourceProjectParameter && r.secrets[bp.Source.Parameter]:
			out[bp.Name] = true
		case bp.Source.Kind == project.SourceManual && r.secrets[project.ManualKey(b.ID, bp.Name)]:
			out[bp.Name] = true
		}
	}
	return out
}

// redact replaces every secret value appearing in s.
func (r *runner) redact(s string) string {
	if len(r.secrets) == 0 || s == "" {
		return s
	}
	for name := range r.secrets {
		if v := r.rel.ParameterValues[name]; v != "" {
			s = strings.ReplaceAll(s, v, project.SecretMask)
		}
	}
	for _, be := range r.byID {
		for param, v := range be.ManualValues {
			if v != "" && r.secrets[project.ManualKey(be.BlockID, param)] {
				s = strings.ReplaceAll(s, v, project.SecretMask)
			}
		}
	}
	return s
}

func (r *runner) blockName(be *release.BlockExecution) string {
	if b, ok := r.plan.Block(be.BlockID); ok && b.Name != "" {
		return b.Name
	}
	return be.BlockID
}

func (r *runner) count(status release.BlockStatus) int {
	n := 0
	for _, be := range r.byID {
		if be.Status == status {
			n++
		}
	}
	return n
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/relwiz/internal/archive"
	"github.com/mattjoyce/relwiz/internal/executor"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

const archivePageSize = 500

func (r *runner) start() error {
	switch r.rel.Status {
	case release.StatusPending:
		r.setReleaseStatus(release.StatusRunning)
	case release.StatusRunning, release.StatusPaused:
		if r.rel.UserPaused {
			r.rel.UserPaused = false
			r.saveRelease()
			r.logger.Info("release resumed")
		}
	default:
		return fmt.Errorf("start release in status %s: %w", r.rel.Status, ErrInvalidState)
	}
	return nil
}

func (r *runner) pause() error {
	switch r.rel.Status {
	case release.StatusRunning, release.StatusPaused:
		if !r.rel.UserPaused {
			r.rel.UserPaused = true
			r.saveRelease()
			r.logger.Info("release paused by user")
		}
		return nil
	default:
		return fmt.Errorf("pause release in status %s: %w", r.rel.Status, ErrInvalidState)
	}
}

func (r *runner) cancel() error {
	switch r.rel.Status {
	case release.StatusCancelled:
		return nil
	case release.StatusSucceeded, release.StatusFailed:
		return fmt.Errorf("cancel release in status %s: %w", r.rel.Status, ErrInvalidState)
	}
	for _, id := range r.plan.Order {
		if be := r.execs[id]; be != nil && !be.Status.Terminal() {
			r.cancelExec(be, cancelledByRelease)
		}
	}
	r.finish(release.StatusCancelled)
	return nil
}

func (r *runner) execution(id string) (*release.BlockExecution, error) {
	be, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("block execution %s: %w", id, release.ErrNotFound)
	}
	return be, nil
}

func (r *runner) restartBlock(execID string, overrides map[string]string) error {
	be, err := r.execution(execID)
	if err != nil {
		return err
	}
	switch be.Status {
	case release.BlockFailed, release.BlockCancelled:
	case release.BlockSucceeded:
		return fmt.Errorf("restart block in status %s: %w", be.Status, ErrInvalidState)
	default:
		return nil
	}
	block, _ := r.plan.Block(be.BlockID)
	manual, err := manualOverrides(block, overrides)
	if err != nil {
		return err
	}
	if len(manual) > 0 {
		if be.ManualValues == nil {
			be.ManualValues = make(map[string]string)
		}
		for k, v := range manual {
			be.ManualValues[k] = v
		}
	}
	r.reset(be)
	r.logf(be, release.LevelInfo, "restarted")

	if r.rel.Status == release.StatusFailed || r.rel.Status == release.StatusCancelled {
		for _, id := range r.plan.Order {
			peer := r.execs[id]
			if peer == nil || peer == be || peer.Status != release.BlockCancelled {
				continue
			}
			// Only blocks cancelled as a consequence of another block come back.
			switch peer.Metadata[metaCancelledBy] {
			case cancelledByFailure, cancelledByStall:
				r.reset(peer)
			}
		}
		r.rel.CompletedAt = nil
		r.setReleaseStatus(release.StatusRunning)
	}
	return nil
}

// reset returns a block to a fresh WAITING state.
func (r *runner) reset(be *release.BlockExecution) {
	be.RetryCount = 0
	be.LastError = nil
	be.NextAttemptAt = nil
	be.StartedAt = nil
	be.OutputValues = map[string]string{}
	delete(r.answers, be.ID)
	delete(be.Metadata, metaCancelledBy)
	delete(be.Metadata, metaTimedOut)
	r.transition(be, release.BlockWaiting)
}

// manualOverrides accepts keys naming a manual parameter of b, either bare
// or as "<blockId>.<param>".
func manualOverrides(b project.Block, overrides map[string]string) (map[string]string, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	manual := make(map[string]bool)
	for _, bp := range b.Parameters {
		if bp.Source.Kind == project.SourceManual {
			manual[bp.Name] = true
		}
	}
	out := make(map[string]string, len(overrides))
	var errs []project.ValidationError
	for key, v := range overrides {
		name := strings.TrimPrefix(key, b.ID+".")
		if !manual[name] {
			errs = append(errs, project.ValidationError{
				Field:   "overrides." + key,
				Code:    project.CodeUnknownParameter,
				Message: fmt.Sprintf("block %q has no manual parameter %q", b.ID, name),
			})
			continue
		}
		out[name] = v
	}
	if len(errs) > 0 {
		return nil, project.ValidationResult{Errors: errs}.Err()
	}
	return out, nil
}

func (r *runner) pauseBlock(execID string) error {
	be, err := r.execution(execID)
	if err != nil {
		return err
	}
	switch be.Status {
	case release.BlockWaitingForInput:
		return nil
	case release.BlockSucceeded, release.BlockFailed, release.BlockCancelled:
		return fmt.Errorf("pause block in status %s: %w", be.Status, ErrInvalidState)
	case release.BlockRunning:
		// The attempt is abandoned without consuming a retry.
		r.discardAttempt(be.ID)
		r.logf(be, release.LevelWarning, "attempt interrupted by pause")
	case release.BlockRetrying:
		r.stopTimer(be.ID)
		delete(r.due, be.ID)
		be.NextAttemptAt = nil
	}
	r.requestInput(be, release.PurposeResume, executor.InputSpec{
		Prompt:   fmt.Sprintf("Resume block %s?", r.blockName(be)),
		Type:     string(release.InputConfirmation),
		Options:  []string{"yes", "no"},
		Required: true,
	})
	return nil
}

func (r *runner) cancelBlock(execID string) error {
	be, err := r.execution(execID)
	if err != nil {
		return err
	}
	switch be.Status {
	case release.BlockCancelled:
		return nil
	case release.BlockSucceeded, release.BlockFailed:
		return fmt.Errorf("cancel block in status %s: %w", be.Status, ErrInvalidState)
	}
	r.cancelExec(be, cancelledByUser)
	return nil
}

func (r *runner) submitInput(inputID, value, by string) error {
	in, err := r.e.store.GetInput(r.db, inputID)
	if err != nil {
		return err
	}
	switch {
	case in.SubmittedAt != nil:
		return fmt.Errorf("input %s: %w", inputID, ErrInputAlreadySubmitted)
	case in.CancelledAt != nil:
		return fmt.Errorf("input %s was cancelled: %w", inputID, ErrInputNotPending)
	}
	be, ok := r.byID[in.BlockExecutionID]
	if !ok || be.Status != release.BlockWaitingForInput {
		return fmt.Errorf("input %s: %w", inputID, ErrInputNotPending)
	}
	if err := checkInputValue(in, value); err != nil {
		return err
	}
	if _, err := r.e.store.SubmitInput(r.db, inputID, value, by, r.e.now()); err != nil {
		if errors.Is(err, release.ErrInputClosed) {
			return fmt.Errorf("input %s: %w", inputID, ErrInputAlreadySubmitted)
		}
		return err
	}
	r.stopTimer(be.ID)
	who := by
	if who == "" {
		who = "user"
	}
	r.logf(be, release.LevelInfo, "input submitted by %s", who)

	if in.Purpose == release.PurposeResume {
		if executor.IsRejection(value) {
			r.cancelExec(be, cancelledByUser)
			return nil
		}
		r.transition(be, release.BlockWaiting)
		return nil
	}
	// Queued like any READY block so pause and the concurrency ceiling apply.
	r.answers[be.ID] = &executor.Submission{Value: value, SubmittedBy: by}
	r.transition(be, release.BlockReady)
	return nil
}

func checkInputValue(in *release.UserInput, value string) error {
	if in.Required && strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: a value is required", ErrInvalidInput)
	}
	allowed := make(map[string]bool, len(in.Options))
	for _, o := range in.Options {
		allowed[o] = true
	}
	switch in.InputType {
	case release.InputChoice:
		if len(allowed) > 0 && !allowed[value] {
			return fmt.Errorf("%w: %q is not one of %s", ErrInvalidInput, value, strings.Join(in.Options, ", "))
		}
	case release.InputMultiChoice:
		for _, v := range strings.Split(value, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if len(allowed) > 0 && !allowed[v] {
				return fmt.Errorf("%w: %q is not one of %s", ErrInvalidInput, v, strings.Join(in.Options, ", "))
			}
		}
	}
	return nil
}

func (r *runner) delete(ctx context.Context) error {
	if r.live() {
		return fmt.Errorf("delete release %s: %w", r.rel.ID, ErrReleaseRunning)
	}
	b, err := r.bundle(ctx)
	if err != nil {
		return err
	}
	if err := r.e.archiver.Archive(ctx, b); err != nil {
		return fmt.Errorf("archive release: %w", err)
	}
	if err := r.e.store.DeleteRelease(ctx, r.rel.ID); err != nil {
		return err
	}
	r.logger.Info("release deleted", "logs", len(b.Logs), "events", len(b.Events))
	return nil
}

// bundle collects everything recorded about the release, secrets masked.
func (r *runner) bundle(ctx context.Context) (*archive.Bundle, error) {
	rel, err := r.e.store.GetRelease(ctx, r.rel.ID)
	if err != nil {
		return nil, err
	}
	rel.ParameterValues = project.Mask(rel.ParameterValues, r.secrets)
	b := &archive.Bundle{Release: *rel, ArchivedAt: r.e.now()}

	for _, be := range rel.BlockExecutions {
		for offset := 0; ; offset += archivePageSize {
			logs, total, err := r.e.store.ListLogs(ctx, be.ID, release.LogRequest{Limit: archivePageSize, Offset: offset})
			if err != nil {
				return nil, err
			}
			b.Logs = append(b.Logs, logs...)
			if offset+len(logs) >= total || len(logs) == 0 {
				break
			}
		}
	}
	if b.Inputs, err = r.e.store.ListInputs(ctx, rel.ID, false); err != nil {
		return nil, err
	}
	var after int64
	for {
		batch, err := r.e.bus.History(ctx, rel.ID, after, archivePageSize)
		if err != nil {
			return nil, err
		}
		b.Events = append(b.Events, batch...)
		if len(batch) < archivePageSize {
			break
		}
		after = batch[len(batch)-1].Seq
	}
	return b, nil
}

// recover resumes a release loaded after a restart.
func (r *runner) recover() error {
	now := r.e.now()
	for _, id := range r.plan.Order {
		if !r.live() {
			break
		}
		be := r.execs[id]
		if be == nil {
			continue
		}
		switch be.Status {
		case release.BlockRunning:
			// The outcome of the interrupted call is unknown; try again.
			r.retry(be, errors.New("interrupted by restart"))
		case release.BlockRetrying:
			if be.NextAttemptAt == nil || !be.NextAttemptAt.After(now) {
				r.due[be.ID] = true
				continue
			}
			r.scheduleRetry(be, be.NextAttemptAt.Sub(now))
		case release.BlockWaitingForInput:
			d := r.e.cfg.InputTimeout
			if d <= 0 {
				continue
			}
			in, err := r.e.store.OpenInputForBlock(r.db, be.ID)
			if err != nil {
				continue
			}
			r.scheduleInputTimeout(be, in.ID, time.Until(in.CreatedAt.Add(d)))
		}
	}
	r.logger.Info("release recovered", "status", r.rel.Status)
	return nil
}

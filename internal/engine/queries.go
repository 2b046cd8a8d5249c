package engine

import (
	"context"

	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

// GetRelease returns a release with its block executions. Secret parameter
// values are masked.
func (e *Engine) GetRelease(ctx context.Context, id string) (*release.Release, error) {
	rel, err := e.store.GetRelease(ctx, id)
	if err != nil {
		return nil, err
	}
	maskRelease(rel)
	return rel, nil
}

// ListReleases pages releases without their executions.
func (e *Engine) ListReleases(ctx context.Context, req release.ListRequest) ([]release.Release, int, error) {
	rels, total, err := e.store.ListReleases(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	for i := range rels {
		maskRelease(&rels[i])
	}
	return rels, total, nil
}

func (e *Engine) GetBlockExecution(ctx context.Context, id string) (*release.BlockExecution, error) {
	return e.store.GetBlockExecution(ctx, id)
}

// GetBlockLogs pages the execution log of one block execution.
func (e *Engine) GetBlockLogs(ctx context.Context, blockExecutionID string, req release.LogRequest) ([]release.ExecutionLog, int, error) {
	if _, err := e.store.GetBlockExecution(ctx, blockExecutionID); err != nil {
		return nil, 0, err
	}
	return e.store.ListLogs(ctx, blockExecutionID, req)
}

// PendingInputs lists the open inputs of a release.
func (e *Engine) PendingInputs(ctx context.Context, releaseID string) ([]release.UserInput, error) {
	if _, err := e.store.GetRelease(ctx, releaseID); err != nil {
		return nil, err
	}
	return e.store.ListInputs(ctx, releaseID, true)
}

func (e *Engine) GetInput(ctx context.Context, id string) (*release.UserInput, error) {
	return e.store.GetInput(ctx, id)
}

// Statistics aggregates the releases of a project.
func (e *Engine) Statistics(ctx context.Context, projectID string, req release.StatisticsRequest) (*release.Statistics, error) {
	return e.store.Statistics(ctx, projectID, req)
}

// Plan returns the execution plan frozen into a release.
func (e *Engine) Plan(ctx context.Context, releaseID string) (*project.Plan, error) {
	rel, err := e.store.GetRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	return project.RestorePlan(rel.Plan)
}

func maskRelease(rel *release.Release) {
	if len(rel.Plan) == 0 {
		return
	}
	plan, err := project.RestorePlan(rel.Plan)
	if err != nil {
		return
	}
	rel.ParameterValues = project.Mask(rel.ParameterValues, plan.SecretSet())
}

package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mattjoyce/relwiz/internal/adapter"
	"github.com/mattjoyce/relwiz/internal/release"
)

var errGitHubUnconfigured = errors.New("github connection is not configured")

func gitHubAction(client GitHubClient, opts Options) Func {
	return func(ctx context.Context, req Request) Outcome {
		spec := req.Block.GitHubAction
		if spec == nil {
			return Fatal(fmt.Errorf("block %s has no github_action payload", req.Block.ID), nil)
		}
		if client == nil {
			return Fatal(errGitHubUnconfigured, nil)
		}
		repo := req.render(spec.Repository)
		workflow := req.render(spec.WorkflowID)
		ref := req.render(spec.Ref)
		inputs := make(map[string]string, len(spec.Inputs))
		for k, v := range spec.Inputs {
			inputs[k] = req.render(v)
		}
		meta := map[string]string{"repository": repo, "workflow_id": workflow, "ref": ref}

		return withBlockTimeout(ctx, req, opts.timeoutFor(req.Block), func(ctx context.Context) Outcome {
			since := time.Now().UTC()
			if err := client.DispatchWorkflow(ctx, repo, workflow, ref, inputs); err != nil {
				return FromError(err, copyMap(meta))
			}
			req.log(release.LevelInfo, "github", "dispatched %s on %s@%s", workflow, repo, ref)

			var run adapter.WorkflowRun
			err := poll(ctx, opts.PollInterval, func(ctx context.Context) (bool, error) {
				r, found, err := client.FindWorkflowRun(ctx, repo, workflow, ref, since)
				if err != nil {
					return pollError(req, "github", err)
				}
				run = r
				return found, nil
			})
			if err != nil {
				return FromError(err, copyMap(meta))
			}
			meta["run_id"] = strconv.FormatInt(run.ID, 10)
			meta["run_url"] = run.HTMLURL
			meta["status"] = run.Status
			req.progress(copyMap(meta))

			err = poll(ctx, opts.PollInterval, func(ctx context.Context) (bool, error) {
				r, err := client.GetWorkflowRun(ctx, repo, run.ID)
				if err != nil {
					return pollError(req, "github", err)
				}
				if r.Status != meta["status"] {
					meta["status"] = r.Status
					req.progress(copyMap(meta))
				}
				run = r
				return r.Completed(), nil
			})
			if err != nil {
				return FromError(err, copyMap(meta))
			}

			meta["conclusion"] = run.Conclusion
			if run.Conclusion != "success" {
				return Fatal(fmt.Errorf("workflow run %d concluded %q", run.ID, run.Conclusion), copyMap(meta))
			}
			req.log(release.LevelInfo, "github", "workflow run %d succeeded", run.ID)
			return Success(map[string]string{
				"run_id":     meta["run_id"],
				"run_url":    meta["run_url"],
				"conclusion": run.Conclusion,
			}, copyMap(meta))
		})
	}
}

func gitHubRelease(client GitHubClient, opts Options) Func {
	return func(ctx context.Context, req Request) Outcome {
		spec := req.Block.GitHubRelease
		if spec == nil {
			return Fatal(fmt.Errorf("block %s has no github_release payload", req.Block.ID), nil)
		}
		if client == nil {
			return Fatal(errGitHubUnconfigured, nil)
		}
		repo := req.render(spec.Repository)
		tag := req.render(spec.TagPattern)
		name := req.render(spec.Name)
		if name == "" {
			name = tag
		}
		meta := map[string]string{"repository": repo, "tag_name": tag}

		return withBlockTimeout(ctx, req, opts.timeoutFor(req.Block), func(ctx context.Context) Outcome {
			rel, err := client.CreateRelease(ctx, repo, adapter.ReleaseRequest{
				TagName:         tag,
				TargetCommitish: req.render(spec.ReleaseBranch),
				Name:            name,
				Body:            req.render(spec.Body),
				Draft:           spec.Draft,
				Prerelease:      spec.Prerelease,
			})
			switch {
			case errors.Is(err, adapter.ErrTagExists):
				req.log(release.LevelInfo, "github", "tag %s already has a release; adopting it", tag)
				err = poll(ctx, opts.PollInterval, func(ctx context.Context) (bool, error) {
					r, err := client.GetReleaseByTag(ctx, repo, tag)
					if adapter.IsNotFound(err) {
						return false, nil
					}
					if err != nil {
						return pollError(req, "github", err)
					}
					rel = r
					return true, nil
				})
				if err != nil {
					return FromError(err, copyMap(meta))
				}
			case err != nil:
				return FromError(err, copyMap(meta))
			default:
				// Drafts are not served by the tag endpoint, so trust the create response.
				req.log(release.LevelInfo, "github", "created release %s on %s", tag, repo)
			}
			meta["release_id"] = strconv.FormatInt(rel.ID, 10)
			meta["release_url"] = rel.HTMLURL
			return Success(map[string]string{
				"release_id":  meta["release_id"],
				"release_url": rel.HTMLURL,
				"tag_name":    tag,
			}, copyMap(meta))
		})
	}
}

// pollError stops polling on a permanent failure and logs anything else.
func pollError(req Request, source string, err error) (bool, error) {
	if adapter.ClassOf(err) == adapter.Permanent {
		return false, err
	}
	req.log(release.LevelWarning, source, "poll failed: %v", err)
	return false, nil
}

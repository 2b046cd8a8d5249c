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

var errTeamCityUnconfigured = errors.New("teamcity connection is not configured")

func teamCityBuild(client TeamCityClient, opts Options) Func {
	return func(ctx context.Context, req Request) Outcome {
		spec := req.Block.TeamCity
		if spec == nil {
			return Fatal(fmt.Errorf("block %s has no teamcity payload", req.Block.ID), nil)
		}
		if client == nil {
			return Fatal(errTeamCityUnconfigured, nil)
		}

		props := make(map[string]string, len(spec.Properties))
		for k, v := range spec.Properties {
			props[k] = req.render(v)
		}
		buildTypeID := req.render(spec.BuildConfigID)
		meta := map[string]string{"build_type_id": buildTypeID}

		return withBlockTimeout(ctx, req, opts.timeoutFor(req.Block), func(ctx context.Context) Outcome {
			build, err := client.TriggerBuild(ctx, buildTypeID, req.render(spec.Branch), props,
				fmt.Sprintf("relwiz release %s block %s", req.ReleaseID, req.Block.ID))
			if err != nil {
				return FromError(err, copyMap(meta))
			}
			meta["build_id"] = strconv.FormatInt(build.ID, 10)
			meta["state"] = build.State
			meta["build_url"] = buildURL(client, build)
			req.progress(copyMap(meta))
			req.log(release.LevelInfo, "teamcity", "triggered build %d of %s", build.ID, buildTypeID)

			var last adapter.Build
			err = poll(ctx, opts.PollInterval, func(ctx context.Context) (bool, error) {
				b, err := client.GetBuild(ctx, build.ID)
				if err != nil {
					return pollError(req, "teamcity", err)
				}
				if b.State != meta["state"] || b.Number != meta["build_number"] {
					meta["state"] = b.State
					meta["build_number"] = b.Number
					req.progress(copyMap(meta))
				}
				last = b
				return b.Finished(), nil
			})
			if err != nil {
				if ctx.Err() != nil {
					cancelBuild(client, build.ID)
				}
				return FromError(err, copyMap(meta))
			}

			meta["build_url"] = buildURL(client, last)
			meta["status"] = last.Status
			if !last.Succeeded() {
				return Fatal(fmt.Errorf("build %d finished with status %s: %s", last.ID, last.Status, last.StatusText), copyMap(meta))
			}
			req.log(release.LevelInfo, "teamcity", "build %d (#%s) succeeded", last.ID, last.Number)
			outputs := map[string]string{
				"build_id":     meta["build_id"],
				"build_number": last.Number,
				"build_url":    meta["build_url"],
				"status":       last.Status,
			}
			return Success(outputs, copyMap(meta))
		})
	}
}

func buildURL(client TeamCityClient, b adapter.Build) string {
	if b.WebURL != "" {
		return b.WebURL
	}
	return client.BuildURL(b.ID)
}

// cancelBuild is best effort: the attempt is already being abandoned.
func cancelBuild(client TeamCityClient, id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = client.CancelBuild(ctx, id, "Cancelled by relwiz")
}

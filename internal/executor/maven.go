package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/relwiz/internal/release"
)

var errMavenUnconfigured = errors.New("maven central connection is not configured")

// mavenCentralStatus makes one publication check per attempt; an unpublished
// version is Retryable so the retry budget bounds the wait.
func mavenCentralStatus(client MavenClient) Func {
	return func(ctx context.Context, req Request) Outcome {
		spec := req.Block.Maven
		if spec == nil {
			return Fatal(fmt.Errorf("block %s has no maven payload", req.Block.ID), nil)
		}
		if client == nil {
			return Fatal(errMavenUnconfigured, nil)
		}
		group, artifact, version := req.render(spec.GroupID), req.render(spec.ArtifactID), req.render(spec.Version)
		meta := map[string]string{
			"publication_id": group + ":" + artifact + ":" + version,
			"last_checked":   time.Now().UTC().Format(time.RFC3339),
		}

		st, err := client.CheckDeploymentStatus(ctx, group, artifact, version)
		if err != nil {
			return FromError(err, meta)
		}
		meta["current_status"] = st.Status
		meta["status_url"] = st.StatusURL
		if !st.Published {
			req.log(release.LevelInfo, "maven", "%s is not yet on Maven Central", meta["publication_id"])
			return Retryable(fmt.Errorf("%s not yet published", meta["publication_id"]), meta)
		}
		req.log(release.LevelInfo, "maven", "%s is published", meta["publication_id"])
		return Success(map[string]string{"status": st.Status, "status_url": st.StatusURL}, meta)
	}
}

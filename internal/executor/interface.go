package executor

import (
	"context"
	"time"

	"github.com/mattjoyce/relwiz/internal/adapter"
)

//go:generate mockgen -destination=mocks/mock_clients.go -package=mocks github.com/mattjoyce/relwiz/internal/executor SlackClient,TeamCityClient,GitHubClient,MavenClient

// SlackClient is the Slack surface the executors need.
type SlackClient interface {
	PostMessage(ctx context.Context, channel, text, threadTS string) (adapter.SlackMessage, error)
	Permalink(ctx context.Context, channel, ts string) (string, error)
}

// TeamCityClient is the TeamCity surface the executors need.
type TeamCityClient interface {
	TriggerBuild(ctx context.Context, buildTypeID, branch string, properties map[string]string, comment string) (adapter.Build, error)
	GetBuild(ctx context.Context, id int64) (adapter.Build, error)
	CancelBuild(ctx context.Context, id int64, comment string) error
	BuildURL(id int64) string
}

// GitHubClient is the GitHub surface the executors need.
type GitHubClient interface {
	DispatchWorkflow(ctx context.Context, repo, workflow, ref string, inputs map[string]string) error
	FindWorkflowRun(ctx context.Context, repo, workflow, ref string, since time.Time) (adapter.WorkflowRun, bool, error)
	GetWorkflowRun(ctx context.Context, repo string, id int64) (adapter.WorkflowRun, error)
	CreateRelease(ctx context.Context, repo string, req adapter.ReleaseRequest) (adapter.Release, error)
	GetReleaseByTag(ctx context.Context, repo, tag string) (adapter.Release, error)
}

// MavenClient is the Maven Central surface the executors need.
type MavenClient interface {
	CheckDeploymentStatus(ctx context.Context, groupID, artifactID, version string) (adapter.DeploymentStatus, error)
}

// Clients bundles the configured integrations. Nil members are unconfigured.
type Clients struct {
	Slack    SlackClient
	TeamCity TeamCityClient
	GitHub   GitHubClient
	Maven    MavenClient
}

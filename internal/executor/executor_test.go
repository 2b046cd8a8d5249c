package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relwiz/internal/adapter"
	"github.com/mattjoyce/relwiz/internal/executor/mocks"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

var fastOpts = Options{PollInterval: time.Millisecond, DefaultTimeout: time.Second}

type logSink struct {
	mu    sync.Mutex
	lines []string
	meta  []map[string]string
}

func (s *logSink) request(b project.Block) Request {
	return Request{
		ReleaseID:        "rel-1",
		BlockExecutionID: "exec-1",
		Block:            b,
		Params:           map[string]string{},
		ProjectValues:    map[string]string{"version": "1.2.3"},
		Attempt:          1,
		Log: func(level release.LogLevel, source, message string) {
			s.mu.Lock()
			s.lines = append(s.lines, string(level)+" "+source+": "+message)
			s.mu.Unlock()
		},
		Progress: func(m map[string]string) {
			s.mu.Lock()
			s.meta = append(s.meta, m)
			s.mu.Unlock()
		},
	}
}

func block(id string, t project.BlockType) project.Block {
	return project.Block{Header: project.Header{ID: id, Name: id, Type: t}}
}

func TestRegistryUnknownTypeIsFatal(t *testing.T) {
	r := NewRegistry(Clients{}, fastOpts)
	out := r.Execute(context.Background(), (&logSink{}).request(block("x", "bogus")))
	assert.Equal(t, KindFatal, out.Kind)
}

func TestUnconfiguredClientIsFatal(t *testing.T) {
	r := NewRegistry(Clients{}, fastOpts)
	b := block("notify", project.TypeSlackMessage)
	b.Slack = &project.SlackMessageSpec{Channel: "#rel"}
	out := r.Execute(context.Background(), (&logSink{}).request(b))
	assert.Equal(t, KindFatal, out.Kind)
	assert.ErrorIs(t, out.Err, errSlackUnconfigured)
}

func TestFromErrorMapsClasses(t *testing.T) {
	assert.Equal(t, KindRetryable, FromError(&adapter.Error{Class: adapter.Transient}, nil).Kind)
	assert.Equal(t, KindFatal, FromError(&adapter.Error{Class: adapter.Permanent}, nil).Kind)
	assert.Equal(t, KindRetryable, FromError(&adapter.Error{Class: adapter.Unknown}, nil).Kind)
	assert.Equal(t, KindRetryable, FromError(errors.New("odd"), nil).Kind)
}

func TestSlackMessageRendersNamedTemplate(t *testing.T) {
	ctrl := gomock.NewController(t)
	slack := mocks.NewMockSlackClient(ctrl)

	b := block("notify", project.TypeSlackMessage)
	b.Slack = &project.SlackMessageSpec{Channel: "#releases", TemplateName: "announce"}
	sink := &logSink{}
	req := sink.request(b)
	req.Plan = &project.Plan{Templates: []project.MessageTemplate{{Name: "announce", Template: "Shipping {{version}}"}}}

	slack.EXPECT().PostMessage(gomock.Any(), "#releases", "Shipping 1.2.3", "").
		Return(adapter.SlackMessage{Channel: "C1", TS: "100.1"}, nil)
	slack.EXPECT().Permalink(gomock.Any(), "C1", "100.1").Return("https://slack/p1", nil)

	out := NewRegistry(Clients{Slack: slack}, fastOpts).Execute(context.Background(), req)
	require.Equal(t, KindSuccess, out.Kind, "%v", out.Err)
	assert.Equal(t, map[string]string{"channel": "C1", "message_ts": "100.1", "message_url": "https://slack/p1"}, out.Outputs)
}

func TestSlackMessageTransientFailureIsRetryable(t *testing.T) {
	ctrl := gomock.NewController(t)
	slack := mocks.NewMockSlackClient(ctrl)
	b := block("notify", project.TypeSlackMessage)
	b.Slack = &project.SlackMessageSpec{Channel: "#r", MessageTemplate: "hi"}

	slack.EXPECT().PostMessage(gomock.Any(), "#r", "hi", "").
		Return(adapter.SlackMessage{}, &adapter.Error{System: "slack", Class: adapter.Transient, Err: errors.New("503")})

	out := NewRegistry(Clients{Slack: slack}, fastOpts).Execute(context.Background(), (&logSink{}).request(b))
	assert.Equal(t, KindRetryable, out.Kind)
}

func TestSlackMessageHonoursBlockTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	slack := mocks.NewMockSlackClient(ctrl)
	b := block("notify", project.TypeSlackMessage)
	b.Slack = &project.SlackMessageSpec{Channel: "#r", MessageTemplate: "hi"}
	b.Timeout = 20 * time.Millisecond

	stall := func(ctx context.Context, _, _, _ string) (adapter.SlackMessage, error) {
		<-ctx.Done()
		return adapter.SlackMessage{}, &adapter.Error{System: "slack", Class: adapter.Transient, Err: ctx.Err()}
	}
	slack.EXPECT().PostMessage(gomock.Any(), "#r", "hi", "").DoAndReturn(stall).Times(2)
	reg := NewRegistry(Clients{Slack: slack}, fastOpts)

	first := reg.Execute(context.Background(), (&logSink{}).request(b))
	assert.Equal(t, KindRetryable, first.Kind)
	assert.True(t, first.TimedOut)

	req := (&logSink{}).request(b)
	req.Prior = &Prior{Error: first.Err.Error(), TimedOut: true}
	second := reg.Execute(context.Background(), req)
	assert.Equal(t, KindFatal, second.Kind)
	assert.True(t, second.TimedOut)
}

func teamCityBlock() project.Block {
	b := block("build", project.TypeTeamCityBuild)
	b.TeamCity = &project.TeamCityBuildSpec{BuildConfigID: "Proj_Build", Branch: "release/{{version}}"}
	return b
}

func TestTeamCityBuildPollsUntilFinished(t *testing.T) {
	ctrl := gomock.NewController(t)
	tc := mocks.NewMockTeamCityClient(ctrl)

	tc.EXPECT().TriggerBuild(gomock.Any(), "Proj_Build", "release/1.2.3", map[string]string{}, gomock.Any()).
		Return(adapter.Build{ID: 9, State: "queued"}, nil)
	tc.EXPECT().BuildURL(int64(9)).Return("https://tc/9").AnyTimes()
	gomock.InOrder(
		tc.EXPECT().GetBuild(gomock.Any(), int64(9)).Return(adapter.Build{ID: 9, State: "running", Number: "5"}, nil),
		tc.EXPECT().GetBuild(gomock.Any(), int64(9)).Return(adapter.Build{}, &adapter.Error{Class: adapter.Transient, Err: errors.New("blip")}),
		tc.EXPECT().GetBuild(gomock.Any(), int64(9)).Return(adapter.Build{ID: 9, State: "finished", Status: "SUCCESS", Number: "5", WebURL: "https://tc/b/9"}, nil),
	)

	sink := &logSink{}
	out := NewRegistry(Clients{TeamCity: tc}, fastOpts).Execute(context.Background(), sink.request(teamCityBlock()))
	require.Equal(t, KindSuccess, out.Kind, "%v", out.Err)
	assert.Equal(t, "9", out.Outputs["build_id"])
	assert.Equal(t, "5", out.Outputs["build_number"])
	assert.Equal(t, "https://tc/b/9", out.Outputs["build_url"])
	assert.Equal(t, "Proj_Build", out.Metadata["build_type_id"])
	assert.NotEmpty(t, sink.meta)
	assert.Equal(t, "9", sink.meta[0]["build_id"])
}

func TestTeamCityBuildFailureIsFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	tc := mocks.NewMockTeamCityClient(ctrl)

	tc.EXPECT().TriggerBuild(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(adapter.Build{ID: 3}, nil)
	tc.EXPECT().BuildURL(int64(3)).Return("https://tc/3").AnyTimes()
	tc.EXPECT().GetBuild(gomock.Any(), int64(3)).Return(adapter.Build{ID: 3, State: "finished", Status: "FAILURE", StatusText: "tests failed"}, nil)

	out := NewRegistry(Clients{TeamCity: tc}, fastOpts).Execute(context.Background(), (&logSink{}).request(teamCityBlock()))
	assert.Equal(t, KindFatal, out.Kind)
	assert.Contains(t, out.Err.Error(), "tests failed")
}

func TestTeamCityTimeoutRetryableThenFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	tc := mocks.NewMockTeamCityClient(ctrl)

	tc.EXPECT().TriggerBuild(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(adapter.Build{ID: 4, State: "running"}, nil).Times(2)
	tc.EXPECT().BuildURL(int64(4)).Return("u").AnyTimes()
	tc.EXPECT().GetBuild(gomock.Any(), int64(4)).Return(adapter.Build{ID: 4, State: "running"}, nil).AnyTimes()
	tc.EXPECT().CancelBuild(gomock.Any(), int64(4), gomock.Any()).Return(nil).Times(2)

	b := teamCityBlock()
	b.Timeout = 20 * time.Millisecond
	reg := NewRegistry(Clients{TeamCity: tc}, fastOpts)

	first := reg.Execute(context.Background(), (&logSink{}).request(b))
	assert.Equal(t, KindRetryable, first.Kind)
	assert.True(t, first.TimedOut)

	req := (&logSink{}).request(b)
	req.Prior = &Prior{Error: first.Err.Error(), TimedOut: true}
	second := reg.Execute(context.Background(), req)
	assert.Equal(t, KindFatal, second.Kind)
	assert.True(t, second.TimedOut)
}

func TestGitHubActionSuccessAndFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	gh := mocks.NewMockGitHubClient(ctrl)

	b := block("ci", project.TypeGitHubAction)
	b.GitHubAction = &project.GitHubActionSpec{Repository: "acme/app", WorkflowID: "release.yml", Ref: "main", Inputs: map[string]string{"version": "{{version}}"}}

	gh.EXPECT().DispatchWorkflow(gomock.Any(), "acme/app", "release.yml", "main", map[string]string{"version": "1.2.3"}).Return(nil).Times(2)
	gomock.InOrder(
		gh.EXPECT().FindWorkflowRun(gomock.Any(), "acme/app", "release.yml", "main", gomock.Any()).Return(adapter.WorkflowRun{}, false, nil),
		gh.EXPECT().FindWorkflowRun(gomock.Any(), "acme/app", "release.yml", "main", gomock.Any()).Return(adapter.WorkflowRun{ID: 77, Status: "queued", HTMLURL: "https://gh/run/77"}, true, nil),
		gh.EXPECT().GetWorkflowRun(gomock.Any(), "acme/app", int64(77)).Return(adapter.WorkflowRun{ID: 77, Status: "completed", Conclusion: "success", HTMLURL: "https://gh/run/77"}, nil),
		gh.EXPECT().FindWorkflowRun(gomock.Any(), "acme/app", "release.yml", "main", gomock.Any()).Return(adapter.WorkflowRun{ID: 78, Status: "queued"}, true, nil),
		gh.EXPECT().GetWorkflowRun(gomock.Any(), "acme/app", int64(78)).Return(adapter.WorkflowRun{ID: 78, Status: "completed", Conclusion: "failure"}, nil),
	)

	reg := NewRegistry(Clients{GitHub: gh}, fastOpts)
	ok := reg.Execute(context.Background(), (&logSink{}).request(b))
	require.Equal(t, KindSuccess, ok.Kind, "%v", ok.Err)
	assert.Equal(t, "77", ok.Outputs["run_id"])
	assert.Equal(t, "https://gh/run/77", ok.Outputs["run_url"])

	bad := reg.Execute(context.Background(), (&logSink{}).request(b))
	assert.Equal(t, KindFatal, bad.Kind)
}

func TestGitHubReleaseAdoptsExistingTag(t *testing.T) {
	ctrl := gomock.NewController(t)
	gh := mocks.NewMockGitHubClient(ctrl)

	b := block("gh-release", project.TypeGitHubRelease)
	b.GitHubRelease = &project.GitHubReleaseSpec{Repository: "acme/app", TagPattern: "v{{version}}", ReleaseBranch: "main"}

	gh.EXPECT().CreateRelease(gomock.Any(), "acme/app", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, req adapter.ReleaseRequest) (adapter.Release, error) {
			assert.Equal(t, "v1.2.3", req.TagName)
			assert.Equal(t, "v1.2.3", req.Name)
			return adapter.Release{}, &adapter.Error{Class: adapter.Permanent, StatusCode: 422, Err: adapter.ErrTagExists}
		})
	gomock.InOrder(
		gh.EXPECT().GetReleaseByTag(gomock.Any(), "acme/app", "v1.2.3").Return(adapter.Release{}, &adapter.Error{Class: adapter.Permanent, StatusCode: 404, Err: errors.New("nf")}),
		gh.EXPECT().GetReleaseByTag(gomock.Any(), "acme/app", "v1.2.3").Return(adapter.Release{ID: 5, TagName: "v1.2.3", HTMLURL: "https://gh/rel/5"}, nil),
	)

	out := NewRegistry(Clients{GitHub: gh}, fastOpts).Execute(context.Background(), (&logSink{}).request(b))
	require.Equal(t, KindSuccess, out.Kind, "%v", out.Err)
	assert.Equal(t, map[string]string{"release_id": "5", "release_url": "https://gh/rel/5", "tag_name": "v1.2.3"}, out.Outputs)
}

func TestGitHubReleaseDraftUsesCreatedRelease(t *testing.T) {
	ctrl := gomock.NewController(t)
	gh := mocks.NewMockGitHubClient(ctrl)

	b := block("gh-release", project.TypeGitHubRelease)
	b.GitHubRelease = &project.GitHubReleaseSpec{Repository: "acme/app", TagPattern: "v{{version}}", Draft: true}

	gh.EXPECT().CreateRelease(gomock.Any(), "acme/app", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, req adapter.ReleaseRequest) (adapter.Release, error) {
			assert.True(t, req.Draft)
			return adapter.Release{ID: 8, TagName: "v1.2.3", HTMLURL: "https://gh/rel/8", Draft: true}, nil
		})
	// Drafts are invisible on the tag endpoint.
	gh.EXPECT().GetReleaseByTag(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(adapter.Release{}, &adapter.Error{Class: adapter.Permanent, StatusCode: 404, Err: errors.New("nf")}).AnyTimes()

	out := NewRegistry(Clients{GitHub: gh}, fastOpts).Execute(context.Background(), (&logSink{}).request(b))
	require.Equal(t, KindSuccess, out.Kind, "%v", out.Err)
	assert.Equal(t, map[string]string{"release_id": "8", "release_url": "https://gh/rel/8", "tag_name": "v1.2.3"}, out.Outputs)
}

func TestMavenCentralStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	mvn := mocks.NewMockMavenClient(ctrl)

	b := block("central", project.TypeMavenCentralStatus)
	b.Maven = &project.MavenCentralSpec{GroupID: "com.acme", ArtifactID: "core", Version: "{{version}}"}

	gomock.InOrder(
		mvn.EXPECT().CheckDeploymentStatus(gomock.Any(), "com.acme", "core", "1.2.3").Return(adapter.DeploymentStatus{Status: "PENDING"}, nil),
		mvn.EXPECT().CheckDeploymentStatus(gomock.Any(), "com.acme", "core", "1.2.3").Return(adapter.DeploymentStatus{Published: true, Status: "PUBLISHED", StatusURL: "https://central/x"}, nil),
	)

	reg := NewRegistry(Clients{Maven: mvn}, fastOpts)
	pending := reg.Execute(context.Background(), (&logSink{}).request(b))
	assert.Equal(t, KindRetryable, pending.Kind)
	assert.Equal(t, "com.acme:core:1.2.3", pending.Metadata["publication_id"])
	assert.Equal(t, "PENDING", pending.Metadata["current_status"])

	done := reg.Execute(context.Background(), (&logSink{}).request(b))
	require.Equal(t, KindSuccess, done.Kind)
	assert.Equal(t, "PUBLISHED", done.Outputs["status"])
}

func TestUserAction(t *testing.T) {
	b := block("approve", project.TypeUserAction)
	b.UserAction = &project.UserActionSpec{Instructions: "Ship {{version}}?", InputType: "CONFIRMATION"}
	reg := NewRegistry(Clients{}, fastOpts)

	out := reg.Execute(context.Background(), (&logSink{}).request(b))
	require.Equal(t, KindNeedsInput, out.Kind)
	assert.Equal(t, "Ship 1.2.3?", out.Input.Prompt)
	assert.Equal(t, "CONFIRMATION", out.Input.Type)

	req := (&logSink{}).request(b)
	req.Input = &Submission{Value: "yes", SubmittedBy: "alice"}
	out = reg.Execute(context.Background(), req)
	require.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, map[string]string{"value": "yes", "submitted_by": "alice"}, out.Outputs)

	req.Input = &Submission{Value: "No", SubmittedBy: "bob"}
	out = reg.Execute(context.Background(), req)
	assert.Equal(t, KindFatal, out.Kind)
	assert.Contains(t, out.Err.Error(), "rejected by bob")

	lower := block("gate", project.TypeUserAction)
	lower.UserAction = &project.UserActionSpec{Instructions: "Go?", InputType: "confirmation"}
	req = (&logSink{}).request(lower)
	req.Input = &Submission{Value: "no", SubmittedBy: "carol"}
	out = reg.Execute(context.Background(), req)
	assert.Equal(t, KindFatal, out.Kind)
}

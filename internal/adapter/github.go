package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const githubBaseURL = "https://api.github.com"

// GitHub talks to the GitHub REST API v3.
type GitHub struct {
	c *httpClient
}

func NewGitHub(token string, opts Options) *GitHub {
	h := http.Header{}
	h.Set("Authorization", "token "+token)
	h.Set("Accept", "application/vnd.github.v3+json")
	h.Set("User-Agent", "Release-Wizard")
	return &GitHub{c: newHTTPClient("github", githubBaseURL, opts, h)}
}

// WorkflowRun is the subset of an Actions run the engine tracks.
type WorkflowRun struct {
	ID         int64     `json:"id"`
	Status     string    `json:"status"`     // queued, in_progress, completed
	Conclusion string    `json:"conclusion"` // success, failure, cancelled, ...
	HTMLURL    string    `json:"html_url"`
	HeadBranch string    `json:"head_branch"`
	Event      string    `json:"event"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r WorkflowRun) Completed() bool { return r.Status == "completed" }

// ReleaseRequest is the body of a create-release call.
type ReleaseRequest struct {
	TagName         string `json:"tag_name"`
	TargetCommitish string `json:"target_commitish,omitempty"`
	Name            string `json:"name"`
	Body            string `json:"body,omitempty"`
	Draft           bool   `json:"draft"`
	Prerelease      bool   `json:"prerelease"`
}

// Release is the subset of a GitHub release the engine reports.
type Release struct {
	ID      int64  `json:"id"`
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
	Draft   bool   `json:"draft"`
}

// ErrTagExists reports a 422 from create-release because the tag is taken.
var ErrTagExists = errors.New("release tag already exists")

func repoPath(repo string) (string, error) {
	owner, name, ok := strings.Cut(strings.Trim(repo, "/"), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("repository %q is not owner/name", repo)
	}
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name), nil
}

// TestConnection reads /user.
func (g *GitHub) TestConnection(ctx context.Context) (Info, error) {
	var user struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := g.c.do(ctx, "user", http.MethodGet, "/user", nil, &user); err != nil {
		return Info{}, err
	}
	return Info{System: "github", Identity: user.Login, Details: map[string]string{"name": user.Name}}, nil
}

// DispatchWorkflow fires a workflow_dispatch event.
func (g *GitHub) DispatchWorkflow(ctx context.Context, repo, workflow, ref string, inputs map[string]string) error {
	base, err := repoPath(repo)
	if err != nil {
		return g.c.fail("dispatch_workflow", Permanent, 0, err)
	}
	body := map[string]any{"ref": ref}
	if len(inputs) > 0 {
		body["inputs"] = inputs
	}
	path := fmt.Sprintf("%s/actions/workflows/%s/dispatches", base, url.PathEscape(workflow))
	return g.c.do(ctx, "dispatch_workflow", http.MethodPost, path, body, nil)
}

// FindWorkflowRun returns the newest workflow_dispatch run on ref created at
// or after since. found is false when GitHub has not listed it yet.
func (g *GitHub) FindWorkflowRun(ctx context.Context, repo, workflow, ref string, since time.Time) (WorkflowRun, bool, error) {
	base, err := repoPath(repo)
	if err != nil {
		return WorkflowRun{}, false, g.c.fail("find_workflow_run", Permanent, 0, err)
	}
	q := url.Values{"event": {"workflow_dispatch"}, "branch": {ref}, "per_page": {"20"}}
	path := fmt.Sprintf("%s/actions/workflows/%s/runs?%s", base, url.PathEscape(workflow), q.Encode())
	var page struct {
		WorkflowRuns []WorkflowRun `json:"workflow_runs"`
	}
	if err := g.c.do(ctx, "find_workflow_run", http.MethodGet, path, nil, &page); err != nil {
		return WorkflowRun{}, false, err
	}
	// GitHub timestamps have second precision.
	cutoff := since.Truncate(time.Second)
	var best WorkflowRun
	found := false
	for _, run := range page.WorkflowRuns {
		if run.CreatedAt.Before(cutoff) {
			continue
		}
		if !found || run.CreatedAt.After(best.CreatedAt) {
			best, found = run, true
		}
	}
	return best, found, nil
}

// GetWorkflowRun fetches a run by id.
func (g *GitHub) GetWorkflowRun(ctx context.Context, repo string, id int64) (WorkflowRun, error) {
	base, err := repoPath(repo)
	if err != nil {
		return WorkflowRun{}, g.c.fail("get_workflow_run", Permanent, 0, err)
	}
	var run WorkflowRun
	if err := g.c.do(ctx, "get_workflow_run", http.MethodGet, fmt.Sprintf("%s/actions/runs/%d", base, id), nil, &run); err != nil {
		return WorkflowRun{}, err
	}
	return run, nil
}

// CreateRelease creates a release. A 422 caused by an existing tag wraps ErrTagExists.
func (g *GitHub) CreateRelease(ctx context.Context, repo string, req ReleaseRequest) (Release, error) {
	base, err := repoPath(repo)
	if err != nil {
		return Release{}, g.c.fail("create_release", Permanent, 0, err)
	}
	var rel Release
	status, err := g.c.doStatus(ctx, "create_release", http.MethodPost, base+"/releases", req, &rel)
	if err != nil {
		var ae *Error
		if status == http.StatusUnprocessableEntity && errors.As(err, &ae) && strings.Contains(ae.Err.Error(), "already_exists") {
			ae.Err = fmt.Errorf("%w: %s", ErrTagExists, req.TagName)
		}
		return Release{}, err
	}
	return rel, nil
}

// GetReleaseByTag looks up a release; a 404 is a Permanent *Error.
func (g *GitHub) GetReleaseByTag(ctx context.Context, repo, tag string) (Release, error) {
	base, err := repoPath(repo)
	if err != nil {
		return Release{}, g.c.fail("get_release", Permanent, 0, err)
	}
	var rel Release
	if err := g.c.do(ctx, "get_release", http.MethodGet, base+"/releases/tags/"+url.PathEscape(tag), nil, &rel); err != nil {
		return Release{}, err
	}
	return rel, nil
}

// IsNotFound reports an HTTP 404 adapter error.
func IsNotFound(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

package adapter

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	ossrhBaseURL         = "https://oss.sonatype.org"
	centralSearchBaseURL = "https://search.maven.org"
)

// Maven checks publication state on Maven Central.
type Maven struct {
	ossrh  *httpClient
	search *httpClient
}

// NewMaven builds a client; searchOpts configures the public search API.
func NewMaven(username, password string, opts, searchOpts Options) *Maven {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	return &Maven{
		ossrh:  newHTTPClient("maven", ossrhBaseURL, opts, h),
		search: newHTTPClient("maven", centralSearchBaseURL, searchOpts, http.Header{}),
	}
}

// DeploymentStatus is the result of one publication check.
type DeploymentStatus struct {
	Published bool
	Status    string // PUBLISHED or PENDING
	StatusURL string
	Timestamp int64
}

// Activity is one staging repository activity entry.
type Activity struct {
	Name    string `json:"name"`
	Started string `json:"started"`
	Stopped string `json:"stopped,omitempty"`
	Events  []struct {
		Timestamp string `json:"timestamp"`
		Name      string `json:"name"`
		Severity  int    `json:"severity"`
	} `json:"events"`
}

// TestConnection lists OSSRH staging profile repositories.
func (m *Maven) TestConnection(ctx context.Context) (Info, error) {
	var out struct {
		Data []struct {
			RepositoryID string `json:"repositoryId"`
			ProfileName  string `json:"profileName"`
		} `json:"data"`
	}
	if err := m.ossrh.do(ctx, "profile_repositories", http.MethodGet, "/service/local/staging/profile_repositories", nil, &out); err != nil {
		return Info{}, err
	}
	return Info{
		System:   "maven_central",
		Identity: m.ossrh.baseURL,
		Details:  map[string]string{"repositories": fmt.Sprint(len(out.Data))},
	}, nil
}

// CheckDeploymentStatus asks Central search whether group:artifact:version is visible.
func (m *Maven) CheckDeploymentStatus(ctx context.Context, groupID, artifactID, version string) (DeploymentStatus, error) {
	parts := []string{"g:" + groupID, "a:" + artifactID, "v:" + version}
	q := url.Values{"q": {strings.Join(parts, " AND ")}, "rows": {"1"}, "wt": {"json"}}
	var out struct {
		Response struct {
			NumFound int `json:"numFound"`
			Docs     []struct {
				G         string `json:"g"`
				A         string `json:"a"`
				V         string `json:"v"`
				Timestamp int64  `json:"timestamp"`
			} `json:"docs"`
		} `json:"response"`
	}
	if err := m.search.do(ctx, "search", http.MethodGet, "/solrsearch/select?"+q.Encode(), nil, &out); err != nil {
		return DeploymentStatus{}, err
	}
	st := DeploymentStatus{
		Status:    "PENDING",
		StatusURL: fmt.Sprintf("%s/artifact/%s/%s/%s/jar", m.search.baseURL, url.PathEscape(groupID), url.PathEscape(artifactID), url.PathEscape(version)),
	}
	for _, d := range out.Response.Docs {
		if d.G == groupID && d.A == artifactID && d.V == version {
			st.Published = true
			st.Status = "PUBLISHED"
			st.Timestamp = d.Timestamp
		}
	}
	return st, nil
}

// GetRepositoryActivity returns the staging activity log of a repository.
func (m *Maven) GetRepositoryActivity(ctx context.Context, repositoryID string) ([]Activity, error) {
	var out struct {
		Data []Activity `json:"data"`
	}
	path := "/service/local/staging/repository/" + url.PathEscape(repositoryID) + "/activity"
	if err := m.ossrh.do(ctx, "repository_activity", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

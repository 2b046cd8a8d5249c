package adapter

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
)

// TeamCity talks to the TeamCity REST API with basic auth.
type TeamCity struct {
	c *httpClient
}

func NewTeamCity(serverURL, username, password string, opts Options) *TeamCity {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	return &TeamCity{c: newHTTPClient("teamcity", serverURL, opts, h)}
}

// Build mirrors the subset of the TeamCity build resource the engine uses.
type Build struct {
	ID          int64  `json:"id"`
	BuildTypeID string `json:"buildTypeId"`
	Number      string `json:"number,omitempty"`
	Status      string `json:"status,omitempty"` // SUCCESS, FAILURE, ERROR
	State       string `json:"state,omitempty"`  // queued, running, finished
	BranchName  string `json:"branchName,omitempty"`
	WebURL      string `json:"webUrl,omitempty"`
	StatusText  string `json:"statusText,omitempty"`
}

// Finished reports whether TeamCity considers the build done.
func (b Build) Finished() bool { return b.State == "finished" }

// Succeeded reports a finished build with SUCCESS status.
func (b Build) Succeeded() bool { return b.Finished() && b.Status == "SUCCESS" }

type tcProperty struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type tcTriggerRequest struct {
	BuildType struct {
		ID string `json:"id"`
	} `json:"buildType"`
	BranchName string `json:"branchName,omitempty"`
	Properties *struct {
		Property []tcProperty `json:"property"`
	} `json:"properties,omitempty"`
	Comment *struct {
		Text string `json:"text"`
	} `json:"comment,omitempty"`
}

// TestConnection reads /app/rest/server.
func (t *TeamCity) TestConnection(ctx context.Context) (Info, error) {
	var server struct {
		Version     string `json:"version"`
		BuildNumber string `json:"buildNumber"`
		WebURL      string `json:"webUrl"`
	}
	if err := t.c.do(ctx, "server", http.MethodGet, "/app/rest/server", nil, &server); err != nil {
		return Info{}, err
	}
	return Info{
		System:   "teamcity",
		Identity: server.WebURL,
		Details:  map[string]string{"version": server.Version, "build_number": server.BuildNumber},
	}, nil
}

// TriggerBuild queues a build of buildTypeID.
func (t *TeamCity) TriggerBuild(ctx context.Context, buildTypeID, branch string, properties map[string]string, comment string) (Build, error) {
	var req tcTriggerRequest
	req.BuildType.ID = buildTypeID
	req.BranchName = branch
	if len(properties) > 0 {
		names := make([]string, 0, len(properties))
		for k := range properties {
			names = append(names, k)
		}
		sort.Strings(names)
		req.Properties = &struct {
			Property []tcProperty `json:"property"`
		}{}
		for _, k := range names {
			req.Properties.Property = append(req.Properties.Property, tcProperty{Name: k, Value: properties[k]})
		}
	}
	if comment != "" {
		req.Comment = &struct {
			Text string `json:"text"`
		}{Text: comment}
	}
	var b Build
	if err := t.c.do(ctx, "trigger_build", http.MethodPost, "/app/rest/buildQueue", req, &b); err != nil {
		return Build{}, err
	}
	return b, nil
}

// GetBuild fetches the current state of a build.
func (t *TeamCity) GetBuild(ctx context.Context, id int64) (Build, error) {
	var b Build
	if err := t.c.do(ctx, "get_build", http.MethodGet, fmt.Sprintf("/app/rest/builds/id:%d", id), nil, &b); err != nil {
		return Build{}, err
	}
	return b, nil
}

// CancelBuild asks TeamCity to stop a queued or running build.
func (t *TeamCity) CancelBuild(ctx context.Context, id int64, comment string) error {
	if comment == "" {
		comment = "Cancelled by relwiz"
	}
	body := map[string]any{"comment": comment, "readdIntoQueue": false}
	return t.c.do(ctx, "cancel_build", http.MethodPost, fmt.Sprintf("/app/rest/builds/id:%d", id), body, nil)
}

// BuildURL is the web link for a build when TeamCity did not return one.
func (t *TeamCity) BuildURL(id int64) string {
	return t.c.baseURL + "/viewLog.html?buildId=" + url.QueryEscape(fmt.Sprint(id))
}

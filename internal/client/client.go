// Package client calls the relwiz HTTP API. The CLI and the terminal views
// use it to reach a running server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/relwiz/internal/api"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

// DefaultURL is used when no API URL is configured.
const DefaultURL = "http://127.0.0.1:8080"

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
	Details []project.ValidationError
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Error())
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Message, e.Status, strings.Join(parts, "; "))
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client is a relwiz API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client
}

// New creates a client for baseURL authenticating with token.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		// Streams stay open for the life of a release.
		stream: &http.Client{},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
	}
	return &Error{Status: resp.StatusCode, Message: body.Error, Details: body.Details}
}

func (c *Client) Health(ctx context.Context) (api.HealthzResponse, error) {
	var h api.HealthzResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &h)
	return h, err
}

func (c *Client) ListProjects(ctx context.Context) ([]api.ProjectSummary, error) {
	var out []api.ProjectSummary
	err := c.do(ctx, http.MethodGet, "/projects", nil, &out)
	return out, err
}

func (c *Client) ValidateProject(ctx context.Context, projectID string, values map[string]string) (project.ValidationResult, error) {
	var res project.ValidationResult
	err := c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/validate",
		api.ValidateProjectRequest{ParameterValues: values}, &res)
	return res, err
}

func (c *Client) CreateRelease(ctx context.Context, req api.CreateReleaseRequest) (*release.Release, error) {
	var rel release.Release
	if err := c.do(ctx, http.MethodPost, "/releases", req, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// ListReleases passes q through as the query string (project_id, status,
// search, limit, offset, sort_by, order).
func (c *Client) ListReleases(ctx context.Context, q url.Values) (api.ListReleasesResponse, error) {
	var out api.ListReleasesResponse
	path := "/releases"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetRelease(ctx context.Context, id string) (*release.Release, error) {
	var rel release.Release
	if err := c.do(ctx, http.MethodGet, "/releases/"+url.PathEscape(id), nil, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// ReleaseOp posts a lifecycle command: start, pause or cancel.
func (c *Client) ReleaseOp(ctx context.Context, id, op string) (*release.Release, error) {
	var rel release.Release
	if err := c.do(ctx, http.MethodPost, "/releases/"+url.PathEscape(id)+"/"+op, nil, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (c *Client) DeleteRelease(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/releases/"+url.PathEscape(id), nil, nil)
}

// BlockOp posts a block command: pause or cancel.
func (c *Client) BlockOp(ctx context.Context, blockExecutionID, op string) (*release.BlockExecution, error) {
	var be release.BlockExecution
	if err := c.do(ctx, http.MethodPost, "/blocks/"+url.PathEscape(blockExecutionID)+"/"+op, nil, &be); err != nil {
		return nil, err
	}
	return &be, nil
}

func (c *Client) RestartBlock(ctx context.Context, blockExecutionID string, overrides map[string]string) (*release.BlockExecution, error) {
	var be release.BlockExecution
	err := c.do(ctx, http.MethodPost, "/blocks/"+url.PathEscape(blockExecutionID)+"/restart",
		api.RestartBlockRequest{Overrides: overrides}, &be)
	if err != nil {
		return nil, err
	}
	return &be, nil
}

func (c *Client) BlockLogs(ctx context.Context, blockExecutionID string, q url.Values) (api.LogsResponse, error) {
	var out api.LogsResponse
	path := "/blocks/" + url.PathEscape(blockExecutionID) + "/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) PendingInputs(ctx context.Context, releaseID string) ([]release.UserInput, error) {
	var out []release.UserInput
	err := c.do(ctx, http.MethodGet, "/releases/"+url.PathEscape(releaseID)+"/inputs", nil, &out)
	return out, err
}

func (c *Client) SubmitInput(ctx context.Context, inputID, value, submittedBy string) (*release.UserInput, error) {
	var in release.UserInput
	err := c.do(ctx, http.MethodPost, "/inputs/"+url.PathEscape(inputID),
		api.SubmitInputRequest{Value: value, SubmittedBy: submittedBy}, &in)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (c *Client) TestConnection(ctx context.Context, typ project.ConnectionType) (api.TestConnectionResponse, error) {
	var out api.TestConnectionResponse
	err := c.do(ctx, http.MethodPost, "/connections/"+url.PathEscape(string(typ))+"/test", nil, &out)
	return out, err
}

// Stream reads the SSE endpoint at path, resuming after afterSeq, and sends
// each event to out. heartbeat, if set, is called for every keep-alive
// comment. Stream returns nil when the server ends the stream.
func (c *Client) Stream(ctx context.Context, path string, afterSeq int64, out chan<- events.Event, heartbeat func()) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if afterSeq > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(afterSeq, 10))
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("open stream %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev events.Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err == nil {
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			data.Reset()
		case strings.HasPrefix(line, ":"):
			if heartbeat != nil {
				heartbeat()
			}
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream %s: %w", path, err)
	}
	return ctx.Err()
}

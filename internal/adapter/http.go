package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMinInterval = time.Second
)

// Options tunes the shared HTTP plumbing of an adapter.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	MinInterval time.Duration
	HTTPClient  *http.Client
}

// Info describes a successful connection test.
type Info struct {
	System   string            `json:"system"`
	Identity string            `json:"identity"`
	Details  map[string]string `json:"details,omitempty"`
}

type httpClient struct {
	system  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	headers http.Header
}

func newHTTPClient(system, defaultBase string, opts Options, headers http.Header) *httpClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBase
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	interval := opts.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &httpClient{
		system:  system,
		baseURL: base,
		http:    hc,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		headers: headers,
	}
}

func (c *httpClient) fail(op string, class Class, status int, err error) *Error {
	return &Error{System: c.system, Op: op, Class: class, StatusCode: status, Err: err}
}

// do sends one request and decodes a 2xx JSON body into out. Non-2xx
// responses come back as *Error carrying the status class.
func (c *httpClient) do(ctx context.Context, op, method, path string, body, out any) error {
	_, err := c.doStatus(ctx, op, method, path, body, out)
	return err
}

func (c *httpClient) doStatus(ctx context.Context, op, method, path string, body, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, c.fail(op, classifyTransport(err), 0, err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, c.fail(op, Permanent, 0, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(b)
	}

	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.baseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, c.fail(op, Permanent, 0, fmt.Errorf("build request: %w", err))
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", headerOr(c.headers, "Accept", "application/json"))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, c.fail(op, classifyTransport(err), 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, c.fail(op, Transient, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, c.fail(op, ClassifyStatus(resp.StatusCode), resp.StatusCode, fmt.Errorf("%s", snippet(raw)))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, c.fail(op, Unknown, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return resp.StatusCode, nil
}

func headerOr(h http.Header, key, def string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	return def
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	if s == "" {
		s = "empty response"
	}
	return s
}

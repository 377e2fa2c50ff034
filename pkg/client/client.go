// Package client provides a Go SDK for the deskpilot HTTP API.
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

	"github.com/ankittk/deskpilot/pkg/models"
)

// Client calls the deskpilot HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://127.0.0.1:8787"
	APIKey     string       // optional; sent as X-API-Key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://127.0.0.1:8787").
// APIKey is optional; when set, requests carry the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey}
}

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("api %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

// doJSON decodes a 2xx body into out and returns the status code.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) (int, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return resp.StatusCode, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: errBody.Error}
	}
	if out != nil {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	_, err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// Policy returns the policy the server enforces.
func (c *Client) Policy(ctx context.Context) (*models.Policy, error) {
	var p models.Policy
	if _, err := c.doJSON(ctx, http.MethodGet, "/policy", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// StartRun submits a task and returns its run ID. The run executes
// asynchronously on the server.
func (c *Client) StartRun(ctx context.Context, req models.RunRequest) (string, error) {
	var acc models.RunAccepted
	if _, err := c.doJSON(ctx, http.MethodPost, "/runs", req, &acc); err != nil {
		return "", err
	}
	return acc.ID, nil
}

// GetRun returns the run with id. done is false while the run is still in
// flight, in which case only ID and Task are populated.
func (c *Client) GetRun(ctx context.Context, id string) (run *models.RunResult, done bool, err error) {
	var r models.RunResult
	code, err := c.doJSON(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, &r)
	if err != nil {
		return nil, false, err
	}
	return &r, code != http.StatusAccepted, nil
}

// WaitRun polls GetRun every interval until the run finishes or ctx is done.
func (c *Client) WaitRun(ctx context.Context, id string, interval time.Duration) (*models.RunResult, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		run, done, err := c.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if done {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// ListRuns returns recent runs, newest first. limit <= 0 uses the server default.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	path := "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.RunSummary
	_, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Stream reads run events from /stream until ctx is done or fn returns an
// error. runID limits the stream to one run; empty streams every run. The
// initial connected message is skipped. Returning ErrStopStream from fn ends
// the stream without error.
func (c *Client) Stream(ctx context.Context, runID string, fn func(models.RunEvent) error) error {
	path := "/stream"
	if runID != "" {
		path += "?run_id=" + url.QueryEscape(runID)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode}
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev models.RunEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Type == "connected" {
			continue
		}
		if err := fn(ev); err != nil {
			if errors.Is(err, ErrStopStream) {
				return nil
			}
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// ErrStopStream ends Stream cleanly when returned by its callback.
var ErrStopStream = errors.New("client: stop stream")

// ListViolations returns denied actions across runs, newest first.
func (c *Client) ListViolations(ctx context.Context, limit int) ([]models.Violation, error) {
	path := "/violations"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.Violation
	_, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

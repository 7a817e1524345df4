// Package apiclient talks to the monitoring API on behalf of the CLI.
package apiclient

import (
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

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/monitor"
	"github.com/oremus-labs/ragmon/internal/sse"
	"github.com/oremus-labs/ragmon/internal/store"
)

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("not found")

// DefaultRetryDelay spaces WatchInstances reconnects.
const DefaultRetryDelay = 2 * time.Second

// Client wraps API calls.
type Client struct {
	BaseURL     string
	Credentials sse.Credentials
	Timeout     time.Duration
	// HTTPClient overrides the transport; Timeout still applies to unary calls.
	HTTPClient *http.Client
	RetryDelay time.Duration
}

// StreamURL is the push endpoint consumers mount adapters on.
func (c *Client) StreamURL() string {
	return c.url("/stream")
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c *Client) httpClient(streaming bool) *http.Client {
	base := c.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	if streaming || c.Timeout <= 0 {
		return base
	}
	clone := *base
	clone.Timeout = c.Timeout
	return &clone
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, err
	}
	c.Credentials.Apply(req)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, target interface{}) error {
	resp, err := c.httpClient(false).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s failed: %s", req.Method, req.URL.Path, resp.Status)
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetJSON decodes the JSON answer of a GET on path.
func (c *Client) GetJSON(ctx context.Context, path string, target interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, target)
}

// Ping checks the API answers.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/ping", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// RecentEvents returns the server's retained events, oldest first.
func (c *Client) RecentEvents(ctx context.Context) ([]events.StreamEvent, error) {
	var out []events.StreamEvent
	if err := c.GetJSON(ctx, "/api/events/recent", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Instances returns the instance registry.
func (c *Client) Instances(ctx context.Context) ([]monitor.Instance, error) {
	var out []monitor.Instance
	if err := c.GetJSON(ctx, "/api/instances", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Apps returns the base URL per observed app.
func (c *Client) Apps(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	if err := c.GetJSON(ctx, "/api/apps", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Metrics returns event counts by status.
func (c *Client) Metrics(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	if err := c.GetJSON(ctx, "/api/metrics", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Commands lists recently forwarded commands. An empty app lists every app.
func (c *Client) Commands(ctx context.Context, app string, limit int) ([]store.CommandEntry, error) {
	q := url.Values{}
	if app != "" {
		q.Set("app", app)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/commands"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var body struct {
		Commands []store.CommandEntry `json:"commands"`
	}
	if err := c.GetJSON(ctx, path, &body); err != nil {
		return nil, err
	}
	return body.Commands, nil
}

// WatchInstances follows the instance push channel and calls fn with every
// list received. Dropped connections are retried until ctx ends.
func (c *Client) WatchInstances(ctx context.Context, fn func([]monitor.Instance)) error {
	delay := c.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	for {
		err := c.watchInstancesOnce(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var status *sse.StatusError
		if errors.As(err, &status) && status.Code >= 400 && status.Code < 500 {
			if status.Code == http.StatusNotFound {
				return fmt.Errorf("%w: %v", ErrNotFound, err)
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) watchInstancesOnce(ctx context.Context, fn func([]monitor.Instance)) error {
	stream, err := sse.Dial(ctx, c.httpClient(true), c.url("/api/instances/stream"), c.Credentials)
	if err != nil {
		return err
	}
	defer stream.Close()
	for {
		frame, err := stream.Next()
		if err != nil {
			return err
		}
		if len(frame.Data) == 0 {
			continue
		}
		var list []monitor.Instance
		if err := json.Unmarshal(frame.Data, &list); err != nil {
			continue
		}
		fn(list)
	}
}

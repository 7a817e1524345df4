// Package proxy forwards operator commands to monitored applications.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oremus-labs/ragmon/internal/metrics"
)

// DefaultTimeout bounds a single forwarded call.
const DefaultTimeout = 30 * time.Second

var (
	// ErrUnknownApp is returned when no base URL has been observed for the app.
	ErrUnknownApp = errors.New("unknown app")
	// ErrUnreachable wraps transport failures talking to the app.
	ErrUnreachable = errors.New("app unreachable")
)

// Resolver maps an application name to its base URL.
type Resolver interface {
	AppURL(app string) (string, bool)
}

// Request describes one forwarded call.
type Request struct {
	App    string
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   io.Reader
}

// Response is the downstream answer, fully buffered.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Forwarder relays requests to the base URL an app last reported.
type Forwarder struct {
	resolver Resolver
	client   *http.Client
}

// New constructs a Forwarder. A nil client gets DefaultTimeout.
func New(resolver Resolver, client *http.Client) *Forwarder {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Forwarder{resolver: resolver, client: client}
}

// Target builds the downstream URL for req.
func Target(base, path string, query url.Values) string {
	target := strings.TrimRight(base, "/")
	if strings.TrimSpace(path) != "" {
		if !strings.HasPrefix(path, "/") {
			target += "/"
		}
		target += path
	}
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target
}

// Forward relays req and returns the downstream response. Non-2xx statuses are
// not errors; only unknown apps and transport failures are.
func (f *Forwarder) Forward(ctx context.Context, req Request) (*Response, error) {
	base, ok := "", false
	if f.resolver != nil {
		base, ok = f.resolver.AppURL(req.App)
	}
	if !ok || strings.TrimSpace(base) == "" {
		metrics.ObserveProxy(req.App, "unknown")
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, req.App)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if method != http.MethodGet && method != http.MethodDelete && req.Body != nil {
		body = req.Body
	}

	out, err := http.NewRequestWithContext(ctx, method, Target(base, req.Path, req.Query), body)
	if err != nil {
		metrics.ObserveProxy(req.App, "invalid")
		return nil, err
	}
	copyHeaders(out.Header, req.Header, "Host", "Content-Length")

	resp, err := f.client.Do(out)
	if err != nil {
		metrics.ObserveProxy(req.App, "unreachable")
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		metrics.ObserveProxy(req.App, "unreachable")
		return nil, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	header := make(http.Header)
	copyHeaders(header, resp.Header, "Transfer-Encoding")
	metrics.ObserveProxy(req.App, strconv.Itoa(resp.StatusCode))
	return &Response{Status: resp.StatusCode, Header: header, Body: buf.Bytes()}, nil
}

func copyHeaders(dst, src http.Header, skip ...string) {
	for name, values := range src {
		if skipped(name, skip) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func skipped(name string, skip []string) bool {
	for _, s := range skip {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}

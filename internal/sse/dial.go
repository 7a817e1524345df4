package sse

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// Credentials are forwarded on every request. A token wins over basic auth.
type Credentials struct {
	Token    string
	Username string
	Password string
}

// Apply sets the authorization header on req.
func (c Credentials) Apply(req *http.Request) {
	switch {
	case c.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case c.Username != "":
		req.SetBasicAuth(c.Username, c.Password)
	}
}

// StatusError reports a non-2xx answer to the stream request.
type StatusError struct {
	Path   string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s failed: %s", e.Path, e.Status)
}

// Stream is an open event stream.
type Stream struct {
	resp   *http.Response
	reader *Reader
	once   sync.Once
}

// Dial opens url as an event stream. The stream stays open until Close is
// called, ctx ends, or the server hangs up.
func Dial(ctx context.Context, client *http.Client, url string, creds Credentials) (*Stream, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	creds.Apply(req)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &StatusError{Path: req.URL.Path, Code: resp.StatusCode, Status: resp.Status}
	}
	return &Stream{resp: resp, reader: NewReader(resp.Body)}, nil
}

// Next blocks for the next frame.
func (s *Stream) Next() (Frame, error) {
	return s.reader.Next()
}

// Close releases the underlying connection. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.resp.Body.Close()
	})
	return err
}

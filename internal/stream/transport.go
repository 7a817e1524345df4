package stream

import (
	"context"
	"net/http"

	"github.com/oremus-labs/ragmon/internal/sse"
)

// FrameStream is one open transport handle.
type FrameStream interface {
	Next() (sse.Frame, error)
	Close() error
}

// Transport opens push streams. Open must honour ctx cancellation.
type Transport interface {
	Open(ctx context.Context, url string, creds sse.Credentials) (FrameStream, error)
}

// HTTPTransport opens text/event-stream connections over HTTP.
type HTTPTransport struct {
	// Client must not set a Timeout, which would cut long-lived streams.
	Client *http.Client
}

func (t HTTPTransport) Open(ctx context.Context, url string, creds sse.Credentials) (FrameStream, error) {
	stream, err := sse.Dial(ctx, t.Client, url, creds)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

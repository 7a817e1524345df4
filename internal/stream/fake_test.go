package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/oremus-labs/ragmon/internal/sse"
)

type fakeTransport struct {
	mu       sync.Mutex
	opens    int
	live     int
	maxLive  int
	failures int
	failAll  bool
	streams  chan *fakeStream
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{streams: make(chan *fakeStream, 64)}
}

func (t *fakeTransport) Open(ctx context.Context, url string, creds sse.Credentials) (FrameStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.opens++
	if t.failAll || t.failures > 0 {
		if t.failures > 0 {
			t.failures--
		}
		t.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	t.live++
	if t.live > t.maxLive {
		t.maxLive = t.live
	}
	t.mu.Unlock()

	stream := &fakeStream{
		transport: t,
		frames:    make(chan sse.Frame, 16),
		errs:      make(chan error, 1),
		closed:    make(chan struct{}),
	}
	t.streams <- stream
	return stream, nil
}

func (t *fakeTransport) setFailAll(fail bool) {
	t.mu.Lock()
	t.failAll = fail
	t.mu.Unlock()
}

func (t *fakeTransport) counts() (opens, live, maxLive int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens, t.live, t.maxLive
}

type fakeStream struct {
	transport *fakeTransport
	frames    chan sse.Frame
	errs      chan error
	closed    chan struct{}
	once      sync.Once
}

func (s *fakeStream) Next() (sse.Frame, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case err := <-s.errs:
		return sse.Frame{}, err
	case <-s.closed:
		return sse.Frame{}, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.transport.mu.Lock()
		s.transport.live--
		s.transport.mu.Unlock()
	})
	return nil
}

func (s *fakeStream) send(data string) {
	s.frames <- sse.Frame{Data: []byte(data)}
}

func (s *fakeStream) sendEvent(ts int64, app, status, tag string) {
	s.send(fmt.Sprintf(`{"timestamp":%d,"app":%q,"status":%q,"event":%q}`, ts, app, status, tag))
}

func (s *fakeStream) heartbeat() {
	s.frames <- sse.Frame{Event: DefaultHeartbeatEvent}
}

func (s *fakeStream) fail() {
	s.errs <- errors.New("connection reset by peer")
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newFakeClock() *testingclock.FakeClock {
	return testingclock.NewFakeClock(epoch)
}

func nextStream(t *testing.T, tr *fakeTransport) *fakeStream {
	t.Helper()
	select {
	case stream := <-tr.streams:
		return stream
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for transport open")
		return nil
	}
}

func watchStates(t *testing.T, conn *Connection) <-chan State {
	t.Helper()
	ch := make(chan State, 256)
	cancel := conn.WatchState(func(s State) {
		select {
		case ch <- s:
		default:
		}
	})
	t.Cleanup(cancel)
	return ch
}

func waitState(t *testing.T, ch <-chan State, match func(State) bool) State {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-ch:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state")
			return State{}
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

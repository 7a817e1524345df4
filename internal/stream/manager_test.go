package stream

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/sse"
)

func TestManagerOpensOneConnectionPerURL(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	mgr := NewManager(Options{Clock: newFakeClock(), Transport: tr})
	defer mgr.StopAll()

	const url = "http://monitor/stream"
	const mounts = 50

	conns := make([]*Connection, mounts)
	var wg sync.WaitGroup
	for i := 0; i < mounts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i] = mgr.EnsureStarted(url, sse.Credentials{})
		}(i)
	}
	wg.Wait()

	for i := 1; i < mounts; i++ {
		if conns[i] != conns[0] {
			t.Fatalf("mount %d received a different connection", i)
		}
	}
	nextStream(t, tr)
	waitFor(t, "connected", conns[0].Connected)
	time.Sleep(10 * time.Millisecond)
	if opens, _, _ := tr.counts(); opens != 1 {
		t.Fatalf("expected exactly one transport open, got %d", opens)
	}

	other := mgr.EnsureStarted("http://other/stream", sse.Credentials{})
	if other == conns[0] {
		t.Fatalf("expected a separate connection for another URL")
	}
	nextStream(t, tr)
}

func TestManagerStopAllowsFreshStart(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	mgr := NewManager(Options{Clock: newFakeClock(), Transport: tr})
	defer mgr.StopAll()

	const url = "http://monitor/stream"
	first := mgr.EnsureStarted(url, sse.Credentials{})
	firstStream := nextStream(t, tr)

	mgr.Stop(url)
	if !firstStream.isClosed() {
		t.Fatalf("expected stream to be closed after stop")
	}

	second := mgr.EnsureStarted(url, sse.Credentials{})
	if second == first {
		t.Fatalf("expected a new connection after stop")
	}
	nextStream(t, tr)
	if opens, live, _ := tr.counts(); opens != 2 || live != 1 {
		t.Fatalf("expected 2 opens and 1 live handle, got %d and %d", opens, live)
	}
}

func TestSharedManagerIsSingleton(t *testing.T) {
	t.Parallel()

	if Shared() != Shared() {
		t.Fatalf("expected the same shared manager")
	}
}

func TestManagerSetLoggerAppliesToNewConnections(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	tr := newFakeTransport()
	tr.setFailAll(true)
	mgr := NewManager(Options{Clock: newFakeClock(), Transport: tr})
	defer mgr.StopAll()
	mgr.SetLogger(log.New(&lockedWriter{mu: &mu, w: &buf}, "", 0))

	conn := mgr.EnsureStarted("http://monitor/stream", sse.Credentials{})
	states := watchStates(t, conn)
	waitState(t, states, func(s State) bool { return s.Failures >= 1 })

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(buf.String(), "open http://monitor/stream failed") {
		t.Fatalf("expected open failure logged, got %q", buf.String())
	}
}

func TestManagerStopFromSubscriber(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	mgr := NewManager(Options{Clock: newFakeClock(), Transport: tr})
	defer mgr.StopAll()

	const url = "http://monitor/stream"
	conn := mgr.EnsureStarted(url, sse.Credentials{})
	conn.Subscribe(func(events.StreamEvent) {
		mgr.Stop(url)
	})
	nextStream(t, tr).sendEvent(1, "ingest", "RUNNING", "")

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("stop from a subscriber never finished")
	}
	if conn.Connected() {
		t.Fatalf("expected disconnected after stop")
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

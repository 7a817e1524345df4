package stream

import (
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/ringbuf"
	"github.com/oremus-labs/ragmon/internal/sse"
)

// Adapter defaults.
const (
	DefaultBufferSize   = 1000
	DefaultPollInterval = time.Second
	DefaultDebugLimit   = 5
)

// AdapterOptions configure one consumer view.
type AdapterOptions struct {
	Credentials  sse.Credentials
	BufferSize   int
	PollInterval time.Duration
	Clock        clock.WithTicker
	// OnChange is called after the buffer or status changes. It may run on the
	// connection goroutine and must not block.
	OnChange func()
}

// Status is the connection state an adapter exposes to its view.
type Status struct {
	Connected bool
	Reason    Reason
}

// Adapter is a consumer's view over a shared connection: a bounded local
// buffer, a copy of the connection status, and a pause switch.
type Adapter struct {
	conn *Connection
	opts AdapterOptions

	mu     sync.Mutex
	buf    *ringbuf.Buffer[events.StreamEvent]
	status Status
	paused bool

	unsubscribe func()
	unwatch     func()
	stop        chan struct{}
	done        chan struct{}
	unmount     sync.Once
}

// Mount starts (or joins) the connection for url and begins buffering its events.
func Mount(m *Manager, url string, opts AdapterOptions) *Adapter {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = m.options().Clock
	}

	conn := m.EnsureStarted(url, opts.Credentials)
	a := &Adapter{
		conn: conn,
		opts: opts,
		buf:  ringbuf.New[events.StreamEvent](opts.BufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	a.unsubscribe = conn.Subscribe(a.receive)
	a.unwatch = conn.WatchState(a.sync)
	a.refresh()
	go a.poll()
	return a
}

// Unmount detaches from the connection. The shared connection keeps running.
func (a *Adapter) Unmount() {
	a.unmount.Do(func() {
		a.unsubscribe()
		a.unwatch()
		close(a.stop)
		<-a.done
	})
}

// Connection returns the shared connection behind this adapter.
func (a *Adapter) Connection() *Connection {
	return a.conn
}

// Seed puts historical events ahead of anything already received live.
func (a *Adapter) Seed(history []events.StreamEvent) {
	a.mu.Lock()
	live := a.buf.Snapshot()
	a.buf.Reset()
	for _, evt := range history {
		a.buf.Push(evt)
	}
	for _, evt := range live {
		a.buf.Push(evt)
	}
	a.mu.Unlock()
	a.changed()
}

// Events returns the buffered events in arrival order.
func (a *Adapter) Events() []events.StreamEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Snapshot()
}

// Len returns the number of buffered events.
func (a *Adapter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Len()
}

// Status returns the last observed connection status.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Paused reports whether live events are being ignored.
func (a *Adapter) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// SetPaused stops or resumes buffering. Events that arrive while paused are
// not replayed.
func (a *Adapter) SetPaused(paused bool) {
	a.mu.Lock()
	a.paused = paused
	a.mu.Unlock()
	a.changed()
}

// TogglePause flips the pause switch and returns the new value.
func (a *Adapter) TogglePause() bool {
	a.mu.Lock()
	a.paused = !a.paused
	paused := a.paused
	a.mu.Unlock()
	a.changed()
	return paused
}

// DebugEvents returns up to limit events with the given tag from the shared
// debug ring, newest first. A limit of zero or less returns every match.
func (a *Adapter) DebugEvents(tag string, limit int) []events.StreamEvent {
	return FilterRecent(a.conn.DebugSnapshot(), tag, limit)
}

// FilterRecent picks events tagged tag from an oldest-first slice, newest first.
func FilterRecent(evts []events.StreamEvent, tag string, limit int) []events.StreamEvent {
	var out []events.StreamEvent
	for i := len(evts) - 1; i >= 0; i-- {
		if !strings.EqualFold(evts[i].Event, tag) {
			continue
		}
		out = append(out, evts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (a *Adapter) receive(evt events.StreamEvent) {
	a.mu.Lock()
	if a.paused {
		a.mu.Unlock()
		return
	}
	a.buf.Push(evt)
	a.mu.Unlock()
	a.changed()
}

func (a *Adapter) sync(state State) {
	next := Status{Connected: state.Connected, Reason: state.Reason}
	a.mu.Lock()
	changed := a.status != next
	a.status = next
	a.mu.Unlock()
	if changed {
		a.changed()
	}
}

func (a *Adapter) refresh() {
	a.sync(a.conn.State())
}

func (a *Adapter) poll() {
	defer close(a.done)
	ticker := a.opts.Clock.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C():
			a.refresh()
		}
	}
}

func (a *Adapter) changed() {
	if a.opts.OnChange != nil {
		a.opts.OnChange()
	}
}

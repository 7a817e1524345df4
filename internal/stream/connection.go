package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/metrics"
	"github.com/oremus-labs/ragmon/internal/ringbuf"
	"github.com/oremus-labs/ragmon/internal/sse"
)

// Reason explains why a connection is not connected.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonDisconnected Reason = "disconnected"
	ReasonTimeout      Reason = "timeout"
)

func (r Reason) String() string {
	if r == ReasonNone {
		return "none"
	}
	return string(r)
}

// State is a point-in-time copy of a connection's status.
type State struct {
	Connected     bool
	Reason        Reason
	LastMessageAt time.Time
	// RetryIn is the delay scheduled by the most recent failure.
	RetryIn  time.Duration
	Opens    int
	Failures int
}

// Connection is the single push connection for one URL. A goroutine owns the
// transport handle, backoff, liveness counter, and debug ring; callbacks run on
// that goroutine one message at a time.
type Connection struct {
	url   string
	creds sse.Credentials
	opts  Options

	subs     Registry[events.StreamEvent]
	watchers Registry[State]

	backoff *reconnectBackoff
	live    *liveness

	mu    sync.Mutex
	state State
	ring  *ringbuf.Buffer[events.StreamEvent]

	// callbacks counts callbacks running on the connection goroutine.
	callbacks atomic.Int32
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
}

func newConnection(url string, creds sse.Credentials, opts Options) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		url:     url,
		creds:   creds,
		opts:    opts,
		backoff: newBackoff(opts.ReconnectFloor, opts.ReconnectCeiling),
		live:    newLiveness(opts.LivenessTimeout, opts.LivenessStrikes),
		ring:    ringbuf.New[events.StreamEvent](opts.DebugRingSize),
		done:    make(chan struct{}),
	}
}

func (c *Connection) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

// URL returns the endpoint this connection reads.
func (c *Connection) URL() string { return c.url }

// State returns a copy of the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a stream is currently open and live.
func (c *Connection) Connected() bool {
	return c.State().Connected
}

// DebugSnapshot returns the most recent decoded events, oldest first.
func (c *Connection) DebugSnapshot() []events.StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring.Snapshot()
}

// Subscribe registers fn for every decoded event. fn runs on the connection
// goroutine and must not block. It may call Stop.
func (c *Connection) Subscribe(fn func(events.StreamEvent)) func() {
	return c.subs.Subscribe(fn)
}

// Subscribers returns the number of event callbacks.
func (c *Connection) Subscribers() int {
	return c.subs.Len()
}

// WatchState registers fn for every state transition (open, failure, timeout, stop).
func (c *Connection) WatchState(fn func(State)) func() {
	return c.watchers.Subscribe(fn)
}

// Stop closes the transport and ends the reconnect loop. It blocks until the
// connection goroutine has exited, except when called from a Subscribe or
// WatchState callback: then it returns at once and the goroutine exits after
// the callback.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			close(c.done)
			return
		}
		c.cancel()
		if c.callbacks.Load() > 0 {
			return
		}
		<-c.done
	})
}

// Done is closed once the connection has stopped.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) run(ctx context.Context) {
	defer func() {
		c.setState(func(s *State) {
			s.Connected = false
		})
		close(c.done)
	}()

	for {
		stream, err := c.opts.Transport.Open(ctx, c.url, c.creds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logf("stream: open %s failed: %v", c.url, err)
			if !c.wait(ctx, c.failed(ReasonDisconnected)) {
				return
			}
			continue
		}

		c.opened()
		reason := c.consume(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}
		if !c.wait(ctx, c.failed(reason)) {
			return
		}
	}
}

// consume reads frames until the stream fails, the liveness check trips, or ctx ends.
func (c *Connection) consume(ctx context.Context, stream FrameStream) Reason {
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	frames := make(chan sse.Frame)
	errs := make(chan error, 1)
	go func() {
		for {
			frame, err := stream.Next()
			if err != nil {
				errs <- err
				return
			}
			select {
			case frames <- frame:
			case <-readCtx.Done():
				return
			}
		}
	}()

	ticker := c.opts.Clock.NewTicker(c.opts.LivenessTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonNone
		case frame := <-frames:
			c.handleFrame(frame)
		case err := <-errs:
			c.logf("stream: %s closed: %v", c.url, err)
			return ReasonDisconnected
		case <-ticker.C():
			if c.checkLiveness() {
				c.logf("stream: %s silent for more than %s, reconnecting", c.url, c.opts.LivenessTimeout)
				return ReasonTimeout
			}
		}
	}
}

func (c *Connection) opened() {
	c.backoff.reset()
	c.live.reset()
	now := c.opts.Clock.Now()
	c.setState(func(s *State) {
		s.Connected = true
		s.Reason = ReasonNone
		s.LastMessageAt = now
		s.RetryIn = 0
		s.Opens++
	})
	metrics.ObserveConnectionTransition("open")
}

// failed records a failure and returns the delay before the next attempt.
// A timeout always follows an open, so it retries at the floor and leaves the
// backoff where the open reset it.
func (c *Connection) failed(reason Reason) time.Duration {
	delay := c.opts.ReconnectFloor
	if reason != ReasonTimeout {
		delay = c.backoff.next()
	}
	c.setState(func(s *State) {
		s.Connected = false
		s.Reason = reason
		s.RetryIn = delay
		s.Failures++
	})
	metrics.ObserveConnectionTransition(string(reason))
	return delay
}

func (c *Connection) handleFrame(frame sse.Frame) {
	now := c.opts.Clock.Now()
	c.mu.Lock()
	c.state.LastMessageAt = now
	c.mu.Unlock()

	if frame.Name() == c.opts.HeartbeatEvent {
		return
	}
	evt, err := events.Decode(frame.Data)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.ring.Push(evt)
	c.mu.Unlock()

	c.callbacks.Add(1)
	defer c.callbacks.Add(-1)
	c.subs.Dispatch(evt)
}

// checkLiveness runs one liveness tick and reports whether the connection timed out.
func (c *Connection) checkLiveness() bool {
	now := c.opts.Clock.Now()
	c.mu.Lock()
	last := c.state.LastMessageAt
	c.mu.Unlock()

	return c.live.check(now, last)
}

func (c *Connection) wait(ctx context.Context, delay time.Duration) bool {
	timer := c.opts.Clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}

func (c *Connection) setState(mutate func(*State)) {
	c.mu.Lock()
	mutate(&c.state)
	snapshot := c.state
	c.mu.Unlock()

	c.callbacks.Add(1)
	defer c.callbacks.Add(-1)
	c.watchers.Dispatch(snapshot)
}

func (c *Connection) logf(format string, args ...interface{}) {
	if c.opts.Logger != nil {
		c.opts.Logger.Printf(format, args...)
	}
}

// Package monitor holds the server's view of recent events and live instances.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/oremus-labs/ragmon/internal/events"
)

// DefaultRetention is how long events stay in memory.
const DefaultRetention = 600 * time.Second

// UnknownKey groups events with no status or app in count maps.
const UnknownKey = "unknown"

// Publisher fans added events out to stream clients.
type Publisher interface {
	Publish(ctx context.Context, evt events.StreamEvent) error
}

// History persists added events.
type History interface {
	AppendEvent(ctx context.Context, evt events.StreamEvent) error
}

// EventStoreOptions configure an EventStore.
type EventStoreOptions struct {
	Retention time.Duration
	Publisher Publisher
	History   History
	Now       func() time.Time
	OnError   func(op string, err error)
}

// EventStore keeps events that arrived within the retention window, in
// arrival order, plus the first URL seen for every app.
type EventStore struct {
	retention time.Duration
	publisher Publisher
	history   History
	now       func() time.Time
	onError   func(op string, err error)

	mu     sync.Mutex
	events []events.StreamEvent
	apps   map[string]string
}

// NewEventStore builds an empty store.
func NewEventStore(opts EventStoreOptions) *EventStore {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &EventStore{
		retention: opts.Retention,
		publisher: opts.Publisher,
		history:   opts.History,
		now:       opts.Now,
		onError:   opts.OnError,
		apps:      make(map[string]string),
	}
}

// Add stores evt, then persists and publishes it.
func (s *EventStore) Add(ctx context.Context, evt events.StreamEvent) {
	s.mu.Lock()
	s.appendLocked(evt)
	s.evictLocked()
	s.mu.Unlock()

	if s.history != nil {
		if err := s.history.AppendEvent(ctx, evt); err != nil {
			s.fail("persist", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.fail("publish", err)
		}
	}
}

// Load restores events from history without persisting or publishing them.
func (s *EventStore) Load(evts []events.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range evts {
		s.appendLocked(evt)
	}
	s.evictLocked()
}

// Observe stores an event that another replica already persisted and published.
func (s *EventStore) Observe(evt events.StreamEvent) {
	s.Load([]events.StreamEvent{evt})
}

func (s *EventStore) appendLocked(evt events.StreamEvent) {
	s.events = append(s.events, evt)
	if evt.App != "" && evt.URL != "" {
		if _, ok := s.apps[evt.App]; !ok {
			s.apps[evt.App] = evt.URL
		}
	}
}

// evictLocked drops leading events older than the retention window. Arrival
// order is kept, so an old event behind a newer one survives until it reaches
// the front.
func (s *EventStore) evictLocked() int {
	cutoff := s.now().Add(-s.retention).UnixMilli()
	n := 0
	for n < len(s.events) && s.events[n].Timestamp < cutoff {
		n++
	}
	if n > 0 {
		s.events = append(s.events[:0:0], s.events[n:]...)
	}
	return n
}

// Evict applies the retention window and returns the number of dropped events.
func (s *EventStore) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked()
}

// Recent returns the retained events in arrival order.
func (s *EventStore) Recent() []events.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	out := make([]events.StreamEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of retained events.
func (s *EventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// CountsByStatus groups retained events by status.
func (s *EventStore) CountsByStatus() map[string]int64 {
	return s.countBy(func(evt events.StreamEvent) string { return evt.Status })
}

// CountsByApp groups retained events by app.
func (s *EventStore) CountsByApp() map[string]int64 {
	return s.countBy(func(evt events.StreamEvent) string { return evt.App })
}

func (s *EventStore) countBy(key func(events.StreamEvent) string) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, evt := range s.events {
		k := key(evt)
		if k == "" {
			k = UnknownKey
		}
		counts[k]++
	}
	return counts
}

// Apps returns the first URL seen for every app.
func (s *EventStore) Apps() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.apps))
	for app, url := range s.apps {
		out[app] = url
	}
	return out
}

// AppURL returns the base URL for app.
func (s *EventStore) AppURL(app string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url, ok := s.apps[app]
	return url, ok
}

func (s *EventStore) fail(op string, err error) {
	if s.onError != nil {
		s.onError(op, err)
	}
}

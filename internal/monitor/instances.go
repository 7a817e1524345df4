package monitor

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oremus-labs/ragmon/internal/events"
)

// Instance statuses assigned by the registry.
const (
	StatusRunning = "RUNNING"
	StatusOffline = "OFFLINE"
)

// Default liveness windows.
const (
	DefaultActivityWindow = 30 * time.Second
	DefaultOfflineWindow  = 120 * time.Second
)

// Instance is one running copy of a monitored service.
type Instance struct {
	Service         string                 `json:"service"`
	InstanceID      string                 `json:"instanceId"`
	URL             string                 `json:"url,omitempty"`
	Status          string                 `json:"status"`
	LastHeartbeatAt int64                  `json:"lastHeartbeatAt"`
	LastActivityAt  int64                  `json:"lastActivityAt"`
	BootEpoch       *int64                 `json:"bootEpoch,omitempty"`
	Version         string                 `json:"version,omitempty"`
	Meta            map[string]interface{} `json:"meta,omitempty"`
}

// InstanceUpdate is what an ingested status message says about an instance.
type InstanceUpdate struct {
	Service    string
	InstanceID string
	URL        string
	Status     string
	Heartbeat  bool
	BootEpoch  *int64
	Version    string
	Meta       map[string]interface{}
}

// UpdateFromEvent derives an instance update from a stream event, for events
// ingested by another replica. Events without an app or instance id yield false.
func UpdateFromEvent(evt events.StreamEvent) (InstanceUpdate, bool) {
	if evt.App == "" || evt.InstanceID == "" {
		return InstanceUpdate{}, false
	}
	return InstanceUpdate{
		Service:    evt.App,
		InstanceID: evt.InstanceID,
		URL:        evt.URL,
		Status:     evt.Status,
		Heartbeat:  strings.EqualFold(evt.Event, events.TagInit) || strings.EqualFold(evt.Event, events.TagHeartbeat),
	}, true
}

// RemoteHandler returns the handler for events ingested by another replica:
// the event joins store without being persisted or republished, and its
// instance activity reaches registry.
func RemoteHandler(store *EventStore, registry *InstanceRegistry) func(events.StreamEvent) {
	return func(evt events.StreamEvent) {
		store.Observe(evt)
		if u, ok := UpdateFromEvent(evt); ok {
			registry.Update(u)
		}
	}
}

// RegistryOptions tune the liveness windows.
type RegistryOptions struct {
	ActivityWindow time.Duration
	OfflineWindow  time.Duration
	Now            func() time.Time
}

// InstanceRegistry tracks instances keyed by service and instance id.
type InstanceRegistry struct {
	activity time.Duration
	offline  time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	byKey map[string]*Instance
}

// NewInstanceRegistry builds an empty registry.
func NewInstanceRegistry(opts RegistryOptions) *InstanceRegistry {
	if opts.ActivityWindow <= 0 {
		opts.ActivityWindow = DefaultActivityWindow
	}
	if opts.OfflineWindow <= 0 {
		opts.OfflineWindow = DefaultOfflineWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &InstanceRegistry{
		activity: opts.ActivityWindow,
		offline:  opts.OfflineWindow,
		now:      opts.Now,
		byKey:    make(map[string]*Instance),
	}
}

func instanceKey(service, instanceID string) string {
	return service + "::" + instanceID
}

// Update records activity. Updates without a service or instance id are ignored.
func (r *InstanceRegistry) Update(u InstanceUpdate) {
	if u.Service == "" || u.InstanceID == "" {
		return
	}
	now := r.now().UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()

	key := instanceKey(u.Service, u.InstanceID)
	inst, ok := r.byKey[key]
	if !ok {
		inst = &Instance{}
		r.byKey[key] = inst
	}
	inst.Service = u.Service
	inst.InstanceID = u.InstanceID
	if strings.TrimSpace(u.URL) != "" {
		inst.URL = u.URL
	}
	if u.Status != "" {
		inst.Status = u.Status
	}
	inst.LastActivityAt = now
	if u.Heartbeat {
		inst.LastHeartbeatAt = now
	}
	if u.BootEpoch != nil {
		boot := *u.BootEpoch
		inst.BootEpoch = &boot
	}
	if u.Version != "" {
		inst.Version = u.Version
	}
	if u.Meta != nil {
		inst.Meta = u.Meta
	}
}

// List returns copies of every instance with a status derived from recent
// activity, ordered by service then instance id.
func (r *InstanceRegistry) List() []Instance {
	now := r.now().UnixMilli()

	r.mu.RLock()
	out := make([]Instance, 0, len(r.byKey))
	for _, inst := range r.byKey {
		cp := *inst
		last := inst.LastActivityAt
		if inst.LastHeartbeatAt > last {
			last = inst.LastHeartbeatAt
		}
		if last > 0 && now-last <= r.activity.Milliseconds() {
			if strings.TrimSpace(inst.Status) == "" {
				cp.Status = StatusRunning
			}
		} else {
			cp.Status = StatusOffline
		}
		out = append(out, cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].InstanceID < out[j].InstanceID
	})
	return out
}

// Prune drops instances silent for longer than the offline window and returns
// how many were removed.
func (r *InstanceRegistry) Prune() int {
	now := r.now().UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, inst := range r.byKey {
		last := inst.LastActivityAt
		if last <= 0 {
			last = inst.LastHeartbeatAt
		}
		if last > 0 && now-last > r.offline.Milliseconds() {
			delete(r.byKey, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked instances.
func (r *InstanceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

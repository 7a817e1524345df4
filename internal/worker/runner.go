package worker

import (
	"context"
	"log"
	"time"

	"k8s.io/utils/clock"

	"github.com/oremus-labs/ragmon/internal/metrics"
)

type eventEvictor interface {
	Evict() int
	Len() int
}

type instancePruner interface {
	Prune() int
	Len() int
}

type historyPruner interface {
	PruneBefore(context.Context, time.Time) (int64, error)
}

// Options configure the retention worker.
type Options struct {
	Events    eventEvictor
	Instances instancePruner
	History   historyPruner
	// Retention bounds persisted history. Zero keeps history forever.
	Retention time.Duration
	Logger    *log.Logger
	Interval  time.Duration
	Clock     clock.WithTicker
}

// Runner applies retention to the event store, the instance registry and
// persisted history on a fixed interval.
type Runner struct {
	events    eventEvictor
	instances instancePruner
	history   historyPruner
	retention time.Duration
	logger    *log.Logger
	interval  time.Duration
	clock     clock.WithTicker
}

// New creates a new Runner.
func New(opts Options) *Runner {
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Runner{
		events:    opts.Events,
		instances: opts.Instances,
		history:   opts.History,
		retention: opts.Retention,
		logger:    opts.Logger,
		interval:  interval,
		clock:     opts.Clock,
	}
}

// Run prunes once per interval until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Printf("retention worker started (interval %s)", r.interval)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Println("retention worker shutting down")
			return ctx.Err()
		case <-ticker.C():
			r.Sweep(ctx)
		}
	}
}

// Sweep runs a single retention pass.
func (r *Runner) Sweep(ctx context.Context) {
	if r.events != nil {
		pruned := r.events.Evict()
		metrics.ObserveEventStore(r.events.Len(), pruned)
	}
	if r.instances != nil {
		if removed := r.instances.Prune(); removed > 0 {
			r.logger.Printf("retention worker: dropped %d silent instances", removed)
		}
		metrics.ObserveInstances(r.instances.Len())
	}
	if r.history != nil && r.retention > 0 {
		cutoff := r.clock.Now().Add(-r.retention)
		if _, err := r.history.PruneBefore(ctx, cutoff); err != nil {
			r.logger.Printf("retention worker: failed to prune history: %v", err)
		}
	}
}

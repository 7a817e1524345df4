package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/logutil"
	"github.com/oremus-labs/ragmon/internal/metrics"
	"github.com/oremus-labs/ragmon/internal/monitor"
)

// Handler receives one raw monitoring message.
type Handler func(ctx context.Context, payload []byte) error

// Source delivers monitoring messages until ctx ends.
type Source interface {
	Name() string
	Run(ctx context.Context, handle Handler) error
}

// EventSink stores decoded events.
type EventSink interface {
	Add(ctx context.Context, evt events.StreamEvent)
}

// InstanceSink records instance activity.
type InstanceSink interface {
	Update(u monitor.InstanceUpdate)
}

// Pipeline decodes messages from any number of sources into the event store
// and instance registry.
type Pipeline struct {
	events    EventSink
	instances InstanceSink
	opts      DecodeOptions
	log       logutil.Logger
}

// NewPipeline wires sinks with decode options.
func NewPipeline(evts EventSink, instances InstanceSink, opts DecodeOptions) *Pipeline {
	return &Pipeline{
		events:    evts,
		instances: instances,
		opts:      opts,
		log:       logutil.For("ingest"),
	}
}

// Handle decodes one message. Undecodable messages are logged, counted, and
// returned as errors; they never stop a source.
func (p *Pipeline) Handle(ctx context.Context, source string, payload []byte) error {
	res, err := Decode(payload, p.opts)
	if err != nil {
		metrics.ObserveIngestFailure(source)
		p.log.Warn("failed to parse monitoring message", logutil.Fields{
			"source": source,
			"error":  err.Error(),
			"bytes":  len(payload),
		})
		return err
	}
	if res.Instance != nil && p.instances != nil {
		p.instances.Update(*res.Instance)
	}
	p.events.Add(ctx, res.Event)
	metrics.ObserveIngested(res.Kind)
	return nil
}

// Run consumes every source until ctx ends. A source that fails is logged and
// does not stop the others.
func (p *Pipeline) Run(ctx context.Context, sources ...Source) {
	var wg sync.WaitGroup
	for _, src := range sources {
		if src == nil {
			continue
		}
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			name := src.Name()
			p.log.Info("ingest source started", logutil.Fields{"source": name})
			err := src.Run(ctx, func(ctx context.Context, payload []byte) error {
				return p.Handle(ctx, name, payload)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				p.log.Error("ingest source stopped", err, logutil.Fields{"source": name})
				return
			}
			p.log.Info("ingest source stopped", logutil.Fields{"source": name})
		}(src)
	}
	wg.Wait()
}

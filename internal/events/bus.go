package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultChannel = "ragmon-events"

// envelope is the Redis pub/sub wire form. Origin lets a replica skip its own publishes.
type envelope struct {
	Origin string      `json:"origin"`
	Event  StreamEvent `json:"event"`
}

// Bus multiplexes stream events to connected clients (local + Redis backed).
type Bus struct {
	client redis.UniversalClient
	logger *log.Logger
	ch     string
	origin string
	buffer int

	mu          sync.RWMutex
	subscribers map[chan StreamEvent]struct{}
	remote      func(StreamEvent)

	stop context.CancelFunc
	done chan struct{}
}

// Options configure the bus.
type Options struct {
	Client  redis.UniversalClient
	Logger  *log.Logger
	Channel string
	// Buffer is the per-subscriber channel size.
	Buffer int
}

// NewBus creates a new event bus.
func NewBus(opts Options) *Bus {
	channel := opts.Channel
	if channel == "" {
		channel = defaultChannel
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		client:      opts.Client,
		logger:      opts.Logger,
		ch:          channel,
		origin:      uuid.NewString(),
		buffer:      buffer,
		subscribers: make(map[chan StreamEvent]struct{}),
		stop:        cancel,
		done:        make(chan struct{}),
	}
	if bus.client != nil {
		go bus.observeRedis(ctx)
	} else {
		close(bus.done)
	}
	return bus
}

// Publish broadcasts an event to local subscribers and other replicas via Redis.
func (b *Bus) Publish(ctx context.Context, evt StreamEvent) error {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	b.broadcast(evt)

	if b.client != nil {
		payload, err := b.encode(evt)
		if err != nil {
			return err
		}
		if err := b.client.Publish(ctx, b.ch, payload).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
	}
	return nil
}

// Subscribe registers a subscriber and returns a channel plus a cancel func.
// The channel is closed when ctx ends or cancel is called.
func (b *Bus) Subscribe(ctx context.Context) (<-chan StreamEvent, func(), error) {
	ch := make(chan StreamEvent, b.buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel, nil
}

// OnRemote sets the handler for events published by another replica. It runs
// on the Redis observer goroutine before local subscribers see the event.
func (b *Bus) OnRemote(fn func(StreamEvent)) {
	b.mu.Lock()
	b.remote = fn
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close stops the Redis observer.
func (b *Bus) Close() {
	b.stop()
	<-b.done
}

func (b *Bus) broadcast(evt StreamEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			if b.logger != nil {
				b.logger.Printf("events: dropping %s event from %s (subscriber backlog)", evt.Event, evt.App)
			}
		}
	}
}

func (b *Bus) observeRedis(ctx context.Context) {
	defer close(b.done)
	pubsub := b.client.Subscribe(ctx, b.ch)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if b.logger != nil {
				b.logger.Printf("events: redis subscriber error: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		b.receive([]byte(msg.Payload))
	}
}

func (b *Bus) encode(evt StreamEvent) ([]byte, error) {
	payload, err := json.Marshal(envelope{Origin: b.origin, Event: evt})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}

// receive handles one pub/sub payload. Own publishes are skipped.
func (b *Bus) receive(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		if b.logger != nil {
			b.logger.Printf("events: invalid payload: %v", err)
		}
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.mu.RLock()
	remote := b.remote
	b.mu.RUnlock()
	if remote != nil {
		remote(env.Event)
	}
	b.broadcast(env.Event)
}

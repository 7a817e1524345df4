package ingest

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/monitor"
	"github.com/oremus-labs/ragmon/internal/redisx"
)

type recordingSink struct {
	mu        sync.Mutex
	events    []events.StreamEvent
	instances []monitor.InstanceUpdate
}

func (s *recordingSink) Add(_ context.Context, evt events.StreamEvent) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *recordingSink) Update(u monitor.InstanceUpdate) {
	s.mu.Lock()
	s.instances = append(s.instances, u)
	s.mu.Unlock()
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), len(s.instances)
}

func TestPipelineHandle(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewPipeline(sink, sink, DecodeOptions{})

	if err := p.Handle(context.Background(), "test", []byte(`{"meta":{"service":"a"},"instanceId":"1","status":"RUNNING"}`)); err != nil {
		t.Fatalf("handle envelope: %v", err)
	}
	if err := p.Handle(context.Background(), "test", []byte(`{"app":"b","status":"OK"}`)); err != nil {
		t.Fatalf("handle flat: %v", err)
	}
	if err := p.Handle(context.Background(), "test", []byte(`garbage`)); err == nil {
		t.Fatalf("expected error for garbage")
	}

	evts, instances := sink.counts()
	if evts != 2 || instances != 1 {
		t.Fatalf("expected 2 events and 1 instance update, got %d and %d", evts, instances)
	}
}

type fakeNATSConnection struct {
	mu          sync.RWMutex
	handler     nats.MsgHandler
	queue       string
	published   [][]byte
	unsubscribe int32
}

func (c *fakeNATSConnection) Publish(_ string, data []byte) error {
	c.mu.Lock()
	c.published = append(c.published, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeNATSConnection) Subscribe(_ string, handler nats.MsgHandler) (natsSubscription, error) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
	return &fakeNATSSubscription{conn: c}, nil
}

func (c *fakeNATSConnection) QueueSubscribe(_ string, queue string, handler nats.MsgHandler) (natsSubscription, error) {
	c.mu.Lock()
	c.queue = queue
	c.mu.Unlock()
	return c.Subscribe("", handler)
}

func (c *fakeNATSConnection) Close() error { return nil }

func (c *fakeNATSConnection) emit(raw []byte) bool {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return false
	}
	handler(&nats.Msg{Data: raw})
	return true
}

type fakeNATSSubscription struct {
	conn *fakeNATSConnection
}

func (s *fakeNATSSubscription) Unsubscribe() error {
	atomic.AddInt32(&s.conn.unsubscribe, 1)
	return nil
}

func TestNATSSourceFeedsPipeline(t *testing.T) {
	t.Parallel()

	conn := &fakeNATSConnection{}
	src := newNATSSource(conn, NATSOptions{Subject: "ragmon.monitor", Queue: "ragmon"})
	sink := &recordingSink{}
	p := NewPipeline(sink, sink, DecodeOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, src)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !conn.emit([]byte(`{"meta":{"service":"svc"},"instanceId":"i-1","event":"HEARTBEAT"}`)) {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered")
		}
		time.Sleep(time.Millisecond)
	}
	conn.emit([]byte(`not json`))

	if evts, instances := sink.counts(); evts != 1 || instances != 1 {
		t.Fatalf("expected 1 event and 1 instance got %d and %d", evts, instances)
	}
	if conn.queue != "ragmon" {
		t.Fatalf("expected queue subscription, got %q", conn.queue)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("pipeline did not stop")
	}
	if atomic.LoadInt32(&conn.unsubscribe) != 1 {
		t.Fatalf("expected unsubscribe on shutdown")
	}
	if src.Name() != "nats:ragmon.monitor" {
		t.Fatalf("unexpected name %s", src.Name())
	}
}

func TestNATSSourcePublishSample(t *testing.T) {
	t.Parallel()

	conn := &fakeNATSConnection{}
	src := newNATSSource(conn, NATSOptions{})

	sample, err := src.PublishSample(context.Background())
	if err != nil {
		t.Fatalf("publish sample: %v", err)
	}
	if len(conn.published) != 1 {
		t.Fatalf("expected one publish got %d", len(conn.published))
	}
	res, err := Decode(conn.published[0], DecodeOptions{})
	if err != nil {
		t.Fatalf("sample must decode: %v", err)
	}
	if res.Kind != KindEnvelope || res.Event.App != "testPublisher" || res.Event.Status != "PROCESSING" {
		t.Fatalf("unexpected sample decode %+v", res)
	}
	if sample["status"] != "PROCESSING" || src.Target() != DefaultStream {
		t.Fatalf("unexpected sample %v", sample)
	}
}

func TestPayloadOf(t *testing.T) {
	t.Parallel()

	if got, ok := payloadOf(map[string]interface{}{"data": `{"a":1}`}); !ok || string(got) != `{"a":1}` {
		t.Fatalf("unexpected data payload %q %v", got, ok)
	}
	if got, ok := payloadOf(map[string]interface{}{"payload": []byte("x")}); !ok || string(got) != "x" {
		t.Fatalf("unexpected payload field %q %v", got, ok)
	}
	if _, ok := payloadOf(map[string]interface{}{"other": "x"}); ok {
		t.Fatalf("expected no payload")
	}
}

func TestRedisStreamRoundTrip(t *testing.T) {
	addr := os.Getenv("RAGMON_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RAGMON_TEST_REDIS_ADDR not set")
	}
	client, err := redisx.NewClient(redisx.Config{Addr: addr})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer client.Close()

	stream := "ragmon.test." + time.Now().Format("150405.000000")
	defer client.Del(context.Background(), stream)

	src := NewRedisStreamSource(client, RedisStreamOptions{Stream: stream, Block: 100 * time.Millisecond})
	if err := src.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := src.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group twice: %v", err)
	}

	producer := NewProducer(client, stream)
	sample, err := producer.PublishSample(context.Background())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx, func(_ context.Context, payload []byte) error {
		got <- payload
		cancel()
		return nil
	})

	select {
	case payload := <-got:
		var decoded map[string]interface{}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if decoded["status"] != sample["status"] {
			t.Fatalf("unexpected payload %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no message received")
	}
}

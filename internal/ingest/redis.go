package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oremus-labs/ragmon/internal/logutil"
)

// Defaults for the Redis stream source.
const (
	DefaultStream = "ragmon.monitor"
	DefaultGroup  = "ragmon"
)

// RedisStreamOptions configure a RedisStreamSource.
type RedisStreamOptions struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64
}

// RedisStreamSource reads monitoring messages from a Redis Stream consumer group.
type RedisStreamSource struct {
	client   redis.UniversalClient
	stream   string
	group    string
	name     string
	blockDur time.Duration
	count    int64
	log      logutil.Logger
}

// NewRedisStreamSource creates a source bound to a stream + group.
func NewRedisStreamSource(client redis.UniversalClient, opts RedisStreamOptions) *RedisStreamSource {
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	if opts.Consumer == "" {
		opts.Consumer = uuid.NewString()
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.Count <= 0 {
		opts.Count = 32
	}
	return &RedisStreamSource{
		client:   client,
		stream:   opts.Stream,
		group:    opts.Group,
		name:     opts.Consumer,
		blockDur: opts.Block,
		count:    opts.Count,
		log:      logutil.For("ingest"),
	}
}

func (s *RedisStreamSource) Name() string {
	return "redis:" + s.stream
}

// EnsureGroup ensures the consumer group exists.
func (s *RedisStreamSource) EnsureGroup(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis stream source not configured")
	}
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", s.group, err)
	}
	return nil
}

// Run reads until ctx ends. Every delivered message is acknowledged once
// handled, including ones the handler rejects.
func (s *RedisStreamSource) Run(ctx context.Context, handle Handler) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := s.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("redis stream read failed", err, logutil.Fields{"stream": s.stream})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			if payload, ok := payloadOf(msg.Values); ok {
				_ = handle(ctx, payload)
			}
			if err := s.client.XAck(ctx, s.stream, s.group, msg.ID).Err(); err != nil && ctx.Err() == nil {
				s.log.Error("redis stream ack failed", err, logutil.Fields{"stream": s.stream, "id": msg.ID})
			}
		}
	}
}

func (s *RedisStreamSource) next(ctx context.Context) ([]redis.XMessage, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.name,
		Streams:  []string{s.stream, ">"},
		Count:    s.count,
		Block:    s.blockDur,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var out []redis.XMessage
	for _, stream := range res {
		out = append(out, stream.Messages...)
	}
	return out, nil
}

func payloadOf(values map[string]interface{}) ([]byte, bool) {
	for _, key := range []string{"data", "payload"} {
		switch v := values[key].(type) {
		case string:
			return []byte(v), true
		case []byte:
			return v, true
		}
	}
	return nil, false
}

// Producer appends monitoring messages to a Redis Stream.
type Producer struct {
	client redis.UniversalClient
	stream string
}

// NewProducer constructs a producer for the provided stream.
func NewProducer(client redis.UniversalClient, stream string) *Producer {
	if stream == "" {
		stream = DefaultStream
	}
	return &Producer{client: client, stream: stream}
}

// Target names the stream messages are sent to.
func (p *Producer) Target() string {
	return p.stream
}

// Publish appends payload and returns the stream entry id.
func (p *Producer) Publish(ctx context.Context, payload []byte) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("redis producer not configured")
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(payload),
		},
	}).Result()
}

// PublishSample sends SampleStatus and returns it.
func (p *Producer) PublishSample(ctx context.Context) (map[string]interface{}, error) {
	sample := SampleStatus(time.Now())
	data, err := json.Marshal(sample)
	if err != nil {
		return nil, err
	}
	if _, err := p.Publish(ctx, data); err != nil {
		return nil, err
	}
	return sample, nil
}

// SampleStatus is a status envelope used to exercise the pipeline end to end.
func SampleStatus(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":    "PROCESSING",
		"timestamp": now.UTC().Format(time.RFC3339Nano),
		"meta": map[string]interface{}{
			"service":         "testPublisher",
			"processingState": "STARTED",
			"inputMode":       "scdf",
		},
	}
}

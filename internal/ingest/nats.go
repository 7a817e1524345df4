package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type natsSubscription interface {
	Unsubscribe() error
}

type natsConnection interface {
	Publish(string, []byte) error
	Subscribe(string, nats.MsgHandler) (natsSubscription, error)
	QueueSubscribe(string, string, nats.MsgHandler) (natsSubscription, error)
	Close() error
}

// NATSOptions configure a NATS source or producer.
type NATSOptions struct {
	URL     string
	Subject string
	// Queue, when set, load-balances messages across server replicas.
	Queue string
}

// NATSSource reads monitoring messages from a NATS subject.
type NATSSource struct {
	conn    natsConnection
	subject string
	queue   string
}

// DialNATS connects to the server in opts.URL.
func DialNATS(opts NATSOptions) (*NATSSource, error) {
	address := opts.URL
	if address == "" {
		address = nats.DefaultURL
	}
	conn, err := nats.Connect(address, nats.Name("ragmon"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATSSource(&natsConnectionAdapter{conn}, opts), nil
}

func newNATSSource(conn natsConnection, opts NATSOptions) *NATSSource {
	subject := opts.Subject
	if subject == "" {
		subject = DefaultStream
	}
	return &NATSSource{conn: conn, subject: subject, queue: opts.Queue}
}

func (s *NATSSource) Name() string {
	return "nats:" + s.subject
}

// Run subscribes and blocks until ctx ends. Messages are handled on the NATS
// delivery goroutine, one at a time.
func (s *NATSSource) Run(ctx context.Context, handle Handler) error {
	if s == nil || s.conn == nil {
		return fmt.Errorf("nats source not configured")
	}
	cb := func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		_ = handle(ctx, msg.Data)
	}

	var (
		sub natsSubscription
		err error
	)
	if s.queue != "" {
		sub, err = s.conn.QueueSubscribe(s.subject, s.queue, cb)
	} else {
		sub, err = s.conn.Subscribe(s.subject, cb)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}

	<-ctx.Done()
	_ = sub.Unsubscribe()
	return nil
}

// Target names the subject samples are sent to.
func (s *NATSSource) Target() string {
	return s.subject
}

// PublishSample sends SampleStatus on the source subject and returns it.
func (s *NATSSource) PublishSample(ctx context.Context) (map[string]interface{}, error) {
	sample := SampleStatus(time.Now())
	data, err := json.Marshal(sample)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return nil, fmt.Errorf("nats publish: %w", err)
	}
	return sample, nil
}

// Close closes the NATS connection.
func (s *NATSSource) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

type natsConnectionAdapter struct {
	*nats.Conn
}

func (a *natsConnectionAdapter) Subscribe(subject string, handler nats.MsgHandler) (natsSubscription, error) {
	sub, err := a.Conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *natsConnectionAdapter) QueueSubscribe(subject, queue string, handler nats.MsgHandler) (natsSubscription, error) {
	sub, err := a.Conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *natsConnectionAdapter) Close() error {
	a.Conn.Close()
	return nil
}

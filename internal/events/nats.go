package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// subscriberBuffer is how many payloads a slow reader may fall behind
// before new ones are dropped.
const subscriberBuffer = 64

func dial(url, name string, defaults, extra []nats.Option) (*nats.Conn, error) {
	opts := append([]nats.Option{nats.Name(name)}, defaults...)
	nc, err := nats.Connect(url, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher mirrors events onto NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := dial(url, "leafbus-earth", nil, opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends event on topic. Pre-encoded payloads (json.RawMessage or
// []byte) go out untouched; anything else is marshalled to JSON.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var data []byte
	switch v := event.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(event); err != nil {
			return fmt.Errorf("encoding %s payload: %w", topic, err)
		}
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber reads mirrored events. It reconnects forever, so a
// watcher survives broker restarts.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to url. Extra options such as disconnect
// handlers are applied after the reconnect defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := dial(url, "leafbus-watch", []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, opts)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// feed bridges a NATS callback onto a bounded channel that can be closed
// exactly once while callbacks may still be in flight.
type feed struct {
	mu     sync.Mutex
	ch     chan []byte
	done   bool
	sub    *nats.Subscription
	closer sync.Once
}

func (f *feed) deliver(msg *nats.Msg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	select {
	case f.ch <- msg.Data:
	default:
	}
}

func (f *feed) close() {
	f.closer.Do(func() {
		if f.sub != nil {
			_ = f.sub.Unsubscribe()
		}
		f.mu.Lock()
		f.done = true
		close(f.ch)
		f.mu.Unlock()
	})
}

// Subscribe delivers payloads published under topic, which may contain
// wildcards such as AllSubjects. Payloads arriving while the channel is
// full are dropped. The returned cancel unsubscribes and closes the
// channel; it is safe to call more than once.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	f := &feed{ch: make(chan []byte, subscriberBuffer)}
	sub, err := s.conn.Subscribe(topic, f.deliver)
	if err != nil {
		f.close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	f.sub = sub
	// The server routes other connections' messages only after it has
	// seen the subscription.
	if err := s.conn.Flush(); err != nil {
		f.close()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}
	return f.ch, f.close, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

package bus

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus implements Bus on a NATS connection. Topics are prefixed with
// Config.Prefix so several hosts can share one server.
type NATSBus struct {
	conn   *nats.Conn
	prefix string
	closed atomic.Bool
}

// NewNATSBus connects to the configured server.
func NewNATSBus(cfg Config) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "devmirror"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: nats connect: %w", err)
	}
	return NewNATSBusFromConn(conn, cfg.Prefix), nil
}

// NewNATSBusFromConn wraps an existing connection.
func NewNATSBusFromConn(conn *nats.Conn, prefix string) *NATSBus {
	return &NATSBus{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

func (b *NATSBus) subject(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + "." + topic
}

func (b *NATSBus) topic(subject string) string {
	if b.prefix == "" {
		return subject
	}
	return strings.TrimPrefix(subject, b.prefix+".")
}

func (b *NATSBus) Publish(ctx context.Context, topic string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.conn.Publish(b.subject(topic), data)
}

func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	// nats delivers one subscription's messages sequentially on its own
	// goroutine, matching the Bus ordering contract.
	sub, err := b.conn.Subscribe(b.subject(topic), func(m *nats.Msg) {
		handler(ctx, &Message{Topic: b.topic(m.Subject), Data: m.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("bus: nats subscribe %s: %w", topic, err)
	}
	return &natsSubscription{sub: sub, topic: topic}, nil
}

func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("bus: nats drain: %w", err)
	}
	return nil
}

type natsSubscription struct {
	sub   *nats.Subscription
	topic string
}

func (s *natsSubscription) Unsubscribe() error { return s.sub.Unsubscribe() }
func (s *natsSubscription) Topic() string      { return s.topic }

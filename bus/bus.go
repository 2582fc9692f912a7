// Package bus is the publish/subscribe transport between external controls,
// the host and the surfaces. The host owns one Bus and injects it into every
// component; components register subscriptions at construction and release
// them at teardown.
//
// MemoryBus serves the single-process case. NATSBus lets controls live in
// another process (a toolbar, a remote test driver).
package bus

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrClosed is returned when operating on a closed bus.
	ErrClosed = errors.New("bus: closed")
)

// Bus publishes opaque payloads on topics.
// Implementations must be safe for concurrent use.
type Bus interface {
	// Publish hands data to every subscriber of topic. It never waits for
	// handlers to run.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe registers handler for topic. Handlers of one subscription
	// run sequentially, in publish order.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	Close() error
}

// Handler processes one message.
type Handler func(ctx context.Context, msg *Message)

// Message is one delivery.
type Message struct {
	Topic string
	Data  []byte
}

// Subscription can be cancelled.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// Config selects and configures a bus implementation.
type Config struct {
	// Kind is "memory" (default) or "nats".
	Kind string `yaml:"kind"`
	// URL is the NATS server URL. Ignored for memory.
	URL string `yaml:"url"`
	// Prefix namespaces every topic on shared servers, e.g. "devmirror".
	Prefix string `yaml:"prefix"`
	// Name identifies the client to the server.
	Name string `yaml:"name"`
	// Buffer is the per-subscription queue length for the memory bus.
	Buffer int `yaml:"buffer"`
}

// New builds the bus selected by cfg.
func New(cfg Config) (Bus, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "memory":
		return NewMemoryBus(cfg.Buffer), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, errors.New("bus: unknown kind " + cfg.Kind)
	}
}

// matchTopic checks if a topic matches a pattern with wildcards.
// "*" matches one dot-separated token, ">" matches the remainder.
func matchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")

	i := 0
	for ; i < len(pp) && i < len(tp); i++ {
		switch pp[i] {
		case ">":
			return true
		case "*":
		default:
			if pp[i] != tp[i] {
				return false
			}
		}
	}
	return i == len(pp) && i == len(tp)
}

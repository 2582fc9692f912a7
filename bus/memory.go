package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBuffer = 256

// MemoryBus is the in-process Bus. Publish never blocks: a subscriber whose
// queue is full misses the message.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySubscription
	buffer int
	closed atomic.Bool
	nextID atomic.Uint64
}

// NewMemoryBus creates an in-memory bus. buffer <= 0 selects the default
// per-subscription queue length.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MemoryBus{
		subs:   make(map[string][]*memorySubscription),
		buffer: buffer,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{Topic: topic, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for pattern, subs := range b.subs {
		if !matchTopic(pattern, topic) {
			continue
		}
		for _, s := range subs {
			if s.closed.Load() {
				continue
			}
			select {
			case s.queue <- msg:
			default:
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	s := &memorySubscription{
		id:      b.nextID.Add(1),
		topic:   topic,
		queue:   make(chan *Message, b.buffer),
		done:    make(chan struct{}),
		handler: handler,
		bus:     b,
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	go s.run(ctx)
	return s, nil
}

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, s := range subs {
			s.stop()
		}
	}
	b.subs = make(map[string][]*memorySubscription)
	return nil
}

type memorySubscription struct {
	id      uint64
	topic   string
	queue   chan *Message
	done    chan struct{}
	handler Handler
	bus     *MemoryBus
	closed  atomic.Bool
}

func (s *memorySubscription) Topic() string { return s.topic }

func (s *memorySubscription) Unsubscribe() error {
	if s.closed.Load() {
		return nil
	}

	s.bus.mu.Lock()
	subs := s.bus.subs[s.topic]
	for i, other := range subs {
		if other.id == s.id {
			s.bus.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.bus.mu.Unlock()

	s.stop()
	return nil
}

func (s *memorySubscription) stop() {
	if s.closed.Swap(true) {
		return
	}
	close(s.done)
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case msg := <-s.queue:
			s.handler(ctx, msg)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Package mirror fans interaction events out from the surface that produced
// them to every other registered surface.
//
// The only loop prevention at this level is self-exclusion: an event is never
// delivered back to its source. Echoes a replay produces on a peer are the
// peer bridge's concern.
//
// Each target owns a bounded FIFO queue drained by one goroutine, so delivery
// order per target matches dispatch order and a slow surface never stalls
// Dispatch. Targets that are not ready (mid-navigation) or whose queue is full
// miss the event; nothing is queued for later.
package mirror

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/devmirror/bus"
	"github.com/hazyhaar/devmirror/interaction"
)

const defaultQueue = 64

// Target replays mirrored events on one surface.
type Target interface {
	DeviceID() string
	Replay(ctx context.Context, ev interaction.Event) error
}

// Busier is implemented by targets that refuse replays for a while, such as
// a surface held by a capture run. Events reaching a busy target are dropped.
type Busier interface {
	Busy() bool
}

// Stats are cumulative delivery counters.
type Stats struct {
	Dispatched uint64 `json:"dispatched"` // events accepted by Dispatch
	Delivered  uint64 `json:"delivered"`  // events replayed on a target
	Dropped    uint64 `json:"dropped"`    // unready, busy or full target
	Failed     uint64 `json:"failed"`     // replays that returned an error
}

// Config for a Mirror.
type Config struct {
	// Queue is the per-target queue length. Zero selects the default.
	Queue  int
	Logger *slog.Logger
}

// Mirror is the host-side dispatcher.
type Mirror struct {
	queue  int
	logger *slog.Logger

	mu      sync.RWMutex
	targets map[string]*slot
	subs    []bus.Subscription
	closed  bool

	dispatched atomic.Uint64
	delivered  atomic.Uint64
	dropped    atomic.Uint64
	failed     atomic.Uint64
}

type slot struct {
	target Target
	ready  atomic.Bool
	queue  chan interaction.Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New creates a Mirror.
func New(cfg Config) *Mirror {
	if cfg.Queue <= 0 {
		cfg.Queue = defaultQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Mirror{
		queue:   cfg.Queue,
		logger:  cfg.Logger,
		targets: make(map[string]*slot),
	}
}

// Register adds a target. It starts not ready; call SetReady once its
// document has loaded. Registering an id twice replaces the previous target.
func (m *Mirror) Register(ctx context.Context, t Target) {
	s := &slot{
		target: t,
		queue:  make(chan interaction.Event, m.queue),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go m.drain(ctx, s)

	m.mu.Lock()
	old := m.targets[t.DeviceID()]
	m.targets[t.DeviceID()] = s
	m.mu.Unlock()

	if old != nil {
		old.stop()
	}
	m.logger.Debug("mirror: target registered", "device", t.DeviceID())
}

// Unregister removes a target and waits for its in-flight replay.
func (m *Mirror) Unregister(deviceID string) {
	m.mu.Lock()
	s := m.targets[deviceID]
	delete(m.targets, deviceID)
	m.mu.Unlock()

	if s != nil {
		s.stop()
		m.logger.Debug("mirror: target unregistered", "device", deviceID)
	}
}

// SetReady marks whether a target can receive events.
func (m *Mirror) SetReady(deviceID string, ready bool) {
	m.mu.RLock()
	s := m.targets[deviceID]
	m.mu.RUnlock()
	if s != nil {
		s.ready.Store(ready)
	}
}

// Targets returns the registered device ids.
func (m *Mirror) Targets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.targets))
	for id := range m.targets {
		ids = append(ids, id)
	}
	return ids
}

// Dispatch queues ev for every target except its source and returns the
// number of targets it was queued for. It never blocks.
func (m *Mirror) Dispatch(ev interaction.Event) int {
	if err := ev.Validate(); err != nil {
		m.logger.Debug("mirror: invalid event", "error", err)
		return 0
	}
	src := ev.Source()
	m.dispatched.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	queued := 0
	for id, s := range m.targets {
		if id == src {
			continue
		}
		if !s.ready.Load() {
			m.dropped.Add(1)
			continue
		}
		select {
		case s.queue <- ev:
			queued++
		default:
			m.dropped.Add(1)
			m.logger.Debug("mirror: queue full", "device", id, "kind", ev.Kind)
		}
	}
	return queued
}

// Stats returns the current counters.
func (m *Mirror) Stats() Stats {
	return Stats{
		Dispatched: m.dispatched.Load(),
		Delivered:  m.delivered.Load(),
		Dropped:    m.dropped.Load(),
		Failed:     m.failed.Load(),
	}
}

// Attach subscribes the mirror to the scroll and click topics of b through
// a single wildcard subscription, so events reach Dispatch in publish order
// across both kinds. Other topics are ignored. The subscription is released
// by Close.
func (m *Mirror) Attach(ctx context.Context, b bus.Bus) error {
	sub, err := b.Subscribe(ctx, "*", func(ctx context.Context, msg *bus.Message) {
		kind := interaction.Kind(msg.Topic)
		if kind != interaction.KindScroll && kind != interaction.KindClick {
			return
		}
		ev, err := interaction.UnmarshalEvent(kind, msg.Data)
		if err != nil {
			m.logger.Debug("mirror: drop message", "topic", msg.Topic, "error", err)
			return
		}
		m.Dispatch(ev)
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return nil
}

// Publish is the host half of the surface channel: it republishes a surface
// message on the bus topic named by its channel.
func Publish(ctx context.Context, b bus.Bus, msg interaction.Message) error {
	ev, err := msg.Event()
	if err != nil {
		return err
	}
	data, err := interaction.MarshalEvent(ev)
	if err != nil {
		return err
	}
	return b.Publish(ctx, msg.Channel, data)
}

// Close releases bus subscriptions and stops every target.
func (m *Mirror) Close() error {
	m.unsubscribe()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	slots := m.targets
	m.targets = make(map[string]*slot)
	m.mu.Unlock()

	for _, s := range slots {
		s.stop()
	}
	return nil
}

func (m *Mirror) unsubscribe() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
}

func (m *Mirror) drain(ctx context.Context, s *slot) {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.queue:
			if b, ok := s.target.(Busier); ok && b.Busy() {
				m.dropped.Add(1)
				m.logger.Debug("mirror: target busy", "device", s.target.DeviceID(), "kind", ev.Kind)
				continue
			}
			if err := s.target.Replay(ctx, ev); err != nil {
				m.failed.Add(1)
				m.logger.Debug("mirror: replay failed",
					"device", s.target.DeviceID(), "kind", ev.Kind, "error", err)
				continue
			}
			m.delivered.Add(1)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *slot) stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

// Package bridge is the per-surface half of interaction mirroring. The
// embedded script reports raw DOM signals (pointer enter/leave, scroll,
// click) through a CDP binding; Bridge filters them into outbound messages
// tagged with the device id, and replays mirrored events received from the
// host onto its surface.
//
// Echo suppression lives here, not in the mirror: a click replayed on this
// surface comes back as a local click signal and must not be forwarded again.
package bridge

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/devmirror/interaction"
)

//go:embed bridge.js
var script string

// Script returns the in-page half of the bridge. It is idempotent per
// document and must be evaluated on every new document.
func Script() string { return script }

// BindingName is the CDP runtime binding the script calls.
const BindingName = "__devmirrorBinding"

// ErrLocatorMiss is returned by Target.Click implementations when a path
// does not resolve. Replay treats it as a no-op.
var ErrLocatorMiss = errors.New("bridge: locator did not resolve")

// SignalKind is the type of raw DOM signal.
type SignalKind string

const (
	SignalReady  SignalKind = "ready"
	SignalEnter  SignalKind = "enter"
	SignalLeave  SignalKind = "leave"
	SignalScroll SignalKind = "scroll"
	SignalClick  SignalKind = "click"
)

// Signal is one raw report from the page script.
type Signal struct {
	Kind     SignalKind           `json:"kind"`
	Position interaction.Position `json:"position"`
	CSSPath  string               `json:"cssPath,omitempty"`
	Dispatch string               `json:"dispatch,omitempty"` // one id per DOM click dispatch
	Replayed bool                 `json:"replayed,omitempty"` // click raised by a replay
}

// ParseSignal decodes a binding payload.
func ParseSignal(payload string) (Signal, error) {
	var s Signal
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return Signal{}, fmt.Errorf("bridge: parse signal: %w", err)
	}
	return s, nil
}

// Target is the surface capability replay needs.
type Target interface {
	// ScrollTo sets the scroll offset and returns once rendering settled.
	ScrollTo(ctx context.Context, pos interaction.Position) error
	// Click dispatches a synthetic click, flagged as a replay, on the node
	// at cssPath. Returns ErrLocatorMiss when nothing matches.
	Click(ctx context.Context, cssPath string) error
}

// Outbox receives messages for the host. Delivery is best effort: no
// acknowledgement, no retry.
type Outbox func(ctx context.Context, msg interaction.Message)

// State is the per-document bridge state. It lives until the next
// document-ready signal.
type State struct {
	PointerEngaged bool
	// LastReplayed is the path of the most recent replayed click, consumed
	// by the first local click on that target.
	LastReplayed string
	// dispatch marks the click dispatch cycle already handled.
	dispatch string
}

// Bridge binds one device to its surface.
type Bridge struct {
	deviceID string
	target   Target
	out      Outbox
	logger   *slog.Logger

	mu    sync.Mutex
	state State
	// onReady runs after a document-ready signal reset the state.
	onReady func()
}

// Config for creating a Bridge.
type Config struct {
	DeviceID string
	Target   Target
	Outbox   Outbox
	OnReady  func()
	Logger   *slog.Logger
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Outbox == nil {
		cfg.Outbox = func(context.Context, interaction.Message) {}
	}
	return &Bridge{
		deviceID: cfg.DeviceID,
		target:   cfg.Target,
		out:      cfg.Outbox,
		logger:   cfg.Logger,
		onReady:  cfg.OnReady,
	}
}

// DeviceID returns the identity stamped on outbound events.
func (b *Bridge) DeviceID() string { return b.deviceID }

// State returns a copy of the current state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset clears the state for a new document.
func (b *Bridge) Reset() {
	b.mu.Lock()
	b.state = State{}
	b.mu.Unlock()
}

// HandlePayload parses and handles a binding payload. Malformed payloads are
// logged and dropped.
func (b *Bridge) HandlePayload(ctx context.Context, payload string) {
	s, err := ParseSignal(payload)
	if err != nil {
		b.logger.Debug("bridge: drop payload", "device", b.deviceID, "error", err)
		return
	}
	b.Handle(ctx, s)
}

// Handle processes one local DOM signal.
func (b *Bridge) Handle(ctx context.Context, s Signal) {
	var ev *interaction.Event

	b.mu.Lock()
	switch s.Kind {
	case SignalReady:
		b.state = State{}
	case SignalEnter:
		b.state.PointerEngaged = true
	case SignalLeave:
		b.state.PointerEngaged = false
	case SignalScroll:
		// Scroll the user did not drive here (including replayed scroll)
		// stays local.
		if b.state.PointerEngaged {
			e := interaction.NewScroll(b.deviceID, s.Position)
			ev = &e
		}
	case SignalClick:
		ev = b.clickLocked(s)
	default:
		b.logger.Debug("bridge: unknown signal", "device", b.deviceID, "kind", s.Kind)
	}
	b.mu.Unlock()

	if s.Kind == SignalReady && b.onReady != nil {
		b.onReady()
	}
	if ev == nil {
		return
	}

	msg, err := interaction.NewMessage(*ev)
	if err != nil {
		b.logger.Warn("bridge: encode message", "device", b.deviceID, "error", err)
		return
	}
	b.out(ctx, msg)
}

func (b *Bridge) clickLocked(s Signal) *interaction.Event {
	if s.Dispatch != "" {
		if s.Dispatch == b.state.dispatch {
			return nil
		}
		b.state.dispatch = s.Dispatch
	}

	if s.Replayed || (b.state.LastReplayed != "" && s.CSSPath == b.state.LastReplayed) {
		b.state.LastReplayed = ""
		return nil
	}
	if s.CSSPath == "" {
		return nil
	}

	e := interaction.NewClick(b.deviceID, s.CSSPath)
	return &e
}

// Busy reports whether the target currently refuses replays. Targets that
// never do need not implement it.
func (b *Bridge) Busy() bool {
	t, ok := b.target.(interface{ Busy() bool })
	return ok && t.Busy()
}

// Replay applies an event mirrored from another surface. Locator misses are
// silent; other target failures are returned for logging only.
func (b *Bridge) Replay(ctx context.Context, ev interaction.Event) error {
	if ev.Source() == b.deviceID {
		return nil
	}

	switch ev.Kind {
	case interaction.KindScroll:
		return b.target.ScrollTo(ctx, ev.Scroll.Position)

	case interaction.KindClick:
		path := ev.Click.CSSPath
		b.mu.Lock()
		b.state.LastReplayed = path
		b.mu.Unlock()

		err := b.target.Click(ctx, path)
		if err == nil {
			return nil
		}

		b.mu.Lock()
		if b.state.LastReplayed == path {
			b.state.LastReplayed = ""
		}
		b.mu.Unlock()

		if errors.Is(err, ErrLocatorMiss) {
			b.logger.Debug("bridge: locator miss", "device", b.deviceID, "path", path)
			return nil
		}
		return err
	}
	return fmt.Errorf("%w: %q", interaction.ErrUnknownKind, ev.Kind)
}

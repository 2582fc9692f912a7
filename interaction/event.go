// Package interaction defines the wire types exchanged between surfaces and
// the host: devices, tagged scroll/click events, the raw surface envelope and
// the bus topics. Any component that mirrors or replays interactions imports
// this package.
package interaction

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the Event union.
type Kind string

const (
	KindScroll Kind = "scroll"
	KindClick  Kind = "click"
)

// Position is a document scroll offset in CSS pixels.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Scroll reports the scroll offset of the originating surface.
type Scroll struct {
	SourceDeviceID string   `json:"sourceDeviceId"`
	Position       Position `json:"position"`
}

// Click reports a click by the CSS path of its target.
type Click struct {
	SourceDeviceID string `json:"sourceDeviceId"`
	CSSPath        string `json:"cssPath"`
}

// Event is one mirrored interaction. Exactly one of Scroll or Click is set,
// matching Kind. The source device id is stamped by the originating bridge
// and never rewritten afterwards.
type Event struct {
	Kind   Kind
	Scroll *Scroll
	Click  *Click
}

var (
	// ErrNoSource is returned when an event carries no source device id.
	ErrNoSource = errors.New("interaction: event has no source device")
	// ErrUnknownKind is returned for channels other than scroll and click.
	ErrUnknownKind = errors.New("interaction: unknown event kind")
)

// NewScroll builds a scroll event.
func NewScroll(source string, pos Position) Event {
	return Event{Kind: KindScroll, Scroll: &Scroll{SourceDeviceID: source, Position: pos}}
}

// NewClick builds a click event.
func NewClick(source, cssPath string) Event {
	return Event{Kind: KindClick, Click: &Click{SourceDeviceID: source, CSSPath: cssPath}}
}

// Source returns the originating device id.
func (e Event) Source() string {
	switch e.Kind {
	case KindScroll:
		if e.Scroll != nil {
			return e.Scroll.SourceDeviceID
		}
	case KindClick:
		if e.Click != nil {
			return e.Click.SourceDeviceID
		}
	}
	return ""
}

// Validate checks the union invariant.
func (e Event) Validate() error {
	switch e.Kind {
	case KindScroll:
		if e.Scroll == nil {
			return fmt.Errorf("interaction: scroll event without payload")
		}
	case KindClick:
		if e.Click == nil {
			return fmt.Errorf("interaction: click event without payload")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.Source() == "" {
		return ErrNoSource
	}
	return nil
}

// Payload returns the variant value for serialisation.
func (e Event) Payload() any {
	if e.Kind == KindScroll {
		return e.Scroll
	}
	return e.Click
}

// MarshalEvent serialises the event payload. The kind travels out of band,
// as the bus topic or the envelope channel.
func MarshalEvent(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e.Payload())
}

// UnmarshalEvent decodes a payload published under kind.
func UnmarshalEvent(kind Kind, data []byte) (Event, error) {
	var ev Event
	switch kind {
	case KindScroll:
		var s Scroll
		if err := json.Unmarshal(data, &s); err != nil {
			return Event{}, fmt.Errorf("interaction: decode scroll: %w", err)
		}
		ev = Event{Kind: KindScroll, Scroll: &s}
	case KindClick:
		var c Click
		if err := json.Unmarshal(data, &c); err != nil {
			return Event{}, fmt.Errorf("interaction: decode click: %w", err)
		}
		ev = Event{Kind: KindClick, Click: &c}
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

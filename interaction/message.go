package interaction

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope a surface posts to the host:
// {"channel": "scroll"|"click", "args": [payload]}.
type Message struct {
	Channel string            `json:"channel"`
	Args    []json.RawMessage `json:"args"`
}

// NewMessage wraps an event in a surface envelope.
func NewMessage(e Event) (Message, error) {
	data, err := MarshalEvent(e)
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: string(e.Kind), Args: []json.RawMessage{data}}, nil
}

// Event decodes the first argument according to the channel.
func (m Message) Event() (Event, error) {
	if len(m.Args) == 0 {
		return Event{}, fmt.Errorf("interaction: message %q has no payload", m.Channel)
	}
	return UnmarshalEvent(Kind(m.Channel), m.Args[0])
}

// Bus topics. External controls publish the control topics; the host
// republishes surface messages on TopicScroll and TopicClick.
const (
	TopicScroll          = "scroll"
	TopicClick           = "click"
	TopicScrollDown      = "scrollDown"
	TopicScrollUp        = "scrollUp"
	TopicNavigateBack    = "navigateBack"
	TopicNavigateForward = "navigateForward"
	TopicNavigateReload  = "navigateReload"
	TopicScreenshot      = "screenshot"
	TopicDevTools        = "devtools"
)

// ControlTopics lists the topics a controller subscribes to.
var ControlTopics = []string{
	TopicScrollDown,
	TopicScrollUp,
	TopicNavigateBack,
	TopicNavigateForward,
	TopicNavigateReload,
	TopicScreenshot,
	TopicDevTools,
}

// Command is the payload of a control topic. An empty DeviceID addresses
// every device.
type Command struct {
	DeviceID string `json:"device_id,omitempty"`
	Mode     string `json:"mode,omitempty"` // screenshot: full | visible
}

// Targets reports whether the command addresses the given device.
func (c Command) Targets(deviceID string) bool {
	return c.DeviceID == "" || c.DeviceID == deviceID
}

// MarshalCommand serialises a control command.
func MarshalCommand(c Command) ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalCommand decodes a control command. An empty payload is the
// broadcast command.
func UnmarshalCommand(data []byte) (Command, error) {
	var c Command
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("interaction: decode command: %w", err)
	}
	return c, nil
}

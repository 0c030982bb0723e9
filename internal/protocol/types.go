package protocol

import "encoding/json"

// Message is the envelope shared by commands, events and replies.
// Presence of fields is the only discriminator: there is no kind tag on the wire.
type Message struct {
	ID      string          `json:"id"`
	Time    string          `json:"time"`
	Command string          `json:"command,omitempty"`
	Source  *Source         `json:"source,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Reply   string          `json:"reply,omitempty"`
}

type Source struct {
	TabID     int    `json:"tabId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type Kind string

const (
	KindUnknown Kind = "unknown"
	KindCommand Kind = "command"
	KindEvent   Kind = "event"
	KindReply   Kind = "reply"
)

func (k Kind) Valid() bool {
	switch k {
	case KindUnknown, KindCommand, KindEvent, KindReply:
		return true
	}
	return false
}

const (
	requestPrefix  = "Request."
	responsePrefix = "Response."
	eventPrefix    = "Event."
)

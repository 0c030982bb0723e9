package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeLayout renders timestamps the way a browser's toLocaleString does for en-US.
const TimeLayout = "1/2/2006, 3:04:05 PM"

var now = time.Now

var ErrEmptyFrame = errors.New("empty frame")

func Timestamp() string {
	return now().Format(TimeLayout)
}

func newMessage(command string) Message {
	return Message{
		ID:      uuid.NewString(),
		Time:    Timestamp(),
		Command: command,
	}
}

// NewEvent builds an outbound event. The params value is marshalled as-is;
// a pre-encoded json.RawMessage is passed through untouched.
func NewEvent(name string, source *Source, params any) (Message, error) {
	msg := newMessage(eventPrefix + name)
	msg.Source = source
	raw, err := marshalPayload(params)
	if err != nil {
		return Message{}, fmt.Errorf("encode params of %s: %w", msg.Command, err)
	}
	msg.Params = raw
	return msg, nil
}

// NewReply answers req. Exactly one of data or error ends up populated.
func NewReply(req Message, data any, replyErr error) (Message, error) {
	msg := newMessage(Command(req.Command).ResponseName())
	msg.Reply = req.ID
	if replyErr != nil {
		msg.Error = replyErr.Error()
		if msg.Error == "" {
			msg.Error = "unknown error"
		}
		return msg, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode data of %s: %w", msg.Command, err)
	}
	msg.Data = raw
	return msg, nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return Message{}, ErrEmptyFrame
	}
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// UnmarshalJSON accepts any non-empty JSON value as id. Numbers keep their
// literal text, and null, false, 0 and "" leave the id empty.
func (m *Message) UnmarshalJSON(b []byte) error {
	type wire Message
	aux := struct {
		*wire
		ID json.RawMessage `json:"id"`
	}{wire: (*wire)(m)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	m.ID = idText(aux.ID)
	return nil
}

func idText(raw json.RawMessage) string {
	v := strings.TrimSpace(string(raw))
	switch v {
	case "", "null", "false", `""`:
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n == 0 {
		return ""
	}
	return v
}

func (m Message) Kind() Kind {
	switch {
	case m.Reply != "":
		return KindReply
	case strings.HasPrefix(m.Command, eventPrefix):
		return KindEvent
	case strings.HasPrefix(m.Command, requestPrefix):
		return KindCommand
	default:
		return KindUnknown
	}
}

// Dispatchable reports whether an inbound message carries what a command needs.
func (m Message) Dispatchable() bool {
	return m.ID != "" && m.Command != ""
}

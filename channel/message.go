package channel

import (
	"fmt"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/c360/resilkit/errors"
)

// Message is an application event pushed by the feed.
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: empty payload", errors.ErrInvalidData), "channel", "Decode", "unmarshal payload")
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "channel", "Decode", "unmarshal payload")
	}
	return nil
}

// Handler consumes parsed messages.
type Handler func(Message)

func parseMessage(data []byte) (Message, error) {
	var msg Message
	if !utf8.Valid(data) {
		return msg, errors.WrapInvalid(
			fmt.Errorf("%w: not valid UTF-8", errors.ErrInvalidData), "channel", "parseMessage", "validate text")
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "channel", "parseMessage", "unmarshal message")
	}
	if msg.Type == "" {
		return msg, errors.WrapInvalid(
			fmt.Errorf("%w: missing message type", errors.ErrInvalidData), "channel", "parseMessage", "validate message")
	}
	return msg, nil
}

package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resilkit/errors"
)

func TestParseMessage(t *testing.T) {
	msg, err := parseMessage([]byte(`{"type":"set","id":"42","timestamp":1700000000123,"payload":{"key":"status","value":"filed"}}`))
	require.NoError(t, err)
	assert.Equal(t, "set", msg.Type)
	assert.Equal(t, "42", msg.ID)
	assert.Equal(t, int64(1700000000123), msg.Timestamp)
	assert.JSONEq(t, `{"key":"status","value":"filed"}`, string(msg.Payload))
}

func TestParseMessage_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"empty", ``, errors.ErrParsingFailed},
		{"truncated", `{"type":"se`, errors.ErrParsingFailed},
		{"array", `[1,2]`, errors.ErrParsingFailed},
		{"missing type", `{"id":"1"}`, errors.ErrInvalidData},
		{"invalid utf8", "\xff\xfe", errors.ErrInvalidData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseMessage([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestMessage_Decode(t *testing.T) {
	var target struct {
		Key string `json:"key"`
	}

	err := Message{Type: "x"}.Decode(&target)
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	err = Message{Type: "x", Payload: []byte(`"string"`)}.Decode(&target)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)

	require.NoError(t, Message{Type: "x", Payload: []byte(`{"key":"k"}`)}.Decode(&target))
	assert.Equal(t, "k", target.Key)
}

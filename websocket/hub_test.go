package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEnvelope(t *testing.T) {
	data, err := encodeEnvelope("message", map[string]string{"text": "hi"})
	require.NoError(t, err)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, "message", envelope.Event)
	assert.JSONEq(t, `{"text":"hi"}`, string(envelope.Data))
}

func TestEncodeEnvelopeRejectsUnmarshalable(t *testing.T) {
	_, err := encodeEnvelope("message", func() {})
	assert.Error(t, err)
}

func TestParseSwitchRoom(t *testing.T) {
	room, password := parseSwitchRoom(json.RawMessage(`"lounge"`))
	assert.Equal(t, "lounge", room)
	assert.Empty(t, password)

	room, password = parseSwitchRoom(json.RawMessage(`{"room":"vault","password":"pw123"}`))
	assert.Equal(t, "vault", room)
	assert.Equal(t, "pw123", password)

	room, password = parseSwitchRoom(json.RawMessage(`42`))
	assert.Empty(t, room)
	assert.Empty(t, password)
}

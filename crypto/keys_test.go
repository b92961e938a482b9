package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherchat/chat_backend/models"
)

func TestIssueAndRevokeUserKeys(t *testing.T) {
	m := NewKeyManager()

	pair, err := m.IssueUserKeys("sock-1")
	require.NoError(t, err)
	assert.Contains(t, pair.PublicKey, "PUBLIC KEY")
	assert.Contains(t, pair.PrivateKey, "PRIVATE KEY")

	got, err := m.UserKeys("sock-1")
	require.NoError(t, err)
	assert.Same(t, pair, got)

	m.Revoke("sock-1")
	_, err = m.UserKeys("sock-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Revoking again is a no-op.
	m.Revoke("sock-1")
}

func TestDistinctConnectionsGetDistinctKeys(t *testing.T) {
	m := NewKeyManager()
	a, err := m.IssueUserKeys("sock-a")
	require.NoError(t, err)
	b, err := m.IssueUserKeys("sock-b")
	require.NoError(t, err)
	assert.NotEqual(t, a.PrivateKey, b.PrivateKey)
}

func TestRoomKeyIdempotent(t *testing.T) {
	m := NewKeyManager()

	first, err := m.RoomKey("general")
	require.NoError(t, err)
	require.Len(t, first, 32)

	second, err := m.RoomKey("general")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := m.RoomKey("random")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestRoomKeyExchangeDecryptsToRoomKey(t *testing.T) {
	m := NewKeyManager()
	pair, err := m.IssueUserKeys("sock-1")
	require.NoError(t, err)

	exchange, err := m.RoomKeyExchange("secret-room", pair.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "secret-room", exchange.RoomName)
	assert.NotEmpty(t, exchange.ExchangeID)

	roomKey, err := m.RoomKey("secret-room")
	require.NoError(t, err)

	decrypted, err := DecryptRoomKey(exchange.EncryptedRoomKey, pair.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, roomKey, decrypted)
}

func TestExchangeIDsAreFresh(t *testing.T) {
	m := NewKeyManager()
	pair, err := m.IssueUserKeys("sock-1")
	require.NoError(t, err)

	first, err := m.RoomKeyExchange("general", pair.PublicKey)
	require.NoError(t, err)
	second, err := m.RoomKeyExchange("general", pair.PublicKey)
	require.NoError(t, err)
	assert.NotEqual(t, first.ExchangeID, second.ExchangeID)
}

func TestSweepDropsIdleRoomKeys(t *testing.T) {
	m := NewKeyManager()
	for _, room := range []string{"a", "b", "c"} {
		_, err := m.RoomKey(room)
		require.NoError(t, err)
	}

	removed := m.Sweep([]string{"b"})
	assert.Equal(t, 2, removed)

	stats := m.Stats()
	assert.Equal(t, 1, stats.ActiveRoomKeys)

	// Swept rooms regenerate lazily with a new key.
	_, err := m.RoomKey("a")
	require.NoError(t, err)
}

func TestStatsCountsKeyMaterial(t *testing.T) {
	m := NewKeyManager()
	_, err := m.IssueUserKeys("sock-1")
	require.NoError(t, err)
	_, err = m.RoomKey("general")
	require.NoError(t, err)
	_, err = m.RoomKey("random")
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 1, stats.ActiveUserKeys)
	assert.Equal(t, 2, stats.ActiveRoomKeys)
	assert.Equal(t, 3, stats.TotalKeysManaged)
}

func TestEncryptedPacketRoundTrip(t *testing.T) {
	m := NewKeyManager()
	_, err := m.IssueUserKeys("sock-1")
	require.NoError(t, err)

	msg := models.ChatMessage{
		ID:        "msg-1",
		Username:  "alice",
		Message:   "hello room",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Room:      "general",
		Type:      models.MessageTypeUser,
	}

	packet, err := m.CreateEncryptedMessage(msg, "general", "sock-1")
	require.NoError(t, err)
	assert.NotEmpty(t, packet.Signature)
	assert.NotEmpty(t, packet.MessageHash)

	opened, err := m.VerifyAndDecryptMessage(packet, "general")
	require.NoError(t, err)
	assert.Equal(t, msg.Message, opened.Message)
	assert.Equal(t, msg.Username, opened.Username)
}

func TestEncryptedPacketRejectsTamperedSignature(t *testing.T) {
	m := NewKeyManager()
	_, err := m.IssueUserKeys("sock-1")
	require.NoError(t, err)

	msg := models.ChatMessage{ID: "msg-1", Username: "alice", Message: "hi", Type: models.MessageTypeUser}
	packet, err := m.CreateEncryptedMessage(msg, "general", "sock-1")
	require.NoError(t, err)

	packet.MessageHash = "0000" + packet.MessageHash[4:]
	_, err = m.VerifyAndDecryptMessage(packet, "general")
	assert.Error(t, err)
}

func TestCreateEncryptedMessageWithoutKeysFails(t *testing.T) {
	m := NewKeyManager()
	msg := models.ChatMessage{ID: "msg-1", Username: "ghost", Message: "boo"}
	_, err := m.CreateEncryptedMessage(msg, "general", "unknown-socket")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

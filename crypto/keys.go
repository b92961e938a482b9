package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

const rsaKeyBits = 2048

// UserKeyPair holds one connection's asymmetric keys. Both PEM forms are
// delivered to the client during key exchange; the parsed key stays
// server-side for signing.
type UserKeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`

	key *rsa.PrivateKey
}

// RoomKeyExchange carries a room key encrypted under one user's public
// key. ExchangeID is a fresh random identifier with no persisted meaning.
type RoomKeyExchange struct {
	RoomName         string `json:"roomName"`
	EncryptedRoomKey string `json:"encryptedRoomKey"`
	ExchangeID       string `json:"keyId"`
}

// KeyStats summarizes the manager's in-memory key material.
type KeyStats struct {
	ActiveUserKeys   int `json:"activeUserKeys"`
	ActiveRoomKeys   int `json:"activeRoomKeys"`
	TotalKeysManaged int `json:"totalKeysManaged"`
}

// KeyManager issues per-connection RSA keypairs and per-room symmetric
// keys. All state is in memory; nothing here is ever persisted.
type KeyManager struct {
	mu       sync.RWMutex
	userKeys map[string]*UserKeyPair
	roomKeys map[string][]byte
}

func NewKeyManager() *KeyManager {
	return &KeyManager{
		userKeys: make(map[string]*UserKeyPair),
		roomKeys: make(map[string][]byte),
	}
}

// IssueUserKeys generates a fresh keypair for a connection, replacing any
// previous one.
func (m *KeyManager) IssueUserKeys(socketID string) (*UserKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode private key: %w", err)
	}

	pair := &UserKeyPair{
		PublicKey:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
		key:        key,
	}

	m.mu.Lock()
	m.userKeys[socketID] = pair
	m.mu.Unlock()
	return pair, nil
}

// UserKeys returns the keypair issued to a connection.
func (m *KeyManager) UserKeys(socketID string) (*UserKeyPair, error) {
	m.mu.RLock()
	pair, ok := m.userKeys[socketID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	return pair, nil
}

// Revoke discards a connection's keypair. Subsequent lookups fail with
// ErrKeyNotFound.
func (m *KeyManager) Revoke(socketID string) {
	m.mu.Lock()
	delete(m.userKeys, socketID)
	m.mu.Unlock()
}

// RoomKey returns the room's symmetric key, generating one on first
// reference.
func (m *KeyManager) RoomKey(roomName string) ([]byte, error) {
	m.mu.RLock()
	key, ok := m.roomKeys[roomName]
	m.mu.RUnlock()
	if ok {
		return key, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.roomKeys[roomName]; ok {
		return key, nil
	}
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate room key: %w", err)
	}
	m.roomKeys[roomName] = key
	return key, nil
}

// RoomKeyExchange encrypts the room key under a user's public key for
// delivery during join or room switch.
func (m *KeyManager) RoomKeyExchange(roomName, userPublicKey string) (*RoomKeyExchange, error) {
	roomKey, err := m.RoomKey(roomName)
	if err != nil {
		return nil, err
	}
	pub, err := parsePublicKey(userPublicKey)
	if err != nil {
		return nil, err
	}
	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, roomKey, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt room key: %w", err)
	}
	return &RoomKeyExchange{
		RoomName:         roomName,
		EncryptedRoomKey: base64.StdEncoding.EncodeToString(encrypted),
		ExchangeID:       uuid.NewString(),
	}, nil
}

// DecryptRoomKey recovers a room key from an exchange payload with the
// user's private key. Exists for clients and tests; the server never
// calls it on its own behalf.
func DecryptRoomKey(encryptedRoomKey, privateKeyPEM string) ([]byte, error) {
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(encryptedRoomKey)
	if err != nil {
		return nil, fmt.Errorf("decode room key: %w", err)
	}
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, key, raw, nil)
}

// Sweep discards room keys for rooms outside the active set. Called
// periodically to bound key-cache growth.
func (m *KeyManager) Sweep(activeRooms []string) int {
	active := make(map[string]struct{}, len(activeRooms))
	for _, room := range activeRooms {
		active[room] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for room := range m.roomKeys {
		if _, ok := active[room]; !ok {
			delete(m.roomKeys, room)
			removed++
		}
	}
	return removed
}

// Stats reports how much key material is currently held.
func (m *KeyManager) Stats() KeyStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return KeyStats{
		ActiveUserKeys:   len(m.userKeys),
		ActiveRoomKeys:   len(m.roomKeys),
		TotalKeysManaged: len(m.userKeys) + len(m.roomKeys),
	}
}

func parsePublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("invalid public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return pub, nil
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("invalid private key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

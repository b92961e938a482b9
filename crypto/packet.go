package crypto

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cipherchat/chat_backend/models"
)

// RoomCiphertext is a message encrypted under the room's symmetric key.
type RoomCiphertext struct {
	Encrypted string `json:"encrypted"`
	Nonce     string `json:"iv"`
	AuthTag   string `json:"authTag"`
}

// EncryptedPacket is the client-facing end-to-end message form: the room
// ciphertext plus an integrity hash signed by the sender. The reference
// client treats the plaintext broadcast as authoritative and uses this
// packet for verification only, but its shape is part of the wire
// contract.
type EncryptedPacket struct {
	Encrypted       RoomCiphertext `json:"encrypted"`
	Signature       string         `json:"signature"`
	SenderPublicKey string         `json:"senderPublicKey"`
	MessageHash     string         `json:"messageHash"`
}

// CreateEncryptedMessage encrypts a message under its room key and signs
// the message hash with the sender's private key.
func (m *KeyManager) CreateEncryptedMessage(msg models.ChatMessage, roomName, senderSocketID string) (*EncryptedPacket, error) {
	sender, err := m.UserKeys(senderSocketID)
	if err != nil {
		return nil, err
	}

	hash, err := messageHash(msg)
	if err != nil {
		return nil, err
	}

	encrypted, err := m.encryptForRoom(msg, roomName)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256([]byte(hash))
	signature, err := rsa.SignPKCS1v15(rand.Reader, sender.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	return &EncryptedPacket{
		Encrypted:       *encrypted,
		Signature:       hex.EncodeToString(signature),
		SenderPublicKey: sender.PublicKey,
		MessageHash:     hash,
	}, nil
}

// VerifyAndDecryptMessage checks the packet's signature and integrity
// hash, then decrypts the room ciphertext.
func (m *KeyManager) VerifyAndDecryptMessage(packet *EncryptedPacket, roomName string) (models.ChatMessage, error) {
	var msg models.ChatMessage

	pub, err := parsePublicKey(packet.SenderPublicKey)
	if err != nil {
		return msg, err
	}
	signature, err := hex.DecodeString(packet.Signature)
	if err != nil {
		return msg, fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256([]byte(packet.MessageHash))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return msg, fmt.Errorf("invalid message signature: %w", err)
	}

	msg, err = m.decryptForRoom(packet.Encrypted, roomName)
	if err != nil {
		return msg, err
	}

	hash, err := messageHash(msg)
	if err != nil {
		return msg, err
	}
	if hash != packet.MessageHash {
		return models.ChatMessage{}, fmt.Errorf("message integrity check failed")
	}
	return msg, nil
}

func (m *KeyManager) encryptForRoom(msg models.ChatMessage, roomName string) (*RoomCiphertext, error) {
	key, err := m.RoomKey(roomName)
	if err != nil {
		return nil, err
	}
	aead, err := roomAEAD(key)
	if err != nil {
		return nil, err
	}

	plain, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, plain, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return &RoomCiphertext{
		Encrypted: hex.EncodeToString(ciphertext),
		Nonce:     hex.EncodeToString(nonce),
		AuthTag:   hex.EncodeToString(tag),
	}, nil
}

func (m *KeyManager) decryptForRoom(ct RoomCiphertext, roomName string) (models.ChatMessage, error) {
	var msg models.ChatMessage

	key, err := m.RoomKey(roomName)
	if err != nil {
		return msg, err
	}
	aead, err := roomAEAD(key)
	if err != nil {
		return msg, err
	}

	ciphertext, err := hex.DecodeString(ct.Encrypted)
	if err != nil {
		return msg, fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := hex.DecodeString(ct.Nonce)
	if err != nil {
		return msg, fmt.Errorf("decode nonce: %w", err)
	}
	tag, err := hex.DecodeString(ct.AuthTag)
	if err != nil {
		return msg, fmt.Errorf("decode auth tag: %w", err)
	}

	plain, err := aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return msg, fmt.Errorf("decrypt room message: %w", err)
	}
	if err := json.Unmarshal(plain, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}

func roomAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func messageHash(msg models.ChatMessage) (string, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

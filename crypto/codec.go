// Package crypto implements the two encryption layers of the chat
// service: the at-rest codec that seals every stored message under a
// process-wide key, and the key manager backing the client-facing
// key-exchange layer.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"io"

	"github.com/andybalholm/brotli"
	"golang.org/x/crypto/scrypt"

	"github.com/cipherchat/chat_backend/models"
)

const (
	nonceSize = 12
	tagSize   = 16

	// Associated data bound to every sealed blob.
	aadContext = "chat-message"

	// Payloads below this size also try the substitution-preprocessed
	// variant; the smaller compressed form wins.
	smallMessageLimit = 1000
)

// Format tag prepended to the plaintext before compression. Stored
// explicitly so Open never has to sniff content to decide whether the
// substitution table was applied.
const (
	formatRaw         byte = 0x00
	formatSubstituted byte = 0x01
)

// substitutions maps common JSON field prefixes and English words to
// single control bytes. encoding/json escapes control characters inside
// strings, so these sentinels can never occur in canonical bytes and the
// mapping is always reversible. Word tokens run before the space token so
// their trailing spaces are still intact when matched.
var substitutions = []struct {
	token    []byte
	sentinel byte
}{
	{[]byte(`"message":"`), 0x01},
	{[]byte(`"username":"`), 0x02},
	{[]byte(`"timestamp":"`), 0x03},
	{[]byte(`"type":"`), 0x04},
	{[]byte(`"room":"`), 0x05},
	{[]byte(`"id":"`), 0x06},
	{[]byte("the "), 0x07},
	{[]byte("and "), 0x08},
	{[]byte("you "), 0x09},
	{[]byte("that "), 0x0a},
	{[]byte("this "), 0x0b},
	{[]byte(" "), 0x0c},
}

// Sealed is the result of running one message through the pipeline.
type Sealed struct {
	Blob           []byte
	OriginalSize   int
	CompressedSize int
}

// Codec performs the serialize-compress-encrypt transform for stored
// messages and its inverse. Safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec from a 32-byte AES-256 key.
func NewCodec(key []byte) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, codecErr("init", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, codecErr("init", err)
	}
	return &Codec{aead: aead}, nil
}

// DeriveKey stretches a shared secret into a 32-byte key with scrypt,
// using the same parameters the service has always used for its default
// at-rest key.
func DeriveKey(secret string) ([]byte, error) {
	return scrypt.Key([]byte(secret), []byte("salt"), 16384, 8, 1, 32)
}

// Seal serializes, compresses and encrypts a message record. The blob
// layout is nonce ‖ auth tag ‖ ciphertext with fixed-width prefixes.
func (c *Codec) Seal(msg models.ChatMessage) (*Sealed, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, codecErr("seal", err)
	}

	plain := append([]byte{formatRaw}, raw...)
	compressed, err := compress(plain)
	if err != nil {
		return nil, codecErr("seal", err)
	}

	// Small chat messages often compress better after token
	// substitution; keep whichever variant is smaller.
	if len(raw) < smallMessageLimit {
		substituted := append([]byte{formatSubstituted}, substitute(raw)...)
		alt, err := compress(substituted)
		if err != nil {
			return nil, codecErr("seal", err)
		}
		if len(alt) < len(compressed) {
			compressed = alt
		}
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, codecErr("seal", err)
	}
	sealed := c.aead.Seal(nil, nonce, compressed, []byte(aadContext))

	// cipher.AEAD appends the tag; the blob carries it up front.
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, nonceSize+tagSize+len(ciphertext))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)

	return &Sealed{
		Blob:           blob,
		OriginalSize:   len(raw),
		CompressedSize: len(compressed),
	}, nil
}

// Open authenticates, decrypts and decodes a blob produced by Seal.
func (c *Codec) Open(blob []byte) (models.ChatMessage, error) {
	var msg models.ChatMessage

	if len(blob) < nonceSize+tagSize {
		return msg, codecErrf("open", "blob too short: %d bytes", len(blob))
	}
	nonce := blob[:nonceSize]
	tag := blob[nonceSize : nonceSize+tagSize]
	ciphertext := blob[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	compressed, err := c.aead.Open(nil, nonce, sealed, []byte(aadContext))
	if err != nil {
		return msg, codecErr("open", err)
	}

	plain, err := decompress(compressed)
	if err != nil {
		return msg, codecErr("open", err)
	}
	if len(plain) == 0 {
		return msg, codecErrf("open", "empty plaintext")
	}

	body := plain[1:]
	switch plain[0] {
	case formatRaw:
	case formatSubstituted:
		body = unsubstitute(body)
	default:
		return msg, codecErrf("open", "unknown format tag 0x%02x", plain[0])
	}

	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, codecErr("open", err)
	}
	return msg, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{
		Quality: brotli.BestCompression,
		LGWin:   24,
	})
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}

func substitute(data []byte) []byte {
	out := data
	for _, s := range substitutions {
		out = bytes.ReplaceAll(out, s.token, []byte{s.sentinel})
	}
	return out
}

func unsubstitute(data []byte) []byte {
	out := data
	for i := len(substitutions) - 1; i >= 0; i-- {
		s := substitutions[i]
		out = bytes.ReplaceAll(out, []byte{s.sentinel}, s.token)
	}
	return out
}

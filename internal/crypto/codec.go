// Package crypto implements at-rest encryption for message content.
//
// Payloads are sealed with AES-256-GCM under a server-held key. The stored form is a
// JSON envelope of hex strings {iv, content, tag}.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize = 32
	keyInfo = "gema-chat/message-content/v1"
)

var (
	// ErrKeyUnavailable is returned by Encrypt and Decrypt when no key is configured.
	ErrKeyUnavailable = errors.New("crypto: encryption key not configured")
	// ErrMalformedEnvelope is returned when stored ciphertext cannot be parsed.
	ErrMalformedEnvelope = errors.New("crypto: malformed envelope")
	// ErrAuthentication is returned when the tag does not verify.
	ErrAuthentication = errors.New("crypto: message authentication failed")
)

// Envelope is the persisted representation of an encrypted payload.
type Envelope struct {
	IV      string `json:"iv"`
	Content string `json:"content"`
	Tag     string `json:"tag"`
}

// Codec encrypts and decrypts message payloads. A zero Codec has no key and fails
// every operation with ErrKeyUnavailable.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec from the configured secret. A 64 character hex secret is
// used as the raw key; any other non-empty secret is stretched with HKDF-SHA256.
// An empty secret yields a disabled codec.
func NewCodec(secret string) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Codec{}, nil
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: init cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: init gcm: %w", err)
	}

	return &Codec{aead: aead}, nil
}

func deriveKey(secret string) ([]byte, error) {
	if raw, err := hex.DecodeString(secret); err == nil && len(raw) == keySize {
		return raw, nil
	}

	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return key, nil
}

// Enabled reports whether the codec holds a key.
func (c *Codec) Enabled() bool {
	return c != nil && c.aead != nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Codec) Encrypt(plaintext []byte) (Envelope, error) {
	if !c.Enabled() {
		return Envelope{}, ErrKeyUnavailable
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("crypto: read nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - c.aead.Overhead()

	return Envelope{
		IV:      hex.EncodeToString(nonce),
		Content: hex.EncodeToString(sealed[:split]),
		Tag:     hex.EncodeToString(sealed[split:]),
	}, nil
}

// Decrypt verifies and opens an envelope.
func (c *Codec) Decrypt(envelope Envelope) ([]byte, error) {
	if !c.Enabled() {
		return nil, ErrKeyUnavailable
	}

	nonce, err := hex.DecodeString(envelope.IV)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad iv", ErrMalformedEnvelope)
	}
	ciphertext, err := hex.DecodeString(envelope.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: bad content", ErrMalformedEnvelope)
	}
	tag, err := hex.DecodeString(envelope.Tag)
	if err != nil || len(tag) != c.aead.Overhead() {
		return nil, fmt.Errorf("%w: bad tag", ErrMalformedEnvelope)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Seal encrypts text and returns the JSON envelope stored in the content column.
func (c *Codec) Seal(plaintext string) (string, error) {
	envelope, err := c.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("crypto: encode envelope: %w", err)
	}
	return string(payload), nil
}

// Open reverses Seal.
func (c *Codec) Open(stored string) (string, error) {
	var envelope Envelope
	if err := json.Unmarshal([]byte(stored), &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	plaintext, err := c.Decrypt(envelope)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

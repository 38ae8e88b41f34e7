// Package codec seals JSON values into transportable tokens with AES-256-GCM.
//
// A token is base64(nonce || tag || ciphertext) with a 12-byte nonce and a
// 16-byte tag. The key is the SHA-256 digest of a caller supplied secret.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	NonceSize = 12
	TagSize   = 16
)

var (
	// ErrDecode means the token could not be turned back into a value:
	// wrong key, truncated or tampered token, or a payload that is not JSON.
	ErrDecode      = errors.New("codec: unable to decode token")
	ErrEmptySecret = errors.New("codec: secret must not be empty")
)

type Codec struct {
	aead cipher.AEAD
}

func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("codec: create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("codec: create gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt marshals v to JSON and seals it under a fresh random nonce.
func (c *Codec) Encrypt(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("codec: marshal: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("codec: read nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext; the token carries it in front.
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	body, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, NonceSize+TagSize+len(body))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, body...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens token and unmarshals the plaintext into v. Every failure
// wraps ErrDecode.
func (c *Codec) Decrypt(token string, v any) error {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	if len(raw) < NonceSize+TagSize {
		return fmt.Errorf("%w: token too short (%d bytes)", ErrDecode, len(raw))
	}

	nonce := raw[:NonceSize]
	tag := raw[NonceSize : NonceSize+TagSize]
	body := raw[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(body)+TagSize)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: json: %v", ErrDecode, err)
	}
	return nil
}

// GenerateSecret returns 32 random bytes, hex encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("codec: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

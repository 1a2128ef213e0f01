// Package secrets encrypts payout payment details at rest with
// nacl/secretbox. The nonce is prepended to the sealed box and the whole
// envelope is base64-encoded for storage in a text column.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// Errors returned by the codec.
var (
	ErrInvalidKey        = errors.New("encryption key must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Codec implements payout.Encryptor over a fixed symmetric key.
type Codec struct {
	key [keySize]byte
}

// NewCodec builds a Codec from a raw 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(key))
	}
	codec := &Codec{}
	copy(codec.key[:], key)
	return codec, nil
}

// NewCodecFromBase64 builds a Codec from a base64-encoded 32-byte key.
func NewCodecFromBase64(encoded string) (*Codec, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewCodec(key)
}

// Encrypt seals the plaintext under a fresh random nonce.
func (codec *Codec) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &codec.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (codec *Codec) Decrypt(ciphertext string) (string, error) {
	envelope, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(envelope) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], envelope[:nonceSize])
	plaintext, ok := secretbox.Open(nil, envelope[nonceSize:], &nonce, &codec.key)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}

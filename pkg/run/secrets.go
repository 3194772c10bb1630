package run

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// SecretCipher decrypts project-scoped secret variables (§4.1:
// ResolveProjectVariables decrypts secret variables using a project-scoped
// key). Key management itself is an assumed precondition; this only
// performs the decrypt given an already-provisioned key.
type SecretCipher struct {
	aead interface {
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewSecretCipher builds a cipher from a hex-encoded 32-byte key.
func NewSecretCipher(keyHex string) (*SecretCipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding secrets key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("constructing AEAD: %w", err)
	}
	return &SecretCipher{aead: aead}, nil
}

// Decrypt opens a ciphertext sealed with the project-scoped key. nonce is
// stored alongside the ciphertext at write time (chacha20poly1305.NonceSize bytes).
func (c *SecretCipher) Decrypt(nonce, ciphertext []byte) (string, error) {
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting secret: %w", err)
	}
	return string(plain), nil
}

package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

// Vault encrypts channel credentials at rest with AES-256-GCM. Secrets
// are encrypted on write and decrypted on read at the persistence
// boundary; plaintext never lives on the model.
type Vault struct {
	aead cipher.AEAD
}

func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// NewVaultFromEnv reads a base64-encoded 32-byte key from VAULT_KEY.
func NewVaultFromEnv() (*Vault, error) {
	encoded := os.Getenv("VAULT_KEY")
	if encoded == "" {
		return nil, fmt.Errorf("VAULT_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("VAULT_KEY is not valid base64: %w", err)
	}
	return NewVault(key)
}

// Encrypt seals a plaintext secret into base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or foreign ciphertexts fail.
func (v *Vault) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not valid base64: %w", err)
	}
	ns := v.aead.NonceSize()
	if len(sealed) < ns {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := v.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

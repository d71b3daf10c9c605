package services

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	v, err := NewVault(key)
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	return v
}

func TestVaultRoundTrip(t *testing.T) {
	v := testVault(t)

	ciphertext, err := v.Encrypt("consumer-secret-value")
	assert.NoError(t, err)
	assert.NotEqual(t, "consumer-secret-value", ciphertext)

	plaintext, err := v.Decrypt(ciphertext)
	assert.NoError(t, err)
	assert.Equal(t, "consumer-secret-value", plaintext)
}

func TestVaultNonceUniqueness(t *testing.T) {
	v := testVault(t)

	c1, err := v.Encrypt("same input")
	assert.NoError(t, err)
	c2, err := v.Encrypt("same input")
	assert.NoError(t, err)

	// Random nonces mean identical plaintexts never share ciphertext.
	assert.NotEqual(t, c1, c2)
}

func TestVaultRejectsTamperedCiphertext(t *testing.T) {
	v := testVault(t)

	ciphertext, err := v.Encrypt("secret")
	assert.NoError(t, err)

	tampered := "A" + ciphertext[1:]
	if tampered == ciphertext {
		tampered = "B" + ciphertext[1:]
	}
	_, err = v.Decrypt(tampered)
	assert.Error(t, err)
}

func TestVaultRejectsForeignKey(t *testing.T) {
	v := testVault(t)
	other, err := NewVault(bytes.Repeat([]byte{0x7}, 32))
	assert.NoError(t, err)

	ciphertext, err := v.Encrypt("secret")
	assert.NoError(t, err)

	_, err = other.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestVaultRejectsShortKey(t *testing.T) {
	_, err := NewVault([]byte("too short"))
	assert.Error(t, err)
}

func TestVaultRejectsGarbage(t *testing.T) {
	v := testVault(t)

	_, err := v.Decrypt("not base64 at all!!!")
	assert.Error(t, err)

	_, err = v.Decrypt("QQ==") // valid base64, shorter than a nonce
	assert.Error(t, err)
}

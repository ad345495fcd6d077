// Package vault provides symmetric authenticated encryption for secrets at
// rest. A Vault is created once at process start from the deployment master
// secret and shared immutably between components; key material is never
// re-derived per call.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

const (
	keyLength   = 32 // AES-256
	nonceLength = 12 // 96-bit GCM nonce, prepended to the ciphertext
)

// Vault encrypts and decrypts secrets with AES-256-GCM.
// Stored blobs have the layout nonce(12 bytes) || ciphertext.
type Vault struct {
	aead  cipher.AEAD
	keyID string
}

// New builds a Vault from the deployment master secret. A 64-character hex
// string is used directly as the 256-bit key; anything else is expanded once
// through HKDF-SHA256 so operators can supply a passphrase-style secret.
func New(masterSecret, keyID string) (*Vault, error) {
	if masterSecret == "" {
		return nil, errors.New("[vault.New] master secret is required")
	}
	if keyID == "" {
		keyID = "default"
	}

	key, err := deriveKey(masterSecret, keyID)
	if err != nil {
		return nil, errors.Wrap(err, "[vault.New] deriveKey")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "[vault.New] aes.NewCipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "[vault.New] cipher.NewGCM")
	}

	return &Vault{aead: aead, keyID: keyID}, nil
}

func deriveKey(masterSecret, keyID string) ([]byte, error) {
	if len(masterSecret) == hex.EncodedLen(keyLength) {
		if key, err := hex.DecodeString(masterSecret); err == nil {
			return key, nil
		}
	}

	key := make([]byte, keyLength)
	kdf := hkdf.New(sha256.New, []byte(masterSecret), []byte("identity-broker-vault"), []byte(keyID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "hkdf read")
	}
	return key, nil
}

// Encrypt seals plaintext under a fresh random nonce. Two encryptions of the
// same plaintext yield different blobs.
func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "[Vault.Encrypt] rand.Read")
	}

	blob := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return blob, nil
}

// Decrypt opens a blob produced by Encrypt. Truncated input, tampered
// ciphertext, or a wrong key all fail with ErrCrypto.
func (v *Vault) Decrypt(blob []byte) (string, error) {
	if len(blob) < nonceLength {
		return "", errors.Wrap(brokererrors.ErrCrypto, "[Vault.Decrypt] blob shorter than nonce")
	}

	nonce, ciphertext := blob[:nonceLength], blob[nonceLength:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(brokererrors.ErrCrypto, "[Vault.Decrypt] aead.Open")
	}
	return string(plaintext), nil
}

// KeyID identifies the key used to seal blobs, stored alongside encrypted
// columns so records survive key rotation.
func (v *Vault) KeyID() string {
	return v.keyID
}

// Package crypto provides AES-256-GCM encryption for tenant credential
// material held at rest. Each encryption uses a fresh random nonce, so
// identical plaintexts never produce identical ciphertexts.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"golang.org/x/crypto/pbkdf2"

	apperrors "cae-dispatcher/internal/common/errors"
)

// static salt keeps key derivation deterministic across restarts
var keySalt = []byte("cae-dispatcher-credential-salt")

// Encryptor seals and opens credential blobs with AES-256-GCM. The key is
// derived from the configured passphrase with PBKDF2, so any non-empty
// passphrase yields a proper 32-byte key. Safe for concurrent use.
type Encryptor struct {
	key []byte
}

// NewEncryptor derives the AES key from the passphrase.
func NewEncryptor(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, apperrors.ValidationError("encryption passphrase cannot be empty")
	}
	return &Encryptor{
		key: pbkdf2.Key([]byte(passphrase), keySalt, 10000, 32, sha256.New),
	}, nil
}

// Seal encrypts plaintext and returns nonce+ciphertext base64-encoded.
func (e *Encryptor) Seal(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperrors.InternalError("failed to generate nonce", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts and authenticates output of Seal. Tampered or wrong-key
// ciphertexts fail the GCM tag check.
func (e *Encryptor) Open(ciphertext string) ([]byte, error) {
	if ciphertext == "" {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, apperrors.ValidationError("malformed ciphertext encoding")
	}

	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	if len(data) < gcm.NonceSize() {
		return nil, apperrors.ValidationError("ciphertext too short")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperrors.InternalError("failed to decrypt credential material", err)
	}
	return plaintext, nil
}

// SealJSON marshals v and encrypts the JSON.
func (e *Encryptor) SealJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", apperrors.InternalError("failed to marshal credential payload", err)
	}
	return e.Seal(raw)
}

// OpenJSON decrypts and unmarshals into v.
func (e *Encryptor) OpenJSON(ciphertext string, v interface{}) error {
	raw, err := e.Open(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.InternalError("failed to unmarshal credential payload", err)
	}
	return nil
}

func (e *Encryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, apperrors.InternalError("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.InternalError("failed to create GCM", err)
	}
	return gcm, nil
}

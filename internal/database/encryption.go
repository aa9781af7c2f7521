package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"carelay/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

// encryptedPrefix marks sealed values so plaintext rows written before
// encryption was enabled still read back.
const encryptedPrefix = "enc:v1:"

type encryptor struct {
	gcm cipher.AEAD
}

// newEncryptor returns a pass-through encryptor when secret is empty.
func newEncryptor(secret string) (*encryptor, error) {
	if secret == "" {
		return &encryptor{}, nil
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("encryption secret must be at least 32 characters long")
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt),
		constants.EncryptionIterations, constants.EncryptionKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) enabled() bool {
	return e.gcm != nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if !e.enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, constants.EncryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

func (e *encryptor) Decrypt(stored string) (string, error) {
	if len(stored) < len(encryptedPrefix) || stored[:len(encryptedPrefix)] != encryptedPrefix {
		return stored, nil
	}
	if !e.enabled() {
		return "", fmt.Errorf("value is encrypted but no encryption secret is configured")
	}

	data, err := base64.StdEncoding.DecodeString(stored[len(encryptedPrefix):])
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < constants.EncryptionNonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, body := data[:constants.EncryptionNonceSize], data[constants.EncryptionNonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

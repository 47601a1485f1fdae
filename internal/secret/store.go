// Package secret manages the symmetric key used to protect SMTP
// credentials at rest.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 16 // 128-bit IV, random per encryption
)

// ErrIntegrity indicates that a value could not be decrypted: wrong
// key, corrupted ciphertext or a tampered IV. The stored configuration
// must be treated as unusable until the credential is re-saved.
var ErrIntegrity = errors.New("secret: integrity check failed")

// Store encrypts and decrypts credential values with a key kept on
// disk. The key file is created on first use with owner-only
// permissions; there is no recovery path for a lost key other than
// re-entering the credential.
type Store struct {
	aead cipher.AEAD
}

// Open loads the key file at path, generating it if it does not exist.
func Open(path string) (*Store, error) {
	key, err := loadOrCreateKey(path)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &Store{aead: aead}, nil
}

// Encrypt encrypts plaintext and returns base64 ciphertext and IV.
// The IV is random per call and never reused.
func (s *Store) Encrypt(plaintext string) (ciphertext, iv string, err error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonce),
		nil
}

// Decrypt reverses Encrypt. Any authentication or decoding failure is
// reported as ErrIntegrity.
func (s *Store) Decrypt(ciphertext, iv string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: bad IV length %d", ErrIntegrity, len(nonce))
	}

	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

// loadOrCreateKey reads the hex-encoded key file, generating a new
// random key with 0600 permissions when the file does not exist.
func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, decErr := hex.DecodeString(string(data))
		if decErr != nil || len(key) != keySize {
			return nil, fmt.Errorf("invalid key file %s", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create key file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}

	return key, nil
}

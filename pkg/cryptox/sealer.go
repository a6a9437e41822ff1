package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ErrSealedTooShort is returned when sealed input cannot hold a nonce.
var ErrSealedTooShort = errors.New("cryptox: sealed data too short")

// sealerInfo binds derived keys to this use so the same master material can
// safely key other subsystems.
const sealerInfo = "graphauth credential sealer v1"

// AESGCMSealer seals secrets with AES-256-GCM.
// The output format is: [12-byte nonce][ciphertext][16-byte auth tag]
type AESGCMSealer struct {
	aead cipher.AEAD
}

// NewAESGCMSealer derives an AES-256 key from masterKey with HKDF-SHA256.
// masterKey may be any length but should carry at least 256 bits of entropy.
func NewAESGCMSealer(masterKey []byte) (*AESGCMSealer, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("cryptox: empty master key")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(sealerInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESGCMSealer{aead: gcm}, nil
}

// NewAESGCMSealerFromFile reads master key material from path. Surrounding
// whitespace is ignored so keys written with a trailing newline still work.
func NewAESGCMSealerFromFile(path string) (*AESGCMSealer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read master key file: %w", err)
	}
	return NewAESGCMSealer([]byte(strings.TrimSpace(string(data))))
}

// Seal encrypts and authenticates plaintext with a random nonce.
func (s *AESGCMSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (s *AESGCMSealer) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrSealedTooShort
	}

	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

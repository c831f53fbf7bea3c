package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"dbhub/internal/core"
)

// EncryptionService encrypts stored database passwords with AES-256-GCM.
// The ciphertext envelope is base64(nonce || sealed); a key-version prefix
// can be added in front of the base64 text later without breaking decode.
type EncryptionService struct {
	key []byte
}

// NewEncryptionService builds the service from the configured key string,
// which must be at least 32 characters. Only the first 32 bytes are used.
func NewEncryptionService(keyStr string) (*EncryptionService, error) {
	if len(keyStr) < 32 {
		return nil, errors.New("encryption key must be at least 32 characters")
	}
	return &EncryptionService{key: []byte(keyStr)[:32]}, nil
}

// Encrypt seals plaintext with a random nonce and returns the base64 envelope.
func (s *EncryptionService) Encrypt(plaintext string) (string, error) {
	aesGCM, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := aesGCM.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens a base64 envelope. Malformed ciphertext or a mismatched key
// both surface as core.ErrDecryption.
func (s *EncryptionService) Decrypt(cryptoText string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(cryptoText)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrDecryption, err)
	}

	aesGCM, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", core.ErrDecryption)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrDecryption, err)
	}

	return string(plaintext), nil
}

func (s *EncryptionService) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

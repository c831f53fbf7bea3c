package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"dbhub/internal/core"
)

var ErrInvalidAPIKey = errors.New("invalid api key")

// AuthService manages users and the API keys that identify callers of the
// HTTP API. Keys are stored sha256-hashed; only the 8-char prefix is kept
// readable for display.
type AuthService struct {
	userRepo   core.UserRepository
	apiKeyRepo core.APIKeyRepository
}

func NewAuthService(userRepo core.UserRepository, apiKeyRepo core.APIKeyRepository) *AuthService {
	return &AuthService{userRepo: userRepo, apiKeyRepo: apiKeyRepo}
}

// CreateUser creates a user with a bcrypt-hashed password.
func (s *AuthService) CreateUser(username, password string) (*core.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return s.userRepo.Create(username, string(hashed))
}

// GenerateAPIKey mints a random key for the user and returns the plaintext
// once; only the hash is persisted.
func (s *AuthService) GenerateAPIKey(userID int64, description string) (string, *core.APIKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	key := hex.EncodeToString(raw)

	apiKey := &core.APIKey{
		UserID:      userID,
		KeyPrefix:   key[:8],
		KeyHash:     hashKey(key),
		Description: description,
	}
	if err := s.apiKeyRepo.Create(apiKey); err != nil {
		return "", nil, err
	}
	return key, apiKey, nil
}

// VerifyAPIKey resolves a plaintext key to its record, updating last-used.
func (s *AuthService) VerifyAPIKey(plainKey string) (*core.APIKey, error) {
	apiKey, err := s.apiKeyRepo.GetByHash(hashKey(plainKey))
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, ErrInvalidAPIKey
	}

	// Best effort; a failed timestamp update must not block auth.
	_ = s.apiKeyRepo.UpdateLastUsed(apiKey.ID)

	return apiKey, nil
}

// ResetPassword replaces a user's password by username.
func (s *AuthService) ResetPassword(username, newPassword string) error {
	user, err := s.userRepo.GetByUsername(username)
	if err != nil {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.userRepo.UpdatePassword(user.ID, string(hashed))
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

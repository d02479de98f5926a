// Package auth provides API key generation, hashing and validation for the
// scancache API server. Keys are never stored in clear text: the
// configuration holds bcrypt hashes and the KeyRing checks presented keys
// against them.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// API key generation and validation constants
const (
	// APIKeyLength is the length of the random part of an API key
	APIKeyLength = 32
	// APIKeyPrefix is the standard prefix for all API keys
	APIKeyPrefix = "sc"
	// DisplayPrefixLength is the length of prefix shown in logs (e.g., "sc_abc...")
	DisplayPrefixLength = 12

	// BcryptCost is the bcrypt cost for hashing API keys
	BcryptCost = 12
	// BcryptMaxInputLength is the maximum input length for bcrypt (72 bytes)
	BcryptMaxInputLength = 72

	// MinAPIKeyNameLength is the minimum length for API key names
	MinAPIKeyNameLength = 1
	// MaxAPIKeyNameLength is the maximum length for API key names
	MaxAPIKeyNameLength = 255
)

// APIKeyInfo contains metadata about an API key
type APIKeyInfo struct {
	Name      string    `json:"name" yaml:"name"`
	KeyPrefix string    `json:"key_prefix" yaml:"-"`
	ReadOnly  bool      `json:"read_only" yaml:"read_only"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// GeneratedAPIKey contains a newly generated API key, its bcrypt hash and
// metadata. Key is only available at generation time.
type GeneratedAPIKey struct {
	Key     string     `json:"key"`
	Hash    string     `json:"hash"`
	KeyInfo APIKeyInfo `json:"key_info"`
}

// GenerateAPIKey creates a new API key with the specified name
func GenerateAPIKey(name string, readOnly bool) (*GeneratedAPIKey, error) {
	if err := validateKeyName(name); err != nil {
		return nil, fmt.Errorf("invalid key name: %w", err)
	}

	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	// base32 avoids ambiguous characters; padding is cut off with the excess
	randomPart := strings.ToLower(base32.StdEncoding.EncodeToString(randomBytes))
	if len(randomPart) > APIKeyLength {
		randomPart = randomPart[:APIKeyLength]
	}
	fullKey := fmt.Sprintf("%s_%s", APIKeyPrefix, randomPart)

	hash, err := HashAPIKey(fullKey)
	if err != nil {
		return nil, err
	}

	return &GeneratedAPIKey{
		Key:  fullKey,
		Hash: hash,
		KeyInfo: APIKeyInfo{
			Name:      name,
			KeyPrefix: CreateDisplayPrefix(fullKey),
			ReadOnly:  readOnly,
			CreatedAt: time.Now().UTC(),
		},
	}, nil
}

// bcryptInput maps a key onto at most 72 bytes. Longer keys are hashed with
// SHA-256 first.
func bcryptInput(apiKey string) []byte {
	keyBytes := []byte(apiKey)
	if len(keyBytes) > BcryptMaxInputLength {
		sum := sha256.Sum256(keyBytes)
		keyBytes = sum[:]
	}
	return keyBytes
}

// HashAPIKey creates a bcrypt hash of an API key for storage in the config
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// ValidateAPIKey checks if a provided API key matches the stored hash
func ValidateAPIKey(apiKey, storedHash string) bool {
	if apiKey == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), bcryptInput(apiKey)) == nil
}

// IsValidAPIKeyFormat checks if an API key has the correct format
func IsValidAPIKeyFormat(apiKey string) bool {
	if !strings.HasPrefix(apiKey, APIKeyPrefix+"_") {
		return false
	}
	if len(apiKey) < 15 || len(apiKey) > 50 {
		return false
	}
	for _, char := range apiKey {
		if (char < 'a' || char > 'z') &&
			(char < 'A' || char > 'Z') &&
			(char < '0' || char > '9') &&
			char != '_' {
			return false
		}
	}
	return true
}

// CreateDisplayPrefix creates a safe-to-display prefix from a full API key
func CreateDisplayPrefix(apiKey string) string {
	if !IsValidAPIKeyFormat(apiKey) {
		return "invalid_key"
	}

	parts := strings.SplitN(apiKey, "_", 2)
	if len(parts[1]) >= 8 {
		return fmt.Sprintf("%s_%s...", parts[0], parts[1][:8])
	}
	return fmt.Sprintf("%s_%s...", parts[0], parts[1])
}

func validateKeyName(name string) error {
	if name == "" {
		return fmt.Errorf("key name cannot be empty")
	}
	if len(name) < MinAPIKeyNameLength {
		return fmt.Errorf("key name must be at least %d characters", MinAPIKeyNameLength)
	}
	if len(name) > MaxAPIKeyNameLength {
		return fmt.Errorf("key name must be at most %d characters", MaxAPIKeyNameLength)
	}

	for _, char := range name {
		// ASCII and C1 controls, bidi overrides and directional isolates
		if char < 32 || char == 127 ||
			(char >= 0x0080 && char <= 0x009F) ||
			(char >= 0x202A && char <= 0x202E) ||
			(char >= 0x2066 && char <= 0x2069) {
			return fmt.Errorf("key name contains invalid characters")
		}
	}
	return nil
}

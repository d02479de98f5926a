package auth

import (
	"crypto/sha256"
	"sync"
)

// Key is one accepted API key as configured.
type Key struct {
	Name     string
	Hash     string
	ReadOnly bool
}

// KeyRing authenticates presented API keys against a fixed set of bcrypt
// hashes. Successful matches are remembered by SHA-256 digest so a client
// pays the bcrypt cost once per process.
type KeyRing struct {
	keys []Key

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]int
}

// NewKeyRing builds a key ring. An empty ring authenticates nothing.
func NewKeyRing(keys []Key) *KeyRing {
	return &KeyRing{
		keys:     append([]Key(nil), keys...),
		verified: make(map[[sha256.Size]byte]int),
	}
}

// Len returns the number of configured keys.
func (r *KeyRing) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Authenticate returns the configured key matching apiKey.
func (r *KeyRing) Authenticate(apiKey string) (Key, bool) {
	if r == nil || apiKey == "" {
		return Key{}, false
	}

	digest := sha256.Sum256([]byte(apiKey))
	r.mu.RLock()
	idx, ok := r.verified[digest]
	r.mu.RUnlock()
	if ok {
		return r.keys[idx], true
	}

	for i, k := range r.keys {
		if ValidateAPIKey(apiKey, k.Hash) {
			r.mu.Lock()
			r.verified[digest] = i
			r.mu.Unlock()
			return k, true
		}
	}
	return Key{}, false
}

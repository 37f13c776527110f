package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultRevocationTTL bounds entries for tokens that carry no exp claim.
const defaultRevocationTTL = 24 * time.Hour

// RevocationStore remembers tokens ended by logout until they would have
// expired on their own. Tokens are identified by their jti claim, or by a
// hash of the raw token when they have none.
type RevocationStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time // token id -> natural expiry
	now     func() time.Time
}

func NewRevocationStore() *RevocationStore {
	return &RevocationStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// TokenID returns the identity under which a token is revoked.
func TokenID(jti, raw string) string {
	if jti != "" {
		return "jti:" + jti
	}
	sum := sha256.Sum256([]byte(raw))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Revoke marks id as revoked until expiresAt.
func (s *RevocationStore) Revoke(id string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = expiresAt
}

// RevokeToken revokes a raw token that has already passed JWTMiddleware.
// The signature is not checked again; only jti and exp are read.
func (s *RevocationStore) RevokeToken(raw string) {
	if raw == "" {
		return
	}
	claims := &Claims{}
	expiresAt := s.now().Add(defaultRevocationTTL)
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil && claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	s.Revoke(TokenID(claims.ID, raw), expiresAt)
}

func (s *RevocationStore) IsRevoked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.entries[id]
	return ok && s.now().Before(exp)
}

func (s *RevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep drops entries whose tokens have expired and returns how many went.
func (s *RevocationStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (s *RevocationStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

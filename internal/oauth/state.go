package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/sumire/authgate/internal/domain"
)

// DefaultStateTTL bounds how long a minted authorization state stays valid.
const DefaultStateTTL = 10 * time.Minute

type stateEntry struct {
	provider  domain.AuthProvider
	expiresAt time.Time
}

// StateStore holds the anti-forgery states for in-flight authorization
// redirects. States are single-use: Consume atomically removes the entry, so
// two callbacks racing on the same state see exactly one success.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	ttl     time.Duration

	now func() time.Time
}

// NewStateStore creates a store whose states expire after ttl.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{
		entries: make(map[string]stateEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue mints an unpredictable state value bound to the given provider.
func (s *StateStore) Issue(provider domain.AuthProvider) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[state] = stateEntry{provider: provider, expiresAt: s.now().Add(s.ttl)}
	return state, nil
}

// Consume validates and invalidates a state in one step. Unknown, expired,
// already-consumed, or provider-mismatched states all fail identically.
func (s *StateStore) Consume(state string, provider domain.AuthProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if !ok {
		return domain.ErrInvalidState
	}
	delete(s.entries, state)

	if entry.provider != provider || s.now().After(entry.expiresAt) {
		return domain.ErrInvalidState
	}
	return nil
}

// sweepLocked drops expired entries. Callers hold s.mu.
func (s *StateStore) sweepLocked() {
	now := s.now()
	for state, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, state)
		}
	}
}

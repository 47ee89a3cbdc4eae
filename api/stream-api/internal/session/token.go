package internal_session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridgeai/pkg/commons"
)

// tokenTTL is how long an issued stream token stays valid.
const tokenTTL = 5 * time.Minute

type streamToken struct {
	sessionID string
	expiresAt time.Time
}

// TokenStore issues one-time tokens for carrier-side stream handshakes.
// Validation consumes the token, so a replayed handshake fails even inside
// the expiry window.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]streamToken
	clock  func() time.Time
}

func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]streamToken),
		clock:  time.Now,
	}
}

// Issue mints a token bound to the session.
func (s *TokenStore) Issue(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := uuid.NewString()
	s.tokens[token] = streamToken{
		sessionID: sessionID,
		expiresAt: s.clock().Add(tokenTTL),
	}
	s.pruneLocked()
	return token
}

// Validate consumes the token and returns the session it was issued for.
// Unknown, already-used, and expired tokens all fail the same way.
func (s *TokenStore) Validate(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[token]
	if !ok {
		return "", commons.NewStreamError(commons.ErrSessionGone, "unknown or already used stream token")
	}
	delete(s.tokens, token)

	if s.clock().After(entry.expiresAt) {
		return "", commons.NewStreamError(commons.ErrSessionGone, "stream token expired")
	}
	return entry.sessionID, nil
}

// pruneLocked drops expired tokens. Caller holds s.mu.
func (s *TokenStore) pruneLocked() {
	now := s.clock()
	for token, entry := range s.tokens {
		if now.After(entry.expiresAt) {
			delete(s.tokens, token)
		}
	}
}

package federation

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// DefaultStateTTL bounds how long an issued state stays redeemable.
const DefaultStateTTL = 10 * time.Minute

// NewState returns a random URL-safe anti-forgery state.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("todo/federation: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// States remembers issued states. Each state is redeemable once, for the
// provider it was issued for, until it expires.
type States struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	pending map[string]pendingState
}

type pendingState struct {
	provider string
	expires  time.Time
}

// NewStates creates a state registry. A zero ttl means DefaultStateTTL.
func NewStates(ttl time.Duration, now func() time.Time) *States {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if now == nil {
		now = time.Now
	}
	return &States{ttl: ttl, now: now, pending: make(map[string]pendingState)}
}

// Issue creates and remembers a state for provider.
func (s *States) Issue(provider string) (string, error) {
	state, err := NewState()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, p := range s.pending {
		if !now.Before(p.expires) {
			delete(s.pending, k)
		}
	}
	s.pending[state] = pendingState{provider: provider, expires: now.Add(s.ttl)}
	return state, nil
}

// Redeem consumes state. It reports false when the state is unknown, expired,
// already used, or was issued for another provider.
func (s *States) Redeem(provider, state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[state]
	if !ok {
		return false
	}
	delete(s.pending, state)
	return p.provider == provider && s.now().Before(p.expires)
}

// Len returns the number of outstanding states.
func (s *States) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

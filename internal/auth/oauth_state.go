package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/charlesng35/todomaster/internal/cache"
	"github.com/charlesng35/todomaster/pkg/crypto"
)

const (
	oauthStateKeyPrefix = "auth:oauth_state:"
	// DefaultStateTTL bounds how long a user may sit on the consent screen.
	DefaultStateTTL = 10 * time.Minute
	stateBytes      = 32
	sessionIDBytes  = 32
)

var (
	// ErrStateMissing means no pending state exists for the session (never issued, expired or already used).
	ErrStateMissing = errors.New("oauth state: no pending state for session")
	// ErrStateMismatch means the state returned by the provider differs from the issued one.
	ErrStateMismatch = errors.New("oauth state: state mismatch")
)

// PendingState is the server-side record created when a federated login starts.
type PendingState struct {
	Provider     string    `json:"provider"`
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	PKCEVerifier string    `json:"pkce_verifier"`
	IssuedAt     time.Time `json:"issued_at"`
}

// StateStore keeps OAuth CSRF state in the shared cache, keyed by a random
// session id that the client carries in a cookie.
type StateStore struct {
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewStateStore constructs a StateStore over store.
func NewStateStore(store cache.Store, ttl time.Duration, now func() time.Time) (*StateStore, error) {
	if store == nil {
		return nil, errors.New("oauth state: cache store is required")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if now == nil {
		now = time.Now
	}
	return &StateStore{store: store, ttl: ttl, now: now}, nil
}

// TTL returns the lifetime of issued state.
func (s *StateStore) TTL() time.Duration {
	return s.ttl
}

// Issue creates a fresh state for provider and returns the session id to hand to the client.
func (s *StateStore) Issue(ctx context.Context, provider string) (string, PendingState, error) {
	state, err := crypto.GenerateHexToken(stateBytes)
	if err != nil {
		return "", PendingState{}, fmt.Errorf("oauth state: generate state: %w", err)
	}
	nonce, err := crypto.GenerateToken(16)
	if err != nil {
		return "", PendingState{}, fmt.Errorf("oauth state: generate nonce: %w", err)
	}
	sessionID, err := crypto.GenerateToken(sessionIDBytes)
	if err != nil {
		return "", PendingState{}, fmt.Errorf("oauth state: generate session id: %w", err)
	}

	pending := PendingState{
		Provider:     strings.ToLower(strings.TrimSpace(provider)),
		State:        state,
		Nonce:        nonce,
		PKCEVerifier: oauth2.GenerateVerifier(),
		IssuedAt:     s.now().UTC(),
	}

	raw, err := json.Marshal(pending)
	if err != nil {
		return "", PendingState{}, fmt.Errorf("oauth state: marshal: %w", err)
	}
	if err := s.store.Set(ctx, stateKey(sessionID), raw, s.ttl); err != nil {
		return "", PendingState{}, fmt.Errorf("oauth state: persist: %w", err)
	}

	return sessionID, pending, nil
}

// Consume removes the pending state for sessionID and compares it with received.
// The record is deleted whatever the outcome, so a state can be used only once.
// On mismatch the returned PendingState still carries the expected value.
func (s *StateStore) Consume(ctx context.Context, sessionID, received string) (PendingState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return PendingState{}, ErrStateMissing
	}

	raw, found, err := s.store.Take(ctx, stateKey(sessionID))
	if err != nil {
		return PendingState{}, fmt.Errorf("oauth state: load: %w", err)
	}
	if !found {
		return PendingState{}, ErrStateMissing
	}

	var pending PendingState
	if err := json.Unmarshal(raw, &pending); err != nil {
		return PendingState{}, fmt.Errorf("oauth state: decode: %w", err)
	}

	if s.now().After(pending.IssuedAt.Add(s.ttl)) {
		return pending, ErrStateMissing
	}

	received = strings.TrimSpace(received)
	if received == "" || pending.State == "" ||
		subtle.ConstantTimeCompare([]byte(received), []byte(pending.State)) != 1 {
		return pending, ErrStateMismatch
	}

	return pending, nil
}

func stateKey(sessionID string) string {
	return oauthStateKeyPrefix + sessionID
}

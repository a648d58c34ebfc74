package session

import (
	"context"
	"errors"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

// Sessions manages long-lived login sessions with sliding refresh.
type Sessions struct {
	*Lifecycle[Session]
	store SessionStore
}

// NewSessions wires the login session lifecycle.
func NewSessions(store SessionStore, hasher token.SecretHasher, policy Policy, now Clock) *Sessions {
	return &Sessions{
		Lifecycle: NewLifecycle[Session](store, hasher, policy, codes.SessionPair, now),
		store:     store,
	}
}

// Issued is a created session and its client token.
type Issued struct {
	Session Session
	Token   string
}

// Create starts a session for userID.
func (s *Sessions) Create(ctx context.Context, userID string) (Issued, error) {
	rec, tok, err := s.Lifecycle.Create(ctx, func(c Credentials) Session {
		return Session{ID: c.ID, UserID: userID, SecretHash: c.SecretHash, ExpiresAt: c.ExpiresAt}
	})
	if err != nil {
		return Issued{}, err
	}
	return Issued{Session: rec, Token: tok}, nil
}

// Validated is the result of validating a session token.
type Validated struct {
	// Session is the record as loaded, before any refresh.
	Session Session
	// Refreshed is true when the expiry was extended during validation.
	Refreshed bool
	// ExpiresAt is the current persisted expiry; use it for the client cookie.
	ExpiresAt time.Time
}

// Validate checks tok and applies sliding refresh. The refresh is persisted
// before Validate returns.
func (s *Sessions) Validate(ctx context.Context, tok string) (Validated, error) {
	rec, err := s.Lifecycle.Validate(ctx, tok)
	if err != nil {
		return Validated{}, err
	}

	out := Validated{Session: rec, ExpiresAt: rec.ExpiresAt}
	now := s.now()
	if s.policy.ShouldRefresh(rec.ExpiresAt, now) {
		next := s.policy.Refreshed(rec.ExpiresAt, now)
		err := s.store.UpdateExpiry(ctx, rec.ID, ExpiryUpdate{ExpiresAt: next})
		if errors.Is(err, ErrNotFound) {
			// revoked between lookup and refresh
			return Validated{}, codes.New(codes.SessionInvalid)
		}
		if err != nil {
			return Validated{}, err
		}
		out.Refreshed = true
		out.ExpiresAt = next
	}
	return out, nil
}

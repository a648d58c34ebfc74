package session

import (
	"context"
	"time"
)

// Store is the persistence contract shared by every session kind.
//
// Get returns ErrNotFound for unknown ids. Deletes are idempotent.
type Store[R Record] interface {
	Get(ctx context.Context, id string) (R, error)
	Insert(ctx context.Context, rec R) error
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) error
	// DeleteExpired removes every record with expires_at <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ExpiryUpdate is the only mutation allowed on a login session.
// Stores never move expires_at backwards.
type ExpiryUpdate struct {
	ExpiresAt time.Time
}

// VerifiedUpdate marks an ephemeral session verified and sets its new expiry.
type VerifiedUpdate struct {
	ExpiresAt time.Time
}

// SessionStore persists login sessions.
type SessionStore interface {
	Store[Session]
	UpdateExpiry(ctx context.Context, id string, up ExpiryUpdate) error
}

// EphemeralStore persists one ephemeral kind.
type EphemeralStore interface {
	Store[Ephemeral]
	// MarkVerified only touches an unverified row. It returns ErrNotFound
	// when the row is gone or already verified.
	MarkVerified(ctx context.Context, id string, up VerifiedUpdate) error
	DeleteAllForEmail(ctx context.Context, email string) error
}

// AssociationStore persists account association proposals.
type AssociationStore interface {
	Store[AccountAssociation]
}

package identity

import (
	"context"
	"time"
)

// Provider names an external OAuth identity provider.
type Provider string

const (
	ProviderDiscord Provider = "discord"
	ProviderGoogle  Provider = "google"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderDiscord, ProviderGoogle:
		return true
	default:
		return false
	}
}

// User is the local account.
type User struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          string
	// PasswordHash is nil for accounts created through an OAuth provider only.
	PasswordHash *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether the user can log in with a password.
func (u User) HasPassword() bool { return u.PasswordHash != nil && *u.PasswordHash != "" }

// ExternalIdentity links a provider account to a local user.
type ExternalIdentity struct {
	Provider       Provider
	ProviderUserID string
	UserID         string
	LinkedAt       time.Time
}

// NewExternalIdentity describes an identity to link while creating a user.
type NewExternalIdentity struct {
	Provider       Provider
	ProviderUserID string
}

// CreateUserInput describes a new user. When Identity is set, the user and the
// identity are created atomically.
type CreateUserInput struct {
	Email         string
	EmailVerified bool
	Name          string
	PasswordHash  *string
	Identity      *NewExternalIdentity
	Now           time.Time
}

// EmailUpdate is the only mutation allowed on a user's email fields.
type EmailUpdate struct {
	Email     string
	Verified  bool
	UpdatedAt time.Time
}

// PasswordUpdate is the only mutation allowed on a user's password.
type PasswordUpdate struct {
	PasswordHash string
	UpdatedAt    time.Time
}

// UserStore persists users.
type UserStore interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UpdateEmail(ctx context.Context, id string, up EmailUpdate) error
	UpdatePassword(ctx context.Context, id string, up PasswordUpdate) error
}

// IdentityStore persists external identities.
type IdentityStore interface {
	GetIdentity(ctx context.Context, provider Provider, providerUserID string) (ExternalIdentity, error)
	GetIdentityForUser(ctx context.Context, userID string, provider Provider) (ExternalIdentity, error)
	// ListIdentities returns the user's links ordered by provider. Unknown users have none.
	ListIdentities(ctx context.Context, userID string) ([]ExternalIdentity, error)
	// LinkIdentity inserts a link. An existing link on either unique key is a ConflictError.
	LinkIdentity(ctx context.Context, in ExternalIdentity) error
	UnlinkIdentity(ctx context.Context, userID string, provider Provider) error
}

// Store is the identity persistence boundary.
type Store interface {
	UserStore
	IdentityStore
}

// ValidateCreate normalizes in and rejects inputs no store may persist.
// Store implementations call it before writing.
func ValidateCreate(op string, in CreateUserInput) (CreateUserInput, error) {
	in.Email = NormalizeEmail(in.Email)
	if in.Email == "" {
		return in, invalid(op, "email is required")
	}
	if in.PasswordHash == nil && in.Identity == nil {
		return in, invalid(op, "password or external identity is required")
	}
	if in.Identity != nil {
		if !in.Identity.Provider.Valid() || in.Identity.ProviderUserID == "" {
			return in, invalid(op, "invalid external identity")
		}
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}

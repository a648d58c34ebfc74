package session

import (
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
)

// Record is the part of every session kind the generic lifecycle needs.
type Record interface {
	RecordID() string
	RecordUserID() string
	RecordSecretHash() []byte
	RecordExpiresAt() time.Time
}

// Session is a long-lived login session.
type Session struct {
	ID         string
	UserID     string
	SecretHash []byte
	ExpiresAt  time.Time
}

func (s Session) RecordID() string           { return s.ID }
func (s Session) RecordUserID() string       { return s.UserID }
func (s Session) RecordSecretHash() []byte   { return s.SecretHash }
func (s Session) RecordExpiresAt() time.Time { return s.ExpiresAt }

// Kind names an ephemeral session kind.
type Kind string

const (
	KindSignup            Kind = "signup"
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
)

// Ephemeral is a short-lived session driving one email-code verification step.
type Ephemeral struct {
	Kind Kind
	ID   string
	// Email is the address the code was delivered to.
	Email string
	// UserID is nil for signup sessions.
	UserID        *string
	Code          string
	SecretHash    []byte
	EmailVerified bool
	ExpiresAt     time.Time
}

func (e Ephemeral) RecordID() string { return e.ID }
func (e Ephemeral) RecordUserID() string {
	if e.UserID == nil {
		return ""
	}
	return *e.UserID
}
func (e Ephemeral) RecordSecretHash() []byte   { return e.SecretHash }
func (e Ephemeral) RecordExpiresAt() time.Time { return e.ExpiresAt }

// AccountAssociation is a pending proposal to link an external identity to UserID.
type AccountAssociation struct {
	ID             string
	UserID         string
	Provider       identity.Provider
	ProviderUserID string
	Email          string
	Code           string
	SecretHash     []byte
	ExpiresAt      time.Time
}

func (a AccountAssociation) RecordID() string           { return a.ID }
func (a AccountAssociation) RecordUserID() string       { return a.UserID }
func (a AccountAssociation) RecordSecretHash() []byte   { return a.SecretHash }
func (a AccountAssociation) RecordExpiresAt() time.Time { return a.ExpiresAt }

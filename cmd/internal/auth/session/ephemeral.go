package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

// CodeGenerator returns a fresh human-typed code.
type CodeGenerator func() (string, error)

// DefaultCodeGenerator returns eight random digits.
func DefaultCodeGenerator() (string, error) { return token.NewCode(token.CodeDigits) }

// Ephemerals manages one kind of email-code verification session.
type Ephemerals struct {
	*Lifecycle[Ephemeral]
	kind    Kind
	store   EphemeralStore
	newCode CodeGenerator
}

// NewEphemerals wires the lifecycle for kind. A nil newCode uses DefaultCodeGenerator.
func NewEphemerals(kind Kind, store EphemeralStore, hasher token.SecretHasher, policy Policy, now Clock, newCode CodeGenerator) *Ephemerals {
	if newCode == nil {
		newCode = DefaultCodeGenerator
	}
	return &Ephemerals{
		Lifecycle: NewLifecycle[Ephemeral](store, hasher, policy, kindPair(kind), now),
		kind:      kind,
		store:     store,
		newCode:   newCode,
	}
}

func kindPair(k Kind) codes.Pair {
	switch k {
	case KindSignup:
		return codes.SignupSessionPair
	case KindEmailVerification:
		return codes.EmailVerificationSessionPair
	case KindPasswordReset:
		return codes.PasswordResetSessionPair
	default:
		panic(fmt.Sprintf("session: unknown ephemeral kind %q", k))
	}
}

// Kind returns the managed kind.
func (e *Ephemerals) Kind() Kind { return e.kind }

// Pair returns the invalid/expired codes of the managed kind.
func (e *Ephemerals) Pair() codes.Pair { return kindPair(e.kind) }

// EphemeralInput describes a new ephemeral session.
type EphemeralInput struct {
	Email  string
	UserID *string
}

// IssuedEphemeral is a created ephemeral session and its client token.
// Record.Code must be delivered out of band and never returned to the client.
type IssuedEphemeral struct {
	Record Ephemeral
	Token  string
}

// Create stores a new unverified session with a fresh code.
func (e *Ephemerals) Create(ctx context.Context, in EphemeralInput) (IssuedEphemeral, error) {
	code, err := e.newCode()
	if err != nil {
		return IssuedEphemeral{}, err
	}
	email := identity.NormalizeEmail(in.Email)
	rec, tok, err := e.Lifecycle.Create(ctx, func(c Credentials) Ephemeral {
		return Ephemeral{
			Kind:       e.kind,
			ID:         c.ID,
			Email:      email,
			UserID:     in.UserID,
			Code:       code,
			SecretHash: c.SecretHash,
			ExpiresAt:  c.ExpiresAt,
		}
	})
	if err != nil {
		return IssuedEphemeral{}, err
	}
	return IssuedEphemeral{Record: rec, Token: tok}, nil
}

// VerifyCode checks code against rec in constant time. On success the record
// is marked verified and its expiry is extended once; the updated record is returned.
// The stored row decides the outcome when rec is stale: a row verified by
// another request is ALREADY_VERIFIED, a row deleted meanwhile is invalid.
func (e *Ephemerals) VerifyCode(ctx context.Context, rec Ephemeral, code string) (Ephemeral, error) {
	if rec.EmailVerified {
		return rec, codes.New(codes.AlreadyVerified)
	}
	if !token.EqualString(code, rec.Code) {
		return rec, codes.New(codes.InvalidVerificationCode)
	}
	next := e.policy.Verified(rec.ExpiresAt, e.now())
	err := e.store.MarkVerified(ctx, rec.ID, VerifiedUpdate{ExpiresAt: next})
	if errors.Is(err, ErrNotFound) {
		return rec, e.staleVerify(ctx, rec.ID)
	}
	if err != nil {
		return rec, err
	}
	rec.EmailVerified = true
	rec.ExpiresAt = next
	return rec, nil
}

func (e *Ephemerals) staleVerify(ctx context.Context, id string) error {
	cur, err := e.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return codes.New(e.Pair().Invalid)
	case err != nil:
		return err
	case cur.EmailVerified:
		return codes.New(codes.AlreadyVerified)
	default:
		return fmt.Errorf("session: mark verified %s: no row updated", id)
	}
}

// RevokeAllForEmail deletes every session of this kind addressed to email.
func (e *Ephemerals) RevokeAllForEmail(ctx context.Context, email string) error {
	return e.store.DeleteAllForEmail(ctx, identity.NormalizeEmail(email))
}

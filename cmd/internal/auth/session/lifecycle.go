package session

import (
	"context"
	"errors"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// Lifecycle implements create/validate/revoke for one session kind.
type Lifecycle[R Record] struct {
	store  Store[R]
	hasher token.SecretHasher
	policy Policy
	pair   codes.Pair
	now    Clock
}

// NewLifecycle wires a lifecycle. A nil clock uses time.Now in UTC.
func NewLifecycle[R Record](store Store[R], hasher token.SecretHasher, policy Policy, pair codes.Pair, now Clock) *Lifecycle[R] {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Lifecycle[R]{store: store, hasher: hasher, policy: policy, pair: pair, now: now}
}

// Policy returns the expiry policy.
func (l *Lifecycle[R]) Policy() Policy { return l.policy }

// Now returns the lifecycle's current time.
func (l *Lifecycle[R]) Now() time.Time { return l.now() }

// Credentials is a freshly generated id/secret pair and everything derived from it.
type Credentials struct {
	ID         string
	SecretHash []byte
	Token      string
	ExpiresAt  time.Time
}

// Create generates credentials, builds the record with build, stores it and
// returns the record with its client token.
func (l *Lifecycle[R]) Create(ctx context.Context, build func(Credentials) R) (R, string, error) {
	var zero R

	id, err := token.NewID()
	if err != nil {
		return zero, "", err
	}
	secret, err := token.NewSecret()
	if err != nil {
		return zero, "", err
	}
	c := Credentials{
		ID:         id,
		SecretHash: l.hasher.Hash(secret),
		Token:      token.Format(id, secret),
		ExpiresAt:  l.policy.ExpiresAt(l.now()),
	}
	rec := build(c)
	if err := l.store.Insert(ctx, rec); err != nil {
		return zero, "", err
	}
	return rec, c.Token, nil
}

// Validate runs parse, lookup, secret verification and the expiry check.
// Expired records are deleted before the expired code is returned.
func (l *Lifecycle[R]) Validate(ctx context.Context, tok string) (R, error) {
	var zero R

	id, secret, err := token.Parse(tok)
	if err != nil {
		return zero, codes.New(l.pair.Invalid)
	}

	rec, err := l.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return zero, codes.New(l.pair.Invalid)
	}
	if err != nil {
		return zero, err
	}

	if !l.hasher.Verify(secret, rec.RecordSecretHash()) {
		return zero, codes.New(l.pair.Invalid)
	}

	if l.policy.IsExpired(rec.RecordExpiresAt(), l.now()) {
		if err := l.store.Delete(ctx, id); err != nil {
			return zero, err
		}
		return zero, codes.New(l.pair.Expired)
	}

	return rec, nil
}

// Revoke deletes one record. Unknown ids are not an error.
func (l *Lifecycle[R]) Revoke(ctx context.Context, id string) error {
	return l.store.Delete(ctx, id)
}

// RevokeAllForUser deletes every record owned by userID.
func (l *Lifecycle[R]) RevokeAllForUser(ctx context.Context, userID string) error {
	return l.store.DeleteAllForUser(ctx, userID)
}

// Sweep deletes every expired record.
func (l *Lifecycle[R]) Sweep(ctx context.Context) (int64, error) {
	return l.store.DeleteExpired(ctx, l.now())
}

package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

func newTestSessions(t *testing.T) (*Sessions, MemorySessionStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewMemorySessionStore()
	s := NewSessions(store, testHasher, Policy{TTL: 30 * 24 * time.Hour, RefreshWindow: 15 * 24 * time.Hour}, clock.Now)
	return s, store, clock
}

func TestSessions_LoginScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, store, clock := newTestSessions(t)

	issued, err := s.Create(ctx, "user-U")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if strings.Contains(string(issued.Session.SecretHash), issued.Token) {
		t.Fatalf("stored hash must not contain the token")
	}
	_, secret, err := token.Parse(issued.Token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !testHasher.Verify(secret, issued.Session.SecretHash) {
		t.Fatalf("stored hash does not verify the issued secret")
	}

	v, err := s.Validate(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Validate within ttl: %v", err)
	}
	if v.Session.UserID != "user-U" || v.Refreshed {
		t.Fatalf("unexpected validation result: %+v", v)
	}

	clock.Advance(30 * 24 * time.Hour)
	_, err = s.Validate(ctx, issued.Token)
	if !codes.Has(err, codes.SessionExpired) {
		t.Fatalf("expected SESSION_EXPIRED, got %v", err)
	}
	if _, err := store.Get(ctx, issued.Session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session must be deleted, got %v", err)
	}
}

func TestSessions_RefreshAtBoundaryPersistsBeforeReturning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, store, clock := newTestSessions(t)

	issued, err := s.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	original := issued.Session.ExpiresAt

	// Exactly at expiresAt - refreshWindow.
	clock.Set(original.Add(-15 * 24 * time.Hour))
	v, err := s.Validate(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !v.Refreshed {
		t.Fatalf("boundary must refresh")
	}
	if !v.Session.ExpiresAt.Equal(original) {
		t.Fatalf("caller must see the original record, got %v", v.Session.ExpiresAt)
	}
	want := clock.Now().Add(30 * 24 * time.Hour)
	if !v.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", v.ExpiresAt, want)
	}
	stored, err := store.Get(ctx, issued.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.ExpiresAt.Equal(want) {
		t.Fatalf("refresh not persisted: %v", stored.ExpiresAt)
	}
}

func TestSessions_ExpiryIsMonotonicAcrossRefreshes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, store, clock := newTestSessions(t)

	issued, err := s.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	prev := issued.Session.ExpiresAt
	for i := 0; i < 10; i++ {
		clock.Advance(6 * 24 * time.Hour)
		if _, err := s.Validate(ctx, issued.Token); err != nil {
			t.Fatalf("Validate #%d: %v", i, err)
		}
		got, err := store.Get(ctx, issued.Session.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ExpiresAt.Before(prev) {
			t.Fatalf("expiry moved backwards: %v < %v", got.ExpiresAt, prev)
		}
		prev = got.ExpiresAt
	}
}

func TestSessions_InvalidTokensShareOneCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _, _ := newTestSessions(t)

	issued, err := s.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id, _, _ := token.Parse(issued.Token)
	otherSecret, _ := token.NewSecret()
	unknownID, _ := token.NewID()

	for name, tok := range map[string]string{
		"malformed":    "not-a-token",
		"empty":        "",
		"wrong secret": token.Format(id, otherSecret),
		"unknown id":   token.Format(unknownID, otherSecret),
	} {
		_, err := s.Validate(ctx, tok)
		if !codes.Has(err, codes.SessionInvalid) {
			t.Fatalf("%s: expected SESSION_INVALID, got %v", name, err)
		}
	}
}

func TestSessions_ExpiredNeedsCorrectSecret(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _, clock := newTestSessions(t)

	issued, err := s.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(31 * 24 * time.Hour)

	id, _, _ := token.Parse(issued.Token)
	wrong, _ := token.NewSecret()
	if _, err := s.Validate(ctx, token.Format(id, wrong)); !codes.Has(err, codes.SessionInvalid) {
		t.Fatalf("wrong secret on expired record: expected invalid, got %v", err)
	}
	if _, err := s.Validate(ctx, issued.Token); !codes.Has(err, codes.SessionExpired) {
		t.Fatalf("expected SESSION_EXPIRED, got %v", err)
	}
}

// revokingStore deletes the row right before the refresh write lands.
type revokingStore struct {
	MemorySessionStore
}

func (s revokingStore) UpdateExpiry(ctx context.Context, id string, up ExpiryUpdate) error {
	if err := s.Delete(ctx, id); err != nil {
		return err
	}
	return s.MemorySessionStore.UpdateExpiry(ctx, id, up)
}

func TestSessions_RefreshAfterRevokeIsInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := revokingStore{NewMemorySessionStore()}
	s := NewSessions(store, testHasher, Policy{TTL: 30 * 24 * time.Hour, RefreshWindow: 15 * 24 * time.Hour}, clock.Now)

	issued, err := s.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(16 * 24 * time.Hour)

	if _, err := s.Validate(ctx, issued.Token); !codes.Has(err, codes.SessionInvalid) {
		t.Fatalf("expected SESSION_INVALID, got %v", err)
	}
}

func TestSessions_RevokeIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, store, _ := newTestSessions(t)

	a, _ := s.Create(ctx, "u1")
	_, _ = s.Create(ctx, "u1")
	c, _ := s.Create(ctx, "u2")

	if err := s.Revoke(ctx, a.Session.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := s.Revoke(ctx, a.Session.ID); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	if err := s.RevokeAllForUser(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected only u2's session to remain, have %d", store.Len())
	}
	if _, err := s.Validate(ctx, c.Token); err != nil {
		t.Fatalf("u2 session should survive: %v", err)
	}
}

func TestLifecycle_SweepDeletesExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, store, clock := newTestSessions(t)

	_, _ = s.Create(ctx, "u1")
	clock.Advance(24 * time.Hour)
	_, _ = s.Create(ctx, "u2")
	clock.Advance(29 * 24 * time.Hour)

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 || store.Len() != 1 {
		t.Fatalf("Sweep removed %d, remaining %d", n, store.Len())
	}
}

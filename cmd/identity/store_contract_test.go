package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	hash := "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA"
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("create and lookup is case insensitive on email", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		u, err := s.CreateUser(ctx, CreateUserInput{Email: " Alice@Example.com ", Name: "Alice", PasswordHash: &hash, Now: now})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if u.Email != "alice@example.com" {
			t.Fatalf("email not normalized: %q", u.Email)
		}
		got, err := s.GetUserByEmail(ctx, "ALICE@example.com")
		if err != nil {
			t.Fatalf("GetUserByEmail: %v", err)
		}
		if got.ID != u.ID || !got.HasPassword() {
			t.Fatalf("unexpected user: %+v", got)
		}

		_, err = s.CreateUser(ctx, CreateUserInput{Email: "alice@EXAMPLE.com", PasswordHash: &hash, Now: now})
		if field, ok := ConflictField(err); !ok || field != FieldEmail {
			t.Fatalf("expected email conflict, got %v", err)
		}
	})

	t.Run("create requires password or identity", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateUser(context.Background(), CreateUserInput{Email: "bob@example.com", Now: now})
		if !IsInvalidInput(err) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("create with identity links atomically", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		u, err := s.CreateUser(ctx, CreateUserInput{
			Email:         "carol@example.com",
			EmailVerified: true,
			Identity:      &NewExternalIdentity{Provider: ProviderDiscord, ProviderUserID: "d-1"},
			Now:           now,
		})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if u.HasPassword() {
			t.Fatalf("oauth-only user must not have a password")
		}
		ei, err := s.GetIdentity(ctx, ProviderDiscord, "d-1")
		if err != nil {
			t.Fatalf("GetIdentity: %v", err)
		}
		if ei.UserID != u.ID {
			t.Fatalf("identity points at %q, want %q", ei.UserID, u.ID)
		}

		_, err = s.CreateUser(ctx, CreateUserInput{
			Email:    "other@example.com",
			Identity: &NewExternalIdentity{Provider: ProviderDiscord, ProviderUserID: "d-1"},
			Now:      now,
		})
		if !IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if _, err := s.GetUserByEmail(ctx, "other@example.com"); !IsNotFound(err) {
			t.Fatalf("conflicting create must not leave a user behind: %v", err)
		}
	})

	t.Run("link enforces both unique keys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateUser(ctx, CreateUserInput{Email: "a@example.com", PasswordHash: &hash, Now: now})
		if err != nil {
			t.Fatalf("CreateUser a: %v", err)
		}
		b, err := s.CreateUser(ctx, CreateUserInput{Email: "b@example.com", PasswordHash: &hash, Now: now})
		if err != nil {
			t.Fatalf("CreateUser b: %v", err)
		}

		if err := s.LinkIdentity(ctx, ExternalIdentity{Provider: ProviderGoogle, ProviderUserID: "g-1", UserID: a.ID, LinkedAt: now}); err != nil {
			t.Fatalf("LinkIdentity: %v", err)
		}

		err = s.LinkIdentity(ctx, ExternalIdentity{Provider: ProviderGoogle, ProviderUserID: "g-1", UserID: b.ID, LinkedAt: now})
		if field, ok := ConflictField(err); !ok || field != FieldProviderIdentity {
			t.Fatalf("expected provider identity conflict, got %v", err)
		}
		err = s.LinkIdentity(ctx, ExternalIdentity{Provider: ProviderGoogle, ProviderUserID: "g-2", UserID: a.ID, LinkedAt: now})
		if field, ok := ConflictField(err); !ok || field != FieldUserProvider {
			t.Fatalf("expected user provider conflict, got %v", err)
		}

		if _, err := s.GetIdentityForUser(ctx, a.ID, ProviderGoogle); err != nil {
			t.Fatalf("GetIdentityForUser: %v", err)
		}
		if err := s.UnlinkIdentity(ctx, a.ID, ProviderGoogle); err != nil {
			t.Fatalf("UnlinkIdentity: %v", err)
		}
		if err := s.UnlinkIdentity(ctx, a.ID, ProviderGoogle); !IsNotFound(err) {
			t.Fatalf("second unlink: expected not found, got %v", err)
		}
		if err := s.LinkIdentity(ctx, ExternalIdentity{Provider: ProviderGoogle, ProviderUserID: "g-1", UserID: b.ID, LinkedAt: now}); err != nil {
			t.Fatalf("relink after unlink: %v", err)
		}
	})

	t.Run("list identities is per user and ordered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateUser(ctx, CreateUserInput{Email: "list-a@example.com", PasswordHash: &hash, Now: now})
		if err != nil {
			t.Fatalf("CreateUser a: %v", err)
		}
		b, err := s.CreateUser(ctx, CreateUserInput{Email: "list-b@example.com", PasswordHash: &hash, Now: now})
		if err != nil {
			t.Fatalf("CreateUser b: %v", err)
		}

		got, err := s.ListIdentities(ctx, a.ID)
		if err != nil || len(got) != 0 {
			t.Fatalf("ListIdentities before link: %+v %v", got, err)
		}
		for _, ei := range []ExternalIdentity{
			{Provider: ProviderGoogle, ProviderUserID: "g-a", UserID: a.ID, LinkedAt: now},
			{Provider: ProviderDiscord, ProviderUserID: "d-a", UserID: a.ID, LinkedAt: now},
			{Provider: ProviderGoogle, ProviderUserID: "g-b", UserID: b.ID, LinkedAt: now},
		} {
			if err := s.LinkIdentity(ctx, ei); err != nil {
				t.Fatalf("LinkIdentity %+v: %v", ei, err)
			}
		}

		got, err = s.ListIdentities(ctx, a.ID)
		if err != nil {
			t.Fatalf("ListIdentities: %v", err)
		}
		if len(got) != 2 || got[0].Provider != ProviderDiscord || got[1].Provider != ProviderGoogle {
			t.Fatalf("unexpected identities: %+v", got)
		}
		if got[0].ProviderUserID != "d-a" || got[0].UserID != a.ID || !got[0].LinkedAt.Equal(now) {
			t.Fatalf("unexpected discord link: %+v", got[0])
		}
		if got, err := s.ListIdentities(ctx, "missing-user"); err != nil || len(got) != 0 {
			t.Fatalf("unknown user: %+v %v", got, err)
		}
	})

	t.Run("updates are explicit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		u, err := s.CreateUser(ctx, CreateUserInput{Email: "dave@example.com", PasswordHash: &hash, Now: now})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		later := now.Add(time.Hour)
		if err := s.UpdateEmail(ctx, u.ID, EmailUpdate{Email: "Dave2@example.com", Verified: true, UpdatedAt: later}); err != nil {
			t.Fatalf("UpdateEmail: %v", err)
		}
		if err := s.UpdatePassword(ctx, u.ID, PasswordUpdate{PasswordHash: "new-hash", UpdatedAt: later}); err != nil {
			t.Fatalf("UpdatePassword: %v", err)
		}
		got, err := s.GetUser(ctx, u.ID)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if got.Email != "dave2@example.com" || !got.EmailVerified || *got.PasswordHash != "new-hash" {
			t.Fatalf("unexpected user after updates: %+v", got)
		}
		if !got.UpdatedAt.Equal(later) {
			t.Fatalf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
		}
		if _, err := s.GetUserByEmail(ctx, "dave@example.com"); !IsNotFound(err) {
			t.Fatalf("old email still resolves: %v", err)
		}

		err = s.UpdatePassword(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", PasswordUpdate{PasswordHash: "x"})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

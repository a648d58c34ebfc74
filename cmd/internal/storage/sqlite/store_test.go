package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

var base = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "monaca.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustUser(t *testing.T, s *IdentityStore, email string) identity.User {
	t.Helper()
	hash := "argon2id-hash"
	u, err := s.CreateUser(context.Background(), identity.CreateUserInput{Email: email, PasswordHash: &hash, Now: base})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "monaca.db")
	ctx := context.Background()

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	mustUser(t, NewIdentityStore(db), "keep@example.com")
	_ = db.Close()

	db, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db.Close()

	if _, err := NewIdentityStore(db).GetUserByEmail(ctx, "keep@example.com"); err != nil {
		t.Fatalf("data lost across reopen: %v", err)
	}
	var n int
	if err := db.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", n)
	}
}

func TestIdentityStore(t *testing.T) {
	db := openTestDB(t)
	s := NewIdentityStore(db)
	ctx := context.Background()

	u := mustUser(t, s, " Ann@Example.com ")
	if u.Email != "ann@example.com" || len(u.ID) != 26 || !u.HasPassword() {
		t.Fatalf("unexpected user: %+v", u)
	}

	hash := "x"
	_, err := s.CreateUser(ctx, identity.CreateUserInput{Email: "ann@example.com", PasswordHash: &hash})
	if f, ok := identity.ConflictField(err); !ok || f != identity.FieldEmail {
		t.Fatalf("expected email conflict, got %v", err)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Email != u.Email || !got.CreatedAt.Equal(base) || got.PasswordHash == nil || *got.PasswordHash != "argon2id-hash" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if _, err := s.GetUser(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ"); !identity.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	bob := mustUser(t, s, "bob@example.com")
	err = s.UpdateEmail(ctx, bob.ID, identity.EmailUpdate{Email: "ann@example.com", Verified: true})
	if !identity.IsConflict(err) {
		t.Fatalf("expected conflict on email update, got %v", err)
	}
	if err := s.UpdateEmail(ctx, bob.ID, identity.EmailUpdate{Email: "Bob2@example.com", Verified: true}); err != nil {
		t.Fatalf("UpdateEmail: %v", err)
	}
	got, _ = s.GetUserByEmail(ctx, "bob2@example.com")
	if got.ID != bob.ID || !got.EmailVerified {
		t.Fatalf("email update not applied: %+v", got)
	}

	if err := s.UpdatePassword(ctx, "missing", identity.PasswordUpdate{PasswordHash: "h"}); !identity.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIdentityStore_Links(t *testing.T) {
	db := openTestDB(t)
	s := NewIdentityStore(db)
	ctx := context.Background()

	oauth, err := s.CreateUser(ctx, identity.CreateUserInput{
		Email:    "neo@example.com",
		Identity: &identity.NewExternalIdentity{Provider: identity.ProviderDiscord, ProviderUserID: "d-1"},
		Now:      base,
	})
	if err != nil {
		t.Fatalf("CreateUser with identity: %v", err)
	}
	if oauth.HasPassword() {
		t.Fatalf("provider-only user has a password")
	}
	ann := mustUser(t, s, "ann@example.com")

	cases := []struct {
		name  string
		in    identity.ExternalIdentity
		field string
	}{
		{"identity owned elsewhere", identity.ExternalIdentity{Provider: identity.ProviderDiscord, ProviderUserID: "d-1", UserID: ann.ID}, identity.FieldProviderIdentity},
		{"provider already linked", identity.ExternalIdentity{Provider: identity.ProviderDiscord, ProviderUserID: "d-2", UserID: oauth.ID}, identity.FieldUserProvider},
	}
	for _, tc := range cases {
		f, ok := identity.ConflictField(s.LinkIdentity(ctx, tc.in))
		if !ok || f != tc.field {
			t.Fatalf("%s: expected %s conflict, got %q", tc.name, tc.field, f)
		}
	}

	err = s.LinkIdentity(ctx, identity.ExternalIdentity{Provider: identity.ProviderGoogle, ProviderUserID: "g-1", UserID: "01HZZZZZZZZZZZZZZZZZZZZZZZ"})
	if !identity.IsNotFound(err) {
		t.Fatalf("expected not found for missing user, got %v", err)
	}

	if err := s.LinkIdentity(ctx, identity.ExternalIdentity{Provider: identity.ProviderGoogle, ProviderUserID: "g-1", UserID: ann.ID, LinkedAt: base}); err != nil {
		t.Fatalf("LinkIdentity: %v", err)
	}
	ei, err := s.GetIdentity(ctx, identity.ProviderGoogle, "g-1")
	if err != nil || ei.UserID != ann.ID || !ei.LinkedAt.Equal(base) {
		t.Fatalf("GetIdentity: %+v %v", ei, err)
	}
	list, err := s.ListIdentities(ctx, oauth.ID)
	if err != nil || len(list) != 1 || list[0].Provider != identity.ProviderDiscord || list[0].ProviderUserID != "d-1" {
		t.Fatalf("ListIdentities: %+v %v", list, err)
	}
	if err := s.UnlinkIdentity(ctx, ann.ID, identity.ProviderGoogle); err != nil {
		t.Fatalf("UnlinkIdentity: %v", err)
	}
	if list, err := s.ListIdentities(ctx, ann.ID); err != nil || len(list) != 0 {
		t.Fatalf("ListIdentities after unlink: %+v %v", list, err)
	}
	if err := s.UnlinkIdentity(ctx, ann.ID, identity.ProviderGoogle); !identity.IsNotFound(err) {
		t.Fatalf("second unlink: expected not found, got %v", err)
	}
}

func TestSessionStore(t *testing.T) {
	db := openTestDB(t)
	u := mustUser(t, NewIdentityStore(db), "owner@example.com")
	s := NewSessionStore(db)
	ctx := context.Background()

	rec := session.Session{ID: "s-1", UserID: u.ID, SecretHash: []byte{1, 2, 3}, ExpiresAt: base.Add(time.Hour)}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, rec); !errors.Is(err, session.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	if err := s.UpdateExpiry(ctx, "s-1", session.ExpiryUpdate{ExpiresAt: base}); err != nil {
		t.Fatalf("UpdateExpiry: %v", err)
	}
	got, err := s.Get(ctx, "s-1")
	if err != nil || !got.ExpiresAt.Equal(rec.ExpiresAt) || string(got.SecretHash) != "\x01\x02\x03" {
		t.Fatalf("expiry moved backwards or record changed: %+v %v", got, err)
	}
	if err := s.UpdateExpiry(ctx, "s-1", session.ExpiryUpdate{ExpiresAt: base.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("UpdateExpiry forward: %v", err)
	}
	if err := s.UpdateExpiry(ctx, "missing", session.ExpiryUpdate{ExpiresAt: base}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_ = s.Insert(ctx, session.Session{ID: "s-2", UserID: u.ID, SecretHash: []byte{9}, ExpiresAt: base.Add(time.Minute)})
	n, err := s.DeleteExpired(ctx, base.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired: n=%d err=%v", n, err)
	}

	if err := s.DeleteAllForUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteAllForUser: %v", err)
	}
	if _, err := s.Get(ctx, "s-1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEphemeralStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := NewEphemeralStore(db, session.Kind("bogus")); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	s, err := NewEphemeralStore(db, session.KindSignup)
	if err != nil {
		t.Fatalf("NewEphemeralStore: %v", err)
	}

	rec := session.Ephemeral{Kind: session.KindSignup, ID: "e-1", Email: "new@example.com", Code: "12345678", SecretHash: []byte{7}, ExpiresAt: base.Add(10 * time.Minute)}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.MarkVerified(ctx, "e-1", session.VerifiedUpdate{ExpiresAt: base.Add(20 * time.Minute)}); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	if err := s.MarkVerified(ctx, "e-1", session.VerifiedUpdate{ExpiresAt: base.Add(30 * time.Minute)}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("second MarkVerified: expected ErrNotFound, got %v", err)
	}
	got, err := s.Get(ctx, "e-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.EmailVerified || got.UserID != nil || got.Kind != session.KindSignup || !got.ExpiresAt.Equal(base.Add(20*time.Minute)) {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := s.DeleteAllForEmail(ctx, "new@example.com"); err != nil {
		t.Fatalf("DeleteAllForEmail: %v", err)
	}
	if _, err := s.Get(ctx, "e-1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssociationStore_WithLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	u := mustUser(t, NewIdentityStore(db), "ann@example.com")

	now := base
	assoc := session.NewAssociations(NewAssociationStore(db), token.SHA256Hasher{}, session.Policy{TTL: 10 * time.Minute},
		func() time.Time { return now }, func() (string, error) { return "24681357", nil })

	issued, err := assoc.Create(ctx, session.AssociationInput{UserID: u.ID, Provider: identity.ProviderGoogle, ProviderUserID: "g-1", Email: u.Email})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec, err := assoc.Validate(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rec.Provider != identity.ProviderGoogle || !session.CodeMatches(rec, "24681357") {
		t.Fatalf("unexpected record: %+v", rec)
	}

	now = base.Add(10 * time.Minute)
	n, err := assoc.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep: n=%d err=%v", n, err)
	}
}

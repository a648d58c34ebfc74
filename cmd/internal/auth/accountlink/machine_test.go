package accountlink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

type fixture struct {
	users        *identity.MemoryStore
	sessions     *session.Sessions
	associations *session.Associations
	assocStore   session.MemoryAssociationStore
	m            *Machine
	now          time.Time
}

func newFixture(t *testing.T, users identity.Store) *fixture {
	t.Helper()

	mem, _ := users.(*identity.MemoryStore)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cfg := session.DefaultConfig()
	f := &fixture{users: mem, now: now, assocStore: session.NewMemoryAssociationStore()}
	f.sessions = session.NewSessions(session.NewMemorySessionStore(), token.SHA256Hasher{}, cfg.SessionPolicy(), clock)
	f.associations = session.NewAssociations(f.assocStore, token.SHA256Hasher{}, cfg.AssociationPolicy(), clock,
		func() (string, error) { return "13572468", nil })
	f.m = New(users, f.sessions, f.associations, nil)
	return f
}

func mustUser(t *testing.T, s identity.Store, email string) identity.User {
	t.Helper()
	hash := "argon2id-hash"
	u, err := s.CreateUser(context.Background(), identity.CreateUserInput{Email: email, PasswordHash: &hash})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func TestCallback_NewIdentityNewEmailSignsUp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, identity.NewMemoryStore())
	ctx := context.Background()

	res, err := f.m.Callback(ctx, Profile{Provider: identity.ProviderDiscord, ProviderUserID: "d-1", Email: "New@x.com", EmailVerified: true, Name: "New"})
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if res.Outcome != OutcomeSignup || res.Session.Token == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.User.Email != "new@x.com" || !res.User.EmailVerified || res.User.HasPassword() {
		t.Fatalf("unexpected user: %+v", res.User)
	}
	ei, err := f.users.GetIdentity(ctx, identity.ProviderDiscord, "d-1")
	if err != nil || ei.UserID != res.User.ID {
		t.Fatalf("identity not linked: %+v, %v", ei, err)
	}
}

func TestCallback_ExistingLinkLogsIn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, identity.NewMemoryStore())
	ctx := context.Background()

	u := mustUser(t, f.users, "a@x.com")
	if err := f.users.LinkIdentity(ctx, identity.ExternalIdentity{Provider: identity.ProviderGoogle, ProviderUserID: "g-1", UserID: u.ID}); err != nil {
		t.Fatalf("LinkIdentity: %v", err)
	}

	// The provider email may differ from the local one; the link wins.
	res, err := f.m.Callback(ctx, Profile{Provider: identity.ProviderGoogle, ProviderUserID: "g-1", Email: "changed@x.com"})
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if res.Outcome != OutcomeLogin || res.User.ID != u.ID {
		t.Fatalf("unexpected result: %+v", res)
	}
	v, err := f.sessions.Validate(ctx, res.Session.Token)
	if err != nil || v.Session.UserID != u.ID {
		t.Fatalf("issued session invalid: %+v, %v", v, err)
	}
}

func TestCallback_EmailCollisionRequiresConfirmation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, identity.NewMemoryStore())
	ctx := context.Background()

	u := mustUser(t, f.users, "a@x.com")
	res, err := f.m.Callback(ctx, Profile{Provider: identity.ProviderGoogle, ProviderUserID: "g-1", Email: "A@x.com"})
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if res.Outcome != OutcomeLinkRequired || res.Proposal.Token == "" || res.Session.Token != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := f.users.GetIdentity(ctx, identity.ProviderGoogle, "g-1"); !identity.IsNotFound(err) {
		t.Fatalf("identity must not be linked before confirmation: %v", err)
	}

	rec, err := f.m.Preview(ctx, res.Proposal.Token)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if _, err := f.m.Confirm(ctx, rec, "00000000"); !codes.Has(err, codes.InvalidAssociationCode) {
		t.Fatalf("expected INVALID_ASSOCIATION_CODE, got %v", err)
	}

	done, err := f.m.Confirm(ctx, rec, "13572468")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if done.Outcome != OutcomeLogin || done.User.ID != u.ID || done.Session.Token == "" {
		t.Fatalf("unexpected confirm result: %+v", done)
	}
	if _, err := f.m.Preview(ctx, res.Proposal.Token); !codes.Has(err, codes.AccountAssociationSessionInvalid) {
		t.Fatalf("proposal must be single use, got %v", err)
	}
	ei, err := f.users.GetIdentity(ctx, identity.ProviderGoogle, "g-1")
	if err != nil || ei.UserID != u.ID {
		t.Fatalf("identity not linked: %+v, %v", ei, err)
	}
}

func TestConfirm_LinkedToOtherUserBeforeConfirmation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, identity.NewMemoryStore())
	ctx := context.Background()

	a := mustUser(t, f.users, "a@x.com")
	b := mustUser(t, f.users, "b@x.com")

	res, err := f.m.Callback(ctx, Profile{Provider: identity.ProviderDiscord, ProviderUserID: "d-7", Email: "a@x.com"})
	if err != nil || res.Outcome != OutcomeLinkRequired {
		t.Fatalf("Callback: %+v, %v", res, err)
	}
	if err := f.users.LinkIdentity(ctx, identity.ExternalIdentity{Provider: identity.ProviderDiscord, ProviderUserID: "d-7", UserID: b.ID}); err != nil {
		t.Fatalf("LinkIdentity(b): %v", err)
	}

	_, err = f.m.Confirm(ctx, res.Proposal.Record, "13572468")
	if !codes.Has(err, codes.AccountLinkedElsewhere) {
		t.Fatalf("expected ACCOUNT_LINKED_ELSEWHERE, got %v", err)
	}
	ei, _ := f.users.GetIdentity(ctx, identity.ProviderDiscord, "d-7")
	if ei.UserID != b.ID {
		t.Fatalf("b's link was modified: %+v", ei)
	}
	if _, err := f.users.GetIdentityForUser(ctx, a.ID, identity.ProviderDiscord); !identity.IsNotFound(err) {
		t.Fatalf("a must stay unlinked: %v", err)
	}
}

// racingStore links the identity to another user right before the insert.
type racingStore struct {
	*identity.MemoryStore
	winner string
}

func (r *racingStore) LinkIdentity(ctx context.Context, in identity.ExternalIdentity) error {
	if r.winner != "" {
		won := in
		won.UserID = r.winner
		r.winner = ""
		if err := r.MemoryStore.LinkIdentity(ctx, won); err != nil {
			return err
		}
	}
	return r.MemoryStore.LinkIdentity(ctx, in)
}

func TestConfirm_RaceOnInsertReportsLinkedElsewhere(t *testing.T) {
	t.Parallel()

	mem := identity.NewMemoryStore()
	store := &racingStore{MemoryStore: mem}
	f := newFixture(t, store)
	f.users = mem
	ctx := context.Background()

	mustUser(t, mem, "a@x.com")
	b := mustUser(t, mem, "b@x.com")

	res, err := f.m.Callback(ctx, Profile{Provider: identity.ProviderGoogle, ProviderUserID: "g-9", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	store.winner = b.ID

	_, err = f.m.Confirm(ctx, res.Proposal.Record, "13572468")
	if !codes.Has(err, codes.AccountLinkedElsewhere) {
		t.Fatalf("expected ACCOUNT_LINKED_ELSEWHERE, got %v", err)
	}
	ei, _ := mem.GetIdentity(ctx, identity.ProviderGoogle, "g-9")
	if ei.UserID != b.ID {
		t.Fatalf("winner's link was modified: %+v", ei)
	}
}

func TestConfirm_AlreadyLinked(t *testing.T) {
	t.Parallel()

	f := newFixture(t, identity.NewMemoryStore())
	ctx := context.Background()

	a := mustUser(t, f.users, "a@x.com")
	res, err := f.m.Callback(ctx, Profile{Provider: identity.ProviderGoogle, ProviderUserID: "g-1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}

	// Same identity linked to the same user by another path.
	if err := f.users.LinkIdentity(ctx, identity.ExternalIdentity{Provider: identity.ProviderGoogle, ProviderUserID: "g-1", UserID: a.ID}); err != nil {
		t.Fatalf("LinkIdentity: %v", err)
	}
	if _, err := f.m.Confirm(ctx, res.Proposal.Record, "13572468"); !codes.Has(err, codes.AccountAlreadyLinked) {
		t.Fatalf("expected ACCOUNT_ALREADY_LINKED, got %v", err)
	}
}

func TestConfirm_UserHasOtherIdentityForProvider(t *testing.T) {
	t.Parallel()

	f := newFixture(t, identity.NewMemoryStore())
	ctx := context.Background()

	a := mustUser(t, f.users, "a@x.com")
	res, err := f.m.Callback(ctx, Profile{Provider: identity.ProviderGoogle, ProviderUserID: "g-1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if err := f.users.LinkIdentity(ctx, identity.ExternalIdentity{Provider: identity.ProviderGoogle, ProviderUserID: "g-other", UserID: a.ID}); err != nil {
		t.Fatalf("LinkIdentity: %v", err)
	}
	if _, err := f.m.Confirm(ctx, res.Proposal.Record, "13572468"); !codes.Has(err, codes.AccountAlreadyLinked) {
		t.Fatalf("expected ACCOUNT_ALREADY_LINKED, got %v", err)
	}
}

func TestChallengeAndReject(t *testing.T) {
	t.Parallel()

	f := newFixture(t, identity.NewMemoryStore())
	ctx := context.Background()

	mustUser(t, f.users, "a@x.com")
	res, err := f.m.Callback(ctx, Profile{Provider: identity.ProviderDiscord, ProviderUserID: "d-1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}

	again, err := f.m.Challenge(ctx, res.Proposal.Token)
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if again.Proposal.Token == res.Proposal.Token {
		t.Fatalf("challenge must issue a fresh token")
	}
	if _, err := f.m.Preview(ctx, res.Proposal.Token); !codes.Has(err, codes.AccountAssociationSessionInvalid) {
		t.Fatalf("old proposal must be revoked, got %v", err)
	}

	if err := f.m.Reject(ctx, again.Proposal.Token); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, err := f.m.Preview(ctx, again.Proposal.Token); !codes.Has(err, codes.AccountAssociationSessionInvalid) {
		t.Fatalf("rejected proposal must be gone, got %v", err)
	}
}

func TestPreviewAndChallenge_DropProposalAfterEmailChange(t *testing.T) {
	t.Parallel()

	for _, op := range []string{"preview", "challenge"} {
		t.Run(op, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, identity.NewMemoryStore())
			ctx := context.Background()

			u := mustUser(t, f.users, "a@x.com")
			res, err := f.m.Callback(ctx, Profile{Provider: identity.ProviderGoogle, ProviderUserID: "g-1", Email: "a@x.com"})
			if err != nil {
				t.Fatalf("Callback: %v", err)
			}
			if err := f.users.UpdateEmail(ctx, u.ID, identity.EmailUpdate{Email: "b@x.com", Verified: true, UpdatedAt: f.now}); err != nil {
				t.Fatalf("UpdateEmail: %v", err)
			}

			if op == "preview" {
				_, err = f.m.Preview(ctx, res.Proposal.Token)
			} else {
				_, err = f.m.Challenge(ctx, res.Proposal.Token)
			}
			if !codes.Has(err, codes.AccountAssociationSessionInvalid) {
				t.Fatalf("expected ACCOUNT_ASSOCIATION_SESSION_INVALID, got %v", err)
			}
			if _, err := f.assocStore.Get(ctx, res.Proposal.Record.ID); !errors.Is(err, session.ErrNotFound) {
				t.Fatalf("stale proposal must be deleted, got %v", err)
			}
		})
	}
}

func TestConnect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tests := []struct {
		name  string
		setup func(f *fixture, me, other identity.User)
		want  codes.Code
	}{
		{
			name:  "links a free identity",
			setup: func(*fixture, identity.User, identity.User) {},
		},
		{
			name: "user already has this provider",
			setup: func(f *fixture, me, _ identity.User) {
				_ = f.users.LinkIdentity(ctx, identity.ExternalIdentity{Provider: identity.ProviderGoogle, ProviderUserID: "g-old", UserID: me.ID})
			},
			want: codes.ProviderAlreadyLinked,
		},
		{
			name: "identity owned by another user",
			setup: func(f *fixture, _, other identity.User) {
				_ = f.users.LinkIdentity(ctx, identity.ExternalIdentity{Provider: identity.ProviderGoogle, ProviderUserID: "g-1", UserID: other.ID})
			},
			want: codes.AccountLinkedElsewhere,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, identity.NewMemoryStore())
			me := mustUser(t, f.users, "me@x.com")
			other := mustUser(t, f.users, "other@x.com")
			tc.setup(f, me, other)

			// The provider email is irrelevant: the signed-in user is the target.
			res, err := f.m.Connect(ctx, me.ID, Profile{Provider: identity.ProviderGoogle, ProviderUserID: "g-1", Email: "other@x.com"})
			if tc.want != "" {
				if !codes.Has(err, tc.want) {
					t.Fatalf("expected %s, got %v", tc.want, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Connect: %v", err)
			}
			if res.Outcome != OutcomeConnected || res.User.ID != me.ID || res.Session.Token != "" {
				t.Fatalf("unexpected result: %+v", res)
			}
			ei, err := f.users.GetIdentity(ctx, identity.ProviderGoogle, "g-1")
			if err != nil || ei.UserID != me.ID {
				t.Fatalf("identity not linked: %+v, %v", ei, err)
			}
		})
	}
}

func TestConnect_RaceOnInsertReportsLinkedElsewhere(t *testing.T) {
	t.Parallel()

	mem := identity.NewMemoryStore()
	store := &racingStore{MemoryStore: mem}
	f := newFixture(t, store)
	ctx := context.Background()

	me := mustUser(t, mem, "me@x.com")
	other := mustUser(t, mem, "other@x.com")
	store.winner = other.ID

	_, err := f.m.Connect(ctx, me.ID, Profile{Provider: identity.ProviderDiscord, ProviderUserID: "d-3"})
	if !codes.Has(err, codes.AccountLinkedElsewhere) {
		t.Fatalf("expected ACCOUNT_LINKED_ELSEWHERE, got %v", err)
	}
}

func TestConnect_UnknownUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t, identity.NewMemoryStore())
	_, err := f.m.Connect(context.Background(), "missing", Profile{Provider: identity.ProviderDiscord, ProviderUserID: "d-3"})
	if !codes.Has(err, codes.UserNotFound) {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}

func TestCallback_RejectsIncompleteProfile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, identity.NewMemoryStore())
	_, err := f.m.Callback(context.Background(), Profile{Provider: identity.ProviderGoogle, ProviderUserID: "g-1"})
	if !codes.Has(err, codes.ProviderError) {
		t.Fatalf("expected PROVIDER_ERROR, got %v", err)
	}
}

// Package flowstest builds an in-memory flows.Service for tests.
package flowstest

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/accountlink"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/flows"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/mailer"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/oauthprovider"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/ratelimit"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/password"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

// Start is the fixed starting time of every Env clock.
var Start = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// Clock is a manually advanced clock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Hasher is a transparent password hasher with the length rule of the real one.
type Hasher struct{}

func (Hasher) Hash(pw string) (string, error) {
	if len(pw) < 8 {
		return "", password.ErrPasswordTooShort
	}
	return "plain$" + pw, nil
}

func (Hasher) Verify(pw, encoded string) bool {
	return token.EqualString("plain$"+pw, encoded)
}

// Gateway is a scripted OAuth provider.
type Gateway struct {
	mu   sync.Mutex
	info oauthprovider.UserInfo
	err  error
	// Codes lists every code passed to Exchange.
	codes []string
}

// Answer makes the next exchanges return info.
func (g *Gateway) Answer(info oauthprovider.UserInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.info, g.err = info, nil
}

// Fail makes the next exchanges return err.
func (g *Gateway) Fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *Gateway) AuthCodeURL(state, verifier string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state) + "&code_challenge=" + url.QueryEscape(verifier[:8])
}

func (g *Gateway) Exchange(_ context.Context, code, verifier string) (oauthprovider.UserInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.codes = append(g.codes, code)
	if g.err != nil {
		return oauthprovider.UserInfo{}, g.err
	}
	if verifier == "" {
		return oauthprovider.UserInfo{}, oauthprovider.ErrInvalidCode
	}
	return g.info, nil
}

// Codes returns every code passed to Exchange.
func (g *Gateway) Codes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.codes...)
}

// Env is a Service over in-memory stores with its collaborators exposed.
type Env struct {
	Service *flows.Service
	Users   *identity.MemoryStore
	Mail    *mailer.Recorder
	Clock   *Clock
	Discord *Gateway
	Limits  *ratelimit.MemoryBackend
}

// New builds an Env. The Discord provider is configured; Google is not.
func New(t testing.TB) *Env {
	t.Helper()

	e := &Env{
		Users:   identity.NewMemoryStore(),
		Mail:    &mailer.Recorder{},
		Clock:   &Clock{t: Start},
		Discord: &Gateway{},
		Limits:  ratelimit.NewMemoryBackend(),
	}
	now := session.Clock(e.Clock.Now)
	cfg := session.DefaultConfig()
	h := token.SHA256Hasher{}

	sessions := session.NewSessions(session.NewMemorySessionStore(), h, cfg.SessionPolicy(), now)
	associations := session.NewAssociations(session.NewMemoryAssociationStore(), h, cfg.AssociationPolicy(), now, nil)
	ephemeral := func(k session.Kind) *session.Ephemerals {
		return session.NewEphemerals(k, session.NewMemoryEphemeralStore(), h, cfg.EphemeralPolicy(k), now, nil)
	}

	svc, err := flows.New(flows.Deps{
		Users:              e.Users,
		Passwords:          Hasher{},
		Sessions:           sessions,
		Signups:            ephemeral(session.KindSignup),
		EmailVerifications: ephemeral(session.KindEmailVerification),
		PasswordResets:     ephemeral(session.KindPasswordReset),
		Associations:       associations,
		Links:              accountlink.New(e.Users, sessions, associations, nil),
		Limits:             ratelimit.NewSet(ratelimit.NewFactory(e.Limits, ratelimit.WithClock(e.Clock.Now))),
		Mailer:             e.Mail,
		Providers:          oauthprovider.Registry{identity.ProviderDiscord: e.Discord},
		StateKey:           []byte("flowstest-state-key-0123456789abcdef"),
		Now:                e.Clock.Now,
	})
	if err != nil {
		t.Fatalf("flows.New: %v", err)
	}
	e.Service = svc
	return e
}

// MustUser creates a verified user with a password.
func (e *Env) MustUser(t testing.TB, email, pw string) identity.User {
	t.Helper()
	hash, err := Hasher{}.Hash(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := e.Users.CreateUser(context.Background(), identity.CreateUserInput{
		Email:         email,
		EmailVerified: true,
		Name:          strings.SplitN(email, "@", 2)[0],
		PasswordHash:  &hash,
		Now:           e.Clock.Now(),
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

// LastCode returns the most recent code mailed to to for purpose.
func (e *Env) LastCode(t testing.TB, to string, p mailer.Purpose) string {
	t.Helper()
	msg, ok := e.Mail.Last(identity.NormalizeEmail(to), p)
	if !ok {
		t.Fatalf("no %s mail for %s", p, to)
	}
	return msg.Code
}

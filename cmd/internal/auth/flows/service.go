// Package flows implements the auth use cases on top of the session core.
//
// Every method returns either a result, a *codes.Error for an expected
// outcome, or an unexpected error that must be propagated. Rate limits are
// consulted before any lookup that an attacker could use as an oracle.
package flows

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/accountlink"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/mailer"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/oauthprovider"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/ratelimit"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/password"
)

// PasswordHasher hashes and verifies user passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) bool
}

// Providers resolves OAuth gateways.
type Providers interface {
	Get(p identity.Provider) (oauthprovider.Gateway, error)
}

// Observer receives business events. Implementations must not block.
type Observer interface {
	ObserveSessionIssued(origin string)
}

// Deps are the collaborators of Service.
type Deps struct {
	Users     identity.Store
	Passwords PasswordHasher

	Sessions           *session.Sessions
	Signups            *session.Ephemerals
	EmailVerifications *session.Ephemerals
	PasswordResets     *session.Ephemerals
	Associations       *session.Associations
	Links              *accountlink.Machine

	Limits    *ratelimit.Set
	Mailer    mailer.Mailer
	Providers Providers

	// StateKey signs OAuth state values.
	StateKey []byte
	// StateTTL bounds the provider round trip. Defaults to 10 minutes.
	StateTTL time.Duration

	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service runs the auth use cases.
type Service struct {
	Deps
	dummyHash string
}

var errMissingDep = errors.New("flows: missing dependency")

// New validates deps and returns a Service.
func New(d Deps) (*Service, error) {
	if d.Users == nil || d.Passwords == nil || d.Sessions == nil || d.Signups == nil ||
		d.EmailVerifications == nil || d.PasswordResets == nil || d.Associations == nil ||
		d.Links == nil || d.Limits == nil || d.Mailer == nil {
		return nil, errMissingDep
	}
	if d.Providers == nil {
		d.Providers = oauthprovider.Registry{}
	}
	if len(d.StateKey) == 0 {
		return nil, errors.New("flows: oauth state key is required")
	}
	if d.StateTTL <= 0 {
		d.StateTTL = 10 * time.Minute
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}

	s := &Service{Deps: d}
	// Unknown emails are verified against this hash so both login failures cost the same.
	hash, err := d.Passwords.Hash("timing-parity-only-Xq7#")
	if err != nil {
		return nil, err
	}
	s.dummyHash = hash
	return s, nil
}

func (s *Service) consume(ctx context.Context, prefix, key string, cost int64) error {
	return s.Limits.Get(prefix).Consume(ctx, key, cost)
}

func (s *Service) issueSession(ctx context.Context, userID, origin string) (session.Issued, error) {
	issued, err := s.Sessions.Create(ctx, userID)
	if err != nil {
		return session.Issued{}, err
	}
	s.observeSession(origin)
	return issued, nil
}

func (s *Service) observeSession(origin string) {
	if s.Observer != nil {
		s.Observer.ObserveSessionIssued(origin)
	}
}

func (s *Service) sendCode(ctx context.Context, to, code string, purpose mailer.Purpose) error {
	return s.Mailer.SendCode(ctx, mailer.CodeMessage{To: to, Purpose: purpose, Code: code})
}

func (s *Service) hashPassword(pw string) (string, error) {
	hash, err := s.Passwords.Hash(pw)
	if password.IsPolicyViolation(err) {
		return "", codes.New(codes.PasswordTooWeak)
	}
	return hash, err
}

// loadUser maps a missing user to code.
func (s *Service) loadUser(ctx context.Context, userID string, code codes.Code) (identity.User, error) {
	u, err := s.Users.GetUser(ctx, userID)
	if identity.IsNotFound(err) {
		return identity.User{}, codes.New(code)
	}
	return u, err
}

// Sweep deletes expired records of every kind and returns the counts by kind.
func (s *Service) Sweep(ctx context.Context) (map[string]int64, error) {
	type sweeper interface {
		Sweep(ctx context.Context) (int64, error)
	}
	kinds := []struct {
		name string
		l    sweeper
	}{
		{"sessions", s.Sessions},
		{string(session.KindSignup), s.Signups},
		{string(session.KindEmailVerification), s.EmailVerifications},
		{string(session.KindPasswordReset), s.PasswordResets},
		{"account_association", s.Associations},
	}
	out := make(map[string]int64, len(kinds))
	for _, k := range kinds {
		n, err := k.l.Sweep(ctx)
		if err != nil {
			return out, err
		}
		out[k.name] = n
	}
	return out, nil
}

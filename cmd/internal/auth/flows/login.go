package flows

import (
	"context"
	"strings"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/ratelimit"
)

// LoginResult is a successful password login.
type LoginResult struct {
	User    identity.User
	Session session.Issued
}

// Login checks email and password and starts a session.
//
// The IP bucket throttles spraying from one address; the email bucket
// throttles a targeted account across many addresses. Unknown emails, OAuth-only
// accounts and wrong passwords all yield INVALID_CREDENTIALS.
func (s *Service) Login(ctx context.Context, ip, email, pw string) (LoginResult, error) {
	email = identity.NormalizeEmail(email)
	if email == "" || pw == "" {
		return LoginResult{}, codes.New(codes.InvalidRequest)
	}

	if err := s.consume(ctx, ratelimit.PrefixLogin, ip, 1); err != nil {
		return LoginResult{}, err
	}
	if err := s.consume(ctx, ratelimit.PrefixLogin, email, ratelimit.CostPerEmail); err != nil {
		return LoginResult{}, err
	}

	u, err := s.Users.GetUserByEmail(ctx, email)
	if identity.IsNotFound(err) {
		_ = s.Passwords.Verify(pw, s.dummyHash)
		return LoginResult{}, codes.New(codes.InvalidCredentials)
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !u.HasPassword() {
		_ = s.Passwords.Verify(pw, s.dummyHash)
		return LoginResult{}, codes.New(codes.InvalidCredentials)
	}
	if !s.Passwords.Verify(pw, *u.PasswordHash) {
		s.Logger.Info("auth.login.fail", "user_id", u.ID)
		return LoginResult{}, codes.New(codes.InvalidCredentials)
	}

	issued, err := s.issueSession(ctx, u.ID, "login")
	if err != nil {
		return LoginResult{}, err
	}
	s.Logger.Info("auth.login.ok", "user_id", u.ID, "session_id", issued.Session.ID)
	return LoginResult{User: u, Session: issued}, nil
}

// Auth is an authenticated request context.
type Auth struct {
	User    identity.User
	Session session.Validated
}

// Authenticate validates a session token, applying sliding refresh, and
// loads its user. A session whose user is gone is revoked.
func (s *Service) Authenticate(ctx context.Context, tok string) (Auth, error) {
	v, err := s.Sessions.Validate(ctx, strings.TrimSpace(tok))
	if err != nil {
		return Auth{}, err
	}
	u, err := s.Users.GetUser(ctx, v.Session.UserID)
	if identity.IsNotFound(err) {
		if err := s.Sessions.Revoke(ctx, v.Session.ID); err != nil {
			return Auth{}, err
		}
		return Auth{}, codes.New(codes.SessionInvalid)
	}
	if err != nil {
		return Auth{}, err
	}
	if v.Refreshed {
		s.Logger.Debug("auth.session.refresh", "session_id", v.Session.ID, "expires_at", v.ExpiresAt)
	}
	return Auth{User: u, Session: v}, nil
}

// Logout revokes the session behind tok. Logging out twice is not an error.
func (s *Service) Logout(ctx context.Context, tok string) error {
	v, err := s.Sessions.Validate(ctx, tok)
	if err != nil {
		if codes.Has(err, codes.SessionInvalid) || codes.Has(err, codes.SessionExpired) {
			return nil
		}
		return err
	}
	return s.Sessions.Revoke(ctx, v.Session.ID)
}

// LogoutAll revokes every session of userID.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.Sessions.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	s.Logger.Info("auth.logout_all", "user_id", userID)
	return nil
}

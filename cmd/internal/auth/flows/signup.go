package flows

import (
	"context"
	"strings"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/mailer"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/ratelimit"
)

const maxNameLength = 64

// Pending is an ephemeral session handed to the client. The code travels by email only.
type Pending struct {
	Token     string
	ExpiresAt time.Time
}

// SignupRequest opens a signup session for email and mails its code.
// Earlier signup sessions for the same email are discarded.
func (s *Service) SignupRequest(ctx context.Context, ip, email string) (Pending, error) {
	email = identity.NormalizeEmail(email)
	if !looksLikeEmail(email) {
		return Pending{}, codes.New(codes.InvalidRequest)
	}
	if err := s.consume(ctx, ratelimit.PrefixSignupRequest, ip, 1); err != nil {
		return Pending{}, err
	}
	if err := s.consume(ctx, ratelimit.PrefixSignupRequest, email, 1); err != nil {
		return Pending{}, err
	}

	if err := s.ensureEmailFree(ctx, email); err != nil {
		return Pending{}, err
	}
	if err := s.Signups.RevokeAllForEmail(ctx, email); err != nil {
		return Pending{}, err
	}
	issued, err := s.Signups.Create(ctx, session.EphemeralInput{Email: email})
	if err != nil {
		return Pending{}, err
	}
	if err := s.sendCode(ctx, email, issued.Record.Code, mailer.PurposeSignup); err != nil {
		_ = s.Signups.Revoke(ctx, issued.Record.ID)
		return Pending{}, err
	}
	s.Logger.Info("auth.signup.request", "signup_id", issued.Record.ID, "email", identity.MaskEmail(email))
	return Pending{Token: issued.Token, ExpiresAt: issued.Record.ExpiresAt}, nil
}

// SignupVerifyEmail checks the emailed code. Guesses are charged against the
// signup session itself, so rotating addresses does not buy more attempts.
func (s *Service) SignupVerifyEmail(ctx context.Context, tok, code string) error {
	rec, err := s.Signups.Validate(ctx, tok)
	if err != nil {
		return err
	}
	if err := s.consume(ctx, ratelimit.PrefixSignupVerifyEmail, rec.ID, ratelimit.CostCodeAttempt); err != nil {
		return err
	}
	if _, err := s.Signups.VerifyCode(ctx, rec, strings.TrimSpace(code)); err != nil {
		return err
	}
	s.Logger.Info("auth.signup.verified", "signup_id", rec.ID)
	return nil
}

// SignupInput completes a verified signup.
type SignupInput struct {
	Token    string
	Name     string
	Password string
}

// SignupConfirm creates the user behind a verified signup session and logs it in.
func (s *Service) SignupConfirm(ctx context.Context, ip string, in SignupInput) (LoginResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxNameLength || in.Password == "" {
		return LoginResult{}, codes.New(codes.InvalidRequest)
	}
	if err := s.consume(ctx, ratelimit.PrefixSignupConfirm, ip, 1); err != nil {
		return LoginResult{}, err
	}

	rec, err := s.Signups.Validate(ctx, in.Token)
	if err != nil {
		return LoginResult{}, err
	}
	if !rec.EmailVerified {
		return LoginResult{}, codes.New(codes.EmailNotVerified)
	}
	if err := s.ensureEmailFree(ctx, rec.Email); err != nil {
		return LoginResult{}, err
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return LoginResult{}, err
	}
	u, err := s.Users.CreateUser(ctx, identity.CreateUserInput{
		Email:         rec.Email,
		EmailVerified: true,
		Name:          name,
		PasswordHash:  &hash,
		Now:           s.Now(),
	})
	if identity.IsConflict(err) {
		return LoginResult{}, codes.New(codes.EmailAlreadyRegistered)
	}
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.Signups.Revoke(ctx, rec.ID); err != nil {
		return LoginResult{}, err
	}

	issued, err := s.issueSession(ctx, u.ID, "signup")
	if err != nil {
		return LoginResult{}, err
	}
	s.Logger.Info("auth.signup.ok", "user_id", u.ID, "session_id", issued.Session.ID)
	return LoginResult{User: u, Session: issued}, nil
}

func (s *Service) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.Users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return codes.New(codes.EmailAlreadyRegistered)
	case identity.IsNotFound(err):
		return nil
	default:
		return err
	}
}

// looksLikeEmail is a shape check only. Deliverability is proven by the code.
func looksLikeEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at != strings.LastIndexByte(email, '@') || len(email) > 254 {
		return false
	}
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

package flows

import (
	"context"
	"strings"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/mailer"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/ratelimit"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

// PasswordResetRequest opens a reset session for the account behind email.
//
// An unknown email gets a well-formed token that matches no record and no mail
// is sent, so the response does not reveal whether the account exists.
func (s *Service) PasswordResetRequest(ctx context.Context, ip, email string) (Pending, error) {
	email = identity.NormalizeEmail(email)
	if !looksLikeEmail(email) {
		return Pending{}, codes.New(codes.InvalidRequest)
	}
	if err := s.consume(ctx, ratelimit.PrefixPasswordResetRequest, ip, 1); err != nil {
		return Pending{}, err
	}
	if err := s.consume(ctx, ratelimit.PrefixPasswordResetRequest, email, 1); err != nil {
		return Pending{}, err
	}

	u, err := s.Users.GetUserByEmail(ctx, email)
	if identity.IsNotFound(err) {
		s.Logger.Info("auth.password_reset.request.unknown", "email", identity.MaskEmail(email))
		return s.decoyReset()
	}
	if err != nil {
		return Pending{}, err
	}

	if err := s.PasswordResets.RevokeAllForUser(ctx, u.ID); err != nil {
		return Pending{}, err
	}
	issued, err := s.PasswordResets.Create(ctx, session.EphemeralInput{Email: u.Email, UserID: &u.ID})
	if err != nil {
		return Pending{}, err
	}
	if err := s.sendCode(ctx, u.Email, issued.Record.Code, mailer.PurposePasswordReset); err != nil {
		_ = s.PasswordResets.Revoke(ctx, issued.Record.ID)
		return Pending{}, err
	}
	s.Logger.Info("auth.password_reset.request", "user_id", u.ID, "reset_id", issued.Record.ID)
	return Pending{Token: issued.Token, ExpiresAt: issued.Record.ExpiresAt}, nil
}

func (s *Service) decoyReset() (Pending, error) {
	id, err := token.NewID()
	if err != nil {
		return Pending{}, err
	}
	secret, err := token.NewSecret()
	if err != nil {
		return Pending{}, err
	}
	return Pending{
		Token:     token.Format(id, secret),
		ExpiresAt: s.PasswordResets.Policy().ExpiresAt(s.PasswordResets.Now()),
	}, nil
}

// PasswordResetVerifyEmail checks the emailed code for a reset session.
func (s *Service) PasswordResetVerifyEmail(ctx context.Context, tok, code string) error {
	rec, err := s.PasswordResets.Validate(ctx, tok)
	if err != nil {
		return err
	}
	if err := s.consume(ctx, ratelimit.PrefixPasswordResetVerifyEmail, rec.ID, ratelimit.CostCodeAttempt); err != nil {
		return err
	}
	if _, err := s.PasswordResets.VerifyCode(ctx, rec, strings.TrimSpace(code)); err != nil {
		return err
	}
	s.Logger.Info("auth.password_reset.verified", "reset_id", rec.ID)
	return nil
}

// PasswordResetComplete sets a new password through a verified reset session.
// Every reset session and every login session of the user is revoked before a
// fresh session is issued.
func (s *Service) PasswordResetComplete(ctx context.Context, ip, tok, newPassword string) (LoginResult, error) {
	if newPassword == "" {
		return LoginResult{}, codes.New(codes.InvalidRequest)
	}
	if err := s.consume(ctx, ratelimit.PrefixPasswordResetComplete, ip, 1); err != nil {
		return LoginResult{}, err
	}

	rec, err := s.PasswordResets.Validate(ctx, tok)
	if err != nil {
		return LoginResult{}, err
	}
	if !rec.EmailVerified {
		return LoginResult{}, codes.New(codes.EmailNotVerified)
	}
	if rec.UserID == nil {
		_ = s.PasswordResets.Revoke(ctx, rec.ID)
		return LoginResult{}, codes.New(codes.PasswordResetSessionInvalid)
	}
	u, err := s.loadUser(ctx, *rec.UserID, codes.UserNotFound)
	if err != nil {
		return LoginResult{}, err
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.Users.UpdatePassword(ctx, u.ID, identity.PasswordUpdate{PasswordHash: hash, UpdatedAt: s.Now()}); err != nil {
		return LoginResult{}, err
	}
	u.PasswordHash = &hash

	if err := s.PasswordResets.RevokeAllForUser(ctx, u.ID); err != nil {
		return LoginResult{}, err
	}
	if err := s.Sessions.RevokeAllForUser(ctx, u.ID); err != nil {
		return LoginResult{}, err
	}
	issued, err := s.issueSession(ctx, u.ID, "password_reset")
	if err != nil {
		return LoginResult{}, err
	}
	s.Logger.Info("auth.password_reset.ok", "user_id", u.ID, "session_id", issued.Session.ID)
	return LoginResult{User: u, Session: issued}, nil
}

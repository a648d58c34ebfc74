package flows

import (
	"context"
	"strings"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/mailer"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/ratelimit"
)

// EmailVerificationRequest mails a code proving ownership of the user's
// current email, or of newEmail when it is set.
func (s *Service) EmailVerificationRequest(ctx context.Context, userID string, newEmail *string) (Pending, error) {
	if err := s.consume(ctx, ratelimit.PrefixEmailVerificationRequest, userID, 1); err != nil {
		return Pending{}, err
	}
	u, err := s.loadUser(ctx, userID, codes.UserNotFound)
	if err != nil {
		return Pending{}, err
	}

	target := u.Email
	if newEmail != nil {
		target = identity.NormalizeEmail(*newEmail)
		if !looksLikeEmail(target) {
			return Pending{}, codes.New(codes.InvalidRequest)
		}
	}
	switch {
	case target == u.Email && u.EmailVerified:
		return Pending{}, codes.New(codes.AlreadyVerified)
	case target != u.Email:
		if err := s.ensureEmailFree(ctx, target); err != nil {
			return Pending{}, err
		}
	}

	if err := s.EmailVerifications.RevokeAllForUser(ctx, u.ID); err != nil {
		return Pending{}, err
	}
	issued, err := s.EmailVerifications.Create(ctx, session.EphemeralInput{Email: target, UserID: &u.ID})
	if err != nil {
		return Pending{}, err
	}
	if err := s.sendCode(ctx, target, issued.Record.Code, mailer.PurposeEmailVerification); err != nil {
		_ = s.EmailVerifications.Revoke(ctx, issued.Record.ID)
		return Pending{}, err
	}
	s.Logger.Info("auth.email_verification.request", "user_id", u.ID, "verification_id", issued.Record.ID)
	return Pending{Token: issued.Token, ExpiresAt: issued.Record.ExpiresAt}, nil
}

// EmailVerificationConfirm applies the verified email to the caller's account.
func (s *Service) EmailVerificationConfirm(ctx context.Context, userID, tok, code string) (identity.User, error) {
	rec, err := s.EmailVerifications.Validate(ctx, tok)
	if err != nil {
		return identity.User{}, err
	}
	if rec.UserID == nil || *rec.UserID != userID {
		return identity.User{}, codes.New(codes.EmailVerificationSessionInvalid)
	}
	if err := s.consume(ctx, ratelimit.PrefixEmailVerificationConfirm, rec.ID, ratelimit.CostCodeAttempt); err != nil {
		return identity.User{}, err
	}
	// The record is consumed below, so a replayed confirm reports the session as gone.
	if _, err := s.EmailVerifications.VerifyCode(ctx, rec, strings.TrimSpace(code)); err != nil {
		return identity.User{}, err
	}

	err = s.Users.UpdateEmail(ctx, userID, identity.EmailUpdate{Email: rec.Email, Verified: true, UpdatedAt: s.Now()})
	switch {
	case identity.IsConflict(err):
		_ = s.EmailVerifications.Revoke(ctx, rec.ID)
		return identity.User{}, codes.New(codes.EmailAlreadyRegistered)
	case identity.IsNotFound(err):
		return identity.User{}, codes.New(codes.UserNotFound)
	case err != nil:
		return identity.User{}, err
	}
	if err := s.EmailVerifications.Revoke(ctx, rec.ID); err != nil {
		return identity.User{}, err
	}

	s.Logger.Info("auth.email_verification.ok", "user_id", userID)
	return s.loadUser(ctx, userID, codes.UserNotFound)
}

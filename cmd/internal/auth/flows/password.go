package flows

import (
	"context"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/ratelimit"
)

// UpdatePassword changes or, for provider-only accounts, sets the password.
// current is required whenever the account already has a password. All
// sessions are revoked and the caller receives a new one.
func (s *Service) UpdatePassword(ctx context.Context, userID string, current *string, newPassword string) (session.Issued, error) {
	if newPassword == "" {
		return session.Issued{}, codes.New(codes.InvalidRequest)
	}
	if err := s.consume(ctx, ratelimit.PrefixUpdatePassword, userID, 1); err != nil {
		return session.Issued{}, err
	}
	u, err := s.loadUser(ctx, userID, codes.UserNotFound)
	if err != nil {
		return session.Issued{}, err
	}

	if u.HasPassword() {
		if current == nil || !s.Passwords.Verify(*current, *u.PasswordHash) {
			s.Logger.Info("auth.password.update.fail", "user_id", u.ID)
			return session.Issued{}, codes.New(codes.InvalidCurrentPassword)
		}
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return session.Issued{}, err
	}
	if err := s.Users.UpdatePassword(ctx, u.ID, identity.PasswordUpdate{PasswordHash: hash, UpdatedAt: s.Now()}); err != nil {
		return session.Issued{}, err
	}
	if err := s.Sessions.RevokeAllForUser(ctx, u.ID); err != nil {
		return session.Issued{}, err
	}
	issued, err := s.issueSession(ctx, u.ID, "password_update")
	if err != nil {
		return session.Issued{}, err
	}
	s.Logger.Info("auth.password.update.ok", "user_id", u.ID, "session_id", issued.Session.ID)
	return issued, nil
}

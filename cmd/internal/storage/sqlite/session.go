package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
)

// table is the part shared by every session store. Table names are constants, never input.
type table struct {
	db   *sql.DB
	name string
}

func (t table) Delete(ctx context.Context, id string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE id = ?`, id)
	return err
}

func (t table) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE user_id = ?`, userID)
	return err
}

func (t table) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t table) exec1(ctx context.Context, q string, args ...any) error {
	res, err := t.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	return oneRow(res, session.ErrNotFound)
}

func insertErr(err error) error {
	if isUniqueViolation(err) {
		return session.ErrDuplicateID
	}
	return err
}

func getErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return session.ErrNotFound
	}
	return err
}

// SessionStore implements session.SessionStore.
type SessionStore struct{ table }

var _ session.SessionStore = (*SessionStore)(nil)

// NewSessionStore returns the login session store over db.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{table{db: db.Conn, name: "sessions"}}
}

func (s *SessionStore) Get(ctx context.Context, id string) (session.Session, error) {
	var (
		r       session.Session
		expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, secret_hash, expires_at FROM sessions WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &r.SecretHash, &expires)
	if err != nil {
		return session.Session{}, getErr(err)
	}
	r.ExpiresAt = fromMillis(expires)
	return r, nil
}

func (s *SessionStore) Insert(ctx context.Context, r session.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, secret_hash, expires_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.UserID, r.SecretHash, toMillis(r.ExpiresAt))
	return insertErr(err)
}

func (s *SessionStore) UpdateExpiry(ctx context.Context, id string, up session.ExpiryUpdate) error {
	return s.exec1(ctx, `UPDATE sessions SET expires_at = MAX(expires_at, ?) WHERE id = ?`, toMillis(up.ExpiresAt), id)
}

// Ephemeral tables by kind.
var ephemeralTables = map[session.Kind]string{
	session.KindSignup:            "signup_sessions",
	session.KindEmailVerification: "email_verification_sessions",
	session.KindPasswordReset:     "password_reset_sessions",
}

// EphemeralStore implements session.EphemeralStore for one kind.
type EphemeralStore struct {
	table
	kind session.Kind
}

var _ session.EphemeralStore = (*EphemeralStore)(nil)

// NewEphemeralStore returns the store for kind.
func NewEphemeralStore(db *DB, kind session.Kind) (*EphemeralStore, error) {
	name, ok := ephemeralTables[kind]
	if !ok {
		return nil, fmt.Errorf("sqlite: unknown ephemeral kind %q", kind)
	}
	return &EphemeralStore{table: table{db: db.Conn, name: name}, kind: kind}, nil
}

func (s *EphemeralStore) Get(ctx context.Context, id string) (session.Ephemeral, error) {
	r := session.Ephemeral{Kind: s.kind}
	var (
		userID  sql.NullString
		expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, email, code, secret_hash, email_verified, expires_at FROM `+s.name+` WHERE id = ?`, id,
	).Scan(&r.ID, &userID, &r.Email, &r.Code, &r.SecretHash, &r.EmailVerified, &expires)
	if err != nil {
		return session.Ephemeral{}, getErr(err)
	}
	if userID.Valid {
		r.UserID = &userID.String
	}
	r.ExpiresAt = fromMillis(expires)
	return r, nil
}

func (s *EphemeralStore) Insert(ctx context.Context, r session.Ephemeral) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.name+` (id, user_id, email, code, secret_hash, email_verified, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Email, r.Code, r.SecretHash, r.EmailVerified, toMillis(r.ExpiresAt))
	return insertErr(err)
}

func (s *EphemeralStore) MarkVerified(ctx context.Context, id string, up session.VerifiedUpdate) error {
	return s.exec1(ctx,
		`UPDATE `+s.name+` SET email_verified = 1, expires_at = MAX(expires_at, ?)
		 WHERE id = ? AND email_verified = 0`,
		toMillis(up.ExpiresAt), id)
}

func (s *EphemeralStore) DeleteAllForEmail(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.name+` WHERE email = ?`, email)
	return err
}

// AssociationStore implements session.AssociationStore.
type AssociationStore struct{ table }

var _ session.AssociationStore = (*AssociationStore)(nil)

// NewAssociationStore returns the account association store over db.
func NewAssociationStore(db *DB) *AssociationStore {
	return &AssociationStore{table{db: db.Conn, name: "account_association_sessions"}}
}

func (s *AssociationStore) Get(ctx context.Context, id string) (session.AccountAssociation, error) {
	var (
		r        session.AccountAssociation
		provider string
		expires  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, email, code, secret_hash, expires_at
		   FROM account_association_sessions WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &provider, &r.ProviderUserID, &r.Email, &r.Code, &r.SecretHash, &expires)
	if err != nil {
		return session.AccountAssociation{}, getErr(err)
	}
	r.Provider = identity.Provider(provider)
	r.ExpiresAt = fromMillis(expires)
	return r, nil
}

func (s *AssociationStore) Insert(ctx context.Context, r session.AccountAssociation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_association_sessions (id, user_id, provider, provider_user_id, email, code, secret_hash, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, string(r.Provider), r.ProviderUserID, r.Email, r.Code, r.SecretHash, toMillis(r.ExpiresAt))
	return insertErr(err)
}

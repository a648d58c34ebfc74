package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/identity/ids"
)

// IdentityStore implements identity.Store.
type IdentityStore struct {
	db *sql.DB
}

var _ identity.Store = (*IdentityStore)(nil)

// NewIdentityStore returns an identity store over db.
func NewIdentityStore(db *DB) *IdentityStore { return &IdentityStore{db: db.Conn} }

const userColumns = `id, email, email_verified, name, password_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (identity.User, error) {
	var (
		u                identity.User
		hash             sql.NullString
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.EmailVerified, &u.Name, &hash, &created, &updated); err != nil {
		return identity.User{}, err
	}
	if hash.Valid {
		u.PasswordHash = &hash.String
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return u, nil
}

// classify maps a constraint violation to the identity error contract.
func classify(op string, err error) error {
	if isForeignKeyViolation(err) {
		return identity.NotFoundError{Op: op, Resource: "user"}
	}
	if !isUniqueViolation(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "users.email"):
		return identity.ConflictError{Op: op, Field: identity.FieldEmail}
	case strings.Contains(msg, "external_identities.user_id"):
		return identity.ConflictError{Op: op, Field: identity.FieldUserProvider}
	case strings.Contains(msg, "external_identities.provider"):
		return identity.ConflictError{Op: op, Field: identity.FieldProviderIdentity}
	default:
		return identity.ConflictError{Op: op, Field: "unique"}
	}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func (s *IdentityStore) CreateUser(ctx context.Context, in identity.CreateUserInput) (identity.User, error) {
	const op = "identity.CreateUser"

	in, err := identity.ValidateCreate(op, in)
	if err != nil {
		return identity.User{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return identity.User{}, err
	}
	now := time.UnixMilli(in.Now.UnixMilli()).UTC()
	name := strings.TrimSpace(in.Name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, in.Email, in.EmailVerified, name, in.PasswordHash, toMillis(now), toMillis(now))
	if err != nil {
		return identity.User{}, classify(op, err)
	}
	if in.Identity != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO external_identities (provider, provider_user_id, user_id, linked_at) VALUES (?, ?, ?, ?)`,
			string(in.Identity.Provider), in.Identity.ProviderUserID, id, toMillis(now))
		if err != nil {
			return identity.User{}, classify(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return identity.User{}, err
	}

	return identity.User{
		ID:            id,
		Email:         in.Email,
		EmailVerified: in.EmailVerified,
		Name:          name,
		PasswordHash:  in.PasswordHash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *IdentityStore) GetUser(ctx context.Context, id string) (identity.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.NotFoundError{Op: "identity.GetUser", Resource: "user"}
	}
	return u, err
}

func (s *IdentityStore) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, identity.NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.NotFoundError{Op: "identity.GetUserByEmail", Resource: "user"}
	}
	return u, err
}

func (s *IdentityStore) UpdateEmail(ctx context.Context, id string, up identity.EmailUpdate) error {
	const op = "identity.UpdateEmail"
	email := identity.NormalizeEmail(up.Email)
	if email == "" {
		return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "email is required"}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email = ?, email_verified = ?, updated_at = ? WHERE id = ?`,
		email, up.Verified, toMillis(stamp(up.UpdatedAt)), id)
	if err != nil {
		return classify(op, err)
	}
	return oneRow(res, identity.NotFoundError{Op: op, Resource: "user"})
}

func (s *IdentityStore) UpdatePassword(ctx context.Context, id string, up identity.PasswordUpdate) error {
	const op = "identity.UpdatePassword"
	if up.PasswordHash == "" {
		return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "password hash is required"}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		up.PasswordHash, toMillis(stamp(up.UpdatedAt)), id)
	if err != nil {
		return err
	}
	return oneRow(res, identity.NotFoundError{Op: op, Resource: "user"})
}

func (s *IdentityStore) GetIdentity(ctx context.Context, provider identity.Provider, providerUserID string) (identity.ExternalIdentity, error) {
	return s.getIdentity(ctx, "identity.GetIdentity",
		`SELECT provider, provider_user_id, user_id, linked_at FROM external_identities
		  WHERE provider = ? AND provider_user_id = ?`,
		string(provider), providerUserID)
}

func (s *IdentityStore) GetIdentityForUser(ctx context.Context, userID string, provider identity.Provider) (identity.ExternalIdentity, error) {
	return s.getIdentity(ctx, "identity.GetIdentityForUser",
		`SELECT provider, provider_user_id, user_id, linked_at FROM external_identities
		  WHERE user_id = ? AND provider = ?`,
		userID, string(provider))
}

func (s *IdentityStore) ListIdentities(ctx context.Context, userID string) ([]identity.ExternalIdentity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, provider_user_id, user_id, linked_at FROM external_identities
		  WHERE user_id = ? ORDER BY provider`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []identity.ExternalIdentity
	for rows.Next() {
		var (
			ei       identity.ExternalIdentity
			provider string
			linked   int64
		)
		if err := rows.Scan(&provider, &ei.ProviderUserID, &ei.UserID, &linked); err != nil {
			return nil, err
		}
		ei.Provider = identity.Provider(provider)
		ei.LinkedAt = fromMillis(linked)
		out = append(out, ei)
	}
	return out, rows.Err()
}

func (s *IdentityStore) getIdentity(ctx context.Context, op, q string, args ...any) (identity.ExternalIdentity, error) {
	var (
		ei       identity.ExternalIdentity
		provider string
		linked   int64
	)
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&provider, &ei.ProviderUserID, &ei.UserID, &linked)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.ExternalIdentity{}, identity.NotFoundError{Op: op, Resource: "external_identity"}
	}
	if err != nil {
		return identity.ExternalIdentity{}, err
	}
	ei.Provider = identity.Provider(provider)
	ei.LinkedAt = fromMillis(linked)
	return ei, nil
}

func (s *IdentityStore) LinkIdentity(ctx context.Context, in identity.ExternalIdentity) error {
	const op = "identity.LinkIdentity"
	if !in.Provider.Valid() || in.ProviderUserID == "" || in.UserID == "" {
		return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "invalid external identity"}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO external_identities (provider, provider_user_id, user_id, linked_at) VALUES (?, ?, ?, ?)`,
		string(in.Provider), in.ProviderUserID, in.UserID, toMillis(stamp(in.LinkedAt)))
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func (s *IdentityStore) UnlinkIdentity(ctx context.Context, userID string, provider identity.Provider) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM external_identities WHERE user_id = ? AND provider = ?`, userID, string(provider))
	if err != nil {
		return err
	}
	return oneRow(res, identity.NotFoundError{Op: "identity.UnlinkIdentity", Resource: "external_identity"})
}

func oneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

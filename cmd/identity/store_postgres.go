package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity/ids"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are quoted with pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSchema is the Postgres schema used when WithSchema is not given.
const DefaultSchema = "monaca"

// WithSchema sets the Postgres schema used by the identity store (default "monaca").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !PGIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, email, email_verified, name, password_hash, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.EmailVerified, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// CreateUser inserts a user and, when requested, its first external identity in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, err := ValidateCreate(op, in)
	if err != nil {
		return User{}, err
	}

	userID, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "users")+` (
		     id, email, email_verified, name, password_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		userID, in.Email, in.EmailVerified, strings.TrimSpace(in.Name), in.PasswordHash, in.Now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	if in.Identity != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO `+pgIdent(s.schema, "external_identities")+` (provider, provider_user_id, user_id, linked_at)
			 VALUES ($1, $2, $3, $4)`,
			string(in.Identity.Provider), in.Identity.ProviderUserID, userID, in.Now,
		)
		if err != nil {
			if field, ok := pgClassifyUniqueViolation(err); ok {
				return User{}, ConflictError{Op: op, Field: field}
			}
			return User{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}

	return User{
		ID:            userID,
		Email:         in.Email,
		EmailVerified: in.EmailVerified,
		Name:          strings.TrimSpace(in.Name),
		PasswordHash:  in.PasswordHash,
		CreatedAt:     in.Now,
		UpdatedAt:     in.Now,
	}, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUser"
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+pgIdent(s.schema, "users")+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, err
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+pgIdent(s.schema, "users")+` WHERE email = $1`, NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, err
}

func (s *PostgresStore) UpdateEmail(ctx context.Context, id string, up EmailUpdate) error {
	const op = "identity.UpdateEmail"
	email := NormalizeEmail(up.Email)
	if email == "" {
		return invalid(op, "email is required")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "users")+`
		    SET email = $2, email_verified = $3, updated_at = $4
		  WHERE id = $1`,
		id, email, up.Verified, pgNow(up.UpdatedAt),
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, id string, up PasswordUpdate) error {
	const op = "identity.UpdatePassword"
	if up.PasswordHash == "" {
		return invalid(op, "password hash is required")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "users")+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, up.PasswordHash, pgNow(up.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, provider Provider, providerUserID string) (ExternalIdentity, error) {
	const op = "identity.GetIdentity"
	return s.getIdentity(ctx, op,
		`SELECT provider, provider_user_id, user_id, linked_at FROM `+pgIdent(s.schema, "external_identities")+`
		  WHERE provider = $1 AND provider_user_id = $2`,
		string(provider), providerUserID)
}

func (s *PostgresStore) GetIdentityForUser(ctx context.Context, userID string, provider Provider) (ExternalIdentity, error) {
	const op = "identity.GetIdentityForUser"
	return s.getIdentity(ctx, op,
		`SELECT provider, provider_user_id, user_id, linked_at FROM `+pgIdent(s.schema, "external_identities")+`
		  WHERE user_id = $1 AND provider = $2`,
		userID, string(provider))
}

func (s *PostgresStore) ListIdentities(ctx context.Context, userID string) ([]ExternalIdentity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider, provider_user_id, user_id, linked_at FROM `+pgIdent(s.schema, "external_identities")+`
		  WHERE user_id = $1 ORDER BY provider`,
		userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ExternalIdentity, error) {
		var (
			ei       ExternalIdentity
			provider string
		)
		err := row.Scan(&provider, &ei.ProviderUserID, &ei.UserID, &ei.LinkedAt)
		ei.Provider = Provider(provider)
		return ei, err
	})
}

func (s *PostgresStore) getIdentity(ctx context.Context, op, q string, args ...any) (ExternalIdentity, error) {
	var (
		ei       ExternalIdentity
		provider string
	)
	err := s.pool.QueryRow(ctx, q, args...).Scan(&provider, &ei.ProviderUserID, &ei.UserID, &ei.LinkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ExternalIdentity{}, NotFoundError{Op: op, Resource: "external_identity"}
	}
	if err != nil {
		return ExternalIdentity{}, err
	}
	ei.Provider = Provider(provider)
	return ei, nil
}

func (s *PostgresStore) LinkIdentity(ctx context.Context, in ExternalIdentity) error {
	const op = "identity.LinkIdentity"
	if !in.Provider.Valid() || in.ProviderUserID == "" || in.UserID == "" {
		return invalid(op, "invalid external identity")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "external_identities")+` (provider, provider_user_id, user_id, linked_at)
		 VALUES ($1, $2, $3, $4)`,
		string(in.Provider), in.ProviderUserID, in.UserID, pgNow(in.LinkedAt),
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		if pgIsForeignKeyViolation(err) {
			return NotFoundError{Op: op, Resource: "user"}
		}
		return err
	}
	return nil
}

func (s *PostgresStore) UnlinkIdentity(ctx context.Context, userID string, provider Provider) error {
	const op = "identity.UnlinkIdentity"
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgIdent(s.schema, "external_identities")+` WHERE user_id = $1 AND provider = $2`,
		userID, string(provider),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "external_identity"}
	}
	return nil
}

func pgNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// PGIdentIsValid checks if a string is a safe Postgres identifier.
func PGIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_email":
		return FieldEmail, true
	case "pk_external_identities":
		return FieldProviderIdentity, true
	case "uq_external_identities_user_provider":
		return FieldUserProvider, true
	default:
		switch {
		case strings.Contains(c, "email"):
			return FieldEmail, true
		case strings.Contains(c, "user_provider"):
			return FieldUserProvider, true
		case strings.Contains(c, "external_identities"):
			return FieldProviderIdentity, true
		default:
			return "unique", true
		}
	}
}

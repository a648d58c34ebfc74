package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/storage/pgschema"
)

// pgTable is the part shared by every Postgres session store.
// The pgx pool is owned by the caller; stores must NOT close it.
type pgTable struct {
	pool  *pgxpool.Pool
	table string
}

func newPGTable(pool *pgxpool.Pool, schema, table string) (pgTable, error) {
	if pool == nil {
		return pgTable{}, fmt.Errorf("session: nil pool")
	}
	if schema == "" {
		schema = identity.DefaultSchema
	}
	if !identity.PGIdentIsValid(schema) {
		return pgTable{}, fmt.Errorf("session: invalid schema identifier")
	}
	return pgTable{pool: pool, table: pgx.Identifier{schema, table}.Sanitize()}, nil
}

func (t pgTable) delete(ctx context.Context, where string, arg any) error {
	_, err := t.pool.Exec(ctx, `DELETE FROM `+t.table+` WHERE `+where, arg)
	return err
}

func (t pgTable) Delete(ctx context.Context, id string) error {
	return t.delete(ctx, `id = $1`, id)
}

func (t pgTable) DeleteAllForUser(ctx context.Context, userID string) error {
	return t.delete(ctx, `user_id = $1`, userID)
}

func (t pgTable) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := t.pool.Exec(ctx, `DELETE FROM `+t.table+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t pgTable) exec1(ctx context.Context, sql string, args ...any) error {
	tag, err := t.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func pgInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateID
	}
	return err
}

func pgGetErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// PostgresSessionStore implements SessionStore over <schema>.sessions.
type PostgresSessionStore struct{ pgTable }

var _ SessionStore = (*PostgresSessionStore)(nil)

// NewPostgresSessionStore returns a store for schema (default "monaca").
func NewPostgresSessionStore(pool *pgxpool.Pool, schema string) (*PostgresSessionStore, error) {
	t, err := newPGTable(pool, schema, "sessions")
	if err != nil {
		return nil, err
	}
	return &PostgresSessionStore{t}, nil
}

func (s *PostgresSessionStore) Get(ctx context.Context, id string) (Session, error) {
	var r Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, secret_hash, expires_at FROM `+s.table+` WHERE id = $1`, id,
	).Scan(&r.ID, &r.UserID, &r.SecretHash, &r.ExpiresAt)
	if err != nil {
		return Session{}, pgGetErr(err)
	}
	return r, nil
}

func (s *PostgresSessionStore) Insert(ctx context.Context, r Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (id, user_id, secret_hash, expires_at) VALUES ($1, $2, $3, $4)`,
		r.ID, r.UserID, r.SecretHash, r.ExpiresAt,
	)
	return pgInsertErr(err)
}

func (s *PostgresSessionStore) UpdateExpiry(ctx context.Context, id string, up ExpiryUpdate) error {
	return s.exec1(ctx,
		`UPDATE `+s.table+` SET expires_at = GREATEST(expires_at, $2) WHERE id = $1`, id, up.ExpiresAt)
}

// PostgresEphemeralStore implements EphemeralStore over one per-kind table.
type PostgresEphemeralStore struct {
	pgTable
	kind Kind
}

var _ EphemeralStore = (*PostgresEphemeralStore)(nil)

// EphemeralTable returns the table backing kind.
func EphemeralTable(kind Kind) string {
	switch kind {
	case KindSignup:
		return pgschema.TableSignup
	case KindEmailVerification:
		return pgschema.TableEmailVerification
	case KindPasswordReset:
		return pgschema.TablePasswordReset
	default:
		return ""
	}
}

// NewPostgresEphemeralStore returns the store for kind in schema (default "monaca").
func NewPostgresEphemeralStore(pool *pgxpool.Pool, schema string, kind Kind) (*PostgresEphemeralStore, error) {
	table := EphemeralTable(kind)
	if table == "" {
		return nil, fmt.Errorf("session: unknown ephemeral kind %q", kind)
	}
	t, err := newPGTable(pool, schema, table)
	if err != nil {
		return nil, err
	}
	return &PostgresEphemeralStore{pgTable: t, kind: kind}, nil
}

func (s *PostgresEphemeralStore) Get(ctx context.Context, id string) (Ephemeral, error) {
	r := Ephemeral{Kind: s.kind}
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, email, code, secret_hash, email_verified, expires_at FROM `+s.table+` WHERE id = $1`, id,
	).Scan(&r.ID, &r.UserID, &r.Email, &r.Code, &r.SecretHash, &r.EmailVerified, &r.ExpiresAt)
	if err != nil {
		return Ephemeral{}, pgGetErr(err)
	}
	return r, nil
}

func (s *PostgresEphemeralStore) Insert(ctx context.Context, r Ephemeral) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (id, user_id, email, code, secret_hash, email_verified, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.UserID, r.Email, r.Code, r.SecretHash, r.EmailVerified, r.ExpiresAt,
	)
	return pgInsertErr(err)
}

func (s *PostgresEphemeralStore) MarkVerified(ctx context.Context, id string, up VerifiedUpdate) error {
	return s.exec1(ctx,
		`UPDATE `+s.table+` SET email_verified = true, expires_at = GREATEST(expires_at, $2)
		 WHERE id = $1 AND email_verified = false`,
		id, up.ExpiresAt)
}

func (s *PostgresEphemeralStore) DeleteAllForEmail(ctx context.Context, email string) error {
	return s.delete(ctx, `email = $1`, email)
}

// PostgresAssociationStore implements AssociationStore over <schema>.account_association_sessions.
type PostgresAssociationStore struct{ pgTable }

var _ AssociationStore = (*PostgresAssociationStore)(nil)

// NewPostgresAssociationStore returns a store for schema (default "monaca").
func NewPostgresAssociationStore(pool *pgxpool.Pool, schema string) (*PostgresAssociationStore, error) {
	t, err := newPGTable(pool, schema, pgschema.TableAccountAssoc)
	if err != nil {
		return nil, err
	}
	return &PostgresAssociationStore{t}, nil
}

func (s *PostgresAssociationStore) Get(ctx context.Context, id string) (AccountAssociation, error) {
	var (
		r        AccountAssociation
		provider string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, provider, provider_user_id, email, code, secret_hash, expires_at
		   FROM `+s.table+` WHERE id = $1`, id,
	).Scan(&r.ID, &r.UserID, &provider, &r.ProviderUserID, &r.Email, &r.Code, &r.SecretHash, &r.ExpiresAt)
	if err != nil {
		return AccountAssociation{}, pgGetErr(err)
	}
	r.Provider = identity.Provider(provider)
	return r, nil
}

func (s *PostgresAssociationStore) Insert(ctx context.Context, r AccountAssociation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (id, user_id, provider, provider_user_id, email, code, secret_hash, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.UserID, string(r.Provider), r.ProviderUserID, r.Email, r.Code, r.SecretHash, r.ExpiresAt,
	)
	return pgInsertErr(err)
}

// Package pgschema renders and applies the Postgres DDL shared by the
// identity and session stores.
package pgschema

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"text/template"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Per-kind ephemeral session tables. They share one column layout.
const (
	TableSignup            = "signup_sessions"
	TableEmailVerification = "email_verification_sessions"
	TablePasswordReset     = "password_reset_sessions"
	TableAccountAssoc      = "account_association_sessions"
)

// EphemeralTables lists the tables with the shared ephemeral layout.
var EphemeralTables = []string{TableSignup, TableEmailVerification, TablePasswordReset}

//go:embed schema.sql
var schemaSQL string

var (
	identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	tmpl    = template.Must(template.New("schema").Parse(schemaSQL))
)

// Render returns the DDL for schema. The schema must be a plain identifier.
func Render(schema string) (string, error) {
	if !identRe.MatchString(schema) {
		return "", fmt.Errorf("pgschema: invalid schema identifier %q", schema)
	}
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, struct {
		Schema          string
		EphemeralTables []string
	}{
		Schema:          pgx.Identifier{schema}.Sanitize(),
		EphemeralTables: EphemeralTables,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Apply creates schema (if missing) and every table in it. It is idempotent.
func Apply(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	ddl, err := Render(schema)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("pgschema: create schema: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("pgschema: apply: %w", err)
	}
	return nil
}

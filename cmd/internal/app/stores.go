package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/storage/sqlite"
)

// stores is the persistence for one storage driver.
type stores struct {
	driver string

	users        identity.Store
	sessions     session.SessionStore
	ephemeral    map[session.Kind]session.EphemeralStore
	associations session.AssociationStore

	// ping reports readiness; nil for the memory driver.
	ping  func(ctx context.Context) error
	close func()
}

var ephemeralKinds = []session.Kind{
	session.KindSignup,
	session.KindEmailVerification,
	session.KindPasswordReset,
}

func openStores(ctx context.Context, cfg Config, log *slog.Logger) (*stores, error) {
	switch cfg.StorageDriver {
	case DriverMemory:
		log.Info("db.disabled.inmemory_store")
		return memoryStores(), nil
	case DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st, err := sqliteStores(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)
		return st, nil
	case DriverPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st, err := postgresStores(pool, cfg.DatabaseSchema)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled.postgres_store", "schema", cfg.DatabaseSchema, "migrated", cfg.DBMigrate)
		return st, nil
	default:
		return nil, errors.New("app: unknown storage driver " + cfg.StorageDriver)
	}
}

func memoryStores() *stores {
	st := &stores{
		driver:       DriverMemory,
		users:        identity.NewMemoryStore(),
		sessions:     session.NewMemorySessionStore(),
		ephemeral:    map[session.Kind]session.EphemeralStore{},
		associations: session.NewMemoryAssociationStore(),
		close:        func() {},
	}
	for _, k := range ephemeralKinds {
		st.ephemeral[k] = session.NewMemoryEphemeralStore()
	}
	return st
}

func sqliteStores(db *sqlite.DB) (*stores, error) {
	st := &stores{
		driver:       DriverSQLite,
		users:        sqlite.NewIdentityStore(db),
		sessions:     sqlite.NewSessionStore(db),
		ephemeral:    map[session.Kind]session.EphemeralStore{},
		associations: sqlite.NewAssociationStore(db),
		ping: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return db.Ping(ctx)
		},
		close: func() { _ = db.Close() },
	}
	for _, k := range ephemeralKinds {
		es, err := sqlite.NewEphemeralStore(db, k)
		if err != nil {
			return nil, err
		}
		st.ephemeral[k] = es
	}
	return st, nil
}

func postgresStores(pool *pgxpool.Pool, schema string) (*stores, error) {
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewPostgresSessionStore(pool, schema)
	if err != nil {
		return nil, err
	}
	associations, err := session.NewPostgresAssociationStore(pool, schema)
	if err != nil {
		return nil, err
	}
	st := &stores{
		driver:       DriverPostgres,
		users:        users,
		sessions:     sessions,
		ephemeral:    map[session.Kind]session.EphemeralStore{},
		associations: associations,
		ping: func(ctx context.Context) error {
			return PingDB(ctx, pool, 2*time.Second)
		},
		close: pool.Close,
	}
	for _, k := range ephemeralKinds {
		es, err := session.NewPostgresEphemeralStore(pool, schema, k)
		if err != nil {
			return nil, err
		}
		st.ephemeral[k] = es
	}
	return st, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"vpnfleet/manager/internal/store"
)

// BunDB wraps bun.DB and provides repository access. It implements store.Store.
type BunDB struct {
	db *bun.DB

	servers   *serverRepository
	keyLinks  *keyLinkRepository
	nonces    *nonceRepository
	directory *directoryRepository
}

var _ store.Store = (*BunDB)(nil)

// Option is a functional option for configuring the database
type Option func(*BunDB)

// WithDebug enables query logging for debugging
func WithDebug(enabled bool) Option {
	return func(db *BunDB) {
		if enabled {
			db.db.AddQueryHook(bundebug.NewQueryHook(
				bundebug.WithVerbose(true),
			))
			log.Info().Msg("Bun query logging enabled")
		}
	}
}

// WithMaxOpenConns caps the connection pool. In-memory databases always
// use a single connection since each connection would see its own database.
func WithMaxOpenConns(n int) Option {
	return func(db *BunDB) {
		if n > 0 {
			db.db.SetMaxOpenConns(n)
		}
	}
}

func isInMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// fileDSN makes pooled connections to a file database wait on the write
// lock instead of failing with SQLITE_BUSY, and starts transactions with
// the write lock held. Explicit settings in dsn are left alone.
func fileDSN(dsn string) string {
	if isInMemory(dsn) || !strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	var params []string
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if !strings.Contains(dsn, "_txlock") {
		params = append(params, "_txlock=immediate")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// New opens the sqlite database at dsn and migrates the schema.
func New(dsn string, opts ...Option) (*BunDB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, fileDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	bunDB := &BunDB{
		db:        db,
		servers:   &serverRepository{db: db},
		keyLinks:  &keyLinkRepository{db: db},
		nonces:    &nonceRepository{db: db},
		directory: &directoryRepository{db: db},
	}

	for _, opt := range opts {
		opt(bunDB)
	}
	if isInMemory(dsn) {
		db.SetMaxOpenConns(1)
	}

	if err := bunDB.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Str("dsn", dsn).Msg("Bun database initialized successfully")
	return bunDB, nil
}

func (db *BunDB) Servers() store.ServerStore       { return db.servers }
func (db *BunDB) KeyLinks() store.KeyLinkStore     { return db.keyLinks }
func (db *BunDB) Nonces() store.NonceStore         { return db.nonces }
func (db *BunDB) Directory() store.DirectoryStore { return db.directory }

// Ping checks that the database answers.
func (db *BunDB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close closes the database connection
func (db *BunDB) Close() error {
	return db.db.Close()
}

// DB returns the underlying bun.DB instance for advanced operations
func (db *BunDB) DB() *bun.DB {
	return db.db
}

// Migrate creates missing tables and indexes.
func (db *BunDB) Migrate(ctx context.Context) error {
	log.Info().Msg("Running database migrations")

	models := []interface{}{
		(*Organization)(nil),
		(*User)(nil),
		(*Server)(nil),
		(*KeyLink)(nil),
		(*AuthNonce)(nil),
	}

	for _, model := range models {
		if _, err := db.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_users_org_id ON users(org_id)",
		"CREATE INDEX IF NOT EXISTS idx_servers_status ON servers(status)",
		"CREATE INDEX IF NOT EXISTS idx_key_links_user ON key_links(org_id, user_id)",
		`CREATE INDEX IF NOT EXISTS idx_auth_nonces_timestamp ON auth_nonces("timestamp")`,
	}

	for _, idx := range indexes {
		if _, err := db.db.ExecContext(ctx, idx); err != nil {
			log.Warn().Err(err).Str("index", idx).Msg("Failed to create index (may already exist)")
		}
	}

	log.Info().Msg("Database migrations completed successfully")
	return nil
}

// Clean removes all rows from every table.
// WARNING: This will delete ALL data in the database!
func (db *BunDB) Clean(ctx context.Context) error {
	log.Warn().Msg("Cleaning all data from database")

	for _, table := range []string{"auth_nonces", "key_links", "servers", "users", "organizations"} {
		if _, err := db.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("failed to clean table %s: %w", table, err)
		}
		log.Debug().Str("table", table).Msg("Cleaned table")
	}
	return nil
}

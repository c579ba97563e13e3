// Package store is the boundary to the encrypted vault database.
//
// The database is opened from a Config carrying the recovery passphrase as
// its key. The key is handed to the engine with PRAGMA key, which a
// SQLCipher-class engine uses to decrypt every page; the connector never
// retains it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver used to open vault databases.
const DriverName = "sqlite"

// Journal modes accepted in Config.JournalMode.
const (
	JournalDelete   = "DELETE"
	JournalTruncate = "TRUNCATE"
	JournalPersist  = "PERSIST"
	JournalMemory   = "MEMORY"
	JournalWAL      = "WAL"
	JournalOff      = "OFF"

	// DefaultJournalMode keeps the rollback journal off disk while still
	// allowing ROLLBACK, which OFF does not.
	DefaultJournalMode = JournalMemory
)

// Errors
var (
	ErrInvalidConfig     = errors.New("store: invalid connection configuration")
	ErrDatabaseNotFound  = errors.New("store: database not found")
	ErrOpen              = errors.New("store: failed to open database")
	ErrBootstrap         = errors.New("store: schema bootstrap failed")
	ErrSchemaMissing     = errors.New("store: database has no schema")
	ErrUnsupportedSchema = errors.New("store: unsupported schema version")
)

// Config describes how to open a vault database.
type Config struct {
	Path            string
	Key             []byte
	ForeignKeys     bool
	JournalMode     string
	CreateIfMissing bool
}

func (c Config) validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidConfig)
	}
	if len(c.Key) == 0 {
		return fmt.Errorf("%w: empty key", ErrInvalidConfig)
	}
	if c.JournalMode != "" && !ValidJournalMode(c.JournalMode) {
		return fmt.Errorf("%w: journal mode %q", ErrInvalidConfig, c.JournalMode)
	}
	return nil
}

// ValidJournalMode reports whether mode is a SQLite journal mode, in any case.
func ValidJournalMode(mode string) bool {
	switch strings.ToUpper(mode) {
	case JournalDelete, JournalTruncate, JournalPersist, JournalMemory, JournalWAL, JournalOff:
		return true
	}
	return false
}

// dsn builds a SQLite URI filename for c.
func (c Config) dsn() string {
	mode := "rw"
	if c.CreateIfMissing {
		mode = "rwc"
	}
	u := url.URL{Path: c.Path}
	return "file:" + u.EscapedPath() + "?mode=" + mode
}

// DB is an open vault database.
type DB struct {
	bun *bun.DB
}

// Open opens the database described by cfg and applies its pragmas.
//
// The pool is limited to a single connection so that the pragmas issued
// here stay in effect for every statement that follows.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !cfg.CreateIfMissing {
		if _, err := os.Stat(cfg.Path); errors.Is(err, fs.ErrNotExist) {
			return nil, ErrDatabaseNotFound
		}
	}

	sqlDB, err := sql.Open(DriverName, cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	if err := configure(ctx, sqlDB, cfg); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if cfg.CreateIfMissing {
		_ = os.Chmod(cfg.Path, 0600)
	}

	return &DB{
		bun: bun.NewDB(sqlDB, sqlitedialect.New()),
	}, nil
}

// configure issues the connection pragmas. The key goes first: an encrypted
// engine cannot read the header until it has it.
func configure(ctx context.Context, db *sql.DB, cfg Config) error {
	journal := strings.ToUpper(cfg.JournalMode)
	if journal == "" {
		journal = DefaultJournalMode
	}
	foreignKeys := "OFF"
	if cfg.ForeignKeys {
		foreignKeys = "ON"
	}

	pragmas := []struct {
		name string
		stmt string
	}{
		{"key", keyPragma(cfg.Key)},
		{"cipher_memory_security", "PRAGMA cipher_memory_security = ON"},
		{"foreign_keys", "PRAGMA foreign_keys = " + foreignKeys},
		{"journal_mode", "PRAGMA journal_mode = " + journal},
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			return fmt.Errorf("%w: pragma %s: %w", ErrOpen, p.name, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return nil
}

// keyPragma quotes key as an SQL string literal.
func keyPragma(key []byte) string {
	var b strings.Builder
	b.Grow(len("PRAGMA key = ''") + len(key) + 8)
	b.WriteString("PRAGMA key = '")
	for _, c := range key {
		if c == '\'' {
			b.WriteByte('\'')
		}
		b.WriteByte(c)
	}
	b.WriteByte('\'')
	return b.String()
}

// Bun exposes the underlying query builder.
func (d *DB) Bun() *bun.DB {
	return d.bun
}

// Close closes the database.
func (d *DB) Close() error {
	if d == nil || d.bun == nil {
		return nil
	}
	return d.bun.Close()
}

// Package dbopen opens the SQLite databases behind sketchbridge (scene rows,
// export records).
//
// File databases get their pragmas through the modernc.org/sqlite DSN, so
// every connection in the pool carries them, not only the first one:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10s
//	synchronous  = NORMAL
//
// The caller blank-imports the driver:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/scenes.db", dbopen.WithSchema(store.Schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const memory = ":memory:"

type config struct {
	busyTimeout time.Duration
	synchronous string
	mkdirAll    bool
	schemas     []string
}

// Option customises Open.
type Option func(*config)

// WithBusyTimeout sets how long a writer waits on a locked database.
// Default: 10s.
func WithBusyTimeout(d time.Duration) Option { return func(c *config) { c.busyTimeout = d } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues SQL to run once the database is open.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

func (c *config) pragmas() []string {
	return []string{
		"foreign_keys(1)",
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", c.busyTimeout.Milliseconds()),
		fmt.Sprintf("synchronous(%s)", c.synchronous),
	}
}

// DSN returns the driver name for path with the configured pragmas.
func DSN(path string, opts ...Option) string {
	cfg := build(opts)
	q := url.Values{}
	for _, p := range cfg.pragmas() {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

func build(opts []Option) *config {
	cfg := &config{busyTimeout: 10 * time.Second, synchronous: "NORMAL"}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// Open opens the SQLite database at path and applies the schemas.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := build(opts)
	if path == memory {
		return openMemory(cfg)
	}
	if strings.ContainsAny(path, "?#") {
		return nil, fmt.Errorf("dbopen: %q: query characters in path", path)
	}
	if cfg.mkdirAll {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", DSN(path, opts...))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: %s: %w", path, err)
	}
	return db, initSchemas(db, cfg)
}

// openMemory pins the pool to one connection, since each ":memory:"
// connection is its own database, and sets the pragmas on it directly.
func openMemory(cfg *config) (*sql.DB, error) {
	db, err := sql.Open("sqlite", memory)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, p := range cfg.pragmas() {
		name, arg, _ := strings.Cut(strings.TrimSuffix(p, ")"), "(")
		if _, err := db.Exec("PRAGMA " + name + " = " + arg); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: pragma %s: %w", name, err)
		}
	}
	return db, initSchemas(db, cfg)
}

func initSchemas(db *sql.DB, cfg *config) error {
	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return fmt.Errorf("dbopen: schema: %w", err)
		}
	}
	return nil
}

// OpenMemory opens an in-memory database for tests and closes it on
// cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memory, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

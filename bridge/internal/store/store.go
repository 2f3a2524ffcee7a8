// Package store provides the SQLite persistence layer behind the sqlite
// persistence sink and the scene resource fetcher.
package store

import (
	"database/sql"

	"github.com/hazyhaar/sketchbridge/dbopen"
)

// Store is the sketchbridge database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path, applies pragmas and the
// schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

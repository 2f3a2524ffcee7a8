package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/sketchbridge/dbopen"
)

// SceneRecord is one persisted scene snapshot. Content is the scene JSON as
// handed over by the bridge.
type SceneRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Version      string `json:"version"`
	Content      []byte `json:"-"`
	ElementCount int    `json:"element_count"`
	Revision     int    `json:"revision"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// PutScene inserts or replaces the snapshot for rec.ID and bumps its
// revision. A snapshot with the stored version is a no-op; the returned
// bool reports whether a row changed.
func (s *Store) PutScene(ctx context.Context, rec *SceneRecord) (bool, error) {
	now := time.Now().UnixMilli()
	changed := false
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var version string
		var revision int
		var created int64
		err := tx.QueryRowContext(ctx,
			`SELECT version, revision, created_at FROM scenes WHERE id = ?`, rec.ID,
		).Scan(&version, &revision, &created)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			rec.Revision = 1
			rec.CreatedAt = now
			rec.UpdatedAt = now
			_, err = tx.ExecContext(ctx, `
				INSERT INTO scenes (id, name, version, content, element_count, revision, created_at, updated_at)
				VALUES (?,?,?,?,?,?,?,?)`,
				rec.ID, rec.Name, rec.Version, string(rec.Content), rec.ElementCount,
				rec.Revision, rec.CreatedAt, rec.UpdatedAt)
			changed = err == nil
			return err
		case err != nil:
			return err
		}

		rec.CreatedAt = created
		if version == rec.Version {
			rec.Revision = revision
			return nil
		}
		rec.Revision = revision + 1
		rec.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE scenes SET name = COALESCE(NULLIF(?, ''), name), version = ?, content = ?,
				element_count = ?, revision = ?, updated_at = ?
			WHERE id = ?`,
			rec.Name, rec.Version, string(rec.Content), rec.ElementCount,
			rec.Revision, rec.UpdatedAt, rec.ID)
		changed = err == nil
		return err
	})
	return changed, err
}

// GetScene retrieves a scene by ID. Returns nil, nil when absent.
func (s *Store) GetScene(ctx context.Context, id string) (*SceneRecord, error) {
	return s.scanScene(s.DB.QueryRowContext(ctx, `
		SELECT id, name, version, content, element_count, revision, created_at, updated_at
		FROM scenes WHERE id = ?`, id))
}

// LatestScene returns the most recently updated scene, or nil, nil.
func (s *Store) LatestScene(ctx context.Context) (*SceneRecord, error) {
	return s.scanScene(s.DB.QueryRowContext(ctx, `
		SELECT id, name, version, content, element_count, revision, created_at, updated_at
		FROM scenes ORDER BY updated_at DESC, id LIMIT 1`))
}

func (s *Store) scanScene(row *sql.Row) (*SceneRecord, error) {
	r := &SceneRecord{}
	var content string
	err := row.Scan(&r.ID, &r.Name, &r.Version, &content, &r.ElementCount,
		&r.Revision, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Content = []byte(content)
	return r, nil
}

// ListScenes returns scene metadata, newest first. Content is not loaded.
func (s *Store) ListScenes(ctx context.Context, limit int) ([]*SceneRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, version, element_count, revision, created_at, updated_at
		FROM scenes ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SceneRecord
	for rows.Next() {
		r := &SceneRecord{}
		if err := rows.Scan(&r.ID, &r.Name, &r.Version, &r.ElementCount,
			&r.Revision, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteScene removes a scene. Its exports keep their rows.
func (s *Store) DeleteScene(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM scenes WHERE id = ?`, id)
	return err
}

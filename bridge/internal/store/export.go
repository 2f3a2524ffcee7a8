package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ExportRecord is one stored export payload.
type ExportRecord struct {
	ID            string `json:"id"`
	SceneID       string `json:"scene_id,omitempty"`
	Format        string `json:"format"`
	MimeType      string `json:"mime_type"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Size          int    `json:"size"`
	Path          string `json:"path,omitempty"`
	Data          []byte `json:"-"`
	CreatedAt     int64  `json:"created_at"`
}

// InsertExport stores an export. Data may be nil when the payload was only
// written to Path.
func (s *Store) InsertExport(ctx context.Context, r *ExportRecord) error {
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}
	if r.Size == 0 {
		r.Size = len(r.Data)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO exports (id, scene_id, format, mime_type, correlation_id, size, path, data, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		r.ID, nullStr(r.SceneID), r.Format, r.MimeType, r.CorrelationID, r.Size, r.Path, r.Data, r.CreatedAt)
	return err
}

// GetExport retrieves an export with its data. Returns nil, nil when absent.
func (s *Store) GetExport(ctx context.Context, id string) (*ExportRecord, error) {
	r := &ExportRecord{}
	var sceneID sql.NullString
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, scene_id, format, mime_type, correlation_id, size, path, data, created_at
		FROM exports WHERE id = ?`, id).Scan(
		&r.ID, &sceneID, &r.Format, &r.MimeType, &r.CorrelationID, &r.Size, &r.Path, &r.Data, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.SceneID = sceneID.String
	return r, nil
}

// ListExports returns export metadata, newest first. An empty sceneID lists
// all exports.
func (s *Store) ListExports(ctx context.Context, sceneID string, limit int) ([]*ExportRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if sceneID == "" {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT id, scene_id, format, mime_type, correlation_id, size, path, created_at
			FROM exports ORDER BY created_at DESC, id LIMIT ?`, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT id, scene_id, format, mime_type, correlation_id, size, path, created_at
			FROM exports WHERE scene_id = ? ORDER BY created_at DESC, id LIMIT ?`, sceneID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExportRecord
	for rows.Next() {
		r := &ExportRecord{}
		var sid sql.NullString
		if err := rows.Scan(&r.ID, &sid, &r.Format, &r.MimeType, &r.CorrelationID,
			&r.Size, &r.Path, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.SceneID = sid.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneExports keeps the newest keep exports and deletes the rest.
func (s *Store) PruneExports(ctx context.Context, keep int) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM exports WHERE id NOT IN (
			SELECT id FROM exports ORDER BY created_at DESC, id LIMIT ?
		)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

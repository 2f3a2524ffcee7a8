package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/sketchbridge/bridge/internal/scene"
	"github.com/hazyhaar/sketchbridge/bridge/internal/store"
	"github.com/hazyhaar/sketchbridge/bridge/message"
	"github.com/hazyhaar/sketchbridge/idgen"
)

// SQLite persists scenes and exports into a store. Every scene snapshot
// replaces the row of the configured scene id.
type SQLite struct {
	store     *store.Store
	sceneID   string
	keep      int
	newID     idgen.Generator
	logger    *slog.Logger
	ownsStore bool
}

// SQLiteOption configures an SQLite sink.
type SQLiteOption func(*SQLite)

// WithSceneID sets the row the snapshots go to. Default: "default".
func WithSceneID(id string) SQLiteOption {
	return func(s *SQLite) { s.sceneID = id }
}

// WithExportRetention keeps only the newest n exports. Zero keeps all.
func WithExportRetention(n int) SQLiteOption {
	return func(s *SQLite) { s.keep = n }
}

// WithExportIDs sets the export id generator.
func WithExportIDs(gen idgen.Generator) SQLiteOption {
	return func(s *SQLite) { s.newID = gen }
}

// WithSQLiteLogger sets a custom logger.
func WithSQLiteLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLite) { s.logger = l }
}

// WithOwnedStore makes Close close the store too.
func WithOwnedStore() SQLiteOption {
	return func(s *SQLite) { s.ownsStore = true }
}

// NewSQLite creates an SQLite persister over st.
func NewSQLite(st *store.Store, opts ...SQLiteOption) *SQLite {
	s := &SQLite{
		store:   st,
		sceneID: "default",
		newID:   idgen.Prefixed("exp_", idgen.Default),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SceneID returns the scene row this sink writes.
func (s *SQLite) SceneID() string { return s.sceneID }

func (s *SQLite) Persist(ctx context.Context, sc message.Scene) error {
	content, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("sqlite sink: marshal scene: %w", err)
	}
	rec := &store.SceneRecord{
		ID:           s.sceneID,
		Version:      string(scene.Compute(sc.Elements)),
		Content:      content,
		ElementCount: len(sc.LiveElements()),
	}
	changed, err := s.store.PutScene(ctx, rec)
	if err != nil {
		return fmt.Errorf("sqlite sink: put scene: %w", err)
	}
	if changed {
		s.logger.Debug("sqlite sink: scene stored", "id", rec.ID, "revision", rec.Revision)
	}
	return nil
}

func (s *SQLite) PersistExport(ctx context.Context, exp Export) error {
	if exp.ID == "" {
		exp.ID = s.newID()
	}
	if exp.SceneID == "" {
		exp.SceneID = s.sceneID
	}
	if known, err := s.store.GetScene(ctx, exp.SceneID); err != nil {
		return fmt.Errorf("sqlite sink: lookup scene: %w", err)
	} else if known == nil {
		exp.SceneID = ""
	}
	rec := &store.ExportRecord{
		ID:            exp.ID,
		SceneID:       exp.SceneID,
		Format:        exp.Format,
		MimeType:      exp.MimeType,
		CorrelationID: exp.CorrelationID,
		Path:          exp.Path,
		Data:          exp.Data,
		Size:          len(exp.Data),
	}
	if !exp.CreatedAt.IsZero() {
		rec.CreatedAt = exp.CreatedAt.UnixMilli()
	}
	if err := s.store.InsertExport(ctx, rec); err != nil {
		return fmt.Errorf("sqlite sink: insert export: %w", err)
	}
	if s.keep > 0 {
		if n, err := s.store.PruneExports(ctx, s.keep); err != nil {
			s.logger.Warn("sqlite sink: prune exports", "error", err)
		} else if n > 0 {
			s.logger.Debug("sqlite sink: pruned exports", "count", n)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}

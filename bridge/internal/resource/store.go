package resource

import (
	"context"
	"fmt"

	"github.com/hazyhaar/sketchbridge/bridge/internal/store"
)

// Store serves scenes previously persisted by the sqlite sink.
type Store struct {
	st *store.Store
}

// NewStore creates a fetcher over st.
func NewStore(st *store.Store) *Store {
	return &Store{st: st}
}

// Fetch returns the stored scene JSON. The id "latest" names the most
// recently updated scene.
func (s *Store) Fetch(ctx context.Context, id string) ([]byte, error) {
	var rec *store.SceneRecord
	var err error
	if id == "latest" {
		rec, err = s.st.LatestScene(ctx)
	} else {
		rec, err = s.st.GetScene(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("resource: scene %s: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: scene %s", ErrNotFound, id)
	}
	return rec.Content, nil
}

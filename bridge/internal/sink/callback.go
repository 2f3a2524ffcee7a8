package sink

import (
	"context"

	"github.com/hazyhaar/sketchbridge/bridge/message"
)

// SceneFunc is called for each persisted scene.
type SceneFunc func(ctx context.Context, scene message.Scene) error

// ExportFunc is called for each export.
type ExportFunc func(ctx context.Context, exp Export) error

// Callback delivers payloads via Go function calls, for hosts that embed
// the bridge in the same binary.
type Callback struct {
	onScene  SceneFunc
	onExport ExportFunc
}

// NewCallback creates a Callback persister. Either handler may be nil.
func NewCallback(onScene SceneFunc, onExport ExportFunc) *Callback {
	return &Callback{onScene: onScene, onExport: onExport}
}

func (c *Callback) Persist(ctx context.Context, scene message.Scene) error {
	if c.onScene != nil {
		return c.onScene(ctx, scene)
	}
	return nil
}

func (c *Callback) PersistExport(ctx context.Context, exp Export) error {
	if c.onExport != nil {
		return c.onExport(ctx, exp)
	}
	return nil
}

func (c *Callback) Close() error { return nil }

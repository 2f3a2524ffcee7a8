// Package sink defines the collaborators the bridge hands its opaque
// payloads to: persisters for scene snapshots and exports, notifiers for
// user-visible errors.
package sink

import (
	"context"
	"time"

	"github.com/hazyhaar/sketchbridge/bridge/message"
)

// Persister stores what the runtime produces. Implementations treat scenes
// and export payloads as opaque.
type Persister interface {
	Persist(ctx context.Context, scene message.Scene) error
	PersistExport(ctx context.Context, exp Export) error
	Close() error
}

// Notifier surfaces an error message to the user.
type Notifier interface {
	NotifyError(ctx context.Context, msg string) error
}

// Export is one payload produced by a save-as round trip (or an
// uncorrelated save request).
type Export struct {
	ID            string    `json:"id"`
	SceneID       string    `json:"scene_id,omitempty"`
	Format        string    `json:"format"`
	MimeType      string    `json:"mime_type"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Path          string    `json:"path,omitempty"`
	Data          []byte    `json:"data,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Discard drops everything.
type Discard struct{}

func (Discard) Persist(context.Context, message.Scene) error { return nil }
func (Discard) PersistExport(context.Context, Export) error  { return nil }
func (Discard) Close() error                                 { return nil }

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type errorEvent struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

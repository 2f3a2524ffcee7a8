package bridge

import (
	"context"
	"io"
	"log/slog"

	"github.com/hazyhaar/sketchbridge/bridge/internal/export"
	"github.com/hazyhaar/sketchbridge/bridge/internal/sink"
	"github.com/hazyhaar/sketchbridge/bridge/message"
)

// Persister receives changed scene snapshots and exports.
type Persister = sink.Persister

// Notifier receives sanitized user-visible errors.
type Notifier = sink.Notifier

// Export is one export payload handed to a Persister.
type Export = sink.Export

// ExportRequest describes an export.
type ExportRequest = export.Request

// ExportResult is a finished export.
type ExportResult = export.Result

// ExportFormats lists the supported export formats.
var ExportFormats = export.Formats

// NewStdoutSink creates a stdout JSON-lines persister and notifier.
func NewStdoutSink(w io.Writer) Persister {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST persister with retry.
func NewWebhookSink(url string, logger *slog.Logger) Persister {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process persister. Either function may be
// nil.
func NewCallbackSink(
	onScene func(ctx context.Context, scene message.Scene) error,
	onExport func(ctx context.Context, exp Export) error,
) Persister {
	return sink.NewCallback(onScene, onExport)
}

// NotifyFunc adapts a function into a Notifier.
func NotifyFunc(fn func(ctx context.Context, msg string) error) Notifier {
	return sink.NotifyFunc(fn)
}

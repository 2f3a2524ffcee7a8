package sink

import (
	"context"
	"html"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxNotifyLen caps what reaches a notifier; runtime error strings can
// carry whole stack traces.
const maxNotifyLen = 2000

var strict = bluemonday.StrictPolicy()

// Sanitize strips markup from a runtime-supplied message so it is safe to
// show in host UI, and trims it to a bounded length.
func Sanitize(msg string) string {
	clean := html.UnescapeString(strict.Sanitize(msg))
	clean = strings.TrimSpace(clean)
	if len(clean) > maxNotifyLen {
		cut := maxNotifyLen
		for cut > 0 && !utf8Start(clean[cut]) {
			cut--
		}
		clean = clean[:cut] + "…"
	}
	return clean
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// LogNotifier writes errors to a logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyError(_ context.Context, msg string) error {
	n.logger.Error("runtime: error reported", "message", msg)
	return nil
}

// NotifyFunc adapts a function into a Notifier.
type NotifyFunc func(ctx context.Context, msg string) error

func (f NotifyFunc) NotifyError(ctx context.Context, msg string) error { return f(ctx, msg) }

// NotifierRouter fans a message out to every notifier. Messages arrive
// sanitized; empty ones are skipped.
type NotifierRouter struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewNotifierRouter creates a fan-out notifier.
func NewNotifierRouter(logger *slog.Logger, notifiers ...Notifier) *NotifierRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifierRouter{notifiers: notifiers, logger: logger}
}

func (r *NotifierRouter) NotifyError(ctx context.Context, msg string) error {
	if strings.TrimSpace(msg) == "" {
		return nil
	}
	var firstErr error
	for _, n := range r.notifiers {
		if err := n.NotifyError(ctx, msg); err != nil {
			r.logger.Warn("sink: notify failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

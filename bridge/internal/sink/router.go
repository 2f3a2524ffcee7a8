package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/sketchbridge/bridge/message"
)

// Router fans payloads out to all configured persisters. One persister
// error does not block the others; errors are logged and the first
// encountered is returned.
type Router struct {
	sinks  []Persister
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Persister) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Persist(ctx context.Context, scene message.Scene) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Persist(ctx, scene); err != nil {
			r.logger.Warn("sink: persist scene failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) PersistExport(ctx context.Context, exp Export) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.PersistExport(ctx, exp); err != nil {
			r.logger.Warn("sink: persist export failed", "format", exp.Format, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

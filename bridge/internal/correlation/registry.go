// Package correlation pairs outbound round-trip requests with their one
// response. Each request gets a fresh id and a Future; the matching response
// resolves it exactly once.
package correlation

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/sketchbridge/idgen"
)

var (
	// ErrCorrelationMismatch is returned for a response whose id has no
	// live entry (never issued, cancelled, or forgotten).
	ErrCorrelationMismatch = errors.New("correlation: no pending request for id")
	// ErrAlreadyResolved is returned for a second resolution of an id.
	ErrAlreadyResolved = errors.New("correlation: id already resolved")
	// ErrCancelled resolves futures dropped by CancelAll.
	ErrCancelled = errors.New("correlation: request cancelled")
	// ErrDuplicateID is returned when the generator keeps colliding with live ids.
	ErrDuplicateID = errors.New("correlation: generated id already pending")
	// ErrPending is returned by Future.Peek before resolution.
	ErrPending = errors.New("correlation: result pending")
)

const (
	mintAttempts = 3
	// defaultResolvedMemory bounds how many resolved ids are remembered to
	// tell a duplicate response from a never-issued one.
	defaultResolvedMemory = 256
)

// Registry maps live correlation ids to futures. It is not safe for
// concurrent use: the dispatcher loop owns it.
type Registry struct {
	newID    idgen.Generator
	logger   *slog.Logger
	pending  map[string]*Future
	resolved map[string]struct{}
	order    []string
	memory   int
}

// Option configures a Registry.
type Option func(*Registry)

// WithGenerator sets the correlation id generator. Default: idgen.Default.
func WithGenerator(gen idgen.Generator) Option {
	return func(r *Registry) { r.newID = gen }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithResolvedMemory sets how many resolved ids are remembered. Default: 256.
func WithResolvedMemory(n int) Option {
	return func(r *Registry) { r.memory = n }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		newID:    idgen.Default,
		logger:   slog.Default(),
		pending:  make(map[string]*Future),
		resolved: make(map[string]struct{}),
		memory:   defaultResolvedMemory,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register mints a fresh id with an unresolved future.
func (r *Registry) Register() (*Future, error) {
	for i := 0; i < mintAttempts; i++ {
		id := r.newID()
		if id == "" {
			continue
		}
		if _, live := r.pending[id]; live {
			continue
		}
		delete(r.resolved, id)
		f := newFuture(id)
		r.pending[id] = f
		return f, nil
	}
	return nil, ErrDuplicateID
}

// Complete resolves and removes the entry for id with (val, err).
func (r *Registry) Complete(id string, val []byte, err error) error {
	f, ok := r.pending[id]
	if !ok {
		if _, done := r.resolved[id]; done {
			r.logger.Error("correlation: second resolution rejected", "id", id)
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
		}
		r.logger.Warn("correlation: response for unknown id dropped", "id", id)
		return fmt.Errorf("%w: %s", ErrCorrelationMismatch, id)
	}
	delete(r.pending, id)
	r.remember(id)
	f.resolve(val, err)
	return nil
}

// CancelAll resolves every live entry with an ErrCancelled error carrying
// reason, and returns how many were cancelled.
func (r *Registry) CancelAll(reason error) int {
	n := len(r.pending)
	for id, f := range r.pending {
		if reason != nil {
			f.resolve(nil, fmt.Errorf("%w: %w", ErrCancelled, reason))
		} else {
			f.resolve(nil, ErrCancelled)
		}
		delete(r.pending, id)
		r.remember(id)
	}
	if n > 0 {
		r.logger.Info("correlation: cancelled pending requests", "count", n, "reason", reason)
	}
	return n
}

// Pending reports whether id has a live entry.
func (r *Registry) Pending(id string) bool {
	_, ok := r.pending[id]
	return ok
}

// Len returns the number of live entries.
func (r *Registry) Len() int { return len(r.pending) }

func (r *Registry) remember(id string) {
	if r.memory <= 0 {
		return
	}
	r.resolved[id] = struct{}{}
	r.order = append(r.order, id)
	for len(r.order) > r.memory {
		delete(r.resolved, r.order[0])
		r.order = r.order[1:]
	}
}

// Package resource fetches externally referenced scene files for the
// bridge: local files, remote URLs and scenes stored in sqlite.
package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a resource id names nothing.
	ErrNotFound = errors.New("resource: not found")
	// ErrUnsupported is returned by Mux for an unknown scheme.
	ErrUnsupported = errors.New("resource: unsupported scheme")
)

// Fetcher loads the raw bytes of a resource.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// FetchFunc adapts a function into a Fetcher.
type FetchFunc func(ctx context.Context, id string) ([]byte, error)

func (f FetchFunc) Fetch(ctx context.Context, id string) ([]byte, error) { return f(ctx, id) }

// Mux routes ids by scheme prefix ("file:", "scene:", "http:", "https:").
// Ids without a scheme go to the fallback fetcher.
type Mux struct {
	schemes  map[string]Fetcher
	fallback Fetcher
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{schemes: make(map[string]Fetcher)}
}

// Handle routes scheme to f. For http and https the full URL is passed on;
// for other schemes only the part after the colon.
func (m *Mux) Handle(scheme string, f Fetcher) *Mux {
	m.schemes[strings.ToLower(scheme)] = f
	return m
}

// Fallback sets the fetcher for ids without a known scheme.
func (m *Mux) Fallback(f Fetcher) *Mux {
	m.fallback = f
	return m
}

func (m *Mux) Fetch(ctx context.Context, id string) ([]byte, error) {
	scheme, rest, ok := strings.Cut(id, ":")
	if ok {
		scheme = strings.ToLower(scheme)
		if f, found := m.schemes[scheme]; found {
			if scheme == "http" || scheme == "https" {
				return f.Fetch(ctx, id)
			}
			return f.Fetch(ctx, rest)
		}
		if scheme == "http" || scheme == "https" {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, scheme)
		}
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, id)
	}
	return m.fallback.Fetch(ctx, id)
}

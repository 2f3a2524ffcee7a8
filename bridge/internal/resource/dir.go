package resource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hazyhaar/sketchbridge/horosafe"
)

// Dir reads resources as files below a base directory.
type Dir struct {
	base string
	max  int64
}

// NewDir creates a Dir fetcher rooted at base.
func NewDir(base string) *Dir {
	return &Dir{base: base, max: horosafe.MaxResponseBody}
}

func (d *Dir) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := horosafe.SafePath(d.base, id)
	if err != nil {
		return nil, fmt.Errorf("resource: %q: %w", id, err)
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("resource: open %s: %w", id, err)
	}
	defer f.Close()
	return horosafe.LimitedReadAll(f, d.max)
}

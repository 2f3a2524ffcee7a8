package correlation

import (
	"context"
	"sync"
)

// Future is the single-resolution result of one round trip. It is safe for
// any number of concurrent waiters.
type Future struct {
	id   string
	done chan struct{}
	once sync.Once
	val  []byte
	err  error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID returns the correlation id embedded in the outbound request.
func (f *Future) ID() string { return f.id }

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx ends. A ctx error does not
// resolve the future: there is no per-request cancellation.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek returns the result without blocking, or ErrPending.
func (f *Future) Peek() ([]byte, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
		return nil, ErrPending
	}
}

// resolve stores the result once. It reports whether this call won.
func (f *Future) resolve(val []byte, err error) bool {
	won := false
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
		won = true
	})
	return won
}

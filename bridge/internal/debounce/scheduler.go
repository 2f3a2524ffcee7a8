// Package debounce coalesces bursts of keyed notifications into one consumer
// call per quiescence window.
package debounce

import (
	"sync"
	"time"
)

// Executor runs a timer expiry. The dispatcher routes expiries onto its
// owner loop; the default runs them on the timer goroutine.
type Executor func(fn func())

// Scheduler holds at most one pending timer per key. Scheduling a key that
// is already pending replaces its payload and restarts the delay.
type Scheduler[K comparable, P any] struct {
	consumer func(K, P)
	exec     Executor

	mu      sync.Mutex
	entries map[K]*entry[P]
	gen     uint64
	closed  bool

	// fireMu is held while a consumer runs so Close can wait it out.
	fireMu sync.Mutex
}

type entry[P any] struct {
	payload P
	timer   *time.Timer
	gen     uint64
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	exec Executor
}

// WithExecutor routes every expiry through exec.
func WithExecutor(exec Executor) Option {
	return func(o *options) { o.exec = exec }
}

// New creates a Scheduler that delivers expired payloads to consumer.
func New[K comparable, P any](consumer func(K, P), opts ...Option) *Scheduler[K, P] {
	o := options{exec: func(fn func()) { fn() }}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler[K, P]{
		consumer: consumer,
		exec:     o.exec,
		entries:  make(map[K]*entry[P]),
	}
}

// Schedule arms (or re-arms) key with payload. It returns false once the
// scheduler is closed.
func (s *Scheduler[K, P]) Schedule(key K, payload P, delay time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.gen++
	g := s.gen
	e, ok := s.entries[key]
	if ok {
		e.timer.Stop()
	} else {
		e = &entry[P]{}
		s.entries[key] = e
	}
	e.payload = payload
	e.gen = g
	e.timer = time.AfterFunc(delay, func() {
		s.exec(func() { s.fire(key, g) })
	})
	return true
}

// fire delivers key's payload if the entry armed with generation g is still
// the live one. Expiries of replaced or cancelled entries are ignored.
func (s *Scheduler[K, P]) fire(key K, g uint64) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	s.mu.Lock()
	e, ok := s.entries[key]
	if s.closed || !ok || e.gen != g {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	payload := e.payload
	s.mu.Unlock()

	s.consumer(key, payload)
}

// Cancel drops key's pending timer without calling the consumer.
func (s *Scheduler[K, P]) Cancel(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true
}

// CancelAll drops every pending timer and returns how many there were.
func (s *Scheduler[K, P]) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropLocked()
}

func (s *Scheduler[K, P]) dropLocked() int {
	n := len(s.entries)
	for k, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, k)
	}
	return n
}

// Flush delivers every pending payload now, in no particular order, and
// returns how many were delivered. It runs the consumer on the calling
// goroutine.
func (s *Scheduler[K, P]) Flush() int {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	type due struct {
		key     K
		payload P
	}
	batch := make([]due, 0, len(s.entries))
	for k, e := range s.entries {
		e.timer.Stop()
		batch = append(batch, due{k, e.payload})
		delete(s.entries, k)
	}
	s.mu.Unlock()

	for _, d := range batch {
		s.consumer(d.key, d.payload)
	}
	return len(batch)
}

// Close cancels everything and waits for a consumer call already running.
// After Close returns the consumer is never called again, even for a timer
// whose expiry was already queued on the executor. Close must not be called
// from inside the consumer.
func (s *Scheduler[K, P]) Close() {
	s.mu.Lock()
	s.closed = true
	s.dropLocked()
	s.mu.Unlock()

	s.fireMu.Lock()
	s.fireMu.Unlock()
}

// Pending reports whether key has an armed timer.
func (s *Scheduler[K, P]) Pending(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Len returns the number of armed timers.
func (s *Scheduler[K, P]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

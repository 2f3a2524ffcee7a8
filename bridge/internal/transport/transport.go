// Package transport moves envelope text between the host and the embedded
// runtime. Both directions are fire-and-forget: the host pushes by
// evaluating a call in the runtime, the runtime answers through a query
// callback that the host registered.
package transport

import (
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrClosed is returned by Send and OnReceive after Close.
	ErrClosed = errors.New("transport: channel closed")
	// ErrHandlerSet is returned when a second receive handler is registered.
	ErrHandlerSet = errors.New("transport: receive handler already registered")
)

// Handler receives one raw envelope and reports whether it was handled.
// It must return promptly.
type Handler func(raw string) bool

// Channel is one live link to a runtime instance. A reload of the runtime
// invalidates the channel; nothing sent on it is assumed answered after
// that.
type Channel interface {
	// Send queues envelope for delivery. Delivery order matches Send order.
	Send(envelope string) error
	// OnReceive registers the single inbound handler.
	OnReceive(h Handler) error
	Close() error
}

// outbox is an unbounded FIFO drained by one writer goroutine, so Send never
// blocks on the runtime.
type outbox struct {
	write  func(string)
	logger *slog.Logger

	mu     sync.Mutex
	queue  []string
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newOutbox(write func(string), logger *slog.Logger) *outbox {
	o := &outbox{
		write:  write,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) push(s string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.queue = append(o.queue, s)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return nil
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			if o.closed {
				o.mu.Unlock()
				return
			}
			o.mu.Unlock()
			<-o.wake
			continue
		}
		next := o.queue[0]
		o.queue[0] = ""
		o.queue = o.queue[1:]
		o.mu.Unlock()

		o.write(next)
	}
}

// close stops accepting work. Queued envelopes are dropped when discard is
// true, otherwise drained first. It does not wait for the writer.
func (o *outbox) close(discard bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if discard && len(o.queue) > 0 {
		o.logger.Debug("transport: dropping queued envelopes", "count", len(o.queue))
		o.queue = nil
	}
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

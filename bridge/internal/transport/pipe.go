package transport

import (
	"log/slog"
	"sync"
)

// PipeEnd is one side of an in-process Channel pair. The fake runtime and
// tests use it in place of a browser page.
type PipeEnd struct {
	name   string
	logger *slog.Logger
	peer   *PipeEnd
	out    *outbox

	mu      sync.Mutex
	handler Handler
	ready   chan struct{}
	closed  chan struct{}
	once    sync.Once
}

// NewPipe returns two connected ends. What one end sends, the other end's
// handler receives, in order. Deliveries wait until the receiving end has a
// handler.
func NewPipe(logger *slog.Logger) (host, runtime *PipeEnd) {
	if logger == nil {
		logger = slog.Default()
	}
	host = newPipeEnd("host", logger)
	runtime = newPipeEnd("runtime", logger)
	host.peer, runtime.peer = runtime, host
	host.out = newOutbox(host.deliver, logger)
	runtime.out = newOutbox(runtime.deliver, logger)
	return host, runtime
}

func newPipeEnd(name string, logger *slog.Logger) *PipeEnd {
	return &PipeEnd{
		name:   name,
		logger: logger,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Send queues envelope for the peer.
func (p *PipeEnd) Send(envelope string) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	return p.out.push(envelope)
}

// OnReceive registers the handler for envelopes sent by the peer.
func (p *PipeEnd) OnReceive(h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	if p.handler != nil {
		return ErrHandlerSet
	}
	p.handler = h
	close(p.ready)
	return nil
}

// Close detaches this end. Envelopes still queued toward it are dropped.
func (p *PipeEnd) Close() error {
	p.once.Do(func() {
		close(p.closed)
		p.out.close(true)
	})
	return nil
}

// deliver runs on p's writer goroutine and hands envelope to the peer.
func (p *PipeEnd) deliver(envelope string) {
	peer := p.peer
	select {
	case <-peer.ready:
	case <-peer.closed:
		return
	case <-p.closed:
		return
	}
	select {
	case <-peer.closed:
		p.logger.Debug("transport: peer closed, envelope dropped", "from", p.name)
		return
	default:
	}
	peer.mu.Lock()
	h := peer.handler
	peer.mu.Unlock()
	if !h(envelope) {
		p.logger.Debug("transport: envelope not handled", "from", p.name)
	}
}

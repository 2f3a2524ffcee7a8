package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/sketchbridge/bridge/message"
)

const (
	// DefaultBinding is the CDP binding the runtime calls with envelope text.
	DefaultBinding = "__sketchbridge_query"
	// DefaultReceiver is the runtime function that accepts pushed envelopes.
	DefaultReceiver = "window.__sketchbridge.receive"
)

// PageConfig configures a Page channel.
type PageConfig struct {
	Binding  string
	Receiver string
	Logger   *slog.Logger
}

// Page is a Channel over a rod page: pushes are Runtime.evaluate calls of
// the receiver with a quoted envelope, queries arrive as
// Runtime.bindingCalled events.
type Page struct {
	page   *rod.Page
	cfg    PageConfig
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	out    *outbox

	mu      sync.Mutex
	handler Handler
}

// NewPage installs the query binding on page and starts the push writer.
func NewPage(page *rod.Page, cfg PageConfig) (*Page, error) {
	if cfg.Binding == "" {
		cfg.Binding = DefaultBinding
	}
	if cfg.Receiver == "" {
		cfg.Receiver = DefaultReceiver
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := (proto.RuntimeAddBinding{Name: cfg.Binding}).Call(page); err != nil {
		return nil, fmt.Errorf("transport: add binding %s: %w", cfg.Binding, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Page{
		page:   page,
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	p.out = newOutbox(p.push, cfg.Logger)
	return p, nil
}

// Send queues envelope for evaluation in the page.
func (p *Page) Send(envelope string) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	return p.out.push(envelope)
}

// OnReceive registers h and starts listening for binding calls.
func (p *Page) OnReceive(h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	if p.handler != nil {
		return ErrHandlerSet
	}
	p.handler = h

	wait := p.page.Context(p.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != p.cfg.Binding {
			return
		}
		if !h(e.Payload) {
			p.logger.Debug("transport: query not handled", "binding", e.Name)
		}
	})
	go wait()
	return nil
}

// Close stops the writer and the binding listener. The page itself is left
// to its owner.
func (p *Page) Close() error {
	p.cancel()
	p.out.close(true)
	return nil
}

func (p *Page) push(envelope string) {
	if p.ctx.Err() != nil {
		return
	}
	js := fmt.Sprintf(`() => %s(%s)`, p.cfg.Receiver, message.Quote(envelope))
	res, err := p.page.Context(p.ctx).Eval(js)
	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Warn("transport: push failed", "error", err)
		}
		return
	}
	if res != nil && res.Value.Nil() {
		return
	}
	if res != nil && !res.Value.Bool() {
		p.logger.Debug("transport: runtime did not handle envelope")
	}
}

// Package dispatcher implements the protocol state machine between the host
// and one embedded runtime instance.
//
// A Dispatcher owns a single goroutine (the owner loop) that is the only
// place its state is read or written: readiness flags, presentation
// options, the correlation registry, the scene version tracker and the
// debounce scheduler. Public methods and transport callbacks post closures
// to the loop's mailbox. Anything that may block on I/O (persistence,
// notifications, resource fetches, base64 decoding of image exports) runs on
// a worker pool and posts its result back to the loop.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/sketchbridge/bridge/internal/correlation"
	"github.com/hazyhaar/sketchbridge/bridge/internal/debounce"
	"github.com/hazyhaar/sketchbridge/bridge/internal/resource"
	"github.com/hazyhaar/sketchbridge/bridge/internal/scene"
	"github.com/hazyhaar/sketchbridge/bridge/internal/sink"
	"github.com/hazyhaar/sketchbridge/bridge/internal/transport"
	"github.com/hazyhaar/sketchbridge/bridge/message"
	"github.com/hazyhaar/sketchbridge/idgen"
)

const (
	keyUpdate  = "update"
	keyPersist = "persist"

	mailboxSize = 256
)

// Config for creating a Dispatcher.
type Config struct {
	// Channel is the transport to the runtime instance. Required.
	Channel transport.Channel
	// Persister receives changed scene snapshots and uncorrelated exports.
	// Default: sink.Discard.
	Persister sink.Persister
	// Notifier receives user-visible errors. Default: sink.LogNotifier.
	Notifier sink.Notifier
	// Fetcher loads external scene files for Hydrate. Optional.
	Fetcher resource.Fetcher
	// IDs mints correlation ids. Default: idgen.Default.
	IDs idgen.Generator
	// UpdateDelay debounces host scene updates. Default: 100ms.
	UpdateDelay time.Duration
	// PersistDelay debounces continuous-update persistence. Default: 500ms.
	PersistDelay time.Duration
	// Workers sizes the pool for decoding, notifications and fetches.
	// Persistence runs on its own single worker to keep snapshots ordered.
	// Default: 2.
	Workers int
	// TaskTimeout bounds each worker task. Default: 30s.
	TaskTimeout time.Duration
	// Presentation is the initial presentation state.
	Presentation Presentation
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.Persister == nil {
		c.Persister = sink.Discard{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Notifier == nil {
		c.Notifier = sink.NewLogNotifier(c.Logger)
	}
	if c.IDs == nil {
		c.IDs = idgen.Default
	}
	if c.UpdateDelay <= 0 {
		c.UpdateDelay = 100 * time.Millisecond
	}
	if c.PersistDelay <= 0 {
		c.PersistDelay = 500 * time.Millisecond
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Second
	}
	c.Presentation.defaults()
}

// Dispatcher is the protocol state machine for one runtime instance.
type Dispatcher struct {
	cfg    Config
	ch     transport.Channel
	logger *slog.Logger

	inbox   chan func()
	stopped chan struct{}
	done    chan struct{}
	stop    sync.Once

	workers *pool
	persist *pool

	dropped    atomic.Uint64
	mismatched atomic.Uint64

	// Owner-loop state.
	state   State
	bridge  BridgeState
	pres    Presentation
	reg     *correlation.Registry
	tracker scene.Tracker
	sched   *debounce.Scheduler[string, any]
	latest  message.Scene
	hasData bool
}

// New creates a Dispatcher in the Uninitialized state and starts its owner
// loop.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Channel == nil {
		return nil, fmt.Errorf("%w: nil channel", ErrInvalidArgument)
	}
	cfg.defaults()

	d := &Dispatcher{
		cfg:     cfg,
		ch:      cfg.Channel,
		logger:  cfg.Logger,
		inbox:   make(chan func(), mailboxSize),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
		pres:    cfg.Presentation,
	}
	d.workers = newPool("work", cfg.Workers, cfg.TaskTimeout, cfg.Logger)
	d.persist = newPool("persist", 1, cfg.TaskTimeout, cfg.Logger)
	d.reg = correlation.New(
		correlation.WithGenerator(cfg.IDs),
		correlation.WithLogger(cfg.Logger),
	)
	d.sched = debounce.New(d.fire, debounce.WithExecutor(func(fn func()) { d.post(fn) }))

	go d.loop()
	return d, nil
}

func (d *Dispatcher) loop() {
	defer func() {
		close(d.stopped)
		d.workers.wait()
		d.persist.wait()
		close(d.done)
	}()
	for fn := range d.inbox {
		d.run(fn)
		if d.state == Disposed {
			return
		}
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher: recovered panic on owner loop", "panic", r)
		}
	}()
	fn()
}

// post queues fn on the owner loop. It returns false once the loop has
// stopped; fn then never runs.
func (d *Dispatcher) post(fn func()) bool {
	select {
	case <-d.stopped:
		return false
	default:
	}
	select {
	case d.inbox <- fn:
		return true
	case <-d.stopped:
		return false
	}
}

// call runs fn on the owner loop and waits for its in-memory step only.
func (d *Dispatcher) call(fn func() error) error {
	errc := make(chan error, 1)
	if !d.post(func() { errc <- fn() }) {
		return fmt.Errorf("%w: disposed", ErrTransportUnavailable)
	}
	select {
	case err := <-errc:
		return err
	case <-d.stopped:
		select {
		case err := <-errc:
			return err
		default:
			return fmt.Errorf("%w: disposed", ErrTransportUnavailable)
		}
	}
}

// Done is closed once the dispatcher is disposed and its workers drained.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// send encodes m and hands it to the transport. Owner loop only.
func (d *Dispatcher) send(m message.Outbound) error {
	if d.state == Disposed {
		return fmt.Errorf("%w: disposed", ErrTransportUnavailable)
	}
	env, err := message.EncodeMessage(m)
	if err != nil {
		return err
	}
	if err := d.ch.Send(env); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	d.logger.Debug("dispatcher: sent", "type", m.Type(), "bytes", len(env))
	return nil
}

// requireReady gates commands that need a loaded scene. Owner loop only.
func (d *Dispatcher) requireReady() error {
	switch d.state {
	case Ready:
		return nil
	case Disposed:
		return fmt.Errorf("%w: disposed", ErrTransportUnavailable)
	}
	return fmt.Errorf("%w: not ready (state %s)", ErrTransportUnavailable, d.state)
}

// requireAPI gates commands that only need the runtime API. Owner loop only.
func (d *Dispatcher) requireAPI() error {
	switch {
	case d.state == Disposed:
		return fmt.Errorf("%w: disposed", ErrTransportUnavailable)
	case !d.bridge.APIReady:
		return fmt.Errorf("%w: runtime API not attached (state %s)", ErrTransportUnavailable, d.state)
	}
	return nil
}

// fire is the debounce consumer. It runs on the owner loop.
func (d *Dispatcher) fire(key string, payload any) {
	switch key {
	case keyUpdate:
		if d.state != Ready {
			return
		}
		els, _ := payload.([]message.Element)
		if err := d.send(message.Update{Elements: els}); err != nil {
			d.logger.Warn("dispatcher: debounced update not sent", "error", err)
		}
	case keyPersist:
		sc, _ := payload.(message.Scene)
		d.persistScene(sc)
	}
}

func (d *Dispatcher) persistScene(sc message.Scene) {
	p := d.cfg.Persister
	ok := d.persist.submit(func(ctx context.Context) {
		if err := p.Persist(ctx, sc); err != nil {
			d.logger.Warn("dispatcher: persist failed", "error", err)
		}
	})
	if !ok {
		d.logger.Warn("dispatcher: persist dropped, dispatcher disposed")
	}
}

// notify sanitizes msg and hands it to the notifier on a worker. This is
// the only place messages are sanitized.
func (d *Dispatcher) notify(msg string) {
	clean := sink.Sanitize(msg)
	if clean == "" {
		return
	}
	n := d.cfg.Notifier
	d.workers.submit(func(ctx context.Context) {
		if err := n.NotifyError(ctx, clean); err != nil {
			d.logger.Warn("dispatcher: notify failed", "error", err)
		}
	})
}

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hazyhaar/sketchbridge/bridge/internal/browser"
	"github.com/hazyhaar/sketchbridge/bridge/internal/fakeruntime"
	"github.com/hazyhaar/sketchbridge/bridge/internal/transport"
)

// Surface hosts the runtime. Open (re)loads a runtime instance and returns
// the channel to it once the runtime API is available. Calling Open again
// is a reload: the previous channel is invalidated.
type Surface interface {
	Open(ctx context.Context) (transport.Channel, error)
	Close() error
}

// browserSurface drives the view page in a Rod-managed Chrome.
type browserSurface struct {
	mgr *browser.Manager
	cfg browser.ViewConfig

	mu   sync.Mutex
	view *browser.View
}

func newBrowserSurface(mgr *browser.Manager, cfg browser.ViewConfig) *browserSurface {
	return &browserSurface{mgr: mgr, cfg: cfg}
}

func (s *browserSurface) Open(ctx context.Context) (transport.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.mgr.Start(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	if s.view == nil {
		v, err := browser.OpenView(ctx, b, s.cfg)
		if err != nil {
			return nil, err
		}
		s.view = v
	} else if err := s.view.Reload(ctx); err != nil {
		return nil, err
	}
	if err := s.view.WaitAPI(ctx); err != nil {
		return nil, err
	}
	return s.view.Channel, nil
}

// forget drops the view after Chrome was recycled; its page is gone.
func (s *browserSurface) forget() {
	s.mu.Lock()
	s.view = nil
	s.mu.Unlock()
}

func (s *browserSurface) Close() error {
	s.mu.Lock()
	v := s.view
	s.view = nil
	s.mu.Unlock()
	if v != nil {
		v.Close()
	}
	return s.mgr.Close()
}

// socketSurface waits for the view page, opened in any browser, to connect
// over a websocket. A new connection while one is live is a reload of the
// page; onReplace is told so the bridge can re-attach.
type socketSurface struct {
	logger    *slog.Logger
	onReplace func()

	mu      sync.Mutex
	current *transport.Socket
	pending *transport.Socket
	waiting bool
	closed  bool
	arrived chan struct{}
}

func newSocketSurface(logger *slog.Logger) *socketSurface {
	return &socketSurface{logger: logger, arrived: make(chan struct{}, 1)}
}

var errSurfaceClosed = errors.New("bridge: surface closed")

// ServeHTTP accepts the page's websocket.
func (s *socketSurface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := transport.Accept(w, r, s.logger)
	if err != nil {
		s.logger.Warn("bridge: view socket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sock.Close()
		return
	}
	old := s.pending
	s.pending = sock
	replace := s.current != nil && !s.waiting
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	select {
	case s.arrived <- struct{}{}:
	default:
	}
	s.logger.Info("bridge: view connected", "remote", r.RemoteAddr)
	if replace && s.onReplace != nil {
		s.onReplace()
	}
}

func (s *socketSurface) Open(ctx context.Context) (transport.Channel, error) {
	s.mu.Lock()
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
	s.waiting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.waiting = false
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, errSurfaceClosed
		}
		if sock := s.pending; sock != nil {
			s.pending = nil
			select {
			case <-sock.Closed():
				s.mu.Unlock()
				continue
			default:
			}
			s.current = sock
			s.mu.Unlock()
			return sock, nil
		}
		s.mu.Unlock()

		select {
		case <-s.arrived:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *socketSurface) Close() error {
	s.mu.Lock()
	s.closed = true
	cur, pend := s.current, s.pending
	s.current, s.pending = nil, nil
	s.mu.Unlock()
	select {
	case s.arrived <- struct{}{}:
	default:
	}
	if cur != nil {
		cur.Close()
	}
	if pend != nil {
		pend.Close()
	}
	return nil
}

// FakeOptions configures a FakeSurface.
type FakeOptions struct {
	// AutoRespond answers save-as requests with generated content.
	AutoRespond bool
	// EchoUpdates echoes each applied update as a continuous-update.
	EchoUpdates bool
	Logger      *slog.Logger
}

// FakeSurface runs a scripted runtime in-process. It backs dry runs and
// tests.
type FakeSurface struct {
	opts FakeOptions

	mu     sync.Mutex
	rt     *fakeruntime.Runtime
	end    *transport.PipeEnd
	opened int
}

// NewFakeSurface creates a FakeSurface.
func NewFakeSurface(opts FakeOptions) *FakeSurface {
	return &FakeSurface{opts: opts}
}

func (f *FakeSurface) Open(ctx context.Context) (transport.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.end != nil {
		f.end.Close()
	}
	host, end := transport.NewPipe(f.opts.Logger)
	rt, err := fakeruntime.New(end, fakeruntime.Config{
		AutoRespond: f.opts.AutoRespond,
		EchoUpdates: f.opts.EchoUpdates,
		Logger:      f.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	f.rt, f.end = rt, end
	f.opened++
	rt.SignalReady()
	return host, nil
}

// Runtime returns the runtime behind the latest Open.
func (f *FakeSurface) Runtime() *fakeruntime.Runtime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rt
}

// Opened counts Open calls: one for the first load plus one per reload.
func (f *FakeSurface) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *FakeSurface) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.end != nil {
		f.end.Close()
		f.end = nil
	}
	return nil
}

// Package bridge hosts an embedded drawing runtime and keeps the host in
// sync with it. It owns the runtime surface (a Rod-driven Chrome page, a
// page connected over a websocket, or an in-process fake), one protocol
// dispatcher per runtime instance, and the collaborators that persist
// scenes, record exports, load scene files and surface errors.
//
// A reload of the runtime (explicit, on theme change when configured, or
// after a browser recycle) disposes the current dispatcher with
// ErrReloaded, so every pending request fails with an error wrapping
// ErrCancelled and ErrReloaded, then attaches a fresh dispatcher and loads
// the last known scene.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/sketchbridge/bridge/internal/browser"
	"github.com/hazyhaar/sketchbridge/bridge/internal/config"
	"github.com/hazyhaar/sketchbridge/bridge/internal/dispatcher"
	"github.com/hazyhaar/sketchbridge/bridge/internal/export"
	"github.com/hazyhaar/sketchbridge/bridge/internal/resource"
	"github.com/hazyhaar/sketchbridge/bridge/internal/sink"
	"github.com/hazyhaar/sketchbridge/bridge/internal/store"
	"github.com/hazyhaar/sketchbridge/bridge/message"
	"github.com/hazyhaar/sketchbridge/dbopen"
	"github.com/hazyhaar/sketchbridge/idgen"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// Option customizes a Bridge.
type Option func(*Bridge)

// WithSurface replaces the surface chosen from view.mode.
func WithSurface(s Surface) Option {
	return func(b *Bridge) { b.surface = s }
}

// WithPersister adds a persister next to the configured sinks.
func WithPersister(p Persister) Option {
	return func(b *Bridge) { b.extraSinks = append(b.extraSinks, p) }
}

// WithNotifier adds a notifier next to the log notifier.
func WithNotifier(n Notifier) Option {
	return func(b *Bridge) { b.extraNotifiers = append(b.extraNotifiers, n) }
}

// WithFetcher replaces the resource fetcher built from storage settings.
func WithFetcher(f resource.Fetcher) Option {
	return func(b *Bridge) { b.fetcher = f }
}

// WithIDs sets the generator for correlation and export ids.
func WithIDs(gen idgen.Generator) Option {
	return func(b *Bridge) { b.ids = gen }
}

// Bridge is the top-level orchestrator. Create one per hosted runtime.
type Bridge struct {
	cfg    *config.Config
	logger *slog.Logger
	ids    idgen.Generator

	store          *store.Store
	persister      *sink.Router
	notifier       *sink.NotifierRouter
	fetcher        resource.Fetcher
	exporter       *export.Exporter
	surface        Surface
	extraSinks     []sink.Persister
	extraNotifiers []sink.Notifier

	// lifecycle serializes Start, Reload and Stop.
	lifecycle sync.Mutex

	mu       sync.Mutex
	d        *dispatcher.Dispatcher
	pres     dispatcher.Presentation
	resource string
	// restore is the scene flushed by the last reload, kept until a
	// reload brings up a new dispatcher.
	restore  *message.Scene
	reloads  int
	started  bool
	stopped  bool
	since    time.Time
}

// New creates a Bridge from configuration. It opens the store when one is
// configured; nothing touches the runtime until Start.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	b := &Bridge{
		cfg:      cfg,
		logger:   logger,
		ids:      idgen.Default,
		resource: cfg.View.InitialResource,
		pres: dispatcher.Presentation{
			Theme:    cfg.View.Theme,
			ReadOnly: cfg.View.ReadOnly,
		},
	}
	for _, o := range opts {
		o(b)
	}

	if cfg.Storage.DB != "" {
		st, err := store.Open(cfg.Storage.DB, dbopen.WithMkdirAll())
		if err != nil {
			return nil, fmt.Errorf("bridge: %w", err)
		}
		b.store = st
	}

	sinks, notifiers, err := b.buildSinks()
	if err != nil {
		b.closeStore()
		return nil, err
	}
	b.persister = sink.NewRouter(logger, sinks...)
	b.notifier = sink.NewNotifierRouter(logger, notifiers...)
	if b.fetcher == nil {
		b.fetcher = b.buildFetcher()
	}
	b.exporter = export.New(export.Config{
		OutDir:    cfg.Storage.ExportDir,
		Persister: b.persister,
		IDs:       b.ids,
		Timeout:   cfg.Workers.TaskTimeout,
		Logger:    logger,
	})
	if b.surface == nil {
		b.surface = b.buildSurface()
	}
	return b, nil
}

func (b *Bridge) buildSinks() ([]sink.Persister, []sink.Notifier, error) {
	var sinks []sink.Persister
	notifiers := []sink.Notifier{sink.NewLogNotifier(b.logger)}

	for _, sc := range b.cfg.Sinks {
		switch sc.Type {
		case "stdout":
			s := sink.NewStdout(os.Stdout)
			sinks = append(sinks, s)
			notifiers = append(notifiers, s)
		case "webhook":
			w := sink.NewWebhook(sc.URL,
				sink.WithWebhookRetries(sc.Retries),
				sink.WithWebhookBackoff(sc.Backoff),
				sink.WithWebhookLogger(b.logger),
			)
			sinks = append(sinks, w)
			notifiers = append(notifiers, w)
		case "sqlite":
			if b.store == nil {
				return nil, nil, fmt.Errorf("bridge: sqlite sink without storage.db")
			}
			sinks = append(sinks, b.sqliteSink())
		default:
			return nil, nil, fmt.Errorf("bridge: unknown sink type %q", sc.Type)
		}
	}
	// A configured store records scenes even without an explicit sink.
	if b.store != nil && !hasSink(b.cfg.Sinks, "sqlite") {
		sinks = append(sinks, b.sqliteSink())
	}
	sinks = append(sinks, b.extraSinks...)
	notifiers = append(notifiers, b.extraNotifiers...)
	return sinks, notifiers, nil
}

func (b *Bridge) sqliteSink() *sink.SQLite {
	return sink.NewSQLite(b.store,
		sink.WithSceneID(b.cfg.Storage.SceneID),
		sink.WithExportRetention(b.cfg.Storage.ExportRetention),
		sink.WithExportIDs(b.ids),
		sink.WithSQLiteLogger(b.logger),
	)
}

func hasSink(sinks []config.SinkConfig, typ string) bool {
	for _, s := range sinks {
		if s.Type == typ {
			return true
		}
	}
	return false
}

func (b *Bridge) buildFetcher() resource.Fetcher {
	var httpOpts []resource.HTTPOption
	httpOpts = append(httpOpts, resource.WithLogger(b.logger))
	if b.cfg.Storage.AllowPrivateNetworks {
		httpOpts = append(httpOpts, resource.WithPrivateNetworks())
	}
	web := resource.NewHTTP(httpOpts...)

	mux := resource.NewMux().Handle("http", web).Handle("https", web)
	if b.cfg.Storage.ResourceDir != "" {
		dir := resource.NewDir(b.cfg.Storage.ResourceDir)
		mux.Handle("file", dir).Fallback(dir)
	}
	if b.store != nil {
		mux.Handle("scene", resource.NewStore(b.store))
	}
	return mux
}

func (b *Bridge) buildSurface() Surface {
	if b.cfg.View.Mode == config.ModeSocket {
		s := newSocketSurface(b.logger)
		s.onReplace = func() {
			go func() {
				if err := b.Reload(context.Background()); err != nil {
					b.logger.Warn("bridge: reload after view reconnect failed", "error", err)
				}
			}()
		}
		return s
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:       b.cfg.Browser.Remote,
		Bin:             b.cfg.Browser.Bin,
		Headless:        b.cfg.Browser.Headless,
		MemoryLimit:     b.cfg.Browser.MemoryLimit,
		RecycleInterval: b.cfg.Browser.RecycleInterval,
		Logger:          b.logger,
	})
	s := newBrowserSurface(mgr, browser.ViewConfig{
		URL:         b.viewURL(),
		Stealth:     b.cfg.Browser.Stealth,
		Block:       b.cfg.Browser.ResourceBlocking,
		LoadTimeout: b.cfg.View.LoadTimeout,
		Logger:      b.logger,
	})
	mgr.SetRecycleHooks(browser.RecycleHooks{
		BeforeRecycle: func() {
			if d := b.current(); d != nil {
				d.Flush()
			}
		},
		AfterRecycle: func(ctx context.Context, _ *rod.Browser) {
			s.forget()
			if err := b.Reload(ctx); err != nil {
				b.logger.Error("bridge: reattach after recycle failed", "error", err)
			}
		},
	})
	return s
}

// viewURL is the configured page URL or the embedded page on the HTTP
// listener.
func (b *Bridge) viewURL() string {
	if b.cfg.View.URL != "" {
		return b.cfg.View.URL
	}
	addr := b.cfg.HTTP.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/view/"
}

// SocketHandler returns the websocket endpoint the view page connects to in
// socket mode, nil otherwise.
func (b *Bridge) SocketHandler() http.Handler {
	if s, ok := b.surface.(*socketSurface); ok {
		return s
	}
	return nil
}

func (b *Bridge) current() *dispatcher.Dispatcher {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.d
}

// live returns the current dispatcher or the lifecycle error.
func (b *Bridge) live() (*dispatcher.Dispatcher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.stopped:
		return nil, ErrStopped
	case b.d == nil:
		return nil, ErrNotStarted
	}
	return b.d, nil
}

// Start opens the runtime surface, attaches a dispatcher and loads the
// initial resource. A failed initial load is reported to the notifier and
// leaves an empty scene; Start still succeeds.
func (b *Bridge) Start(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	switch {
	case b.stopped:
		b.mu.Unlock()
		return ErrStopped
	case b.started:
		b.mu.Unlock()
		return fmt.Errorf("bridge: already started")
	}
	res := b.resource
	b.mu.Unlock()

	d, err := b.attach(ctx)
	if err != nil {
		return fmt.Errorf("bridge: start: %w", err)
	}
	if err := b.populate(ctx, d, nil, res); err != nil {
		b.logger.Warn("bridge: initial resource not loaded", "resource", res, "error", err)
	}

	b.mu.Lock()
	b.d = d
	b.started = true
	b.since = time.Now()
	b.mu.Unlock()
	b.logger.Info("bridge: started", "mode", b.cfg.View.Mode, "resource", res)
	return nil
}

// attach opens (or reopens) the surface and brings a new dispatcher to
// AwaitingData.
func (b *Bridge) attach(ctx context.Context) (*dispatcher.Dispatcher, error) {
	ch, err := b.surface.Open(ctx)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	pres := b.pres
	b.mu.Unlock()

	d, err := dispatcher.New(dispatcher.Config{
		Channel:      ch,
		Persister:    b.persister,
		Notifier:     b.notifier,
		Fetcher:      b.fetcher,
		IDs:          b.ids,
		UpdateDelay:  b.cfg.Debounce.Update,
		PersistDelay: b.cfg.Debounce.Persist,
		Workers:      b.cfg.Workers.Count,
		TaskTimeout:  b.cfg.Workers.TaskTimeout,
		Presentation: pres,
		Logger:       b.logger,
	})
	if err != nil {
		ch.Close()
		return nil, err
	}
	if err := d.Start(); err != nil {
		d.Dispose()
		return nil, err
	}
	if err := d.AttachAPI(); err != nil {
		d.Dispose()
		return nil, err
	}
	return d, nil
}

// populate loads sc, or hydrates resourceID, then pushes the presentation
// state. Whatever happens the dispatcher ends Ready, with an empty scene if
// nothing could be loaded.
func (b *Bridge) populate(ctx context.Context, d *dispatcher.Dispatcher, sc *message.Scene, resourceID string) error {
	var err error
	switch {
	case sc != nil:
		err = d.LoadScene(*sc)
	case resourceID != "":
		err = waitHydrate(ctx, d.Hydrate(ctx, resourceID))
	}
	if d.State() != dispatcher.Ready {
		if lerr := d.LoadScene(message.Scene{}); lerr != nil {
			return lerr
		}
	}
	b.applyPresentation(d)
	return err
}

// applyPresentation echoes non-default presentation options to a freshly
// loaded runtime.
func (b *Bridge) applyPresentation(d *dispatcher.Dispatcher) {
	b.mu.Lock()
	p := b.pres
	b.mu.Unlock()

	var errs []error
	if p.Theme != message.ThemeLight {
		errs = append(errs, d.SetTheme(p.Theme))
	}
	if p.ReadOnly {
		errs = append(errs, d.SetReadOnly(true))
	}
	if p.GridMode || p.ZenMode {
		errs = append(errs, d.SetSceneModes(&p.GridMode, &p.ZenMode))
	}
	for _, err := range errs {
		if err != nil {
			b.logger.Warn("bridge: presentation not applied", "error", err)
		}
	}
}

// Open loads resourceID (a "file:", "http(s):" or "scene:" id) into the
// runtime, replacing the current scene.
func (b *Bridge) Open(ctx context.Context, resourceID string) error {
	d, err := b.live()
	if err != nil {
		return err
	}
	if err := waitHydrate(ctx, d.Hydrate(ctx, resourceID)); err != nil {
		return err
	}
	b.mu.Lock()
	b.resource = resourceID
	b.mu.Unlock()
	return nil
}

func waitHydrate(ctx context.Context, res <-chan error) error {
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load replaces the runtime's scene with sc.
func (b *Bridge) Load(sc message.Scene) error {
	d, err := b.live()
	if err != nil {
		return err
	}
	return d.LoadScene(sc)
}

// Update pushes new elements to the runtime, debounced.
func (b *Bridge) Update(elements []message.Element) error {
	d, err := b.live()
	if err != nil {
		return err
	}
	return d.Update(elements)
}

// Scene returns the latest scene known to the bridge.
func (b *Bridge) Scene() (message.Scene, error) {
	d, err := b.live()
	if err != nil {
		return message.Scene{}, err
	}
	sc, ok := d.Snapshot()
	if !ok {
		return message.Scene{}, fmt.Errorf("%w: no scene loaded", ErrTransportUnavailable)
	}
	return sc, nil
}

// Reload disposes the current dispatcher with ErrReloaded, reloads the
// runtime and loads the last known scene into it.
func (b *Bridge) Reload(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	old, err := b.live()
	if err != nil {
		return err
	}
	if err := old.Flush(); err != nil {
		b.logger.Debug("bridge: flush before reload", "error", err)
	}
	snap, hasScene := old.Snapshot()
	old.DisposeWithReason(ErrReloaded)

	b.mu.Lock()
	if hasScene {
		b.restore = &snap
	} else if b.restore != nil {
		// old is a dispatcher left over from a failed reload.
		snap, hasScene = *b.restore, true
	}
	res := b.resource
	b.mu.Unlock()

	d, err := b.attach(ctx)
	if err != nil {
		b.mu.Lock()
		b.d = old
		b.mu.Unlock()
		return fmt.Errorf("bridge: reload: %w", err)
	}
	var sc *message.Scene
	if hasScene {
		sc = &snap
	}
	if err := b.populate(ctx, d, sc, res); err != nil {
		b.logger.Warn("bridge: scene not restored after reload", "error", err)
	}

	b.mu.Lock()
	b.d = d
	b.restore = nil
	b.reloads++
	n := b.reloads
	b.mu.Unlock()
	b.logger.Info("bridge: runtime reloaded", "reloads", n, "restored", hasScene)
	return nil
}

// SetTheme switches the theme. With view.reload_on_theme_change the
// runtime is reloaded with the new theme instead of toggled in place.
func (b *Bridge) SetTheme(ctx context.Context, theme string) error {
	if theme != message.ThemeLight && theme != message.ThemeDark {
		return fmt.Errorf("%w: theme %q", ErrInvalidArgument, theme)
	}
	d, err := b.live()
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.pres.Theme = theme
	b.mu.Unlock()
	if b.cfg.View.ReloadOnThemeChange {
		return b.Reload(ctx)
	}
	return d.SetTheme(theme)
}

// SetReadOnly toggles view mode.
func (b *Bridge) SetReadOnly(readOnly bool) error {
	d, err := b.live()
	if err != nil {
		return err
	}
	if err := d.SetReadOnly(readOnly); err != nil {
		return err
	}
	b.mu.Lock()
	b.pres.ReadOnly = readOnly
	b.mu.Unlock()
	return nil
}

// SetSceneModes sets grid and/or zen mode; nil leaves a mode untouched.
func (b *Bridge) SetSceneModes(grid, zen *bool) error {
	d, err := b.live()
	if err != nil {
		return err
	}
	if err := d.SetSceneModes(grid, zen); err != nil {
		return err
	}
	b.mu.Lock()
	if grid != nil {
		b.pres.GridMode = *grid
	}
	if zen != nil {
		b.pres.ZenMode = *zen
	}
	b.mu.Unlock()
	return nil
}

// Export runs one export round trip against the current runtime.
func (b *Bridge) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	d, err := b.live()
	if err != nil {
		return nil, err
	}
	return b.exporter.Export(ctx, d, req)
}

// RequestSave asks the runtime for its scene JSON; the reply is recorded as
// an export.
func (b *Bridge) RequestSave() error {
	d, err := b.live()
	if err != nil {
		return err
	}
	return d.RequestSave()
}

// Status is a point-in-time view of the bridge.
type Status struct {
	Mode       string            `json:"mode"`
	Started    bool              `json:"started"`
	Stopped    bool              `json:"stopped"`
	Resource   string            `json:"resource,omitempty"`
	Reloads    int               `json:"reloads"`
	Uptime     string            `json:"uptime,omitempty"`
	Dispatcher dispatcher.Status `json:"dispatcher"`
}

// Status reports the bridge and current dispatcher state.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	st := Status{
		Mode:     b.cfg.View.Mode,
		Started:  b.started,
		Stopped:  b.stopped,
		Resource: b.resource,
		Reloads:  b.reloads,
	}
	if b.started {
		st.Uptime = time.Since(b.since).Round(time.Second).String()
	}
	d := b.d
	b.mu.Unlock()

	if d != nil {
		st.Dispatcher = d.Status()
	} else {
		st.Dispatcher.State = dispatcher.Uninitialized
	}
	return st
}

// Stop flushes pending work, disposes the dispatcher and closes the
// surface, the sinks and the store. It is idempotent.
func (b *Bridge) Stop(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	d := b.d
	b.mu.Unlock()

	if d != nil {
		d.Flush()
		d.Dispose()
		select {
		case <-d.Done():
		case <-ctx.Done():
			b.logger.Warn("bridge: stop before workers drained", "error", ctx.Err())
		}
	}
	if err := b.surface.Close(); err != nil {
		b.logger.Warn("bridge: close surface", "error", err)
	}
	if err := b.persister.Close(); err != nil {
		b.logger.Warn("bridge: close sinks", "error", err)
	}
	b.closeStore()
	b.logger.Info("bridge: stopped")
	return nil
}

func (b *Bridge) closeStore() {
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			b.logger.Warn("bridge: close store", "error", err)
		}
	}
}

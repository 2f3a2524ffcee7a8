package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/sketchbridge/bridge/internal/transport"
)

// ViewConfig configures one view page.
type ViewConfig struct {
	// URL of the host page serving the runtime.
	URL string
	// Stealth opens the page with go-rod/stealth evasions, for runtimes
	// hosted behind bot detection.
	Stealth bool
	// Block lists resource types the page must not load
	// (images, fonts, media, stylesheets).
	Block []string
	// LoadTimeout bounds navigation and the wait for the runtime API.
	// Default: 30s.
	LoadTimeout time.Duration
	Logger      *slog.Logger
}

// View is the page hosting one runtime instance, with its transport.
type View struct {
	Page    *rod.Page
	Channel *transport.Page
	cfg     ViewConfig
}

// OpenView creates a page on b, installs the transport binding before the
// runtime script runs, and navigates to cfg.URL.
func OpenView(ctx context.Context, b *rod.Browser, cfg ViewConfig) (*View, error) {
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var page *rod.Page
	var err error
	if cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	if len(cfg.Block) > 0 {
		blockResources(page, cfg.Block)
	}

	v := &View{Page: page, cfg: cfg}
	if err := v.attach(ctx); err != nil {
		page.Close()
		return nil, err
	}
	return v, nil
}

// Reload tears the transport down, reloads the page and installs a fresh
// transport. The old channel is closed; nothing sent on it is answered.
func (v *View) Reload(ctx context.Context) error {
	if v.Channel != nil {
		v.Channel.Close()
	}
	return v.attach(ctx)
}

func (v *View) attach(ctx context.Context) error {
	ch, err := transport.NewPage(v.Page, transport.PageConfig{Logger: v.cfg.Logger})
	if err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	navCtx, cancel := context.WithTimeout(ctx, v.cfg.LoadTimeout)
	defer cancel()

	if err := v.Page.Context(navCtx).Navigate(v.cfg.URL); err != nil {
		ch.Close()
		return fmt.Errorf("browser: navigate %s: %w", v.cfg.URL, err)
	}
	if err := v.Page.Context(navCtx).WaitLoad(); err != nil {
		v.cfg.Logger.Warn("browser: wait load", "url", v.cfg.URL, "error", err)
	}
	v.Channel = ch
	return nil
}

// WaitAPI blocks until the runtime's receiver is installed in the page.
func (v *View) WaitAPI(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, v.cfg.LoadTimeout)
	defer cancel()
	err := v.Page.Context(wctx).Wait(rod.Eval(`() => !!(window.__sketchbridge && window.__sketchbridge.receive)`))
	if err != nil {
		return fmt.Errorf("browser: runtime API not available: %w", err)
	}
	return nil
}

// Close closes the transport and the page.
func (v *View) Close() error {
	if v.Channel != nil {
		v.Channel.Close()
	}
	return v.Page.Close()
}

// Command sketchbridge hosts the drawing runtime and serves its control API.
//
// Usage:
//
//	sketchbridge -config sketchbridge.yaml     # run with a YAML config
//	sketchbridge -fake -addr :8088             # scripted runtime, no browser
//	sketchbridge -open file:board.excalidraw -export svg > board.svg
//	sketchbridge -mcp-stdio                    # MCP tools on stdin/stdout
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sketchbridge/bridge"
)

type options struct {
	configPath string
	addr       string
	fake       bool
	open       string
	export     string
	mcpStdio   bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to sketchbridge.yaml config file")
	flag.StringVar(&o.addr, "addr", "", "listen address (overrides http.addr)")
	flag.BoolVar(&o.fake, "fake", false, "use the scripted in-process runtime instead of a browser")
	flag.StringVar(&o.open, "open", "", "resource to load after start (overrides view.initial_resource)")
	flag.StringVar(&o.export, "export", "", "export the scene in this format to stdout and exit")
	flag.BoolVar(&o.mcpStdio, "mcp-stdio", false, "serve MCP tools on stdin/stdout")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("sketchbridge: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.addr != "" {
		cfg.HTTP.Addr = o.addr
	}
	if o.open != "" {
		cfg.View.InitialResource = o.open
	}

	var opts []bridge.Option
	if o.fake {
		opts = append(opts, bridge.WithSurface(bridge.NewFakeSurface(bridge.FakeOptions{
			AutoRespond: true,
			EchoUpdates: true,
			Logger:      logger,
		})))
	}
	b, err := bridge.New(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.Stop(sctx)
	}()

	if o.export != "" {
		return runExport(ctx, b, cfg, o.export, o.fake)
	}

	r := chi.NewRouter()
	b.RegisterHTTP(r)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 2)
	go func() {
		logger.Info("sketchbridge: listening", "addr", cfg.HTTP.Addr, "mode", cfg.View.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	// The embedded view is served by srv, so the runtime starts after the
	// listener is up. In socket mode Start waits for the page to connect.
	go func() {
		if err := b.Start(ctx); err != nil && ctx.Err() == nil {
			errc <- fmt.Errorf("start: %w", err)
		}
	}()

	if o.mcpStdio {
		msrv := mcp.NewServer(&mcp.Implementation{Name: "sketchbridge", Version: bridge.Version}, nil)
		bridge.RegisterMCP(msrv, b)
		go func() {
			if err := msrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				errc <- fmt.Errorf("mcp: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		logger.Warn("sketchbridge: http shutdown", "error", serr)
	}
	return err
}

// runExport starts the runtime, exports once to stdout and returns.
func runExport(ctx context.Context, b *bridge.Bridge, cfg *bridge.Config, format string, fake bool) error {
	if cfg.View.Mode == bridge.ModeSocket && !fake {
		return errors.New("export: one-shot export needs view.mode browser or -fake")
	}
	if cfg.View.URL == "" && !fake {
		// The browser loads the embedded view from our own listener.
		r := chi.NewRouter()
		b.RegisterHTTP(r)
		srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go srv.ListenAndServe()
		defer srv.Close()
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	res, err := b.Export(ctx, bridge.ExportRequest{Format: format})
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(res.Data)
	return err
}

func loadConfig(path string) (*bridge.Config, error) {
	if path == "" {
		return bridge.DefaultConfig(), nil
	}
	cfg, err := bridge.LoadConfigFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config %s not found", path)
	}
	return cfg, err
}

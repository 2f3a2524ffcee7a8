// Package export drives save-as round trips and turns their payloads into
// export artifacts: post-processed bytes, an optional file under the output
// directory and an export record handed to the persister.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hazyhaar/sketchbridge/bridge/internal/correlation"
	"github.com/hazyhaar/sketchbridge/bridge/internal/resource"
	"github.com/hazyhaar/sketchbridge/bridge/internal/sink"
	"github.com/hazyhaar/sketchbridge/bridge/message"
	"github.com/hazyhaar/sketchbridge/horosafe"
	"github.com/hazyhaar/sketchbridge/idgen"
)

var (
	// ErrUnknownFormat is returned for formats outside Formats.
	ErrUnknownFormat = errors.New("export: unknown format")
	// ErrBadPayload is returned when the runtime's payload does not look
	// like the requested format.
	ErrBadPayload = errors.New("export: unexpected payload")
)

// Formats lists the supported export formats.
var Formats = []string{"json", "svg", "png", "jpeg", "webp", "pdf"}

// Source issues save-as requests. The dispatcher implements it.
type Source interface {
	SaveAsJSON() (*correlation.Future, error)
	SaveAsSVG(cfg message.ExportConfig) (*correlation.Future, error)
	SaveAsBinaryImage(cfg message.ExportConfig, mimeType string) (*correlation.Future, error)
}

// Config for an Exporter.
type Config struct {
	// OutDir receives export files when a Request asks for one. Empty
	// disables file output.
	OutDir string
	// Persister records each export. Default: sink.Discard.
	Persister sink.Persister
	// IDs names export records and files. Default: idgen.Default.
	IDs idgen.Generator
	// Timeout bounds one round trip when ctx has no deadline. Default: 30s.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Persister == nil {
		c.Persister = sink.Discard{}
	}
	if c.IDs == nil {
		c.IDs = idgen.Default
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Request describes one export.
type Request struct {
	Format string
	Config message.ExportConfig
	// Name is the output file name without extension. Empty uses the
	// export id. Ignored unless WriteFile is set.
	Name      string
	WriteFile bool
}

// Result is a finished export.
type Result struct {
	ID            string    `json:"id"`
	Format        string    `json:"format"`
	MimeType      string    `json:"mime_type"`
	CorrelationID string    `json:"correlation_id"`
	Size          int       `json:"size"`
	Path          string    `json:"path,omitempty"`
	Data          []byte    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// Exporter runs exports against a Source.
type Exporter struct {
	cfg Config
}

// New creates an Exporter.
func New(cfg Config) *Exporter {
	cfg.defaults()
	return &Exporter{cfg: cfg}
}

// Export issues the round trip for req.Format on src, waits for the
// response, post-processes it and records it.
func (e *Exporter) Export(ctx context.Context, src Source, req Request) (*Result, error) {
	format := strings.ToLower(strings.TrimSpace(req.Format))
	mime, ok := mimeTypes[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, req.Format)
	}
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	fut, err := issue(src, format, req.Config)
	if err != nil {
		return nil, err
	}
	payload, err := fut.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: %s round trip %s: %w", format, fut.ID(), err)
	}
	data, err := finish(format, payload)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ID:            e.cfg.IDs(),
		Format:        format,
		MimeType:      mime,
		CorrelationID: fut.ID(),
		Size:          len(data),
		Data:          data,
		CreatedAt:     time.Now().UTC(),
	}
	if req.WriteFile && e.cfg.OutDir != "" {
		name := req.Name
		if name == "" {
			name = res.ID
		}
		path, err := e.write(name+"."+format, data)
		if err != nil {
			return nil, err
		}
		res.Path = path
	}

	exp := sink.Export{
		ID:            res.ID,
		Format:        res.Format,
		MimeType:      res.MimeType,
		CorrelationID: res.CorrelationID,
		Path:          res.Path,
		Data:          data,
		CreatedAt:     res.CreatedAt,
	}
	if err := e.cfg.Persister.PersistExport(ctx, exp); err != nil {
		e.cfg.Logger.Warn("export: record failed", "id", res.ID, "format", format, "error", err)
	}
	e.cfg.Logger.Info("export: done", "id", res.ID, "format", format, "size", res.Size, "path", res.Path)
	return res, nil
}

var mimeTypes = map[string]string{
	"json": message.MimeJSON,
	"svg":  message.MimeSVG,
	"png":  message.MimePNG,
	"jpeg": message.MimeJPEG,
	"webp": message.MimeWebP,
	"pdf":  message.MimePDF,
}

func issue(src Source, format string, cfg message.ExportConfig) (*correlation.Future, error) {
	switch format {
	case "json":
		return src.SaveAsJSON()
	case "svg":
		return src.SaveAsSVG(cfg)
	case "pdf":
		return src.SaveAsBinaryImage(cfg, message.MimePNG)
	}
	return src.SaveAsBinaryImage(cfg, mimeTypes[format])
}

// finish checks the payload against the format and converts it where the
// runtime cannot produce the format itself.
func finish(format string, payload []byte) ([]byte, error) {
	switch format {
	case "json":
		if _, err := resource.ParseScene(payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
		}
		return payload, nil
	case "svg":
		trimmed := bytes.TrimSpace(payload)
		if !bytes.HasPrefix(trimmed, []byte("<svg")) && !bytes.HasPrefix(trimmed, []byte("<?xml")) {
			return nil, fmt.Errorf("%w: svg payload starts with %q", ErrBadPayload, head(trimmed))
		}
		return payload, nil
	case "pdf":
		return WrapPDF(payload)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrBadPayload, format)
	}
	return payload, nil
}

func (e *Exporter) write(name string, data []byte) (string, error) {
	path, err := horosafe.SafePath(e.cfg.OutDir, name)
	if err != nil {
		return "", fmt.Errorf("export: output path: %w", err)
	}
	if err := os.MkdirAll(e.cfg.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("export: output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("export: write %s: %w", name, err)
	}
	return path, nil
}

func head(b []byte) string {
	if len(b) > 16 {
		b = b[:16]
	}
	return string(b)
}

// Package fakeruntime is a scripted stand-in for the embedded drawing
// runtime. It speaks the runtime side of the protocol over any transport
// channel: it applies pushed commands to an in-memory scene and, when asked
// to, answers save requests with generated content.
package fakeruntime

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"strings"
	"sync"

	"github.com/hazyhaar/sketchbridge/bridge/internal/transport"
	"github.com/hazyhaar/sketchbridge/bridge/message"
)

// Config for a fake runtime.
type Config struct {
	// AutoRespond answers save-as requests with generated content.
	AutoRespond bool
	// EchoUpdates emits a continuous-update after each applied update, as
	// the real drawing surface does after a programmatic scene change.
	EchoUpdates bool
	Logger      *slog.Logger
}

// Presentation mirrors the runtime-side presentation options.
type Presentation struct {
	Theme    string
	ReadOnly bool
	GridMode bool
	ZenMode  bool
}

// Runtime is the fake runtime.
type Runtime struct {
	ch     transport.Channel
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	received []message.Outbound
	scene    message.Scene
	pres     Presentation
	changed  chan struct{}
}

// New attaches a fake runtime to ch.
func New(ch transport.Channel, cfg Config) (*Runtime, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Runtime{
		ch:      ch,
		cfg:     cfg,
		logger:  cfg.Logger,
		scene:   message.Scene{Elements: []message.Element{}},
		pres:    Presentation{Theme: message.ThemeLight},
		changed: make(chan struct{}),
	}
	if err := ch.OnReceive(r.receive); err != nil {
		return nil, fmt.Errorf("fakeruntime: %w", err)
	}
	return r, nil
}

func (r *Runtime) receive(raw string) bool {
	env, err := message.Decode(raw)
	if err != nil {
		r.logger.Warn("fakeruntime: bad envelope", "error", err)
		return false
	}
	msg, err := message.ParseOutbound(env)
	if err != nil {
		r.logger.Warn("fakeruntime: bad message", "type", env.Type, "error", err)
		return false
	}

	r.mu.Lock()
	r.received = append(r.received, msg)
	r.apply(msg)
	sc := r.scene
	r.mu.Unlock()
	// Waiters wake only after any reply is queued, so a test's next send
	// cannot overtake it.
	defer r.signal()

	switch m := msg.(type) {
	case message.Update:
		if r.cfg.EchoUpdates {
			r.Send(message.ContinuousUpdate{Scene: sc})
		}
	case message.SaveAsJSON:
		if r.cfg.AutoRespond {
			r.respondJSON(sc, m.CorrelationID)
		}
	case message.SaveAsSVG:
		if r.cfg.AutoRespond {
			r.Send(message.SVGContent{SVG: RenderSVG(sc), CorrelationID: m.CorrelationID})
		}
	case message.SaveAsBinaryImage:
		if r.cfg.AutoRespond {
			r.respondImage(sc, m)
		}
	}
	return true
}

func (r *Runtime) signal() {
	r.mu.Lock()
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

// apply mutates the fake's state. Caller holds r.mu.
func (r *Runtime) apply(msg message.Outbound) {
	switch m := msg.(type) {
	case message.Update:
		r.scene.Elements = m.Elements
		if len(m.AppState) > 0 {
			r.scene.AppState = m.AppState
		}
		if m.Files != nil {
			r.scene.Files = m.Files
		}
	case message.ToggleReadOnly:
		r.pres.ReadOnly = m.ReadOnly
	case message.ThemeChange:
		r.pres.Theme = m.Theme
	case message.ToggleSceneModes:
		if m.GridMode != nil {
			r.pres.GridMode = *m.GridMode
		}
		if m.ZenMode != nil {
			r.pres.ZenMode = *m.ZenMode
		}
	}
}

func (r *Runtime) respondJSON(sc message.Scene, id string) {
	file := sc
	file.Type = "excalidraw"
	file.Version = 2
	file.Source = "sketchbridge-fake"
	data, err := json.Marshal(file)
	if err != nil {
		r.Send(message.RuntimeError{ErrorMessage: err.Error()})
		return
	}
	r.Send(message.JSONContent{JSON: string(data), CorrelationID: id})
}

func (r *Runtime) respondImage(sc message.Scene, m message.SaveAsBinaryImage) {
	data, err := RenderImage(sc, m.MimeType, m.ExportConfig)
	if err != nil {
		r.Send(message.RuntimeError{ErrorMessage: err.Error()})
		return
	}
	payload := "data:" + m.MimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	r.Send(message.BinaryImageContent{Base64Payload: payload, CorrelationID: m.CorrelationID})
}

// Send pushes m to the host.
func (r *Runtime) Send(m message.Message) error {
	env, err := message.EncodeMessage(m)
	if err != nil {
		return err
	}
	return r.ch.Send(env)
}

// SendRaw pushes raw text to the host, bypassing the codec.
func (r *Runtime) SendRaw(raw string) error {
	return r.ch.Send(raw)
}

// SignalReady sends the bare ready message.
func (r *Runtime) SignalReady() error {
	return r.Send(message.Ready{})
}

// EmitChange sends the current scene as a continuous-update.
func (r *Runtime) EmitChange() error {
	return r.Send(message.ContinuousUpdate{Scene: r.Scene()})
}

// Edit replaces the fake's elements as a user edit would and emits the
// resulting continuous-update.
func (r *Runtime) Edit(elements []message.Element) error {
	r.mu.Lock()
	r.scene.Elements = elements
	r.mu.Unlock()
	return r.EmitChange()
}

// Fail sends a runtime error.
func (r *Runtime) Fail(msg string) error {
	return r.Send(message.RuntimeError{ErrorMessage: msg})
}

// Scene returns the fake's current scene.
func (r *Runtime) Scene() message.Scene {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scene
}

// Presentation returns the fake's presentation options.
func (r *Runtime) Presentation() Presentation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pres
}

// Received returns every message the host pushed so far.
func (r *Runtime) Received() []message.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Outbound(nil), r.received...)
}

// WaitFor blocks until at least n messages of type t were received and
// returns them.
func (r *Runtime) WaitFor(ctx context.Context, t message.Type, n int) ([]message.Outbound, error) {
	for {
		r.mu.Lock()
		var matches []message.Outbound
		for _, m := range r.received {
			if m.Type() == t {
				matches = append(matches, m)
			}
		}
		ch := r.changed
		r.mu.Unlock()

		if len(matches) >= n {
			return matches, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return matches, ctx.Err()
		}
	}
}

// RenderSVG draws a placeholder SVG with one rect per live element.
func RenderSVG(sc message.Scene) string {
	live := sc.LiveElements()
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="100" data-elements="%d">`,
		40+30*len(live), len(live))
	for i, e := range live {
		fmt.Fprintf(&b, `<rect id=%q x="%d" y="20" width="20" height="60"/>`, e.ID, 20+30*i)
	}
	b.WriteString("</svg>")
	return b.String()
}

// RenderImage draws a placeholder raster with one bar per live element.
// WebP has no encoder in the standard library; it is served as PNG bytes.
func RenderImage(sc message.Scene, mime string, cfg message.ExportConfig) ([]byte, error) {
	live := sc.LiveElements()
	scale := cfg.ExportScale
	if scale <= 0 {
		scale = 1
	}
	w, h := int(float64(40+30*len(live))*scale), int(100*scale)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bg := color.RGBA{255, 255, 255, 255}
	if cfg.ExportWithDarkMode {
		bg = color.RGBA{18, 18, 18, 255}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, bg)
		}
	}
	bar := color.RGBA{30, 30, 200, 255}
	for i := range live {
		x0 := int(float64(20+30*i) * scale)
		for y := int(20 * scale); y < int(80*scale); y++ {
			for x := x0; x < x0+int(20*scale); x++ {
				img.Set(x, y, bar)
			}
		}
	}

	var buf bytes.Buffer
	var err error
	switch mime {
	case message.MimeJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case message.MimePNG, message.MimeWebP:
		err = png.Encode(&buf, img)
	default:
		return nil, fmt.Errorf("fakeruntime: unsupported image type %q", mime)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

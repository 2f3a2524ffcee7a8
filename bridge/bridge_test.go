package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sketchbridge/bridge/internal/config"
	"github.com/hazyhaar/sketchbridge/bridge/internal/dispatcher"
	"github.com/hazyhaar/sketchbridge/bridge/internal/transport"
	"github.com/hazyhaar/sketchbridge/bridge/message"
)

const boardFile = `{"type":"excalidraw","version":2,"source":"test","elements":[
 {"id":"r1","type":"rectangle","version":3,"versionNonce":11},
 {"id":"t1","type":"text","version":1,"versionNonce":12}
]}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Debounce.Update = 10 * time.Millisecond
	cfg.Debounce.Persist = 10 * time.Millisecond
	cfg.Workers.TaskTimeout = 5 * time.Second
	cfg.Storage.ResourceDir = t.TempDir()
	if err := os.WriteFile(filepath.Join(cfg.Storage.ResourceDir, "board.excalidraw"), []byte(boardFile), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func startBridge(t *testing.T, cfg *config.Config, fake FakeOptions, opts ...Option) (*Bridge, *FakeSurface) {
	t.Helper()
	surface := NewFakeSurface(fake)
	b, err := New(cfg, nil, append(opts, WithSurface(surface))...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { b.Stop(context.Background()) })
	return b, surface
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBridge_StartHydratesInitialResource(t *testing.T) {
	cfg := testConfig(t)
	cfg.View.InitialResource = "file:board.excalidraw"
	b, fake := startBridge(t, cfg, FakeOptions{})

	st := b.Status()
	if !st.Started || st.Dispatcher.State != dispatcher.Ready || st.Resource != "file:board.excalidraw" {
		t.Fatalf("status: %+v", st)
	}
	if _, err := fake.Runtime().WaitFor(ctxT(t), message.TypeUpdate, 1); err != nil {
		t.Fatal(err)
	}
	if els := fake.Runtime().Scene().Elements; len(els) != 2 || els[0].ID != "r1" {
		t.Fatalf("runtime scene: %+v", els)
	}
}

func TestBridge_StartWithMissingResource(t *testing.T) {
	cfg := testConfig(t)
	cfg.View.InitialResource = "file:nope.excalidraw"
	notes := make(chan string, 4)
	b, _ := startBridge(t, cfg, FakeOptions{}, WithNotifier(NotifyFunc(func(_ context.Context, msg string) error {
		notes <- msg
		return nil
	})))

	if s := b.Status().Dispatcher.State; s != dispatcher.Ready {
		t.Fatalf("state: got %s, want ready with an empty scene", s)
	}
	select {
	case <-notes:
	case <-time.After(3 * time.Second):
		t.Fatal("failed load not notified")
	}
	sc, err := b.Scene()
	if err != nil || len(sc.Elements) != 0 {
		t.Fatalf("scene: (%+v, %v)", sc, err)
	}
}

func TestBridge_RuntimeErrorSanitizedOnce(t *testing.T) {
	notes := make(chan string, 4)
	_, fake := startBridge(t, testConfig(t), FakeOptions{}, WithNotifier(NotifyFunc(func(_ context.Context, msg string) error {
		notes <- msg
		return nil
	})))

	fake.Runtime().Fail("<i>Render</i> failed: &lt;b&gt; is not a tag")
	select {
	case msg := <-notes:
		if msg != "Render failed: <b> is not a tag" {
			t.Fatalf("note: got %q", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runtime error not notified")
	}
}

func TestBridge_OpenReplacesScene(t *testing.T) {
	b, fake := startBridge(t, testConfig(t), FakeOptions{})

	if err := b.Open(ctxT(t), "file:board.excalidraw"); err != nil {
		t.Fatal(err)
	}
	if _, err := fake.Runtime().WaitFor(ctxT(t), message.TypeUpdate, 2); err != nil {
		t.Fatal(err)
	}
	if n := len(fake.Runtime().Scene().Elements); n != 2 {
		t.Fatalf("elements: got %d", n)
	}

	err := b.Open(ctxT(t), "file:missing.excalidraw")
	if !errors.Is(err, ErrExternalResource) {
		t.Fatalf("missing: got %v", err)
	}
	if n := len(fake.Runtime().Scene().Elements); n != 2 {
		t.Fatalf("failed open changed the scene: %d elements", n)
	}
	if got := b.Status().Resource; got != "file:board.excalidraw" {
		t.Fatalf("resource: got %q", got)
	}
}

func TestBridge_ReloadCancelsPendingAndRestoresScene(t *testing.T) {
	b, fake := startBridge(t, testConfig(t), FakeOptions{})
	keep := message.Scene{Elements: []message.Element{message.NewElement("keep", "ellipse", 2, 7)}}
	if err := b.Load(keep); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := b.Export(context.Background(), ExportRequest{Format: "svg"})
		errc <- err
	}()
	first := fake.Runtime()
	if _, err := first.WaitFor(ctxT(t), message.TypeSaveAsSVG, 1); err != nil {
		t.Fatal(err)
	}

	if err := b.Reload(ctxT(t)); err != nil {
		t.Fatalf("reload: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrCancelled) || !errors.Is(err, ErrReloaded) {
			t.Fatalf("pending export: got %v, want cancellation by reload", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pending export not cancelled")
	}

	if fake.Opened() != 2 || b.Status().Reloads != 1 {
		t.Fatalf("opened %d, reloads %d", fake.Opened(), b.Status().Reloads)
	}
	second := fake.Runtime()
	if second == first {
		t.Fatal("reload reused the runtime")
	}
	if _, err := second.WaitFor(ctxT(t), message.TypeUpdate, 1); err != nil {
		t.Fatal(err)
	}
	if els := second.Scene().Elements; len(els) != 1 || els[0].ID != "keep" {
		t.Fatalf("restored scene: %+v", els)
	}
}

// failingSurface fails the next fail Opens, then defers to FakeSurface.
type failingSurface struct {
	*FakeSurface
	fail atomic.Int32
}

func (s *failingSurface) Open(ctx context.Context) (transport.Channel, error) {
	if s.fail.Add(-1) >= 0 {
		return nil, errors.New("surface unavailable")
	}
	return s.FakeSurface.Open(ctx)
}

func TestBridge_ReloadAfterFailedReloadRestoresScene(t *testing.T) {
	surface := &failingSurface{FakeSurface: NewFakeSurface(FakeOptions{})}
	b, err := New(testConfig(t), nil, WithSurface(surface))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Stop(context.Background()) })

	keep := message.Scene{Elements: []message.Element{message.NewElement("keep", "ellipse", 2, 7)}}
	if err := b.Load(keep); err != nil {
		t.Fatal(err)
	}

	surface.fail.Store(1)
	if err := b.Reload(ctxT(t)); err == nil {
		t.Fatal("reload with a failing surface succeeded")
	}
	if err := b.Reload(ctxT(t)); err != nil {
		t.Fatalf("second reload: %v", err)
	}

	sc, err := b.Scene()
	if err != nil || len(sc.Elements) != 1 || sc.Elements[0].ID != "keep" {
		t.Fatalf("scene after retry: (%+v, %v)", sc.Elements, err)
	}
	if _, err := surface.Runtime().WaitFor(ctxT(t), message.TypeUpdate, 1); err != nil {
		t.Fatal(err)
	}
	if els := surface.Runtime().Scene().Elements; len(els) != 1 || els[0].ID != "keep" {
		t.Fatalf("runtime scene: %+v", els)
	}
}

func TestBridge_ThemeChangeReloads(t *testing.T) {
	cfg := testConfig(t)
	cfg.View.ReloadOnThemeChange = true
	b, fake := startBridge(t, cfg, FakeOptions{})

	if err := b.SetTheme(ctxT(t), "dark"); err != nil {
		t.Fatal(err)
	}
	if fake.Opened() != 2 {
		t.Fatalf("opened: got %d, want 2", fake.Opened())
	}
	rt := fake.Runtime()
	if _, err := rt.WaitFor(ctxT(t), message.TypeThemeChange, 1); err != nil {
		t.Fatal(err)
	}
	if th := rt.Presentation().Theme; th != "dark" {
		t.Fatalf("theme: got %q", th)
	}
	if err := b.SetTheme(ctxT(t), "blue"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("bad theme: got %v", err)
	}
}

func TestBridge_PresentationSurvivesReload(t *testing.T) {
	b, fake := startBridge(t, testConfig(t), FakeOptions{})
	on := true
	if err := b.SetReadOnly(true); err != nil {
		t.Fatal(err)
	}
	if err := b.SetSceneModes(&on, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Reload(ctxT(t)); err != nil {
		t.Fatal(err)
	}
	rt := fake.Runtime()
	if _, err := rt.WaitFor(ctxT(t), message.TypeToggleSceneModes, 1); err != nil {
		t.Fatal(err)
	}
	if p := rt.Presentation(); !p.ReadOnly || !p.GridMode || p.ZenMode {
		t.Fatalf("presentation after reload: %+v", p)
	}
}

func TestBridge_ExportAndPersistWithStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.DB = filepath.Join(t.TempDir(), "sketch.db")
	cfg.Storage.ExportDir = t.TempDir()
	b, fake := startBridge(t, cfg, FakeOptions{AutoRespond: true})

	fake.Runtime().Edit([]message.Element{message.NewElement("e1", "line", 1, 3)})
	waitUntil(t, "scene stored", func() bool {
		rec, err := b.store.GetScene(context.Background(), "default")
		return err == nil && rec != nil && rec.ElementCount == 1
	})

	res, err := b.Export(ctxT(t), ExportRequest{Format: "png", Name: "board", WriteFile: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != filepath.Join(cfg.Storage.ExportDir, "board.png") {
		t.Fatalf("path: %q", res.Path)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "export recorded", func() bool {
		recs, err := b.store.ListExports(context.Background(), "default", 10)
		return err == nil && len(recs) == 1 && recs[0].Format == "png"
	})

	if err := b.RequestSave(); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "uncorrelated save recorded", func() bool {
		recs, _ := b.store.ListExports(context.Background(), "", 10)
		return len(recs) == 2
	})
}

func TestBridge_Lifecycle(t *testing.T) {
	b, err := New(testConfig(t), nil, WithSurface(NewFakeSurface(FakeOptions{})))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetReadOnly(true); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("before start: got %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err == nil {
		t.Fatal("second start accepted")
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := b.Export(context.Background(), ExportRequest{Format: "json"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: got %v", err)
	}
	if err := b.Reload(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("reload after stop: got %v", err)
	}
	if st := b.Status(); !st.Stopped || st.Dispatcher.State != dispatcher.Disposed {
		t.Fatalf("status: %+v", st)
	}
}

package resource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sketchbridge/bridge/internal/store"
	"github.com/hazyhaar/sketchbridge/dbopen"
	"github.com/hazyhaar/sketchbridge/horosafe"
)

const sampleScene = `{
  "type": "excalidraw",
  "version": 2,
  "source": "https://excalidraw.com",
  "elements": [
    {"id": "r1", "type": "rectangle", "version": 3, "versionNonce": 42, "isDeleted": false, "x": 10}
  ],
  "appState": {"viewBackgroundColor": "#ffffff"},
  "files": {}
}`

func TestParseScene_File(t *testing.T) {
	s, err := ParseScene([]byte("\xef\xbb\xbf" + sampleScene))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(s.Elements) != 1 || s.Elements[0].ID != "r1" || s.Elements[0].Version != 3 {
		t.Fatalf("elements: %+v", s.Elements)
	}
	if string(s.AppState) != `{"viewBackgroundColor": "#ffffff"}` {
		t.Errorf("appState: %s", s.AppState)
	}
}

func TestParseScene_BareArray(t *testing.T) {
	s, err := ParseScene([]byte(`[{"id":"a","type":"line","version":1,"versionNonce":1}]`))
	if err != nil || len(s.Elements) != 1 {
		t.Fatalf("got (%+v, %v)", s, err)
	}
}

func TestParseScene_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "not json", `{"type":"other","elements":[]}`, `[{"type":"line"}]`} {
		if _, err := ParseScene([]byte(in)); !errors.Is(err, ErrInvalidScene) {
			t.Errorf("ParseScene(%q): got %v, want ErrInvalidScene", in, err)
		}
	}
}

func TestParseScene_NoElements(t *testing.T) {
	s, err := ParseScene([]byte(`{"type":"excalidraw"}`))
	if err != nil {
		t.Fatal(err)
	}
	if s.Elements == nil || len(s.Elements) != 0 {
		t.Fatalf("elements: %#v", s.Elements)
	}
}

func TestDir(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "board.excalidraw"), []byte(sampleScene), 0o644); err != nil {
		t.Fatal(err)
	}
	d := NewDir(base)
	ctx := context.Background()

	data, err := d.Fetch(ctx, "board.excalidraw")
	if err != nil || string(data) != sampleScene {
		t.Fatalf("fetch: (%d bytes, %v)", len(data), err)
	}
	if _, err := d.Fetch(ctx, "missing.excalidraw"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: got %v", err)
	}
	if _, err := d.Fetch(ctx, "../etc/passwd"); !errors.Is(err, horosafe.ErrPathTraversal) {
		t.Fatalf("traversal: got %v", err)
	}
}

func TestHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/board.json":
			w.Write([]byte(sampleScene))
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	if _, err := NewHTTP().Fetch(ctx, srv.URL+"/board.json"); !errors.Is(err, horosafe.ErrSSRF) {
		t.Fatalf("loopback without opt-in: got %v, want ErrSSRF", err)
	}

	h := NewHTTP(WithPrivateNetworks())
	data, err := h.Fetch(ctx, srv.URL+"/board.json")
	if err != nil || string(data) != sampleScene {
		t.Fatalf("fetch: (%d bytes, %v)", len(data), err)
	}
	if _, err := h.Fetch(ctx, srv.URL+"/nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("404: got %v", err)
	}
	if _, err := h.Fetch(ctx, srv.URL+"/broken"); err == nil {
		t.Fatal("502 accepted")
	}
	small := NewHTTP(WithPrivateNetworks(), WithMaxBytes(10))
	if _, err := small.Fetch(ctx, srv.URL+"/board.json"); !errors.Is(err, horosafe.ErrTooLarge) {
		t.Fatalf("oversize: got %v", err)
	}
}

func TestStore(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := &store.Store{DB: db}
	ctx := context.Background()
	st.PutScene(ctx, &store.SceneRecord{ID: "s1", Version: "1", Content: []byte(sampleScene)})

	f := NewStore(st)
	for _, id := range []string{"s1", "latest"} {
		data, err := f.Fetch(ctx, id)
		if err != nil || string(data) != sampleScene {
			t.Fatalf("fetch %s: (%d bytes, %v)", id, len(data), err)
		}
	}
	if _, err := f.Fetch(ctx, "s2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: got %v", err)
	}
}

func TestMux(t *testing.T) {
	var seen []string
	record := func(tag string) Fetcher {
		return FetchFunc(func(_ context.Context, id string) ([]byte, error) {
			seen = append(seen, tag+"="+id)
			return nil, nil
		})
	}
	m := NewMux().
		Handle("file", record("file")).
		Handle("https", record("web")).
		Handle("scene", record("scene")).
		Fallback(record("default"))
	ctx := context.Background()

	m.Fetch(ctx, "file:boards/a.excalidraw")
	m.Fetch(ctx, "https://example.com/a.json")
	m.Fetch(ctx, "scene:latest")
	m.Fetch(ctx, "plain.excalidraw")

	want := []string{"file=boards/a.excalidraw", "web=https://example.com/a.json", "scene=latest", "default=plain.excalidraw"}
	if len(seen) != len(want) {
		t.Fatalf("seen %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("route %d: got %q, want %q", i, seen[i], want[i])
		}
	}
	if _, err := m.Fetch(ctx, "http://example.com/x"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("unrouted http: got %v", err)
	}
	if _, err := NewMux().Fetch(ctx, "x"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("no fallback: got %v", err)
	}
}

package bridge

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hazyhaar/sketchbridge/bridge/internal/config"
	"github.com/hazyhaar/sketchbridge/bridge/message"
)

func dialView(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/view/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) message.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := message.Decode(string(data))
	if err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return env
}

func TestSocketMode_AttachEditAndReconnect(t *testing.T) {
	cfg := testConfig(t)
	cfg.View.Mode = config.ModeSocket
	b, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Stop(context.Background()) })
	if b.SocketHandler() == nil {
		t.Fatal("socket mode without a socket handler")
	}

	r := chi.NewRouter()
	b.RegisterHTTP(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	started := make(chan error, 1)
	go func() { started <- b.Start(context.Background()) }()

	first := dialView(t, srv)
	if env := readEnvelope(t, first); env.Type != message.TypeUpdate {
		t.Fatalf("first message: %s", env.Type)
	}
	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("start did not return")
	}

	edit, err := message.EncodeMessage(message.ContinuousUpdate{Scene: message.Scene{
		Elements: []message.Element{message.NewElement("w1", "diamond", 1, 9)},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.WriteMessage(websocket.TextMessage, []byte(edit)); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "edit applied", func() bool {
		sc, err := b.Scene()
		return err == nil && len(sc.Elements) == 1 && sc.Elements[0].ID == "w1"
	})

	// A page reload shows up as a second connection; the bridge re-attaches
	// to it and restores the scene.
	second := dialView(t, srv)
	env := readEnvelope(t, second)
	if env.Type != message.TypeUpdate || !strings.Contains(env.Data, "w1") {
		t.Fatalf("restore on reconnect: %s %s", env.Type, env.Data)
	}
	waitUntil(t, "reload counted", func() bool { return b.Status().Reloads == 1 })
}

func TestSocketHandler_NilOutsideSocketMode(t *testing.T) {
	b, err := New(testConfig(t), nil, WithSurface(NewFakeSurface(FakeOptions{})))
	if err != nil {
		t.Fatal(err)
	}
	if b.SocketHandler() != nil {
		t.Fatal("socket handler outside socket mode")
	}
}

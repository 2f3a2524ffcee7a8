package fakeruntime

import (
	"bytes"
	"context"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/sketchbridge/bridge/internal/transport"
	"github.com/hazyhaar/sketchbridge/bridge/message"
)

func setup(t *testing.T, cfg Config) (*Runtime, *transport.PipeEnd, chan message.Inbound) {
	t.Helper()
	host, end := transport.NewPipe(nil)
	rt, err := New(end, cfg)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan message.Inbound, 16)
	host.OnReceive(func(raw string) bool {
		env, err := message.Decode(raw)
		if err != nil {
			t.Errorf("decode: %v", err)
			return false
		}
		m, err := message.ParseInbound(env)
		if err != nil {
			t.Errorf("parse: %v", err)
			return false
		}
		got <- m
		return true
	})
	t.Cleanup(func() {
		host.Close()
		end.Close()
	})
	return rt, host, got
}

func push(t *testing.T, host *transport.PipeEnd, m message.Outbound) {
	t.Helper()
	env, err := message.EncodeMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := host.Send(env); err != nil {
		t.Fatal(err)
	}
}

func next(t *testing.T, got <-chan message.Inbound) message.Inbound {
	t.Helper()
	select {
	case m := <-got:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message from runtime")
	}
	return nil
}

func TestAppliesCommands(t *testing.T) {
	rt, host, _ := setup(t, Config{})
	on := true
	push(t, host, message.Update{Elements: []message.Element{message.NewElement("a", "text", 1, 1)}})
	push(t, host, message.ThemeChange{Theme: message.ThemeDark})
	push(t, host, message.ToggleReadOnly{ReadOnly: true})
	push(t, host, message.ToggleSceneModes{ZenMode: &on})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := rt.WaitFor(ctx, message.TypeToggleSceneModes, 1); err != nil {
		t.Fatal(err)
	}
	if p := rt.Presentation(); p.Theme != message.ThemeDark || !p.ReadOnly || !p.ZenMode || p.GridMode {
		t.Fatalf("presentation: %+v", p)
	}
	if sc := rt.Scene(); len(sc.Elements) != 1 || sc.Elements[0].ID != "a" {
		t.Fatalf("scene: %+v", sc.Elements)
	}
	if n := len(rt.Received()); n != 4 {
		t.Fatalf("received %d, want 4", n)
	}
}

func TestEchoAndAutoRespond(t *testing.T) {
	_, host, got := setup(t, Config{AutoRespond: true, EchoUpdates: true})

	push(t, host, message.Update{Elements: []message.Element{message.NewElement("a", "text", 1, 1)}})
	cu, ok := next(t, got).(message.ContinuousUpdate)
	if !ok || len(cu.Scene.Elements) != 1 {
		t.Fatalf("echo: %+v", cu)
	}

	push(t, host, message.SaveAsSVG{CorrelationID: "s1"})
	svg, ok := next(t, got).(message.SVGContent)
	if !ok || svg.CorrelationID != "s1" || !strings.Contains(svg.SVG, `id="a"`) {
		t.Fatalf("svg: %+v", svg)
	}

	push(t, host, message.SaveAsBinaryImage{MimeType: message.MimeJPEG, CorrelationID: "j1"})
	img, ok := next(t, got).(message.BinaryImageContent)
	if !ok || img.CorrelationID != "j1" || !strings.HasPrefix(img.Base64Payload, "data:image/jpeg;base64,") {
		t.Fatalf("image: %.60s", img.Base64Payload)
	}
	data, err := message.DecodeBase64Payload(img.Base64Payload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("jpeg: %v", err)
	}
}

func TestRenderImage_Unsupported(t *testing.T) {
	if _, err := RenderImage(message.Scene{}, "image/gif", message.ExportConfig{}); err == nil {
		t.Fatal("gif accepted")
	}
}

package bridge

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/sketchbridge/bridge/internal/config"
)

const testToken = "s3cret-token"

func newHTTPServer(t *testing.T, cfg *config.Config, fake FakeOptions) (*Bridge, *httptest.Server) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg.HTTP.TokenHash = string(hash)
	b, _ := startBridge(t, cfg, fake)
	r := chi.NewRouter()
	b.RegisterHTTP(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return b, srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string, auth bool) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTP_HealthAndView(t *testing.T) {
	_, srv := newHTTPServer(t, testConfig(t), FakeOptions{})

	if resp := call(t, srv, "GET", "/health", "", false); resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
	resp := call(t, srv, "GET", "/view/bridge.js", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view script: %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "__sketchbridge") {
		t.Fatal("view script missing bridge hook")
	}
}

func TestHTTP_Auth(t *testing.T) {
	_, srv := newHTTPServer(t, testConfig(t), FakeOptions{})

	if resp := call(t, srv, "GET", "/api/status", "", false); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: %d", resp.StatusCode)
	}
	req, _ := http.NewRequest("GET", srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", resp.StatusCode)
	}
	// Twice, to go through the accepted-token cache.
	for range 2 {
		if resp := call(t, srv, "GET", "/api/status", "", true); resp.StatusCode != http.StatusOK {
			t.Fatalf("good token: %d", resp.StatusCode)
		}
	}
	if resp := call(t, srv, "GET", "/api/status?token="+testToken, "", false); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("query token on /api: got %d, want 401", resp.StatusCode)
	}
}

func TestBearerAuth_QueryToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	for _, tc := range []struct {
		query bool
		want  int
	}{
		{false, http.StatusUnauthorized},
		{true, http.StatusNoContent},
	} {
		rec := httptest.NewRecorder()
		bearerAuth(string(hash), tc.query)(ok).ServeHTTP(rec, httptest.NewRequest("GET", "/ws?token="+testToken, nil))
		if rec.Code != tc.want {
			t.Fatalf("queryToken=%v: got %d, want %d", tc.query, rec.Code, tc.want)
		}
	}
}

func TestHTTP_StatusAndRequestID(t *testing.T) {
	_, srv := newHTTPServer(t, testConfig(t), FakeOptions{})

	req, _ := http.NewRequest("GET", srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("X-Request-Id", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("request id: %q", got)
	}
	var st struct {
		Started    bool `json:"started"`
		Dispatcher struct {
			State        string `json:"state"`
			Presentation struct {
				Theme string `json:"theme"`
			} `json:"presentation"`
		} `json:"dispatcher"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Started || st.Dispatcher.State != "ready" || st.Dispatcher.Presentation.Theme != "light" {
		t.Fatalf("status: %+v", st)
	}
}

func TestHTTP_Commands(t *testing.T) {
	b, srv := newHTTPServer(t, testConfig(t), FakeOptions{})

	cases := []struct {
		path, body string
		want       int
	}{
		{"/api/theme", `{"theme":"dark"}`, http.StatusOK},
		{"/api/theme", `{"theme":"sepia"}`, http.StatusBadRequest},
		{"/api/theme", `{"theme":`, http.StatusBadRequest},
		{"/api/read-only", `{"read_only":true}`, http.StatusOK},
		{"/api/scene-modes", `{"zen_mode":true}`, http.StatusOK},
		{"/api/open", `{"resource":""}`, http.StatusBadRequest},
		{"/api/open", `{"resource":"file:missing.excalidraw"}`, http.StatusNotFound},
		{"/api/open", `{"resource":"file:board.excalidraw"}`, http.StatusOK},
		{"/api/reload", "", http.StatusOK},
	}
	for _, tc := range cases {
		resp := call(t, srv, "POST", tc.path, tc.body, true)
		if resp.StatusCode != tc.want {
			body, _ := io.ReadAll(resp.Body)
			t.Errorf("POST %s %s: got %d, want %d (%s)", tc.path, tc.body, resp.StatusCode, tc.want, body)
		}
	}

	p := b.Status().Dispatcher.Presentation
	if p.Theme != "dark" || !p.ReadOnly || !p.ZenMode {
		t.Fatalf("presentation: %+v", p)
	}
	if b.Status().Resource != "file:board.excalidraw" || b.Status().Reloads != 1 {
		t.Fatalf("status: %+v", b.Status())
	}
}

func TestHTTP_Scene(t *testing.T) {
	_, srv := newHTTPServer(t, testConfig(t), FakeOptions{})

	body := `{"elements":[{"id":"a","type":"rectangle","version":1,"versionNonce":5}]}`
	if resp := call(t, srv, "POST", "/api/scene", body, true); resp.StatusCode != http.StatusOK {
		t.Fatalf("post scene: %d", resp.StatusCode)
	}
	if resp := call(t, srv, "POST", "/api/scene", "{", true); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad scene: %d", resp.StatusCode)
	}
	resp := call(t, srv, "GET", "/api/scene", "", true)
	var sc struct {
		Elements []struct {
			ID string `json:"id"`
		} `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sc); err != nil {
		t.Fatal(err)
	}
	if len(sc.Elements) != 1 || sc.Elements[0].ID != "a" {
		t.Fatalf("scene: %+v", sc)
	}
}

func TestHTTP_Export(t *testing.T) {
	_, srv := newHTTPServer(t, testConfig(t), FakeOptions{AutoRespond: true})

	resp := call(t, srv, "POST", "/api/export/svg", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("svg: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/svg+xml" {
		t.Fatalf("content type: %q", ct)
	}
	if resp.Header.Get("X-Export-Id") == "" {
		t.Fatal("missing export id")
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(data), "<svg") {
		t.Fatalf("svg body: %.40s", data)
	}

	resp = call(t, srv, "POST", "/api/export/png?meta=1", `{"exportScale":2}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("png meta: %d", resp.StatusCode)
	}
	var meta struct {
		Format   string `json:"format"`
		MimeType string `json:"mime_type"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatal(err)
	}
	if meta.Format != "png" || meta.Encoding != "base64" || meta.Content == "" {
		t.Fatalf("meta: %+v", meta)
	}

	if resp := call(t, srv, "POST", "/api/export/gif", "", true); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("gif: %d", resp.StatusCode)
	}
}

func TestHTTP_StoppedBridge(t *testing.T) {
	b, srv := newHTTPServer(t, testConfig(t), FakeOptions{})
	b.Stop(t.Context())

	resp := call(t, srv, "POST", "/api/save", "", true)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("save after stop: %d", resp.StatusCode)
	}
	var e struct {
		Error string `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&e)
	if !strings.Contains(e.Error, "stopped") {
		t.Fatalf("error body: %+v", e)
	}
}

func TestHTTP_MCPMount(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.MCP = true
	_, srv := newHTTPServer(t, cfg, FakeOptions{})

	if resp := call(t, srv, "POST", "/mcp", `{}`, false); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("mcp without token: %d", resp.StatusCode)
	}
}

func TestHTTP_Guards(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.MaxBody = 64
	cfg.HTTP.ExportLimit = 1
	_, srv := newHTTPServer(t, cfg, FakeOptions{AutoRespond: true})

	big := `{"elements":[` + strings.Repeat(`{"id":"x"},`, 20) + `{"id":"y"}]}`
	if resp := call(t, srv, "POST", "/api/scene", big, true); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized scene: %d", resp.StatusCode)
	}

	if resp := call(t, srv, "POST", "/api/export/json", "", true); resp.StatusCode != http.StatusOK {
		t.Fatalf("first export: %d", resp.StatusCode)
	}
	resp := call(t, srv, "POST", "/api/export/json", "", true)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("second export: %d", resp.StatusCode)
	}

	resp = call(t, srv, "GET", "/view/", "", false)
	if resp.Header.Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Fatalf("view headers: %v", resp.Header)
	}
	resp = call(t, srv, "GET", "/api/status", "", true)
	if resp.Header.Get("X-Frame-Options") != "DENY" || resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("api headers: %v", resp.Header)
	}
}

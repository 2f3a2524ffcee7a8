package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/sketchbridge/bridge/internal/assets"
	"github.com/hazyhaar/sketchbridge/bridge/internal/correlation"
	"github.com/hazyhaar/sketchbridge/bridge/internal/export"
	"github.com/hazyhaar/sketchbridge/bridge/internal/resource"
	"github.com/hazyhaar/sketchbridge/bridge/message"
	"github.com/hazyhaar/sketchbridge/kit"
	"github.com/hazyhaar/sketchbridge/shield"
)

// RegisterHTTP mounts the view page and the control API on r.
//
//	GET  /health
//	GET  /view/*               embedded view page
//	GET  /view/ws              view websocket (socket mode)
//	GET  /api/status
//	GET  /api/scene            latest scene
//	POST /api/scene            replace the scene
//	POST /api/theme            {"theme": "dark"}
//	POST /api/read-only        {"read_only": true}
//	POST /api/scene-modes      {"grid_mode": true, "zen_mode": false}
//	POST /api/open             {"resource": "file:board.excalidraw"}
//	POST /api/reload
//	POST /api/save
//	POST /api/export/{format}  body: export config; ?write=1&name=..&meta=1
//	*    /mcp                  MCP tools, streamable HTTP (http.mcp)
//
// With http.token_hash set, /api, /mcp and /view/ws require the bearer token
// (header; the websocket also accepts ?token=).
func (b *Bridge) RegisterHTTP(r chi.Router) {
	r.Group(func(r chi.Router) {
		for _, mw := range shield.Stack(shield.Config{
			MaxBody: b.cfg.HTTP.MaxBody,
			IDs:     b.ids,
			Logger:  b.logger,
		}) {
			r.Use(mw)
		}
		b.routes(r)
	})
}

func (b *Bridge) routes(r chi.Router) {
	eps := b.endpoints()
	auth := bearerAuth(b.cfg.HTTP.TokenHash, false)
	exportLimit := shield.NewRateLimiter(b.cfg.HTTP.ExportLimit, time.Minute)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, okReply)
	})

	r.Route("/view", func(r chi.Router) {
		r.Use(shield.SecurityHeaders(shield.ViewHeaders()))
		if ws := b.SocketHandler(); ws != nil {
			r.With(bearerAuth(b.cfg.HTTP.TokenHash, true)).Get("/ws", ws.ServeHTTP)
		}
		r.Handle("/*", http.StripPrefix("/view", assets.Handler()))
	})

	if b.cfg.HTTP.MCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "sketchbridge", Version: Version}, nil)
		RegisterMCP(srv, b)
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
		r.With(auth).Handle("/mcp", h)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth)

		r.Get("/status", serve(eps.status, noBody))
		r.Get("/scene", func(w http.ResponseWriter, _ *http.Request) {
			sc, err := b.Scene()
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, sc)
		})
		r.Post("/scene", func(w http.ResponseWriter, r *http.Request) {
			var sc message.Scene
			if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
				writeError(w, errBadBody(err))
				return
			}
			if err := b.Load(sc); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, okReply)
		})
		r.Post("/theme", serve(eps.theme, jsonBody[ThemeRequest]))
		r.Post("/read-only", serve(eps.readOnly, jsonBody[ReadOnlyRequest]))
		r.Post("/scene-modes", serve(eps.sceneModes, jsonBody[SceneModesRequest]))
		r.Post("/open", serve(eps.open, jsonBody[OpenRequest]))
		r.Post("/reload", serve(eps.reload, noBody))
		r.Post("/save", serve(eps.save, noBody))
		r.With(exportLimit.Middleware).Post("/export/{format}", func(w http.ResponseWriter, r *http.Request) {
			call := ExportCall{
				Format:    chi.URLParam(r, "format"),
				Name:      r.URL.Query().Get("name"),
				WriteFile: r.URL.Query().Get("write") == "1",
			}
			if r.ContentLength != 0 {
				if err := json.NewDecoder(r.Body).Decode(&call.Config); err != nil {
					writeError(w, errBadBody(err))
					return
				}
			}
			resp, err := eps.export(r.Context(), &call)
			if err != nil {
				writeError(w, err)
				return
			}
			reply := resp.(*ExportReply)
			if r.URL.Query().Get("meta") == "1" {
				writeJSON(w, http.StatusOK, reply)
				return
			}
			w.Header().Set("Content-Type", reply.MimeType)
			w.Header().Set("X-Export-Id", reply.ID)
			w.WriteHeader(http.StatusOK)
			w.Write(reply.Data)
		})
	})
}

type decodeFunc func(r *http.Request) (any, error)

func noBody(*http.Request) (any, error) { return nil, nil }

func jsonBody[T any](r *http.Request) (any, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return nil, errBadBody(err)
	}
	return &v, nil
}

func serve(ep kit.Endpoint, decode decodeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, err)
			return
		}
		resp, err := ep(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func errBadBody(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, resource.ErrInvalidScene):
		return http.StatusBadRequest
	case errors.Is(err, resource.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, correlation.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, ErrExternalResource), errors.Is(err, export.ErrBadPayload):
		return http.StatusBadGateway
	case errors.Is(err, ErrNotStarted), errors.Is(err, ErrStopped), errors.Is(err, ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}

// bearerAuth checks the bearer token against a bcrypt hash. An empty hash
// disables the check. With queryToken the token may also come as ?token=,
// for browsers opening a websocket. The digest of the last accepted token is
// kept so a steady client does not pay bcrypt on every call.
func bearerAuth(hash string, queryToken bool) func(http.Handler) http.Handler {
	if hash == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	var mu sync.Mutex
	var accepted [sha256.Size]byte
	var have bool

	check := func(token string) bool {
		if token == "" {
			return false
		}
		sum := sha256.Sum256([]byte(token))
		mu.Lock()
		hit := have && sum == accepted
		mu.Unlock()
		if hit {
			return true
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
			return false
		}
		mu.Lock()
		accepted, have = sum, true
		mu.Unlock()
		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found && queryToken {
				token = r.URL.Query().Get("token")
			}
			if !check(strings.TrimSpace(token)) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="sketchbridge"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

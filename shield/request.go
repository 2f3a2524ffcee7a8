package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/sketchbridge/idgen"
	"github.com/hazyhaar/sketchbridge/kit"
)

// RequestID takes the caller's X-Request-Id, or mints one with gen, echoes
// it on the response and stores it in the context (kit.WithRequestID) with
// the "http" transport and a per-request logger carrying it.
func RequestID(gen idgen.Generator, logger *slog.Logger) func(http.Handler) http.Handler {
	if gen == nil {
		gen = idgen.Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" || len(id) > 128 {
				id = gen()
			}
			w.Header().Set("X-Request-Id", id)

			ctx := kit.WithTransport(kit.WithRequestID(r.Context(), id), "http")
			reqLogger := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("shield: request", "remote_addr", r.RemoteAddr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

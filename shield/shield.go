// Package shield is the HTTP guard stack in front of the sketchbridge
// control API: security headers, request body caps, per-client rate limits,
// request ids and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(shield.Config{MaxBody: 32 << 20}) {
//	    r.Use(mw)
//	}
//	r.With(shield.NewRateLimiter(30, time.Minute).Middleware).Post("/api/export/{format}", h)
package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/sketchbridge/idgen"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger returns the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Config for Stack.
type Config struct {
	// Headers applied to every response. Zero value: APIHeaders().
	Headers *HeaderConfig
	// MaxBody caps request bodies. Zero disables the cap.
	MaxBody int64
	// IDs mints request ids for requests without X-Request-Id.
	IDs idgen.Generator
	// Logger is the base of the per-request logger.
	Logger *slog.Logger
}

// Stack returns the middleware for every route, outermost first:
// HeadToGet → SecurityHeaders → MaxBody → RequestID.
func Stack(cfg Config) []func(http.Handler) http.Handler {
	headers := APIHeaders()
	if cfg.Headers != nil {
		headers = *cfg.Headers
	}
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(headers),
	}
	if cfg.MaxBody > 0 {
		stack = append(stack, MaxBody(cfg.MaxBody))
	}
	return append(stack, RequestID(cfg.IDs, cfg.Logger))
}

// HeadToGet serves HEAD through GET routes; net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

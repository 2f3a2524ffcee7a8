package resource

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hazyhaar/sketchbridge/horosafe"
)

// HTTP GETs remote scene files.
type HTTP struct {
	client       *http.Client
	ua           string
	allowPrivate bool
	max          int64
	logger       *slog.Logger
}

// HTTPOption configures an HTTP fetcher.
type HTTPOption func(*HTTP)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTP) { h.ua = ua }
}

// WithPrivateNetworks disables the SSRF guard (loopback and private
// ranges become reachable).
func WithPrivateNetworks() HTTPOption {
	return func(h *HTTP) { h.allowPrivate = true }
}

// WithMaxBytes caps the response body. Default: horosafe.MaxResponseBody.
func WithMaxBytes(n int64) HTTPOption {
	return func(h *HTTP) { h.max = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) { h.logger = l }
}

// NewHTTP creates an HTTP fetcher. Unless private networks are allowed,
// the default client refuses to connect to blocked addresses, so a name
// that re-resolves after ValidateURL still cannot reach them.
func NewHTTP(opts ...HTTPOption) *HTTP {
	h := &HTTP{
		ua:     "sketchbridge/1.0",
		max:    horosafe.MaxResponseBody,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: 30 * time.Second}
		if !h.allowPrivate {
			tr := http.DefaultTransport.(*http.Transport).Clone()
			tr.DialContext = (&net.Dialer{
				Timeout: 10 * time.Second,
				Control: horosafe.DialControl,
			}).DialContext
			h.client.Transport = tr
		}
	}
	return h
}

func (h *HTTP) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if !h.allowPrivate {
		if err := horosafe.ValidateURL(rawURL); err != nil {
			return nil, fmt.Errorf("resource: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("resource: new request: %w", err)
	}
	req.Header.Set("User-Agent", h.ua)
	req.Header.Set("Accept", "application/json, application/vnd.excalidraw+json;q=0.9, */*;q=0.5")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resource: do: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("resource: %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, h.max)
	if err != nil {
		return nil, fmt.Errorf("resource: read body: %w", err)
	}
	h.logger.Debug("resource: fetched", "url", rawURL, "size", len(body))
	return body, nil
}

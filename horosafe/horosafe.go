// Package horosafe guards the places where the host touches externally
// referenced resources: scene file and export paths, remote scene URLs
// (SSRF), and reads of unbounded bodies.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
	"syscall"
)

// MaxResponseBody caps resource reads (32 MiB). Scene files carry base64
// image attachments.
const MaxResponseBody int64 = 32 << 20

var (
	// ErrPathTraversal is returned when a user-supplied path escapes its base.
	ErrPathTraversal = errors.New("horosafe: path traversal detected")
	// ErrSSRF is returned when a URL or connection targets a private,
	// loopback or link-local address.
	ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")
	// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
	ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")
	// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
	ErrTooLarge = errors.New("horosafe: content too large")
)

// SafePath resolves name below base. Absolute names, ".." components and
// anything else that is not a local path are rejected.
func SafePath(base, name string) (string, error) {
	name = filepath.FromSlash(name)
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	return filepath.Join(base, name), nil
}

// ValidateURL checks that rawURL is http(s) with a host that is not, and
// does not currently resolve to, a blocked address. DialControl re-checks
// at connect time.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("horosafe: URL has no host")
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		if Blocked(ip) {
			return ErrSSRF
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		// Let the fetch report the resolution failure.
		return nil
	}
	for _, a := range addrs {
		if ip, err := netip.ParseAddr(a); err == nil && Blocked(ip) {
			return fmt.Errorf("%w: %s resolves to %s", ErrSSRF, host, a)
		}
	}
	return nil
}

// DialControl is a net.Dialer Control hook refusing connections to
// blocked addresses, whatever the name resolved to.
func DialControl(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("horosafe: dial %q: %w", address, err)
	}
	if Blocked(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrSSRF, address)
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// Shared address space (RFC 6598) is not covered by netip.Addr.IsPrivate.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// Blocked reports whether ip is loopback, private, link-local, shared or
// unspecified.
func Blocked(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		cgnat.Contains(ip)
}

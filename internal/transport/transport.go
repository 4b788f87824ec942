// Package transport sends the transformed request on to the upstream LLM
// provider over a TLS connection that impersonates a real browser, and
// streams the response back without buffering the whole body in memory.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

// hopByHopHeaders must never be forwarded across a proxy hop — they are
// connection-specific (grounded on forwarder.go's hopByHopHeaders).
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":             true,
	"Transfer-Encoding":    true,
	"Upgrade":              true,
}

// ClientHello identifies the TLS fingerprint to impersonate. ChromeAuto
// mirrors a recent stable Chrome release, matching the "chrome124"
// impersonation used against Cloudflare-fronted upstreams.
var ClientHello = utls.HelloChrome_Auto

// Options configures a Transport.
type Options struct {
	AllowedHosts []string
	DialTimeout  time.Duration
	// MaxRetries bounds pre-first-byte retry attempts. A request that has
	// already started receiving a response body is never retried.
	MaxRetries int
}

// Transport forwards requests to an upstream host using a uTLS client
// hello so the proxy's TLS fingerprint matches a real browser instead of
// the Go standard library's recognisable default.
type Transport struct {
	client       *http.Client
	allowedHosts map[string]bool
	maxRetries   int
}

// New builds a Transport. An empty AllowedHosts list means every host is
// permitted.
func New(opts Options) *Transport {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	allowed := make(map[string]bool, len(opts.AllowedHosts))
	for _, h := range opts.AllowedHosts {
		allowed[strings.ToLower(h)] = true
	}

	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	rt := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialUTLS(ctx, dialer, network, addr)
		},
		ForceAttemptHTTP2:     false, // uTLS negotiates ALPN itself below
		MaxIdleConnsPerHost:   10,
		ResponseHeaderTimeout: 60 * time.Second,
	}

	return &Transport{
		client:       &http.Client{Transport: rt},
		allowedHosts: allowed,
		maxRetries:   opts.MaxRetries,
	}
}

func dialUTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	uconn := utls.UClient(rawConn, &utls.Config{ServerName: host}, ClientHello)
	if err := uconn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("uTLS handshake with %s: %w", host, err)
	}
	return uconn, nil
}

// ErrHostNotAllowed indicates the resolved upstream host is not in the
// configured allow-list.
type ErrHostNotAllowed struct {
	Host string
}

func (e *ErrHostNotAllowed) Error() string {
	return fmt.Sprintf("host %q is not in the upstream allow-list", e.Host)
}

// HostAllowed reports whether host may be used as an upstream target.
func (t *Transport) HostAllowed(host string) bool {
	if len(t.allowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return t.allowedHosts[host]
}

// Forward sends body to upstreamURL using method and the header set
// copied from src (minus hop-by-hop headers), retrying up to MaxRetries
// times if the request fails before a response is returned. The caller must
// close the returned response body.
func (t *Transport) Forward(ctx context.Context, method, upstreamURL string, src http.Header, body []byte) (*http.Response, error) {
	host, err := hostOf(upstreamURL)
	if err != nil {
		return nil, err
	}
	if !t.HostAllowed(host) {
		return nil, &ErrHostNotAllowed{Host: host}
	}

	attempts := t.maxRetries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, method, upstreamURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building upstream request: %w", err)
		}
		copyRequestHeaders(req.Header, src)
		req.ContentLength = int64(len(body))

		resp, err := t.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("forwarding to %s: %w", upstreamURL, lastErr)
}

func hostOf(rawURL string) (string, error) {
	idx := strings.Index(rawURL, "://")
	if idx == -1 {
		return "", fmt.Errorf("invalid upstream URL %q", rawURL)
	}
	rest := rawURL[idx+3:]
	end := strings.IndexAny(rest, "/?")
	if end != -1 {
		rest = rest[:end]
	}
	if at := strings.IndexByte(rest, '@'); at != -1 {
		rest = rest[at+1:]
	}
	return rest, nil
}

func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] {
			continue
		}
		if strings.EqualFold(key, "Host") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// CopyResponseHeaders copies upstream response headers onto dst, skipping
// hop-by-hop headers.
func CopyResponseHeaders(dst http.Header, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// ErrInvalidBaseURL is a fatal startup error: the resolved upstream base
// URL is not well-formed or does not use HTTPS (spec.md §4.6, §7's
// Configuration error class — "invalid upstream URL ... → fatal at
// startup").
type ErrInvalidBaseURL struct {
	URL    string
	Reason string
}

func (e *ErrInvalidBaseURL) Error() string {
	return fmt.Sprintf("invalid upstream base URL %q: %s", e.URL, e.Reason)
}

// ValidateBaseURL rejects anything but an https:// base URL. It is meant
// to be called once at startup, before a Transport is built, so a
// misconfigured upstream fails fast instead of silently downgrading the
// TLS fingerprint impersonation to plain HTTP.
func ValidateBaseURL(rawURL string) error {
	idx := strings.Index(rawURL, "://")
	if idx == -1 {
		return &ErrInvalidBaseURL{URL: rawURL, Reason: "missing scheme"}
	}
	if !strings.EqualFold(rawURL[:idx], "https") {
		return &ErrInvalidBaseURL{URL: rawURL, Reason: "scheme must be https"}
	}
	if host, err := hostOf(rawURL); err != nil || host == "" {
		return &ErrInvalidBaseURL{URL: rawURL, Reason: "missing host"}
	}
	return nil
}

// ResolveBaseURL implements the precedence order for the upstream base
// URL: an explicit file on disk, then an environment variable, then the
// configured default.
func ResolveBaseURL(baseURLFile, envVar, defaultURL string) string {
	if baseURLFile != "" {
		if data, err := os.ReadFile(baseURLFile); err == nil {
			if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
				return trimmed
			}
		}
	}
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	return defaultURL
}

// ErrorEvent renders a mid-stream SSE error frame. It is written to the
// client in place of the bytes that failed to arrive from upstream, so a
// dropped connection surfaces as a structured event instead of a silently
// truncated stream.
func ErrorEvent(code, message string) []byte {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(message)
	return []byte(fmt.Sprintf(`data: {"type":"error","error":{"code":%q,"message":"%s"}}`+"\n\n", code, escaped))
}

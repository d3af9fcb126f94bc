// Package transport provides the HTTP round trippers the storefront gateway
// can talk to the backend through.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Kind names a transport selectable from configuration.
type Kind string

const (
	// Standard is Go's default transport with HTTP/2 negotiation.
	Standard Kind = "standard"
	// Chrome presents a Chrome TLS fingerprint (see NewChromeTransport).
	Chrome Kind = "chrome"
)

// dialTimeout bounds connection establishment only. Requests themselves have
// no deadline beyond the caller's context.
const dialTimeout = 30 * time.Second

// New returns the round tripper for kind. An empty kind selects Standard.
func New(kind Kind) (http.RoundTripper, error) {
	switch kind {
	case "", Standard:
		return NewStandardTransport(dialTimeout), nil
	case Chrome:
		return NewChromeTransport(dialTimeout), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want %q or %q)", kind, Standard, Chrome)
	}
}

// NewStandardTransport clones http.DefaultTransport with the given dial
// timeout.
func NewStandardTransport(timeout time.Duration) http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	return t
}

// =============================================================================
// TLS FINGERPRINT TRANSPORT
// =============================================================================
//
// Storefront backends are commonly fronted by a CDN that scores clients by
// their TLS ClientHello. Go's handshake stands out and gets challenged, so
// the CLI can opt into uTLS with HelloChrome_Auto:
//
//   1. uTLS performs the handshake with Chrome's fingerprint
//   2. ALPN negotiates h2 or http/1.1 naturally
//   3. http2.Transport frames the request when h2 was negotiated
//
// =============================================================================

// NewChromeTransport creates an http.RoundTripper that presents Chrome's TLS
// fingerprint. HTTP/2 is tried first with HTTP/1.1 as the fallback.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}

	h2 := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
	}

	h1 := &http.Transport{
		DialContext: dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
		ForceAttemptHTTP2: false,
	}

	return &chromeTransport{h2: h2, h1: h1}
}

type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

// RoundTrip implements http.RoundTripper. Plain http:// URLs skip TLS
// entirely and go straight to the HTTP/1.1 transport.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}
	// A request body can only be sent once; without GetBody the h2 attempt
	// would consume it and the fallback would post an empty body.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}

	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, bodyErr
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

// dialChromeTLS establishes a TLS connection with Chrome's fingerprint.
func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}

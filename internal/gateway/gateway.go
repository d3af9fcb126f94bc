// Package gateway is the single chokepoint for calls to the storefront
// backend. It attaches the session cookie, normalizes response bodies and
// turns non-success statuses into model.HTTPError.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"

	"storefront/internal/model"
	"storefront/internal/telemetry"
)

// RequestIDHeader carries a per-call id so backend logs can be joined with ours.
const RequestIDHeader = "X-Request-ID"

// Config configures a Gateway.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	// Empty means same origin: paths resolve against Origin.
	BaseURL string

	// Origin is the storefront's own public origin.
	Origin string

	// Cookie is an optional static Cookie header value ("SESSION=abc; XSRF-TOKEN=def")
	// seeded into the jar, for sessions established outside this process.
	Cookie string

	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper

	Logger *slog.Logger
}

// Gateway issues backend calls. Safe for concurrent use; the cookie jar is the
// only state shared between calls.
type Gateway struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger

	mu  sync.Mutex // guards jar replacement in ClearCookies
	jar http.CookieJar
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = strings.TrimSpace(cfg.Origin)
	}
	if raw == "" {
		return nil, fmt.Errorf("gateway: base URL or origin is required")
	}
	base, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid base URL %q: %w", raw, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway: base URL %q must be absolute", raw)
	}

	jar, err := newJar()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	g := &Gateway{
		base:   base,
		logger: logger,
		jar:    jar,
	}
	// No Timeout: calls wait until the context is done or the transport fails.
	g.client = &http.Client{
		Transport:     cfg.Transport,
		Jar:           jarFunc{g},
		CheckRedirect: stopAtFormRedirect,
	}

	if cfg.Cookie != "" {
		cookies, err := http.ParseCookie(cfg.Cookie)
		if err != nil {
			return nil, fmt.Errorf("gateway: invalid cookie: %w", err)
		}
		g.ImportCookies(cookies)
	}

	return g, nil
}

// stopAtFormRedirect follows redirects except after a form post. Form posts
// (/login, /logout) answer with a redirect to an HTML page whose Location is
// the outcome, so the 3xx is returned to the caller instead.
func stopAtFormRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	first := via[0]
	if first.Method == http.MethodPost &&
		strings.HasPrefix(first.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return http.ErrUseLastResponse
	}
	return nil
}

func newJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("gateway: creating cookie jar: %w", err)
	}
	return jar, nil
}

// jarFunc lets ClearCookies swap the jar without touching the http.Client.
type jarFunc struct{ g *Gateway }

func (j jarFunc) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.g.currentJar().SetCookies(u, cookies)
}

func (j jarFunc) Cookies(u *url.URL) []*http.Cookie {
	return j.g.currentJar().Cookies(u)
}

func (g *Gateway) currentJar() http.CookieJar {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.jar
}

// URL resolves path against the base URL. Paths are appended, so a base with
// a path prefix ("https://host/api") keeps it.
func (g *Gateway) URL(path string) string {
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return g.base.String() + path
}

// Get is shorthand for Do with GET and no body.
func (g *Gateway) Get(ctx context.Context, path string) (*Result, error) {
	return g.Do(ctx, http.MethodGet, path, nil, nil)
}

// Post is shorthand for Do with POST.
func (g *Gateway) Post(ctx context.Context, path string, body any) (*Result, error) {
	return g.Do(ctx, http.MethodPost, path, body, nil)
}

// Delete is shorthand for Do with DELETE. A body is allowed; the cart item
// removal endpoint needs one.
func (g *Gateway) Delete(ctx context.Context, path string, body any) (*Result, error) {
	return g.Do(ctx, http.MethodDelete, path, body, nil)
}

// Do issues a request and normalizes the response.
//
// body may be nil, url.Values (form-encoded), []byte or json.RawMessage
// (sent as is), or any value to marshal as JSON. Entries in headers replace
// the defaults.
//
// A non-2xx status returns *model.HTTPError. A 2xx response never fails to
// decode: see Result for the normalization rules.
func (g *Gateway) Do(ctx context.Context, method, path string, body any, headers http.Header) (*Result, error) {
	requestID := uuid.NewString()
	ctx, span := telemetry.Tracer().Start(ctx, "backend "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
			attribute.String("request.id", requestID),
		),
	)
	defer span.End()

	req, err := g.newRequest(ctx, method, path, body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	req.Header.Set(RequestIDHeader, requestID)
	for key, values := range headers {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		g.logger.DebugContext(ctx, "backend call failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reading body")
		return nil, fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	g.logger.DebugContext(ctx, "backend call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
		slog.String("request_id", requestID),
	)

	result := normalize(data, resp.Header.Get("Content-Type"))
	result.StatusCode = resp.StatusCode
	result.Header = resp.Header
	result.Method = method
	result.Path = path

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := model.NewHTTPError(resp.StatusCode, statusText(resp), result.message())
		httpErr.Location = resp.Header.Get("Location")
		span.SetStatus(codes.Error, httpErr.Error())
		return nil, httpErr
	}

	return result, nil
}

func (g *Gateway) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var (
		reader      io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case url.Values:
		reader = strings.NewReader(b.Encode())
		contentType = "application/x-www-form-urlencoded"
	case []byte:
		reader = bytes.NewReader(b)
		contentType = "application/json"
	case json.RawMessage:
		reader = bytes.NewReader(b)
		contentType = "application/json"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encoding body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, g.URL(path), reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: creating request: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	return req, nil
}

// statusText returns the reason phrase the server sent, or the standard one.
func statusText(resp *http.Response) string {
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// Cookie returns the value of a cookie the backend set for the base URL.
func (g *Gateway) Cookie(name string) (string, bool) {
	for _, c := range g.currentJar().Cookies(g.base) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// ExportCookies returns the cookies held for the base URL so a caller can
// persist the session between runs.
func (g *Gateway) ExportCookies() []*http.Cookie {
	return g.currentJar().Cookies(g.base)
}

// ImportCookies seeds the jar with cookies for the base URL.
func (g *Gateway) ImportCookies(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	scoped := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		scoped = append(scoped, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	g.currentJar().SetCookies(g.base, scoped)
}

// ClearCookies drops every cookie, ending the local view of the session.
func (g *Gateway) ClearCookies() {
	jar, err := newJar()
	if err != nil {
		g.logger.Warn("resetting cookie jar", slog.String("error", err.Error()))
		return
	}
	g.mu.Lock()
	g.jar = jar
	g.mu.Unlock()
}

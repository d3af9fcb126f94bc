package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"storefront/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g, err := New(Config{BaseURL: server.URL, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return g
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		wantKind    Kind
		wantValue   any
	}{
		{
			name:      "empty body is null",
			body:      "",
			wantKind:  Null,
			wantValue: nil,
		},
		{
			name:        "json null is null",
			body:        "null",
			contentType: "application/json",
			wantKind:    Null,
			wantValue:   nil,
		},
		{
			name:      "object without content type",
			body:      `{"id":1}`,
			wantKind:  JSON,
			wantValue: map[string]any{"id": float64(1)},
		},
		{
			name:      "array with leading whitespace",
			body:      "  \n[1,2]",
			wantKind:  JSON,
			wantValue: []any{float64(1), float64(2)},
		},
		{
			name:        "double encoded array",
			body:        `"[{\"id\":1}]"`,
			contentType: "application/json",
			wantKind:    JSON,
			wantValue:   []any{map[string]any{"id": float64(1)}},
		},
		{
			name:        "double encoded object with padding",
			body:        `"  {\"orderId\":5} "`,
			contentType: "application/json; charset=utf-8",
			wantKind:    JSON,
			wantValue:   map[string]any{"orderId": float64(5)},
		},
		{
			name:        "json string that is not json",
			body:        `"ok"`,
			contentType: "application/json",
			wantKind:    JSON,
			wantValue:   "ok",
		},
		{
			name:        "plain text",
			body:        "created",
			contentType: "text/plain",
			wantKind:    Text,
			wantValue:   "created",
		},
		{
			name:      "number without json content type stays text",
			body:      "42",
			wantKind:  Text,
			wantValue: "42",
		},
		{
			name:        "number with json content type",
			body:        "42",
			contentType: "application/json",
			wantKind:    JSON,
			wantValue:   float64(42),
		},
		{
			name:        "broken json falls back to text",
			body:        `{"id":`,
			contentType: "application/json",
			wantKind:    Text,
			wantValue:   `{"id":`,
		},
		{
			name:        "broken inner json keeps the string",
			body:        `"{broken"`,
			contentType: "application/json",
			wantKind:    Text,
			wantValue:   "{broken",
		},
		{
			name:        "html error page",
			body:        "<html>oops</html>",
			contentType: "text/html",
			wantKind:    Text,
			wantValue:   "<html>oops</html>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := normalize([]byte(tt.body), tt.contentType)
			if r.Kind() != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", r.Kind(), tt.wantKind)
			}
			if got := r.Value(); !reflect.DeepEqual(got, tt.wantValue) {
				t.Errorf("Value() = %#v, want %#v", got, tt.wantValue)
			}
		})
	}
}

func TestDo_DoubleEncodedArray(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`"[{\"id\":1}]"`))
	})

	result, err := g.Get(context.Background(), "/products")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	var products []model.Product
	if err := result.Decode(&products); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(products) != 1 || products[0].ID != 1 {
		t.Errorf("products = %+v, want one product with id 1", products)
	}
}

func TestDo_RequestShape(t *testing.T) {
	var (
		gotMethod, gotPath, gotContentType, gotRequestID string
		gotBody                                          map[string]any
	)
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotRequestID = r.Header.Get(RequestIDHeader)
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	})

	result, err := g.Delete(context.Background(), "/users/42/cart/items", model.CartItemRequest{ProductID: 7})
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if gotMethod != http.MethodDelete || gotPath != "/users/42/cart/items" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotRequestID == "" {
		t.Error("missing request id header")
	}
	if gotBody["productId"] != float64(7) {
		t.Errorf("body = %v", gotBody)
	}
	if _, ok := gotBody["quantity"]; ok {
		t.Errorf("removal body should not carry quantity: %v", gotBody)
	}
	if !result.IsNull() {
		t.Errorf("204 should normalize to null, got %v", result.Kind())
	}
}

func TestDo_FormBodyAndHeaderOverride(t *testing.T) {
	var gotForm url.Values
	var gotAccept string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		gotAccept = r.Header.Get("Accept")
	})

	headers := http.Header{"Accept": {"text/html"}}
	_, err := g.Do(context.Background(), http.MethodPost, "/login",
		url.Values{"username": {"ada"}, "_csrf": {"tok"}}, headers)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}

	if gotForm.Get("username") != "ada" || gotForm.Get("_csrf") != "tok" {
		t.Errorf("form = %v", gotForm)
	}
	if gotAccept != "text/html" {
		t.Errorf("Accept = %q, header override should win", gotAccept)
	}
}

func TestDo_HTTPError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		contentType string
		wantMessage string
	}{
		{
			name:        "json message",
			status:      http.StatusBadRequest,
			body:        `{"message":"Product out of stock"}`,
			contentType: "application/json",
			wantMessage: "Product out of stock",
		},
		{
			name:        "json without message",
			status:      http.StatusInternalServerError,
			body:        `{"error":"boom"}`,
			contentType: "application/json",
			wantMessage: "500 Internal Server Error",
		},
		{
			name:        "html body",
			status:      http.StatusBadGateway,
			body:        "<html>bad gateway</html>",
			contentType: "text/html",
			wantMessage: "502 Bad Gateway",
		},
		{
			name:        "empty body",
			status:      http.StatusNotFound,
			wantMessage: "404 Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := g.Get(context.Background(), "/anything")

			var httpErr *model.HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("error = %v, want *model.HTTPError", err)
			}
			if httpErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", httpErr.StatusCode, tt.status)
			}
			if httpErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", httpErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestDo_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	g, err := New(Config{BaseURL: base, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}

	_, err = g.Get(context.Background(), "/products")
	if err == nil {
		t.Fatal("expected transport error")
	}
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		t.Errorf("transport failure should not be an HTTPError: %v", err)
	}
}

func TestDecode_ContractViolation(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
	}{
		{"null", normalize(nil, "")},
		{"text", normalize([]byte("ok"), "text/plain")},
		{"wrong shape", normalize([]byte(`{"id":{"nested":true}}`), "application/json")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order model.Order
			err := tt.result.Decode(&order)
			if !errors.Is(err, model.ErrContractViolation) {
				t.Errorf("Decode() error = %v, want contract violation", err)
			}
		})
	}
}

func TestURL(t *testing.T) {
	tests := []struct {
		base, origin, path, want string
	}{
		{"https://api.example.com", "", "/products", "https://api.example.com/products"},
		{"https://api.example.com/", "", "/products", "https://api.example.com/products"},
		{"https://example.com/api", "", "/products", "https://example.com/api/products"},
		{"", "https://shop.example.com", "/users/me", "https://shop.example.com/users/me"},
		{"https://api.example.com", "", "users/me", "https://api.example.com/users/me"},
	}

	for _, tt := range tests {
		g, err := New(Config{BaseURL: tt.base, Origin: tt.origin})
		if err != nil {
			t.Fatalf("New(%q, %q) error: %v", tt.base, tt.origin, err)
		}
		if got := g.URL(tt.path); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestNew_RequiresBase(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without base URL or origin")
	}
	if _, err := New(Config{BaseURL: "/relative"}); err == nil {
		t.Error("expected error for relative base URL")
	}
}

func TestCookies_SessionRoundTrip(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "SESSION", Value: "s1", Path: "/"})
			http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "csrf1", Path: "/"})
		case "/users/me":
			c, err := r.Cookie("SESSION")
			if err != nil || c.Value != "s1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"email":"ada@example.com"}`))
		}
	})
	ctx := context.Background()

	if _, err := g.Post(ctx, "/login", nil); err != nil {
		t.Fatalf("login: %v", err)
	}
	if v, ok := g.Cookie("XSRF-TOKEN"); !ok || v != "csrf1" {
		t.Errorf("Cookie(XSRF-TOKEN) = %q, %v", v, ok)
	}
	if _, err := g.Get(ctx, "/users/me"); err != nil {
		t.Fatalf("session cookie not sent: %v", err)
	}

	saved := g.ExportCookies()
	g.ClearCookies()
	if _, err := g.Get(ctx, "/users/me"); !model.IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("after ClearCookies err = %v, want 401", err)
	}

	g.ImportCookies(saved)
	if _, err := g.Get(ctx, "/users/me"); err != nil {
		t.Errorf("after ImportCookies: %v", err)
	}
}

func TestNew_StaticCookie(t *testing.T) {
	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
	}))
	defer server.Close()

	g, err := New(Config{BaseURL: server.URL, Cookie: "SESSION=abc; theme=dark"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Get(context.Background(), "/"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotCookie, "SESSION=abc") || !strings.Contains(gotCookie, "theme=dark") {
		t.Errorf("Cookie header = %q", gotCookie)
	}
}

func TestDo_FormPostStopsAtRedirect(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.Redirect(w, r, "/login?error", http.StatusFound)
		case "/moved":
			http.Redirect(w, r, "/products", http.StatusFound)
		case "/products":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[]`))
		}
	})
	ctx := context.Background()

	_, err := g.Post(ctx, "/login", url.Values{"username": {"ada"}})
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || !httpErr.IsRedirect() {
		t.Fatalf("form post error = %v, want redirect HTTPError", err)
	}
	if httpErr.Location != "/login?error" {
		t.Errorf("Location = %q", httpErr.Location)
	}

	result, err := g.Get(ctx, "/moved")
	if err != nil {
		t.Fatalf("GET should follow redirects: %v", err)
	}
	if result.Kind() != JSON {
		t.Errorf("Kind() = %v, want json", result.Kind())
	}
}

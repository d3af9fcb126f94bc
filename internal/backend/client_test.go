package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront/internal/gateway"
	"storefront/internal/model"
)

// recorded is one request seen by the fake backend.
type recorded struct {
	Method string
	Path   string
	Body   map[string]any
	Form   map[string]string
}

// fakeBackend serves canned responses keyed by "METHOD /path" and records
// every request.
type fakeBackend struct {
	t        *testing.T
	routes   map[string]http.HandlerFunc
	requests []recorded
}

func newFakeBackend(t *testing.T) (*fakeBackend, *Client) {
	t.Helper()
	fb := &fakeBackend{t: t, routes: make(map[string]http.HandlerFunc)}
	server := httptest.NewServer(fb)
	t.Cleanup(server.Close)

	gw, err := gateway.New(gateway.Config{
		BaseURL: server.URL,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("gateway.New() error: %v", err)
	}
	return fb, New(gw)
}

func (fb *fakeBackend) handle(route string, h http.HandlerFunc) {
	fb.routes[route] = h
}

func (fb *fakeBackend) json(route string, status int, body string) {
	fb.handle(route, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func (fb *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path}
	if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
		r.ParseForm()
		rec.Form = make(map[string]string)
		for k := range r.PostForm {
			rec.Form[k] = r.PostForm.Get(k)
		}
	} else if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			json.Unmarshal(data, &rec.Body)
		}
	}
	fb.requests = append(fb.requests, rec)

	if h, ok := fb.routes[r.Method+" "+r.URL.Path]; ok {
		h(w, r)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func TestProducts(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"array", `[{"id":1,"name":"Red onion","price":2.5},{"id":2,"name":"Shallot","price":4}]`, 2},
		{"page object", `{"content":[{"id":1,"name":"Red onion","price":2.5}],"totalElements":1}`, 1},
		{"double encoded", `"[{\"id\":1,\"name\":\"Red onion\",\"price\":2.5}]"`, 1},
		{"empty page", `{"content":null}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb, client := newFakeBackend(t)
			fb.json("GET /products", 200, tt.body)

			products, err := client.Products(context.Background())
			if err != nil {
				t.Fatalf("Products() error: %v", err)
			}
			if len(products) != tt.want {
				t.Errorf("len = %d, want %d", len(products), tt.want)
			}
			if tt.want > 0 && (products[0].ID != 1 || products[0].Price.Or(0) != 2.5) {
				t.Errorf("products[0] = %+v", products[0])
			}
		})
	}
}

func TestProductBySlug(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.json("GET /products/name/red onion", 200, `{"id":3,"name":"Red onion","slug":"red onion"}`)

	p, err := client.ProductBySlug(context.Background(), "red onion")
	if err != nil {
		t.Fatalf("ProductBySlug() error: %v", err)
	}
	if p.ID != 3 {
		t.Errorf("ID = %d", p.ID)
	}
}

func TestCurrentUser(t *testing.T) {
	t.Run("claims", func(t *testing.T) {
		fb, client := newFakeBackend(t)
		fb.json("GET /users/me", 200, `{"login":"octocat","email":"octo@example.com"}`)

		claims, err := client.CurrentUser(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if claims["login"] != "octocat" {
			t.Errorf("claims = %v", claims)
		}
	})

	t.Run("anonymous", func(t *testing.T) {
		fb, client := newFakeBackend(t)
		fb.json("GET /users/me", 401, `{"message":"Unauthorized"}`)

		_, err := client.CurrentUser(context.Background())
		if !errors.Is(err, model.ErrUnauthorized) {
			t.Errorf("err = %v, want unauthorized", err)
		}
	})

	t.Run("text body", func(t *testing.T) {
		fb, client := newFakeBackend(t)
		fb.handle("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>login</html>"))
		})

		claims, err := client.CurrentUser(context.Background())
		if err != nil || claims != nil {
			t.Errorf("CurrentUser() = %v, %v; want nil, nil", claims, err)
		}
	})
}

func TestCurrentProvider(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.json("GET /users/me/provider", 200, `{"provider":"GitHub"}`)

	p, err := client.CurrentProvider(context.Background())
	if err != nil || p != "github" {
		t.Errorf("CurrentProvider() = %q, %v", p, err)
	}
}

func TestCartEndpoints(t *testing.T) {
	fb, client := newFakeBackend(t)
	ctx := context.Background()
	fb.json("GET /users/42/cart", 200, `{"items":[{"productId":7,"quantity":2,"price":1.5}],"totalPrice":3}`)
	fb.json("POST /users/42/cart/items", 200, `{}`)
	fb.handle("DELETE /users/42/cart/items", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	fb.handle("DELETE /users/42/cart", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cart, err := client.Cart(ctx, 42)
	if err != nil {
		t.Fatalf("Cart() error: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 || cart.TotalPrice.Or(0) != 3 {
		t.Errorf("cart = %+v", cart)
	}

	if err := client.AddCartItem(ctx, 42, 7, -1); err != nil {
		t.Fatalf("AddCartItem() error: %v", err)
	}
	if err := client.RemoveCartItem(ctx, 42, 7); err != nil {
		t.Fatalf("RemoveCartItem() error: %v", err)
	}
	if err := client.EmptyCart(ctx, 42); err != nil {
		t.Fatalf("EmptyCart() error: %v", err)
	}

	add := fb.requests[1]
	if add.Body["productId"] != float64(7) || add.Body["quantity"] != float64(-1) {
		t.Errorf("add body = %v", add.Body)
	}
	remove := fb.requests[2]
	if remove.Method != http.MethodDelete || remove.Body["productId"] != float64(7) {
		t.Errorf("remove = %+v", remove)
	}
	if _, ok := remove.Body["quantity"]; ok {
		t.Errorf("remove body should not carry quantity: %v", remove.Body)
	}
	if fb.requests[3].Path != "/users/42/cart" || fb.requests[3].Method != http.MethodDelete {
		t.Errorf("empty = %+v", fb.requests[3])
	}
}

func TestCart_EmptyBody(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle("GET /users/42/cart", func(w http.ResponseWriter, r *http.Request) {})

	cart, err := client.Cart(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if cart.Items == nil || len(cart.Items) != 0 {
		t.Errorf("items = %v, want empty slice", cart.Items)
	}
}

func TestCheckoutAndPayment(t *testing.T) {
	fb, client := newFakeBackend(t)
	ctx := context.Background()
	fb.json("POST /users/42/cart/checkout", 200, `{"id":"900","status":"CREATED","totalPrice":7.5}`)
	fb.json("POST /api/payments/create-checkout", 200, `{"checkoutUrl":"https://pay.example.com/s/1"}`)

	order, err := client.CheckoutCart(ctx, 42)
	if err != nil {
		t.Fatalf("CheckoutCart() error: %v", err)
	}
	if order.ID != 900 {
		t.Errorf("order id = %d", order.ID)
	}

	url, err := client.CreatePaymentCheckout(ctx, model.PaymentCheckoutRequest{
		OrderID:    order.ID,
		SuccessURL: "http://localhost:3000/checkout/success",
		CancelURL:  "http://localhost:3000/checkout/cancel",
	})
	if err != nil {
		t.Fatalf("CreatePaymentCheckout() error: %v", err)
	}
	if url != "https://pay.example.com/s/1" {
		t.Errorf("checkout url = %q", url)
	}

	body := fb.requests[1].Body
	if body["orderId"] != float64(900) || body["successUrl"] != "http://localhost:3000/checkout/success" {
		t.Errorf("payment body = %v", body)
	}
}

func TestCheckoutCart_ToleratesOrderShape(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.json("POST /users/1/cart/checkout", 200,
		`{"id":5,"status":{"code":"PENDING"},"createdAt":[2025,1,2,10,30,0],"totalPrice":"7.50"}`)

	order, err := client.CheckoutCart(context.Background(), 1)
	if err != nil {
		t.Fatalf("CheckoutCart() error: %v", err)
	}
	if order.ID != 5 {
		t.Errorf("order id = %d, want 5", order.ID)
	}
}

func TestProducts_ToleratesFieldShapes(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.json("GET /products", 200,
		`[{"id":1,"name":"Red onion","price":2.5,"quantity":"12"},{"id":2,"name":"Shallot","price":4,"quantity":{"warehouse":3}}]`)

	products, err := client.Products(context.Background())
	if err != nil {
		t.Fatalf("Products() error: %v", err)
	}
	if len(products) != 2 || products[0].Quantity != 12 || products[1].Quantity != 0 {
		t.Errorf("products = %+v", products)
	}
}

func TestOrders_ToleratesFieldShapes(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.json("GET /orders/user/42", 200,
		`[{"id":1,"status":"PAID","createdAt":[2025,1,2,10,30,0],"totalPrice":10}]`)

	orders, err := client.OrdersForUser(context.Background(), 42)
	if err != nil || len(orders) != 1 {
		t.Fatalf("OrdersForUser() = %+v, %v", orders, err)
	}
	if orders[0].Status != "PAID" || orders[0].CreatedAt != "[2025,1,2,10,30,0]" {
		t.Errorf("order = %+v", orders[0])
	}
}

func TestCheckoutCart_EmptyBody(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle("POST /users/42/cart/checkout", func(w http.ResponseWriter, r *http.Request) {})

	order, err := client.CheckoutCart(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if order.ID.Valid() {
		t.Errorf("order id = %d, want absent", order.ID)
	}
}

func TestOrders(t *testing.T) {
	fb, client := newFakeBackend(t)
	ctx := context.Background()
	fb.json("GET /orders/user/42", 200, `[{"id":1,"status":"PAID","totalPrice":10}]`)
	fb.json("GET /orders/1/items", 200, `[{"productId":7,"quantity":2,"price":5}]`)

	orders, err := client.OrdersForUser(ctx, 42)
	if err != nil || len(orders) != 1 || orders[0].Status != "PAID" {
		t.Fatalf("OrdersForUser() = %+v, %v", orders, err)
	}
	items, err := client.OrderItems(ctx, 1)
	if err != nil || len(items) != 1 || items[0].Quantity != 2 {
		t.Fatalf("OrderItems() = %+v, %v", items, err)
	}
}

func TestUsers(t *testing.T) {
	fb, client := newFakeBackend(t)
	ctx := context.Background()
	fb.json("POST /users/ensure-from-me", 200, `{"id":42,"username":"octocat"}`)
	fb.json("POST /users", 201, `{"id":43,"username":"ada"}`)
	fb.json("GET /users/42", 200, `{"id":42,"email":"octo@example.com"}`)

	u, err := client.EnsureUserFromMe(ctx)
	if err != nil || u.ID != 42 {
		t.Fatalf("EnsureUserFromMe() = %+v, %v", u, err)
	}

	u, err = client.CreateUser(ctx, model.NewUserRequest{Username: "ada", Email: "ada@example.com", Password: "x"})
	if err != nil || u.ID != 43 {
		t.Fatalf("CreateUser() = %+v, %v", u, err)
	}
	if fb.requests[1].Body["email"] != "ada@example.com" {
		t.Errorf("create body = %v", fb.requests[1].Body)
	}
	if _, ok := fb.requests[1].Body["pictureUrl"]; ok {
		t.Error("empty pictureUrl should be omitted")
	}

	u, err = client.User(ctx, 42)
	if err != nil || u.Email != "octo@example.com" {
		t.Fatalf("User() = %+v, %v", u, err)
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		location string
		wantErr  bool
	}{
		{"success redirect", "/", false},
		{"failure redirect", "/login?error", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb, client := newFakeBackend(t)
			fb.handle("GET /csrf", func(w http.ResponseWriter, r *http.Request) {
				http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "a%2Fb", Path: "/"})
			})
			fb.handle("POST /login", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, tt.location, http.StatusFound)
			})
			ctx := context.Background()

			if _, err := client.get(ctx, "/csrf"); err != nil {
				t.Fatal(err)
			}
			err := client.Login(ctx, "ada", "secret")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Login() err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, model.ErrUnauthorized) {
				t.Errorf("err = %v, want unauthorized", err)
			}

			form := fb.requests[1].Form
			if form["username"] != "ada" || form["password"] != "secret" {
				t.Errorf("form = %v", form)
			}
			if form["_csrf"] != "a/b" {
				t.Errorf("_csrf = %q, want URL-decoded cookie", form["_csrf"])
			}
		})
	}
}

func TestLogout_NoCSRF(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle("POST /logout", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login?logout", http.StatusFound)
	})

	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if _, ok := fb.requests[0].Form["_csrf"]; ok {
		t.Error("no CSRF cookie: _csrf should be absent")
	}
}

func TestLoginURL(t *testing.T) {
	gw, err := gateway.New(gateway.Config{BaseURL: "https://api.example.com/"})
	if err != nil {
		t.Fatal(err)
	}
	got := New(gw).LoginURL("github")
	if got != "https://api.example.com/oauth2/authorization/github" {
		t.Errorf("LoginURL() = %q", got)
	}
}

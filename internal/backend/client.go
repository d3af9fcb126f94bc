package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"storefront/internal/gateway"
	"storefront/internal/model"
)

// CSRFCookies are the cookie names a backend may carry its CSRF token in,
// in lookup order. The token is echoed as the _csrf form field.
var CSRFCookies = []string{"XSRF-TOKEN", "X-CSRF-TOKEN", "csrfToken"}

// Doer is the part of *gateway.Gateway the client needs.
type Doer interface {
	Do(ctx context.Context, method, path string, body any, headers http.Header) (*gateway.Result, error)
	URL(path string) string
	Cookie(name string) (string, bool)
}

// Client implements API over the request gateway.
type Client struct {
	gw Doer
}

var _ API = (*Client)(nil)

// New creates a backend client.
func New(gw Doer) *Client {
	return &Client{gw: gw}
}

func (c *Client) get(ctx context.Context, path string) (*gateway.Result, error) {
	return c.gw.Do(ctx, http.MethodGet, path, nil, nil)
}

// decodeOptional decodes a JSON result into out and leaves out untouched for
// an empty body.
func decodeOptional(result *gateway.Result, out any) error {
	if result.IsNull() {
		return nil
	}
	return result.Decode(out)
}

func (c *Client) Products(ctx context.Context) ([]model.Product, error) {
	result, err := c.get(ctx, "/products")
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}
	if result.IsNull() {
		return []model.Product{}, nil
	}

	raw := result.Raw()
	if len(raw) > 0 && raw[0] == '{' {
		var page struct {
			Content []model.Product `json:"content"`
		}
		if err := result.Decode(&page); err != nil {
			return nil, err
		}
		if page.Content == nil {
			return []model.Product{}, nil
		}
		return page.Content, nil
	}

	var products []model.Product
	if err := result.Decode(&products); err != nil {
		return nil, err
	}
	if products == nil {
		products = []model.Product{}
	}
	return products, nil
}

func (c *Client) ProductBySlug(ctx context.Context, slug string) (*model.Product, error) {
	result, err := c.get(ctx, "/products/name/"+url.PathEscape(slug))
	if err != nil {
		return nil, fmt.Errorf("loading product %q: %w", slug, err)
	}
	var p model.Product
	if err := result.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CurrentUser(ctx context.Context) (map[string]any, error) {
	result, err := c.get(ctx, "/users/me")
	if err != nil {
		return nil, err
	}
	if obj, ok := result.Value().(map[string]any); ok {
		return obj, nil
	}
	return nil, nil
}

func (c *Client) CurrentProvider(ctx context.Context) (string, error) {
	result, err := c.get(ctx, "/users/me/provider")
	if err != nil {
		return "", err
	}
	switch v := result.Value().(type) {
	case map[string]any:
		s, _ := v["provider"].(string)
		return strings.ToLower(strings.TrimSpace(s)), nil
	case string:
		return strings.ToLower(strings.TrimSpace(v)), nil
	}
	return "", nil
}

func (c *Client) EnsureUserFromMe(ctx context.Context) (*model.AppUser, error) {
	result, err := c.gw.Do(ctx, http.MethodPost, "/users/ensure-from-me", nil, nil)
	if err != nil {
		return nil, err
	}
	var u model.AppUser
	if err := decodeOptional(result, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) CreateUser(ctx context.Context, req model.NewUserRequest) (*model.AppUser, error) {
	result, err := c.gw.Do(ctx, http.MethodPost, "/users", req, nil)
	if err != nil {
		return nil, err
	}
	var u model.AppUser
	if err := decodeOptional(result, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) User(ctx context.Context, userID model.ID) (*model.AppUser, error) {
	result, err := c.get(ctx, "/users/"+userID.String())
	if err != nil {
		return nil, err
	}
	var u model.AppUser
	if err := result.Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func cartPath(userID model.ID) string {
	return "/users/" + userID.String() + "/cart"
}

func (c *Client) Cart(ctx context.Context, userID model.ID) (*model.Cart, error) {
	result, err := c.get(ctx, cartPath(userID))
	if err != nil {
		return nil, err
	}
	cart := model.Cart{Items: []model.CartItem{}}
	if err := decodeOptional(result, &cart); err != nil {
		return nil, err
	}
	if cart.Items == nil {
		cart.Items = []model.CartItem{}
	}
	return &cart, nil
}

func (c *Client) EmptyCart(ctx context.Context, userID model.ID) error {
	_, err := c.gw.Do(ctx, http.MethodDelete, cartPath(userID), nil, nil)
	return err
}

func (c *Client) AddCartItem(ctx context.Context, userID, productID model.ID, quantity int) error {
	body := model.CartItemRequest{ProductID: productID, Quantity: quantity}
	_, err := c.gw.Do(ctx, http.MethodPost, cartPath(userID)+"/items", body, nil)
	return err
}

func (c *Client) RemoveCartItem(ctx context.Context, userID, productID model.ID) error {
	body := model.CartItemRequest{ProductID: productID}
	_, err := c.gw.Do(ctx, http.MethodDelete, cartPath(userID)+"/items", body, nil)
	return err
}

func (c *Client) CheckoutCart(ctx context.Context, userID model.ID) (*model.Order, error) {
	result, err := c.gw.Do(ctx, http.MethodPost, cartPath(userID)+"/checkout", nil, nil)
	if err != nil {
		return nil, err
	}
	// Checkout only needs the id; the rest of the order is not read here.
	var order struct {
		ID model.ID `json:"id"`
	}
	if err := decodeOptional(result, &order); err != nil {
		return nil, err
	}
	return &model.Order{ID: order.ID}, nil
}

func (c *Client) CreatePaymentCheckout(ctx context.Context, req model.PaymentCheckoutRequest) (string, error) {
	result, err := c.gw.Do(ctx, http.MethodPost, "/api/payments/create-checkout", req, nil)
	if err != nil {
		return "", err
	}
	var session struct {
		CheckoutURL string `json:"checkoutUrl"`
	}
	if err := decodeOptional(result, &session); err != nil {
		return "", err
	}
	return strings.TrimSpace(session.CheckoutURL), nil
}

func (c *Client) OrdersForUser(ctx context.Context, userID model.ID) ([]model.Order, error) {
	result, err := c.get(ctx, "/orders/user/"+userID.String())
	if err != nil {
		return nil, err
	}
	orders := []model.Order{}
	if err := decodeOptional(result, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) OrderItems(ctx context.Context, orderID model.ID) ([]model.OrderItem, error) {
	result, err := c.get(ctx, "/orders/"+orderID.String()+"/items")
	if err != nil {
		return nil, err
	}
	items := []model.OrderItem{}
	if err := decodeOptional(result, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// csrfToken returns the CSRF token cookie, URL-decoded, or "".
func (c *Client) csrfToken() string {
	for _, name := range CSRFCookies {
		if v, ok := c.gw.Cookie(name); ok && v != "" {
			if decoded, err := url.QueryUnescape(v); err == nil {
				return decoded
			}
			return v
		}
	}
	return ""
}

// postForm submits a browser-style form. The backend answers with a redirect
// to an HTML page, which the gateway returns as a 3xx HTTPError; a redirect
// whose target mentions "error" is a rejected submission.
func (c *Client) postForm(ctx context.Context, path string, form url.Values) error {
	if token := c.csrfToken(); token != "" {
		form.Set("_csrf", token)
	}
	_, err := c.gw.Do(ctx, http.MethodPost, path, form, http.Header{"Accept": {"text/html,application/json"}})
	if err == nil {
		return nil
	}

	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.IsRedirect() {
		if strings.Contains(httpErr.Location, "error") {
			return fmt.Errorf("%w: %s rejected", model.ErrUnauthorized, path)
		}
		return nil
	}
	return err
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	if err := c.postForm(ctx, "/login", form); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.postForm(ctx, "/logout", url.Values{}); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Client) LoginURL(provider string) string {
	return c.gw.URL("/oauth2/authorization/" + url.PathEscape(provider))
}

// Package backend is the typed client for the storefront REST backend.
// The cart and identity packages depend on the API interface; Client
// implements it over the gateway and Mock replaces it in tests.
package backend

import (
	"context"

	"storefront/internal/model"
)

// API is the backend surface the storefront consumes.
//
// All methods return *model.HTTPError for non-success statuses and a
// model.ContractViolation when a success response has the wrong shape.
// Responses with an empty body decode to zero values; callers decide
// whether a missing field is fatal.
type API interface {
	// Products returns the catalog. The backend sends either an array or a
	// page object {content: [...]}.
	Products(ctx context.Context) ([]model.Product, error)

	// ProductBySlug returns a single product by its URL slug.
	ProductBySlug(ctx context.Context, slug string) (*model.Product, error)

	// CurrentUser returns the identity-provider claims of the session as a
	// raw object, or nil when the backend answered with an empty body.
	// Anonymous visitors get a 401/403 HTTPError.
	CurrentUser(ctx context.Context) (map[string]any, error)

	// CurrentProvider names the identity provider of the session ("github",
	// "google", "local").
	CurrentProvider(ctx context.Context) (string, error)

	// EnsureUserFromMe creates or links the application user for the session.
	EnsureUserFromMe(ctx context.Context) (*model.AppUser, error)

	// CreateUser creates an application user explicitly.
	CreateUser(ctx context.Context, req model.NewUserRequest) (*model.AppUser, error)

	// User returns an application user by id.
	User(ctx context.Context, userID model.ID) (*model.AppUser, error)

	// Cart returns the server cart as sent, without total normalization.
	Cart(ctx context.Context, userID model.ID) (*model.Cart, error)

	// EmptyCart deletes every line of the server cart.
	EmptyCart(ctx context.Context, userID model.ID) error

	// AddCartItem adds quantity units of a product. A negative quantity is
	// sent as a decrement delta.
	AddCartItem(ctx context.Context, userID, productID model.ID, quantity int) error

	// RemoveCartItem deletes a line from the server cart.
	RemoveCartItem(ctx context.Context, userID, productID model.ID) error

	// CheckoutCart turns the server cart into an order.
	CheckoutCart(ctx context.Context, userID model.ID) (*model.Order, error)

	// CreatePaymentCheckout opens a hosted payment session for an order and
	// returns the URL to hand the visitor off to.
	CreatePaymentCheckout(ctx context.Context, req model.PaymentCheckoutRequest) (string, error)

	// OrdersForUser lists the orders placed by a user.
	OrdersForUser(ctx context.Context, userID model.ID) ([]model.Order, error)

	// OrderItems lists the lines of an order.
	OrderItems(ctx context.Context, orderID model.ID) ([]model.OrderItem, error)

	// Login posts username and password to the form login endpoint.
	Login(ctx context.Context, username, password string) error

	// Logout posts to the form logout endpoint.
	Logout(ctx context.Context) error

	// LoginURL is where a browser starts OAuth login with provider.
	LoginURL(provider string) string
}

package backend

import (
	"context"

	"storefront/internal/model"
)

// Mock implements API for testing.
// Each method can be configured via function fields; unset reads return
// empty values and unset writes succeed.
type Mock struct {
	ProductsFunc              func(ctx context.Context) ([]model.Product, error)
	ProductBySlugFunc         func(ctx context.Context, slug string) (*model.Product, error)
	CurrentUserFunc           func(ctx context.Context) (map[string]any, error)
	CurrentProviderFunc       func(ctx context.Context) (string, error)
	EnsureUserFromMeFunc      func(ctx context.Context) (*model.AppUser, error)
	CreateUserFunc            func(ctx context.Context, req model.NewUserRequest) (*model.AppUser, error)
	UserFunc                  func(ctx context.Context, userID model.ID) (*model.AppUser, error)
	CartFunc                  func(ctx context.Context, userID model.ID) (*model.Cart, error)
	EmptyCartFunc             func(ctx context.Context, userID model.ID) error
	AddCartItemFunc           func(ctx context.Context, userID, productID model.ID, quantity int) error
	RemoveCartItemFunc        func(ctx context.Context, userID, productID model.ID) error
	CheckoutCartFunc          func(ctx context.Context, userID model.ID) (*model.Order, error)
	CreatePaymentCheckoutFunc func(ctx context.Context, req model.PaymentCheckoutRequest) (string, error)
	OrdersForUserFunc         func(ctx context.Context, userID model.ID) ([]model.Order, error)
	OrderItemsFunc            func(ctx context.Context, orderID model.ID) ([]model.OrderItem, error)
	LoginFunc                 func(ctx context.Context, username, password string) error
	LogoutFunc                func(ctx context.Context) error
}

func (m *Mock) Products(ctx context.Context) ([]model.Product, error) {
	if m.ProductsFunc != nil {
		return m.ProductsFunc(ctx)
	}
	return []model.Product{}, nil
}

func (m *Mock) ProductBySlug(ctx context.Context, slug string) (*model.Product, error) {
	if m.ProductBySlugFunc != nil {
		return m.ProductBySlugFunc(ctx, slug)
	}
	return nil, model.NewHTTPError(404, "Not Found", "")
}

// CurrentUser defaults to an anonymous visitor.
func (m *Mock) CurrentUser(ctx context.Context) (map[string]any, error) {
	if m.CurrentUserFunc != nil {
		return m.CurrentUserFunc(ctx)
	}
	return nil, model.NewHTTPError(401, "Unauthorized", "")
}

func (m *Mock) CurrentProvider(ctx context.Context) (string, error) {
	if m.CurrentProviderFunc != nil {
		return m.CurrentProviderFunc(ctx)
	}
	return "", nil
}

func (m *Mock) EnsureUserFromMe(ctx context.Context) (*model.AppUser, error) {
	if m.EnsureUserFromMeFunc != nil {
		return m.EnsureUserFromMeFunc(ctx)
	}
	return nil, model.NewHTTPError(401, "Unauthorized", "")
}

func (m *Mock) CreateUser(ctx context.Context, req model.NewUserRequest) (*model.AppUser, error) {
	if m.CreateUserFunc != nil {
		return m.CreateUserFunc(ctx, req)
	}
	return nil, model.NewHTTPError(401, "Unauthorized", "")
}

func (m *Mock) User(ctx context.Context, userID model.ID) (*model.AppUser, error) {
	if m.UserFunc != nil {
		return m.UserFunc(ctx, userID)
	}
	return &model.AppUser{ID: userID}, nil
}

func (m *Mock) Cart(ctx context.Context, userID model.ID) (*model.Cart, error) {
	if m.CartFunc != nil {
		return m.CartFunc(ctx, userID)
	}
	c := model.EmptyCart()
	return &c, nil
}

func (m *Mock) EmptyCart(ctx context.Context, userID model.ID) error {
	if m.EmptyCartFunc != nil {
		return m.EmptyCartFunc(ctx, userID)
	}
	return nil
}

func (m *Mock) AddCartItem(ctx context.Context, userID, productID model.ID, quantity int) error {
	if m.AddCartItemFunc != nil {
		return m.AddCartItemFunc(ctx, userID, productID, quantity)
	}
	return nil
}

func (m *Mock) RemoveCartItem(ctx context.Context, userID, productID model.ID) error {
	if m.RemoveCartItemFunc != nil {
		return m.RemoveCartItemFunc(ctx, userID, productID)
	}
	return nil
}

func (m *Mock) CheckoutCart(ctx context.Context, userID model.ID) (*model.Order, error) {
	if m.CheckoutCartFunc != nil {
		return m.CheckoutCartFunc(ctx, userID)
	}
	return &model.Order{}, nil
}

func (m *Mock) CreatePaymentCheckout(ctx context.Context, req model.PaymentCheckoutRequest) (string, error) {
	if m.CreatePaymentCheckoutFunc != nil {
		return m.CreatePaymentCheckoutFunc(ctx, req)
	}
	return "", nil
}

func (m *Mock) OrdersForUser(ctx context.Context, userID model.ID) ([]model.Order, error) {
	if m.OrdersForUserFunc != nil {
		return m.OrdersForUserFunc(ctx, userID)
	}
	return []model.Order{}, nil
}

func (m *Mock) OrderItems(ctx context.Context, orderID model.ID) ([]model.OrderItem, error) {
	if m.OrderItemsFunc != nil {
		return m.OrderItemsFunc(ctx, orderID)
	}
	return []model.OrderItem{}, nil
}

func (m *Mock) Login(ctx context.Context, username, password string) error {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, username, password)
	}
	return nil
}

func (m *Mock) Logout(ctx context.Context) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx)
	}
	return nil
}

func (m *Mock) LoginURL(provider string) string {
	return "/oauth2/authorization/" + provider
}

// Verify Mock implements API at compile time.
var _ API = (*Mock)(nil)

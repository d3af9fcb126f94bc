package handler

import (
	"storefront/internal/catalog"
	"storefront/internal/identity"
	"storefront/internal/model"
)

// Views flatten model types for JSON clients and MCP tool schemas: amounts
// become plain numbers and display strings, ids become integers.

// CartView is the cart as presented to clients.
type CartView struct {
	Mode         string     `json:"mode" jsonschema:"guest or user"`
	UserID       int64      `json:"user_id,omitempty" jsonschema:"application user id when signed in"`
	Items        []LineView `json:"items" jsonschema:"cart lines"`
	Count        int        `json:"count" jsonschema:"number of units in the cart"`
	Total        float64    `json:"total" jsonschema:"cart total"`
	TotalDisplay string     `json:"total_display" jsonschema:"cart total with two decimals"`
}

// LineView is one cart line.
type LineView struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
}

// ProductView is one catalog entry.
type ProductView struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	InStock     int     `json:"in_stock"`
	Slug        string  `json:"slug,omitempty"`
	Category    string  `json:"category,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
}

// ProductsView wraps a product list; MCP tool outputs must be objects.
type ProductsView struct {
	Products []ProductView `json:"products"`
}

// IdentityView describes who is signed in.
type IdentityView struct {
	Authenticated bool   `json:"authenticated"`
	Provider      string `json:"provider,omitempty"`
	Email         string `json:"email,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	UserID        int64  `json:"user_id,omitempty"`
}

// CheckoutView is a created payment session.
type CheckoutView struct {
	OrderID     int64  `json:"order_id"`
	CheckoutURL string `json:"checkout_url" jsonschema:"payment page to send the buyer to"`
}

func newCartView(c model.Cart, userID model.ID, products *catalog.Catalog) CartView {
	v := CartView{
		Mode:         "guest",
		Items:        make([]LineView, 0, len(c.Items)),
		Count:        c.Count(),
		Total:        c.TotalPrice.Or(0),
		TotalDisplay: model.FormatAmount(c.TotalPrice.Or(0)),
	}
	if userID.Valid() {
		v.Mode = "user"
		v.UserID = int64(userID)
	}
	for _, it := range c.Items {
		line := LineView{
			ProductID: int64(it.ProductID),
			Quantity:  it.Quantity,
			UnitPrice: it.Price.Or(0),
			LineTotal: it.TotalPrice.Or(0),
		}
		if products != nil {
			if p, ok := products.Product(it.ProductID); ok {
				line.Name = p.Name
			}
		}
		v.Items = append(v.Items, line)
	}
	return v
}

func newProductView(p model.Product) ProductView {
	return ProductView{
		ID:          int64(p.ID),
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.Or(0),
		InStock:     int(p.Quantity),
		Slug:        p.Slug,
		Category:    p.Category,
		ImageURL:    p.ImageURL,
	}
}

func newProductsView(products []model.Product) ProductsView {
	v := ProductsView{Products: make([]ProductView, 0, len(products))}
	for _, p := range products {
		v.Products = append(v.Products, newProductView(p))
	}
	return v
}

func newIdentityView(claims identity.Claims, ok bool, userID model.ID) IdentityView {
	if !ok || claims == nil {
		return IdentityView{}
	}
	profile := claims.Profile()
	v := IdentityView{
		Authenticated: true,
		Provider:      string(claims.Provider()),
		Email:         profile.Email,
		DisplayName:   profile.DisplayName,
		AvatarURL:     profile.AvatarURL,
	}
	if userID.Valid() {
		v.UserID = int64(userID)
	}
	return v
}

package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ID is a backend identifier. The backend sends ids as JSON numbers, but
// some endpoints serialize them as strings; both decode. Zero means absent.
type ID int64

// UnmarshalJSON accepts 42, "42" and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	*id = 0
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return nil
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*id = ID(n)
	return nil
}

// Valid reports whether the id is present.
func (id ID) Valid() bool { return id > 0 }

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseID parses a user supplied id (CLI flags, stored values).
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(n), nil
}

// Stock is a product's units in stock. Numbers and numeric strings decode;
// any other value decodes to zero rather than failing the catalog.
type Stock int

func (s *Stock) UnmarshalJSON(data []byte) error {
	*s = 0
	var id ID
	if err := id.UnmarshalJSON(data); err != nil {
		return nil
	}
	if id > 0 {
		*s = Stock(id)
	}
	return nil
}

// Text is a display-only field whose shape varies between backends: a JSON
// string decodes as is, null as "", and anything else (a date as an array,
// a status object) keeps its compact JSON text.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	*t = ""
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			*t = Text(s)
		}
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		*t = Text(data)
		return nil
	}
	*t = Text(buf.String())
	return nil
}

// Product is a catalog entry. Read-only from the client's perspective.
type Product struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       Amount `json:"price"`
	Quantity    Stock  `json:"quantity"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Slug        string `json:"slug,omitempty"`
	Category    string `json:"category,omitempty"`
}

// CartItem is one cart line. Quantity is always > 0 once persisted.
type CartItem struct {
	ProductID  ID     `json:"productId"`
	Quantity   int    `json:"quantity"`
	Price      Amount `json:"price"`
	TotalPrice Amount `json:"totalPrice"`
}

// Cart is either the guest cart held on the device or the mirror of the
// server cart.
type Cart struct {
	Items      []CartItem `json:"items"`
	TotalPrice Amount     `json:"totalPrice"`
}

// EmptyCart returns {items: [], totalPrice: 0}.
func EmptyCart() Cart {
	return Cart{Items: []CartItem{}, TotalPrice: AmountOf(0)}
}

// Count returns the number of units in the cart.
func (c Cart) Count() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Line returns the line for productID, if present.
func (c Cart) Line(productID ID) (CartItem, bool) {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return CartItem{}, false
}

// Clone returns a deep copy safe to hand out to callers.
func (c Cart) Clone() Cart {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items, TotalPrice: c.TotalPrice}
}

// AppUser is the backend's internal account record, distinct from the
// identity-provider principal.
type AppUser struct {
	ID         ID     `json:"id"`
	Username   string `json:"username,omitempty"`
	Email      string `json:"email,omitempty"`
	PictureURL string `json:"pictureUrl,omitempty"`
	Role       string `json:"role,omitempty"`
}

// NewUserRequest is the body of POST /users.
type NewUserRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	PictureURL string `json:"pictureUrl,omitempty"`
}

// Order is a placed order as listed on the account pages.
type Order struct {
	ID         ID     `json:"id"`
	Status     Text   `json:"status,omitempty"`
	TotalPrice Amount `json:"totalPrice"`
	CreatedAt  Text   `json:"createdAt,omitempty"`
}

// OrderItem is one line of a placed order.
type OrderItem struct {
	ProductID  ID     `json:"productId"`
	Quantity   int    `json:"quantity"`
	Price      Amount `json:"price"`
	TotalPrice Amount `json:"totalPrice"`
}

// CheckoutSession is the result of a successful checkout: the order that was
// created and the payment provider's hosted page to hand off to.
type CheckoutSession struct {
	OrderID     ID     `json:"orderId"`
	CheckoutURL string `json:"checkoutUrl"`
}

// PaymentCheckoutRequest is the body of POST /api/payments/create-checkout.
type PaymentCheckoutRequest struct {
	OrderID    ID     `json:"orderId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// CartItemRequest is the body of the cart item endpoints. Quantity may be
// negative (a decrement delta) and is omitted for removals.
type CartItemRequest struct {
	ProductID ID  `json:"productId"`
	Quantity  int `json:"quantity,omitempty"`
}

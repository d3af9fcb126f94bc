// MCP transport handler for the storefront using the official MCP Go SDK.
// Exposes browsing and cart operations as MCP tools.
package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront/internal/catalog"
	"storefront/internal/model"
)

// === MCP Tool Input Types ===

// ListProductsInput is the input schema for list_products tool.
type ListProductsInput struct {
	Search   string `json:"search,omitempty" jsonschema:"case-insensitive text matched against name and description"`
	Category string `json:"category,omitempty" jsonschema:"one of all, yellow, red, spring, sweet"`
	Sort     string `json:"sort,omitempty" jsonschema:"popular, price-asc, price-desc or name"`
}

// GetProductInput is the input schema for get_product tool.
type GetProductInput struct {
	Slug string `json:"slug" jsonschema:"product slug"`
}

// AddToCartInput is the input schema for add_to_cart tool.
type AddToCartInput struct {
	ProductID int64 `json:"product_id" jsonschema:"product ID"`
	Quantity  int   `json:"quantity,omitempty" jsonschema:"units to add, defaults to 1"`
}

// CartItemInput identifies one cart line.
type CartItemInput struct {
	ProductID int64 `json:"product_id" jsonschema:"product ID"`
}

// NoInput is the input schema for tools without arguments.
type NoInput struct{}

// NewMCPServer creates an MCP server with storefront tools registered.
// The server exposes the same operations as the JSON API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Onion storefront. Browse products, manage the cart " +
				"and start a checkout that returns a payment page URL.",
		},
	)

	// Catalog tools
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_products",
		Description: "List products, optionally filtered by search text or category and sorted.",
	}, h.mcpListProducts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_product",
		Description: "Get one product by its slug.",
	}, h.mcpGetProduct)

	// Session tools
	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoami",
		Description: "Describe the signed-in user, if any.",
	}, h.mcpWhoAmI)

	// Cart tools
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the current cart: the device cart for guests, the server cart once signed in.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add units of a product to the cart.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "decrease_cart_item",
		Description: "Take one unit of a product off the cart. The line is removed when it reaches zero.",
	}, h.mcpDecreaseCartItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_from_cart",
		Description: "Remove a product's line from the cart.",
	}, h.mcpRemoveFromCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "empty_cart",
		Description: "Remove every line from the cart.",
	}, h.mcpEmptyCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "checkout",
		Description: "Place an order for the signed-in user's cart and return the payment page URL.",
	}, h.mcpCheckout)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpListProducts(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListProductsInput,
) (*mcp.CallToolResult, *ProductsView, error) {
	sort, err := catalog.ParseSort(input.Sort)
	if err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}

	if len(h.catalog.Products()) == 0 {
		if _, err := h.catalog.Load(ctx); err != nil {
			return nil, nil, h.mcpError(ctx, err)
		}
	}

	products := h.catalog.Search(catalog.Query{
		Search:   input.Search,
		Category: input.Category,
		Sort:     sort,
	})
	out := newProductsView(products)
	return nil, &out, nil
}

func (h *Handler) mcpGetProduct(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetProductInput,
) (*mcp.CallToolResult, *ProductView, error) {
	p, err := h.catalog.BySlug(ctx, input.Slug)
	if err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	if p == nil {
		return nil, nil, fmt.Errorf("NOT_FOUND: no product with slug %q", input.Slug)
	}
	out := newProductView(*p)
	return nil, &out, nil
}

func (h *Handler) mcpWhoAmI(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input NoInput,
) (*mcp.CallToolResult, *IdentityView, error) {
	claims, ok := h.identity.CurrentUser(ctx)
	userID, _ := h.identity.UserID()
	out := newIdentityView(claims, ok, userID)
	return nil, &out, nil
}

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input NoInput,
) (*mcp.CallToolResult, *CartView, error) {
	c, err := h.cart.Load(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "cart load degraded", "error", err.Error())
	}
	out := h.cartView(c)
	return nil, &out, nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	qty := input.Quantity
	if qty == 0 {
		qty = 1
	}
	c, err := h.cart.Add(ctx, model.ID(input.ProductID), qty)
	if err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	out := h.cartView(c)
	return nil, &out, nil
}

func (h *Handler) mcpDecreaseCartItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input CartItemInput,
) (*mcp.CallToolResult, *CartView, error) {
	c, err := h.cart.Decrease(ctx, model.ID(input.ProductID))
	if err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	out := h.cartView(c)
	return nil, &out, nil
}

func (h *Handler) mcpRemoveFromCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input CartItemInput,
) (*mcp.CallToolResult, *CartView, error) {
	c, err := h.cart.Remove(ctx, model.ID(input.ProductID))
	if err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	out := h.cartView(c)
	return nil, &out, nil
}

func (h *Handler) mcpEmptyCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input NoInput,
) (*mcp.CallToolResult, *CartView, error) {
	c, err := h.cart.Empty(ctx)
	if err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	out := h.cartView(c)
	return nil, &out, nil
}

func (h *Handler) mcpCheckout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input NoInput,
) (*mcp.CallToolResult, *CheckoutView, error) {
	session, err := h.cart.Checkout(ctx)
	if err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	return nil, &CheckoutView{
		OrderID:     int64(session.OrderID),
		CheckoutURL: session.CheckoutURL,
	}, nil
}

// mcpError converts cart and backend errors to MCP-friendly errors.
func (h *Handler) mcpError(ctx context.Context, err error) error {
	status, code, message := classifyError(err)
	if status != http.StatusInternalServerError {
		return fmt.Errorf("%s: %s", code, message)
	}
	// Don't leak internal error details
	h.logger.ErrorContext(ctx, "mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}

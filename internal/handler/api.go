package handler

import (
	"log/slog"
	"net/http"

	"storefront/internal/catalog"
	"storefront/internal/model"
)

// addItemRequest is the body of POST /api/cart/items.
type addItemRequest struct {
	ProductID model.ID `json:"productId"`
	Quantity  int      `json:"quantity"`
}

// handleProducts lists the catalog, optionally filtered and sorted.
// GET /api/products?search=&category=&sort=
func (h *Handler) handleProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	sort, err := catalog.ParseSort(q.Get("sort"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(h.catalog.Products()) == 0 {
		if _, err := h.catalog.Load(ctx); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	products := h.catalog.Search(catalog.Query{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Sort:     sort,
	})
	h.writeJSON(w, http.StatusOK, newProductsView(products))
}

// handleMe reports the signed-in principal, if any.
// GET /api/me
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.identity.CurrentUser(r.Context())
	userID, _ := h.identity.UserID()
	h.writeJSON(w, http.StatusOK, newIdentityView(claims, ok, userID))
}

// handleGetCart reloads and returns the session cart. A backend failure
// still answers with the degraded (empty) cart.
// GET /api/cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c, err := h.cart.Load(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "cart load degraded", slog.String("error", err.Error()))
	}
	h.writeJSON(w, http.StatusOK, h.cartView(c))
}

// handleAddItem adds units of a product.
// POST /api/cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	h.logger.InfoContext(ctx, "adding to cart",
		slog.String("product_id", req.ProductID.String()),
		slog.Int("quantity", req.Quantity),
	)

	c, err := h.cart.Add(ctx, req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartView(c))
}

// handleDecreaseItem takes one unit off a line, removing it at zero.
// POST /api/cart/items/{productId}/decrease
func (h *Handler) handleDecreaseItem(w http.ResponseWriter, r *http.Request) {
	productID, err := pathProductID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.cart.Decrease(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartView(c))
}

// handleRemoveItem deletes a line.
// DELETE /api/cart/items/{productId}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, err := pathProductID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.cart.Remove(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartView(c))
}

// handleEmptyCart removes every line.
// DELETE /api/cart
func (h *Handler) handleEmptyCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cart.Empty(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartView(c))
}

// handleCheckout places the order and returns the payment page URL.
// POST /api/checkout
func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, err := h.cart.Checkout(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "checkout created",
		slog.String("order_id", session.OrderID.String()),
	)
	h.writeJSON(w, http.StatusCreated, CheckoutView{
		OrderID:     int64(session.OrderID),
		CheckoutURL: session.CheckoutURL,
	})
}

func pathProductID(r *http.Request) (model.ID, error) {
	id, err := model.ParseID(r.PathValue("productId"))
	if err != nil || !id.Valid() {
		return 0, model.NewValidationError("productId", "must be a positive integer")
	}
	return id, nil
}

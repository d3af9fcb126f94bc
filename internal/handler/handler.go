// Package handler provides the storefront server's HTTP surface: payment
// return pages, a JSON cart API and the same cart operations as MCP tools.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/identity"
	"storefront/internal/model"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	cart     *cart.Reconciler
	catalog  *catalog.Catalog
	identity *identity.Resolver
	logger   *slog.Logger
}

// New creates a new Handler over one storefront session.
func New(c *cart.Reconciler, products *catalog.Catalog, resolver *identity.Resolver, logger *slog.Logger) *Handler {
	return &Handler{
		cart:     c,
		catalog:  products,
		identity: resolver,
		logger:   logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Payment provider return pages
	mux.HandleFunc("GET "+cart.SuccessPath, h.handleCheckoutSuccess)
	mux.HandleFunc("GET "+cart.CancelPath, h.handleCheckoutCancel)

	// JSON API over the session cart
	mux.HandleFunc("GET /api/products", h.handleProducts)
	mux.HandleFunc("GET /api/me", h.handleMe)
	mux.HandleFunc("GET /api/cart", h.handleGetCart)
	mux.HandleFunc("DELETE /api/cart", h.handleEmptyCart)
	mux.HandleFunc("POST /api/cart/items", h.handleAddItem)
	mux.HandleFunc("POST /api/cart/items/{productId}/decrease", h.handleDecreaseItem)
	mux.HandleFunc("DELETE /api/cart/items/{productId}", h.handleRemoveItem)
	mux.HandleFunc("POST /api/checkout", h.handleCheckout)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classifyError maps an error chain to a status, a stable code and a
// message safe to show to the caller.
func classifyError(err error) (int, string, string) {
	var httpErr *model.HTTPError
	var contract *model.ContractViolation

	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	case errors.Is(err, model.ErrNotAuthenticated), errors.Is(err, model.ErrSessionAbsent):
		return http.StatusUnauthorized, "NOT_AUTHENTICATED", err.Error()
	case errors.As(err, &contract):
		return http.StatusBadGateway, "CONTRACT_VIOLATION", contract.Error()
	case errors.As(err, &httpErr):
		status := http.StatusBadGateway
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			status = httpErr.StatusCode
		}
		return status, "BACKEND_ERROR", httpErr.Message
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"
	}
}

// writeError sends an error response derived from the error chain.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)
	if status >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
	}
	h.writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// cartView renders the reconciler's current cart.
func (h *Handler) cartView(c model.Cart) CartView {
	userID, _ := h.cart.UserID()
	return newCartView(c, userID, h.catalog)
}

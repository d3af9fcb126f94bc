package handler

import (
	"html/template"
	"log/slog"
	"net/http"
)

// returnPage is rendered for the payment provider's redirects back to the
// storefront.
type returnPage struct {
	Title   string
	Message string
	Success bool
	OrderID string
}

var returnPageTemplate = template.Must(template.New("return").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<main class="{{if .Success}}success{{else}}cancel{{end}}">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{- if .OrderID}}
<p>Order #{{.OrderID}}</p>
{{- end}}
<a href="/">Continue shopping</a>
</main>
</body>
</html>
`))

var (
	successPage = returnPage{
		Title:   "Payment successful",
		Message: "Thank you for your purchase. Your onions are on their way!",
		Success: true,
	}
	cancelPage = returnPage{
		Title:   "Payment canceled",
		Message: "Your payment was canceled. You can continue shopping and try again.",
	}
)

// handleCheckoutSuccess is the payment provider's success redirect target.
// The paid order is gone from the server cart, so the local mirror is
// reloaded.
// GET /checkout/success
func (h *Handler) handleCheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.cart.Load(ctx); err != nil {
		h.logger.WarnContext(ctx, "cart reload after payment failed", slog.String("error", err.Error()))
	}

	page := successPage
	page.OrderID = r.URL.Query().Get("orderId")
	h.renderPage(w, r, page)
}

// handleCheckoutCancel is the payment provider's cancel redirect target.
// GET /checkout/cancel
func (h *Handler) handleCheckoutCancel(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, cancelPage)
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, page returnPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := returnPageTemplate.Execute(w, page); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render page", slog.String("error", err.Error()))
	}
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}

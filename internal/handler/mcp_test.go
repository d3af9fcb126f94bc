package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storefront/internal/backend"
	"storefront/internal/model"
)

// jsonrpcRequest is a JSON-RPC 2.0 request structure for testing.
type jsonrpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response structure for testing.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams represents the params for tools/call method.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// callToolResult is the expected result structure from a tool call.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

func TestMCPServerCreation(t *testing.T) {
	env := testHandler(t, &backend.Mock{})
	if server := env.h.NewMCPServer(); server == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPInitialize(t *testing.T) {
	env := testHandler(t, &backend.Mock{})

	req := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": "2026-01-11",
			"clientInfo": map[string]string{
				"name":    "test-client",
				"version": "1.0.0",
			},
			"capabilities": map[string]interface{}{},
		},
	}

	resp := postMCP(t, env.mux, req, "")
	if resp.Error != nil {
		t.Errorf("Unexpected error: %+v", resp.Error)
	}

	var result struct {
		ServerInfo struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to parse initialize result: %v", err)
	}
	if result.ServerInfo.Name != "storefront" {
		t.Errorf("server name = %q, want storefront", result.ServerInfo.Name)
	}
}

func TestMCPToolsList(t *testing.T) {
	env := testHandler(t, &backend.Mock{})
	sessionID := initMCPSession(t, env.mux)

	resp := postMCP(t, env.mux, jsonrpcRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"}, sessionID)
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	var toolsResult struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &toolsResult); err != nil {
		t.Fatalf("Failed to parse tools result: %v", err)
	}

	expectedTools := map[string]bool{
		"list_products":      false,
		"get_product":        false,
		"whoami":             false,
		"get_cart":           false,
		"add_to_cart":        false,
		"decrease_cart_item": false,
		"remove_from_cart":   false,
		"empty_cart":         false,
		"checkout":           false,
	}
	for _, tool := range toolsResult.Tools {
		if _, ok := expectedTools[tool.Name]; ok {
			expectedTools[tool.Name] = true
		}
	}
	for name, found := range expectedTools {
		if !found {
			t.Errorf("Expected tool %q not found in tools list", name)
		}
	}
}

func TestMCPListProducts(t *testing.T) {
	env := testHandler(t, &backend.Mock{})
	sessionID := initMCPSession(t, env.mux)

	result := callTool(t, env.mux, sessionID, "list_products", map[string]any{"sort": "name"})
	if result.IsError {
		t.Fatalf("Expected success, got error: %+v", result.Content)
	}

	var out ProductsView
	decodeToolText(t, result, &out)
	var names []string
	for _, p := range out.Products {
		names = append(names, p.Name)
	}
	if strings.Join(names, ",") != "Red Onion,Spring Bunch,Yellow Onion" {
		t.Errorf("names = %v, want sorted by name", names)
	}
}

func TestMCPListProductsBadSort(t *testing.T) {
	env := testHandler(t, &backend.Mock{})
	sessionID := initMCPSession(t, env.mux)

	result := callTool(t, env.mux, sessionID, "list_products", map[string]any{"sort": "cheapest"})
	if !result.IsError {
		t.Fatal("Expected tool error for unknown sort")
	}
	if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, "INVALID_REQUEST") {
		t.Errorf("content = %+v", result.Content)
	}
}

func TestMCPGetProduct(t *testing.T) {
	env := testHandler(t, &backend.Mock{
		ProductBySlugFunc: func(ctx context.Context, slug string) (*model.Product, error) {
			return &model.Product{ID: 9, Name: "Sweet Vidalia", Slug: slug, Price: model.AmountOf(3)}, nil
		},
	})
	sessionID := initMCPSession(t, env.mux)

	result := callTool(t, env.mux, sessionID, "get_product", map[string]any{"slug": "red-onion"})
	var cached ProductView
	decodeToolText(t, result, &cached)
	if cached.ID != 2 {
		t.Errorf("cached product = %+v, want id 2", cached)
	}

	result = callTool(t, env.mux, sessionID, "get_product", map[string]any{"slug": "sweet-vidalia"})
	var fetched ProductView
	decodeToolText(t, result, &fetched)
	if fetched.ID != 9 || fetched.Price != 3 {
		t.Errorf("fetched product = %+v, want id 9 from the backend", fetched)
	}
}

func TestMCPCartTools(t *testing.T) {
	env := testHandler(t, &backend.Mock{})
	sessionID := initMCPSession(t, env.mux)

	var cart CartView
	decodeToolText(t, callTool(t, env.mux, sessionID, "add_to_cart", map[string]any{"product_id": 1, "quantity": 3}), &cart)
	if cart.Count != 3 || cart.TotalDisplay != "7.50" {
		t.Errorf("after add = %+v, want 3 units totalling 7.50", cart)
	}

	decodeToolText(t, callTool(t, env.mux, sessionID, "add_to_cart", map[string]any{"product_id": 2}), &cart)
	if cart.Count != 4 || cart.Total != 11.5 {
		t.Errorf("after default add = %+v, want 4 units totalling 11.50", cart)
	}

	decodeToolText(t, callTool(t, env.mux, sessionID, "decrease_cart_item", map[string]any{"product_id": 2}), &cart)
	if _, ok := findLine(cart, 2); ok {
		t.Errorf("line 2 still present after decreasing from 1: %+v", cart)
	}

	decodeToolText(t, callTool(t, env.mux, sessionID, "remove_from_cart", map[string]any{"product_id": 1}), &cart)
	if cart.Count != 0 {
		t.Errorf("after remove = %+v, want empty", cart)
	}

	decodeToolText(t, callTool(t, env.mux, sessionID, "add_to_cart", map[string]any{"product_id": 1}), &cart)
	decodeToolText(t, callTool(t, env.mux, sessionID, "empty_cart", map[string]any{}), &cart)
	if cart.Count != 0 || cart.Mode != "guest" {
		t.Errorf("after empty = %+v", cart)
	}

	decodeToolText(t, callTool(t, env.mux, sessionID, "get_cart", map[string]any{}), &cart)
	if cart.Count != 0 {
		t.Errorf("get_cart = %+v, want empty", cart)
	}
}

func TestMCPAddToCartInvalid(t *testing.T) {
	env := testHandler(t, &backend.Mock{})
	sessionID := initMCPSession(t, env.mux)

	result := callTool(t, env.mux, sessionID, "add_to_cart", map[string]any{"product_id": 0})
	if !result.IsError {
		t.Error("Expected tool error for product 0")
	}
}

func TestMCPCheckout(t *testing.T) {
	t.Run("guest", func(t *testing.T) {
		env := testHandler(t, &backend.Mock{})
		sessionID := initMCPSession(t, env.mux)

		result := callTool(t, env.mux, sessionID, "checkout", map[string]any{})
		if !result.IsError {
			t.Fatal("Expected tool error for guest checkout")
		}
		if !strings.Contains(result.Content[0].Text, "NOT_AUTHENTICATED") {
			t.Errorf("content = %q", result.Content[0].Text)
		}
	})

	t.Run("signed in", func(t *testing.T) {
		env := testHandler(t, &backend.Mock{
			CheckoutCartFunc: func(ctx context.Context, userID model.ID) (*model.Order, error) {
				return &model.Order{ID: 21}, nil
			},
			CreatePaymentCheckoutFunc: func(ctx context.Context, req model.PaymentCheckoutRequest) (string, error) {
				return "https://pay.example.com/s/21", nil
			},
		})
		env.cart.SetUser(context.Background(), 5)
		sessionID := initMCPSession(t, env.mux)

		var out CheckoutView
		decodeToolText(t, callTool(t, env.mux, sessionID, "checkout", map[string]any{}), &out)
		if out.OrderID != 21 || out.CheckoutURL != "https://pay.example.com/s/21" {
			t.Errorf("checkout = %+v", out)
		}
	})

	t.Run("internal errors are hidden", func(t *testing.T) {
		env := testHandler(t, &backend.Mock{
			CheckoutCartFunc: func(ctx context.Context, userID model.ID) (*model.Order, error) {
				return nil, context.DeadlineExceeded
			},
		})
		env.cart.SetUser(context.Background(), 5)
		sessionID := initMCPSession(t, env.mux)

		result := callTool(t, env.mux, sessionID, "checkout", map[string]any{})
		if !result.IsError || result.Content[0].Text != "internal error" {
			t.Errorf("result = %+v, want opaque internal error", result)
		}
	})
}

func TestMCPWhoAmI(t *testing.T) {
	env := testHandler(t, &backend.Mock{
		CurrentUserFunc: func(ctx context.Context) (map[string]any, error) {
			return map[string]any{"sub": "1", "email": "grace@example.com", "given_name": "Grace", "name": "Grace Hopper"}, nil
		},
		CurrentProviderFunc: func(ctx context.Context) (string, error) {
			return "google", nil
		},
	})
	sessionID := initMCPSession(t, env.mux)

	var out IdentityView
	decodeToolText(t, callTool(t, env.mux, sessionID, "whoami", map[string]any{}), &out)
	if !out.Authenticated || out.Provider != "google" || out.DisplayName != "Grace Hopper" {
		t.Errorf("whoami = %+v", out)
	}
}

func findLine(c CartView, productID int64) (LineView, bool) {
	for _, l := range c.Items {
		if l.ProductID == productID {
			return l, true
		}
	}
	return LineView{}, false
}

// callTool runs tools/call and returns the tool result.
func callTool(t *testing.T, mux *http.ServeMux, sessionID, name string, args map[string]any) callToolResult {
	t.Helper()

	raw, _ := json.Marshal(args)
	resp := postMCP(t, mux, jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params: toolCallParams{
			Name:      name,
			Arguments: raw,
		},
	}, sessionID)
	if resp.Error != nil {
		t.Fatalf("%s: unexpected JSON-RPC error: %+v", name, resp.Error)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("%s: failed to parse result: %v", name, err)
	}
	return result
}

// decodeToolText decodes the JSON text content of a successful tool result.
func decodeToolText(t *testing.T, result callToolResult, out any) {
	t.Helper()
	if result.IsError {
		t.Fatalf("Expected success, got error: %+v", result.Content)
	}
	if len(result.Content) == 0 || result.Content[0].Type != "text" {
		t.Fatalf("Expected text content in result, got %+v", result.Content)
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), out); err != nil {
		t.Fatalf("Failed to parse tool output: %v", err)
	}
}

// postMCP sends one JSON-RPC message and decodes the SSE answer.
func postMCP(t *testing.T, mux *http.ServeMux, msg jsonrpcRequest, sessionID string) jsonrpcResponse {
	t.Helper()

	body, _ := json.Marshal(msg)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, sessionID)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, httpReq)

	// MCP returns 200 OK even for tool errors, error is in the result
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	jsonData, err := parseSSEResponse(w.Body.String())
	if err != nil {
		t.Fatalf("Failed to parse SSE response: %v", err)
	}

	var resp jsonrpcResponse
	if err := json.Unmarshal(jsonData, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

// setMCPHeaders sets the required headers for MCP Streamable HTTP requests.
func setMCPHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	// MCP Streamable HTTP requires Accept header with both json and event-stream
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
}

// parseSSEResponse extracts JSON data from SSE formatted response.
// SSE format: "event: message\ndata: {json}\n\n"
func parseSSEResponse(body string) ([]byte, error) {
	lines := strings.Split(body, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: ")), nil
		}
	}
	// If no SSE format found, assume plain JSON
	return []byte(body), nil
}

// initMCPSession initializes an MCP session and returns the session ID.
func initMCPSession(t *testing.T, mux *http.ServeMux) string {
	t.Helper()

	initReq := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": "2026-01-11",
			"clientInfo":      map[string]string{"name": "test", "version": "1.0"},
			"capabilities":    map[string]interface{}{},
		},
	}

	body, _ := json.Marshal(initReq)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, "")
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("Failed to initialize MCP session: %s", w.Body.String())
	}

	return w.Header().Get("Mcp-Session-Id")
}

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"storefront/internal/model"
)

// Kind classifies a normalized response body.
type Kind int

const (
	// Null is an empty body (or a literal JSON null).
	Null Kind = iota
	// Text is a body returned as raw text: not JSON, or JSON that failed to parse.
	Text
	// JSON is a decoded JSON value, unwrapped once if it was double-encoded.
	JSON
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Text:
		return "text"
	default:
		return "json"
	}
}

// Result is a successful backend response after body normalization:
//
//  1. an empty body is Null;
//  2. the body is decoded as JSON only when Content-Type mentions JSON or the
//     trimmed text starts with '{' or '['; otherwise it is Text;
//  3. a JSON string whose trimmed content starts with '{' or '[' is decoded a
//     second time (backends that serialize JSON into a JSON string);
//  4. a failed decode falls back to Text. Normalization never errors.
type Result struct {
	StatusCode int
	Header     http.Header
	Method     string
	Path       string

	kind Kind
	text string          // Text payload
	raw  json.RawMessage // JSON payload, after unwrapping
}

func normalize(body []byte, contentType string) *Result {
	if len(body) == 0 {
		return &Result{kind: Null}
	}

	text := string(body)
	trimmed := strings.TrimSpace(text)
	if !strings.Contains(strings.ToLower(contentType), "json") && !looksLikeJSON(trimmed) {
		return &Result{kind: Text, text: text}
	}

	if !json.Valid(body) {
		return &Result{kind: Text, text: text}
	}
	if trimmed == "null" {
		return &Result{kind: Null}
	}

	raw := json.RawMessage(bytes.TrimSpace(body))
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return &Result{kind: Text, text: text}
		}
		innerTrimmed := strings.TrimSpace(inner)
		if !looksLikeJSON(innerTrimmed) {
			return &Result{kind: JSON, raw: raw}
		}
		if !json.Valid([]byte(innerTrimmed)) {
			// Keep the first-level decode: the string itself is the best raw text.
			return &Result{kind: Text, text: inner}
		}
		return &Result{kind: JSON, raw: json.RawMessage(innerTrimmed)}
	}

	return &Result{kind: JSON, raw: raw}
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// Kind reports how the body was normalized.
func (r *Result) Kind() Kind { return r.kind }

// IsNull reports whether the body was empty.
func (r *Result) IsNull() bool { return r.kind == Null }

// Text returns the raw text of a Text result ("" otherwise).
func (r *Result) Text() string { return r.text }

// Raw returns the JSON payload of a JSON result (nil otherwise).
func (r *Result) Raw() json.RawMessage { return r.raw }

// Value returns the normalized body as a generic value: nil for Null, a
// string for Text, and the decoded JSON (map[string]any, []any, float64,
// string, bool) for JSON.
func (r *Result) Value() any {
	switch r.kind {
	case Text:
		return r.text
	case JSON:
		var v any
		if err := json.Unmarshal(r.raw, &v); err != nil {
			return string(r.raw)
		}
		return v
	default:
		return nil
	}
}

// Decode unmarshals a JSON result into out. A Null or Text result, or JSON
// that does not fit out, is a contract violation: the backend answered with
// success but not with the shape the operation needs.
func (r *Result) Decode(out any) error {
	if r.kind != JSON {
		return model.NewContractViolation(r.operation(), "",
			fmt.Sprintf("expected a JSON body, got %s", r.kind))
	}
	if err := json.Unmarshal(r.raw, out); err != nil {
		return &decodeError{op: r.operation(), err: err}
	}
	return nil
}

func (r *Result) operation() string {
	if r.Method == "" && r.Path == "" {
		return "response"
	}
	return strings.TrimSpace(r.Method + " " + r.Path)
}

// message extracts the backend's JSON "message" field, if any.
func (r *Result) message() string {
	if r.kind != JSON {
		return ""
	}
	var body struct {
		Message any `json:"message"`
	}
	if err := json.Unmarshal(r.raw, &body); err != nil {
		return ""
	}
	if s, ok := body.Message.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// decodeError is a ContractViolation that keeps the underlying JSON error.
type decodeError struct {
	op  string
	err error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("%s: unexpected response shape: %v", e.op, e.err)
}

func (e *decodeError) Unwrap() []error {
	return []error{model.ErrContractViolation, e.err}
}

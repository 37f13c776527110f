// Package transport is the boundary to the clinic API. The dashboard core
// only sees the Client interface; base URL and bearer-token attachment are
// the implementation's concern.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Client performs one logical request per call. Implementations return a
// *Error for any response the server rejected.
type Client interface {
	Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
	Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error)
	Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error)
}

// Error is a rejected request. Payload is the raw response body, which the
// clinic API usually shapes as {"message": "..."}.
type Error struct {
	Status  int
	Payload json.RawMessage
}

func (e *Error) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("transport: status %d: %s", e.Status, msg)
	}
	return fmt.Sprintf("transport: status %d", e.Status)
}

// Message extracts the human-readable message from the payload, looking at
// "message" first and then "error". It returns "" when neither is a
// non-empty string.
func (e *Error) Message() string {
	if len(e.Payload) == 0 {
		return ""
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(e.Payload, &body); err != nil {
		return ""
	}
	for _, key := range []string{"message", "error"} {
		raw, ok := body[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		// {"error": {"message": "..."}}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return ""
}

// NewError builds an Error whose payload carries msg under "message".
func NewError(status int, msg string) *Error {
	payload, _ := json.Marshal(map[string]string{"message": msg})
	return &Error{Status: status, Payload: payload}
}

type tokenKey struct{}

// WithToken returns a context whose requests carry the viewer's bearer token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the bearer token set by WithToken.
func TokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maxResponseBytes bounds how much of an upstream body is read. A longer
// body is an error, never a truncated payload.
const maxResponseBytes = 10 << 20

// REST talks JSON over HTTP to the clinic API.
type REST struct {
	baseURL string
	client  *http.Client
	maxBody int64
	logger  zerolog.Logger
}

// NewREST creates a REST client rooted at baseURL. A nil httpClient means
// http.DefaultClient; timeouts and retries belong to whoever builds it.
func NewREST(baseURL string, httpClient *http.Client, logger zerolog.Logger) *REST {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		maxBody: maxResponseBytes,
		logger:  logger.With().Str("component", "transport").Logger(),
	}
}

func (r *REST) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return r.do(ctx, http.MethodGet, path, query, nil)
}

func (r *REST) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return r.do(ctx, http.MethodPost, path, nil, body)
}

func (r *REST) Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return r.do(ctx, http.MethodPut, path, nil, body)
}

func (r *REST) do(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	target := r.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := TokenFromContext(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, path, err)
	}
	if int64(len(data)) > r.maxBody {
		return nil, fmt.Errorf("%s %s: response exceeds %d bytes", method, path, r.maxBody)
	}

	r.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("upstream request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Payload: data}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(data), nil
}

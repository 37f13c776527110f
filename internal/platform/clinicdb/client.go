// Package clinicdb serves the clinic API paths straight from Postgres. It
// implements transport.Client so the dashboards can run against a database
// instead of the REST upstream without knowing the difference.
package clinicdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/clinicdash/clinicdash/internal/platform/transport"
)

// queryable is satisfied by *pgxpool.Pool, pgx.Tx and *pgx.Conn. Every route
// is a single statement that yields one JSON value.
type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// request is what a route handler sees.
type request struct {
	params map[string]string
	query  url.Values
	body   json.RawMessage
}

func (r request) decode(v interface{}) error {
	if len(r.body) == 0 {
		return transport.NewError(http.StatusBadRequest, "request body is required")
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return transport.NewError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

// owner returns the required professionalId query parameter.
func (r request) owner() (string, error) {
	id := r.query.Get("professionalId")
	if id == "" {
		return "", transport.NewError(http.StatusBadRequest, "professionalId is required")
	}
	return id, nil
}

type handlerFunc func(ctx context.Context, db queryable, req request) (json.RawMessage, error)

type route struct {
	method   string
	segments []string
	handle   handlerFunc
}

func newRoute(method, pattern string, h handlerFunc) route {
	return route{method: method, segments: split(pattern), handle: h}
}

func split(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

// match reports whether path fits the route and extracts the ":name"
// parameters, unescaped.
func (rt route) match(method, path string) (map[string]string, bool) {
	if rt.method != method {
		return nil, false
	}
	parts := split(path)
	if len(parts) != len(rt.segments) {
		return nil, false
	}
	params := map[string]string{}
	for i, seg := range rt.segments {
		if strings.HasPrefix(seg, ":") {
			v, err := url.PathUnescape(parts[i])
			if err != nil || v == "" {
				return nil, false
			}
			params[seg[1:]] = v
			continue
		}
		if seg != parts[i] {
			return nil, false
		}
	}
	return params, true
}

// Client is the Postgres-backed transport.
type Client struct {
	db     queryable
	routes []route
	logger zerolog.Logger
}

var _ transport.Client = (*Client)(nil)

func New(db queryable, logger zerolog.Logger) *Client {
	return &Client{
		db:     db,
		routes: routes(),
		logger: logger.With().Str("component", "clinicdb").Logger(),
	}
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPut, path, body)
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("clinicdb: encode body: %w", err)
		}
		raw = b
	}
	return c.do(ctx, method, path, nil, raw)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body json.RawMessage) (json.RawMessage, error) {
	if query == nil {
		query = url.Values{}
	}
	for _, rt := range c.routes {
		params, ok := rt.match(method, path)
		if !ok {
			continue
		}
		out, err := rt.handle(ctx, c.db, request{params: params, query: query, body: body})
		if err != nil {
			mapped := mapError(err)
			c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("route failed")
			return nil, mapped
		}
		return out, nil
	}
	return nil, transport.NewError(http.StatusNotFound, fmt.Sprintf("no route for %s %s", method, path))
}

// mapError turns database errors into transport errors carrying the
// {"message": ...} payload the dashboards read. Context errors pass through
// unchanged.
func mapError(err error) error {
	var te *transport.Error
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return transport.NewError(http.StatusNotFound, "record not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return transport.NewError(http.StatusConflict, "record already exists")
		case "23514", "23502", "23503", "22007", "22008", "22P02":
			return transport.NewError(http.StatusUnprocessableEntity, violationMessage(pgErr))
		}
	}
	return transport.NewError(http.StatusInternalServerError, "database error")
}

func violationMessage(e *pgconn.PgError) string {
	switch {
	case e.ConstraintName == "appointments_payment_detail_check":
		return "payment detail is required for this payment method"
	case e.Code == "23502" && e.ColumnName != "":
		return fmt.Sprintf("%s is required", e.ColumnName)
	case e.Code == "23503":
		return "referenced record does not exist"
	case e.Code == "22007" || e.Code == "22008":
		return "invalid date"
	default:
		return "invalid data"
	}
}

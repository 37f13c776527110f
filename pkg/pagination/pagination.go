package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is the limit/offset window asked for by ?limit= and ?offset=.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads the window from the query. Missing or invalid values
// fall back to DefaultLimit and offset 0; limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// Response is one page of an already projected list. Data is never nil so
// an empty page encodes as [].
type Response[T any] struct {
	Data    []T  `json:"data"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	// Next is the offset of the following page, absent on the last one.
	Next *int `json:"next_offset,omitempty"`
}

// Page cuts the window p out of items.
func Page[T any](items []T, p Params) *Response[T] {
	total := len(items)
	start := min(max(p.Offset, 0), total)
	end := min(start+p.Limit, total)

	page := make([]T, end-start)
	copy(page, items[start:end])

	r := &Response[T]{Data: page, Total: total, Limit: p.Limit, Offset: p.Offset}
	if end < total {
		next := end
		r.HasMore = true
		r.Next = &next
	}
	return r
}

package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext_Defaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?limit=50&offset=10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?offset=-5", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Offset != 0 {
		t.Errorf("expected offset 0 for negative input, got %d", p.Offset)
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	tests := []struct {
		name    string
		params  Params
		want    []int
		hasMore bool
		next    int
	}{
		{"middle", Params{Limit: 2, Offset: 2}, []int{3, 4}, true, 4},
		{"tail", Params{Limit: 10, Offset: 4}, []int{5}, false, 0},
		{"exact end", Params{Limit: 5, Offset: 0}, []int{1, 2, 3, 4, 5}, false, 0},
		{"past the end", Params{Limit: 10, Offset: 50}, []int{}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Page(items, tt.params)
			if r.Data == nil {
				t.Fatal("page data must never be nil")
			}
			if len(r.Data) != len(tt.want) {
				t.Fatalf("got %v, want %v", r.Data, tt.want)
			}
			for i := range tt.want {
				if r.Data[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", r.Data, tt.want)
				}
			}
			if r.Total != len(items) {
				t.Errorf("expected total %d, got %d", len(items), r.Total)
			}
			if r.HasMore != tt.hasMore {
				t.Errorf("has_more = %v, want %v", r.HasMore, tt.hasMore)
			}
			if tt.hasMore && (r.Next == nil || *r.Next != tt.next) {
				t.Errorf("expected next offset %d, got %v", tt.next, r.Next)
			}
			if !tt.hasMore && r.Next != nil {
				t.Errorf("last page should have no next offset, got %d", *r.Next)
			}
		})
	}
}

func TestPage_DoesNotAliasInput(t *testing.T) {
	items := []string{"a", "b"}
	r := Page(items, Params{Limit: 2})
	r.Data[0] = "z"
	if items[0] != "a" {
		t.Error("page must be a copy of the window")
	}
}

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
	if p.Page != 1 {
		t.Errorf("expected default page 1, got %d", p.Page)
	}
	if p.Offset() != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset())
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?page=3&limit=25&search=+smith+", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Page != 3 || p.Limit != 25 {
		t.Errorf("expected page 3 limit 25, got %+v", p)
	}
	if p.Search != "smith" {
		t.Errorf("expected trimmed search, got %q", p.Search)
	}
	if p.Offset() != 50 {
		t.Errorf("expected offset 50, got %d", p.Offset())
	}
}

func TestFromContext_ClampsBadValues(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?page=-2&limit=5000", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	p := FromContext(c)

	if p.Page != 1 {
		t.Errorf("expected page 1, got %d", p.Page)
	}
	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
}

func TestTotalPages(t *testing.T) {
	tests := []struct{ total, limit, want int }{
		{23, 10, 3},
		{20, 10, 2},
		{1, 10, 1},
		{0, 10, 0},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := TotalPages(tt.total, tt.limit); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.total, tt.limit, got, tt.want)
		}
	}
}

func TestMeta(t *testing.T) {
	m := NewMeta(Params{Page: 1, Limit: 10}, 23)
	if m.TotalPages != 3 || !m.HasNext() || m.HasPrevious() {
		t.Errorf("unexpected meta %+v", m)
	}
	last := NewMeta(Params{Page: 3, Limit: 10}, 23)
	if last.HasNext() || !last.HasPrevious() {
		t.Errorf("unexpected last page meta %+v", last)
	}
}

func TestSlice(t *testing.T) {
	start, end := Params{Page: 3, Limit: 10}.Slice(23)
	if start != 20 || end != 23 {
		t.Errorf("expected [20,23), got [%d,%d)", start, end)
	}
	start, end = Params{Page: 9, Limit: 10}.Slice(23)
	if start != 23 || end != 23 {
		t.Errorf("expected empty slice past the end, got [%d,%d)", start, end)
	}
}

func TestValues(t *testing.T) {
	v := Params{Page: 2, Limit: 10}.Values()
	if v.Get("page") != "2" || v.Get("limit") != "10" || v.Has("search") {
		t.Errorf("unexpected values %v", v)
	}
	if !(Params{Page: 1, Limit: 1}).Valid() || (Params{Page: 0, Limit: 10}).Valid() {
		t.Error("unexpected Valid result")
	}
}

package pagination

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Params holds page-based pagination parameters.
type Params struct {
	Page   int
	Limit  int
	Search string
}

// FromContext extracts page, limit and search from the query string. Missing
// or non-positive values fall back to page 1 and DefaultLimit.
func FromContext(c echo.Context) Params {
	return FromValues(c.QueryParams())
}

// FromValues is FromContext for plain url.Values.
func FromValues(q url.Values) Params {
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{Page: page, Limit: limit, Search: strings.TrimSpace(q.Get("search"))}
}

// Valid reports whether page and limit are both positive.
func (p Params) Valid() bool {
	return p.Page > 0 && p.Limit > 0
}

// Offset is the number of items before the first item of the page.
func (p Params) Offset() int {
	if !p.Valid() {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Values encodes the params as query parameters. Search is omitted when
// empty.
func (p Params) Values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(p.Page))
	v.Set("limit", strconv.Itoa(p.Limit))
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	return v
}

// TotalPages is ceil(total/limit), zero for an empty result.
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Meta is the pagination block of a listing.
type Meta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// NewMeta derives the pagination block for total items.
func NewMeta(p Params, total int) Meta {
	return Meta{Total: total, Page: p.Page, Limit: p.Limit, TotalPages: TotalPages(total, p.Limit)}
}

// HasNext returns true if there are pages after the current one.
func (m Meta) HasNext() bool {
	return m.Page < m.TotalPages
}

// HasPrevious returns true if there are pages before the current one.
func (m Meta) HasPrevious() bool {
	return m.Page > 1
}

// Response is a listing as it goes over the wire.
type Response struct {
	Data       interface{} `json:"data"`
	Pagination Meta        `json:"pagination"`
}

func NewResponse(data interface{}, p Params, total int) *Response {
	return &Response{Data: data, Pagination: NewMeta(p, total)}
}

// Slice returns the bounds of page p within n items.
func (p Params) Slice(n int) (start, end int) {
	start = p.Offset()
	if start > n {
		start = n
	}
	end = start + p.Limit
	if end > n {
		end = n
	}
	return start, end
}

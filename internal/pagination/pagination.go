// Package pagination reads page, limit and sort from a query string for the
// sandbox inbox listing.
package pagination

import (
	"math"
	"net/url"
	"strconv"
)

const (
	MaxLimit     int32 = 100
	DefaultPage  int32 = 1
	DefaultLimit int32 = 20
	DefaultSort        = "newest"
)

type Params struct {
	Page   int32
	Limit  int32
	Offset int32
	Sort   string
}

// HasNext reports whether total extends past this page.
func (p Params) HasNext(total int32) bool {
	return p.Offset+p.Limit < total
}

// Oldest reports whether the listing runs in arrival order.
func (p Params) Oldest() bool {
	return p.Sort == "oldest" || p.Sort == "asc"
}

type Option func(*Params)

func WithDefaultLimit(limit int32) Option {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

// FromQuery falls back to defaults for missing or malformed values and caps
// the limit at MaxLimit.
func FromQuery(q url.Values, opts ...Option) Params {
	params := Params{Page: DefaultPage, Limit: DefaultLimit, Sort: DefaultSort}
	for _, opt := range opts {
		opt(&params)
	}

	if val, ok := positive(q.Get("page")); ok {
		params.Page = val
	}
	if val, ok := positive(q.Get("limit")); ok {
		params.Limit = val
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	offset := int64(params.Page-1) * int64(params.Limit)
	if offset > math.MaxInt32 {
		offset = math.MaxInt32
	}
	params.Offset = int32(offset)

	switch sort := q.Get("sort"); sort {
	case "newest", "oldest", "asc", "desc":
		params.Sort = sort
	}
	return params
}

func positive(raw string) (int32, bool) {
	if raw == "" {
		return 0, false
	}
	val, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || val <= 0 {
		return 0, false
	}
	return int32(val), true
}

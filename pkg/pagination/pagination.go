package pagination

const (
	DefaultLimit = 20
	MaxLimit     = 500
)

// Params holds limit/offset paging for list queries.
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// New clamps limit and offset. A non-positive limit becomes defaultLimit
// (DefaultLimit when that is also non-positive); limits above MaxLimit are
// capped.
func New(limit, offset, defaultLimit int) Params {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// Normalize applies New to p.
func (p Params) Normalize(defaultLimit int) Params {
	return New(p.Limit, p.Offset, defaultLimit)
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Page wraps one page of a list result.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	NextOffset *int `json:"next_offset,omitempty"`
}

// NewPage builds a page. A full page is assumed to have more results after it.
func NewPage[T any](items []T, p Params) Page[T] {
	if items == nil {
		items = []T{}
	}
	page := Page[T]{Items: items, Limit: p.Limit, Offset: p.Offset}
	if p.Limit > 0 && len(items) >= p.Limit {
		next := p.NextOffset()
		page.NextOffset = &next
	}
	return page
}

package repository

// DefaultPageSize applies when a caller passes a non-positive size.
const DefaultPageSize = 10

// MaxPageSize caps the rows a single page query may return.
const MaxPageSize = 100

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// NewPage clamps number to at least 1 and size into [1, MaxPageSize].
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Limit is the number of rows to return.
func (p Page) Limit() int {
	return p.Size
}

// TotalPages returns how many pages hold total rows.
func (p Page) TotalPages(total int64) int {
	if p.Size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// HasMore reports whether pages follow this one.
func (p Page) HasMore(total int64) bool {
	return p.Number < p.TotalPages(total)
}

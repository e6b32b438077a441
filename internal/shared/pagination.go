package shared

// DefaultListLimit caps list results when the caller does not supply a limit.
const DefaultListLimit = 100

// Page carries limit/offset pagination for list operations.
type Page struct {
	Limit  int
	Offset int
}

// NewPage clamps limit and offset to sane values.
func NewPage(limit, offset int) Page {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}

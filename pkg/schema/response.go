package schema

type Error struct {
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

type Response[T any] struct {
	Status string `json:"status"`
	Code   int    `json:"code"`
	Data   T      `json:"data,omitempty"`
	Error  Error  `json:"error,omitempty"`
}

const (
	STATUS_SUCCESS = "success"
	STATUS_FAIL    = "fail"
)

// Page is the cursor-less pagination shared by feed style listings.
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

const DEFAULT_PAGE_LIMIT = 10

func NewPage(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 50 {
		limit = DEFAULT_PAGE_LIMIT
	}
	return Page{Page: page, Limit: limit}
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

package shared

import (
	"math"
	"net/url"
	"strconv"
)

// MaxPerPage bounds page sizes requested by clients.
const MaxPerPage = 200

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	if page <= 0 {
		page = 1
	}
	if total < 0 {
		total = 0
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	// one past the last page yields an empty window
	if last := totalPages + 1; page > last {
		page = last
	}
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PaginationFromQuery reads page and per_page; invalid values fall back to defaults.
func PaginationFromQuery(q url.Values, total int) Pagination {
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return NewPagination(page, perPage, total)
}

// Bounds returns the half-open slice window of the current page.
func (p Pagination) Bounds() (start, end int) {
	total := max(p.Total, 0)
	perPage := max(p.PerPage, 1)
	page := min(max(p.Page, 1), (total+perPage-1)/perPage+1)
	start = min((page-1)*perPage, total)
	end = start + perPage
	if end > total {
		end = total
	}
	return start, end
}

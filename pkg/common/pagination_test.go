package common

import (
	"math"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPaginationParams(t *testing.T) {
	tests := []struct {
		query string
		want  PaginationParams
	}{
		{"", PaginationParams{Page: 1, PageSize: DefaultPageSize, Order: "asc"}},
		{"?page=3&page_size=10&order=desc", PaginationParams{Page: 3, PageSize: 10, Order: "desc"}},
		{"?page=0&page_size=-4&order=sideways", PaginationParams{Page: 1, PageSize: DefaultPageSize, Order: "asc"}},
		{"?page=x&page_size=5000", PaginationParams{Page: 1, PageSize: MaxPageSize, Order: "asc"}},
		{"?page=4611686018427387904&page_size=4", PaginationParams{Page: 1 << 62, PageSize: 4, Order: "asc"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/history"+tt.query, nil)
			assert.Equal(t, tt.want, ExtractPaginationParams(r))
		})
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	assert.Equal(t, []int{1, 2}, Paginate(items, PaginationParams{Page: 1, PageSize: 2}))
	assert.Equal(t, []int{5}, Paginate(items, PaginationParams{Page: 3, PageSize: 2}))
	assert.Empty(t, Paginate(items, PaginationParams{Page: 4, PageSize: 2}))
	assert.Equal(t, []int{5, 4}, Paginate(items, PaginationParams{Page: 1, PageSize: 2, Order: "desc"}))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, items, "input is left alone")
	assert.NotNil(t, Paginate[int](nil, DefaultPaginationParams()))
}

func TestPaginate_PageBeyondIntRange(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	for _, p := range []PaginationParams{
		{Page: 1 << 62, PageSize: 4},
		{Page: 1 << 62, PageSize: 4, Order: "desc"},
		{Page: math.MaxInt, PageSize: MaxPageSize},
		{Page: 0, PageSize: 4},
		{Page: -3, PageSize: 4},
	} {
		assert.NotPanics(t, func() {
			assert.Empty(t, Paginate(items, p), "%+v", p)
		})
	}

	assert.Equal(t, math.MaxInt, PaginationParams{Page: 1 << 62, PageSize: 4}.CalculateOffset())
	assert.Equal(t, 0, PaginationParams{Page: -3, PageSize: 4}.CalculateOffset())
	assert.Equal(t, 8, PaginationParams{Page: 3, PageSize: 4}.CalculateOffset())
}

func TestBuildPaginationMeta(t *testing.T) {
	info := BuildPaginationMeta(2, 2, 5)
	assert.Equal(t, &PaginationInfo{Page: 2, PageSize: 2, Total: 5, TotalPages: 3, HasNext: true, HasPrev: true}, info)

	assert.False(t, BuildPaginationMeta(1, 10, 0).HasNext)
	assert.Equal(t, 0, CalculateTotalPages(5, 0))
}

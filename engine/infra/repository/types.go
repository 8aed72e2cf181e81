package repository

import (
	"maps"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/rapidcrm/crmstore/engine/core"
)

// Values maps column names to the values written by Create and Update. A
// column absent from the map is left alone; a present nil writes NULL.
type Values map[string]any

// Columns returns the column names in sorted order.
func (v Values) Columns() []string {
	return slices.Sorted(maps.Keys(v))
}

// Update pairs a row id with the columns to change.
type Update struct {
	ID     string `json:"id"`
	Values Values `json:"data"`
}

const (
	Ascending  = "ASC"
	Descending = "DESC"

	DefaultOrderBy = "created_at"
	DefaultLimit   = 10
)

// PageRequest selects one page of rows. Page and Limit below 1 are raised
// to 1 and Page is capped at MaxPage; an empty OrderBy sorts by created_at.
type PageRequest struct {
	Page      int    `json:"page"      form:"page"`
	Limit     int    `json:"limit"     form:"limit"`
	OrderBy   string `json:"orderBy"   form:"orderBy"`
	Direction string `json:"direction" form:"direction"`
}

// Normalize applies the floors and defaults.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 1
	}
	p.Page = min(p.Page, MaxPage(p.Limit))
	if p.OrderBy == "" {
		p.OrderBy = DefaultOrderBy
	}
	p.Direction = NormalizeDirection(p.Direction)
	return p
}

// MaxPage is the last page whose offset fits in an int for limit.
func MaxPage(limit int) int {
	if limit < 1 {
		limit = 1
	}
	return math.MaxInt/limit + 1
}

// Offset is (Page-1)*Limit, saturating at math.MaxInt and never negative.
func (p PageRequest) Offset() int {
	if p.Page <= 1 || p.Limit < 1 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.Limit {
		return math.MaxInt
	}
	return (p.Page - 1) * p.Limit
}

type Page[T any] struct {
	Data       []T   `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// TotalPages is ceil(total/limit).
func TotalPages(total int64, limit int) int {
	if limit < 1 || total <= 0 {
		return 0
	}
	l := int64(limit)
	return int((total + l - 1) / l)
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdentifier reports whether name can be spliced into a statement as a
// table or column name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

func checkIdentifiers(field string, names ...string) error {
	for _, name := range names {
		if !ValidIdentifier(name) {
			return core.NewInvalidInput(field, "unsupported identifier "+strings.TrimSpace(name))
		}
	}
	return nil
}

// NormalizeDirection maps anything other than a case-insensitive "asc" to
// DESC.
func NormalizeDirection(dir string) string {
	if strings.EqualFold(strings.TrimSpace(dir), Ascending) {
		return Ascending
	}
	return Descending
}

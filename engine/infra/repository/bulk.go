package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rapidcrm/crmstore/engine/core"
)

// Placeholder returns the 1-based parameter index of field fieldIndex of
// item itemIndex in a multi-row insert with fieldCount columns.
func Placeholder(itemIndex, fieldCount, fieldIndex int) int {
	return itemIndex*fieldCount + fieldIndex + 1
}

// BuildBulkInsert renders one INSERT ... VALUES (...), (...) RETURNING *
// statement. Columns come from the first item in sorted order; later items
// bind NULL for columns they lack and may not add new ones.
func BuildBulkInsert(table string, items []Values) (string, []any, error) {
	if len(items) == 0 {
		return "", nil, core.NewInvalidInput("items", "at least one item is required")
	}
	if err := checkIdentifiers("table", table); err != nil {
		return "", nil, err
	}
	columns := items[0].Columns()
	if len(columns) == 0 {
		return "", nil, core.NewInvalidInput("items", "first item has no columns")
	}
	if err := checkIdentifiers("column", columns...); err != nil {
		return "", nil, err
	}
	known := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		known[c] = struct{}{}
	}

	fieldCount := len(columns)
	args := make([]any, 0, len(items)*fieldCount)
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")
	for itemIndex, item := range items {
		for col := range item {
			if _, ok := known[col]; !ok {
				return "", nil, core.NewInvalidInput("items",
					fmt.Sprintf("item %d sets column %s which the first item does not", itemIndex, col))
			}
		}
		if itemIndex > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for fieldIndex, col := range columns {
			if fieldIndex > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(Placeholder(itemIndex, fieldCount, fieldIndex)))
			args = append(args, item[col])
		}
		sb.WriteByte(')')
	}
	sb.WriteString(" RETURNING *")
	return sb.String(), args, nil
}

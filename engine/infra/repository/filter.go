package repository

import (
	"strings"

	"github.com/Masterminds/squirrel"
)

// Filter collects one predicate per present filter field, in the order the
// fields are added. Each predicate binds exactly one parameter, so a filter
// with k fields set yields k predicates and k params.
type Filter struct {
	preds []squirrel.Sqlizer
}

func (f *Filter) Add(pred squirrel.Sqlizer) *Filter {
	f.preds = append(f.preds, pred)
	return f
}

func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.preds)
}

func (f *Filter) Predicates() []squirrel.Sqlizer {
	if f == nil {
		return nil
	}
	return f.preds
}

// Apply adds the predicates to sb joined with AND.
func (f *Filter) Apply(sb squirrel.SelectBuilder) squirrel.SelectBuilder {
	for _, p := range f.Predicates() {
		sb = sb.Where(p)
	}
	return sb
}

// Equal is column = value.
func Equal(column string, value any) squirrel.Sqlizer {
	return squirrel.Eq{column: value}
}

// AtLeast is column >= value.
func AtLeast(column string, value any) squirrel.Sqlizer {
	return squirrel.GtOrEq{column: value}
}

// AtMost is column <= value.
func AtMost(column string, value any) squirrel.Sqlizer {
	return squirrel.LtOrEq{column: value}
}

// Is compares a boolean SQL condition with the bound flag, so both the
// true and false cases bind one parameter.
func Is(condition string, value bool) squirrel.Sqlizer {
	return squirrel.Expr("("+condition+") = ?", value)
}

// ContainsAny matches rows where any of columns contains term, case
// insensitively. The wildcarded term is bound once.
func ContainsAny(term string, columns ...string) squirrel.Sqlizer {
	cast := make([]string, len(columns))
	for i, c := range columns {
		cast[i] = c + "::text"
	}
	return squirrel.Expr(
		"EXISTS (SELECT 1 FROM unnest(ARRAY["+strings.Join(cast, ", ")+"]) AS s(val) WHERE s.val ILIKE ?)",
		Wildcard(term),
	)
}

// Overlaps is array column && values.
func Overlaps(column string, values []string) squirrel.Sqlizer {
	return squirrel.Expr(column+" && ?", values)
}

// Wildcard wraps term for a contains match.
func Wildcard(term string) string {
	return "%" + term + "%"
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/go-playground/validator/v10"

	"github.com/rapidcrm/crmstore/engine/core"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks validate tags on an input struct. The first violation is
// reported as an InvalidInputError named after the json field.
func Validate(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += " " + fe.Param()
		}
		return core.NewInvalidInput(fe.Field(), reason)
	}
	return fmt.Errorf("validating input: %w", err)
}

// SetPresent copies *p into v[column] when p is set.
func SetPresent[V any](v Values, column string, p *V) {
	if p != nil {
		v[column] = *p
	}
}

// GroupCount is one row of a GROUP BY count.
type GroupCount struct {
	Key   string `db:"key"`
	Count int64  `db:"count"`
}

// UnknownGroup labels rows whose grouping column is NULL.
const UnknownGroup = "unknown"

// CountBy counts rows per distinct value of column.
func (r *Repository[T]) CountBy(ctx context.Context, column string, preds ...squirrel.Sqlizer) (map[string]int64, error) {
	if err := checkIdentifiers("column", column); err != nil {
		return nil, err
	}
	sb := psql.Select("COALESCE("+column+"::text, '"+UnknownGroup+"') AS key", "COUNT(*) AS count").
		From(r.table).
		GroupBy(column)
	for _, p := range preds {
		sb = sb.Where(p)
	}
	rows, err := QueryAs[GroupCount](ctx, r, sb)
	if err != nil {
		return nil, fmt.Errorf("counting %s by %s: %w", r.table, column, err)
	}
	return FoldCounts(rows), nil
}

// FoldCounts turns group rows into a map, summing repeated keys.
func FoldCounts(rows []GroupCount) map[string]int64 {
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Key] += row.Count
	}
	return out
}

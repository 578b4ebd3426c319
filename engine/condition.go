// Package engine compiles resource configurations and validated request
// parameters into SQL and executes the result.
package engine

import (
	"fmt"
	"strings"

	"github.com/tablekit/tablekit/schema"
)

// condition is one WHERE predicate awaiting rendering. Ref is a fully
// resolved column reference or parenthesized expression; only Value flows
// into bind parameters.
type condition struct {
	Ref      string
	Operator schema.Operator
	Value    any
	// OrGroup renders as a parenthesized OR disjunction (search predicates)
	OrGroup []condition
}

// renderer accumulates SQL text and bind arguments with dialect-correct
// placeholders
type renderer struct {
	dialect Dialect
	args    []any
}

func newRenderer(d Dialect) *renderer {
	return &renderer{dialect: d}
}

// bind registers a value and returns its placeholder
func (r *renderer) bind(value any) string {
	r.args = append(r.args, value)
	return r.dialect.placeholder(len(r.args))
}

// conditionSQL renders a single condition to SQL
func (r *renderer) conditionSQL(c condition) (string, error) {
	if len(c.OrGroup) > 0 {
		parts := make([]string, 0, len(c.OrGroup))
		for _, sub := range c.OrGroup {
			sql, err := r.conditionSQL(sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, sql)
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}

	switch c.Operator {
	case schema.OpEq:
		return fmt.Sprintf("%s = %s", c.Ref, r.bind(c.Value)), nil
	case schema.OpNeq:
		return fmt.Sprintf("%s != %s", c.Ref, r.bind(c.Value)), nil
	case schema.OpGt:
		return fmt.Sprintf("%s > %s", c.Ref, r.bind(c.Value)), nil
	case schema.OpGte:
		return fmt.Sprintf("%s >= %s", c.Ref, r.bind(c.Value)), nil
	case schema.OpLt:
		return fmt.Sprintf("%s < %s", c.Ref, r.bind(c.Value)), nil
	case schema.OpLte:
		return fmt.Sprintf("%s <= %s", c.Ref, r.bind(c.Value)), nil

	case schema.OpContains:
		pattern := "%" + escapeLike(strings.ToLower(fmt.Sprintf("%v", c.Value))) + "%"
		return r.dialect.caseInsensitiveLike(c.Ref, r.bind(pattern)), nil

	case schema.OpIn, schema.OpNotIn:
		values, err := valueList(c.Value)
		if err != nil {
			return "", fmt.Errorf("%s: %w", c.Operator, err)
		}
		if len(values) == 0 {
			// IN () is invalid SQL; empty lists collapse to constants
			if c.Operator == schema.OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = r.bind(v)
		}
		keyword := "IN"
		if c.Operator == schema.OpNotIn {
			keyword = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", c.Ref, keyword, strings.Join(placeholders, ", ")), nil

	case schema.OpIsNull:
		return fmt.Sprintf("%s IS NULL", c.Ref), nil
	case schema.OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", c.Ref), nil

	default:
		return "", fmt.Errorf("unsupported operator: %s", c.Operator)
	}
}

// whereSQL renders conditions joined by AND, or an empty string when there
// are none
func (r *renderer) whereSQL(conditions []condition) (string, error) {
	if len(conditions) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(conditions))
	for _, c := range conditions {
		sql, err := r.conditionSQL(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

// likeEscaper neutralizes LIKE metacharacters so a contains value matches
// the literal substring. The rendered predicate carries a matching
// ESCAPE '\' clause.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// valueList normalizes multi-valued operator input
func valueList(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("requires a value list, got %T", value)
	}
}

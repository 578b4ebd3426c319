package schema

import "fmt"

// Operator is a filter comparison operator as it appears in request query
// strings and metadata
type Operator string

const (
	OpEq        Operator = "eq"
	OpNeq       Operator = "neq"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpContains  Operator = "contains"
	OpIn        Operator = "in"
	OpNotIn     Operator = "notIn"
	OpIsNull    Operator = "isNull"
	OpIsNotNull Operator = "isNotNull"
)

// ParseOperator converts a query-string operator name to an Operator
func ParseOperator(s string) (Operator, error) {
	switch Operator(s) {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpIn, OpNotIn, OpIsNull, OpIsNotNull:
		return Operator(s), nil
	default:
		return "", fmt.Errorf("unknown operator: %s", s)
	}
}

// IsMulti reports whether the operator takes a comma-separated value list
func (o Operator) IsMulti() bool {
	return o == OpIn || o == OpNotIn
}

// IsNullCheck reports whether the operator takes no value
func (o Operator) IsNullCheck() bool {
	return o == OpIsNull || o == OpIsNotNull
}

// OperatorsForType returns the operator set appropriate to a column type.
// The metadata generator emits exactly this set, and the parser validates
// requests against it.
func OperatorsForType(t ColumnType) []Operator {
	switch {
	case t.IsText():
		return []Operator{OpEq, OpNeq, OpContains, OpIn, OpNotIn, OpIsNull, OpIsNotNull}
	case t.IsNumeric(), t.IsTemporal():
		return []Operator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpIsNull, OpIsNotNull}
	case t == TypeBool:
		return []Operator{OpEq, OpIsNull, OpIsNotNull}
	case t == TypeUUID:
		return []Operator{OpEq, OpNeq, OpIn, OpNotIn, OpIsNull, OpIsNotNull}
	case t == TypeJSON:
		return []Operator{OpIsNull, OpIsNotNull}
	default:
		return []Operator{OpEq}
	}
}

// TypeSupports reports whether the operator is legal for the column type
func TypeSupports(t ColumnType, op Operator) bool {
	for _, candidate := range OperatorsForType(t) {
		if candidate == op {
			return true
		}
	}
	return false
}

// Package schema defines the validated, immutable description of a queryable
// resource: its columns, joins, computed expressions, subqueries, filters, and
// access rules. A Resource is built once by the Builder and shared read-only
// across all concurrent requests.
package schema

import "fmt"

// ColumnType represents the declared type of a column
type ColumnType int

const (
	TypeUnknown ColumnType = iota

	// Text types
	TypeString
	TypeText

	// Numeric types
	TypeInt
	TypeFloat
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate

	// Identifiers
	TypeUUID

	// JSON
	TypeJSON
)

// String returns the string representation of the column type
func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseColumnType converts a string to a ColumnType
func ParseColumnType(s string) (ColumnType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "int":
		return TypeInt, nil
	case "float":
		return TypeFloat, nil
	case "decimal":
		return TypeDecimal, nil
	case "bool":
		return TypeBool, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "date":
		return TypeDate, nil
	case "uuid":
		return TypeUUID, nil
	case "json":
		return TypeJSON, nil
	case "unknown", "":
		return TypeUnknown, nil
	default:
		return 0, fmt.Errorf("unknown column type: %s", s)
	}
}

// IsNumeric returns true if the type is a numeric type
func (t ColumnType) IsNumeric() bool {
	return t == TypeInt || t == TypeFloat || t == TypeDecimal
}

// IsText returns true if the type is a text type
func (t ColumnType) IsText() bool {
	return t == TypeString || t == TypeText
}

// IsTemporal returns true if the type is a date or timestamp type
func (t ColumnType) IsTemporal() bool {
	return t == TypeTimestamp || t == TypeDate
}

// ColumnSource identifies where a column's value comes from
type ColumnSource int

const (
	SourceBase ColumnSource = iota
	SourceJoin
	SourceComputed
	SourceSubquery
)

// String returns the string representation of the column source
func (s ColumnSource) String() string {
	switch s {
	case SourceBase:
		return "base"
	case SourceJoin:
		return "join"
	case SourceComputed:
		return "computed"
	case SourceSubquery:
		return "subquery"
	default:
		return "unknown"
	}
}

// Column describes one projected column of a resource
type Column struct {
	Name       string
	Type       ColumnType
	Label      string
	Hidden     bool
	Sortable   bool
	Filterable bool
	Source     ColumnSource

	// JoinTable is set for join-sourced columns
	JoinTable string

	// Presentation metadata merged by the builder
	Format   string
	Align    string
	MinWidth int
	MaxWidth int
	Options  map[string]any
}

// SubqueryKind classifies a correlated subquery and determines whether its
// result is a scalar (and therefore sortable)
type SubqueryKind int

const (
	SubqueryCount SubqueryKind = iota
	SubqueryExists
	SubqueryFirst
	SubquerySum
	SubqueryAvg
)

// String returns the string representation of the subquery kind
func (k SubqueryKind) String() string {
	switch k {
	case SubqueryCount:
		return "count"
	case SubqueryExists:
		return "exists"
	case SubqueryFirst:
		return "first"
	case SubquerySum:
		return "sum"
	case SubqueryAvg:
		return "avg"
	default:
		return "unknown"
	}
}

// ParseSubqueryKind converts a string to a SubqueryKind
func ParseSubqueryKind(s string) (SubqueryKind, error) {
	switch s {
	case "count":
		return SubqueryCount, nil
	case "exists":
		return SubqueryExists, nil
	case "first":
		return SubqueryFirst, nil
	case "sum":
		return SubquerySum, nil
	case "avg":
		return SubqueryAvg, nil
	default:
		return 0, fmt.Errorf("unknown subquery kind: %s", s)
	}
}

// IsScalar reports whether the subquery yields a single scalar value.
// A "first" subquery yields a row value and can never be ordered on.
func (k SubqueryKind) IsScalar() bool {
	return k != SubqueryFirst
}

// Join describes a join attached to every query for the resource.
// The On condition is fixed at config-build time.
type Join struct {
	Table   string
	Alias   string
	On      string
	Columns []string
}

// ComputedColumn is a scalar SQL expression bound at build time.
// Expressions never contain request-supplied input.
type ComputedColumn struct {
	Name       string
	Expression string
	Type       ColumnType
	Label      string
	Sortable   bool
}

// Subquery is a correlated subquery projected as a column
type Subquery struct {
	Alias       string
	Table       string
	Kind        SubqueryKind
	Correlation string
	// ValueColumn is the aggregated column for sum/avg and the projected
	// columns for first
	ValueColumn string
}

// Filter is a dynamic, request-overridable predicate definition
type Filter struct {
	Field    string
	Operator string
	Type     ColumnType
}

// StaticFilter is a predicate baked into every query. It is never
// client-overridable and is listed separately in metadata.
type StaticFilter struct {
	Field    string
	Operator string
	Value    any
}

// Search configures free-text search across a set of fields, combined with
// OR and matched case-insensitively
type Search struct {
	Enabled bool
	Fields  []string
}

// SoftDelete excludes rows where Field IS NOT NULL, unless a request asks
// for deleted rows explicitly
type SoftDelete struct {
	Field string
}

// Access gates a resource on the intersection of the request's roles with
// the configured role set. Empty means unrestricted.
type Access struct {
	Roles []string
}

// SortField is one element of a sort order
type SortField struct {
	Field string
	Desc  bool
}

// Pagination bounds page sizes for a resource
type Pagination struct {
	DefaultPageSize int
	MaxPageSize     int
}

// ExportFormat is a supported export serialization
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"
)

// Export configures export capability for a resource
type Export struct {
	Enabled bool
	Formats []ExportFormat
}

// AggregationType classifies a grouped-mode aggregation
type AggregationType string

const (
	AggCount AggregationType = "count"
	AggSum   AggregationType = "sum"
	AggAvg   AggregationType = "avg"
	AggMin   AggregationType = "min"
	AggMax   AggregationType = "max"
)

// Aggregation is one aggregate projected in grouped mode
type Aggregation struct {
	Alias string
	Type  AggregationType
	Field string
}

// CountMode selects exact or storage-estimated totals
type CountMode int

const (
	CountExact CountMode = iota
	CountEstimated
)

// Recursive configures hierarchical traversal for a resource via a
// self-referencing parent column
type Recursive struct {
	Enabled     bool
	ParentField string
}

// Resource is the complete, immutable configuration of one queryable
// resource. It is constructed by the Builder and must not be mutated after
// ToResource returns.
type Resource struct {
	Name       string
	Table      string
	PrimaryKey string

	Columns         []*Column
	Joins           []*Join
	ComputedColumns []*ComputedColumn
	Subqueries      []*Subquery

	Filters       []*Filter
	StaticFilters []*StaticFilter
	Search        Search

	TenantField string
	SoftDelete  *SoftDelete
	Access      *Access

	DefaultSort []SortField
	Pagination  Pagination
	Export      Export

	GroupableFields []string
	Aggregations    []*Aggregation
	CountMode       CountMode
	Recursive       *Recursive

	columnIndex map[string]*Column
}

// Column returns the column with the given name, or nil
func (r *Resource) Column(name string) *Column {
	return r.columnIndex[name]
}

// HasColumn reports whether the resource projects a column with the given name
func (r *Resource) HasColumn(name string) bool {
	_, ok := r.columnIndex[name]
	return ok
}

// Subquery returns the subquery projected under the given alias, or nil
func (r *Resource) Subquery(alias string) *Subquery {
	for _, sq := range r.Subqueries {
		if sq.Alias == alias {
			return sq
		}
	}
	return nil
}

// Computed returns the computed column with the given name, or nil
func (r *Resource) Computed(name string) *ComputedColumn {
	for _, cc := range r.ComputedColumns {
		if cc.Name == name {
			return cc
		}
	}
	return nil
}

// StaticFilterFields returns the set of fields locked by static filters
func (r *Resource) StaticFilterFields() map[string]bool {
	fields := make(map[string]bool, len(r.StaticFilters))
	for _, sf := range r.StaticFilters {
		fields[sf.Field] = true
	}
	return fields
}

// IsSortable reports whether the named field may appear in a sort order.
// Sortability of subquery columns is derived from the kind: first yields a
// composite value and is rejected regardless of declared flags.
func (r *Resource) IsSortable(field string) bool {
	if sq := r.Subquery(field); sq != nil {
		return sq.Kind.IsScalar()
	}
	if cc := r.Computed(field); cc != nil {
		return cc.Sortable
	}
	col := r.Column(field)
	return col != nil && col.Sortable
}

// IsGroupable reports whether the named field may appear in a GROUP BY
func (r *Resource) IsGroupable(field string) bool {
	for _, f := range r.GroupableFields {
		if f == field {
			return true
		}
	}
	return false
}

// buildIndex populates the column lookup map. Called by the builder after
// validation.
func (r *Resource) buildIndex() {
	r.columnIndex = make(map[string]*Column, len(r.Columns))
	for _, c := range r.Columns {
		r.columnIndex[c.Name] = c
	}
}

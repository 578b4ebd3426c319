// Package schema provides build-time validation for resources
package schema

import (
	"fmt"
	"strings"
)

// ValidationError describes one build-time configuration error
type ValidationError struct {
	Resource string
	Field    string
	Message  string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Resource != "" {
		b.WriteString(e.Resource)
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// validator runs all cross-field checks for one resource in a single pass
type validator struct {
	resource         *Resource
	subquerySortable map[string]bool
	declarations     map[string][]string
	errors           []*ValidationError
}

func newValidator(r *Resource, subquerySortable map[string]bool, declarations map[string][]string) *validator {
	return &validator{
		resource:         r,
		subquerySortable: subquerySortable,
		declarations:     declarations,
	}
}

func (v *validator) validate() error {
	v.validateName()
	v.validateDuplicates()
	v.validateJoins()
	v.validateSubqueries()
	v.validateFilters()
	v.validateSearch()
	v.validateSoftDelete()
	v.validatePagination()
	v.validateAggregations()
	v.validateRecursive()

	if len(v.errors) == 0 {
		return nil
	}
	msgs := make([]string, len(v.errors))
	for i, e := range v.errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("resource validation failed with %d errors:\n%s",
		len(v.errors), strings.Join(msgs, "\n"))
}

func (v *validator) addError(field, message string) {
	v.errors = append(v.errors, &ValidationError{
		Resource: v.resource.Name,
		Field:    field,
		Message:  message,
	})
}

func (v *validator) validateName() {
	if v.resource.Name == "" {
		v.addError("", "resource name is required")
	}
	if v.resource.Table == "" {
		v.addError("", "resource table is required")
	}
}

// validateDuplicates rejects a column name declared by more than one
// directive kind (base column, join column, computed, subquery)
func (v *validator) validateDuplicates() {
	for name, kinds := range v.declarations {
		if len(kinds) > 1 {
			v.addError(name, fmt.Sprintf("column declared %d times (%s)",
				len(kinds), strings.Join(kinds, ", ")))
		}
	}
}

func (v *validator) validateJoins() {
	seen := make(map[string]bool, len(v.resource.Joins))
	for _, j := range v.resource.Joins {
		if j.Alias == "" {
			v.addError(j.Table, "join alias is required")
			continue
		}
		if seen[j.Alias] {
			v.addError(j.Alias, "duplicate join alias")
		}
		seen[j.Alias] = true
		if j.On == "" {
			v.addError(j.Alias, "join on condition is required")
		}
	}

	// join-sourced columns must reference a known alias
	for _, c := range v.resource.Columns {
		if c.Source == SourceJoin && !seen[c.JoinTable] {
			v.addError(c.Name, fmt.Sprintf("unresolved join alias %q", c.JoinTable))
		}
	}
}

func (v *validator) validateSubqueries() {
	seen := make(map[string]bool, len(v.resource.Subqueries))
	for _, sq := range v.resource.Subqueries {
		if seen[sq.Alias] {
			v.addError(sq.Alias, "duplicate subquery alias")
		}
		seen[sq.Alias] = true
		if sq.Correlation == "" {
			v.addError(sq.Alias, "subquery correlation is required")
		}
		switch sq.Kind {
		case SubquerySum, SubqueryAvg:
			if sq.ValueColumn == "" {
				v.addError(sq.Alias, fmt.Sprintf("%s subquery requires a value column", sq.Kind))
			}
		}
		// a first subquery yields a composite value; ordering on it is
		// impossible and must be rejected here, not at execution time
		if !sq.Kind.IsScalar() && v.subquerySortable[sq.Alias] {
			v.addError(sq.Alias, "subquery of kind first cannot be sortable")
		}
	}
}

func (v *validator) validateFilters() {
	for _, f := range v.resource.Filters {
		if !v.resource.hasProjectedName(f.Field) {
			v.addError(f.Field, "filter references unknown column")
		}
	}
	for _, sf := range v.resource.StaticFilters {
		if sf.Field == "" {
			v.addError("", "static filter field is required")
		}
	}
}

func (v *validator) validateSearch() {
	for _, f := range v.resource.Search.Fields {
		if !v.resource.hasProjectedName(f) {
			v.addError(f, "search references unknown column")
		}
	}
}

func (v *validator) validateSoftDelete() {
	if sd := v.resource.SoftDelete; sd != nil && sd.Field == "" {
		v.addError("", "soft delete field is required")
	}
}

func (v *validator) validatePagination() {
	p := v.resource.Pagination
	if p.DefaultPageSize < 1 {
		v.addError("", fmt.Sprintf("default page size must be positive, got %d", p.DefaultPageSize))
	}
	if p.MaxPageSize < p.DefaultPageSize {
		v.addError("", fmt.Sprintf("max page size %d is below default %d", p.MaxPageSize, p.DefaultPageSize))
	}
}

func (v *validator) validateAggregations() {
	seen := make(map[string]bool, len(v.resource.Aggregations))
	for _, agg := range v.resource.Aggregations {
		if seen[agg.Alias] {
			v.addError(agg.Alias, "duplicate aggregation alias")
		}
		seen[agg.Alias] = true
		if agg.Type != AggCount && agg.Field == "" {
			v.addError(agg.Alias, fmt.Sprintf("%s aggregation requires a field", agg.Type))
		}
	}
	for _, f := range v.resource.GroupableFields {
		if !v.resource.hasProjectedName(f) {
			v.addError(f, "groupable field references unknown column")
		}
	}
}

func (v *validator) validateRecursive() {
	if r := v.resource.Recursive; r != nil && r.Enabled && r.ParentField == "" {
		v.addError("", "recursive traversal requires a parent field")
	}
}

// hasProjectedName reports whether name is any projected column of the
// resource; used before the lookup index exists
func (r *Resource) hasProjectedName(name string) bool {
	for _, c := range r.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

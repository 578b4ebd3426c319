// Package schema provides the fluent builder that accumulates resource
// directives and finalizes them into a validated Resource.
package schema

import "fmt"

// ColumnMeta carries presentation metadata merged onto a column by name.
// Directives for the same column merge: later non-zero values win for
// conflicting keys, earlier values survive otherwise.
type ColumnMeta struct {
	Type       ColumnType
	Label      string
	Hidden     *bool
	Sortable   *bool
	Filterable *bool
	Format     string
	Align      string
	MinWidth   int
	MaxWidth   int
	Options    map[string]any
}

// Builder accumulates directives for one resource. Directives apply in call
// order; all cross-field validation happens once, in ToResource.
type Builder struct {
	resource *Resource

	// declared sortable intent for subqueries, kept so validation can
	// reject impossible combinations at build time
	subquerySortable map[string]bool

	// declarations counts explicit column declarations per name so
	// validation can report duplicates. Metadata placeholders do not count.
	declarations map[string][]string
}

// NewBuilder creates a builder for the named resource backed by the given
// table
func NewBuilder(name, table string) *Builder {
	return &Builder{
		resource: &Resource{
			Name:       name,
			Table:      table,
			PrimaryKey: "id",
			Pagination: Pagination{DefaultPageSize: 25, MaxPageSize: 100},
		},
		subquerySortable: make(map[string]bool),
		declarations:     make(map[string][]string),
	}
}

func (b *Builder) declare(name, kind string) {
	b.declarations[name] = append(b.declarations[name], kind)
}

// PrimaryKey sets the primary-key column used for stable ordering and
// cursor pagination. Defaults to "id".
func (b *Builder) PrimaryKey(field string) *Builder {
	b.resource.PrimaryKey = field
	return b
}

// Column declares a base-table column
func (b *Builder) Column(name string, typ ColumnType) *Builder {
	b.declare(name, "column")
	col := b.ensureColumn(name)
	col.Type = typ
	col.Source = SourceBase
	if col.Label == "" {
		col.Label = name
	}
	col.Sortable = true
	col.Filterable = true
	return b
}

// Join attaches a left join present on every query. The on condition is
// resolved now, never per request. Selected columns are projected under
// their own names.
func (b *Builder) Join(table, alias, on string, columns ...string) *Builder {
	b.resource.Joins = append(b.resource.Joins, &Join{
		Table:   table,
		Alias:   alias,
		On:      on,
		Columns: columns,
	})
	for _, name := range columns {
		b.declare(name, "join")
		col := b.ensureColumn(name)
		col.Source = SourceJoin
		col.JoinTable = alias
		if col.Label == "" {
			col.Label = name
		}
		col.Sortable = true
		col.Filterable = true
	}
	return b
}

// Computed declares a computed column from a scalar SQL expression fixed at
// build time
func (b *Builder) Computed(name, expression string, typ ColumnType) *Builder {
	b.resource.ComputedColumns = append(b.resource.ComputedColumns, &ComputedColumn{
		Name:       name,
		Expression: expression,
		Type:       typ,
		Label:      name,
		Sortable:   true,
	})
	b.declare(name, "computed")
	col := b.ensureColumn(name)
	col.Type = typ
	col.Source = SourceComputed
	if col.Label == "" {
		col.Label = name
	}
	col.Sortable = true
	return b
}

// Subquery projects a correlated subquery as a column. Sortability is
// derived from the kind, not declared.
func (b *Builder) Subquery(alias, table string, kind SubqueryKind, correlation string) *Builder {
	return b.SubqueryColumn(alias, table, kind, correlation, "")
}

// SubqueryColumn is Subquery with an explicit value column for sum/avg/first
func (b *Builder) SubqueryColumn(alias, table string, kind SubqueryKind, correlation, valueColumn string) *Builder {
	b.resource.Subqueries = append(b.resource.Subqueries, &Subquery{
		Alias:       alias,
		Table:       table,
		Kind:        kind,
		Correlation: correlation,
		ValueColumn: valueColumn,
	})
	b.declare(alias, "subquery")
	col := b.ensureColumn(alias)
	col.Source = SourceSubquery
	if col.Label == "" {
		col.Label = alias
	}
	col.Sortable = kind.IsScalar()
	switch kind {
	case SubqueryCount, SubquerySum, SubqueryAvg:
		col.Type = TypeInt
		if kind != SubqueryCount {
			col.Type = TypeFloat
		}
	case SubqueryExists:
		col.Type = TypeBool
	}
	return b
}

// SortableSubquery records a declared sortable intent for a subquery alias.
// ToResource rejects the combination of a "first" subquery and a sortable
// declaration.
func (b *Builder) SortableSubquery(alias string) *Builder {
	b.subquerySortable[alias] = true
	return b
}

// Filter declares a dynamic, request-overridable filter on a field
func (b *Builder) Filter(field, operator string, typ ColumnType) *Builder {
	b.resource.Filters = append(b.resource.Filters, &Filter{
		Field:    field,
		Operator: operator,
		Type:     typ,
	})
	return b
}

// StaticFilter bakes a predicate into every query for the resource. The
// field can never be overridden by a request.
func (b *Builder) StaticFilter(field, operator string, value any) *Builder {
	b.resource.StaticFilters = append(b.resource.StaticFilters, &StaticFilter{
		Field:    field,
		Operator: operator,
		Value:    value,
	})
	return b
}

// Search enables free-text search over the given fields
func (b *Builder) Search(fields ...string) *Builder {
	b.resource.Search = Search{Enabled: len(fields) > 0, Fields: fields}
	return b
}

// Tenant names the column bound to the request context's tenant id. Every
// query gains the equality predicate unconditionally.
func (b *Builder) Tenant(field string) *Builder {
	b.resource.TenantField = field
	return b
}

// SoftDelete excludes rows where field IS NOT NULL unless a request opts in
// to deleted rows
func (b *Builder) SoftDelete(field string) *Builder {
	b.resource.SoftDelete = &SoftDelete{Field: field}
	return b
}

// Access restricts the resource to requests whose role set intersects roles
func (b *Builder) Access(roles ...string) *Builder {
	b.resource.Access = &Access{Roles: roles}
	return b
}

// DefaultSort sets the sort order applied when a request specifies none
func (b *Builder) DefaultSort(fields ...SortField) *Builder {
	b.resource.DefaultSort = fields
	return b
}

// PageSize sets the default and maximum page sizes
func (b *Builder) PageSize(defaultSize, maxSize int) *Builder {
	b.resource.Pagination = Pagination{DefaultPageSize: defaultSize, MaxPageSize: maxSize}
	return b
}

// ExportFormats enables export in the given formats
func (b *Builder) ExportFormats(formats ...ExportFormat) *Builder {
	b.resource.Export = Export{Enabled: len(formats) > 0, Formats: formats}
	return b
}

// Groupable marks fields as legal GROUP BY targets
func (b *Builder) Groupable(fields ...string) *Builder {
	b.resource.GroupableFields = append(b.resource.GroupableFields, fields...)
	return b
}

// Aggregate projects an aggregate in grouped mode
func (b *Builder) Aggregate(alias string, typ AggregationType, field string) *Builder {
	b.resource.Aggregations = append(b.resource.Aggregations, &Aggregation{
		Alias: alias,
		Type:  typ,
		Field: field,
	})
	return b
}

// CountMode selects exact or estimated totals
func (b *Builder) CountMode(mode CountMode) *Builder {
	b.resource.CountMode = mode
	return b
}

// RecursiveOn enables hierarchical traversal via a self-referencing parent
// column
func (b *Builder) RecursiveOn(parentField string) *Builder {
	b.resource.Recursive = &Recursive{Enabled: true, ParentField: parentField}
	return b
}

// ColumnMeta merges presentation metadata onto the named column. Repeated
// calls for the same column merge: non-conflicting keys accumulate,
// conflicting keys take the latest value. A call for a column that does not
// exist yet creates a placeholder entry whose type defaults to the supplied
// type, or unknown.
func (b *Builder) ColumnMeta(name string, meta ColumnMeta) *Builder {
	col := b.ensureColumn(name)
	if meta.Type != TypeUnknown {
		col.Type = meta.Type
	}
	if meta.Label != "" {
		col.Label = meta.Label
	}
	if meta.Hidden != nil {
		col.Hidden = *meta.Hidden
	}
	if meta.Sortable != nil {
		col.Sortable = *meta.Sortable
	}
	if meta.Filterable != nil {
		col.Filterable = *meta.Filterable
	}
	if meta.Format != "" {
		col.Format = meta.Format
	}
	if meta.Align != "" {
		col.Align = meta.Align
	}
	if meta.MinWidth != 0 {
		col.MinWidth = meta.MinWidth
	}
	if meta.MaxWidth != 0 {
		col.MaxWidth = meta.MaxWidth
	}
	if len(meta.Options) > 0 {
		if col.Options == nil {
			col.Options = make(map[string]any, len(meta.Options))
		}
		for k, v := range meta.Options {
			col.Options[k] = v
		}
	}
	return b
}

// Format sets the display format for a column, merging with any metadata
// set before or after
func (b *Builder) Format(name, format string) *Builder {
	return b.ColumnMeta(name, ColumnMeta{Format: format})
}

// Hidden hides a column from responses and metadata listings
func (b *Builder) Hidden(name string) *Builder {
	hidden := true
	return b.ColumnMeta(name, ColumnMeta{Hidden: &hidden})
}

// ToResource finalizes the builder, running all cross-field validation in
// one pass. Duplicate column names, unresolved join aliases, and sortable
// declarations on "first" subqueries are build-time errors.
func (b *Builder) ToResource() (*Resource, error) {
	v := newValidator(b.resource, b.subquerySortable, b.declarations)
	if err := v.validate(); err != nil {
		return nil, err
	}
	b.resource.buildIndex()
	return b.resource, nil
}

// ensureColumn returns the column with the given name, creating a
// placeholder when a metadata directive arrives before the column
// declaration
func (b *Builder) ensureColumn(name string) *Column {
	for _, c := range b.resource.Columns {
		if c.Name == name {
			return c
		}
	}
	col := &Column{Name: name, Type: TypeUnknown, Source: SourceBase}
	b.resource.Columns = append(b.resource.Columns, col)
	return col
}

// MustResource is ToResource that panics on validation failure, for
// process-start configuration where a bad config should not boot
func (b *Builder) MustResource() *Resource {
	r, err := b.ToResource()
	if err != nil {
		panic(fmt.Sprintf("schema: invalid resource %s: %v", b.resource.Name, err))
	}
	return r
}

// Package metadata derives the serializable capability description of a
// resource. The generated description is the single contract the parser,
// the executor, and external clients rely on: it is recomputed from the
// Resource on every call and never cached independently of it.
package metadata

import (
	"github.com/tablekit/tablekit/schema"
)

// ColumnMeta describes one column's capabilities and presentation hints
type ColumnMeta struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Label      string            `json:"label"`
	Source     string            `json:"source"`
	Sortable   bool              `json:"sortable"`
	Filterable bool              `json:"filterable"`
	Operators  []schema.Operator `json:"operators,omitempty"`
	Format     string            `json:"format,omitempty"`
	Align      string            `json:"align,omitempty"`
	MinWidth   int               `json:"minWidth,omitempty"`
	MaxWidth   int               `json:"maxWidth,omitempty"`
	Options    map[string]any    `json:"options,omitempty"`
}

// FilterMeta describes one overridable filter
type FilterMeta struct {
	Field     string            `json:"field"`
	Type      string            `json:"type"`
	Operators []schema.Operator `json:"operators"`
}

// PaginationMeta carries the resource's page-size bounds
type PaginationMeta struct {
	DefaultPageSize int `json:"defaultPageSize"`
	MaxPageSize     int `json:"maxPageSize"`
}

// ExportMeta carries export capability
type ExportMeta struct {
	Enabled bool                  `json:"enabled"`
	Formats []schema.ExportFormat `json:"formats,omitempty"`
}

// ResourceMeta is the full capability description of one resource
type ResourceMeta struct {
	Name    string       `json:"name"`
	Columns []ColumnMeta `json:"columns"`

	// Filters are request-overridable; StaticFilters lists only the field
	// names clients cannot influence
	Filters       []FilterMeta `json:"filters"`
	StaticFilters []string     `json:"staticFilters"`

	SearchFields []string `json:"searchFields,omitempty"`

	DefaultSort []schema.SortField `json:"defaultSort,omitempty"`
	Pagination  PaginationMeta     `json:"pagination"`
	Export      ExportMeta         `json:"export"`

	GroupableFields   []string `json:"groupableFields,omitempty"`
	SupportsGrouped   bool     `json:"supportsGrouped"`
	SupportsRecursive bool     `json:"supportsRecursive"`
	CountEstimated    bool     `json:"countEstimated"`
}

// Generate derives the capability description from a resource. The
// generator, not the builder, is the source of truth for derived flags: a
// subquery of kind first is reported unsortable regardless of declared
// intent.
func Generate(resource *schema.Resource) *ResourceMeta {
	meta := &ResourceMeta{
		Name:          resource.Name,
		Columns:       make([]ColumnMeta, 0, len(resource.Columns)),
		Filters:       make([]FilterMeta, 0, len(resource.Filters)),
		StaticFilters: make([]string, 0, len(resource.StaticFilters)),
		SearchFields:  resource.Search.Fields,
		DefaultSort:   resource.DefaultSort,
		Pagination: PaginationMeta{
			DefaultPageSize: resource.Pagination.DefaultPageSize,
			MaxPageSize:     resource.Pagination.MaxPageSize,
		},
		Export: ExportMeta{
			Enabled: resource.Export.Enabled,
			Formats: resource.Export.Formats,
		},
		GroupableFields:   resource.GroupableFields,
		SupportsGrouped:   len(resource.GroupableFields) > 0,
		SupportsRecursive: resource.Recursive != nil && resource.Recursive.Enabled,
		CountEstimated:    resource.CountMode == schema.CountEstimated,
	}

	for _, col := range resource.Columns {
		if col.Hidden {
			continue
		}
		cm := ColumnMeta{
			Name:       col.Name,
			Type:       col.Type.String(),
			Label:      col.Label,
			Source:     col.Source.String(),
			Sortable:   resource.IsSortable(col.Name),
			Filterable: col.Filterable,
			Format:     col.Format,
			Align:      col.Align,
			MinWidth:   col.MinWidth,
			MaxWidth:   col.MaxWidth,
			Options:    col.Options,
		}
		if cm.Filterable {
			cm.Operators = schema.OperatorsForType(col.Type)
		}
		meta.Columns = append(meta.Columns, cm)
	}

	for _, f := range resource.Filters {
		meta.Filters = append(meta.Filters, FilterMeta{
			Field:     f.Field,
			Type:      f.Type.String(),
			Operators: schema.OperatorsForType(f.Type),
		})
	}
	for _, sf := range resource.StaticFilters {
		meta.StaticFilters = append(meta.StaticFilters, sf.Field)
	}

	return meta
}

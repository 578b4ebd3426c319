package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tablekit/tablekit/schema"
)

// yamlFile is the on-disk shape of a resource definition file
type yamlFile struct {
	Resources []yamlResource `yaml:"resources"`
}

type yamlResource struct {
	Name       string `yaml:"name"`
	Table      string `yaml:"table"`
	PrimaryKey string `yaml:"primaryKey"`

	Columns    []yamlColumn   `yaml:"columns"`
	Joins      []yamlJoin     `yaml:"joins"`
	Computed   []yamlComputed `yaml:"computed"`
	Subqueries []yamlSubquery `yaml:"subqueries"`

	Filters       []yamlFilter       `yaml:"filters"`
	StaticFilters []yamlStaticFilter `yaml:"staticFilters"`
	Search        []string           `yaml:"search"`

	Tenant     string   `yaml:"tenant"`
	SoftDelete string   `yaml:"softDelete"`
	Roles      []string `yaml:"roles"`

	DefaultSort []string `yaml:"defaultSort"`
	PageSize    int      `yaml:"pageSize"`
	MaxPageSize int      `yaml:"maxPageSize"`

	Export    []string          `yaml:"export"`
	GroupBy   []string          `yaml:"groupBy"`
	Aggregate []yamlAggregation `yaml:"aggregate"`

	CountMode   string `yaml:"countMode"`
	RecursiveOn string `yaml:"recursiveOn"`
}

type yamlColumn struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Label  string `yaml:"label"`
	Hidden bool   `yaml:"hidden"`
	Format string `yaml:"format"`
}

type yamlJoin struct {
	Table   string   `yaml:"table"`
	Alias   string   `yaml:"alias"`
	On      string   `yaml:"on"`
	Columns []string `yaml:"columns"`
}

type yamlComputed struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Type       string `yaml:"type"`
}

type yamlSubquery struct {
	Alias       string `yaml:"alias"`
	Table       string `yaml:"table"`
	Kind        string `yaml:"kind"`
	Correlation string `yaml:"correlation"`
	ValueColumn string `yaml:"valueColumn"`
}

type yamlFilter struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Type     string `yaml:"type"`
}

type yamlStaticFilter struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
}

type yamlAggregation struct {
	Alias string `yaml:"alias"`
	Type  string `yaml:"type"`
	Field string `yaml:"field"`
}

// LoadResources reads a YAML resource definition file and builds a
// validated registry from it
func LoadResources(filename string) (*schema.Registry, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading resource file: %w", err)
	}

	var yf yamlFile
	if err := yaml.Unmarshal(data, &yf); err != nil {
		return nil, fmt.Errorf("unmarshalling YAML: %w", err)
	}

	registry := schema.NewRegistry()
	for _, yr := range yf.Resources {
		resource, err := buildResource(yr)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", yr.Name, err)
		}
		if err := registry.Register(resource); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildResource(yr yamlResource) (*schema.Resource, error) {
	b := schema.NewBuilder(yr.Name, yr.Table)

	if yr.PrimaryKey != "" {
		b.PrimaryKey(yr.PrimaryKey)
	}

	for _, col := range yr.Columns {
		typ, err := schema.ParseColumnType(col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		b.Column(col.Name, typ)
		meta := schema.ColumnMeta{Label: col.Label, Format: col.Format}
		if col.Hidden {
			hidden := true
			meta.Hidden = &hidden
		}
		b.ColumnMeta(col.Name, meta)
	}

	for _, j := range yr.Joins {
		b.Join(j.Table, j.Alias, j.On, j.Columns...)
	}

	for _, cc := range yr.Computed {
		typ, err := schema.ParseColumnType(cc.Type)
		if err != nil {
			return nil, fmt.Errorf("computed %s: %w", cc.Name, err)
		}
		b.Computed(cc.Name, cc.Expression, typ)
	}

	for _, sq := range yr.Subqueries {
		kind, err := schema.ParseSubqueryKind(sq.Kind)
		if err != nil {
			return nil, fmt.Errorf("subquery %s: %w", sq.Alias, err)
		}
		b.SubqueryColumn(sq.Alias, sq.Table, kind, sq.Correlation, sq.ValueColumn)
	}

	for _, f := range yr.Filters {
		typ, err := schema.ParseColumnType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		b.Filter(f.Field, f.Operator, typ)
	}
	for _, sf := range yr.StaticFilters {
		b.StaticFilter(sf.Field, sf.Operator, sf.Value)
	}

	if len(yr.Search) > 0 {
		b.Search(yr.Search...)
	}
	if yr.Tenant != "" {
		b.Tenant(yr.Tenant)
	}
	if yr.SoftDelete != "" {
		b.SoftDelete(yr.SoftDelete)
	}
	if len(yr.Roles) > 0 {
		b.Access(yr.Roles...)
	}

	if len(yr.DefaultSort) > 0 {
		sorts := make([]schema.SortField, 0, len(yr.DefaultSort))
		for _, s := range yr.DefaultSort {
			if len(s) > 0 && s[0] == '-' {
				sorts = append(sorts, schema.SortField{Field: s[1:], Desc: true})
			} else {
				sorts = append(sorts, schema.SortField{Field: s})
			}
		}
		b.DefaultSort(sorts...)
	}

	if yr.PageSize > 0 || yr.MaxPageSize > 0 {
		def, max := yr.PageSize, yr.MaxPageSize
		if def == 0 {
			def = 25
		}
		if max == 0 {
			max = def * 4
		}
		b.PageSize(def, max)
	}

	if len(yr.Export) > 0 {
		formats := make([]schema.ExportFormat, len(yr.Export))
		for i, f := range yr.Export {
			formats[i] = schema.ExportFormat(f)
		}
		b.ExportFormats(formats...)
	}

	if len(yr.GroupBy) > 0 {
		b.Groupable(yr.GroupBy...)
	}
	for _, agg := range yr.Aggregate {
		b.Aggregate(agg.Alias, schema.AggregationType(agg.Type), agg.Field)
	}

	if yr.CountMode == "estimated" {
		b.CountMode(schema.CountEstimated)
	}
	if yr.RecursiveOn != "" {
		b.RecursiveOn(yr.RecursiveOn)
	}

	return b.ToResource()
}

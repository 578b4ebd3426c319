// Package params converts an untyped URL query into typed, validated
// request parameters for one resource. Parsing is a pure transformation:
// every failure is reported before any query is compiled or executed.
package params

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tablekit/tablekit/apierr"
	"github.com/tablekit/tablekit/schema"
)

// filterPattern matches query parameters like filter[field] and
// filter[field][operator]
var filterPattern = regexp.MustCompile(`^filter\[([^\]]+)\](?:\[([^\]]+)\])?$`)

// maxPage bounds the page number so the computed OFFSET cannot overflow
const maxPage = 1_000_000

// FilterValue is one parsed filter: an operator plus its typed value.
// Multi-valued operators carry a []string, null checks carry nil.
type FilterValue struct {
	Operator schema.Operator
	Value    any
}

// Params holds the validated parameters of one request. A Params value is
// created fresh per request and never shared.
type Params struct {
	Page     int
	PageSize int

	Sort    []schema.SortField
	Search  string
	Filters map[string]FilterValue

	Select  []string
	GroupBy []string

	Distinct       bool
	IncludeDeleted bool

	Cursor string
	Export schema.ExportFormat
}

// ParseRequest parses the query string of an HTTP request
func ParseRequest(resource *schema.Resource, r *http.Request) (*Params, error) {
	return Parse(resource, r.URL.Query())
}

// Parse converts url.Values into Params, validating every field reference
// against the resource's capabilities
func Parse(resource *schema.Resource, values url.Values) (*Params, error) {
	p := &Params{
		Page:     1,
		PageSize: resource.Pagination.DefaultPageSize,
		Filters:  make(map[string]FilterValue),
	}

	if err := parsePagination(resource, values, p); err != nil {
		return nil, err
	}
	if err := parseSort(resource, values.Get("sort"), p); err != nil {
		return nil, err
	}
	if err := parseFilters(resource, values, p); err != nil {
		return nil, err
	}
	if err := parseSelect(resource, values.Get("select"), p); err != nil {
		return nil, err
	}
	if err := parseGroupBy(resource, values.Get("groupBy"), p); err != nil {
		return nil, err
	}
	if err := parseExport(resource, values.Get("export"), p); err != nil {
		return nil, err
	}

	p.Search = strings.TrimSpace(values.Get("search"))
	p.Distinct = parseBool(values.Get("distinct"))
	p.IncludeDeleted = parseBool(values.Get("includeDeleted"))
	p.Cursor = values.Get("cursor")

	return p, nil
}

func parsePagination(resource *schema.Resource, values url.Values, p *Params) error {
	if raw := values.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return apierr.NewValidation("page", "must be an integer, got %q", raw)
		}
		if page < 1 {
			page = 1
		}
		// keep (page-1)*pageSize well inside integer range
		if page > maxPage {
			page = maxPage
		}
		p.Page = page
	}

	if raw := values.Get("pageSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return apierr.NewValidation("pageSize", "must be an integer, got %q", raw)
		}
		p.PageSize = size
	}

	// out-of-range sizes clamp silently rather than failing the request
	if p.PageSize < 1 {
		p.PageSize = 1
	}
	if max := resource.Pagination.MaxPageSize; max > 0 && p.PageSize > max {
		p.PageSize = max
	}
	return nil
}

// parseSort handles sort=field,-other with "-" marking descending order.
// Every field must be sortable per the resource, including the derived rule
// that non-scalar subqueries never sort.
func parseSort(resource *schema.Resource, raw string, p *Params) error {
	if raw == "" {
		return nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field := part
		desc := false
		if strings.HasPrefix(part, "-") {
			field = part[1:]
			desc = true
		}
		if !resource.HasColumn(field) {
			return apierr.NewValidation(field, "unknown sort field %q", field)
		}
		if !resource.IsSortable(field) {
			return apierr.NewValidation(field, "field %q is not sortable", field)
		}
		p.Sort = append(p.Sort, schema.SortField{Field: field, Desc: desc})
	}
	return nil
}

func parseFilters(resource *schema.Resource, values url.Values, p *Params) error {
	staticFields := resource.StaticFilterFields()

	for key, raw := range values {
		matches := filterPattern.FindStringSubmatch(key)
		if matches == nil || len(raw) == 0 {
			continue
		}
		field := matches[1]

		// filters on statically-locked fields are dropped, not rejected:
		// clients cannot know which filters are static
		if staticFields[field] {
			continue
		}

		col := resource.Column(field)
		if col == nil {
			return apierr.NewValidation(field, "unknown filter field %q", field)
		}
		if !col.Filterable {
			return apierr.NewValidation(field, "field %q is not filterable", field)
		}

		op := schema.OpEq
		if matches[2] != "" {
			parsed, err := schema.ParseOperator(matches[2])
			if err != nil {
				return apierr.NewValidation(field, "unsupported operator %q", matches[2])
			}
			op = parsed
		}
		if !schema.TypeSupports(col.Type, op) {
			return apierr.NewValidation(field, "operator %q is not supported for %s fields", op, col.Type)
		}

		p.Filters[field] = FilterValue{Operator: op, Value: filterValue(op, raw[0])}
	}
	return nil
}

func filterValue(op schema.Operator, raw string) any {
	switch {
	case op.IsNullCheck():
		return nil
	case op.IsMulti():
		parts := strings.Split(raw, ",")
		values := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				values = append(values, trimmed)
			}
		}
		return values
	default:
		return raw
	}
}

func parseSelect(resource *schema.Resource, raw string, p *Params) error {
	if raw == "" {
		return nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		col := resource.Column(part)
		if col == nil || col.Hidden {
			return apierr.NewValidation(part, "unknown select field %q", part)
		}
		p.Select = append(p.Select, part)
	}
	return nil
}

func parseGroupBy(resource *schema.Resource, raw string, p *Params) error {
	if raw == "" {
		return nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !resource.IsGroupable(part) {
			return apierr.NewValidation(part, "field %q is not groupable", part)
		}
		p.GroupBy = append(p.GroupBy, part)
	}
	return nil
}

func parseExport(resource *schema.Resource, raw string, p *Params) error {
	if raw == "" {
		return nil
	}
	format := schema.ExportFormat(raw)
	if !resource.Export.Enabled {
		return apierr.NewValidation("export", "export is not enabled for resource %s", resource.Name)
	}
	for _, allowed := range resource.Export.Formats {
		if format == allowed {
			p.Export = format
			return nil
		}
	}
	return apierr.NewValidation("export", "unsupported export format %q", raw)
}

func parseBool(raw string) bool {
	return raw == "true" || raw == "1"
}

package engine

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/tablekit/tablekit/apierr"
	"github.com/tablekit/tablekit/params"
	"github.com/tablekit/tablekit/schema"
)

// compiler turns one resource plus parsed parameters into SQL. It is
// request-scoped and stateless: all configuration comes from the immutable
// Resource, all variability from Params and RequestContext.
type compiler struct {
	resource *schema.Resource
	dialect  Dialect
}

// compiled is one executable statement
type compiled struct {
	SQL  string
	Args []any
}

// columnRef resolves a validated field name to a qualified SQL reference.
// Computed columns resolve to their build-time expression; request input
// never reaches this path.
func (c *compiler) columnRef(field string) string {
	if cc := c.resource.Computed(field); cc != nil {
		return "(" + cc.Expression + ")"
	}
	if sq := c.resource.Subquery(field); sq != nil {
		return c.subqueryExpr(sq)
	}
	col := c.resource.Column(field)
	if col != nil && col.Source == schema.SourceJoin {
		return col.JoinTable + "." + field
	}
	return c.resource.Table + "." + field
}

// subqueryExpr renders a correlated subquery projection. Shapes are fixed
// per kind; the correlation clause was validated at config-build time.
func (c *compiler) subqueryExpr(sq *schema.Subquery) string {
	switch sq.Kind {
	case schema.SubqueryCount:
		return fmt.Sprintf("(SELECT COUNT(*) FROM %s WHERE %s)", sq.Table, sq.Correlation)
	case schema.SubqueryExists:
		return fmt.Sprintf("(SELECT EXISTS (SELECT 1 FROM %s WHERE %s))", sq.Table, sq.Correlation)
	case schema.SubquerySum:
		return fmt.Sprintf("(SELECT COALESCE(SUM(%s), 0) FROM %s WHERE %s)", sq.ValueColumn, sq.Table, sq.Correlation)
	case schema.SubqueryAvg:
		return fmt.Sprintf("(SELECT AVG(%s) FROM %s WHERE %s)", sq.ValueColumn, sq.Table, sq.Correlation)
	case schema.SubqueryFirst:
		return c.dialect.firstRowExpr(sq.Table, sq.Correlation, sq.ValueColumn)
	default:
		return "NULL"
	}
}

// selectList builds the projection: base columns, join-selected columns,
// computed expressions, and subquery expressions, restricted to the
// request's selection and excluding hidden columns
func (c *compiler) selectList(p *params.Params) []string {
	selected := func(name string) bool {
		if len(p.Select) == 0 {
			return true
		}
		for _, s := range p.Select {
			if s == name {
				return true
			}
		}
		return false
	}

	list := make([]string, 0, len(c.resource.Columns))
	for _, col := range c.resource.Columns {
		if col.Hidden || !selected(col.Name) {
			continue
		}
		switch col.Source {
		case schema.SourceJoin:
			list = append(list, fmt.Sprintf("%s.%s AS %s", col.JoinTable, col.Name, col.Name))
		case schema.SourceComputed:
			if cc := c.resource.Computed(col.Name); cc != nil {
				list = append(list, fmt.Sprintf("(%s) AS %s", cc.Expression, col.Name))
			}
		case schema.SourceSubquery:
			if sq := c.resource.Subquery(col.Name); sq != nil {
				list = append(list, fmt.Sprintf("%s AS %s", c.subqueryExpr(sq), col.Name))
			}
		default:
			list = append(list, fmt.Sprintf("%s.%s", c.resource.Table, col.Name))
		}
	}
	return list
}

// joinSQL renders all configured joins. Joins are always present,
// independent of which filters a request carries.
func (c *compiler) joinSQL() string {
	var b strings.Builder
	for _, j := range c.resource.Joins {
		fmt.Fprintf(&b, " LEFT JOIN %s AS %s ON %s", j.Table, j.Alias, j.On)
	}
	return b.String()
}

// predicates composes the WHERE conditions in the fixed order: static
// filters, tenant isolation, soft delete, request filters, search. Each
// step adds conditions; none replaces an earlier step.
func (c *compiler) predicates(p *params.Params, rc *RequestContext) ([]condition, error) {
	var conds []condition

	for _, sf := range c.resource.StaticFilters {
		conds = append(conds, condition{
			Ref:      c.columnRef(sf.Field),
			Operator: schema.Operator(sf.Operator),
			Value:    sf.Value,
		})
	}

	if field := c.resource.TenantField; field != "" {
		if rc == nil || rc.TenantID == "" {
			return nil, fmt.Errorf("resource %s: tenant field %s configured but request context carries no tenant id",
				c.resource.Name, field)
		}
		conds = append(conds, condition{
			Ref:      c.columnRef(field),
			Operator: schema.OpEq,
			Value:    rc.TenantID,
		})
	}

	if sd := c.resource.SoftDelete; sd != nil && !p.IncludeDeleted {
		conds = append(conds, condition{
			Ref:      c.columnRef(sd.Field),
			Operator: schema.OpIsNull,
		})
	}

	// stable field order keeps compiled SQL deterministic for identical
	// parameter sets
	fields := make([]string, 0, len(p.Filters))
	for field := range p.Filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		fv := p.Filters[field]
		conds = append(conds, condition{
			Ref:      c.columnRef(field),
			Operator: fv.Operator,
			Value:    fv.Value,
		})
	}

	if p.Search != "" && c.resource.Search.Enabled {
		group := make([]condition, 0, len(c.resource.Search.Fields))
		for _, field := range c.resource.Search.Fields {
			group = append(group, condition{
				Ref:      c.columnRef(field),
				Operator: schema.OpContains,
				Value:    p.Search,
			})
		}
		if len(group) > 0 {
			conds = append(conds, condition{OrGroup: group})
		}
	}

	return conds, nil
}

// sortOrder resolves the effective sort: the request's validated sort, the
// configured default, and finally the primary key so pagination stays
// deterministic across pages
func (c *compiler) sortOrder(p *params.Params) []schema.SortField {
	order := p.Sort
	if len(order) == 0 {
		order = c.resource.DefaultSort
	}
	pk := c.resource.PrimaryKey
	for _, s := range order {
		if s.Field == pk {
			return order
		}
	}
	return append(append([]schema.SortField{}, order...), schema.SortField{Field: pk})
}

func (c *compiler) orderSQL(order []schema.SortField) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, s := range order {
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts[i] = c.columnRef(s.Field) + " " + dir
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// buildQuery compiles the main row query: projection, joins, composed
// predicates, sort, and limit/offset or cursor pagination
func (c *compiler) buildQuery(p *params.Params, rc *RequestContext, paginate bool) (*compiled, error) {
	conds, err := c.predicates(p, rc)
	if err != nil {
		return nil, err
	}

	useCursor := paginate && p.Cursor != ""
	if useCursor {
		value, err := decodeCursor(p.Cursor)
		if err != nil {
			return nil, apierr.NewValidation("cursor", "malformed cursor token")
		}
		conds = append(conds, condition{
			Ref:      c.columnRef(c.resource.PrimaryKey),
			Operator: schema.OpGt,
			Value:    value,
		})
	}

	r := newRenderer(c.dialect)
	where, err := r.whereSQL(conds)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if p.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(c.selectList(p), ", "))
	fmt.Fprintf(&b, " FROM %s", c.resource.Table)
	b.WriteString(c.joinSQL())
	b.WriteString(where)

	if useCursor {
		// cursor pagination orders by the key it seeks on
		b.WriteString(c.orderSQL([]schema.SortField{{Field: c.resource.PrimaryKey}}))
		fmt.Fprintf(&b, " LIMIT %s", r.bind(p.PageSize))
	} else {
		b.WriteString(c.orderSQL(c.sortOrder(p)))
		if paginate {
			fmt.Fprintf(&b, " LIMIT %s", r.bind(p.PageSize))
			fmt.Fprintf(&b, " OFFSET %s", r.bind((p.Page-1)*p.PageSize))
		}
	}

	return &compiled{SQL: b.String(), Args: r.args}, nil
}

// buildCount compiles the exact count query over the same predicate set as
// the main query, without ordering or pagination
func (c *compiler) buildCount(p *params.Params, rc *RequestContext) (*compiled, error) {
	conds, err := c.predicates(p, rc)
	if err != nil {
		return nil, err
	}
	r := newRenderer(c.dialect)
	where, err := r.whereSQL(conds)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT COUNT(*) FROM %s", c.resource.Table)
	b.WriteString(c.joinSQL())
	b.WriteString(where)
	return &compiled{SQL: b.String(), Args: r.args}, nil
}

// buildGrouped compiles the grouped variant: the projection becomes the
// validated group fields plus configured aggregations; predicate
// composition is unchanged
func (c *compiler) buildGrouped(p *params.Params, rc *RequestContext, paginate bool) (*compiled, error) {
	if len(p.GroupBy) == 0 {
		return nil, apierr.NewValidation("groupBy", "grouped query requires at least one groupBy field")
	}

	conds, err := c.predicates(p, rc)
	if err != nil {
		return nil, err
	}
	r := newRenderer(c.dialect)
	where, err := r.whereSQL(conds)
	if err != nil {
		return nil, err
	}

	refs := make([]string, 0, len(p.GroupBy))
	projection := make([]string, 0, len(p.GroupBy)+len(c.resource.Aggregations))
	for _, field := range p.GroupBy {
		ref := c.columnRef(field)
		refs = append(refs, ref)
		projection = append(projection, fmt.Sprintf("%s AS %s", ref, field))
	}
	for _, agg := range c.resource.Aggregations {
		projection = append(projection, fmt.Sprintf("%s AS %s", c.aggregateExpr(agg), agg.Alias))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(projection, ", "))
	fmt.Fprintf(&b, " FROM %s", c.resource.Table)
	b.WriteString(c.joinSQL())
	b.WriteString(where)
	b.WriteString(" GROUP BY " + strings.Join(refs, ", "))
	if paginate {
		b.WriteString(" ORDER BY " + strings.Join(refs, ", "))
		fmt.Fprintf(&b, " LIMIT %s OFFSET %s", r.bind(p.PageSize), r.bind((p.Page-1)*p.PageSize))
	}

	return &compiled{SQL: b.String(), Args: r.args}, nil
}

// buildGroupedCount counts the distinct groups the grouped query produces
// so pagination metadata reflects all groups, not just the current page
func (c *compiler) buildGroupedCount(p *params.Params, rc *RequestContext) (*compiled, error) {
	q, err := c.buildGrouped(p, rc, false)
	if err != nil {
		return nil, err
	}
	return &compiled{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS grouped", q.SQL),
		Args: q.Args,
	}, nil
}

func (c *compiler) aggregateExpr(agg *schema.Aggregation) string {
	switch agg.Type {
	case schema.AggCount:
		return "COUNT(*)"
	case schema.AggSum:
		return fmt.Sprintf("SUM(%s)", c.columnRef(agg.Field))
	case schema.AggAvg:
		return fmt.Sprintf("AVG(%s)", c.columnRef(agg.Field))
	case schema.AggMin:
		return fmt.Sprintf("MIN(%s)", c.columnRef(agg.Field))
	case schema.AggMax:
		return fmt.Sprintf("MAX(%s)", c.columnRef(agg.Field))
	default:
		return "NULL"
	}
}

// buildRecursive compiles the hierarchical variant as a recursive CTE. The
// full predicate set applies to the anchor and to every traversed child so
// tenant isolation and soft delete hold at every depth; anchors are the
// roots of the hierarchy. Only base columns are projected from the
// traversal.
func (c *compiler) buildRecursive(p *params.Params, rc *RequestContext) (*compiled, error) {
	cte, r, outCols, err := c.recursiveCTE(p, rc)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(cte)
	fmt.Fprintf(&b, " SELECT %s, tree.depth FROM tree ORDER BY tree.depth, tree.%s",
		strings.Join(outCols, ", "), c.resource.PrimaryKey)
	fmt.Fprintf(&b, " LIMIT %s OFFSET %s", r.bind(p.PageSize), r.bind((p.Page-1)*p.PageSize))

	return &compiled{SQL: b.String(), Args: r.args}, nil
}

// buildRecursiveCount counts every row the traversal reaches, sharing the
// CTE with buildRecursive
func (c *compiler) buildRecursiveCount(p *params.Params, rc *RequestContext) (*compiled, error) {
	cte, r, _, err := c.recursiveCTE(p, rc)
	if err != nil {
		return nil, err
	}
	return &compiled{SQL: cte + " SELECT COUNT(*) FROM tree", Args: r.args}, nil
}

// recursiveCTE renders the shared WITH RECURSIVE prefix and returns the
// renderer so callers can keep binding in sequence
func (c *compiler) recursiveCTE(p *params.Params, rc *RequestContext) (string, *renderer, []string, error) {
	rec := c.resource.Recursive
	if rec == nil || !rec.Enabled {
		return "", nil, nil, apierr.NewValidation("recursive", "resource %s does not support recursive queries", c.resource.Name)
	}

	conds, err := c.predicates(p, rc)
	if err != nil {
		return "", nil, nil, err
	}

	table := c.resource.Table
	pk := c.resource.PrimaryKey

	r := newRenderer(c.dialect)
	anchorWhere, err := r.whereSQL(append([]condition{
		{Ref: c.columnRef(rec.ParentField), Operator: schema.OpIsNull},
	}, conds...))
	if err != nil {
		return "", nil, nil, err
	}

	// the recursive member joins back through the parent column; the same
	// predicate set applies in its WHERE clause
	childWhere, err := r.whereSQL(conds)
	if err != nil {
		return "", nil, nil, err
	}
	childJoin := fmt.Sprintf("%s.%s = tree.%s", table, rec.ParentField, pk)

	baseCols := make([]string, 0, len(c.resource.Columns))
	outCols := make([]string, 0, len(c.resource.Columns))
	for _, col := range c.resource.Columns {
		if col.Source != schema.SourceBase || col.Hidden {
			continue
		}
		baseCols = append(baseCols, fmt.Sprintf("%s.%s", table, col.Name))
		outCols = append(outCols, "tree."+col.Name)
	}
	cols := strings.Join(baseCols, ", ")

	var b strings.Builder
	fmt.Fprintf(&b, "WITH RECURSIVE tree AS (SELECT %s, 0 AS depth FROM %s%s", cols, table, anchorWhere)
	fmt.Fprintf(&b, " UNION ALL SELECT %s, tree.depth + 1 FROM %s JOIN tree ON %s%s)",
		cols, table, childJoin, childWhere)
	return b.String(), r, outCols, nil
}

// encodeCursor produces the opaque token for the last primary-key value of
// a page
func encodeCursor(value any) string {
	return base64.URLEncoding.EncodeToString([]byte(fmt.Sprintf("%v", value)))
}

// decodeCursor reverses encodeCursor
func decodeCursor(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

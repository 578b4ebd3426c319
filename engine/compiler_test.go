package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablekit/tablekit/params"
	"github.com/tablekit/tablekit/schema"
)

// ordersResource exercises every predicate source: static filter, tenant
// isolation, soft delete, dynamic filters, and search.
func ordersResource(t *testing.T) *schema.Resource {
	t.Helper()
	r, err := schema.NewBuilder("orders", "orders").
		Column("id", schema.TypeUUID).
		Column("status", schema.TypeString).
		Column("total", schema.TypeDecimal).
		Join("customers", "c", "orders.customer_id = c.id", "customerName").
		Computed("totalWithTax", "orders.total * 1.2", schema.TypeFloat).
		Subquery("itemCount", "order_items", schema.SubqueryCount, "order_items.order_id = orders.id").
		StaticFilter("archived", "eq", false).
		Tenant("org_id").
		SoftDelete("deleted_at").
		Search("status", "customerName").
		Groupable("status").
		Aggregate("orderCount", schema.AggCount, "").
		Aggregate("revenue", schema.AggSum, "total").
		ToResource()
	require.NoError(t, err)
	return r
}

func defaultParams(r *schema.Resource) *params.Params {
	return &params.Params{
		Page:     1,
		PageSize: r.Pagination.DefaultPageSize,
		Filters:  make(map[string]params.FilterValue),
	}
}

func TestBuildQueryComposesPredicatesInOrder(t *testing.T) {
	r := ordersResource(t)
	c := &compiler{resource: r, dialect: DialectPostgres}

	q, err := c.buildQuery(defaultParams(r), &RequestContext{TenantID: "t1"}, true)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT orders.id, orders.status, orders.total, c.customerName AS customerName, "+
			"(orders.total * 1.2) AS totalWithTax, "+
			"(SELECT COUNT(*) FROM order_items WHERE order_items.order_id = orders.id) AS itemCount "+
			"FROM orders LEFT JOIN customers AS c ON orders.customer_id = c.id "+
			"WHERE orders.archived = $1 AND orders.org_id = $2 AND orders.deleted_at IS NULL "+
			"ORDER BY orders.id ASC LIMIT $3 OFFSET $4",
		q.SQL)
	assert.Equal(t, []any{false, "t1", 25, 0}, q.Args)
}

func TestBuildQueryDynamicFiltersSortedAfterFixedPredicates(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.Filters["total"] = params.FilterValue{Operator: schema.OpGte, Value: "100"}
	p.Filters["status"] = params.FilterValue{Operator: schema.OpIn, Value: []string{"shipped", "pending"}}
	p.Search = "acme"

	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildQuery(p, &RequestContext{TenantID: "t1"}, true)
	require.NoError(t, err)

	assert.Contains(t, q.SQL,
		"WHERE orders.archived = $1 AND orders.org_id = $2 AND orders.deleted_at IS NULL "+
			"AND orders.status IN ($3, $4) AND orders.total >= $5 "+
			`AND (orders.status ILIKE $6 ESCAPE '\' OR c.customerName ILIKE $7 ESCAPE '\')`)
	assert.Equal(t, []any{false, "t1", "shipped", "pending", "100", "%acme%", "%acme%"}, q.Args[:7])
}

func TestBuildQueryContainsEscapesLikeMetacharacters(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.Filters["status"] = params.FilterValue{Operator: schema.OpContains, Value: "50%_off"}

	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildQuery(p, &RequestContext{TenantID: "t1"}, true)
	require.NoError(t, err)

	// The wildcard sentinels stay, user metacharacters become literals.
	assert.Contains(t, q.Args, `%50\%\_off%`)
	assert.NotContains(t, q.Args, "%50%_off%")
	assert.Contains(t, q.SQL, `ESCAPE '\'`)
}

func TestBuildQuerySearchEscapesLikeMetacharacters(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.Search = `back\slash_and%`

	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildQuery(p, &RequestContext{TenantID: "t1"}, true)
	require.NoError(t, err)
	assert.Contains(t, q.Args, `%back\\slash\_and\%%`)
}

func TestBuildQueryIncludeDeletedSkipsSoftDelete(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.IncludeDeleted = true

	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildQuery(p, &RequestContext{TenantID: "t1"}, true)
	require.NoError(t, err)
	assert.NotContains(t, q.SQL, "deleted_at")
}

func TestBuildQueryTenantRequired(t *testing.T) {
	r := ordersResource(t)
	c := &compiler{resource: r, dialect: DialectPostgres}

	_, err := c.buildQuery(defaultParams(r), nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tenant id")

	_, err = c.buildQuery(defaultParams(r), &RequestContext{}, true)
	require.Error(t, err)
}

func TestBuildQuerySortWithPrimaryKeyTiebreaker(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.Sort = []schema.SortField{{Field: "itemCount", Desc: true}}

	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildQuery(p, &RequestContext{TenantID: "t1"}, true)
	require.NoError(t, err)
	assert.Contains(t, q.SQL,
		"ORDER BY (SELECT COUNT(*) FROM order_items WHERE order_items.order_id = orders.id) DESC, orders.id ASC")
}

func TestBuildQuerySelectRestrictsProjection(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.Select = []string{"id", "status"}

	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildQuery(p, &RequestContext{TenantID: "t1"}, true)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "SELECT orders.id, orders.status FROM orders")
	assert.NotContains(t, q.SQL, "totalWithTax")
}

func TestBuildQueryDistinct(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.Distinct = true

	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildQuery(p, &RequestContext{TenantID: "t1"}, true)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "SELECT DISTINCT orders.id")
}

func TestBuildQueryCursorPagination(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.Cursor = encodeCursor("abc-123")

	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildQuery(p, &RequestContext{TenantID: "t1"}, true)
	require.NoError(t, err)

	assert.Contains(t, q.SQL, "orders.id > $3")
	assert.Contains(t, q.SQL, "ORDER BY orders.id ASC LIMIT $4")
	assert.NotContains(t, q.SQL, "OFFSET")
	assert.Contains(t, q.Args, "abc-123")
}

func TestBuildQueryMalformedCursor(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.Cursor = "not!base64!"

	c := &compiler{resource: r, dialect: DialectPostgres}
	_, err := c.buildQuery(p, &RequestContext{TenantID: "t1"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed cursor")
}

func TestBuildQuerySQLiteDialect(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.Search = "acme"

	c := &compiler{resource: r, dialect: DialectSQLite}
	q, err := c.buildQuery(p, &RequestContext{TenantID: "t1"}, true)
	require.NoError(t, err)

	assert.NotContains(t, q.SQL, "$1")
	assert.Contains(t, q.SQL, "orders.archived = ?")
	assert.Contains(t, q.SQL, `LOWER(orders.status) LIKE ? ESCAPE '\'`)
	assert.NotContains(t, q.SQL, "ILIKE")
}

func TestBuildCountSharesPredicates(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.Filters["status"] = params.FilterValue{Operator: schema.OpEq, Value: "shipped"}

	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildCount(p, &RequestContext{TenantID: "t1"})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT COUNT(*) FROM orders LEFT JOIN customers AS c ON orders.customer_id = c.id "+
			"WHERE orders.archived = $1 AND orders.org_id = $2 AND orders.deleted_at IS NULL AND orders.status = $3",
		q.SQL)
	assert.NotContains(t, q.SQL, "ORDER BY")
	assert.NotContains(t, q.SQL, "LIMIT")
}

func TestBuildGrouped(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.GroupBy = []string{"status"}

	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildGrouped(p, &RequestContext{TenantID: "t1"}, true)
	require.NoError(t, err)

	assert.Contains(t, q.SQL, "SELECT orders.status AS status, COUNT(*) AS orderCount, SUM(orders.total) AS revenue")
	assert.Contains(t, q.SQL, "GROUP BY orders.status")
	assert.Contains(t, q.SQL, "ORDER BY orders.status")
}

func TestBuildGroupedRequiresGroupBy(t *testing.T) {
	r := ordersResource(t)
	c := &compiler{resource: r, dialect: DialectPostgres}

	_, err := c.buildGrouped(defaultParams(r), &RequestContext{TenantID: "t1"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one groupBy field")
}

func TestBuildGroupedCountWrapsUnpaginatedGroups(t *testing.T) {
	r := ordersResource(t)
	p := defaultParams(r)
	p.GroupBy = []string{"status"}

	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildGroupedCount(p, &RequestContext{TenantID: "t1"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(q.SQL, "SELECT COUNT(*) FROM (SELECT "))
	assert.Contains(t, q.SQL, "GROUP BY orders.status) AS grouped")
	assert.NotContains(t, q.SQL, "LIMIT")
	assert.NotContains(t, q.SQL, "OFFSET")
}

func TestBuildRecursive(t *testing.T) {
	r, err := schema.NewBuilder("categories", "categories").
		Column("id", schema.TypeUUID).
		Column("name", schema.TypeString).
		Column("parent_id", schema.TypeUUID).
		Tenant("org_id").
		RecursiveOn("parent_id").
		ToResource()
	require.NoError(t, err)

	p := &params.Params{Page: 1, PageSize: 25, Filters: make(map[string]params.FilterValue)}
	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildRecursive(p, &RequestContext{TenantID: "t1"})
	require.NoError(t, err)

	assert.Contains(t, q.SQL, "WITH RECURSIVE tree AS (")
	assert.Contains(t, q.SQL, "categories.parent_id IS NULL AND categories.org_id = $1")
	assert.Contains(t, q.SQL, "UNION ALL")
	assert.Contains(t, q.SQL, "JOIN tree ON categories.parent_id = tree.id WHERE categories.org_id = $2")
	assert.Contains(t, q.SQL, "ORDER BY tree.depth, tree.id")
}

func TestBuildRecursiveCountSharesCTE(t *testing.T) {
	r, err := schema.NewBuilder("categories", "categories").
		Column("id", schema.TypeUUID).
		Column("name", schema.TypeString).
		Column("parent_id", schema.TypeUUID).
		Tenant("org_id").
		RecursiveOn("parent_id").
		ToResource()
	require.NoError(t, err)

	p := &params.Params{Page: 1, PageSize: 25, Filters: make(map[string]params.FilterValue)}
	c := &compiler{resource: r, dialect: DialectPostgres}
	q, err := c.buildRecursiveCount(p, &RequestContext{TenantID: "t1"})
	require.NoError(t, err)

	assert.Contains(t, q.SQL, "WITH RECURSIVE tree AS (")
	assert.True(t, strings.HasSuffix(q.SQL, " SELECT COUNT(*) FROM tree"))
	assert.Equal(t, []any{"t1", "t1"}, q.Args)
}

func TestBuildRecursiveNotConfigured(t *testing.T) {
	r := ordersResource(t)
	c := &compiler{resource: r, dialect: DialectPostgres}

	_, err := c.buildRecursive(defaultParams(r), &RequestContext{TenantID: "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support recursive")
}

func TestConditionEmptyInListCollapses(t *testing.T) {
	r := newRenderer(DialectPostgres)
	sql, err := r.conditionSQL(condition{Ref: "t.status", Operator: schema.OpIn, Value: []string{}})
	require.NoError(t, err)
	assert.Equal(t, "FALSE", sql)

	sql, err = r.conditionSQL(condition{Ref: "t.status", Operator: schema.OpNotIn, Value: []string{}})
	require.NoError(t, err)
	assert.Equal(t, "TRUE", sql)
}

func TestCursorRoundTrip(t *testing.T) {
	token := encodeCursor("row-42")
	value, err := decodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "row-42", value)
}

package engine

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/tablekit/tablekit/apierr"
	"github.com/tablekit/tablekit/params"
	"github.com/tablekit/tablekit/schema"
)

// Meta is the pagination and aggregation metadata returned with every row
// set
type Meta struct {
	Page           int                `json:"page"`
	PageSize       int                `json:"pageSize"`
	Total          int64              `json:"total"`
	TotalEstimated bool               `json:"totalEstimated,omitempty"`
	TotalPages     int                `json:"totalPages"`
	Sort           []schema.SortField `json:"sort,omitempty"`
	NextCursor     string             `json:"nextCursor,omitempty"`
}

// Result is the outcome of a row query
type Result struct {
	Data []map[string]any `json:"data"`
	Meta Meta             `json:"meta"`
}

// CountResult is the outcome of a count query. Estimated is true when the
// total comes from the storage engine's approximate estimator rather than
// an exact count.
type CountResult struct {
	Total     int64 `json:"total"`
	Estimated bool  `json:"estimated"`
}

// ExportResult is a serialized export payload
type ExportResult struct {
	Format      schema.ExportFormat `json:"format"`
	Filename    string              `json:"filename"`
	ContentType string              `json:"contentType"`
	Payload     []byte              `json:"payload"`
}

// Executor is the operation surface shared by the engine and its cache
// decorator
type Executor interface {
	Query(ctx context.Context, resource string, p *params.Params, rc *RequestContext) (*Result, error)
	QueryGrouped(ctx context.Context, resource string, p *params.Params, rc *RequestContext) (*Result, error)
	QueryRecursive(ctx context.Context, resource string, p *params.Params, rc *RequestContext) (*Result, error)
	Count(ctx context.Context, resource string, p *params.Params, rc *RequestContext) (*CountResult, error)
	Export(ctx context.Context, resource string, p *params.Params, rc *RequestContext) (*ExportResult, error)
}

// Config holds engine configuration
type Config struct {
	// Dialect selects the SQL variant (default: postgres)
	Dialect Dialect
	// Logger receives query debug logging (default: no-op)
	Logger *zap.Logger
	// AccessPolicy overrides the default role-intersection check
	AccessPolicy AccessPolicy
	// EstimateThreshold is the row-count estimate below which estimated
	// count mode falls back to an exact count
	EstimateThreshold int64
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() Config {
	return Config{
		Dialect:           DialectPostgres,
		Logger:            zap.NewNop(),
		AccessPolicy:      CheckAccess,
		EstimateThreshold: 10000,
	}
}

// Engine executes queries for registered resources. It is stateless
// between requests; the registry and resources it reads are immutable.
type Engine struct {
	db       *sql.DB
	registry *schema.Registry
	config   Config
	logger   *zap.Logger
}

// New creates an engine with default configuration
func New(db *sql.DB, registry *schema.Registry) *Engine {
	return NewWithConfig(db, registry, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration
func NewWithConfig(db *sql.DB, registry *schema.Registry, config Config) *Engine {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.AccessPolicy == nil {
		config.AccessPolicy = CheckAccess
	}
	return &Engine{
		db:       db,
		registry: registry,
		config:   config,
		logger:   config.Logger,
	}
}

// Resource resolves a resource by name
func (e *Engine) Resource(name string) (*schema.Resource, error) {
	resource, ok := e.registry.Get(name)
	if !ok {
		return nil, &apierr.NotFoundError{Resource: name}
	}
	return resource, nil
}

// guard resolves the resource and applies access control before any SQL is
// built
func (e *Engine) guard(name string, rc *RequestContext) (*schema.Resource, error) {
	resource, err := e.Resource(name)
	if err != nil {
		return nil, err
	}
	if !e.config.AccessPolicy(resource, rc) {
		return nil, &apierr.ForbiddenError{Resource: name}
	}
	return resource, nil
}

// Query runs the main row query plus a count query and returns rows with
// pagination metadata
func (e *Engine) Query(ctx context.Context, name string, p *params.Params, rc *RequestContext) (*Result, error) {
	resource, err := e.guard(name, rc)
	if err != nil {
		return nil, err
	}
	c := &compiler{resource: resource, dialect: e.config.Dialect}

	q, err := c.buildQuery(p, rc, true)
	if err != nil {
		return nil, err
	}
	rows, err := e.queryRows(ctx, "query", q)
	if err != nil {
		return nil, err
	}

	count, err := e.count(ctx, resource, c, p, rc)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Data: rows,
		Meta: Meta{
			Page:           p.Page,
			PageSize:       p.PageSize,
			Total:          count.Total,
			TotalEstimated: count.Estimated,
			TotalPages:     totalPages(count.Total, p.PageSize),
			Sort:           p.Sort,
		},
	}
	if p.Cursor != "" || len(rows) == p.PageSize {
		if len(rows) > 0 {
			if last, ok := rows[len(rows)-1][resource.PrimaryKey]; ok {
				result.Meta.NextCursor = encodeCursor(last)
			}
		}
	}
	return result, nil
}

// QueryGrouped runs the GROUP BY variant: group fields plus configured
// aggregations over the same predicate set
func (e *Engine) QueryGrouped(ctx context.Context, name string, p *params.Params, rc *RequestContext) (*Result, error) {
	resource, err := e.guard(name, rc)
	if err != nil {
		return nil, err
	}
	c := &compiler{resource: resource, dialect: e.config.Dialect}

	q, err := c.buildGrouped(p, rc, true)
	if err != nil {
		return nil, err
	}
	rows, err := e.queryRows(ctx, "queryGrouped", q)
	if err != nil {
		return nil, err
	}

	cq, err := c.buildGroupedCount(p, rc)
	if err != nil {
		return nil, err
	}
	total, err := e.scalarCount(ctx, "countGrouped", cq)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data: rows,
		Meta: Meta{
			Page:       p.Page,
			PageSize:   p.PageSize,
			Total:      total,
			TotalPages: totalPages(total, p.PageSize),
		},
	}, nil
}

// QueryRecursive runs the hierarchical traversal variant for resources
// configured with a self-referencing parent column
func (e *Engine) QueryRecursive(ctx context.Context, name string, p *params.Params, rc *RequestContext) (*Result, error) {
	resource, err := e.guard(name, rc)
	if err != nil {
		return nil, err
	}
	c := &compiler{resource: resource, dialect: e.config.Dialect}

	q, err := c.buildRecursive(p, rc)
	if err != nil {
		return nil, err
	}
	rows, err := e.queryRows(ctx, "queryRecursive", q)
	if err != nil {
		return nil, err
	}

	cq, err := c.buildRecursiveCount(p, rc)
	if err != nil {
		return nil, err
	}
	total, err := e.scalarCount(ctx, "countRecursive", cq)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data: rows,
		Meta: Meta{
			Page:       p.Page,
			PageSize:   p.PageSize,
			Total:      total,
			TotalPages: totalPages(total, p.PageSize),
		},
	}, nil
}

// Count returns the total row count for the request's predicate set
func (e *Engine) Count(ctx context.Context, name string, p *params.Params, rc *RequestContext) (*CountResult, error) {
	resource, err := e.guard(name, rc)
	if err != nil {
		return nil, err
	}
	c := &compiler{resource: resource, dialect: e.config.Dialect}
	return e.count(ctx, resource, c, p, rc)
}

// count picks exact or estimated counting. Estimated mode reads the
// storage engine's planner estimate and falls back to an exact count when
// the estimate is below the configured threshold, where approximation
// error matters most.
func (e *Engine) count(ctx context.Context, resource *schema.Resource, c *compiler, p *params.Params, rc *RequestContext) (*CountResult, error) {
	if resource.CountMode == schema.CountEstimated && e.config.Dialect.supportsEstimatedCount() {
		var estimate int64
		err := e.db.QueryRowContext(ctx, e.config.Dialect.estimateCountSQL(), resource.Table).Scan(&estimate)
		if err != nil {
			return nil, &apierr.ExecutionError{Op: "count", Err: err}
		}
		if estimate >= e.config.EstimateThreshold {
			return &CountResult{Total: estimate, Estimated: true}, nil
		}
	}

	q, err := c.buildCount(p, rc)
	if err != nil {
		return nil, err
	}
	total, err := e.scalarCount(ctx, "count", q)
	if err != nil {
		return nil, err
	}
	return &CountResult{Total: total}, nil
}

// scalarCount executes a single-value count statement
func (e *Engine) scalarCount(ctx context.Context, op string, q *compiled) (int64, error) {
	e.logQuery(op, q)
	var total int64
	if err := e.db.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&total); err != nil {
		return 0, &apierr.ExecutionError{Op: op, Err: err}
	}
	return total, nil
}

// queryRows executes a compiled statement and scans all rows
func (e *Engine) queryRows(ctx context.Context, op string, q *compiled) ([]map[string]any, error) {
	e.logQuery(op, q)

	rows, err := e.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, &apierr.ExecutionError{Op: op, Err: err}
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, &apierr.ExecutionError{Op: op, Err: fmt.Errorf("scan: %w", err)}
	}
	return results, nil
}

func (e *Engine) logQuery(op string, q *compiled) {
	e.logger.Debug("executing query",
		zap.String("op", op),
		zap.String("sql", q.SQL),
		zap.Int("args", len(q.Args)),
	)
}

// scanRows scans SQL rows into a slice of maps
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		record := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		results = append(results, record)
	}
	return results, rows.Err()
}

func totalPages(total int64, pageSize int) int {
	if pageSize < 1 {
		return 0
	}
	pages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		pages++
	}
	return int(pages)
}

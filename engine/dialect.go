package engine

import "fmt"

// Dialect selects the SQL variant the compiler emits. The engine targets
// PostgreSQL first; SQLite is supported for local development.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// String returns the string representation of the dialect
func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite3"
	default:
		return "unknown"
	}
}

// ParseDialect converts a driver name to a Dialect
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "postgres", "pgx":
		return DialectPostgres, nil
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("unsupported dialect: %s", s)
	}
}

// placeholder renders the n-th bind placeholder
func (d Dialect) placeholder(n int) string {
	if d == DialectSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// caseInsensitiveLike renders a case-insensitive substring match against
// the given column reference. The explicit ESCAPE clause makes the bound
// pattern's backslash escapes effective on both engines.
func (d Dialect) caseInsensitiveLike(ref, placeholder string) string {
	if d == DialectSQLite {
		return fmt.Sprintf(`LOWER(%s) LIKE %s ESCAPE '\'`, ref, placeholder)
	}
	return fmt.Sprintf(`%s ILIKE %s ESCAPE '\'`, ref, placeholder)
}

// supportsEstimatedCount reports whether the storage engine exposes an
// approximate row-count estimator
func (d Dialect) supportsEstimatedCount() bool {
	return d == DialectPostgres
}

// estimateCountSQL returns the query reading the planner's row estimate for
// a table. Only valid when supportsEstimatedCount is true.
func (d Dialect) estimateCountSQL() string {
	return "SELECT COALESCE(reltuples::bigint, 0) FROM pg_class WHERE relname = $1"
}

// firstRowExpr renders a correlated first-row subquery. On PostgreSQL the
// row is projected as a single JSON value; SQLite projects the configured
// value column.
func (d Dialect) firstRowExpr(table, correlation, valueColumn string) string {
	if d == DialectSQLite {
		if valueColumn == "" {
			valueColumn = "rowid"
		}
		return fmt.Sprintf("(SELECT %s FROM %s WHERE %s LIMIT 1)", valueColumn, table, correlation)
	}
	return fmt.Sprintf("(SELECT row_to_json(sq) FROM (SELECT * FROM %s WHERE %s LIMIT 1) sq)", table, correlation)
}

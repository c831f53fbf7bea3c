package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	_ "github.com/lib/pq" // register "postgres" driver

	"dbhub/internal/core"
)

// PostgreSQL adapts the lib/pq driver to the Engine interface.
type PostgreSQL struct{}

func (PostgreSQL) Kind() core.EngineKind { return core.EnginePostgreSQL }

func (PostgreSQL) Open(ctx context.Context, cfg ConnConfig) (*Client, error) {
	params := map[string]string{
		"host":            cfg.Host,
		"port":            fmt.Sprintf("%d", cfg.Port),
		"user":            cfg.User,
		"password":        cfg.Password,
		"dbname":          cfg.Database,
		"connect_timeout": fmt.Sprintf("%d", int(cfg.ConnectTimeout.Seconds())),
		"sslmode":         "disable",
	}
	for k, v := range cfg.Options {
		params[k] = v
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, quoteConnValue(params[k])))
	}

	return openPool(ctx, "postgres", strings.Join(parts, " "), cfg.ConnectTimeout)
}

// quoteConnValue escapes a keyword/value DSN value per lib/pq rules.
func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func (PostgreSQL) Probe(ctx context.Context, c *Client) error {
	return probe(ctx, c, "SELECT 1 AS test")
}

func (PostgreSQL) IntrospectTables(ctx context.Context, c *Client, database string) ([]TableMeta, error) {
	// pg_tables carries no row or size estimates; they stay zero here, which
	// matches the catalog's role as a name/column cache.
	const q = `
		SELECT tablename, schemaname
		FROM pg_tables
		WHERE schemaname NOT IN ('information_schema', 'pg_catalog', 'pg_toast')
		ORDER BY tablename`

	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &core.ConnectionError{Op: "introspect", Cause: err}
	}
	defer rows.Close()

	var tables []TableMeta
	for rows.Next() {
		var t TableMeta
		if err := rows.Scan(&t.Name, &t.Schema); err != nil {
			return nil, &core.ConnectionError{Op: "introspect", Cause: err}
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (PostgreSQL) IntrospectColumns(ctx context.Context, c *Client, table, database string) ([]core.Column, error) {
	const q = `
		SELECT c.column_name,
		       c.data_type,
		       c.is_nullable = 'YES',
		       COALESCE(c.column_default, ''),
		       COALESCE(BOOL_OR(tc.constraint_type = 'PRIMARY KEY'), false),
		       COUNT(i.indexname) > 0,
		       COALESCE(c.character_maximum_length, 0)
		FROM information_schema.columns c
		LEFT JOIN information_schema.key_column_usage kcu
		  ON  kcu.table_schema = c.table_schema
		  AND kcu.table_name   = c.table_name
		  AND kcu.column_name  = c.column_name
		LEFT JOIN information_schema.table_constraints tc
		  ON  tc.constraint_name = kcu.constraint_name
		  AND tc.table_schema    = kcu.table_schema
		  AND tc.constraint_type = 'PRIMARY KEY'
		LEFT JOIN pg_indexes i
		  ON  i.tablename  = c.table_name
		  AND i.schemaname = c.table_schema
		  AND i.indexdef LIKE '%' || c.column_name || '%'
		WHERE c.table_name = $1
		  AND c.table_schema NOT IN ('information_schema', 'pg_catalog', 'pg_toast')
		GROUP BY c.column_name, c.data_type, c.is_nullable, c.column_default,
		         c.character_maximum_length, c.ordinal_position
		ORDER BY c.ordinal_position`

	rows, err := c.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, &core.ConnectionError{Op: "introspect", Cause: err}
	}
	defer rows.Close()

	var cols []core.Column
	for rows.Next() {
		var col core.Column
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.DefaultValue,
			&col.IsPrimary, &col.IsIndexed, &col.Length); err != nil {
			return nil, &core.ConnectionError{Op: "introspect", Cause: err}
		}
		col.Type = strings.ToUpper(col.Type)
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (PostgreSQL) Execute(ctx context.Context, c *Client, sqlText string) *ExecResult {
	return execute(ctx, c, sqlText)
}

func (PostgreSQL) LimitClause(limit int) string { return fmt.Sprintf("LIMIT %d", limit) }

func (PostgreSQL) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (PostgreSQL) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

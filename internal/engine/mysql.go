package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"dbhub/internal/core"
)

// MySQL adapts the go-sql-driver/mysql driver to the Engine interface.
type MySQL struct{}

func (MySQL) Kind() core.EngineKind { return core.EngineMySQL }

func (MySQL) Open(ctx context.Context, cfg ConnConfig) (*Client, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.Timeout = cfg.ConnectTimeout
	mc.ParseTime = true
	if len(cfg.Options) > 0 {
		mc.Params = map[string]string{}
		for k, v := range cfg.Options {
			mc.Params[k] = v
		}
	}

	return openPool(ctx, "mysql", mc.FormatDSN(), cfg.ConnectTimeout)
}

func (MySQL) Probe(ctx context.Context, c *Client) error {
	return probe(ctx, c, "SELECT 1")
}

func (MySQL) IntrospectTables(ctx context.Context, c *Client, database string) ([]TableMeta, error) {
	const q = `
		SELECT table_name,
		       table_schema,
		       COALESCE(table_rows, 0),
		       COALESCE(ROUND((data_length + index_length) / 1024 / 1024, 2), 0),
		       COALESCE(table_comment, '')
		FROM information_schema.tables
		WHERE table_schema = ?
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := c.db.QueryContext(ctx, q, database)
	if err != nil {
		return nil, &core.ConnectionError{Op: "introspect", Cause: err}
	}
	defer rows.Close()

	var tables []TableMeta
	for rows.Next() {
		var t TableMeta
		var sizeMB float64
		if err := rows.Scan(&t.Name, &t.Schema, &t.RowCount, &sizeMB, &t.Comment); err != nil {
			return nil, &core.ConnectionError{Op: "introspect", Cause: err}
		}
		t.Size = fmt.Sprintf("%.2f MB", sizeMB)
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (MySQL) IntrospectColumns(ctx context.Context, c *Client, table, database string) ([]core.Column, error) {
	const q = `
		SELECT column_name,
		       data_type,
		       is_nullable = 'YES',
		       COALESCE(column_default, ''),
		       column_key = 'PRI',
		       column_key IN ('PRI', 'UNI', 'MUL'),
		       COALESCE(character_maximum_length, 0),
		       COALESCE(column_comment, '')
		FROM information_schema.columns
		WHERE table_schema = ?
		  AND table_name   = ?
		ORDER BY ordinal_position`

	rows, err := c.db.QueryContext(ctx, q, database, table)
	if err != nil {
		return nil, &core.ConnectionError{Op: "introspect", Cause: err}
	}
	defer rows.Close()

	var cols []core.Column
	for rows.Next() {
		var col core.Column
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.DefaultValue,
			&col.IsPrimary, &col.IsIndexed, &col.Length, &col.Comment); err != nil {
			return nil, &core.ConnectionError{Op: "introspect", Cause: err}
		}
		col.Type = strings.ToUpper(col.Type)
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (MySQL) Execute(ctx context.Context, c *Client, sqlText string) *ExecResult {
	return execute(ctx, c, sqlText)
}

func (MySQL) LimitClause(limit int) string { return fmt.Sprintf("LIMIT %d", limit) }

func (MySQL) Placeholder(int) string { return "?" }

func (MySQL) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Package engine contains the per-database-type adapters and the live-handle
// registry. Everything above this package is driver-agnostic: each adapter
// normalizes its engine's result shapes at this boundary.
package engine

import (
	"context"
	"database/sql"
	"time"

	"dbhub/internal/core"
)

// ConnConfig carries the decrypted settings needed to open an engine client.
type ConnConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	Options        map[string]string
	ConnectTimeout time.Duration
}

// TableMeta is one row of an engine's table catalog.
type TableMeta struct {
	Name     string
	Schema   string
	RowCount int64
	Size     string
	Comment  string
}

// ExecResult is the normalized envelope for raw SQL execution. Engine errors
// are folded into Success/Error so a failed statement is a result, not a
// thrown error.
type ExecResult struct {
	Success      bool
	Rows         []map[string]any
	Columns      []string
	RowsAffected int
	Error        string
}

// Client is an open, pooled handle bound to one connection's credentials.
// It must not be retained by callers beyond one operation.
type Client struct {
	db *sql.DB
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Engine is the per-database-type capability set: connect, introspect,
// execute, and dialect helpers.
type Engine interface {
	Kind() core.EngineKind

	// Open builds a pooled client from the config and verifies reachability.
	// Fails with core.ConnectionError on auth or network failure.
	Open(ctx context.Context, cfg ConnConfig) (*Client, error)

	// Probe runs the engine's trivial test statement to verify the target is
	// answering queries, not just accepting TCP connections.
	Probe(ctx context.Context, c *Client) error

	// IntrospectTables lists the user tables of the target database.
	IntrospectTables(ctx context.Context, c *Client, database string) ([]TableMeta, error)

	// IntrospectColumns describes one table's columns in ordinal order, with
	// nullable/primary/index flags normalized to booleans and type names
	// upper-cased.
	IntrospectColumns(ctx context.Context, c *Client, table, database string) ([]core.Column, error)

	// Execute runs raw SQL and normalizes the result envelope.
	Execute(ctx context.Context, c *Client, sqlText string) *ExecResult

	// LimitClause renders an engine-correct LIMIT clause.
	LimitClause(limit int) string

	// Placeholder renders the n-th (1-based) positional parameter marker.
	Placeholder(n int) string

	// QuoteIdent quotes a table or column identifier.
	QuoteIdent(name string) string
}

// ForKind returns the adapter for the given engine kind, or a BadRequestError
// for anything else.
func ForKind(kind core.EngineKind) (Engine, error) {
	switch kind {
	case core.EngineMySQL:
		return MySQL{}, nil
	case core.EnginePostgreSQL:
		return PostgreSQL{}, nil
	default:
		return nil, core.BadRequestf("unsupported database engine: %s", kind)
	}
}

// collectRows drains a result set into the normalized shape: ordered column
// names and one map per row, with []byte values decoded to strings.
func collectRows(rows *sql.Rows) ([]map[string]any, []string, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				rowMap[col] = string(b)
			} else {
				rowMap[col] = values[i]
			}
		}
		out = append(out, rowMap)
	}
	return out, columns, rows.Err()
}

// execute is the shared database/sql execution path behind Engine.Execute.
func execute(ctx context.Context, c *Client, sqlText string) *ExecResult {
	rows, err := c.db.QueryContext(ctx, sqlText)
	if err != nil {
		return &ExecResult{Error: err.Error()}
	}
	defer rows.Close()

	data, columns, err := collectRows(rows)
	if err != nil {
		return &ExecResult{Error: err.Error()}
	}

	return &ExecResult{
		Success:      true,
		Rows:         data,
		Columns:      columns,
		RowsAffected: len(data),
	}
}

// probe runs an engine's trivial test statement through the client.
func probe(ctx context.Context, c *Client, probeSQL string) error {
	rows, err := c.db.QueryContext(ctx, probeSQL)
	if err != nil {
		return &core.ConnectionError{Op: "probe", Cause: err}
	}
	return rows.Close()
}

// openPool opens a database/sql pool with conservative tuning and pings it
// within the connect timeout.
func openPool(ctx context.Context, driver, dsn string, connectTimeout time.Duration) (*Client, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &core.ConnectionError{Op: "connect", Cause: err}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &core.ConnectionError{Op: "connect", Cause: err}
	}
	return &Client{db: db}, nil
}

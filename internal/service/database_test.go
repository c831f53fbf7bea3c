package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbhub/internal/core"
	"dbhub/internal/data"
	"dbhub/internal/engine"
)

// fakeEngine stands in for a live database engine. It tracks opens and
// executed statements so tests can assert what reached the wire.
type fakeEngine struct {
	openErr  error
	probeErr error

	tables       []engine.TableMeta
	columns      map[string][]core.Column
	introspected error

	exec func(sqlText string) *engine.ExecResult

	opens    int
	executed []string
}

func (f *fakeEngine) Kind() core.EngineKind { return core.EngineMySQL }

func (f *fakeEngine) Open(ctx context.Context, cfg engine.ConnConfig) (*engine.Client, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opens++
	return &engine.Client{}, nil
}

func (f *fakeEngine) Probe(ctx context.Context, c *engine.Client) error {
	return f.probeErr
}

func (f *fakeEngine) IntrospectTables(ctx context.Context, c *engine.Client, database string) ([]engine.TableMeta, error) {
	if f.introspected != nil {
		return nil, f.introspected
	}
	return f.tables, nil
}

func (f *fakeEngine) IntrospectColumns(ctx context.Context, c *engine.Client, table, database string) ([]core.Column, error) {
	if f.introspected != nil {
		return nil, f.introspected
	}
	return f.columns[table], nil
}

func (f *fakeEngine) Execute(ctx context.Context, c *engine.Client, sqlText string) *engine.ExecResult {
	f.executed = append(f.executed, sqlText)
	if f.exec != nil {
		return f.exec(sqlText)
	}
	return &engine.ExecResult{Success: true}
}

func (f *fakeEngine) LimitClause(limit int) string { return fmt.Sprintf("LIMIT %d", limit) }
func (f *fakeEngine) Placeholder(n int) string     { return fmt.Sprintf("$%d", n) }
func (f *fakeEngine) QuoteIdent(name string) string {
	return `"` + name + `"`
}

type testEnv struct {
	svc      *DatabaseService
	fake     *fakeEngine
	registry *engine.Registry
	conns    *data.ConnectionRepo
	tables   *data.TableRepo
	queries  *data.QueryRepo
	audits   *data.AuditRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := data.InitDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	crypto, err := NewEncryptionService(testKey)
	require.NoError(t, err)

	env := &testEnv{
		fake:     &fakeEngine{},
		registry: engine.NewRegistry(),
		conns:    data.NewConnectionRepo(db),
		tables:   data.NewTableRepo(db),
		queries:  data.NewQueryRepo(db),
		audits:   data.NewAuditRepo(db),
	}
	env.svc = NewDatabaseService(env.conns, env.tables, env.queries, env.audits,
		crypto, env.registry, time.Second, zerolog.Nop())
	env.svc.engineFor = func(core.EngineKind) (engine.Engine, error) { return env.fake, nil }
	return env
}

func createTestConnection(t *testing.T, env *testEnv, userID int64) *core.Connection {
	t.Helper()

	conn, err := env.svc.CreateConnection(context.Background(), userID, ConnectionSpec{
		Name:     "analytics",
		Engine:   core.EngineMySQL,
		Host:     "db.internal",
		Port:     3306,
		Database: "analytics",
		Username: "reader",
		Password: "s3cret",
	})
	require.NoError(t, err)
	return conn
}

func TestCreateConnectionEncryptsPassword(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	assert.Equal(t, core.StatusDisconnected, conn.Status)
	assert.NotEqual(t, "s3cret", conn.EncryptedPassword)

	stored, err := env.conns.GetByIDAndUser(conn.ID, 1)
	require.NoError(t, err)

	plaintext, err := env.svc.crypto.Decrypt(stored.EncryptedPassword)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plaintext)
}

func TestCreateConnectionRejectsUnknownEngine(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateConnection(context.Background(), 1, ConnectionSpec{
		Name: "bad", Engine: core.EngineKind("oracle"),
	})
	var br *core.BadRequestError
	assert.ErrorAs(t, err, &br)
}

func TestTestConnectionSuccess(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	ok, err := env.svc.TestConnection(context.Background(), 1, conn.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := env.conns.GetByIDAndUser(conn.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, core.StatusConnected, got.Status)
	assert.NotNil(t, got.LastConnected)
	assert.NotNil(t, got.LastTested)
	assert.Empty(t, got.LastError)

	// The handle is cached; a second test reuses it.
	ok, err = env.svc.TestConnection(context.Background(), 1, conn.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, env.fake.opens)
}

func TestTestConnectionFailureIsAbsorbed(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)
	env.fake.openErr = &core.ConnectionError{Op: "connect", Cause: fmt.Errorf("connection refused")}

	ok, err := env.svc.TestConnection(context.Background(), 1, conn.ID)
	require.NoError(t, err, "probe failures must not surface as errors")
	assert.False(t, ok)

	got, err := env.conns.GetByIDAndUser(conn.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, core.StatusError, got.Status)
	assert.Contains(t, got.LastError, "connection refused")

	_, cached := env.registry.Get(conn.ID)
	assert.False(t, cached, "failed handles must not be cached")
}

func TestTestConnectionEvictsStaleHandle(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	ok, err := env.svc.TestConnection(context.Background(), 1, conn.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// The cached handle stops answering.
	env.fake.probeErr = fmt.Errorf("server has gone away")

	ok, err = env.svc.TestConnection(context.Background(), 1, conn.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, cached := env.registry.Get(conn.ID)
	assert.False(t, cached, "a handle that fails its probe must be evicted")

	// Recovery: the next test reconnects from scratch.
	env.fake.probeErr = nil
	ok, err = env.svc.TestConnection(context.Background(), 1, conn.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, env.fake.opens)
}

func TestExecuteQueryBlocksMutations(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	_, err := env.svc.ExecuteQuery(context.Background(), 1, conn.ID, "DROP TABLE users", 0)
	var fb *core.ForbiddenError
	require.ErrorAs(t, err, &fb)
	assert.Equal(t, "DROP", fb.Keyword)
	assert.Empty(t, env.fake.executed, "blocked statements must never reach the engine")
}

func TestExecuteQueryAppendsLimitToSelects(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	_, err := env.svc.ExecuteQuery(context.Background(), 1, conn.ID, "SELECT * FROM orders;", 10)
	require.NoError(t, err)
	require.Len(t, env.fake.executed, 1)
	assert.Equal(t, "SELECT * FROM orders LIMIT 10", env.fake.executed[0])

	// Non-SELECT statements pass through untouched.
	_, err = env.svc.ExecuteQuery(context.Background(), 1, conn.ID, "SHOW TABLES", 10)
	require.NoError(t, err)
	assert.Equal(t, "SHOW TABLES", env.fake.executed[1])

	// No limit requested: SELECT passes through untouched.
	_, err = env.svc.ExecuteQuery(context.Background(), 1, conn.ID, "SELECT 1", 0)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", env.fake.executed[2])
}

func TestExecuteQueryAbsorbsEngineFailures(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)
	env.fake.exec = func(string) *engine.ExecResult {
		return &engine.ExecResult{Error: "syntax error near FORM"}
	}

	result, err := env.svc.ExecuteQuery(context.Background(), 1, conn.ID, "SELECT * FORM orders", 0)
	require.NoError(t, err, "engine failures are data, not errors")
	assert.False(t, result.Success)
	assert.Equal(t, "syntax error near FORM", result.Error)
}

func TestExecuteQueryWritesAuditLog(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	_, err := env.svc.ExecuteQuery(context.Background(), 1, conn.ID, "SELECT 1", 0)
	require.NoError(t, err)

	env.fake.exec = func(string) *engine.ExecResult {
		return &engine.ExecResult{Error: "boom"}
	}
	_, err = env.svc.ExecuteQuery(context.Background(), 1, conn.ID, "SELECT 2", 0)
	require.NoError(t, err)

	logs, err := env.audits.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	statuses := []string{logs[0].Status, logs[1].Status}
	assert.Contains(t, statuses, "SUCCESS")
	assert.Contains(t, statuses, "ERROR")
}

func TestExecuteQueryOwnership(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	_, err := env.svc.ExecuteQuery(context.Background(), 2, conn.ID, "SELECT 1", 0)
	assert.ErrorIs(t, err, core.ErrConnectionNotFound)
}

func TestRefreshTablesPopulatesCatalog(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	env.fake.tables = []engine.TableMeta{
		{Name: "orders", Schema: "analytics", RowCount: 42, Size: "1.25 MB"},
		{Name: "customers", Schema: "analytics"},
	}
	env.fake.columns = map[string][]core.Column{
		"orders":    {{Name: "id", Type: "INT", IsPrimary: true}, {Name: "total", Type: "DECIMAL"}},
		"customers": {{Name: "id", Type: "INT", IsPrimary: true}},
	}

	tables, err := env.svc.RefreshTables(context.Background(), 1, conn.ID)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "customers", tables[0].Name)
	assert.Equal(t, "orders", tables[1].Name)
	assert.Equal(t, int64(42), tables[1].RowCount)
	assert.Len(t, tables[1].Columns, 2)
}

func TestRefreshTablesIntrospectionFailureIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)
	env.fake.introspected = fmt.Errorf("permission denied")

	_, err := env.svc.RefreshTables(context.Background(), 1, conn.ID)
	var br *core.BadRequestError
	require.ErrorAs(t, err, &br)
	assert.Contains(t, br.Message, "permission denied")
}

func TestRefreshTablesUnreachableTargetIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)
	env.fake.openErr = fmt.Errorf("no route to host")

	_, err := env.svc.RefreshTables(context.Background(), 1, conn.ID)
	var br *core.BadRequestError
	require.ErrorAs(t, err, &br)
	assert.Equal(t, "cannot connect to database", br.Message)
}

func TestGetTablesNeverTouchesTheEngine(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	require.NoError(t, env.tables.ReplaceAll(conn.ID, []core.Table{
		{ConnectionID: conn.ID, Name: "orders", Columns: []core.Column{{Name: "id"}}},
	}))

	// The target is unreachable, but the catalog read must still succeed.
	env.fake.openErr = fmt.Errorf("no route to host")

	tables, err := env.svc.GetTables(context.Background(), 1, conn.ID)
	require.NoError(t, err)
	assert.Len(t, tables, 1)
	assert.Zero(t, env.fake.opens)
	assert.Empty(t, env.fake.executed)
}

func TestUpdateConnectionReEncryptsAndEvicts(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	ok, err := env.svc.TestConnection(context.Background(), 1, conn.ID)
	require.NoError(t, err)
	require.True(t, ok)

	newPassword := "rotated"
	newHost := "db2.internal"
	updated, err := env.svc.UpdateConnection(context.Background(), 1, conn.ID, ConnectionPatch{
		Host:     &newHost,
		Password: &newPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, "db2.internal", updated.Host)

	_, cached := env.registry.Get(conn.ID)
	assert.False(t, cached, "credential changes must evict the cached handle")

	stored, err := env.conns.GetByIDAndUser(conn.ID, 1)
	require.NoError(t, err)
	plaintext, err := env.svc.crypto.Decrypt(stored.EncryptedPassword)
	require.NoError(t, err)
	assert.Equal(t, "rotated", plaintext)
}

func TestDeleteConnectionCascades(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	ok, err := env.svc.TestConnection(context.Background(), 1, conn.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, env.tables.ReplaceAll(conn.ID, []core.Table{
		{ConnectionID: conn.ID, Name: "orders", Columns: []core.Column{{Name: "id"}}},
	}))
	_, err = env.svc.SaveQuery(context.Background(), 1, conn.ID, SaveQueryInput{
		Name: "all orders", SQLText: "SELECT * FROM orders",
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteConnection(context.Background(), 1, conn.ID))

	_, err = env.conns.GetByIDAndUser(conn.ID, 1)
	assert.ErrorIs(t, err, core.ErrConnectionNotFound)

	tables, err := env.tables.ListByConnection(conn.ID)
	require.NoError(t, err)
	assert.Empty(t, tables)

	queries, err := env.queries.ListByConnectionAndUser(conn.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, queries)

	_, cached := env.registry.Get(conn.ID)
	assert.False(t, cached)
}

func TestSavedQueries(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	saved, err := env.svc.SaveQuery(context.Background(), 1, conn.ID, SaveQueryInput{
		Name:       "top customers",
		SQLText:    "SELECT * FROM customers ORDER BY total DESC",
		IsFavorite: true,
		Tags:       []string{"reporting"},
	})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	queries, err := env.svc.GetSavedQueries(context.Background(), 1, conn.ID)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "top customers", queries[0].Name)

	_, err = env.svc.GetSavedQueries(context.Background(), 2, conn.ID)
	assert.ErrorIs(t, err, core.ErrConnectionNotFound)
}

func TestGenerateCRUD(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	require.NoError(t, env.tables.ReplaceAll(conn.ID, []core.Table{{
		ConnectionID: conn.ID,
		Name:         "orders",
		Columns: []core.Column{
			{Name: "id", Type: "INT", IsPrimary: true},
			{Name: "customer_id", Type: "INT"},
			{Name: "total", Type: "DECIMAL"},
		},
	}}))

	env.fake.exec = func(sqlText string) *engine.ExecResult {
		if strings.Contains(sqlText, "COUNT(*)") {
			return &engine.ExecResult{Success: true, Rows: []map[string]any{{"total": int64(37)}}}
		}
		return &engine.ExecResult{
			Success: true,
			Rows:    []map[string]any{{"id": int64(1), "customer_id": int64(9), "total": "12.50"}},
		}
	}

	preview, err := env.svc.GenerateCRUD(context.Background(), 1, conn.ID, "orders", nil)
	require.NoError(t, err)

	assert.Equal(t, "orders", preview.TableName)
	assert.Len(t, preview.SampleData, 1)
	assert.Equal(t, int64(37), preview.TotalRows)

	assert.Equal(t, `INSERT INTO "orders" ("id", "customer_id", "total") VALUES ($1, $2, $3)`, preview.Statements.Insert)
	assert.Equal(t, `SELECT "id", "customer_id", "total" FROM "orders"`, preview.Statements.Select)
	assert.Equal(t, `UPDATE "orders" SET "customer_id" = $1, "total" = $2 WHERE "id" = $3`, preview.Statements.Update)
	assert.Equal(t, `DELETE FROM "orders" WHERE "id" = $1`, preview.Statements.Delete)

	// The sample fetch is limited and the count query runs; nothing else.
	require.Len(t, env.fake.executed, 2)
	assert.Contains(t, env.fake.executed[0], "LIMIT 5")
}

func TestGenerateCRUDSelectedColumns(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	require.NoError(t, env.tables.ReplaceAll(conn.ID, []core.Table{{
		ConnectionID: conn.ID,
		Name:         "events",
		Columns: []core.Column{
			{Name: "id", Type: "INT"},
			{Name: "kind", Type: "TEXT"},
			{Name: "payload", Type: "TEXT"},
		},
	}}))

	env.fake.exec = func(sqlText string) *engine.ExecResult {
		return &engine.ExecResult{Success: true, Rows: []map[string]any{}}
	}

	preview, err := env.svc.GenerateCRUD(context.Background(), 1, conn.ID, "events", []string{"kind", "payload"})
	require.NoError(t, err)

	// No column is flagged primary: the WHERE clause falls back to "id".
	assert.Equal(t, `INSERT INTO "events" ("kind", "payload") VALUES ($1, $2)`, preview.Statements.Insert)
	assert.Equal(t, `UPDATE "events" SET "kind" = $1, "payload" = $2 WHERE "id" = $3`, preview.Statements.Update)
	assert.Equal(t, `DELETE FROM "events" WHERE "id" = $1`, preview.Statements.Delete)
}

func TestGenerateCRUDUnknownTable(t *testing.T) {
	env := newTestEnv(t)
	conn := createTestConnection(t, env, 1)

	_, err := env.svc.GenerateCRUD(context.Background(), 1, conn.ID, "ghost", nil)
	assert.ErrorIs(t, err, core.ErrTableNotFound)
	assert.Zero(t, env.fake.opens, "catalog misses must not open a connection")
}

package data

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbhub/internal/core"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := InitDB(t.TempDir())
	require.NoError(t, err, "failed to init test metadata db")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedConnection(t *testing.T, repo *ConnectionRepo, userID int64) *core.Connection {
	t.Helper()

	conn := &core.Connection{
		Name:              "staging",
		Engine:            core.EngineMySQL,
		Host:              "db.staging.local",
		Port:              3306,
		Database:          "app",
		Username:          "app_ro",
		EncryptedPassword: "ciphertext",
		Status:            core.StatusDisconnected,
		Options:           map[string]string{"charset": "utf8mb4"},
		CreatedBy:         userID,
	}
	require.NoError(t, repo.Create(conn))
	return conn
}

func TestConnectionRepoCreateAndGet(t *testing.T) {
	repo := NewConnectionRepo(testDB(t))

	conn := seedConnection(t, repo, 1)
	assert.NotZero(t, conn.ID)
	assert.True(t, conn.IsActive)

	got, err := repo.GetByIDAndUser(conn.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "staging", got.Name)
	assert.Equal(t, core.EngineMySQL, got.Engine)
	assert.Equal(t, "ciphertext", got.EncryptedPassword)
	assert.Equal(t, map[string]string{"charset": "utf8mb4"}, got.Options)
	assert.Equal(t, core.StatusDisconnected, got.Status)
}

func TestConnectionRepoOwnershipScoping(t *testing.T) {
	repo := NewConnectionRepo(testDB(t))
	conn := seedConnection(t, repo, 1)

	_, err := repo.GetByIDAndUser(conn.ID, 2)
	assert.ErrorIs(t, err, core.ErrConnectionNotFound)

	mine, err := repo.ListByUser(1)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	theirs, err := repo.ListByUser(2)
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestConnectionRepoStatusTransitions(t *testing.T) {
	repo := NewConnectionRepo(testDB(t))
	conn := seedConnection(t, repo, 1)

	require.NoError(t, repo.MarkTesting(conn.ID))
	got, err := repo.GetByIDAndUser(conn.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, core.StatusTesting, got.Status)
	assert.NotNil(t, got.LastTested)

	require.NoError(t, repo.MarkError(conn.ID, "connection refused"))
	got, err = repo.GetByIDAndUser(conn.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, core.StatusError, got.Status)
	assert.Equal(t, "connection refused", got.LastError)

	require.NoError(t, repo.MarkConnected(conn.ID))
	got, err = repo.GetByIDAndUser(conn.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, core.StatusConnected, got.Status)
	assert.NotNil(t, got.LastConnected)
	assert.Empty(t, got.LastError, "MarkConnected must clear the last error")
}

func TestConnectionRepoUpdateAndDelete(t *testing.T) {
	repo := NewConnectionRepo(testDB(t))
	conn := seedConnection(t, repo, 1)

	conn.Host = "db.prod.local"
	conn.EncryptedPassword = "new-ciphertext"
	conn.Options = nil
	require.NoError(t, repo.Update(conn))

	got, err := repo.GetByIDAndUser(conn.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "db.prod.local", got.Host)
	assert.Equal(t, "new-ciphertext", got.EncryptedPassword)
	assert.Empty(t, got.Options)

	require.NoError(t, repo.Delete(conn.ID))
	_, err = repo.GetByIDAndUser(conn.ID, 1)
	assert.ErrorIs(t, err, core.ErrConnectionNotFound)
}

func catalogFixture(connectionID int64) []core.Table {
	return []core.Table{
		{
			ConnectionID: connectionID,
			Name:         "orders",
			Schema:       "public",
			Columns: []core.Column{
				{Name: "id", Type: "INT", IsPrimary: true, IsIndexed: true},
				{Name: "total", Type: "DECIMAL", Nullable: true},
			},
			RowCount: 1200,
			Size:     "4.50 MB",
		},
		{
			ConnectionID: connectionID,
			Name:         "customers",
			Schema:       "public",
			Columns:      []core.Column{{Name: "id", Type: "INT", IsPrimary: true}},
		},
	}
}

func TestTableRepoReplaceAll(t *testing.T) {
	repo := NewTableRepo(testDB(t))

	require.NoError(t, repo.ReplaceAll(1, catalogFixture(1)))

	tables, err := repo.ListByConnection(1)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "customers", tables[0].Name, "catalog listing is name-ordered")
	assert.Equal(t, "orders", tables[1].Name)
	assert.Equal(t, int64(1200), tables[1].RowCount)
	require.Len(t, tables[1].Columns, 2)
	assert.True(t, tables[1].Columns[0].IsPrimary)

	// A second refresh replaces, never accumulates.
	require.NoError(t, repo.ReplaceAll(1, catalogFixture(1)[:1]))
	tables, err = repo.ListByConnection(1)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "orders", tables[0].Name)
}

func TestTableRepoReplaceAllScopedToConnection(t *testing.T) {
	repo := NewTableRepo(testDB(t))

	require.NoError(t, repo.ReplaceAll(1, catalogFixture(1)))
	require.NoError(t, repo.ReplaceAll(2, catalogFixture(2)[:1]))

	require.NoError(t, repo.ReplaceAll(1, nil))

	empty, err := repo.ListByConnection(1)
	require.NoError(t, err)
	assert.Empty(t, empty)

	other, err := repo.ListByConnection(2)
	require.NoError(t, err)
	assert.Len(t, other, 1, "replacing one connection's catalog must not touch another's")
}

func TestTableRepoGetByName(t *testing.T) {
	repo := NewTableRepo(testDB(t))
	require.NoError(t, repo.ReplaceAll(1, catalogFixture(1)))

	table, err := repo.GetByName(1, "orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", table.Name)

	_, err = repo.GetByName(1, "missing")
	assert.ErrorIs(t, err, core.ErrTableNotFound)

	_, err = repo.GetByName(99, "orders")
	assert.ErrorIs(t, err, core.ErrTableNotFound)
}

func TestQueryRepoRoundTrip(t *testing.T) {
	repo := NewQueryRepo(testDB(t))

	q := &core.SavedQuery{
		ConnectionID: 1,
		Name:         "daily revenue",
		SQLText:      "SELECT SUM(total) FROM orders",
		Description:  "finance dashboard",
		IsFavorite:   true,
		Tags:         []string{"finance", "daily"},
		CreatedBy:    1,
	}
	require.NoError(t, repo.Create(q))
	assert.NotZero(t, q.ID)

	queries, err := repo.ListByConnectionAndUser(1, 1)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "daily revenue", queries[0].Name)
	assert.True(t, queries[0].IsFavorite)
	assert.Equal(t, []string{"finance", "daily"}, queries[0].Tags)

	foreign, err := repo.ListByConnectionAndUser(1, 2)
	require.NoError(t, err)
	assert.Empty(t, foreign, "saved queries are scoped to their owner")

	require.NoError(t, repo.DeleteByConnection(1))
	queries, err = repo.ListByConnectionAndUser(1, 1)
	require.NoError(t, err)
	assert.Empty(t, queries)
}

func TestUserRepo(t *testing.T) {
	repo := NewUserRepo(testDB(t))

	user, err := repo.Create("alice", "bcrypt-hash")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)

	got, err := repo.GetByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, "bcrypt-hash", got.PasswordHash)

	_, err = repo.GetByUsername("nobody")
	assert.ErrorIs(t, err, core.ErrUserNotFound)

	require.NoError(t, repo.UpdatePassword(user.ID, "new-hash"))
	got, err = repo.GetByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAPIKeyRepo(t *testing.T) {
	db := testDB(t)
	users := NewUserRepo(db)
	repo := NewAPIKeyRepo(db)

	user, err := users.Create("bob", "hash")
	require.NoError(t, err)

	key := &core.APIKey{UserID: user.ID, KeyPrefix: "abcd1234", KeyHash: "deadbeef", Description: "ci"}
	require.NoError(t, repo.Create(key))

	got, err := repo.GetByHash("deadbeef")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.UserID)
	assert.Nil(t, got.LastUsedAt)

	missing, err := repo.GetByHash("unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.UpdateLastUsed(key.ID))
	got, err = repo.GetByHash("deadbeef")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotNil(t, got.LastUsedAt)

	require.NoError(t, repo.Revoke(key.ID))
	revoked, err := repo.GetByHash("deadbeef")
	require.NoError(t, err)
	assert.Nil(t, revoked, "revoked keys must not resolve")
}

func TestAuditRepo(t *testing.T) {
	repo := NewAuditRepo(testDB(t))

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		entry := &core.AuditLog{
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			UserID:       1,
			ConnectionID: 2,
			DurationMs:   int64(10 + i),
			Status:       "SUCCESS",
		}
		require.NoError(t, repo.Create(entry))
	}

	logs, err := repo.GetRecent(2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, int64(12), logs[0].DurationMs, "most recent entry first")
}

package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// InitDB opens the SQLite metadata database under dataDir and runs the
// migrations. Foreign keys are enabled so connection deletes cascade to the
// schema catalog and saved queries.
func InitDB(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "dbhub.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to metadata db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		is_active INTEGER DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		key_prefix TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		description TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME,
		is_active INTEGER DEFAULT 1,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		engine TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		db_name TEXT NOT NULL,
		username TEXT NOT NULL,
		encrypted_password TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'disconnected',
		last_connected DATETIME,
		last_tested DATETIME,
		last_error TEXT,
		options TEXT,
		is_active INTEGER DEFAULT 1,
		created_by INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_connections_owner ON connections(created_by, is_active);

	CREATE TABLE IF NOT EXISTS database_tables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connection_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		schema_name TEXT,
		columns TEXT NOT NULL,
		row_count INTEGER DEFAULT 0,
		size TEXT,
		comment TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(connection_id) REFERENCES connections(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tables_connection ON database_tables(connection_id, name);

	CREATE TABLE IF NOT EXISTS saved_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connection_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		sql_text TEXT NOT NULL,
		description TEXT,
		is_favorite INTEGER DEFAULT 0,
		last_executed DATETIME,
		execution_ms INTEGER,
		rows_affected INTEGER,
		is_active INTEGER DEFAULT 1,
		tags TEXT,
		created_by INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(connection_id) REFERENCES connections(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_queries_owner ON saved_queries(created_by, connection_id);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		user_id INTEGER,
		connection_id INTEGER,
		duration_ms INTEGER,
		status TEXT,
		error_message TEXT
	);
	`
	_, err := db.Exec(schema)
	return err
}

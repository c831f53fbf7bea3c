package data

import (
	"database/sql"
	"encoding/json"
	"errors"

	"dbhub/internal/core"
)

// TableRepo persists the schema catalog. Columns are stored as one JSON
// document per table row; the catalog is wholesale replaced on refresh.
type TableRepo struct {
	db *sql.DB
}

func NewTableRepo(db *sql.DB) *TableRepo {
	return &TableRepo{db: db}
}

// ReplaceAll swaps the connection's catalog entries for the fresh set inside
// one transaction, so readers never observe a half-empty catalog.
func (r *TableRepo) ReplaceAll(connectionID int64, tables []core.Table) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM database_tables WHERE connection_id = ?`, connectionID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO database_tables (connection_id, name, schema_name, columns, row_count, size, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tables {
		columns, err := json.Marshal(t.Columns)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(connectionID, t.Name, t.Schema, string(columns), t.RowCount, t.Size, t.Comment); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *TableRepo) ListByConnection(connectionID int64) ([]core.Table, error) {
	rows, err := r.db.Query(`
		SELECT id, connection_id, name, schema_name, columns, row_count, size, comment, created_at, updated_at
		FROM database_tables
		WHERE connection_id = ?
		ORDER BY name ASC`, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []core.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *t)
	}
	return tables, rows.Err()
}

func (r *TableRepo) GetByName(connectionID int64, name string) (*core.Table, error) {
	row := r.db.QueryRow(`
		SELECT id, connection_id, name, schema_name, columns, row_count, size, comment, created_at, updated_at
		FROM database_tables
		WHERE connection_id = ? AND name = ?`, connectionID, name)

	t, err := scanTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrTableNotFound
	}
	return t, err
}

func (r *TableRepo) DeleteByConnection(connectionID int64) error {
	_, err := r.db.Exec(`DELETE FROM database_tables WHERE connection_id = ?`, connectionID)
	return err
}

func scanTable(row rowScanner) (*core.Table, error) {
	var t core.Table
	var schema, size, comment sql.NullString
	var columns string

	err := row.Scan(&t.ID, &t.ConnectionID, &t.Name, &schema, &columns, &t.RowCount,
		&size, &comment, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Schema = schema.String
	t.Size = size.String
	t.Comment = comment.String

	if err := json.Unmarshal([]byte(columns), &t.Columns); err != nil {
		return nil, err
	}
	return &t, nil
}

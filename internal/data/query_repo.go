package data

import (
	"database/sql"
	"strings"

	"dbhub/internal/core"
)

type QueryRepo struct {
	db *sql.DB
}

func NewQueryRepo(db *sql.DB) *QueryRepo {
	return &QueryRepo{db: db}
}

func (r *QueryRepo) Create(q *core.SavedQuery) error {
	res, err := r.db.Exec(`
		INSERT INTO saved_queries (connection_id, name, sql_text, description, is_favorite, is_active, tags, created_by)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		q.ConnectionID, q.Name, q.SQLText, q.Description, q.IsFavorite,
		strings.Join(q.Tags, ","), q.CreatedBy)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	q.ID = id
	q.IsActive = true
	return nil
}

func (r *QueryRepo) ListByConnectionAndUser(connectionID, userID int64) ([]core.SavedQuery, error) {
	rows, err := r.db.Query(`
		SELECT id, connection_id, name, sql_text, description, is_favorite,
			last_executed, execution_ms, rows_affected, is_active, tags, created_by, created_at, updated_at
		FROM saved_queries
		WHERE connection_id = ? AND created_by = ? AND is_active = 1
		ORDER BY created_at DESC`, connectionID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queries []core.SavedQuery
	for rows.Next() {
		var q core.SavedQuery
		var description, tags sql.NullString
		var lastExecuted sql.NullTime
		var executionMs, rowsAffected sql.NullInt64
		var isFavorite, isActive int

		err := rows.Scan(&q.ID, &q.ConnectionID, &q.Name, &q.SQLText, &description, &isFavorite,
			&lastExecuted, &executionMs, &rowsAffected, &isActive, &tags, &q.CreatedBy,
			&q.CreatedAt, &q.UpdatedAt)
		if err != nil {
			return nil, err
		}

		q.Description = description.String
		q.IsFavorite = isFavorite == 1
		q.IsActive = isActive == 1
		if lastExecuted.Valid {
			q.LastExecuted = &lastExecuted.Time
		}
		q.ExecutionMs = executionMs.Int64
		q.RowsAffected = rowsAffected.Int64
		if tags.Valid && tags.String != "" {
			q.Tags = strings.Split(tags.String, ",")
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func (r *QueryRepo) DeleteByConnection(connectionID int64) error {
	_, err := r.db.Exec(`DELETE FROM saved_queries WHERE connection_id = ?`, connectionID)
	return err
}

package data

import (
	"database/sql"

	"dbhub/internal/core"
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Create(entry *core.AuditLog) error {
	_, err := r.db.Exec(`
		INSERT INTO audit_logs (timestamp, user_id, connection_id, duration_ms, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.UserID, entry.ConnectionID, entry.DurationMs, entry.Status, entry.ErrorMessage)
	return err
}

func (r *AuditRepo) GetRecent(limit int) ([]core.AuditLog, error) {
	rows, err := r.db.Query(`
		SELECT id, timestamp, user_id, connection_id, duration_ms, status, error_message
		FROM audit_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []core.AuditLog
	for rows.Next() {
		var l core.AuditLog
		var errMsg sql.NullString
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.UserID, &l.ConnectionID, &l.DurationMs, &l.Status, &errMsg); err != nil {
			return nil, err
		}
		l.ErrorMessage = errMsg.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

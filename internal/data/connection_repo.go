package data

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"dbhub/internal/core"
)

type ConnectionRepo struct {
	db *sql.DB
}

func NewConnectionRepo(db *sql.DB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

const connectionColumns = `id, name, engine, host, port, db_name, username, encrypted_password,
	status, last_connected, last_tested, last_error, options, is_active, created_by, created_at, updated_at`

func (r *ConnectionRepo) Create(conn *core.Connection) error {
	options, err := marshalOptions(conn.Options)
	if err != nil {
		return err
	}

	res, err := r.db.Exec(`
		INSERT INTO connections (name, engine, host, port, db_name, username, encrypted_password,
			status, options, is_active, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		conn.Name, conn.Engine, conn.Host, conn.Port, conn.Database, conn.Username,
		conn.EncryptedPassword, conn.Status, options, conn.CreatedBy)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	conn.ID = id
	conn.IsActive = true
	return nil
}

func (r *ConnectionRepo) ListByUser(userID int64) ([]core.Connection, error) {
	rows, err := r.db.Query(`
		SELECT `+connectionColumns+`
		FROM connections
		WHERE created_by = ? AND is_active = 1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []core.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (r *ConnectionRepo) GetByIDAndUser(id, userID int64) (*core.Connection, error) {
	row := r.db.QueryRow(`
		SELECT `+connectionColumns+`
		FROM connections
		WHERE id = ? AND created_by = ? AND is_active = 1`, id, userID)

	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrConnectionNotFound
	}
	return c, err
}

func (r *ConnectionRepo) Update(conn *core.Connection) error {
	options, err := marshalOptions(conn.Options)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		UPDATE connections
		SET name = ?, host = ?, port = ?, db_name = ?, username = ?, encrypted_password = ?,
			options = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		conn.Name, conn.Host, conn.Port, conn.Database, conn.Username,
		conn.EncryptedPassword, options, conn.ID)
	return err
}

func (r *ConnectionRepo) MarkTesting(id int64) error {
	_, err := r.db.Exec(`
		UPDATE connections
		SET status = ?, last_tested = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, core.StatusTesting, time.Now().UTC(), id)
	return err
}

func (r *ConnectionRepo) MarkConnected(id int64) error {
	_, err := r.db.Exec(`
		UPDATE connections
		SET status = ?, last_connected = ?, last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, core.StatusConnected, time.Now().UTC(), id)
	return err
}

func (r *ConnectionRepo) MarkError(id int64, message string) error {
	_, err := r.db.Exec(`
		UPDATE connections
		SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, core.StatusError, message, id)
	return err
}

func (r *ConnectionRepo) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM connections WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*core.Connection, error) {
	var c core.Connection
	var lastConnected, lastTested sql.NullTime
	var lastError, options sql.NullString
	var isActive int

	err := row.Scan(&c.ID, &c.Name, &c.Engine, &c.Host, &c.Port, &c.Database, &c.Username,
		&c.EncryptedPassword, &c.Status, &lastConnected, &lastTested, &lastError, &options,
		&isActive, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastConnected.Valid {
		c.LastConnected = &lastConnected.Time
	}
	if lastTested.Valid {
		c.LastTested = &lastTested.Time
	}
	c.LastError = lastError.String
	c.IsActive = isActive == 1

	if options.Valid && options.String != "" {
		if err := json.Unmarshal([]byte(options.String), &c.Options); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func marshalOptions(options map[string]string) (string, error) {
	if len(options) == 0 {
		return "", nil
	}
	b, err := json.Marshal(options)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

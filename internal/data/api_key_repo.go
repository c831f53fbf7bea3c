package data

import (
	"database/sql"
	"time"

	"dbhub/internal/core"
)

type APIKeyRepo struct {
	db *sql.DB
}

func NewAPIKeyRepo(db *sql.DB) *APIKeyRepo {
	return &APIKeyRepo{db: db}
}

func (r *APIKeyRepo) Create(key *core.APIKey) error {
	res, err := r.db.Exec(`
		INSERT INTO api_keys (user_id, key_prefix, key_hash, description, is_active)
		VALUES (?, ?, ?, ?, 1)`,
		key.UserID, key.KeyPrefix, key.KeyHash, key.Description)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	key.ID = id
	key.IsActive = true
	return nil
}

// GetByHash returns nil, nil when no active key matches.
func (r *APIKeyRepo) GetByHash(hash string) (*core.APIKey, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, key_prefix, key_hash, description, created_at, last_used_at, is_active
		FROM api_keys
		WHERE key_hash = ? AND is_active = 1`, hash)

	var k core.APIKey
	var description sql.NullString
	var lastUsed sql.NullTime
	var isActive int
	err := row.Scan(&k.ID, &k.UserID, &k.KeyPrefix, &k.KeyHash, &description,
		&k.CreatedAt, &lastUsed, &isActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	k.Description = description.String
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	k.IsActive = isActive == 1
	return &k, nil
}

func (r *APIKeyRepo) UpdateLastUsed(id int64) error {
	_, err := r.db.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

func (r *APIKeyRepo) Revoke(id int64) error {
	_, err := r.db.Exec(`UPDATE api_keys SET is_active = 0 WHERE id = ?`, id)
	return err
}

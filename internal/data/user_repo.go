package data

import (
	"database/sql"
	"errors"
	"time"

	"dbhub/internal/core"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(username, passwordHash string) (*core.User, error) {
	res, err := r.db.Exec(`
		INSERT INTO users (username, password_hash, is_active)
		VALUES (?, ?, 1)`, username, passwordHash)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &core.User{ID: id, Username: username, IsActive: true, CreatedAt: time.Now()}, nil
}

func (r *UserRepo) GetByUsername(username string) (*core.User, error) {
	var u core.User
	var isActive int
	err := r.db.QueryRow(`
		SELECT id, username, password_hash, is_active, created_at
		FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &isActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.IsActive = isActive == 1
	return &u, nil
}

func (r *UserRepo) UpdatePassword(id int64, passwordHash string) error {
	_, err := r.db.Exec(`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	return err
}

func (r *UserRepo) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

package core

// ConnectionRepository defines storage operations for database connections.
// All reads are scoped to the owning user and to active rows.
type ConnectionRepository interface {
	Create(conn *Connection) error
	ListByUser(userID int64) ([]Connection, error)
	// GetByIDAndUser returns ErrConnectionNotFound for missing, inactive or
	// foreign rows alike.
	GetByIDAndUser(id, userID int64) (*Connection, error)
	Update(conn *Connection) error
	MarkTesting(id int64) error
	MarkConnected(id int64) error
	MarkError(id int64, message string) error
	Delete(id int64) error
}

// TableRepository is the schema catalog store: a persisted cache of
// introspected table metadata.
type TableRepository interface {
	// ReplaceAll transactionally deletes the connection's rows and inserts the
	// fresh set, so concurrent readers never observe a half-empty catalog.
	ReplaceAll(connectionID int64, tables []Table) error
	ListByConnection(connectionID int64) ([]Table, error)
	GetByName(connectionID int64, name string) (*Table, error)
	DeleteByConnection(connectionID int64) error
}

// QueryRepository defines storage operations for saved queries.
type QueryRepository interface {
	Create(q *SavedQuery) error
	ListByConnectionAndUser(connectionID, userID int64) ([]SavedQuery, error)
	DeleteByConnection(connectionID int64) error
}

// UserRepository defines storage operations for users.
type UserRepository interface {
	Create(username, passwordHash string) (*User, error)
	GetByUsername(username string) (*User, error)
	UpdatePassword(id int64, passwordHash string) error
	Count() (int, error)
}

// APIKeyRepository defines storage operations for API keys.
type APIKeyRepository interface {
	Create(key *APIKey) error
	GetByHash(hash string) (*APIKey, error)
	UpdateLastUsed(id int64) error
	Revoke(id int64) error
}

// AuditRepository records query executions.
type AuditRepository interface {
	Create(entry *AuditLog) error
	GetRecent(limit int) ([]AuditLog, error)
}

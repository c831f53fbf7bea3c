package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dbhub/internal/core"
	"dbhub/internal/engine"
)

// DatabaseService orchestrates connection lifecycle, schema introspection,
// ad-hoc query execution and CRUD-statement generation. Every operation is
// scoped to the calling user; lookups that miss or hit a foreign connection
// fail with core.ErrConnectionNotFound.
type DatabaseService struct {
	connRepo  core.ConnectionRepository
	tableRepo core.TableRepository
	queryRepo core.QueryRepository
	auditRepo core.AuditRepository
	crypto    *EncryptionService
	registry  *engine.Registry
	engineFor func(core.EngineKind) (engine.Engine, error)
	timeout   time.Duration
	log       zerolog.Logger
}

func NewDatabaseService(
	connRepo core.ConnectionRepository,
	tableRepo core.TableRepository,
	queryRepo core.QueryRepository,
	auditRepo core.AuditRepository,
	crypto *EncryptionService,
	registry *engine.Registry,
	timeout time.Duration,
	log zerolog.Logger,
) *DatabaseService {
	return &DatabaseService{
		connRepo:  connRepo,
		tableRepo: tableRepo,
		queryRepo: queryRepo,
		auditRepo: auditRepo,
		crypto:    crypto,
		registry:  registry,
		engineFor: engine.ForKind,
		timeout:   timeout,
		log:       log,
	}
}

// ConnectionSpec carries the fields accepted when creating a connection.
type ConnectionSpec struct {
	Name     string
	Engine   core.EngineKind
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Options  map[string]string
}

// ConnectionPatch carries the optional fields of a connection update. Nil
// fields are left untouched; a non-nil password is re-encrypted.
type ConnectionPatch struct {
	Name     *string
	Host     *string
	Port     *int
	Database *string
	Username *string
	Password *string
	Options  map[string]string
}

// SaveQueryInput carries the fields accepted when saving a query.
type SaveQueryInput struct {
	Name        string
	SQLText     string
	Description string
	IsFavorite  bool
	Tags        []string
}

// CreateConnection encrypts the password and persists the connection with
// status disconnected.
func (s *DatabaseService) CreateConnection(ctx context.Context, userID int64, spec ConnectionSpec) (*core.Connection, error) {
	if !spec.Engine.Valid() {
		return nil, core.BadRequestf("unsupported database engine: %s", spec.Engine)
	}

	encrypted, err := s.crypto.Encrypt(spec.Password)
	if err != nil {
		return nil, err
	}

	conn := &core.Connection{
		Name:              spec.Name,
		Engine:            spec.Engine,
		Host:              spec.Host,
		Port:              spec.Port,
		Database:          spec.Database,
		Username:          spec.Username,
		EncryptedPassword: encrypted,
		Status:            core.StatusDisconnected,
		Options:           spec.Options,
		CreatedBy:         userID,
	}
	if err := s.connRepo.Create(conn); err != nil {
		return nil, err
	}

	s.log.Info().Int64("connection_id", conn.ID).Str("engine", string(conn.Engine)).Msg("connection created")
	return conn, nil
}

func (s *DatabaseService) ListConnections(ctx context.Context, userID int64) ([]core.Connection, error) {
	return s.connRepo.ListByUser(userID)
}

func (s *DatabaseService) GetConnection(ctx context.Context, userID, id int64) (*core.Connection, error) {
	return s.connRepo.GetByIDAndUser(id, userID)
}

// UpdateConnection applies the patch and evicts any cached handle so the next
// use reconnects with the new config.
func (s *DatabaseService) UpdateConnection(ctx context.Context, userID, id int64, patch ConnectionPatch) (*core.Connection, error) {
	conn, err := s.connRepo.GetByIDAndUser(id, userID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		conn.Name = *patch.Name
	}
	if patch.Host != nil {
		conn.Host = *patch.Host
	}
	if patch.Port != nil {
		conn.Port = *patch.Port
	}
	if patch.Database != nil {
		conn.Database = *patch.Database
	}
	if patch.Username != nil {
		conn.Username = *patch.Username
	}
	if patch.Options != nil {
		conn.Options = patch.Options
	}
	if patch.Password != nil {
		encrypted, err := s.crypto.Encrypt(*patch.Password)
		if err != nil {
			return nil, err
		}
		conn.EncryptedPassword = encrypted
	}

	if err := s.connRepo.Update(conn); err != nil {
		return nil, err
	}

	s.registry.Evict(id)
	return conn, nil
}

// DeleteConnection evicts the cached handle and removes the connection
// together with its catalog entries and saved queries.
func (s *DatabaseService) DeleteConnection(ctx context.Context, userID, id int64) error {
	if _, err := s.connRepo.GetByIDAndUser(id, userID); err != nil {
		return err
	}

	s.registry.Evict(id)

	if err := s.tableRepo.DeleteByConnection(id); err != nil {
		return err
	}
	if err := s.queryRepo.DeleteByConnection(id); err != nil {
		return err
	}
	if err := s.connRepo.Delete(id); err != nil {
		return err
	}

	s.log.Info().Int64("connection_id", id).Msg("connection deleted")
	return nil
}

// TestConnection attempts to connect and probe the target. Probe failures are
// absorbed into persisted status and a false return; they are never thrown.
func (s *DatabaseService) TestConnection(ctx context.Context, userID, id int64) (bool, error) {
	conn, err := s.connRepo.GetByIDAndUser(id, userID)
	if err != nil {
		return false, err
	}

	eng, err := s.engineFor(conn.Engine)
	if err != nil {
		return false, err
	}

	if err := s.connRepo.MarkTesting(id); err != nil {
		return false, err
	}

	client, err := s.registry.GetOrCreate(ctx, id, s.connector(conn, eng))
	if err == nil {
		probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = eng.Probe(probeCtx, client)
		cancel()
		if err != nil {
			s.registry.Evict(id)
		}
	}

	if err != nil {
		s.log.Warn().Int64("connection_id", id).Err(err).Msg("connection test failed")
		if repoErr := s.connRepo.MarkError(id, err.Error()); repoErr != nil {
			return false, repoErr
		}
		return false, nil
	}

	if err := s.connRepo.MarkConnected(id); err != nil {
		return false, err
	}
	return true, nil
}

// RefreshTables introspects the live database and transactionally replaces
// the schema catalog for the connection.
func (s *DatabaseService) RefreshTables(ctx context.Context, userID, connectionID int64) ([]core.Table, error) {
	conn, err := s.connRepo.GetByIDAndUser(connectionID, userID)
	if err != nil {
		return nil, err
	}

	eng, err := s.engineFor(conn.Engine)
	if err != nil {
		return nil, err
	}

	client, err := s.ensureClient(ctx, userID, conn)
	if err != nil {
		return nil, err
	}

	introspectCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	metas, err := eng.IntrospectTables(introspectCtx, client, conn.Database)
	if err != nil {
		return nil, core.BadRequestf("failed to refresh tables: %v", err)
	}

	tables := make([]core.Table, 0, len(metas))
	for _, meta := range metas {
		columns, err := eng.IntrospectColumns(introspectCtx, client, meta.Name, conn.Database)
		if err != nil {
			return nil, core.BadRequestf("failed to refresh tables: %v", err)
		}
		tables = append(tables, core.Table{
			ConnectionID: connectionID,
			Name:         meta.Name,
			Schema:       meta.Schema,
			Columns:      columns,
			RowCount:     meta.RowCount,
			Size:         meta.Size,
			Comment:      meta.Comment,
		})
	}

	if err := s.tableRepo.ReplaceAll(connectionID, tables); err != nil {
		return nil, err
	}

	s.log.Info().Int64("connection_id", connectionID).Int("tables", len(tables)).Msg("schema catalog refreshed")
	return s.tableRepo.ListByConnection(connectionID)
}

// GetTables reads the schema catalog only; it never touches the live database.
func (s *DatabaseService) GetTables(ctx context.Context, userID, connectionID int64) ([]core.Table, error) {
	if _, err := s.connRepo.GetByIDAndUser(connectionID, userID); err != nil {
		return nil, err
	}
	return s.tableRepo.ListByConnection(connectionID)
}

// ExecuteQuery runs ad-hoc SQL through the safety gate. Engine failures are
// folded into the result; only gate rejections and missing handles are errors.
func (s *DatabaseService) ExecuteQuery(ctx context.Context, userID, connectionID int64, sqlText string, limit int) (*core.QueryResult, error) {
	conn, err := s.connRepo.GetByIDAndUser(connectionID, userID)
	if err != nil {
		return nil, err
	}

	if err := core.ValidateQuery(sqlText); err != nil {
		return nil, err
	}

	eng, err := s.engineFor(conn.Engine)
	if err != nil {
		return nil, err
	}

	client, err := s.ensureClient(ctx, userID, conn)
	if err != nil {
		return nil, err
	}

	finalSQL := sqlText
	if limit > 0 && core.IsSelect(sqlText) {
		finalSQL = strings.TrimRight(finalSQL, "; \t\n") + " " + eng.LimitClause(limit)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res := eng.Execute(execCtx, client, finalSQL)
	elapsed := time.Since(start).Milliseconds()

	s.audit(userID, connectionID, elapsed, res.Success, res.Error)

	return &core.QueryResult{
		Success:         res.Success,
		Data:            res.Rows,
		Columns:         res.Columns,
		RowsAffected:    res.RowsAffected,
		ExecutionTimeMs: elapsed,
		Error:           res.Error,
	}, nil
}

// SaveQuery persists a named query scoped to the connection and owner.
func (s *DatabaseService) SaveQuery(ctx context.Context, userID, connectionID int64, input SaveQueryInput) (*core.SavedQuery, error) {
	if _, err := s.connRepo.GetByIDAndUser(connectionID, userID); err != nil {
		return nil, err
	}

	q := &core.SavedQuery{
		ConnectionID: connectionID,
		Name:         input.Name,
		SQLText:      input.SQLText,
		Description:  input.Description,
		IsFavorite:   input.IsFavorite,
		Tags:         input.Tags,
		CreatedBy:    userID,
	}
	if err := s.queryRepo.Create(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *DatabaseService) GetSavedQueries(ctx context.Context, userID, connectionID int64) ([]core.SavedQuery, error) {
	if _, err := s.connRepo.GetByIDAndUser(connectionID, userID); err != nil {
		return nil, err
	}
	return s.queryRepo.ListByConnectionAndUser(connectionID, userID)
}

// GenerateCRUD synthesizes four parameterized SQL templates for a cataloged
// table, along with up to 5 sample rows and a total row count. The templates
// are returned as text and never executed.
func (s *DatabaseService) GenerateCRUD(ctx context.Context, userID, connectionID int64, tableName string, selectedColumns []string) (*core.CRUDPreview, error) {
	conn, err := s.connRepo.GetByIDAndUser(connectionID, userID)
	if err != nil {
		return nil, err
	}

	table, err := s.tableRepo.GetByName(connectionID, tableName)
	if err != nil {
		return nil, err
	}

	eng, err := s.engineFor(conn.Engine)
	if err != nil {
		return nil, err
	}

	client, err := s.ensureClient(ctx, userID, conn)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ident := eng.QuoteIdent(table.Name)

	sample := eng.Execute(execCtx, client, fmt.Sprintf("SELECT * FROM %s %s", ident, eng.LimitClause(5)))
	if !sample.Success {
		return nil, core.BadRequestf("failed to fetch sample rows: %s", sample.Error)
	}

	count := eng.Execute(execCtx, client, fmt.Sprintf("SELECT COUNT(*) AS total FROM %s", ident))
	if !count.Success {
		return nil, core.BadRequestf("failed to count rows: %s", count.Error)
	}

	columns := selectColumns(table.Columns, selectedColumns)
	if len(columns) == 0 {
		return nil, core.BadRequestf("no known columns selected for table %s", table.Name)
	}

	return &core.CRUDPreview{
		TableName:  table.Name,
		Columns:    columns,
		SampleData: sample.Rows,
		TotalRows:  totalFromCount(count.Rows),
		Statements: buildCRUDStatements(eng, table, columns),
	}, nil
}

// connector builds the registry's single-flight connect callback: decrypt the
// stored password, open a pooled engine client, let the pool ping verify it.
func (s *DatabaseService) connector(conn *core.Connection, eng engine.Engine) engine.ConnectFunc {
	return func(ctx context.Context) (*engine.Client, error) {
		password, err := s.crypto.Decrypt(conn.EncryptedPassword)
		if err != nil {
			return nil, err
		}
		return eng.Open(ctx, engine.ConnConfig{
			Host:           conn.Host,
			Port:           conn.Port,
			User:           conn.Username,
			Password:       password,
			Database:       conn.Database,
			Options:        conn.Options,
			ConnectTimeout: s.timeout,
		})
	}
}

// ensureClient returns the cached handle for the connection, or tests the
// connection to establish one. A failed test is a BadRequest: the operation
// required a live handle and none could be obtained.
func (s *DatabaseService) ensureClient(ctx context.Context, userID int64, conn *core.Connection) (*engine.Client, error) {
	if client, ok := s.registry.Get(conn.ID); ok {
		return client, nil
	}

	ok, err := s.TestConnection(ctx, userID, conn.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.BadRequestf("cannot connect to database")
	}

	client, cached := s.registry.Get(conn.ID)
	if !cached {
		// Evicted between test and use; treat like an unreachable target.
		return nil, core.BadRequestf("cannot connect to database")
	}
	return client, nil
}

func (s *DatabaseService) audit(userID, connectionID, durationMs int64, success bool, errMsg string) {
	status := "SUCCESS"
	if !success {
		status = "ERROR"
	}
	entry := &core.AuditLog{
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		ConnectionID: connectionID,
		DurationMs:   durationMs,
		Status:       status,
		ErrorMessage: errMsg,
	}
	if err := s.auditRepo.Create(entry); err != nil {
		s.log.Warn().Err(err).Msg("failed to write audit log")
	}
}

// selectColumns filters the cataloged columns to the requested names,
// preserving catalog order. An empty request selects everything.
func selectColumns(all []core.Column, requested []string) []core.Column {
	if len(requested) == 0 {
		return all
	}
	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		want[name] = true
	}
	var out []core.Column
	for _, c := range all {
		if want[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// totalFromCount digs the count value out of a normalized one-row result.
func totalFromCount(rows []map[string]any) int64 {
	if len(rows) == 0 {
		return 0
	}
	for _, v := range rows[0] {
		switch n := v.(type) {
		case int64:
			return n
		case float64:
			return int64(n)
		case string:
			if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
				return parsed
			}
		}
	}
	return 0
}

// buildCRUDStatements renders the four templates with engine-correct
// positional placeholders. The update and delete WHERE clauses use the
// table's primary-key column, defaulting to "id" when none is flagged.
func buildCRUDStatements(eng engine.Engine, table *core.Table, columns []core.Column) core.CRUDStatements {
	primaryKey := "id"
	for _, c := range table.Columns {
		if c.IsPrimary {
			primaryKey = c.Name
			break
		}
	}

	tableIdent := eng.QuoteIdent(table.Name)

	names := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		names[i] = eng.QuoteIdent(c.Name)
		placeholders[i] = eng.Placeholder(i + 1)
	}

	var sets []string
	n := 0
	for _, c := range columns {
		if c.Name == primaryKey {
			continue
		}
		n++
		sets = append(sets, fmt.Sprintf("%s = %s", eng.QuoteIdent(c.Name), eng.Placeholder(n)))
	}

	return core.CRUDStatements{
		Insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			tableIdent, strings.Join(names, ", "), strings.Join(placeholders, ", ")),
		Select: fmt.Sprintf("SELECT %s FROM %s", strings.Join(names, ", "), tableIdent),
		Update: fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
			tableIdent, strings.Join(sets, ", "), eng.QuoteIdent(primaryKey), eng.Placeholder(n+1)),
		Delete: fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			tableIdent, eng.QuoteIdent(primaryKey), eng.Placeholder(1)),
	}
}

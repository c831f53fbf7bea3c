package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"dbhub/internal/core"
	"dbhub/internal/service"
)

// DatabaseBackend is the slice of the database service the handlers consume.
type DatabaseBackend interface {
	CreateConnection(ctx context.Context, userID int64, spec service.ConnectionSpec) (*core.Connection, error)
	ListConnections(ctx context.Context, userID int64) ([]core.Connection, error)
	GetConnection(ctx context.Context, userID, id int64) (*core.Connection, error)
	UpdateConnection(ctx context.Context, userID, id int64, patch service.ConnectionPatch) (*core.Connection, error)
	DeleteConnection(ctx context.Context, userID, id int64) error
	TestConnection(ctx context.Context, userID, id int64) (bool, error)
	RefreshTables(ctx context.Context, userID, connectionID int64) ([]core.Table, error)
	GetTables(ctx context.Context, userID, connectionID int64) ([]core.Table, error)
	ExecuteQuery(ctx context.Context, userID, connectionID int64, sqlText string, limit int) (*core.QueryResult, error)
	SaveQuery(ctx context.Context, userID, connectionID int64, input service.SaveQueryInput) (*core.SavedQuery, error)
	GetSavedQueries(ctx context.Context, userID, connectionID int64) ([]core.SavedQuery, error)
	GenerateCRUD(ctx context.Context, userID, connectionID int64, tableName string, selectedColumns []string) (*core.CRUDPreview, error)
}

type Handler struct {
	db       DatabaseBackend
	verifier KeyVerifier
	meta     *sql.DB
	limiter  *RateLimiter
	log      zerolog.Logger
}

func NewHandler(db DatabaseBackend, verifier KeyVerifier, meta *sql.DB, limiter *RateLimiter, log zerolog.Logger) *Handler {
	return &Handler{db: db, verifier: verifier, meta: meta, limiter: limiter, log: log}
}

// Routes mounts the HTTP surface: a public liveness endpoint and the
// key-guarded /database tree.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogging(h.log))
	if h.limiter != nil {
		r.Use(h.limiter.Middleware)
	}

	r.Get("/healthz", h.Healthz)

	r.Route("/database", func(r chi.Router) {
		r.Use(RequireAPIKey(h.verifier))

		r.Route("/connections", func(r chi.Router) {
			r.Post("/", h.CreateConnection)
			r.Get("/", h.ListConnections)

			r.Route("/{connectionID}", func(r chi.Router) {
				r.Get("/", h.GetConnection)
				r.Put("/", h.UpdateConnection)
				r.Delete("/", h.DeleteConnection)
				r.Post("/test", h.TestConnection)
				r.Post("/tables/refresh", h.RefreshTables)
				r.Get("/tables", h.GetTables)
				r.Post("/execute", h.ExecuteQuery)
				r.Post("/queries", h.SaveQuery)
				r.Get("/queries", h.GetSavedQueries)
				r.Post("/generate-crud", h.GenerateCRUD)
			})
		})
	})

	return r
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.meta != nil {
		if err := h.meta.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "metadata store unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type connectionRequest struct {
	Name     string            `json:"name"`
	Engine   core.EngineKind   `json:"engine"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Database string            `json:"database"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Options  map[string]string `json:"options,omitempty"`
}

type connectionPatchRequest struct {
	Name     *string           `json:"name"`
	Host     *string           `json:"host"`
	Port     *int              `json:"port"`
	Database *string           `json:"database"`
	Username *string           `json:"username"`
	Password *string           `json:"password"`
	Options  map[string]string `json:"options"`
}

// connectionResponse adds the computed fields to the stored attributes. The
// password never appears in any form but the masked connection string.
type connectionResponse struct {
	core.Connection
	ConnectionString  string `json:"connection_string"`
	IsConnected       bool   `json:"is_connected"`
	NeedsReconnection bool   `json:"needs_reconnection"`
}

func toConnectionResponse(c *core.Connection) connectionResponse {
	return connectionResponse{
		Connection:        *c,
		ConnectionString:  c.MaskedDSN(),
		IsConnected:       c.IsConnected(),
		NeedsReconnection: c.NeedsReconnection(),
	}
}

func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, core.BadRequestf("invalid request body: %v", err))
		return
	}

	conn, err := h.db.CreateConnection(r.Context(), userID, service.ConnectionSpec{
		Name:     req.Name,
		Engine:   req.Engine,
		Host:     req.Host,
		Port:     req.Port,
		Database: req.Database,
		Username: req.Username,
		Password: req.Password,
		Options:  req.Options,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toConnectionResponse(conn))
}

func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	conns, err := h.db.ListConnections(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	out := make([]connectionResponse, 0, len(conns))
	for i := range conns {
		out = append(out, toConnectionResponse(&conns[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	id, err := connectionID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	conn, err := h.db.GetConnection(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(conn))
}

func (h *Handler) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	id, err := connectionID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	var req connectionPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, core.BadRequestf("invalid request body: %v", err))
		return
	}

	conn, err := h.db.UpdateConnection(r.Context(), userID, id, service.ConnectionPatch{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Database: req.Database,
		Username: req.Username,
		Password: req.Password,
		Options:  req.Options,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(conn))
}

func (h *Handler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	id, err := connectionID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.db.DeleteConnection(r.Context(), userID, id); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	id, err := connectionID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	ok, err := h.db.TestConnection(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

// tableResponse adds the derived column views to the cataloged table.
type tableResponse struct {
	core.Table
	PrimaryKeyColumns  []core.Column `json:"primary_key_columns"`
	IndexedColumns     []core.Column `json:"indexed_columns"`
	NonNullableColumns []core.Column `json:"non_nullable_columns"`
}

func toTableResponses(tables []core.Table) []tableResponse {
	out := make([]tableResponse, 0, len(tables))
	for i := range tables {
		t := &tables[i]
		out = append(out, tableResponse{
			Table:              *t,
			PrimaryKeyColumns:  t.PrimaryKeyColumns(),
			IndexedColumns:     t.IndexedColumns(),
			NonNullableColumns: t.NonNullableColumns(),
		})
	}
	return out
}

func (h *Handler) RefreshTables(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	id, err := connectionID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	tables, err := h.db.RefreshTables(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toTableResponses(tables))
}

func (h *Handler) GetTables(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	id, err := connectionID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	tables, err := h.db.GetTables(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toTableResponses(tables))
}

type executeRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (h *Handler) ExecuteQuery(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	id, err := connectionID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, core.BadRequestf("invalid request body: %v", err))
		return
	}
	if req.Query == "" {
		writeError(w, h.log, core.BadRequestf("query is required"))
		return
	}

	result, err := h.db.ExecuteQuery(r.Context(), userID, id, req.Query, req.Limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type saveQueryRequest struct {
	Name        string   `json:"name"`
	Query       string   `json:"query"`
	Description string   `json:"description"`
	IsFavorite  bool     `json:"is_favorite"`
	Tags        []string `json:"tags"`
}

// savedQueryResponse adds the query_type computed field.
type savedQueryResponse struct {
	core.SavedQuery
	QueryType string `json:"query_type"`
}

func toSavedQueryResponse(q *core.SavedQuery) savedQueryResponse {
	return savedQueryResponse{SavedQuery: *q, QueryType: core.QueryType(q.SQLText)}
}

func (h *Handler) SaveQuery(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	id, err := connectionID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	var req saveQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, core.BadRequestf("invalid request body: %v", err))
		return
	}
	if req.Name == "" || req.Query == "" {
		writeError(w, h.log, core.BadRequestf("name and query are required"))
		return
	}

	saved, err := h.db.SaveQuery(r.Context(), userID, id, service.SaveQueryInput{
		Name:        req.Name,
		SQLText:     req.Query,
		Description: req.Description,
		IsFavorite:  req.IsFavorite,
		Tags:        req.Tags,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSavedQueryResponse(saved))
}

func (h *Handler) GetSavedQueries(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	id, err := connectionID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	queries, err := h.db.GetSavedQueries(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	out := make([]savedQueryResponse, 0, len(queries))
	for i := range queries {
		out = append(out, toSavedQueryResponse(&queries[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type generateCRUDRequest struct {
	TableName       string   `json:"table_name"`
	SelectedColumns []string `json:"selected_columns"`
}

func (h *Handler) GenerateCRUD(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	id, err := connectionID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	var req generateCRUDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, core.BadRequestf("invalid request body: %v", err))
		return
	}
	if req.TableName == "" {
		writeError(w, h.log, core.BadRequestf("table_name is required"))
		return
	}

	preview, err := h.db.GenerateCRUD(r.Context(), userID, id, req.TableName, req.SelectedColumns)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func connectionID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "connectionID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, core.BadRequestf("invalid connection id: %s", raw)
	}
	return id, nil
}

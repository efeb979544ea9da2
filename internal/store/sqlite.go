package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/overseerhq/overseer/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent sweeps.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewULID generates a new ULID string, also used for audit correlation ids.
func NewULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// dbtx is the intersection of *sql.DB and *sql.Tx the store needs; it lets
// every query run either directly or inside a caller-supplied transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// on selects the execution target for an optional transaction handle.
func (s *SQLiteStore) on(tx *Tx) dbtx {
	if tx != nil && tx.tx != nil {
		return tx.tx
	}
	return s.db
}

// WithTx runs fn inside a single transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Supervisors ---

const supervisorColumns = `id, kind, user_id, host_session_id, scope_kind, scope_id, status, monitor_interval, stall_threshold, auto_intervene, instructions, last_active_at, created_at, updated_at`

func (s *SQLiteStore) CreateSupervisor(ctx context.Context, tx *Tx, sup *models.Supervisor) error {
	if sup.ID == "" {
		sup.ID = NewULID()
	}
	now := time.Now().UTC()
	sup.CreatedAt = now
	sup.UpdatedAt = now

	var lastActive any
	if !sup.LastActiveAt.IsZero() {
		lastActive = sup.LastActiveAt
	}

	_, err := s.on(tx).ExecContext(ctx,
		`INSERT INTO supervisors (`+supervisorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sup.ID, string(sup.Kind), sup.UserID, sup.HostSessionID,
		string(sup.ScopeKind), sup.ScopeID, string(sup.Status),
		sup.Config.MonitorInterval, sup.Config.StallThreshold,
		boolToInt(sup.Config.AutoIntervene), sup.Config.Instructions,
		lastActive, sup.CreatedAt, sup.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}
	return nil
}

func scanSupervisor(row interface{ Scan(...any) error }) (*models.Supervisor, error) {
	sup := &models.Supervisor{}
	var kind, scopeKind, status string
	var autoIntervene int
	var lastActive sql.NullTime

	err := row.Scan(&sup.ID, &kind, &sup.UserID, &sup.HostSessionID,
		&scopeKind, &sup.ScopeID, &status,
		&sup.Config.MonitorInterval, &sup.Config.StallThreshold,
		&autoIntervene, &sup.Config.Instructions,
		&lastActive, &sup.CreatedAt, &sup.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sup.Kind = models.SupervisorKind(kind)
	sup.ScopeKind = models.ScopeKind(scopeKind)
	sup.Status = models.SupervisorStatus(status)
	sup.Config.AutoIntervene = autoIntervene != 0
	if lastActive.Valid {
		sup.LastActiveAt = lastActive.Time
	}
	return sup, nil
}

func (s *SQLiteStore) GetSupervisor(ctx context.Context, tx *Tx, id string) (*models.Supervisor, error) {
	row := s.on(tx).QueryRowContext(ctx,
		`SELECT `+supervisorColumns+` FROM supervisors WHERE id = ?`, id)
	sup, err := scanSupervisor(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("supervisor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get supervisor: %w", err)
	}
	return sup, nil
}

// FindScopedSupervisor returns the scoped supervisor for a (user, scope)
// pair, or nil when none exists.
func (s *SQLiteStore) FindScopedSupervisor(ctx context.Context, tx *Tx, userID, scopeID string) (*models.Supervisor, error) {
	row := s.on(tx).QueryRowContext(ctx,
		`SELECT `+supervisorColumns+` FROM supervisors
		WHERE kind = 'scoped' AND user_id = ? AND scope_id = ?`, userID, scopeID)
	sup, err := scanSupervisor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find scoped supervisor: %w", err)
	}
	return sup, nil
}

func (s *SQLiteStore) ListSupervisors(ctx context.Context, userID string) ([]*models.Supervisor, error) {
	query := `SELECT ` + supervisorColumns + ` FROM supervisors`
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list supervisors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sups []*models.Supervisor
	for rows.Next() {
		sup, err := scanSupervisor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan supervisor: %w", err)
		}
		sups = append(sups, sup)
	}
	return sups, rows.Err()
}

func (s *SQLiteStore) UpdateSupervisor(ctx context.Context, tx *Tx, sup *models.Supervisor) error {
	sup.UpdatedAt = time.Now().UTC()

	var lastActive any
	if !sup.LastActiveAt.IsZero() {
		lastActive = sup.LastActiveAt
	}

	result, err := s.on(tx).ExecContext(ctx,
		`UPDATE supervisors SET status=?, monitor_interval=?, stall_threshold=?, auto_intervene=?, instructions=?, last_active_at=?, updated_at=?
		WHERE id=?`,
		string(sup.Status), sup.Config.MonitorInterval, sup.Config.StallThreshold,
		boolToInt(sup.Config.AutoIntervene), sup.Config.Instructions,
		lastActive, sup.UpdatedAt, sup.ID,
	)
	if err != nil {
		return fmt.Errorf("update supervisor: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("supervisor %s: %w", sup.ID, ErrNotFound)
	}
	return nil
}

// --- Insights ---

const insightColumns = `id, supervisor_id, session_id, type, severity, message, context, actions, resolved, resolved_at, created_at`

func (s *SQLiteStore) CreateInsight(ctx context.Context, tx *Tx, ins *models.Insight) error {
	if ins.ID == "" {
		ins.ID = NewULID()
	}
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = time.Now().UTC()
	}

	contextJSON, err := json.Marshal(ins.Context)
	if err != nil {
		contextJSON = []byte("{}")
	}
	actionsJSON, err := json.Marshal(ins.Actions)
	if err != nil {
		actionsJSON = []byte("[]")
	}

	_, err = s.on(tx).ExecContext(ctx,
		`INSERT INTO insights (`+insightColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ins.ID, ins.SupervisorID, ins.SessionID,
		string(ins.Type), string(ins.Severity), ins.Message,
		string(contextJSON), string(actionsJSON),
		boolToInt(ins.Resolved), ins.ResolvedAt, ins.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create insight: %w", err)
	}
	return nil
}

func scanInsight(row interface{ Scan(...any) error }) (*models.Insight, error) {
	ins := &models.Insight{}
	var insType, severity, contextJSON, actionsJSON string
	var resolved int
	var resolvedAt sql.NullTime

	err := row.Scan(&ins.ID, &ins.SupervisorID, &ins.SessionID,
		&insType, &severity, &ins.Message,
		&contextJSON, &actionsJSON,
		&resolved, &resolvedAt, &ins.CreatedAt)
	if err != nil {
		return nil, err
	}

	ins.Type = models.InsightType(insType)
	ins.Severity = models.Severity(severity)
	ins.Resolved = resolved != 0
	if resolvedAt.Valid {
		ins.ResolvedAt = &resolvedAt.Time
	}
	_ = json.Unmarshal([]byte(contextJSON), &ins.Context)
	_ = json.Unmarshal([]byte(actionsJSON), &ins.Actions)
	return ins, nil
}

func (s *SQLiteStore) GetInsight(ctx context.Context, id string) (*models.Insight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+insightColumns+` FROM insights WHERE id = ?`, id)
	ins, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("insight %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get insight: %w", err)
	}
	return ins, nil
}

func (s *SQLiteStore) ListInsights(ctx context.Context, filter InsightFilter) ([]*models.Insight, error) {
	query := `SELECT ` + insightColumns + ` FROM insights WHERE 1=1`
	var args []any

	if filter.SupervisorID != "" {
		query += " AND supervisor_id = ?"
		args = append(args, filter.SupervisorID)
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Unresolved {
		query += " AND resolved = 0"
	}
	query += ` ORDER BY
		CASE severity WHEN 'critical' THEN 0 WHEN 'error' THEN 1 WHEN 'warning' THEN 2 ELSE 3 END,
		created_at DESC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var insights []*models.Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		insights = append(insights, ins)
	}
	return insights, rows.Err()
}

func (s *SQLiteStore) UpdateInsight(ctx context.Context, tx *Tx, ins *models.Insight) error {
	actionsJSON, err := json.Marshal(ins.Actions)
	if err != nil {
		actionsJSON = []byte("[]")
	}

	result, err := s.on(tx).ExecContext(ctx,
		`UPDATE insights SET message=?, actions=?, resolved=?, resolved_at=? WHERE id=?`,
		ins.Message, string(actionsJSON), boolToInt(ins.Resolved), ins.ResolvedAt, ins.ID,
	)
	if err != nil {
		return fmt.Errorf("update insight: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("insight %s: %w", ins.ID, ErrNotFound)
	}
	return nil
}

// --- Audit log ---

func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, tx *Tx, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = NewULID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	detailsJSON, err := json.Marshal(e.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	_, err = s.on(tx).ExecContext(ctx,
		`INSERT INTO audit_log (id, supervisor_id, action, session_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SupervisorID, string(e.Action), e.SessionID,
		string(detailsJSON), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAuditEntries(ctx context.Context, supervisorID string, limit int) ([]*models.AuditEntry, error) {
	query := `SELECT id, supervisor_id, action, session_id, details, created_at FROM audit_log`
	var args []any
	if supervisorID != "" {
		query += " WHERE supervisor_id = ?"
		args = append(args, supervisorID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var action, detailsJSON string
		if err := rows.Scan(&e.ID, &e.SupervisorID, &action, &e.SessionID, &detailsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = models.AuditAction(action)
		_ = json.Unmarshal([]byte(detailsJSON), &e.Details)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

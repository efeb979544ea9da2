package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/overseerhq/overseer/internal/models"
)

// ErrNotFound marks a lookup that matched no record. Callers use
// errors.Is to tell absence apart from storage failures.
var ErrNotFound = errors.New("not found")

// Tx is an opaque transaction handle threaded through store calls. A nil
// *Tx means "execute directly against the database". Handles are only
// created by WithTx; callers never construct one themselves.
type Tx struct {
	tx *sql.Tx
}

// InsightFilter narrows ListInsights results.
type InsightFilter struct {
	SupervisorID string
	SessionID    string
	Unresolved   bool
	Limit        int
}

// Store defines the persistence ports for overseer. Every write accepts an
// optional transaction handle so use cases can group multi-record writes
// into one atomic unit of work.
type Store interface {
	// Supervisors
	CreateSupervisor(ctx context.Context, tx *Tx, s *models.Supervisor) error
	GetSupervisor(ctx context.Context, tx *Tx, id string) (*models.Supervisor, error)
	FindScopedSupervisor(ctx context.Context, tx *Tx, userID, scopeID string) (*models.Supervisor, error)
	ListSupervisors(ctx context.Context, userID string) ([]*models.Supervisor, error)
	UpdateSupervisor(ctx context.Context, tx *Tx, s *models.Supervisor) error

	// Insights
	CreateInsight(ctx context.Context, tx *Tx, ins *models.Insight) error
	GetInsight(ctx context.Context, id string) (*models.Insight, error)
	ListInsights(ctx context.Context, filter InsightFilter) ([]*models.Insight, error)
	UpdateInsight(ctx context.Context, tx *Tx, ins *models.Insight) error

	// Audit log (append-only; no update or delete exists)
	CreateAuditEntry(ctx context.Context, tx *Tx, e *models.AuditEntry) error
	ListAuditEntries(ctx context.Context, supervisorID string, limit int) ([]*models.AuditEntry, error)

	// WithTx runs fn inside a single transaction, committing on nil error
	// and rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx *Tx) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// IsUniqueViolation reports whether err came from a storage-level
// uniqueness constraint. The pure-Go sqlite driver surfaces these as
// "UNIQUE constraint failed" errors without a typed code on the wrapped
// chain, so this matches on the driver's message.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

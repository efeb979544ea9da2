package models

import "time"

// AuditAction is the type of supervisory action an audit entry documents.
type AuditAction string

const (
	AuditCommandInjected   AuditAction = "command_injected"
	AuditStatusChanged     AuditAction = "status_changed"
	AuditInsightGenerated  AuditAction = "insight_generated"
	AuditSessionMonitored  AuditAction = "session_monitored"
	AuditSupervisorCreated AuditAction = "supervisor_created"
)

// AuditEntry is an append-only record of a supervisory action. Entries are
// written in the same unit of work as, and strictly before, the side effect
// they document. There is no update or delete.
type AuditEntry struct {
	ID           string
	SupervisorID string
	Action       AuditAction
	SessionID    string // target session, empty when not session-specific
	Details      map[string]any
	CreatedAt    time.Time
}

package supervise

import "fmt"

// NotFoundError covers absent supervisors, sessions, and scopes. Ownership
// failures are reported with this same error so callers cannot probe for
// the existence of other users' resources.
type NotFoundError struct {
	Kind string // "supervisor", "session", "scope"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// PausedError is returned when an action is attempted on a paused
// supervisor.
type PausedError struct {
	SupervisorID string
}

func (e *PausedError) Error() string {
	return fmt.Sprintf("supervisor %s is paused", e.SupervisorID)
}

// NotInScopeError is returned when the target session lies outside the
// supervisor's authorized scope.
type NotInScopeError struct {
	SupervisorID string
	SessionID    string
	SessionScope string
}

func (e *NotInScopeError) Error() string {
	return fmt.Sprintf("session %s (scope %q) is outside supervisor %s's scope",
		e.SessionID, e.SessionScope, e.SupervisorID)
}

// InvalidCommandError carries the validator's rejection reason.
type InvalidCommandError struct {
	Reason    string
	Dangerous bool
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("invalid command: %s", e.Reason)
}

// AlreadyExistsError reports a scoped-supervisor uniqueness violation and
// points at the supervisor that won.
type AlreadyExistsError struct {
	ExistingID string
	UserID     string
	ScopeID    string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("scoped supervisor already exists for scope %s: %s", e.ScopeID, e.ExistingID)
}

// SessionUnreadyError reports a target session that is gone or unreachable.
type SessionUnreadyError struct {
	SessionID string
}

func (e *SessionUnreadyError) Error() string {
	return fmt.Sprintf("session %s is not reachable", e.SessionID)
}

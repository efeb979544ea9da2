// Package inject delivers supervisor-issued commands into live terminal
// sessions, gated by a safety validator.
package inject

import (
	"context"
	"time"
)

// Validation is the outcome of checking a command against the safety rules.
type Validation struct {
	Valid     bool
	Reason    string // human-readable rejection reason, empty when valid
	Dangerous bool   // allowed but the caller should require confirmation
}

// InjectionResult records one delivery attempt. Expected failure modes
// (dead or unready session) are reported via Success=false and Error, not
// as a Go error.
type InjectionResult struct {
	Success       bool
	SessionID     string // normalized target session id
	InjectedAt    time.Time
	CorrelationID string // ties the attempt to its audit entry
	Error         string
}

// Gateway is the port the supervision core uses to reach the terminal
// transport.
type Gateway interface {
	// InjectCommand types the command into the target session, optionally
	// pressing Enter. It returns an error only for failures of its own
	// execution; an unready target yields a failed result instead.
	InjectCommand(ctx context.Context, sessionID, command string, pressEnter bool) (InjectionResult, error)

	// ValidateCommand checks the command against destructive and
	// cautionary patterns without touching the transport.
	ValidateCommand(command string) Validation

	// SendControlChar sends one of the supported control characters
	// (Ctrl-C, Ctrl-D, Ctrl-Z). It reports success as a boolean.
	SendControlChar(ctx context.Context, sessionID, char string) bool

	// IsSessionReady reports whether the target session is alive.
	IsSessionReady(ctx context.Context, sessionID string) bool

	// CurrentPaneContent returns the visible scrollback of the target.
	CurrentPaneContent(ctx context.Context, sessionID string) (string, error)
}

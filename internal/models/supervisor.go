package models

import (
	"fmt"
	"time"
)

// SupervisorKind distinguishes the global master from folder-scoped supervisors.
type SupervisorKind string

const (
	SupervisorKindMaster SupervisorKind = "master"
	SupervisorKindScoped SupervisorKind = "scoped"
)

// ScopeKind is the kind of boundary a supervisor is bound to.
type ScopeKind string

const (
	ScopeKindNone   ScopeKind = "none"
	ScopeKindFolder ScopeKind = "folder"
)

// SupervisorStatus represents the state of a supervisor.
type SupervisorStatus string

const (
	SupervisorStatusIdle      SupervisorStatus = "idle"
	SupervisorStatusAnalyzing SupervisorStatus = "analyzing"
	SupervisorStatusActing    SupervisorStatus = "acting"
	SupervisorStatusPaused    SupervisorStatus = "paused"
)

// SupervisorConfig holds the tunable monitoring settings of a supervisor.
type SupervisorConfig struct {
	MonitorInterval int // seconds between polling cycles
	StallThreshold  int // seconds of unchanged output before a session counts as stalled
	AutoIntervene   bool
	Instructions    string
}

// DefaultSupervisorConfig returns the monitoring defaults applied when a
// caller does not override them.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MonitorInterval: 30,
		StallThreshold:  300,
	}
}

// Validate rejects non-positive intervals and thresholds.
func (c SupervisorConfig) Validate() error {
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %d", c.MonitorInterval)
	}
	if c.StallThreshold <= 0 {
		return fmt.Errorf("stall threshold must be positive, got %d", c.StallThreshold)
	}
	return nil
}

// Supervisor watches live terminal sessions, detects stalls, and (when
// allowed) injects corrective commands. It is an immutable value: every
// transition returns a new Supervisor rather than mutating the receiver.
type Supervisor struct {
	ID            string
	Kind          SupervisorKind
	UserID        string
	HostSessionID string // the supervisor's own terminal session
	ScopeKind     ScopeKind
	ScopeID       string
	Status        SupervisorStatus
	Config        SupervisorConfig
	LastActiveAt  time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewMasterSupervisor builds a global supervisor that matches every session.
func NewMasterSupervisor(userID, hostSessionID string, cfg SupervisorConfig) (Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return Supervisor{}, err
	}
	return Supervisor{
		Kind:          SupervisorKindMaster,
		UserID:        userID,
		HostSessionID: hostSessionID,
		ScopeKind:     ScopeKindNone,
		Status:        SupervisorStatusIdle,
		Config:        cfg,
	}, nil
}

// NewScopedSupervisor builds a supervisor bound to a single folder scope.
func NewScopedSupervisor(userID, hostSessionID, scopeID string, cfg SupervisorConfig) (Supervisor, error) {
	if scopeID == "" {
		return Supervisor{}, fmt.Errorf("scoped supervisor requires a scope id")
	}
	if err := cfg.Validate(); err != nil {
		return Supervisor{}, err
	}
	return Supervisor{
		Kind:          SupervisorKindScoped,
		UserID:        userID,
		HostSessionID: hostSessionID,
		ScopeKind:     ScopeKindFolder,
		ScopeID:       scopeID,
		Status:        SupervisorStatusIdle,
		Config:        cfg,
	}, nil
}

// IsInScope reports whether the supervisor is authorized to act on a session
// with the given scope id. Master supervisors match everything; scoped
// supervisors match only sessions sharing their scope id.
func (s Supervisor) IsInScope(targetScopeID string) bool {
	if s.Kind == SupervisorKindMaster {
		return true
	}
	return targetScopeID != "" && targetScopeID == s.ScopeID
}

// StartAnalyzing transitions idle -> analyzing.
func (s Supervisor) StartAnalyzing() (Supervisor, error) {
	if s.Status != SupervisorStatusIdle {
		return s, fmt.Errorf("cannot start analyzing: supervisor is %s", s.Status)
	}
	s.Status = SupervisorStatusAnalyzing
	return s, nil
}

// StartActing transitions idle|analyzing -> acting.
func (s Supervisor) StartActing() (Supervisor, error) {
	if s.Status != SupervisorStatusIdle && s.Status != SupervisorStatusAnalyzing {
		return s, fmt.Errorf("cannot start acting: supervisor is %s", s.Status)
	}
	s.Status = SupervisorStatusActing
	return s, nil
}

// ReturnToIdle transitions acting|analyzing -> idle.
func (s Supervisor) ReturnToIdle() (Supervisor, error) {
	if s.Status != SupervisorStatusActing && s.Status != SupervisorStatusAnalyzing {
		return s, fmt.Errorf("cannot return to idle: supervisor is %s", s.Status)
	}
	s.Status = SupervisorStatusIdle
	return s, nil
}

// Pause transitions any status -> paused. Pausing an already-paused
// supervisor is a no-op; callers can compare statuses to skip the write.
func (s Supervisor) Pause() Supervisor {
	s.Status = SupervisorStatusPaused
	return s
}

// Resume transitions paused -> idle.
func (s Supervisor) Resume() (Supervisor, error) {
	if s.Status != SupervisorStatusPaused {
		return s, fmt.Errorf("cannot resume: supervisor is %s", s.Status)
	}
	s.Status = SupervisorStatusIdle
	return s, nil
}

// WithConfig returns a copy with updated settings. Allowed in every status.
func (s Supervisor) WithConfig(cfg SupervisorConfig) (Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return s, err
	}
	s.Config = cfg
	return s, nil
}

// Touch updates the last-activity timestamp without changing status.
func (s Supervisor) Touch(now time.Time) Supervisor {
	s.LastActiveAt = now.UTC()
	return s
}

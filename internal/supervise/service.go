// Package supervise composes the supervisor state machine, stall detector,
// and injection gateway into transactional use cases.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/overseerhq/overseer/internal/inject"
	"github.com/overseerhq/overseer/internal/insight"
	"github.com/overseerhq/overseer/internal/models"
	"github.com/overseerhq/overseer/internal/stall"
	"github.com/overseerhq/overseer/internal/store"
)

// Directory resolves sessions and scopes owned by a user. It backs the
// pure authorization checks that run outside any transaction.
type Directory interface {
	SessionExists(ctx context.Context, userID, sessionID string) (bool, error)
	ScopeExists(ctx context.Context, userID, scopeID string) (bool, error)
	// SessionScope returns the scope id a session currently belongs to.
	SessionScope(ctx context.Context, sessionID string) (string, error)
}

// Service exposes the supervision use cases. It is safe for concurrent
// use: all shared mutable state lives behind the store.
type Service struct {
	store    store.Store
	gateway  inject.Gateway
	dir      Directory
	detector *stall.Detector
	now      func() time.Time
}

// NewService wires the use cases over their ports.
func NewService(st store.Store, gw inject.Gateway, dir Directory, det *stall.Detector) *Service {
	return &Service{
		store:    st,
		gateway:  gw,
		dir:      dir,
		detector: det,
		now:      time.Now,
	}
}

// --- Create ---

// CreateSupervisorInput describes a supervisor to create. ScopeID empty
// means a master supervisor.
type CreateSupervisorInput struct {
	UserID        string
	HostSessionID string
	ScopeID       string
	Config        models.SupervisorConfig // zero value: defaults
}

func (in CreateSupervisorInput) config() models.SupervisorConfig {
	if in.Config == (models.SupervisorConfig{}) {
		return models.DefaultSupervisorConfig()
	}
	return in.Config
}

// CreateScopedSupervisor creates the single scoped supervisor for a
// (user, scope) pair. Uniqueness is enforced twice: an in-transaction
// re-check fails fast in the common case, and the storage unique index is
// the authoritative tie-breaker when two creators race past the check.
func (s *Service) CreateScopedSupervisor(ctx context.Context, in CreateSupervisorInput) (*models.Supervisor, *models.AuditEntry, error) {
	// Pure authorization checks, outside the transaction.
	if ok, err := s.dir.SessionExists(ctx, in.UserID, in.HostSessionID); err != nil {
		return nil, nil, fmt.Errorf("check host session: %w", err)
	} else if !ok {
		return nil, nil, &NotFoundError{Kind: "session", ID: in.HostSessionID}
	}
	if ok, err := s.dir.ScopeExists(ctx, in.UserID, in.ScopeID); err != nil {
		return nil, nil, fmt.Errorf("check scope: %w", err)
	} else if !ok {
		return nil, nil, &NotFoundError{Kind: "scope", ID: in.ScopeID}
	}

	built, err := models.NewScopedSupervisor(in.UserID, in.HostSessionID, in.ScopeID, in.config())
	if err != nil {
		return nil, nil, err
	}
	sup := &built

	entry := &models.AuditEntry{
		Action: models.AuditSupervisorCreated,
		Details: map[string]any{
			"kind":     string(models.SupervisorKindScoped),
			"scope_id": in.ScopeID,
		},
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := s.store.FindScopedSupervisor(ctx, tx, in.UserID, in.ScopeID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &AlreadyExistsError{ExistingID: existing.ID, UserID: in.UserID, ScopeID: in.ScopeID}
		}
		if err := s.store.CreateSupervisor(ctx, tx, sup); err != nil {
			return err
		}
		entry.SupervisorID = sup.ID
		return s.store.CreateAuditEntry(ctx, tx, entry)
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			// Lost a genuine race: report the winner instead of the raw
			// storage error.
			winner, findErr := s.store.FindScopedSupervisor(ctx, nil, in.UserID, in.ScopeID)
			if findErr == nil && winner != nil {
				return nil, nil, &AlreadyExistsError{ExistingID: winner.ID, UserID: in.UserID, ScopeID: in.ScopeID}
			}
			return nil, nil, &AlreadyExistsError{UserID: in.UserID, ScopeID: in.ScopeID}
		}
		return nil, nil, err
	}

	return sup, entry, nil
}

// CreateMasterSupervisor creates a global supervisor for the user. Masters
// are not subject to the scoped uniqueness rule.
func (s *Service) CreateMasterSupervisor(ctx context.Context, in CreateSupervisorInput) (*models.Supervisor, *models.AuditEntry, error) {
	if ok, err := s.dir.SessionExists(ctx, in.UserID, in.HostSessionID); err != nil {
		return nil, nil, fmt.Errorf("check host session: %w", err)
	} else if !ok {
		return nil, nil, &NotFoundError{Kind: "session", ID: in.HostSessionID}
	}

	built, err := models.NewMasterSupervisor(in.UserID, in.HostSessionID, in.config())
	if err != nil {
		return nil, nil, err
	}
	sup := &built

	entry := &models.AuditEntry{
		Action:  models.AuditSupervisorCreated,
		Details: map[string]any{"kind": string(models.SupervisorKindMaster)},
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := s.store.CreateSupervisor(ctx, tx, sup); err != nil {
			return err
		}
		entry.SupervisorID = sup.ID
		return s.store.CreateAuditEntry(ctx, tx, entry)
	})
	if err != nil {
		return nil, nil, err
	}
	return sup, entry, nil
}

// loadOwned fetches a supervisor and hides ownership mismatches behind the
// same not-found error as absence. Storage failures propagate as-is.
func (s *Service) loadOwned(ctx context.Context, userID, supervisorID string) (*models.Supervisor, error) {
	sup, err := s.store.GetSupervisor(ctx, nil, supervisorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "supervisor", ID: supervisorID}
		}
		return nil, fmt.Errorf("load supervisor: %w", err)
	}
	if sup.UserID != userID {
		return nil, &NotFoundError{Kind: "supervisor", ID: supervisorID}
	}
	return sup, nil
}

// --- Pause / Resume / Config ---

// PauseSupervisor moves the supervisor to paused. Pausing an
// already-paused supervisor is a no-op and performs no write.
func (s *Service) PauseSupervisor(ctx context.Context, userID, supervisorID string) (*models.Supervisor, error) {
	sup, err := s.loadOwned(ctx, userID, supervisorID)
	if err != nil {
		return nil, err
	}
	if sup.Status == models.SupervisorStatusPaused {
		return sup, nil
	}

	paused := sup.Pause()
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := s.store.CreateAuditEntry(ctx, tx, &models.AuditEntry{
			SupervisorID: sup.ID,
			Action:       models.AuditStatusChanged,
			Details:      map[string]any{"from": string(sup.Status), "to": string(paused.Status)},
		}); err != nil {
			return err
		}
		return s.store.UpdateSupervisor(ctx, tx, &paused)
	})
	if err != nil {
		return nil, err
	}
	return &paused, nil
}

// ResumeSupervisor moves a paused supervisor back to idle.
func (s *Service) ResumeSupervisor(ctx context.Context, userID, supervisorID string) (*models.Supervisor, error) {
	sup, err := s.loadOwned(ctx, userID, supervisorID)
	if err != nil {
		return nil, err
	}

	resumed, err := sup.Resume()
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := s.store.CreateAuditEntry(ctx, tx, &models.AuditEntry{
			SupervisorID: sup.ID,
			Action:       models.AuditStatusChanged,
			Details:      map[string]any{"from": string(sup.Status), "to": string(resumed.Status)},
		}); err != nil {
			return err
		}
		return s.store.UpdateSupervisor(ctx, tx, &resumed)
	})
	if err != nil {
		return nil, err
	}
	return &resumed, nil
}

// UpdateSupervisorConfig replaces the monitoring settings. Allowed in any
// status, including paused.
func (s *Service) UpdateSupervisorConfig(ctx context.Context, userID, supervisorID string, cfg models.SupervisorConfig) (*models.Supervisor, error) {
	sup, err := s.loadOwned(ctx, userID, supervisorID)
	if err != nil {
		return nil, err
	}

	updated, err := sup.WithConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateSupervisor(ctx, nil, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// --- Inject ---

// InjectCommandInput identifies the actor, target, and command.
type InjectCommandInput struct {
	UserID       string
	SupervisorID string
	SessionID    string
	Command      string
	PressEnter   bool
}

// InjectCommand validates and delivers a command into a session on the
// supervisor's behalf. The audit entry is committed before the transport
// is touched, so every attempt leaves a durable trace even if the process
// dies mid-injection; the injection itself cannot be rolled back and
// therefore runs outside the transaction.
func (s *Service) InjectCommand(ctx context.Context, in InjectCommandInput) (inject.InjectionResult, *models.AuditEntry, error) {
	sup, err := s.loadOwned(ctx, in.UserID, in.SupervisorID)
	if err != nil {
		return inject.InjectionResult{}, nil, err
	}
	if sup.Status == models.SupervisorStatusPaused {
		return inject.InjectionResult{}, nil, &PausedError{SupervisorID: sup.ID}
	}

	sessionScope, err := s.dir.SessionScope(ctx, in.SessionID)
	if err != nil {
		return inject.InjectionResult{}, nil, &SessionUnreadyError{SessionID: in.SessionID}
	}
	if !sup.IsInScope(sessionScope) {
		return inject.InjectionResult{}, nil, &NotInScopeError{
			SupervisorID: sup.ID,
			SessionID:    in.SessionID,
			SessionScope: sessionScope,
		}
	}

	v := s.gateway.ValidateCommand(in.Command)
	if !v.Valid {
		return inject.InjectionResult{}, nil, &InvalidCommandError{Reason: v.Reason, Dangerous: v.Dangerous}
	}

	correlationID := store.NewULID()
	entry := &models.AuditEntry{
		SupervisorID: sup.ID,
		Action:       models.AuditCommandInjected,
		SessionID:    in.SessionID,
		Details: map[string]any{
			"command":        in.Command,
			"press_enter":    in.PressEnter,
			"dangerous":      v.Dangerous,
			"correlation_id": correlationID,
		},
	}
	if err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		return s.store.CreateAuditEntry(ctx, tx, entry)
	}); err != nil {
		return inject.InjectionResult{}, nil, fmt.Errorf("write audit entry: %w", err)
	}

	res, err := s.gateway.InjectCommand(ctx, in.SessionID, in.Command, in.PressEnter)
	res.CorrelationID = correlationID
	if err != nil {
		return res, entry, fmt.Errorf("inject command: %w", err)
	}

	// Best-effort status transition; a failure here must not undo the
	// injection.
	if res.Success && sup.Status == models.SupervisorStatusIdle {
		if acting, terr := sup.StartActing(); terr == nil {
			acting = acting.Touch(s.now())
			_ = s.store.UpdateSupervisor(ctx, nil, &acting)
		}
	}

	return res, entry, nil
}

// --- Sweep ---

// SessionCheck names one session to examine plus its previous snapshot
// (nil on the first cycle).
type SessionCheck struct {
	SessionID string
	Previous  *models.ScrollbackSnapshot
}

// SessionError records a per-session failure during a sweep.
type SessionError struct {
	SessionID string
	Err       string
}

// SweepResult aggregates everything a sweep produced. Snapshots inside
// Results are handed back by the caller on the next cycle.
type SweepResult struct {
	Results  []stall.Result
	Insights []*models.Insight
	Audit    []*models.AuditEntry
	Errors   []SessionError
}

// DetectStalledSessions runs the stall detector over the supplied sessions.
// Per-session failures are collected, never thrown: one unreachable
// session does not block analysis of the rest. All generated insights and
// audit entries are persisted in one all-or-nothing transaction after the
// scan completes. The sweep also drives the status cycle: an idle
// supervisor is analyzing for the duration of the scan, and a supervisor
// still acting or analyzing returns to idle when the sweep completes.
func (s *Service) DetectStalledSessions(ctx context.Context, userID, supervisorID string, sessions []SessionCheck) (*SweepResult, error) {
	sup, err := s.loadOwned(ctx, userID, supervisorID)
	if err != nil {
		return nil, err
	}
	if sup.Status == models.SupervisorStatusPaused {
		return nil, &PausedError{SupervisorID: sup.ID}
	}

	working := *sup
	if sup.Status == models.SupervisorStatusIdle {
		// Best-effort: the scan runs the same way if this write fails.
		if analyzing, terr := sup.StartAnalyzing(); terr == nil {
			if werr := s.store.UpdateSupervisor(ctx, nil, &analyzing); werr == nil {
				working = analyzing
			}
		}
	}

	threshold := time.Duration(sup.Config.StallThreshold) * time.Second
	out := &SweepResult{}

	for _, check := range sessions {
		res, err := s.detector.Detect(ctx, check.SessionID, check.Previous, threshold)
		if err != nil {
			out.Errors = append(out.Errors, SessionError{SessionID: check.SessionID, Err: err.Error()})
			continue
		}
		out.Results = append(out.Results, res)

		if !res.Stalled {
			continue
		}

		ins := insight.FromStall(sup.ID, res)
		out.Insights = append(out.Insights, &ins)

		out.Audit = append(out.Audit,
			&models.AuditEntry{
				SupervisorID: sup.ID,
				Action:       models.AuditSessionMonitored,
				SessionID:    res.SessionID,
				Details: map[string]any{
					"stalled":           true,
					"unchanged_seconds": int(res.UnchangedFor.Seconds()),
					"confidence":        res.Confidence,
				},
			},
			&models.AuditEntry{
				SupervisorID: sup.ID,
				Action:       models.AuditInsightGenerated,
				SessionID:    res.SessionID,
				Details:      map[string]any{"severity": string(ins.Severity)},
			},
		)
	}

	final := working
	if working.Status == models.SupervisorStatusActing || working.Status == models.SupervisorStatusAnalyzing {
		if idle, terr := working.ReturnToIdle(); terr == nil {
			final = idle
		}
	}
	touched := final.Touch(s.now())
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, ins := range out.Insights {
			if err := s.store.CreateInsight(ctx, tx, ins); err != nil {
				return err
			}
		}
		for _, e := range out.Audit {
			if err := s.store.CreateAuditEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return s.store.UpdateSupervisor(ctx, tx, &touched)
	})
	if err != nil {
		return nil, fmt.Errorf("persist sweep results: %w", err)
	}

	return out, nil
}

// ResolveInsight marks an insight handled.
func (s *Service) ResolveInsight(ctx context.Context, userID, insightID string) (*models.Insight, error) {
	ins, err := s.store.GetInsight(ctx, insightID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "insight", ID: insightID}
		}
		return nil, fmt.Errorf("load insight: %w", err)
	}
	if _, err := s.loadOwned(ctx, userID, ins.SupervisorID); err != nil {
		return nil, &NotFoundError{Kind: "insight", ID: insightID}
	}

	resolved := ins.Resolve(s.now())
	if err := s.store.UpdateInsight(ctx, nil, &resolved); err != nil {
		return nil, err
	}
	return &resolved, nil
}

package supervise

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseerhq/overseer/internal/inject"
	"github.com/overseerhq/overseer/internal/models"
	"github.com/overseerhq/overseer/internal/stall"
	"github.com/overseerhq/overseer/internal/store"
)

// fakeDirectory maps sessions to scopes and knows which scopes exist.
type fakeDirectory struct {
	sessionScopes map[string]string // session id -> scope id
	scopes        map[string]bool
}

func (d *fakeDirectory) SessionExists(_ context.Context, _, sessionID string) (bool, error) {
	_, ok := d.sessionScopes[sessionID]
	return ok, nil
}

func (d *fakeDirectory) ScopeExists(_ context.Context, _, scopeID string) (bool, error) {
	return d.scopes[scopeID], nil
}

func (d *fakeDirectory) SessionScope(_ context.Context, sessionID string) (string, error) {
	scope, ok := d.sessionScopes[sessionID]
	if !ok {
		return "", fmt.Errorf("no such session: %s", sessionID)
	}
	return scope, nil
}

type injectedCall struct {
	SessionID string
	Command   string
	Enter     bool
}

// fakeGateway simulates the terminal transport in memory.
type fakeGateway struct {
	mu        sync.Mutex
	content   map[string]string
	ready     map[string]bool
	probeErrs map[string]error
	injected  []injectedCall
}

func (g *fakeGateway) ValidateCommand(command string) inject.Validation {
	return inject.ValidateCommand(command)
}

func (g *fakeGateway) InjectCommand(_ context.Context, sessionID, command string, pressEnter bool) (inject.InjectionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res := inject.InjectionResult{SessionID: sessionID, InjectedAt: time.Now().UTC()}
	if !g.ready[sessionID] {
		res.Error = fmt.Sprintf("session %s is not ready", sessionID)
		return res, nil
	}
	g.injected = append(g.injected, injectedCall{SessionID: sessionID, Command: command, Enter: pressEnter})
	res.Success = true
	return res, nil
}

func (g *fakeGateway) SendControlChar(_ context.Context, sessionID, _ string) bool {
	return g.ready[sessionID]
}

func (g *fakeGateway) IsSessionReady(_ context.Context, sessionID string) bool {
	return g.ready[sessionID]
}

func (g *fakeGateway) CurrentPaneContent(_ context.Context, sessionID string) (string, error) {
	if err := g.probeErrs[sessionID]; err != nil {
		return "", err
	}
	return g.content[sessionID], nil
}

type fixture struct {
	svc     *Service
	store   *store.SQLiteStore
	gateway *fakeGateway
	dir     *fakeDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	gw := &fakeGateway{
		content: map[string]string{},
		ready:   map[string]bool{},
	}
	dir := &fakeDirectory{
		sessionScopes: map[string]string{"host-0": "/work/a"},
		scopes:        map[string]bool{"/work/a": true, "/work/b": true},
	}
	return &fixture{
		svc:     NewService(st, gw, dir, stall.NewDetector(gw)),
		store:   st,
		gateway: gw,
		dir:     dir,
	}
}

func (f *fixture) createScoped(t *testing.T, scopeID string) *models.Supervisor {
	t.Helper()
	sup, _, err := f.svc.CreateScopedSupervisor(context.Background(), CreateSupervisorInput{
		UserID:        "user-1",
		HostSessionID: "host-0",
		ScopeID:       scopeID,
	})
	require.NoError(t, err)
	return sup
}

// --- Creation ---

func TestCreateScopedSupervisor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sup, entry, err := f.svc.CreateScopedSupervisor(ctx, CreateSupervisorInput{
		UserID:        "user-1",
		HostSessionID: "host-0",
		ScopeID:       "/work/a",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sup.ID)
	assert.Equal(t, models.SupervisorKindScoped, sup.Kind)
	assert.Equal(t, models.SupervisorStatusIdle, sup.Status)

	require.NotNil(t, entry)
	assert.Equal(t, models.AuditSupervisorCreated, entry.Action)
	assert.Equal(t, sup.ID, entry.SupervisorID)

	// The creation audit entry is durable and in the same unit of work.
	entries, err := f.store.ListAuditEntries(ctx, sup.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCreateScopedSupervisor_UnknownSessionAndScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateScopedSupervisor(ctx, CreateSupervisorInput{
		UserID:        "user-1",
		HostSessionID: "no-such-session",
		ScopeID:       "/work/a",
	})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "session", nf.Kind)

	_, _, err = f.svc.CreateScopedSupervisor(ctx, CreateSupervisorInput{
		UserID:        "user-1",
		HostSessionID: "host-0",
		ScopeID:       "/no/such/scope",
	})
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "scope", nf.Kind)
}

func TestCreateScopedSupervisor_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.createScoped(t, "/work/a")

	_, _, err := f.svc.CreateScopedSupervisor(ctx, CreateSupervisorInput{
		UserID:        "user-1",
		HostSessionID: "host-0",
		ScopeID:       "/work/a",
	})
	var exists *AlreadyExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, first.ID, exists.ExistingID)

	// A different scope is fine.
	f.createScoped(t, "/work/b")
}

func TestCreateScopedSupervisor_ConcurrentOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sup, _, err := f.svc.CreateScopedSupervisor(ctx, CreateSupervisorInput{
				UserID:        "user-1",
				HostSessionID: "host-0",
				ScopeID:       "/work/a",
			})
			if err == nil {
				ids[i] = sup.ID
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	winners := 0
	winnerID := ""
	for i := range errs {
		if errs[i] == nil {
			winners++
			winnerID = ids[i]
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent create must win")

	for _, err := range errs {
		if err == nil {
			continue
		}
		var exists *AlreadyExistsError
		require.ErrorAs(t, err, &exists)
		assert.Equal(t, winnerID, exists.ExistingID, "losers must point at the winner")
	}
}

// --- Pause / resume ---

func TestPauseSupervisor_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	paused, err := f.svc.PauseSupervisor(ctx, "user-1", sup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SupervisorStatusPaused, paused.Status)

	again, err := f.svc.PauseSupervisor(ctx, "user-1", sup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SupervisorStatusPaused, again.Status)
	assert.Equal(t, paused.UpdatedAt, again.UpdatedAt, "second pause must not write")

	// One status_changed entry, not two.
	entries, err := f.store.ListAuditEntries(ctx, sup.ID, 0)
	require.NoError(t, err)
	statusChanges := 0
	for _, e := range entries {
		if e.Action == models.AuditStatusChanged {
			statusChanges++
		}
	}
	assert.Equal(t, 1, statusChanges)
}

func TestResumeSupervisor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	// Resuming a non-paused supervisor is a transition error.
	_, err := f.svc.ResumeSupervisor(ctx, "user-1", sup.ID)
	require.Error(t, err)

	_, err = f.svc.PauseSupervisor(ctx, "user-1", sup.ID)
	require.NoError(t, err)

	resumed, err := f.svc.ResumeSupervisor(ctx, "user-1", sup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SupervisorStatusIdle, resumed.Status)
}

func TestSupervisorOwnership_IndistinguishableFromAbsence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	_, errOther := f.svc.PauseSupervisor(ctx, "user-2", sup.ID)
	_, errAbsent := f.svc.PauseSupervisor(ctx, "user-1", "nonexistent")

	var nf *NotFoundError
	require.ErrorAs(t, errOther, &nf)
	require.ErrorAs(t, errAbsent, &nf)
	assert.Equal(t, "supervisor", nf.Kind)
}

func TestSupervisorLookup_StorageFailureIsNotNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	// A broken store must surface as a storage error, not as absence.
	require.NoError(t, f.store.Close())

	_, err := f.svc.PauseSupervisor(ctx, "user-1", sup.ID)
	require.Error(t, err)
	var nf *NotFoundError
	assert.False(t, errors.As(err, &nf), "transient storage failures must not look like absence")

	_, err = f.svc.ResolveInsight(ctx, "user-1", "some-insight")
	require.Error(t, err)
	assert.False(t, errors.As(err, &nf))
}

func TestUpdateSupervisorConfig_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	updated, err := f.svc.UpdateSupervisorConfig(ctx, "user-1", sup.ID, models.SupervisorConfig{
		MonitorInterval: 15,
		StallThreshold:  120,
		AutoIntervene:   true,
		Instructions:    "prefer gentle nudges",
	})
	require.NoError(t, err)
	assert.Equal(t, 15, updated.Config.MonitorInterval)
	assert.True(t, updated.Config.AutoIntervene)

	_, err = f.svc.UpdateSupervisorConfig(ctx, "user-1", sup.ID, models.SupervisorConfig{
		MonitorInterval: 0,
		StallThreshold:  120,
	})
	assert.Error(t, err)

	_, err = f.svc.UpdateSupervisorConfig(ctx, "user-1", sup.ID, models.SupervisorConfig{
		MonitorInterval: 15,
		StallThreshold:  -1,
	})
	assert.Error(t, err)
}

// --- Inject ---

func TestInjectCommand_LogThenAct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	f.dir.sessionScopes["work-1"] = "/work/a"
	f.gateway.ready["work-1"] = true

	res, entry, err := f.svc.InjectCommand(ctx, InjectCommandInput{
		UserID:       "user-1",
		SupervisorID: sup.ID,
		SessionID:    "work-1",
		Command:      "make test",
		PressEnter:   true,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.CorrelationID)

	require.NotNil(t, entry)
	assert.Equal(t, models.AuditCommandInjected, entry.Action)
	assert.Equal(t, res.CorrelationID, entry.Details["correlation_id"])
	assert.Equal(t, "make test", entry.Details["command"])

	require.Len(t, f.gateway.injected, 1)
	assert.Equal(t, "work-1", f.gateway.injected[0].SessionID)

	// Idle supervisor transitions to acting after a successful injection.
	got, err := f.store.GetSupervisor(ctx, nil, sup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SupervisorStatusActing, got.Status)
}

func TestInjectCommand_FailedDeliveryStillAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	// Session resolvable but transport reports it dead.
	f.dir.sessionScopes["work-1"] = "/work/a"
	f.gateway.ready["work-1"] = false

	res, entry, err := f.svc.InjectCommand(ctx, InjectCommandInput{
		UserID:       "user-1",
		SupervisorID: sup.ID,
		SessionID:    "work-1",
		Command:      "make test",
		PressEnter:   true,
	})
	require.NoError(t, err, "a dead session is an expected failure, not an error")
	assert.False(t, res.Success)
	require.NotNil(t, entry)

	// The audit entry was committed before the delivery attempt.
	entries, err := f.store.ListAuditEntries(ctx, sup.ID, 0)
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Action == models.AuditCommandInjected {
			found = true
		}
	}
	assert.True(t, found, "every injection attempt must leave an audit trace")

	// Failed injection leaves the supervisor idle.
	got, err := f.store.GetSupervisor(ctx, nil, sup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SupervisorStatusIdle, got.Status)
}

func TestInjectCommand_Paused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	_, err := f.svc.PauseSupervisor(ctx, "user-1", sup.ID)
	require.NoError(t, err)

	_, _, err = f.svc.InjectCommand(ctx, InjectCommandInput{
		UserID:       "user-1",
		SupervisorID: sup.ID,
		SessionID:    "work-1",
		Command:      "ls",
	})
	var paused *PausedError
	require.ErrorAs(t, err, &paused)
}

func TestInjectCommand_ScopeAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scoped := f.createScoped(t, "/work/a")
	master, _, err := f.svc.CreateMasterSupervisor(ctx, CreateSupervisorInput{
		UserID:        "user-1",
		HostSessionID: "host-0",
	})
	require.NoError(t, err)

	// Session in folder B
	f.dir.sessionScopes["work-b"] = "/work/b"
	f.gateway.ready["work-b"] = true

	_, _, err = f.svc.InjectCommand(ctx, InjectCommandInput{
		UserID:       "user-1",
		SupervisorID: scoped.ID,
		SessionID:    "work-b",
		Command:      "ls",
	})
	var oos *NotInScopeError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, "work-b", oos.SessionID)

	// The master supervisor can reach any scope.
	res, _, err := f.svc.InjectCommand(ctx, InjectCommandInput{
		UserID:       "user-1",
		SupervisorID: master.ID,
		SessionID:    "work-b",
		Command:      "ls",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestInjectCommand_InvalidCommandRejectedBeforeAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	f.dir.sessionScopes["work-1"] = "/work/a"
	f.gateway.ready["work-1"] = true

	_, _, err := f.svc.InjectCommand(ctx, InjectCommandInput{
		UserID:       "user-1",
		SupervisorID: sup.ID,
		SessionID:    "work-1",
		Command:      "rm -rf /",
	})
	var invalid *InvalidCommandError
	require.ErrorAs(t, err, &invalid)
	assert.True(t, invalid.Dangerous)
	assert.Empty(t, f.gateway.injected)

	// Validation happens before the audit write; nothing was attempted.
	entries, err := f.store.ListAuditEntries(ctx, sup.ID, 0)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, models.AuditCommandInjected, e.Action)
	}
}

func TestInjectCommand_UnresolvableSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	_, _, err := f.svc.InjectCommand(ctx, InjectCommandInput{
		UserID:       "user-1",
		SupervisorID: sup.ID,
		SessionID:    "vanished",
		Command:      "ls",
	})
	var unready *SessionUnreadyError
	require.ErrorAs(t, err, &unready)
}

// --- Sweep ---

func snapshotAge(content string, age time.Duration) *models.ScrollbackSnapshot {
	snap := models.NewScrollbackSnapshot(content, time.Now().Add(-age))
	return &snap
}

func TestDetectStalledSessions_GeneratesInsights(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	// Threshold is 300s. Session frozen for 20 minutes.
	frozen := "$ npm install\n... hanging ...\n"
	f.gateway.content["work-1"] = frozen

	res, err := f.svc.DetectStalledSessions(ctx, "user-1", sup.ID, []SessionCheck{
		{SessionID: "work-1", Previous: snapshotAge(frozen, 20*time.Minute)},
	})
	require.NoError(t, err)

	require.Len(t, res.Results, 1)
	assert.True(t, res.Results[0].Stalled)

	require.Len(t, res.Insights, 1)
	ins := res.Insights[0]
	assert.Equal(t, models.InsightTypeStallDetected, ins.Type)
	assert.Equal(t, models.SeverityWarning, ins.Severity)
	assert.NotEmpty(t, ins.ID, "insight was persisted")

	// session_monitored + insight_generated audit pair in the same batch.
	entries, err := f.store.ListAuditEntries(ctx, sup.ID, 0)
	require.NoError(t, err)
	var actions []models.AuditAction
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, models.AuditSessionMonitored)
	assert.Contains(t, actions, models.AuditInsightGenerated)

	// Stored insight is queryable.
	stored, err := f.store.ListInsights(ctx, store.InsightFilter{SupervisorID: sup.ID})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestDetectStalledSessions_ActiveSessionNoInsight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	f.gateway.content["work-1"] = "fresh output"

	res, err := f.svc.DetectStalledSessions(ctx, "user-1", sup.ID, []SessionCheck{
		{SessionID: "work-1", Previous: snapshotAge("old output", time.Hour)},
	})
	require.NoError(t, err)

	require.Len(t, res.Results, 1)
	assert.False(t, res.Results[0].Stalled)
	assert.Equal(t, 1.0, res.Results[0].Confidence)
	assert.Empty(t, res.Insights)
}

func TestDetectStalledSessions_PerSessionFailureIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	frozen := "stuck"
	f.gateway.content["work-1"] = frozen
	f.gateway.content["work-3"] = frozen
	f.gateway.probeErrs = map[string]error{"work-2": errors.New("pane vanished")}

	res, err := f.svc.DetectStalledSessions(ctx, "user-1", sup.ID, []SessionCheck{
		{SessionID: "work-1", Previous: snapshotAge(frozen, 10*time.Minute)},
		{SessionID: "work-2", Previous: snapshotAge(frozen, 10*time.Minute)},
		{SessionID: "work-3", Previous: snapshotAge(frozen, 10*time.Minute)},
	})
	require.NoError(t, err, "one broken session must not abort the sweep")

	assert.Len(t, res.Results, 2, "sessions 1 and 3 still analyzed")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "work-2", res.Errors[0].SessionID)
	assert.Contains(t, res.Errors[0].Err, "pane vanished")
}

func TestDetectStalledSessions_FirstCycleInsufficientHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	f.gateway.content["work-1"] = "anything"

	res, err := f.svc.DetectStalledSessions(ctx, "user-1", sup.ID, []SessionCheck{
		{SessionID: "work-1", Previous: nil},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.False(t, res.Results[0].Stalled)
	assert.Equal(t, "insufficient history", res.Results[0].Reason)
	assert.NotEmpty(t, res.Results[0].Snapshot.ContentHash, "snapshot handed back for the next cycle")
}

func TestDetectStalledSessions_ActingSupervisorReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	f.dir.sessionScopes["work-1"] = "/work/a"
	f.gateway.ready["work-1"] = true
	f.gateway.content["work-1"] = "running"

	_, _, err := f.svc.InjectCommand(ctx, InjectCommandInput{
		UserID:       "user-1",
		SupervisorID: sup.ID,
		SessionID:    "work-1",
		Command:      "make test",
		PressEnter:   true,
	})
	require.NoError(t, err)

	got, err := f.store.GetSupervisor(ctx, nil, sup.ID)
	require.NoError(t, err)
	require.Equal(t, models.SupervisorStatusActing, got.Status)

	// The next sweep closes the intervention cycle.
	_, err = f.svc.DetectStalledSessions(ctx, "user-1", sup.ID, []SessionCheck{
		{SessionID: "work-1", Previous: nil},
	})
	require.NoError(t, err)

	got, err = f.store.GetSupervisor(ctx, nil, sup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SupervisorStatusIdle, got.Status)
}

func TestDetectStalledSessions_IdleSupervisorEndsIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	f.gateway.content["work-1"] = "anything"

	_, err := f.svc.DetectStalledSessions(ctx, "user-1", sup.ID, []SessionCheck{
		{SessionID: "work-1", Previous: nil},
	})
	require.NoError(t, err)

	got, err := f.store.GetSupervisor(ctx, nil, sup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SupervisorStatusIdle, got.Status)
	assert.False(t, got.LastActiveAt.IsZero(), "sweep updates activity")
}

func TestDetectStalledSessions_Paused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	_, err := f.svc.PauseSupervisor(ctx, "user-1", sup.ID)
	require.NoError(t, err)

	_, err = f.svc.DetectStalledSessions(ctx, "user-1", sup.ID, nil)
	var paused *PausedError
	require.ErrorAs(t, err, &paused)
}

// --- Insights ---

func TestResolveInsight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sup := f.createScoped(t, "/work/a")

	frozen := "stuck"
	f.gateway.content["work-1"] = frozen
	res, err := f.svc.DetectStalledSessions(ctx, "user-1", sup.ID, []SessionCheck{
		{SessionID: "work-1", Previous: snapshotAge(frozen, 10*time.Minute)},
	})
	require.NoError(t, err)
	require.Len(t, res.Insights, 1)

	resolved, err := f.svc.ResolveInsight(ctx, "user-1", res.Insights[0].ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.NotNil(t, resolved.ResolvedAt)

	// Another user cannot resolve it (reported as not found).
	_, err = f.svc.ResolveInsight(ctx, "user-2", res.Insights[0].ID)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

// Package mcp exposes the supervision layer as MCP tools, so an agent
// running inside a supervised session can inspect and steer its own
// supervisors.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/overseerhq/overseer/internal/health"
	"github.com/overseerhq/overseer/internal/models"
	"github.com/overseerhq/overseer/internal/snapcache"
	"github.com/overseerhq/overseer/internal/store"
	"github.com/overseerhq/overseer/internal/supervise"
)

// Server wraps the supervision service and exposes it as MCP tools.
type Server struct {
	svc      *supervise.Service
	store    store.Store
	scorer   *health.Scorer
	userID   string
	snapPath string
}

// NewServer creates the MCP server wrapper. snapPath locates the snapshot
// cache used by the stall-detection tool across calls.
func NewServer(svc *supervise.Service, st store.Store, userID, snapPath string) *Server {
	return &Server{
		svc:      svc,
		store:    st,
		scorer:   health.NewScorer(),
		userID:   userID,
		snapPath: snapPath,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("overseer", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.createSupervisorTool())
	srv.AddTool(s.listSupervisorsTool())
	srv.AddTool(s.supervisorStatusTool())
	srv.AddTool(s.pauseSupervisorTool())
	srv.AddTool(s.resumeSupervisorTool())
	srv.AddTool(s.injectCommandTool())
	srv.AddTool(s.detectStallsTool())
	srv.AddTool(s.listInsightsTool())
	srv.AddTool(s.resolveInsightTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// overseer_create_supervisor
func (s *Server) createSupervisorTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("overseer_create_supervisor",
		mcp.WithDescription("Create a supervisor. With a scope path the supervisor is bound to that folder (at most one per folder); without one a master supervisor watching everything is created. Returns the supervisor as JSON."),
		mcp.WithString("host_session", mcp.Required(), mcp.Description("Terminal session the supervisor runs in")),
		mcp.WithString("scope", mcp.Description("Folder path to bind the supervisor to (omit for a master supervisor)")),
		mcp.WithNumber("stall_threshold", mcp.Description("Seconds of unchanged output before a session counts as stalled (default 300)")),
	)
	return tool, s.handleCreateSupervisor
}

func (s *Server) handleCreateSupervisor(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hostSession, err := request.RequireString("host_session")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: host_session"), nil
	}

	cfg := models.DefaultSupervisorConfig()
	if threshold := request.GetInt("stall_threshold", 0); threshold > 0 {
		cfg.StallThreshold = threshold
	}

	in := supervise.CreateSupervisorInput{
		UserID:        s.userID,
		HostSessionID: hostSession,
		ScopeID:       request.GetString("scope", ""),
		Config:        cfg,
	}

	var sup *models.Supervisor
	if in.ScopeID != "" {
		sup, _, err = s.svc.CreateScopedSupervisor(ctx, in)
	} else {
		sup, _, err = s.svc.CreateMasterSupervisor(ctx, in)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(supervisorOut(sup))
}

// overseer_list_supervisors
func (s *Server) listSupervisorsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("overseer_list_supervisors",
		mcp.WithDescription("List all supervisors. Returns a JSON array with id, kind, scope, status, and last activity."),
	)
	return tool, s.handleListSupervisors
}

func (s *Server) handleListSupervisors(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sups, err := s.store.ListSupervisors(ctx, s.userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list supervisors: %v", err)), nil
	}

	out := make([]map[string]any, len(sups))
	for i, sup := range sups {
		out[i] = supervisorOut(sup)
	}
	return jsonResult(out)
}

// overseer_supervisor_status
func (s *Server) supervisorStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("overseer_supervisor_status",
		mcp.WithDescription("Get a supervisor's detailed status: configuration, unresolved insight counts by severity, health score breakdown, and recent audit activity."),
		mcp.WithString("supervisor_id", mcp.Required(), mcp.Description("Supervisor ID (full ULID or unique prefix)")),
	)
	return tool, s.handleSupervisorStatus
}

func (s *Server) handleSupervisorStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("supervisor_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: supervisor_id"), nil
	}

	sup, err := s.resolveSupervisor(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	insights, _ := s.store.ListInsights(ctx, store.InsightFilter{SupervisorID: sup.ID})
	unresolvedBySeverity := map[string]int{}
	for _, ins := range insights {
		if !ins.Resolved {
			unresolvedBySeverity[string(ins.Severity)]++
		}
	}

	hscore := s.scorer.Score(sup, insights)

	audit, _ := s.store.ListAuditEntries(ctx, sup.ID, 10)
	recentActions := make([]map[string]any, len(audit))
	for i, e := range audit {
		recentActions[i] = map[string]any{
			"action":     string(e.Action),
			"session_id": e.SessionID,
			"created_at": e.CreatedAt.Format(time.RFC3339),
		}
	}

	result := map[string]any{
		"supervisor": supervisorOut(sup),
		"insights": map[string]any{
			"total":                  len(insights),
			"unresolved_by_severity": unresolvedBySeverity,
		},
		"health": map[string]any{
			"total":            hscore.Total,
			"activity_recency": hscore.ActivityRecency,
			"insight_backlog":  hscore.InsightBacklog,
			"resolution_rate":  hscore.ResolutionRate,
			"availability":     hscore.Availability,
		},
		"recent_audit": recentActions,
	}
	return jsonResult(result)
}

// overseer_pause_supervisor
func (s *Server) pauseSupervisorTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("overseer_pause_supervisor",
		mcp.WithDescription("Pause a supervisor. A paused supervisor rejects injections and sweeps until resumed. Pausing twice is a no-op."),
		mcp.WithString("supervisor_id", mcp.Required(), mcp.Description("Supervisor ID (full ULID or unique prefix)")),
	)
	return tool, s.handlePauseSupervisor
}

func (s *Server) handlePauseSupervisor(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("supervisor_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: supervisor_id"), nil
	}
	sup, err := s.resolveSupervisor(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	paused, err := s.svc.PauseSupervisor(ctx, s.userID, sup.ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(supervisorOut(paused))
}

// overseer_resume_supervisor
func (s *Server) resumeSupervisorTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("overseer_resume_supervisor",
		mcp.WithDescription("Resume a paused supervisor back to idle."),
		mcp.WithString("supervisor_id", mcp.Required(), mcp.Description("Supervisor ID (full ULID or unique prefix)")),
	)
	return tool, s.handleResumeSupervisor
}

func (s *Server) handleResumeSupervisor(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("supervisor_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: supervisor_id"), nil
	}
	sup, err := s.resolveSupervisor(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resumed, err := s.svc.ResumeSupervisor(ctx, s.userID, sup.ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(supervisorOut(resumed))
}

// overseer_inject_command
func (s *Server) injectCommandTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("overseer_inject_command",
		mcp.WithDescription("Validate and inject a shell command into a supervised session. The command is safety-checked first; destructive commands are rejected. Every attempt is audited before delivery. Returns the injection result with a correlation id."),
		mcp.WithString("supervisor_id", mcp.Required(), mcp.Description("Supervisor ID acting on the session (full ULID or unique prefix)")),
		mcp.WithString("session", mcp.Required(), mcp.Description("Target terminal session")),
		mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to inject")),
		mcp.WithBoolean("press_enter", mcp.Description("Press Enter after the command (default true)")),
	)
	return tool, s.handleInjectCommand
}

func (s *Server) handleInjectCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	supervisorID, err := request.RequireString("supervisor_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: supervisor_id"), nil
	}
	session, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session"), nil
	}
	command, err := request.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: command"), nil
	}

	sup, err := s.resolveSupervisor(ctx, supervisorID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, _, err := s.svc.InjectCommand(ctx, supervise.InjectCommandInput{
		UserID:       s.userID,
		SupervisorID: sup.ID,
		SessionID:    session,
		Command:      command,
		PressEnter:   request.GetBool("press_enter", true),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"success":        res.Success,
		"session_id":     res.SessionID,
		"correlation_id": res.CorrelationID,
		"injected_at":    res.InjectedAt.Format(time.RFC3339),
	}
	if res.Error != "" {
		result["error"] = res.Error
	}
	return jsonResult(result)
}

// overseer_detect_stalls
func (s *Server) detectStallsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("overseer_detect_stalls",
		mcp.WithDescription("Run a stall-detection sweep over the given sessions. Uses snapshots cached from the previous call to measure unchanged time; the first call over a session only primes the cache. Generates insights for stalled sessions."),
		mcp.WithString("supervisor_id", mcp.Required(), mcp.Description("Supervisor ID (full ULID or unique prefix)")),
		mcp.WithString("sessions", mcp.Required(), mcp.Description("Comma-separated session ids to check")),
	)
	return tool, s.handleDetectStalls
}

func (s *Server) handleDetectStalls(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	supervisorID, err := request.RequireString("supervisor_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: supervisor_id"), nil
	}
	sessionsArg, err := request.RequireString("sessions")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: sessions"), nil
	}

	sup, err := s.resolveSupervisor(ctx, supervisorID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cache, err := snapcache.Load(s.snapPath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var checks []supervise.SessionCheck
	for _, id := range strings.Split(sessionsArg, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		checks = append(checks, supervise.SessionCheck{SessionID: id, Previous: cache.Get(id)})
	}
	if len(checks) == 0 {
		return mcp.NewToolResultError("no sessions given"), nil
	}

	sweep, err := s.svc.DetectStalledSessions(ctx, s.userID, sup.ID, checks)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	for _, r := range sweep.Results {
		cache.Put(r.SessionID, r.Snapshot)
	}
	if err := cache.Save(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sweep succeeded but snapshot cache save failed: %v", err)), nil
	}

	results := make([]map[string]any, len(sweep.Results))
	for i, r := range sweep.Results {
		results[i] = map[string]any{
			"session_id":        r.SessionID,
			"stalled":           r.Stalled,
			"confidence":        r.Confidence,
			"unchanged_seconds": int(r.UnchangedFor.Seconds()),
			"reason":            r.Reason,
		}
	}
	insights := make([]map[string]any, len(sweep.Insights))
	for i, ins := range sweep.Insights {
		insights[i] = insightOut(ins)
	}
	errs := make([]map[string]any, len(sweep.Errors))
	for i, e := range sweep.Errors {
		errs[i] = map[string]any{"session_id": e.SessionID, "error": e.Err}
	}

	return jsonResult(map[string]any{
		"results":  results,
		"insights": insights,
		"errors":   errs,
	})
}

// overseer_list_insights
func (s *Server) listInsightsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("overseer_list_insights",
		mcp.WithDescription("List generated insights, optionally filtered by supervisor, session, and resolution state. Ordered most severe first."),
		mcp.WithString("supervisor_id", mcp.Description("Supervisor ID to filter by (full ULID or unique prefix)")),
		mcp.WithString("session", mcp.Description("Session id to filter by")),
		mcp.WithBoolean("unresolved", mcp.Description("Only unresolved insights")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of insights to return")),
	)
	return tool, s.handleListInsights
}

func (s *Server) handleListInsights(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.InsightFilter{
		SessionID:  request.GetString("session", ""),
		Unresolved: request.GetBool("unresolved", false),
		Limit:      request.GetInt("limit", 0),
	}
	if id := request.GetString("supervisor_id", ""); id != "" {
		sup, err := s.resolveSupervisor(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.SupervisorID = sup.ID
	}

	insights, err := s.store.ListInsights(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list insights: %v", err)), nil
	}

	out := make([]map[string]any, len(insights))
	for i, ins := range insights {
		out[i] = insightOut(ins)
	}
	return jsonResult(out)
}

// overseer_resolve_insight
func (s *Server) resolveInsightTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("overseer_resolve_insight",
		mcp.WithDescription("Mark an insight as handled. Insights are never deleted; resolving records who looked at it and when."),
		mcp.WithString("insight_id", mcp.Required(), mcp.Description("Insight ID (full ULID or unique prefix)")),
	)
	return tool, s.handleResolveInsight
}

func (s *Server) handleResolveInsight(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("insight_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: insight_id"), nil
	}

	ins, err := s.findInsight(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resolved, err := s.svc.ResolveInsight(ctx, s.userID, ins.ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(insightOut(resolved))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func supervisorOut(sup *models.Supervisor) map[string]any {
	out := map[string]any{
		"id":           sup.ID,
		"kind":         string(sup.Kind),
		"status":       string(sup.Status),
		"host_session": sup.HostSessionID,
		"config": map[string]any{
			"monitor_interval": sup.Config.MonitorInterval,
			"stall_threshold":  sup.Config.StallThreshold,
			"auto_intervene":   sup.Config.AutoIntervene,
		},
		"created_at": sup.CreatedAt.Format(time.RFC3339),
	}
	if sup.ScopeID != "" {
		out["scope"] = sup.ScopeID
	}
	if !sup.LastActiveAt.IsZero() {
		out["last_active_at"] = sup.LastActiveAt.Format(time.RFC3339)
	}
	return out
}

func insightOut(ins *models.Insight) map[string]any {
	actions := make([]map[string]any, len(ins.Actions))
	for i, a := range ins.Actions {
		actions[i] = map[string]any{
			"label":       a.Label,
			"description": a.Description,
			"command":     a.Command,
			"dangerous":   a.Dangerous,
		}
	}
	out := map[string]any{
		"id":            ins.ID,
		"supervisor_id": ins.SupervisorID,
		"session_id":    ins.SessionID,
		"type":          string(ins.Type),
		"severity":      string(ins.Severity),
		"message":       ins.Message,
		"context":       ins.Context,
		"actions":       actions,
		"resolved":      ins.Resolved,
		"created_at":    ins.CreatedAt.Format(time.RFC3339),
	}
	if ins.ResolvedAt != nil {
		out["resolved_at"] = ins.ResolvedAt.Format(time.RFC3339)
	}
	return out
}

// resolveSupervisor finds a supervisor by full ID or unique prefix.
func (s *Server) resolveSupervisor(ctx context.Context, id string) (*models.Supervisor, error) {
	if sup, err := s.store.GetSupervisor(ctx, nil, id); err == nil && sup.UserID == s.userID {
		return sup, nil
	}

	upper := strings.ToUpper(id)
	sups, err := s.store.ListSupervisors(ctx, s.userID)
	if err != nil {
		return nil, err
	}

	var matches []*models.Supervisor
	for _, sup := range sups {
		if strings.HasPrefix(sup.ID, upper) {
			matches = append(matches, sup)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("supervisor not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous supervisor ID %s: matches %d supervisors", id, len(matches))
	}
}

// findInsight finds an insight by full ID or unique prefix.
func (s *Server) findInsight(ctx context.Context, id string) (*models.Insight, error) {
	if ins, err := s.store.GetInsight(ctx, id); err == nil {
		return ins, nil
	}

	upper := strings.ToUpper(id)
	insights, err := s.store.ListInsights(ctx, store.InsightFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.Insight
	for _, ins := range insights {
		if strings.HasPrefix(ins.ID, upper) {
			matches = append(matches, ins)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("insight not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous insight ID %s: matches %d insights", id, len(matches))
	}
}

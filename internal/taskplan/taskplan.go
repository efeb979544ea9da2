// Package taskplan turns free-text requests into structured tasks and
// execution plans. The heuristic planner is the default backend; the
// Anthropic-backed planner implements the same interface for callers that
// want real language understanding.
package taskplan

import (
	"context"

	"github.com/overseerhq/overseer/internal/models"
)

// TranscriptAnalysis summarizes what a session transcript shows.
type TranscriptAnalysis struct {
	Summary  string   `json:"summary"`
	State    string   `json:"state"` // "working", "waiting", "done", "error"
	Errors   []string `json:"errors,omitempty"`
	Stalled  bool     `json:"stalled"`
	NeedHelp bool     `json:"need_help"`
}

// ProgressReport is the planner's read on how a delegated task is going.
type ProgressReport struct {
	Working   bool   `json:"working"`
	Completed bool   `json:"completed"`
	Failed    bool   `json:"failed"`
	Summary   string `json:"summary"`
}

// Planner is the task-planning backend. Every method must be implementable
// by a language-model backend without changing callers.
type Planner interface {
	// Parse classifies a free-text request into a structured task.
	Parse(ctx context.Context, input string) (models.Task, error)
	// Plan decides how a task should be executed and isolated.
	Plan(ctx context.Context, task models.Task) (models.ExecutionPlan, error)
	// AnalyzeTranscript reads a session transcript and reports its state.
	AnalyzeTranscript(ctx context.Context, transcript string) (TranscriptAnalysis, error)
	// GenerateContextInjection builds the context string to send into the
	// session that will execute the task.
	GenerateContextInjection(ctx context.Context, task models.Task, plan models.ExecutionPlan) (string, error)
	// AnalyzeProgress reads current pane content for a delegated task.
	AnalyzeProgress(ctx context.Context, task models.Task, paneContent string) (ProgressReport, error)
}

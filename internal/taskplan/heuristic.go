package taskplan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/overseerhq/overseer/internal/models"
	"github.com/overseerhq/overseer/internal/store"
)

// heuristicConfidence is the fixed score attached to keyword-based parses.
// Keyword matching cannot distinguish a good classification from a lucky
// one, so every parse gets the same middling confidence.
const heuristicConfidence = 0.7

// defaultAgent is the agent command planned for delegated tasks.
const defaultAgent = "claude"

// typeKeywords maps task types to the keywords that select them. Checked
// in a fixed order; the first type with a hit wins and anything unmatched
// is a feature.
var typeKeywords = []struct {
	taskType models.TaskType
	words    []string
}{
	{models.TaskTypeBug, []string{"fix", "bug", "broken", "crash", "regression", "error"}},
	{models.TaskTypeRefactor, []string{"refactor", "restructure", "clean up", "cleanup", "rename", "extract"}},
	{models.TaskTypeTest, []string{"test", "coverage", "spec"}},
	{models.TaskTypeDoc, []string{"document", "docs", "readme", "changelog"}},
	{models.TaskTypeResearch, []string{"research", "investigate", "explore", "compare", "evaluate"}},
	{models.TaskTypeReview, []string{"review", "audit", "inspect"}},
}

// HeuristicPlanner classifies tasks by keyword matching. It is a
// deliberately simple stand-in for a language-model backend.
type HeuristicPlanner struct {
	now func() time.Time
}

// NewHeuristicPlanner returns the keyword-based planner.
func NewHeuristicPlanner() *HeuristicPlanner {
	return &HeuristicPlanner{now: time.Now}
}

func classify(input string) models.TaskType {
	lower := strings.ToLower(input)
	for _, tk := range typeKeywords {
		for _, w := range tk.words {
			if strings.Contains(lower, w) {
				return tk.taskType
			}
		}
	}
	return models.TaskTypeFeature
}

// titleOf takes the first line of the input, truncated to something that
// fits in a list view.
func titleOf(input string) string {
	title := strings.TrimSpace(input)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	const maxTitle = 80
	if len(title) > maxTitle {
		title = strings.TrimSpace(title[:maxTitle-3]) + "..."
	}
	return title
}

func (p *HeuristicPlanner) Parse(_ context.Context, input string) (models.Task, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return models.Task{}, fmt.Errorf("empty task input")
	}
	now := p.now().UTC()
	return models.Task{
		ID:         store.NewULID(),
		Input:      input,
		Title:      titleOf(input),
		Type:       classify(input),
		Status:     models.TaskStatusQueued,
		Confidence: heuristicConfidence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// isolationFor picks how the task's work is kept off the main tree:
// features and refactors get a full worktree, bug fixes a branch, and
// everything else runs in place.
func isolationFor(t models.TaskType) models.IsolationStrategy {
	switch t {
	case models.TaskTypeFeature, models.TaskTypeRefactor:
		return models.IsolationWorktree
	case models.TaskTypeBug:
		return models.IsolationBranch
	default:
		return models.IsolationNone
	}
}

// branchSlug derives a git-safe branch name from a task title.
func branchSlug(taskType models.TaskType, title string) string {
	var b strings.Builder
	prevDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	const maxSlug = 40
	if len(slug) > maxSlug {
		slug = strings.Trim(slug[:maxSlug], "-")
	}
	if slug == "" {
		slug = "task"
	}
	return string(taskType) + "/" + slug
}

func (p *HeuristicPlanner) Plan(ctx context.Context, task models.Task) (models.ExecutionPlan, error) {
	if task.ID == "" {
		return models.ExecutionPlan{}, fmt.Errorf("task has no id")
	}
	isolation := isolationFor(task.Type)
	plan := models.ExecutionPlan{
		TaskID:    task.ID,
		Agent:     defaultAgent,
		Isolation: isolation,
	}
	if isolation != models.IsolationNone {
		plan.Branch = branchSlug(task.Type, task.Title)
	}
	ctxStr, err := p.GenerateContextInjection(ctx, task, plan)
	if err != nil {
		return models.ExecutionPlan{}, err
	}
	plan.Context = ctxStr
	return plan, nil
}

func (p *HeuristicPlanner) GenerateContextInjection(_ context.Context, task models.Task, plan models.ExecutionPlan) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", task.Title)
	fmt.Fprintf(&sb, "Type: %s\n", task.Type)
	if plan.Branch != "" {
		fmt.Fprintf(&sb, "Work on branch %s", plan.Branch)
		if plan.Isolation == models.IsolationWorktree {
			sb.WriteString(" in a dedicated worktree")
		}
		sb.WriteString(".\n")
	}
	fmt.Fprintf(&sb, "\nRequest:\n%s\n", task.Input)
	return sb.String(), nil
}

// errorMarkers are transcript lines that indicate a failing session.
var errorMarkers = []string{"error:", "panic:", "fatal:", "traceback (most recent call last)", "command not found"}

// doneMarkers indicate a session that finished its work.
var doneMarkers = []string{"all tests passed", "build succeeded", "done.", "completed successfully"}

func (p *HeuristicPlanner) AnalyzeTranscript(_ context.Context, transcript string) (TranscriptAnalysis, error) {
	lower := strings.ToLower(transcript)

	analysis := TranscriptAnalysis{State: "working", Summary: "session appears active"}
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			analysis.Errors = append(analysis.Errors, m)
		}
	}
	switch {
	case len(analysis.Errors) > 0:
		analysis.State = "error"
		analysis.NeedHelp = true
		analysis.Summary = "transcript shows errors"
	case containsAny(lower, doneMarkers):
		analysis.State = "done"
		analysis.Summary = "session reports completed work"
	case strings.TrimSpace(transcript) == "":
		analysis.State = "waiting"
		analysis.Stalled = true
		analysis.Summary = "no output captured"
	}
	return analysis, nil
}

func (p *HeuristicPlanner) AnalyzeProgress(ctx context.Context, task models.Task, paneContent string) (ProgressReport, error) {
	analysis, err := p.AnalyzeTranscript(ctx, paneContent)
	if err != nil {
		return ProgressReport{}, err
	}
	return ProgressReport{
		Working:   analysis.State == "working",
		Completed: analysis.State == "done",
		Failed:    analysis.State == "error",
		Summary:   fmt.Sprintf("%s: %s", task.Title, analysis.Summary),
	}, nil
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

package taskplan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/overseerhq/overseer/internal/models"
	"github.com/overseerhq/overseer/internal/store"
)

// LLMPlanner implements Planner against the Anthropic API. It degrades to
// the heuristic planner's semantics only in shape, never silently: API
// failures are returned to the caller, who decides whether to fall back.
type LLMPlanner struct {
	api      *anthropic.Client
	model    anthropic.Model
	fallback *HeuristicPlanner
	now      func() time.Time
}

// NewLLMPlanner creates a planner with the given API key and model.
func NewLLMPlanner(apiKey, model string) *LLMPlanner {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &LLMPlanner{
		api:      &client,
		model:    anthropic.Model(model),
		fallback: NewHeuristicPlanner(),
		now:      time.Now,
	}
}

// complete sends one system+user exchange and returns the text of the
// first text block.
func (p *LLMPlanner) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := p.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}

// stripFences removes markdown code fencing if the model wrapped its JSON
// despite instructions.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

func decodeJSON(text string, v any) error {
	text = stripFences(text)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return nil
}

const parseSystemPrompt = `You classify developer task requests. Return ONLY a JSON object with these fields:
- "title": concise task title (max 80 chars)
- "type": one of "feature", "bug", "refactor", "test", "doc", "research", "review"
- "confidence": a number between 0 and 1 for how sure you are of the classification

Rules:
- Infer type from intent, not just keywords (fixing things = bug, new capabilities = feature)
- Return valid JSON only, no markdown fencing or explanation`

func (p *LLMPlanner) Parse(ctx context.Context, input string) (models.Task, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return models.Task{}, fmt.Errorf("empty task input")
	}

	text, err := p.complete(ctx, parseSystemPrompt, "Classify this task request:\n\n"+input, 1024)
	if err != nil {
		return models.Task{}, err
	}

	var parsed struct {
		Title      string  `json:"title"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	}
	if err := decodeJSON(text, &parsed); err != nil {
		return models.Task{}, err
	}
	if parsed.Title == "" {
		parsed.Title = titleOf(input)
	}
	taskType := models.TaskType(parsed.Type)
	switch taskType {
	case models.TaskTypeFeature, models.TaskTypeBug, models.TaskTypeRefactor,
		models.TaskTypeTest, models.TaskTypeDoc, models.TaskTypeResearch, models.TaskTypeReview:
	default:
		taskType = classify(input)
	}
	if parsed.Confidence <= 0 || parsed.Confidence > 1 {
		parsed.Confidence = heuristicConfidence
	}

	now := p.now().UTC()
	return models.Task{
		ID:         store.NewULID(),
		Input:      input,
		Title:      parsed.Title,
		Type:       taskType,
		Status:     models.TaskStatusQueued,
		Confidence: parsed.Confidence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

const planSystemPrompt = `You plan how a developer task should be executed. Return ONLY a JSON object with these fields:
- "agent": the agent command to run (default "claude")
- "isolation": one of "worktree", "branch", "none"
- "branch": a git-safe branch name like "feature/add-login", empty when isolation is "none"
- "context": 2-6 sentences of guidance for the agent that will execute the task

Rules:
- Features and refactors should get a worktree, bug fixes a branch, small or read-only work none
- Return valid JSON only, no markdown fencing or explanation`

func (p *LLMPlanner) Plan(ctx context.Context, task models.Task) (models.ExecutionPlan, error) {
	if task.ID == "" {
		return models.ExecutionPlan{}, fmt.Errorf("task has no id")
	}

	user := fmt.Sprintf("Task title: %s\nTask type: %s\n\nOriginal request:\n%s\n", task.Title, task.Type, task.Input)
	text, err := p.complete(ctx, planSystemPrompt, user, 2048)
	if err != nil {
		return models.ExecutionPlan{}, err
	}

	var planned struct {
		Agent     string `json:"agent"`
		Isolation string `json:"isolation"`
		Branch    string `json:"branch"`
		Context   string `json:"context"`
	}
	if err := decodeJSON(text, &planned); err != nil {
		return models.ExecutionPlan{}, err
	}

	plan := models.ExecutionPlan{
		TaskID:  task.ID,
		Agent:   planned.Agent,
		Branch:  planned.Branch,
		Context: planned.Context,
	}
	if plan.Agent == "" {
		plan.Agent = defaultAgent
	}
	switch models.IsolationStrategy(planned.Isolation) {
	case models.IsolationWorktree, models.IsolationBranch, models.IsolationNone:
		plan.Isolation = models.IsolationStrategy(planned.Isolation)
	default:
		plan.Isolation = isolationFor(task.Type)
	}
	if plan.Isolation != models.IsolationNone && plan.Branch == "" {
		plan.Branch = branchSlug(task.Type, task.Title)
	}
	if plan.Context == "" {
		plan.Context, err = p.fallback.GenerateContextInjection(ctx, task, plan)
		if err != nil {
			return models.ExecutionPlan{}, err
		}
	}
	return plan, nil
}

const transcriptSystemPrompt = `You analyze terminal session transcripts from AI coding agents. Return ONLY a JSON object with these fields:
- "summary": 1-2 sentences on what the session is doing
- "state": one of "working", "waiting", "done", "error"
- "errors": array of error strings seen in the transcript (may be empty)
- "stalled": true if the session appears stuck
- "need_help": true if human attention is needed

Return valid JSON only, no markdown fencing or explanation`

func (p *LLMPlanner) AnalyzeTranscript(ctx context.Context, transcript string) (TranscriptAnalysis, error) {
	text, err := p.complete(ctx, transcriptSystemPrompt, "Analyze this transcript:\n\n"+transcript, 2048)
	if err != nil {
		return TranscriptAnalysis{}, err
	}
	var analysis TranscriptAnalysis
	if err := decodeJSON(text, &analysis); err != nil {
		return TranscriptAnalysis{}, err
	}
	return analysis, nil
}

func (p *LLMPlanner) GenerateContextInjection(ctx context.Context, task models.Task, plan models.ExecutionPlan) (string, error) {
	if plan.Context != "" {
		return plan.Context, nil
	}
	return p.fallback.GenerateContextInjection(ctx, task, plan)
}

func (p *LLMPlanner) AnalyzeProgress(ctx context.Context, task models.Task, paneContent string) (ProgressReport, error) {
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

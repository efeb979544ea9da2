package models

import "time"

// TaskType is the kind of work a parsed task describes.
type TaskType string

const (
	TaskTypeFeature  TaskType = "feature"
	TaskTypeBug      TaskType = "bug"
	TaskTypeRefactor TaskType = "refactor"
	TaskTypeTest     TaskType = "test"
	TaskTypeDoc      TaskType = "doc"
	TaskTypeResearch TaskType = "research"
	TaskTypeReview   TaskType = "review"
)

// TaskStatus tracks a task through its pipeline.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusPlanning   TaskStatus = "planning"
	TaskStatusExecuting  TaskStatus = "executing"
	TaskStatusMonitoring TaskStatus = "monitoring"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Task is a structured unit of work parsed from free-text input.
type Task struct {
	ID           string
	Input        string // original natural-language request
	Title        string
	Type         TaskType
	Status       TaskStatus
	Confidence   float64 // parser confidence in the classification
	DelegationID string  // session the task was delegated to, if any
	Result       string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsolationStrategy is how a planned task is isolated from the main tree.
type IsolationStrategy string

const (
	IsolationWorktree IsolationStrategy = "worktree"
	IsolationBranch   IsolationStrategy = "branch"
	IsolationNone     IsolationStrategy = "none"
)

// ExecutionPlan is the planner's output for a task: which agent runs it,
// how it is isolated, and the context string to inject into its session.
type ExecutionPlan struct {
	TaskID    string
	Agent     string
	Isolation IsolationStrategy
	Branch    string
	Context   string
}

package models

import (
	"time"
)

// InsightType classifies what condition an insight describes.
type InsightType string

const (
	InsightTypeStallDetected InsightType = "stall_detected"
	InsightTypeError         InsightType = "error"
)

// Severity ranks how urgently an insight needs attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// SuggestedAction is a remediation hint attached to an insight.
type SuggestedAction struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	Command     string `json:"command,omitempty"`
	Dangerous   bool   `json:"dangerous,omitempty"`
}

// Insight is a generated, human-reviewable record of a detected condition.
// Like Supervisor it is an immutable value; Resolve, AddAction, and
// WithMessage return copies. Insights are never deleted.
type Insight struct {
	ID           string
	SupervisorID string
	SessionID    string // target session, empty when not session-specific
	Type         InsightType
	Severity     Severity
	Message      string
	Context      map[string]string
	Actions      []SuggestedAction
	Resolved     bool
	ResolvedAt   *time.Time
	CreatedAt    time.Time
}

// clone deep-copies the mutable fields so derived values never share state.
func (i Insight) clone() Insight {
	out := i
	if i.Context != nil {
		out.Context = make(map[string]string, len(i.Context))
		for k, v := range i.Context {
			out.Context[k] = v
		}
	}
	out.Actions = append([]SuggestedAction(nil), i.Actions...)
	return out
}

// Resolve marks the insight handled at the given time.
func (i Insight) Resolve(now time.Time) Insight {
	out := i.clone()
	out.Resolved = true
	t := now.UTC()
	out.ResolvedAt = &t
	return out
}

// AddAction appends a suggested action.
func (i Insight) AddAction(a SuggestedAction) Insight {
	out := i.clone()
	out.Actions = append(out.Actions, a)
	return out
}

// WithMessage replaces the message text.
func (i Insight) WithMessage(msg string) Insight {
	out := i.clone()
	out.Message = msg
	return out
}

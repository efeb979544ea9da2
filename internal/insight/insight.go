// Package insight converts stall verdicts into severity-ranked, actionable
// records for human review.
package insight

import (
	"fmt"
	"strconv"
	"time"

	"github.com/overseerhq/overseer/internal/models"
	"github.com/overseerhq/overseer/internal/stall"
)

// Severity escalates with how long a session has been unchanged. Bands are
// inclusive at their lower bound.
const (
	warningAfter  = 15 * time.Minute
	errorAfter    = 30 * time.Minute
	criticalAfter = 60 * time.Minute
)

// lowConfidence is the cutoff below which a manual-review hint is added.
const lowConfidence = 0.7

// SeverityFor maps an unchanged duration to an insight severity.
func SeverityFor(unchanged time.Duration) models.Severity {
	switch {
	case unchanged >= criticalAfter:
		return models.SeverityCritical
	case unchanged >= errorAfter:
		return models.SeverityError
	case unchanged >= warningAfter:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// FromStall builds one insight for a stalled session. The caller is
// expected to have checked res.Stalled already.
func FromStall(supervisorID string, res stall.Result) models.Insight {
	ins := models.Insight{
		SupervisorID: supervisorID,
		SessionID:    res.SessionID,
		Type:         models.InsightTypeStallDetected,
		Severity:     SeverityFor(res.UnchangedFor),
		Message: fmt.Sprintf("session %s has produced no output for %s",
			res.SessionID, res.UnchangedFor.Round(time.Second)),
		Context: map[string]string{
			"unchanged_seconds": strconv.Itoa(int(res.UnchangedFor.Seconds())),
			"confidence":        strconv.FormatFloat(res.Confidence, 'f', 2, 64),
			"content_hash":      res.Snapshot.ContentHash,
		},
		Actions: []models.SuggestedAction{
			{
				Label:       "Check output",
				Description: "Review the session's latest pane content for prompts or errors",
			},
			{
				Label:       "Send interrupt (Ctrl-C)",
				Description: "Interrupt the foreground process if it is wedged",
				Command:     "C-c",
			},
		},
	}

	if res.Confidence < lowConfidence {
		ins = ins.AddAction(models.SuggestedAction{
			Label:       "Manual review recommended",
			Description: fmt.Sprintf("detector confidence is low (%.2f); verify before intervening", res.Confidence),
		})
	}
	if res.Reason != "" {
		ins = ins.AddAction(models.SuggestedAction{
			Label:       "Diagnostic",
			Description: res.Reason,
		})
	}

	return ins
}

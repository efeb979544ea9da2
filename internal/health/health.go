// Package health scores how well a supervisor's sessions are doing, based
// on its insight backlog and activity recency.
package health

import (
	"time"

	"github.com/overseerhq/overseer/internal/models"
)

// HealthScore represents the computed health of a supervisor.
type HealthScore struct {
	Total           int
	ActivityRecency int // 0-30
	InsightBacklog  int // 0-40
	ResolutionRate  int // 0-15
	Availability    int // 0-15
}

// severityWeights ranks how much an unresolved insight drags the backlog
// score down.
var severityWeights = map[models.Severity]int{
	models.SeverityInfo:     1,
	models.SeverityWarning:  2,
	models.SeverityError:    4,
	models.SeverityCritical: 8,
}

// Scorer computes health scores for supervisors.
type Scorer struct {
	now func() time.Time
}

// NewScorer returns a new health Scorer.
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// Score computes a health score (0-100) for a supervisor over its insights.
func (s *Scorer) Score(sup *models.Supervisor, insights []*models.Insight) *HealthScore {
	h := &HealthScore{}

	// Activity recency (30 pts) - recently active supervisors score higher
	last := sup.CreatedAt
	if !sup.LastActiveAt.IsZero() {
		last = sup.LastActiveAt
	}
	h.ActivityRecency = s.scoreRecency(last, 30)

	// Insight backlog (40 pts) - severity-weighted unresolved insights
	h.InsightBacklog = scoreBacklog(insights, 40)

	// Resolution rate (15 pts) - share of insights that got handled
	h.ResolutionRate = scoreResolution(insights, 15)

	// Availability (15 pts) - a paused supervisor is not watching anything
	if sup.Status != models.SupervisorStatusPaused {
		h.Availability = 15
	} else {
		h.Availability = 3
	}

	h.Total = h.ActivityRecency + h.InsightBacklog + h.ResolutionRate + h.Availability
	return h
}

// scoreRecency converts time since last activity to points.
func (s *Scorer) scoreRecency(t time.Time, maxPoints int) int {
	if t.IsZero() {
		return 0
	}
	minutes := int(s.now().Sub(t).Minutes())
	switch {
	case minutes <= 5:
		return maxPoints
	case minutes <= 15:
		return int(float64(maxPoints) * 0.9)
	case minutes <= 60:
		return int(float64(maxPoints) * 0.75)
	case minutes <= 6*60:
		return int(float64(maxPoints) * 0.5)
	case minutes <= 24*60:
		return int(float64(maxPoints) * 0.25)
	default:
		return int(float64(maxPoints) * 0.1)
	}
}

// scoreBacklog penalizes unresolved insights by severity weight.
func scoreBacklog(insights []*models.Insight, maxPoints int) int {
	weight := 0
	for _, i := range insights {
		if i.Resolved {
			continue
		}
		w, ok := severityWeights[i.Severity]
		if !ok {
			w = 2
		}
		weight += w
	}

	switch {
	case weight == 0:
		return maxPoints
	case weight <= 2:
		return int(float64(maxPoints) * 0.8)
	case weight <= 6:
		return int(float64(maxPoints) * 0.6)
	case weight <= 12:
		return int(float64(maxPoints) * 0.4)
	case weight <= 24:
		return int(float64(maxPoints) * 0.2)
	default:
		return 0
	}
}

// scoreResolution rewards a history of handled insights.
func scoreResolution(insights []*models.Insight, maxPoints int) int {
	if len(insights) == 0 {
		return maxPoints // nothing ever went wrong
	}
	resolved := 0
	for _, i := range insights {
		if i.Resolved {
			resolved++
		}
	}
	ratio := float64(resolved) / float64(len(insights))
	return int(float64(maxPoints) * ratio)
}

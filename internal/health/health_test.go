package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/overseerhq/overseer/internal/models"
)

func newTestScorer(now time.Time) *Scorer {
	s := NewScorer()
	s.now = func() time.Time { return now }
	return s
}

func activeSupervisor(now time.Time, ago time.Duration) *models.Supervisor {
	return &models.Supervisor{
		Status:       models.SupervisorStatusIdle,
		CreatedAt:    now.Add(-24 * time.Hour),
		LastActiveAt: now.Add(-ago),
	}
}

func TestScore_HealthySupervisor(t *testing.T) {
	now := time.Now()
	s := newTestScorer(now)

	sup := activeSupervisor(now, 2*time.Minute)
	insights := []*models.Insight{
		{Severity: models.SeverityWarning, Resolved: true},
		{Severity: models.SeverityInfo, Resolved: true},
	}

	h := s.Score(sup, insights)

	assert.Equal(t, 30, h.ActivityRecency, "recent sweep should get full points")
	assert.Equal(t, 40, h.InsightBacklog, "nothing unresolved = full points")
	assert.Equal(t, 15, h.ResolutionRate, "everything handled = full points")
	assert.Equal(t, 15, h.Availability)
	assert.True(t, h.Total >= 90, "healthy supervisor should score 90+")
}

func TestScore_UnhealthySupervisor(t *testing.T) {
	now := time.Now()
	s := newTestScorer(now)

	sup := activeSupervisor(now, 3*24*time.Hour)
	sup2 := sup.Pause()
	insights := []*models.Insight{
		{Severity: models.SeverityCritical},
		{Severity: models.SeverityCritical},
		{Severity: models.SeverityError},
	}

	h := s.Score(&sup2, insights)

	assert.True(t, h.ActivityRecency < 10, "stale supervisor should get few points")
	assert.Equal(t, 0, h.InsightBacklog, "heavy unresolved backlog = zero points")
	assert.Equal(t, 0, h.ResolutionRate)
	assert.Equal(t, 3, h.Availability, "paused supervisor is not watching")
	assert.True(t, h.Total < 50, "unhealthy supervisor should score below 50")
}

func TestScore_NoInsights(t *testing.T) {
	now := time.Now()
	s := newTestScorer(now)

	h := s.Score(activeSupervisor(now, time.Minute), nil)
	assert.Equal(t, 40, h.InsightBacklog)
	assert.Equal(t, 15, h.ResolutionRate, "no insights = nothing ever went wrong")
}

func TestScore_NeverActiveFallsBackToCreation(t *testing.T) {
	now := time.Now()
	s := newTestScorer(now)

	sup := &models.Supervisor{
		Status:    models.SupervisorStatusIdle,
		CreatedAt: now.Add(-2 * time.Minute),
	}
	h := s.Score(sup, nil)
	assert.Equal(t, 30, h.ActivityRecency, "a fresh supervisor is considered active")
}

func TestScoreRecency(t *testing.T) {
	now := time.Now()
	s := newTestScorer(now)

	tests := []struct {
		name     string
		ago      time.Duration
		minScore int
	}{
		{"just now", time.Minute, 30},
		{"within the hour", 45 * time.Minute, 20},
		{"earlier today", 5 * time.Hour, 15},
		{"yesterday", 20 * time.Hour, 7},
		{"last week", 6 * 24 * time.Hour, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := s.scoreRecency(now.Add(-tt.ago), 30)
			assert.True(t, score >= tt.minScore, "ago=%s should score >= %d, got %d", tt.ago, tt.minScore, score)
		})
	}

	assert.Equal(t, 0, s.scoreRecency(time.Time{}, 30))
}

func TestScoreBacklog(t *testing.T) {
	unresolved := func(sev models.Severity) *models.Insight {
		return &models.Insight{Severity: sev}
	}

	assert.Equal(t, 40, scoreBacklog(nil, 40))
	assert.Equal(t, 32, scoreBacklog([]*models.Insight{unresolved(models.SeverityInfo)}, 40))
	assert.Equal(t, 24, scoreBacklog([]*models.Insight{unresolved(models.SeverityError)}, 40))
	assert.Equal(t, 16, scoreBacklog([]*models.Insight{unresolved(models.SeverityCritical)}, 40))
	assert.Equal(t, 0, scoreBacklog([]*models.Insight{
		unresolved(models.SeverityCritical),
		unresolved(models.SeverityCritical),
		unresolved(models.SeverityCritical),
		unresolved(models.SeverityCritical),
	}, 40))

	// Resolved insights never count against the backlog.
	assert.Equal(t, 40, scoreBacklog([]*models.Insight{
		{Severity: models.SeverityCritical, Resolved: true},
	}, 40))
}

func TestScoreResolution(t *testing.T) {
	assert.Equal(t, 15, scoreResolution(nil, 15))
	assert.Equal(t, 7, scoreResolution([]*models.Insight{
		{Resolved: true},
		{Resolved: false},
	}, 15))
	assert.Equal(t, 0, scoreResolution([]*models.Insight{{Resolved: false}}, 15))
}

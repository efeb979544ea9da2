package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/overseerhq/overseer/internal/models"
	"github.com/overseerhq/overseer/internal/store"
)

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}

// findSupervisor resolves a full or prefix ULID to a supervisor owned by
// the current user.
func findSupervisor(ctx context.Context, s store.Store, id string) (*models.Supervisor, error) {
	sups, err := s.ListSupervisors(ctx, currentUser())
	if err != nil {
		return nil, err
	}

	// Exact match first
	for _, sup := range sups {
		if sup.ID == id {
			return sup, nil
		}
	}

	// Prefix match (ULIDs are upper-case)
	prefix := strings.ToUpper(id)
	var matches []*models.Supervisor
	for _, sup := range sups {
		if strings.HasPrefix(sup.ID, prefix) {
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

// findInsightByID resolves a full or prefix ULID to an insight belonging
// to one of the current user's supervisors.
func findInsightByID(ctx context.Context, s store.Store, id string) (*models.Insight, error) {
	sups, err := s.ListSupervisors(ctx, currentUser())
	if err != nil {
		return nil, err
	}

	prefix := strings.ToUpper(id)
	var matches []*models.Insight
	for _, sup := range sups {
		insights, err := s.ListInsights(ctx, store.InsightFilter{SupervisorID: sup.ID})
		if err != nil {
			return nil, err
		}
		for _, ins := range insights {
			if ins.ID == id {
				return ins, nil
			}
			if strings.HasPrefix(ins.ID, prefix) {
				matches = append(matches, ins)
			}
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

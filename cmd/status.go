package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overseerhq/overseer/internal/health"
	"github.com/overseerhq/overseer/internal/models"
	"github.com/overseerhq/overseer/internal/output"
	"github.com/overseerhq/overseer/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Dashboard of all supervisors and open insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	sups, err := s.ListSupervisors(ctx, currentUser())
	if err != nil {
		return err
	}
	if len(sups) == 0 {
		ui.Info("No supervisors. Create one with 'overseer supervisor create'.")
		return nil
	}

	scorer := health.NewScorer()
	totalOpen := 0
	table := ui.Table([]string{"ID", "KIND", "SCOPE", "STATUS", "HEALTH", "OPEN", "ACTIVITY"})
	for _, sup := range sups {
		insights, err := s.ListInsights(ctx, store.InsightFilter{SupervisorID: sup.ID})
		if err != nil {
			return err
		}
		h := scorer.Score(sup, insights)

		open := 0
		for _, ins := range insights {
			if !ins.Resolved {
				open++
			}
		}
		totalOpen += open

		scope := "*"
		if sup.Kind == models.SupervisorKindScoped {
			scope = sup.ScopeID
		}
		activity := "n/a"
		if !sup.LastActiveAt.IsZero() {
			activity = timeAgo(sup.LastActiveAt)
		}

		table.Append([]string{
			output.Cyan(shortID(sup.ID)),
			string(sup.Kind),
			scope,
			output.StatusColor(string(sup.Status)),
			output.HealthColor(h.Total),
			fmt.Sprintf("%d", open),
			activity,
		})
	}
	table.Render()

	if totalOpen > 0 {
		fmt.Fprintln(ui.Out)
		ui.Warning("%d unresolved insight(s). See 'overseer insight list --unresolved'.", totalOpen)
	}
	return nil
}

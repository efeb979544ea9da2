package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overseerhq/overseer/internal/output"
	"github.com/overseerhq/overseer/internal/store"
)

var (
	insightUnresolved bool
	insightLimit      int
	insightSupervisor string
)

var insightCmd = &cobra.Command{
	Use:     "insight",
	Aliases: []string{"insights"},
	Short:   "Review and resolve generated insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightListRun(cmd)
	},
}

var insightListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightListRun(cmd)
	},
}

var insightShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an insight with its context and suggested actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightShowRun(cmd, args[0])
	},
}

var insightResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark an insight handled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightResolveRun(cmd, args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{insightCmd, insightListCmd} {
		c.Flags().BoolVar(&insightUnresolved, "unresolved", false, "Only show unresolved insights")
		c.Flags().IntVar(&insightLimit, "limit", 20, "Maximum insights to show")
		c.Flags().StringVar(&insightSupervisor, "supervisor", "", "Only show insights from this supervisor")
	}
	insightCmd.AddCommand(insightListCmd)
	insightCmd.AddCommand(insightShowCmd)
	insightCmd.AddCommand(insightResolveCmd)
	rootCmd.AddCommand(insightCmd)
}

func insightListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	filter := store.InsightFilter{
		Unresolved: insightUnresolved,
		Limit:      insightLimit,
	}
	if insightSupervisor != "" {
		sup, err := findSupervisor(ctx, s, insightSupervisor)
		if err != nil {
			return err
		}
		filter.SupervisorID = sup.ID
	}

	insights, err := s.ListInsights(ctx, filter)
	if err != nil {
		return err
	}
	if len(insights) == 0 {
		ui.Info("No insights.")
		return nil
	}

	table := ui.Table([]string{"ID", "SEVERITY", "SESSION", "MESSAGE", "AGE", "RESOLVED"})
	for _, ins := range insights {
		resolved := ""
		if ins.Resolved {
			resolved = "✓"
		}
		msg := ins.Message
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		table.Append([]string{
			output.Cyan(shortID(ins.ID)),
			output.SeverityColor(string(ins.Severity)),
			ins.SessionID,
			msg,
			timeAgo(ins.CreatedAt),
			resolved,
		})
	}
	table.Render()
	return nil
}

func insightShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	ins, err := findInsightByID(cmd.Context(), s, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s [%s] %s\n", output.Cyan(shortID(ins.ID)), output.SeverityColor(string(ins.Severity)), ins.Type)
	fmt.Fprintf(ui.Out, "  Supervisor: %s\n", shortID(ins.SupervisorID))
	if ins.SessionID != "" {
		fmt.Fprintf(ui.Out, "  Session:    %s\n", ins.SessionID)
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", timeAgo(ins.CreatedAt))
	if ins.Resolved && ins.ResolvedAt != nil {
		fmt.Fprintf(ui.Out, "  Resolved:   %s\n", timeAgo(*ins.ResolvedAt))
	}
	fmt.Fprintf(ui.Out, "\n  %s\n", ins.Message)

	if len(ins.Context) > 0 {
		fmt.Fprintln(ui.Out)
		for k, v := range ins.Context {
			fmt.Fprintf(ui.Out, "  %-18s %s\n", k+":", v)
		}
	}
	if len(ins.Actions) > 0 {
		fmt.Fprintln(ui.Out, "\n  Suggested actions:")
		for _, a := range ins.Actions {
			label := a.Label
			if a.Dangerous {
				label = output.Red(label + " (dangerous)")
			}
			fmt.Fprintf(ui.Out, "    - %s: %s\n", label, a.Description)
			if a.Command != "" {
				fmt.Fprintf(ui.Out, "      $ %s\n", a.Command)
			}
		}
	}
	return nil
}

func insightResolveRun(cmd *cobra.Command, id string) error {
	svc, s, err := getService()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	ins, err := findInsightByID(ctx, s, id)
	if err != nil {
		return err
	}
	if ins.Resolved {
		ui.Info("Insight %s is already resolved", shortID(ins.ID))
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would resolve insight %s", shortID(ins.ID))
		return nil
	}

	resolved, err := svc.ResolveInsight(ctx, currentUser(), ins.ID)
	if err != nil {
		return err
	}
	ui.Success("Insight %s resolved", shortID(resolved.ID))
	return nil
}

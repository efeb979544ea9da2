package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overseerhq/overseer/internal/output"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit <supervisor-id>",
	Short: "Show a supervisor's audit log",
	Long: `Show a supervisor's audit log, newest first.

The log is append-only: every supervisory action is recorded before it
takes effect, and entries are never updated or deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return auditRun(cmd, args[0])
	},
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum entries to show")
	rootCmd.AddCommand(auditCmd)
}

func auditRun(cmd *cobra.Command, supervisorID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	sup, err := findSupervisor(ctx, s, supervisorID)
	if err != nil {
		return err
	}

	entries, err := s.ListAuditEntries(ctx, sup.ID, auditLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.Info("No audit entries for supervisor %s.", shortID(sup.ID))
		return nil
	}

	table := ui.Table([]string{"ID", "ACTION", "SESSION", "DETAILS", "WHEN"})
	for _, e := range entries {
		table.Append([]string{
			output.Cyan(shortID(e.ID)),
			string(e.Action),
			e.SessionID,
			auditDetailSummary(e.Details),
			timeAgo(e.CreatedAt),
		})
	}
	table.Render()
	return nil
}

// auditDetailSummary compacts an entry's details for one table cell.
func auditDetailSummary(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	if cmdStr, ok := details["command"].(string); ok {
		if len(cmdStr) > 40 {
			cmdStr = cmdStr[:37] + "..."
		}
		return cmdStr
	}
	if from, ok := details["from"].(string); ok {
		if to, ok := details["to"].(string); ok {
			return fmt.Sprintf("%s -> %s", from, to)
		}
	}
	if sev, ok := details["severity"].(string); ok {
		return sev
	}
	data, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	out := string(data)
	if len(out) > 40 {
		out = out[:37] + "..."
	}
	return out
}

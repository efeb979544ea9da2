package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/overseerhq/overseer/internal/output"
	"github.com/overseerhq/overseer/internal/snapcache"
	"github.com/overseerhq/overseer/internal/supervise"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep <supervisor-id> <session>...",
	Short: "Run one stall-detection cycle over the given sessions",
	Long: `Run one stall-detection cycle over the given sessions.

The first sweep only records a baseline snapshot per session; stalls are
detected from the second sweep on, by comparing against the snapshot
stored in the state file. Sessions that cannot be probed are reported
and skipped without blocking the rest of the sweep.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sweepRun(cmd, args[0], args[1:])
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func sweepRun(cmd *cobra.Command, supervisorID string, sessions []string) error {
	svc, s, err := getService()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sup, err := findSupervisor(ctx, s, supervisorID)
	if err != nil {
		return err
	}

	cache, err := snapcache.Load(snapCachePath())
	if err != nil {
		return err
	}

	checks := make([]supervise.SessionCheck, 0, len(sessions))
	for _, id := range sessions {
		checks = append(checks, supervise.SessionCheck{
			SessionID: id,
			Previous:  cache.Get(id),
		})
	}

	if dryRun {
		ui.DryRunMsg("Would sweep %d session(s) with supervisor %s", len(checks), shortID(sup.ID))
		return nil
	}

	res, err := svc.DetectStalledSessions(ctx, currentUser(), sup.ID, checks)
	if err != nil {
		return err
	}

	for _, r := range res.Results {
		cache.Put(r.SessionID, r.Snapshot)
	}
	if err := cache.Save(); err != nil {
		return fmt.Errorf("save snapshot state: %w", err)
	}

	for _, e := range res.Errors {
		ui.Warning("%s: %s", e.SessionID, e.Err)
	}
	for _, r := range res.Results {
		if r.Stalled {
			ui.Error("%s stalled for %s (confidence %.2f)", r.SessionID, r.UnchangedFor.Round(time.Second), r.Confidence)
		} else {
			ui.VerboseLog("%s: %s", r.SessionID, r.Reason)
		}
	}
	for _, ins := range res.Insights {
		ui.Info("[%s] %s", output.SeverityColor(string(ins.Severity)), ins.Message)
	}
	if len(res.Insights) == 0 && len(res.Errors) == 0 {
		ui.Success("Swept %d session(s), nothing stalled", len(res.Results))
	}
	return nil
}

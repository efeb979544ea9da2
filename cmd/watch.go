package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/overseerhq/overseer/internal/daemon"
	"github.com/overseerhq/overseer/internal/models"
	"github.com/overseerhq/overseer/internal/output"
	"github.com/overseerhq/overseer/internal/snapcache"
	"github.com/overseerhq/overseer/internal/supervise"
)

var watchCmd = &cobra.Command{
	Use:   "watch <supervisor-id> <session>...",
	Short: "Continuously sweep sessions at the supervisor's interval",
	Long: `Continuously sweep sessions at the supervisor's configured interval.

Runs in the foreground until interrupted. A pidfile guarantees a single
watch loop per state directory; use 'overseer watch stop' from another
terminal to stop a running loop.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRun(cmd, args[0], args[1:])
	},
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running watch loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchStopRun()
	},
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a watch loop is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchStatusRun()
	},
}

func init() {
	watchCmd.AddCommand(watchStopCmd)
	watchCmd.AddCommand(watchStatusCmd)
	rootCmd.AddCommand(watchCmd)
}

func watchPIDPath() string {
	return filepath.Join(viper.GetString("state_dir"), "watch.pid")
}

func watchRun(cmd *cobra.Command, supervisorID string, sessions []string) error {
	svc, s, err := getService()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sup, err := findSupervisor(ctx, s, supervisorID)
	if err != nil {
		return err
	}
	if sup.Status == models.SupervisorStatusPaused {
		return fmt.Errorf("supervisor %s is paused; resume it first", shortID(sup.ID))
	}

	if dryRun {
		ui.DryRunMsg("Would watch %d session(s) every %ds", len(sessions), sup.Config.MonitorInterval)
		return nil
	}

	pf := daemon.NewPIDFile(watchPIDPath())
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer pf.Release()

	cache, err := snapcache.Load(snapCachePath())
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(sup.Config.MonitorInterval) * time.Second
	ui.Info("Watching %d session(s) every %s (Ctrl-C to stop)", len(sessions), interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First cycle records baselines immediately instead of waiting a tick.
	if err := watchCycle(sigCtx, svc, sup.ID, sessions, cache); err != nil {
		return err
	}

	for {
		select {
		case <-sigCtx.Done():
			ui.Info("Stopping watch loop")
			return nil
		case <-ticker.C:
			if err := watchCycle(sigCtx, svc, sup.ID, sessions, cache); err != nil {
				// A paused or deleted supervisor ends the loop; transient
				// sweep errors are already reported per session.
				return err
			}
		}
	}
}

func watchCycle(ctx context.Context, svc *supervise.Service, supervisorID string, sessions []string, cache *snapcache.Cache) error {
	checks := make([]supervise.SessionCheck, 0, len(sessions))
	for _, id := range sessions {
		checks = append(checks, supervise.SessionCheck{
			SessionID: id,
			Previous:  cache.Get(id),
		})
	}

	res, err := svc.DetectStalledSessions(ctx, currentUser(), supervisorID, checks)
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
	for _, ins := range res.Insights {
		ui.Info("[%s] %s", output.SeverityColor(string(ins.Severity)), ins.Message)
	}
	return nil
}

func watchStopRun() error {
	pf := daemon.NewPIDFile(watchPIDPath())
	pid, running := pf.IsRunning()
	if !running {
		ui.Info("No watch loop running")
		return nil
	}
	if dryRun {
		ui.DryRunMsg("Would stop watch loop (pid %d)", pid)
		return nil
	}
	if err := pf.Stop(); err != nil {
		return err
	}
	ui.Success("Stopped watch loop (pid %d)", pid)
	return nil
}

func watchStatusRun() error {
	pf := daemon.NewPIDFile(watchPIDPath())
	if pid, running := pf.IsRunning(); running {
		ui.Info("Watch loop running (pid %d)", pid)
	} else {
		ui.Info("No watch loop running")
	}
	return nil
}

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/overseerhq/overseer/internal/health"
	"github.com/overseerhq/overseer/internal/models"
	"github.com/overseerhq/overseer/internal/output"
	"github.com/overseerhq/overseer/internal/store"
	"github.com/overseerhq/overseer/internal/supervise"
)

var (
	supervisorScope    string
	supervisorMaster   bool
	supervisorInterval int
	supervisorStall    int
	supervisorAuto     bool
)

var supervisorCmd = &cobra.Command{
	Use:     "supervisor",
	Aliases: []string{"sup"},
	Short:   "Manage supervisors",
	Long: `Manage supervisors.

A supervisor watches live terminal sessions for stalled work. A master
supervisor watches every session; a scoped supervisor is bound to one
folder and only ever acts inside it. Each (user, scope) pair has at most
one scoped supervisor.`,
}

var supervisorCreateCmd = &cobra.Command{
	Use:   "create <host-session>",
	Short: "Create a supervisor hosted in a tmux session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return supervisorCreateRun(cmd, args[0])
	},
}

var supervisorListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List supervisors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return supervisorListRun(cmd)
	},
}

var supervisorStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a supervisor's status, config, and health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return supervisorStatusRun(cmd, args[0])
	},
}

var supervisorPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a supervisor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return supervisorPauseRun(cmd, args[0])
	},
}

var supervisorResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused supervisor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return supervisorResumeRun(cmd, args[0])
	},
}

var supervisorSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Update a supervisor's monitoring settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return supervisorSetRun(cmd, args[0])
	},
}

func init() {
	supervisorCreateCmd.Flags().StringVar(&supervisorScope, "scope", "", "Folder path the supervisor is bound to")
	supervisorCreateCmd.Flags().BoolVar(&supervisorMaster, "master", false, "Create a master supervisor that watches every session")

	supervisorSetCmd.Flags().IntVar(&supervisorInterval, "interval", 0, "Seconds between polling cycles")
	supervisorSetCmd.Flags().IntVar(&supervisorStall, "stall-threshold", 0, "Seconds of unchanged output before a session counts as stalled")
	supervisorSetCmd.Flags().BoolVar(&supervisorAuto, "auto-intervene", false, "Allow command injection without confirmation")

	supervisorCmd.AddCommand(supervisorCreateCmd)
	supervisorCmd.AddCommand(supervisorListCmd)
	supervisorCmd.AddCommand(supervisorStatusCmd)
	supervisorCmd.AddCommand(supervisorPauseCmd)
	supervisorCmd.AddCommand(supervisorResumeCmd)
	supervisorCmd.AddCommand(supervisorSetCmd)
	rootCmd.AddCommand(supervisorCmd)
}

func supervisorCreateRun(cmd *cobra.Command, hostSession string) error {
	if supervisorMaster == (supervisorScope != "") {
		return fmt.Errorf("exactly one of --master or --scope is required")
	}

	svc, _, err := getService()
	if err != nil {
		return err
	}

	in := supervise.CreateSupervisorInput{
		UserID:        currentUser(),
		HostSessionID: hostSession,
		ScopeID:       supervisorScope,
		Config: models.SupervisorConfig{
			MonitorInterval: viper.GetInt("monitor.interval"),
			StallThreshold:  viper.GetInt("monitor.stall_threshold"),
			AutoIntervene:   viper.GetBool("monitor.auto_intervene"),
		},
	}

	if dryRun {
		kind := "scoped"
		if supervisorMaster {
			kind = "master"
		}
		ui.DryRunMsg("Would create %s supervisor in session %s", kind, hostSession)
		return nil
	}

	ctx := cmd.Context()
	var (
		sup *models.Supervisor
	)
	if supervisorMaster {
		sup, _, err = svc.CreateMasterSupervisor(ctx, in)
	} else {
		sup, _, err = svc.CreateScopedSupervisor(ctx, in)
	}
	if err != nil {
		var exists *supervise.AlreadyExistsError
		if errors.As(err, &exists) {
			return fmt.Errorf("a supervisor for %s already exists: %s", exists.ScopeID, shortID(exists.ExistingID))
		}
		return err
	}

	ui.Success("Supervisor %s created", shortID(sup.ID))
	if sup.Kind == models.SupervisorKindScoped {
		ui.Info("Scope: %s", sup.ScopeID)
	}
	ui.VerboseLog("Full ID: %s", sup.ID)
	return nil
}

func supervisorListRun(cmd *cobra.Command) error {
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
	table := ui.Table([]string{"ID", "KIND", "SCOPE", "STATUS", "HEALTH", "ACTIVITY"})
	for _, sup := range sups {
		insights, err := s.ListInsights(ctx, store.InsightFilter{SupervisorID: sup.ID})
		if err != nil {
			return err
		}
		h := scorer.Score(sup, insights)

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
			activity,
		})
	}
	table.Render()
	return nil
}

func supervisorStatusRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sup, err := findSupervisor(ctx, s, id)
	if err != nil {
		return err
	}

	insights, err := s.ListInsights(ctx, store.InsightFilter{SupervisorID: sup.ID})
	if err != nil {
		return err
	}
	h := health.NewScorer().Score(sup, insights)

	unresolved := 0
	for _, ins := range insights {
		if !ins.Resolved {
			unresolved++
		}
	}

	fmt.Fprintf(ui.Out, "%s (%s)\n", output.Cyan(shortID(sup.ID)), sup.Kind)
	fmt.Fprintf(ui.Out, "  Status:       %s\n", output.StatusColor(string(sup.Status)))
	if sup.Kind == models.SupervisorKindScoped {
		fmt.Fprintf(ui.Out, "  Scope:        %s\n", sup.ScopeID)
	}
	fmt.Fprintf(ui.Out, "  Host session: %s\n", sup.HostSessionID)
	fmt.Fprintf(ui.Out, "  Health:       %s/100\n", output.HealthColor(h.Total))
	if verbose {
		fmt.Fprintf(ui.Out, "    Activity:   %d/30\n", h.ActivityRecency)
		fmt.Fprintf(ui.Out, "    Backlog:    %d/40\n", h.InsightBacklog)
		fmt.Fprintf(ui.Out, "    Resolution: %d/15\n", h.ResolutionRate)
		fmt.Fprintf(ui.Out, "    Available:  %d/15\n", h.Availability)
	}
	fmt.Fprintf(ui.Out, "  Insights:     %d open, %d total\n", unresolved, len(insights))
	fmt.Fprintf(ui.Out, "  Interval:     %ds (stall threshold %ds)\n", sup.Config.MonitorInterval, sup.Config.StallThreshold)
	fmt.Fprintf(ui.Out, "  Intervene:    %v\n", sup.Config.AutoIntervene)
	if !sup.LastActiveAt.IsZero() {
		fmt.Fprintf(ui.Out, "  Activity:     %s\n", timeAgo(sup.LastActiveAt))
	}
	return nil
}

func supervisorPauseRun(cmd *cobra.Command, id string) error {
	svc, s, err := getService()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sup, err := findSupervisor(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would pause supervisor %s", shortID(sup.ID))
		return nil
	}

	paused, err := svc.PauseSupervisor(ctx, currentUser(), sup.ID)
	if err != nil {
		return err
	}
	ui.Success("Supervisor %s is %s", shortID(paused.ID), output.StatusColor(string(paused.Status)))
	return nil
}

func supervisorResumeRun(cmd *cobra.Command, id string) error {
	svc, s, err := getService()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sup, err := findSupervisor(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would resume supervisor %s", shortID(sup.ID))
		return nil
	}

	resumed, err := svc.ResumeSupervisor(ctx, currentUser(), sup.ID)
	if err != nil {
		return err
	}
	ui.Success("Supervisor %s is %s", shortID(resumed.ID), output.StatusColor(string(resumed.Status)))
	return nil
}

func supervisorSetRun(cmd *cobra.Command, id string) error {
	svc, s, err := getService()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sup, err := findSupervisor(ctx, s, id)
	if err != nil {
		return err
	}

	cfg := sup.Config
	if cmd.Flags().Changed("interval") {
		cfg.MonitorInterval = supervisorInterval
	}
	if cmd.Flags().Changed("stall-threshold") {
		cfg.StallThreshold = supervisorStall
	}
	if cmd.Flags().Changed("auto-intervene") {
		cfg.AutoIntervene = supervisorAuto
	}
	if cfg == sup.Config {
		ui.Info("Nothing to change.")
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would update supervisor %s: interval=%ds stall=%ds auto=%v",
			shortID(sup.ID), cfg.MonitorInterval, cfg.StallThreshold, cfg.AutoIntervene)
		return nil
	}

	updated, err := svc.UpdateSupervisorConfig(ctx, currentUser(), sup.ID, cfg)
	if err != nil {
		return err
	}
	ui.Success("Supervisor %s updated (interval %ds, stall threshold %ds)",
		shortID(updated.ID), updated.Config.MonitorInterval, updated.Config.StallThreshold)
	return nil
}

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overseerhq/overseer/internal/inject"
	"github.com/overseerhq/overseer/internal/supervise"
)

var injectNoEnter bool

var injectCmd = &cobra.Command{
	Use:   "inject <supervisor-id> <session> <command>",
	Short: "Inject a command into a session on a supervisor's behalf",
	Long: `Inject a command into a live tmux session on a supervisor's behalf.

The command is checked against the safety policy first: destructive
commands are always rejected, and cautionary ones are flagged. Every
attempt is written to the audit log before the session is touched, so a
crash mid-injection still leaves a durable trace.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return injectRun(cmd, args[0], args[1], args[2])
	},
}

func init() {
	injectCmd.Flags().BoolVar(&injectNoEnter, "no-enter", false, "Type the command without pressing Enter")
	rootCmd.AddCommand(injectCmd)
}

func injectRun(cmd *cobra.Command, supervisorID, sessionID, command string) error {
	svc, s, err := getService()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sup, err := findSupervisor(ctx, s, supervisorID)
	if err != nil {
		return err
	}

	// Surface the validator's verdict before anything is logged or sent,
	// so a dry run reports the same rejection a real run would.
	v := inject.ValidateCommand(command)
	if !v.Valid {
		return fmt.Errorf("invalid command: %s", v.Reason)
	}
	if v.Dangerous {
		ui.Warning("Command matches a cautionary pattern: %s", command)
	}

	if dryRun {
		ui.DryRunMsg("Would inject into %s: %s", sessionID, command)
		return nil
	}

	res, entry, err := svc.InjectCommand(ctx, supervise.InjectCommandInput{
		UserID:       currentUser(),
		SupervisorID: sup.ID,
		SessionID:    sessionID,
		Command:      command,
		PressEnter:   !injectNoEnter,
	})
	if err != nil {
		var scope *supervise.NotInScopeError
		if errors.As(err, &scope) {
			return fmt.Errorf("session %s is outside supervisor %s's scope", sessionID, shortID(sup.ID))
		}
		return err
	}

	if !res.Success {
		ui.Error("Delivery failed: %s", res.Error)
		ui.Info("The attempt was still audited (entry %s)", shortID(entry.ID))
		return fmt.Errorf("injection failed")
	}

	ui.Success("Injected into %s", res.SessionID)
	ui.VerboseLog("Correlation: %s", res.CorrelationID)
	return nil
}

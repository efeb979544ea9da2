package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/overseerhq/overseer/internal/inject"
	"github.com/overseerhq/overseer/internal/output"
	"github.com/overseerhq/overseer/internal/taskplan"
)

var (
	taskUseLLM         bool
	taskTranscriptFile string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Parse and plan natural-language tasks",
}

var taskPlanCmd = &cobra.Command{
	Use:   "plan <request>...",
	Short: "Classify a request and plan its execution",
	Long: `Classify a natural-language request and plan its execution.

The default heuristic planner is keyword-based and works offline. Pass
--llm to use the Anthropic API instead (configure anthropic.api_key);
the LLM planner falls back to the heuristics when the API is
unreachable or returns something unusable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskPlanRun(cmd, strings.Join(args, " "))
	},
}

var taskAnalyzeCmd = &cobra.Command{
	Use:   "analyze <session>",
	Short: "Analyze a session transcript for progress and errors",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session := ""
		if len(args) > 0 {
			session = args[0]
		}
		return taskAnalyzeRun(cmd, session)
	},
}

func init() {
	taskPlanCmd.Flags().BoolVar(&taskUseLLM, "llm", false, "Use the Anthropic API instead of the heuristic planner")
	taskAnalyzeCmd.Flags().BoolVar(&taskUseLLM, "llm", false, "Use the Anthropic API instead of the heuristic analyzer")
	taskAnalyzeCmd.Flags().StringVar(&taskTranscriptFile, "file", "", "Read the transcript from a file instead of a session")

	taskCmd.AddCommand(taskPlanCmd)
	taskCmd.AddCommand(taskAnalyzeCmd)
	rootCmd.AddCommand(taskCmd)
}

// planner picks the backend from flags and config. task.planner: "llm" in
// the config has the same effect as --llm.
func planner() (taskplan.Planner, error) {
	useLLM := taskUseLLM || viper.GetString("task.planner") == "llm"
	if !useLLM {
		return taskplan.NewHeuristicPlanner(), nil
	}
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic.api_key is not set (or set OVERSEER_ANTHROPIC_API_KEY)")
	}
	return taskplan.NewLLMPlanner(apiKey, viper.GetString("anthropic.model")), nil
}

func taskPlanRun(cmd *cobra.Command, input string) error {
	p, err := planner()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	task, err := p.Parse(ctx, input)
	if err != nil {
		return err
	}
	plan, err := p.Plan(ctx, task)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(shortID(task.ID)), task.Title)
	fmt.Fprintf(ui.Out, "  Type:       %s (confidence %.2f)\n", task.Type, task.Confidence)
	fmt.Fprintf(ui.Out, "  Agent:      %s\n", plan.Agent)
	fmt.Fprintf(ui.Out, "  Isolation:  %s\n", plan.Isolation)
	if plan.Branch != "" {
		fmt.Fprintf(ui.Out, "  Branch:     %s\n", plan.Branch)
	}
	if task.Confidence < 0.7 {
		ui.Warning("Low classification confidence; review before delegating")
	}

	if verbose {
		injection, err := p.GenerateContextInjection(ctx, task, plan)
		if err != nil {
			return err
		}
		fmt.Fprintf(ui.Out, "\n%s\n", injection)
	}
	return nil
}

func taskAnalyzeRun(cmd *cobra.Command, session string) error {
	p, err := planner()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var transcript string
	switch {
	case taskTranscriptFile != "":
		data, err := os.ReadFile(taskTranscriptFile)
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}
		transcript = string(data)
	case session != "":
		gw := inject.NewTmuxGateway()
		transcript, err = gw.CurrentPaneContent(ctx, session)
		if err != nil {
			return fmt.Errorf("capture session %s: %w", session, err)
		}
	default:
		return fmt.Errorf("a session name or --file is required")
	}

	analysis, err := p.AnalyzeTranscript(ctx, transcript)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "State:   %s\n", analysis.State)
	fmt.Fprintf(ui.Out, "Summary: %s\n", analysis.Summary)
	for _, e := range analysis.Errors {
		ui.Error("%s", e)
	}
	if analysis.Stalled {
		ui.Warning("Session appears stalled")
	}
	if analysis.NeedHelp {
		ui.Warning("Session appears to be waiting for input")
	}
	return nil
}

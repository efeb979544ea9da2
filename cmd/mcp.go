package cmd

import (
	"github.com/spf13/cobra"

	"github.com/overseerhq/overseer/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for coding-agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an agent running inside a supervised session inspect and
steer its own supervisors. Configure in your agent with:

  {
    "mcpServers": {
      "overseer": { "command": "overseer", "args": ["mcp"] }
    }
  }

Available tools: overseer_create_supervisor, overseer_list_supervisors,
overseer_supervisor_status, overseer_pause_supervisor,
overseer_resume_supervisor, overseer_inject_command,
overseer_detect_stalls, overseer_list_insights, overseer_resolve_insight`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, s, err := getService()
		if err != nil {
			return err
		}
		srv := mcp.NewServer(svc, s, currentUser(), snapCachePath())
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/royale/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio so an assistant can
query the leaderboard, look up reviewers and trigger syncs. Configure it with:

  {
    "mcpServers": {
      "royale": { "command": "royale", "args": ["mcp"] }
    }
  }

Available tools: royale_leaderboard, royale_user_stats, royale_list_repos,
royale_sync_repo, royale_recalculate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		orch, err := newOrchestrator()
		if err != nil {
			return err
		}
		job, err := newRecalcJob()
		if err != nil {
			return err
		}
		srv := mcp.NewServer(s, orch, job, schedulerConfig().MaxAgeDays, buildVersion)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

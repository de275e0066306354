package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/ghcanvas/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

The tools act for the terminal session: connect with 'ghcanvas auth login'
first. Configure in Claude Code with:

  {
    "mcpServers": {
      "ghcanvas": { "command": "ghcanvas", "args": ["mcp"] }
    }
  }

Available tools: github_list_repositories, github_select_repository,
github_list_issues, github_get_issue, github_create_issue,
github_update_issue, github_close_issue, github_list_comments,
github_create_comment`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := orBackground(cmd.Context())
		sess, err := cliSession(ctx)
		if err != nil {
			return err
		}
		if !sess.IsAuthenticated() {
			ui.Warning("Not connected to GitHub; tools will fail until 'ghcanvas auth login' is run from another terminal")
		}
		return mcp.NewServer(newGateway(), sess, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

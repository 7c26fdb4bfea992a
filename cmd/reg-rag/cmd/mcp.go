package cmd

import (
	"fmt"

	"github.com/mfenderov/reg-rag/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Long: `Start the MCP server for regulation answering and retrieval.

The server communicates via stdio and provides two tools:
  - ask_regulations: Answer a question with citations
  - search_regulations: Search indexed regulation chunks by query

Example:
  reg-rag mcp`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	orchestrator, err := a.orchestrator()
	if err != nil {
		return err
	}

	server := mcp.NewServer(mcp.Config{
		Name:    cfg.MCP.Name,
		Version: cfg.MCP.Version,
	}, orchestrator, a.retriever())

	fmt.Fprintln(cmd.ErrOrStderr(), "Starting MCP server...")

	if err := server.ServeStdio(); err != nil {
		return fmt.Errorf("failed to serve MCP: %w", err)
	}
	return nil
}

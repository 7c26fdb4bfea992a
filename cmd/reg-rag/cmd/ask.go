package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var askFormat string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed regulations",
	Long: `Retrieve the regulation chunks closest to a question and generate an
answer that cites them.

Examples:
  # Ask a question
  reg-rag ask "When is fall protection required in general industry?"

  # JSON output for scripting
  reg-rag ask "What are the lockout/tagout requirements?" --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringVar(&askFormat, "format", "text", "Output format: text or json")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	question := strings.Join(args, " ")

	a, err := newApp(GetConfig())
	if err != nil {
		return err
	}
	orchestrator, err := a.orchestrator()
	if err != nil {
		return err
	}

	result, err := orchestrator.Answer(ctx, question, nil)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askFormat == "json" {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(result.Answer)
	if len(result.Citations) > 0 {
		fmt.Println("\nSources:")
		for i, c := range result.Citations {
			title := c.Title
			if c.Section != "" {
				title += " - " + c.Section
			}
			fmt.Printf("  [%d] %s\n      %s\n", i+1, title, c.URL)
		}
	}
	return nil
}

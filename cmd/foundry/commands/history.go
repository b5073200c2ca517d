package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/foundry/internal/history"
	"github.com/dyluth/foundry/internal/printer"
)

var historyOutputFormat string

var historyCmd = &cobra.Command{
	Use:   "history <SESSION_ID>",
	Short: "Show every checkpoint and draft version of a session",
	Long: `Show a session's checkpoint log, oldest first, followed by its draft
versions with their scores and feedback.

Output Formats:
  default - Human-readable tables
  jsonl   - One full checkpoint per line`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyOutputFormat, "output", "o", "default", "Output format (default or jsonl)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	format, err := history.ParseFormat(historyOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := openRuntime(cmd.Context(), cfg, false, stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID, err := rt.resolveSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if err := history.WriteHistory(cmd.Context(), rt.store, sessionID, format, printer.Stdout); err != nil {
		if history.IsNotFound(err) {
			return sessionNotFound(sessionID)
		}
		return fmt.Errorf("failed to read history: %w", err)
	}
	return nil
}

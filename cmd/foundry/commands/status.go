package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/foundry/internal/checkpoint"
	"github.com/dyluth/foundry/internal/filter"
	"github.com/dyluth/foundry/internal/history"
	"github.com/dyluth/foundry/internal/printer"
	"github.com/dyluth/foundry/internal/timespec"
	"github.com/dyluth/foundry/pkg/blackboard"
)

var (
	statusOutputFormat string
	statusFilter       string
	statusHalted       bool
	statusSince        string
	statusUntil        string
	statusIntent       string
)

var statusCmd = &cobra.Command{
	Use:   "status [SESSION_ID]",
	Short: "List sessions or show one session",
	Long: `Inspect sessions in the configured checkpoint store.

List Mode (no SESSION_ID):
  One row per session, oldest first. A '*' after the status marks a
  session halted mid-run.

Get Mode (with SESSION_ID):
  Prints the session summary and current draft, or the full checkpoint
  as JSON with --output=jsonl.

Examples:
  # All sessions
  foundry status

  # Sessions waiting for a human
  foundry status --halted

  # Completed sessions from the last day as JSONL
  foundry status --status completed --since 24h -o jsonl | jq .current_draft

  # Sessions about dosage
  foundry status --intent '*dosage*'

  # One session, by full ID or a unique prefix of at least 6 characters
  foundry status 6f1c2d`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutputFormat, "output", "o", "default", "Output format (default or jsonl)")
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "Only list sessions with this status")
	statusCmd.Flags().BoolVar(&statusHalted, "halted", false, "Only list sessions halted for review")
	statusCmd.Flags().StringVar(&statusSince, "since", "", "Only list sessions created after this time (duration or RFC3339)")
	statusCmd.Flags().StringVar(&statusUntil, "until", "", "Only list sessions created before this time (duration or RFC3339)")
	statusCmd.Flags().StringVar(&statusIntent, "intent", "", "Only list sessions whose intent matches this glob")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := history.ParseFormat(statusOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}

	filters, err := statusFilters()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, cfg, false, stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	if len(args) == 1 {
		sessionID, err := rt.resolveSession(ctx, args[0])
		if err != nil {
			return err
		}
		return showSession(cmd, rt.store, sessionID, format)
	}

	lister, ok := rt.store.(history.Store)
	if !ok {
		return fmt.Errorf("store backend %s cannot list sessions", cfg.Store.Backend)
	}

	if err := history.ListSessions(ctx, lister, cfg.Instance, format, filters, printer.Stdout); err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	return nil
}

func statusFilters() (*filter.Criteria, error) {
	status := blackboard.Status(statusFilter)
	if status != "" {
		if err := status.Validate(); err != nil {
			return nil, printer.Error("invalid status filter", err.Error(), nil)
		}
	}

	since, until, err := timespec.ParseRange(statusSince, statusUntil, time.Now())
	if err != nil {
		return nil, printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use duration format like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z'"},
		)
	}

	return &filter.Criteria{
		Since:      since,
		Until:      until,
		Status:     status,
		Halted:     statusHalted,
		IntentGlob: statusIntent,
	}, nil
}

func showSession(cmd *cobra.Command, store checkpoint.Store, sessionID string, format history.OutputFormat) error {
	if format == history.OutputFormatJSONL {
		err := history.GetSession(cmd.Context(), store, sessionID, printer.Stdout)
		if history.IsNotFound(err) {
			return sessionNotFound(sessionID)
		}
		return err
	}

	state, err := store.GetState(cmd.Context(), sessionID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return sessionNotFound(sessionID)
		}
		return fmt.Errorf("failed to fetch session: %w", err)
	}

	printer.Session(state)
	return nil
}

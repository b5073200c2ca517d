package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/foundry/internal/config"
	"github.com/dyluth/foundry/internal/printer"
	"github.com/dyluth/foundry/internal/watch"
	"github.com/dyluth/foundry/pkg/blackboard"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch <SESSION_ID>",
	Short: "Follow a session's progress in real time",
	Long: `Follow the progress events of a session driven by another foundry process
(for example 'foundry serve'), until it halts for review, completes or fails.

A session that already stopped is printed once and the command exits.
Requires a shared bus: bus.backend must be 'redis' or 'nats'.

Output Formats:
  text  - Human-readable output with timestamps and emojis
  jsonl - Line-delimited JSON for programmatic processing`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "text", "Output format (text or jsonl)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	format, err := parseWatchFormat(watchOutputFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Bus.Backend == config.BusEmbedded {
		return printer.Error(
			"watch needs a shared event bus",
			"The embedded bus only carries events inside the process that runs the session.",
			[]string{
				"Set bus.backend to 'redis' or 'nats' in foundry.yml",
				fmt.Sprintf("Poll the checkpoint instead:\n  foundry status %s", sessionID),
			},
		)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, true, stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID, err = rt.resolveSession(ctx, sessionID)
	if err != nil {
		return err
	}

	// Subscribe before reading the checkpoint so a run that stops in between
	// still delivers its final event.
	sub, err := rt.bus.SubscribeProgress(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	state, err := rt.store.GetState(ctx, sessionID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return sessionNotFound(sessionID)
		}
		return fmt.Errorf("failed to fetch session: %w", err)
	}

	if state.Status.IsAbsorbing() {
		return watch.WriteEvent(printer.Stdout, replayEvent(state), format)
	}

	if format == watch.OutputFormatText {
		printer.Step("Watching session %s (%s)\n", sessionID, state.Status)
	}

	if _, err := watch.FollowSubscription(ctx, sub, printer.Stdout, format); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func replayEvent(s *blackboard.State) *blackboard.ProgressEvent {
	switch s.Status {
	case blackboard.StatusCompleted:
		return blackboard.NewProgressEvent(blackboard.EventComplete, s)
	case blackboard.StatusFailed:
		return blackboard.NewProgressEvent(blackboard.EventError, s)
	default:
		return blackboard.NewProgressEvent(blackboard.EventHalted, s)
	}
}

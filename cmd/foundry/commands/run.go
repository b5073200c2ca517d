package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/foundry/internal/orchestrator"
	"github.com/dyluth/foundry/internal/printer"
	"github.com/dyluth/foundry/internal/watch"
	"github.com/dyluth/foundry/pkg/blackboard"
)

var (
	runSessionID     string
	runMaxIterations int
	runApprove       bool
	runOutputFormat  string
)

var runCmd = &cobra.Command{
	Use:   "run <intent>",
	Short: "Run a session in this process and print its progress",
	Long: `Create a session from an intent and drive it until it halts for review,
completes or fails, printing each step as it happens.

With --approve the draft is approved as soon as the session halts for review.
With --session an existing session is resumed instead; halted, completed and
failed sessions are replayed without running any step.

Examples:
  # Draft and stop for review
  foundry run "Explain to a patient how to take amoxicillin"

  # Draft and approve in one go
  foundry run --approve "Reply to a question about sleep hygiene"

  # Resume a session left mid-run
  foundry run --session 6f1c...

  # Stream events as JSON lines
  foundry run -o jsonl "..." | jq .kind`,
	Args: func(cmd *cobra.Command, args []string) error {
		if runSessionID != "" {
			return cobra.MaximumNArgs(0)(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "Resume an existing session instead of creating one")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Revision cap for the new session (default engine.max_iterations)")
	runCmd.Flags().BoolVar(&runApprove, "approve", false, "Approve the draft when the session halts for review")
	runCmd.Flags().StringVarP(&runOutputFormat, "output", "o", "text", "Output format (text or jsonl)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	format, err := parseWatchFormat(runOutputFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, true, stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	engine := rt.newEngine()
	defer engine.Close()

	sessionID := runSessionID
	if sessionID != "" {
		if sessionID, err = rt.resolveSession(ctx, sessionID); err != nil {
			return err
		}
	} else {
		sessionID, err = engine.Create(ctx, args[0], "", runMaxIterations)
		if err != nil {
			return engineError(err, "")
		}
		if format == watch.OutputFormatText {
			printer.Step("Session %s started\n", sessionID)
		}
	}

	// A run already started by Create finishes first; the queued run then
	// replays the final event, so the stream always terminates.
	events, err := engine.Stream(ctx, sessionID)
	if err != nil {
		return engineError(err, sessionID)
	}

	final, err := watch.Render(ctx, events, printer.Stdout, format)
	if err != nil {
		return err
	}
	if final == nil || final.State == nil {
		return fmt.Errorf("stream for session %s ended without a final event", sessionID)
	}

	state := final.State
	if final.Kind == blackboard.EventError {
		if format == watch.OutputFormatText {
			printer.Info("\n")
			printer.Session(state)
		}
		return runStopped(final)
	}

	if runApprove && state.Status == blackboard.StatusAwaitingApproval {
		state, err = engine.Approve(ctx, sessionID, nil)
		if err != nil {
			return engineError(err, sessionID)
		}
		if format == watch.OutputFormatJSONL {
			return watch.WriteEvent(printer.Stdout, blackboard.NewProgressEvent(blackboard.EventComplete, state), format)
		}
	}

	if format == watch.OutputFormatJSONL {
		return nil
	}

	printer.Info("\n")
	printer.Session(state)

	if state.Status == blackboard.StatusAwaitingApproval {
		printer.Info("\n")
		printer.Step("Awaiting approval. Approve with:\n  foundry run --approve --session %s\n", sessionID)
	}

	return nil
}

// runStopped reports a run that ended on an error event. A failed session is
// final; any other status means a collaborator gave up and the run can resume.
func runStopped(ev *blackboard.ProgressEvent) error {
	if ev.State.Status == blackboard.StatusFailed {
		reason := ev.Error
		if n := ev.State.LatestNote(); n != nil {
			reason = n.Text
		}
		return printer.ErrorWithContext(
			"session failed",
			reason,
			map[string]string{"session": ev.SessionID},
			[]string{fmt.Sprintf("Inspect the checkpoints:\n  foundry history %s", ev.SessionID)},
		)
	}

	return printer.ErrorWithContext(
		"collaborator failed",
		ev.Error,
		map[string]string{"session": ev.SessionID, "step": string(ev.Step)},
		[]string{
			"Check the agents section of foundry.yml",
			fmt.Sprintf("Resume once fixed:\n  foundry run --session %s", ev.SessionID),
		},
	)
}

// engineError turns engine errors into user-facing messages.
func engineError(err error, sessionID string) error {
	switch {
	case orchestrator.IsSessionNotFound(err):
		return sessionNotFound(sessionID)
	case orchestrator.IsCollaboratorError(err):
		return printer.ErrorWithContext(
			"collaborator failed",
			err.Error(),
			map[string]string{"session": sessionID},
			[]string{
				"Check the agents section of foundry.yml",
				fmt.Sprintf("Resume once fixed:\n  foundry run --session %s", sessionID),
			},
		)
	case orchestrator.IsPersistenceError(err):
		return printer.Error("checkpoint store error", err.Error(), nil)
	default:
		return err
	}
}

func parseWatchFormat(s string) (watch.OutputFormat, error) {
	switch watch.OutputFormat(s) {
	case "", watch.OutputFormatText:
		return watch.OutputFormatText, nil
	case watch.OutputFormatJSONL:
		return watch.OutputFormatJSONL, nil
	default:
		return "", printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", s),
			[]string{"Valid formats: text, jsonl"},
		)
	}
}

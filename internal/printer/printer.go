package printer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/dyluth/foundry/pkg/blackboard"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Stdout and Stderr are swapped out in tests.
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Stdout, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Stdout, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Stdout, msg)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(Stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a formatted error with title, explanation and suggestions to
// stderr and returns a simple error for Cobra
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value context lines, printed in key order
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Stderr, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(Stderr, "\n")
		for _, k := range keys {
			fmt.Fprintf(Stderr, "  %s: %s\n", k, context[k])
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(Stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(Stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(Stderr, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(Stderr, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Won't be printed again due to SilenceErrors
	return &ReportedError{Title: title}
}

// ReportedError is returned by Error and ErrorWithContext once the message
// has been written to Stderr.
type ReportedError struct {
	Title string
}

func (e *ReportedError) Error() string {
	return e.Title
}

// IsReported reports whether err has already been printed.
func IsReported(err error) bool {
	var r *ReportedError
	return errors.As(err, &r)
}

// StatusColor picks the colour used for a session status.
func StatusColor(status blackboard.Status) *color.Color {
	switch status {
	case blackboard.StatusCompleted, blackboard.StatusApproved:
		return green
	case blackboard.StatusAwaitingApproval:
		return yellow
	case blackboard.StatusFailed:
		return red
	default:
		return cyan
	}
}

// Session prints a compact summary of a session followed by its current draft.
func Session(s *blackboard.State) {
	fmt.Fprintf(Stdout, "Session:    %s\n", s.SessionID)
	fmt.Fprintf(Stdout, "Status:     %s\n", StatusColor(s.Status).Sprint(s.Status))
	fmt.Fprintf(Stdout, "Iteration:  %d/%d\n", s.IterationCount, s.MaxIterations)
	fmt.Fprintf(Stdout, "Version:    %d\n", s.CurrentVersion)
	if s.Decision != blackboard.DecisionNone {
		fmt.Fprintf(Stdout, "Decision:   %s\n", s.Decision)
	}
	if scores := formatScores(s); scores != "" {
		fmt.Fprintf(Stdout, "Scores:     %s\n", scores)
	}
	if n := s.LatestNote(); n != nil {
		fmt.Fprintf(Stdout, "Last note:  %s\n", faint.Sprintf("%s: %s", n.Author, n.Text))
	}

	if draft := s.Draft(); draft != "" {
		fmt.Fprintf(Stdout, "\n%s\n", draft)
	}
}

func formatScores(s *blackboard.State) string {
	var parts []string
	for _, sc := range []struct {
		name  string
		value *float64
	}{
		{"safety", s.SafetyScore},
		{"empathy", s.EmpathyScore},
		{"clinical", s.ClinicalScore},
	} {
		if sc.value != nil {
			parts = append(parts, fmt.Sprintf("%s=%.2f", sc.name, *sc.value))
		}
	}
	return strings.Join(parts, " ")
}

package history

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// FormatSessions writes one row per session: ID, STATUS, ITER, VER, AGE and INTENT.
// Returns the number of sessions formatted.
func FormatSessions(w io.Writer, sessions []*blackboard.State, instanceName string) int {
	if len(sessions) == 0 {
		fmt.Fprintf(w, "No sessions found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Sessions for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-10s %-18s %-5s %-5s %-8s %s\n",
		"ID", "STATUS", "ITER", "VER", "AGE", "INTENT")
	fmt.Fprintf(w, "%-10s %-18s %-5s %-5s %-8s %s\n",
		"----------", "------------------", "-----", "-----", "--------", "----------------------------------------")

	for _, s := range sessions {
		fmt.Fprintf(w, "%-10s %-18s %-5s %-5s %-8s %s\n",
			formatID(s.SessionID),
			formatStatus(s),
			fmt.Sprintf("%d/%d", s.IterationCount, s.MaxIterations),
			formatVersion(s.CurrentVersion),
			formatTimestamp(s.UpdatedAt),
			formatText(s.UserIntent),
		)
	}

	countMsg := "session"
	if len(sessions) != 1 {
		countMsg = "sessions"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(sessions), countMsg)

	return len(sessions)
}

// FormatSnapshots writes a session's checkpoint log as a table, oldest first.
func FormatSnapshots(w io.Writer, snapshots []*blackboard.State) int {
	if len(snapshots) == 0 {
		fmt.Fprintln(w, "No checkpoints recorded")
		return 0
	}

	fmt.Fprintf(w, "Checkpoints for session '%s':\n\n", snapshots[0].SessionID)

	fmt.Fprintf(w, "%-4s %-18s %-18s %-5s %-5s %s\n",
		"#", "STATUS", "STEP", "ITER", "VER", "NOTE")
	fmt.Fprintf(w, "%-4s %-18s %-18s %-5s %-5s %s\n",
		"----", "------------------", "------------------", "-----", "-----", "----------------------------------------")

	for i, s := range snapshots {
		note := "-"
		if n := s.LatestNote(); n != nil {
			note = n.Author + ": " + formatText(n.Text)
		}
		fmt.Fprintf(w, "%-4d %-18s %-18s %-5d %-5s %s\n",
			i+1,
			formatStatus(s),
			formatStep(s.ActiveStep),
			s.IterationCount,
			formatVersion(s.CurrentVersion),
			note,
		)
	}

	return len(snapshots)
}

// FormatDrafts writes the draft history of a session, one row per version.
func FormatDrafts(w io.Writer, s *blackboard.State) int {
	if len(s.DraftHistory) == 0 {
		fmt.Fprintf(w, "No drafts written for session '%s'\n", s.SessionID)
		return 0
	}

	fmt.Fprintf(w, "%-5s %-5s %-12s %-8s %s\n", "VER", "ITER", "BY", "AGE", "CONTENT")
	fmt.Fprintf(w, "%-5s %-5s %-12s %-8s %s\n",
		"-----", "-----", "------------", "--------", "----------------------------------------")

	for _, d := range s.DraftHistory {
		fmt.Fprintf(w, "%-5s %-5d %-12s %-8s %s\n",
			formatVersion(d.Version),
			d.Iteration,
			formatAuthor(d.Author),
			formatTimestamp(d.CreatedAt),
			formatText(d.Content),
		)
	}

	return len(s.DraftHistory)
}

// FormatJSONL writes states as line-delimited JSON (JSONL) to the provided writer.
// This format is ideal for streaming and processing with tools like jq.
func FormatJSONL(w io.Writer, states []*blackboard.State) error {
	for _, s := range states {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal state to JSON: %w", err)
		}

		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}

	return nil
}

// FormatSingleJSON writes a single state as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, s *blackboard.State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state to JSON: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)

	return nil
}

// formatID truncates session IDs to 8 characters for compact display.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatStatus marks halted sessions, which can sit in any status while a halt is pending.
func formatStatus(s *blackboard.State) string {
	if s.Halted && s.Status != blackboard.StatusAwaitingApproval {
		return string(s.Status) + "*"
	}
	return string(s.Status)
}

func formatStep(step blackboard.Step) string {
	if step == "" {
		return "-"
	}
	return string(step)
}

func formatAuthor(author string) string {
	if author == "" {
		return "-"
	}
	return author
}

// formatVersion shows "v1", "v2", ... or "-" before the first draft.
func formatVersion(version int) string {
	if version < 1 {
		return "-"
	}
	return fmt.Sprintf("v%d", version)
}

// formatText keeps the first non-empty line, truncated to 60 characters.
func formatText(text string) string {
	var firstLine string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			firstLine = trimmed
			break
		}
	}

	if firstLine == "" {
		return "-"
	}
	if len(firstLine) > 60 {
		return firstLine[:57] + "..."
	}
	return firstLine
}

// formatTimestamp shows relative time like "2m ago", "1h ago".
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

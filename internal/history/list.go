// Package history renders sessions, checkpoint logs and draft versions for the CLI.
package history

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dyluth/foundry/internal/checkpoint"
	"github.com/dyluth/foundry/internal/filter"
	"github.com/dyluth/foundry/pkg/blackboard"
)

// OutputFormat specifies how to format output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table format with truncated text
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete states as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputFormatDefault:
		return OutputFormatDefault, nil
	case OutputFormatJSONL:
		return OutputFormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (must be 'default' or 'jsonl')", s)
	}
}

// Store is what listing needs from a checkpoint store.
type Store interface {
	checkpoint.Lister
	GetState(ctx context.Context, sessionID string) (*blackboard.State, error)
}

// ListSessions loads every session in the store and writes them to w, oldest first.
// Unreadable sessions are skipped with a warning to stderr.
func ListSessions(ctx context.Context, store Store, instanceName string, format OutputFormat, filters *filter.Criteria, w io.Writer) error {
	ids, err := store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []*blackboard.State
	for _, id := range ids {
		s, err := store.GetState(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Skipping unreadable session: id=%s (error: %v)\n", id, err)
			continue
		}
		if !filters.Matches(s) {
			continue
		}
		sessions = append(sessions, s)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	switch format {
	case OutputFormatDefault:
		FormatSessions(w, sessions, instanceName)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, sessions); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}

// WriteHistory writes a session's checkpoint log followed by its draft versions.
func WriteHistory(ctx context.Context, store checkpoint.Store, sessionID string, format OutputFormat, w io.Writer) error {
	snapshots, err := store.GetHistory(ctx, sessionID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return &SessionNotFoundError{SessionID: sessionID}
		}
		return fmt.Errorf("failed to read history: %w", err)
	}

	switch format {
	case OutputFormatDefault:
		FormatSnapshots(w, snapshots)
		fmt.Fprintln(w)
		FormatDrafts(w, snapshots[len(snapshots)-1])
	case OutputFormatJSONL:
		if err := FormatJSONL(w, snapshots); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}

// Package resolver expands the short session IDs shown in listings.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/foundry/internal/checkpoint"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// Store is what resolution needs from a checkpoint store.
type Store interface {
	checkpoint.Lister
	StateExists(ctx context.Context, sessionID string) (bool, error)
}

// ResolveSessionID resolves a session ID or a unique prefix of one.
//
// An ID with a checkpoint is returned as-is, so callers may use any ID they
// chose at creation, not only UUIDs. Otherwise shortID must be at least
// MinShortIDLength characters and prefix exactly one session.
func ResolveSessionID(ctx context.Context, store Store, shortID string) (string, error) {
	exists, err := store.StateExists(ctx, shortID)
	if err != nil {
		return "", fmt.Errorf("failed to verify session existence: %w", err)
	}
	if exists {
		return shortID, nil
	}

	// Full UUIDs are never prefixes of anything else
	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		return "", &NotFoundError{ShortID: shortID}
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	ids, err := store.ListSessions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to search for session: %w", err)
	}

	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, shortID) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no sessions matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no sessions found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple sessions matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d sessions", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError lists the matching IDs (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ambiguous short ID '%s' matches %d sessions:\n", err.ShortID, len(err.Matches))

	displayCount := min(len(err.Matches), 10)
	for _, id := range err.Matches[:displayCount] {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(err.Matches) > displayCount {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-displayCount)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the session.")
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}

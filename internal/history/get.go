package history

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/foundry/internal/checkpoint"
	"github.com/dyluth/foundry/pkg/blackboard"
)

// GetSession retrieves a session's latest checkpoint and writes it as pretty-printed JSON.
func GetSession(ctx context.Context, store checkpoint.Store, sessionID string, w io.Writer) error {
	s, err := store.GetState(ctx, sessionID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return &SessionNotFoundError{SessionID: sessionID}
		}
		return fmt.Errorf("failed to fetch session: %w", err)
	}

	if err := FormatSingleJSON(w, s); err != nil {
		return fmt.Errorf("failed to format session: %w", err)
	}

	return nil
}

// SessionNotFoundError represents a specific "session not found" error.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session with ID '%s' not found", e.SessionID)
}

// IsNotFound returns true if the error is a SessionNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*SessionNotFoundError)
	return ok
}

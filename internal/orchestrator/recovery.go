package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RecoverSessions resumes every session that was mid-run when the previous
// process stopped. Sessions that are halted, awaiting approval, completed or
// failed are left alone. Returns the number of runs started.
func (e *Engine) RecoverSessions(ctx context.Context) (int, error) {
	e.logger.Info("recovery_started")
	startTime := time.Now()

	ids, err := e.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to scan for sessions: %w", err)
	}

	resumed := 0
	for _, id := range ids {
		state, err := e.load(ctx, id)
		if err != nil {
			// Non-fatal - one unreadable session must not block the rest
			e.logger.Warn("recovery_skipped", zap.String("session_id", id), zap.Error(err))
			continue
		}

		if state.Halted || state.Status.IsAbsorbing() {
			continue
		}

		e.logger.Info("session_resumed",
			zap.String("session_id", id),
			zap.String("status", string(state.Status)),
			zap.String("step", string(state.ActiveStep)),
		)
		e.runAsync(id)
		resumed++
	}

	e.logger.Info("recovery_complete",
		zap.Int("scanned", len(ids)),
		zap.Int("resumed", resumed),
		zap.Duration("duration", time.Since(startTime)),
	)
	return resumed, nil
}

// Package watch renders session progress for the terminal.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// OutputFormat selects how events are written.
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSONL OutputFormat = "jsonl"
)

// StateGetter reads a session's latest checkpoint.
type StateGetter interface {
	GetState(ctx context.Context, sessionID string) (*blackboard.State, error)
}

// Subscriber delivers a session's progress events.
type Subscriber interface {
	SubscribeProgress(ctx context.Context, sessionID string) (*blackboard.Subscription, error)
}

// PollForStatus polls the store until match accepts the session's state.
// Polls every 200ms for the specified timeout duration.
func PollForStatus(ctx context.Context, store StateGetter, sessionID string, timeout time.Duration, match func(*blackboard.State) bool) (*blackboard.State, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for session %s after %v", sessionID, timeout)

		case <-ticker.C:
			s, err := store.GetState(ctx, sessionID)
			if err != nil {
				if blackboard.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query session: %w", err)
			}
			if match(s) {
				return s, nil
			}
		}
	}
}

// Render writes events to w until the final event, the channel closing or ctx
// ending. It returns the final event when one was seen.
func Render(ctx context.Context, events <-chan *blackboard.ProgressEvent, w io.Writer, format OutputFormat) (*blackboard.ProgressEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil, nil
			}
			if err := WriteEvent(w, ev, format); err != nil {
				return nil, err
			}
			if ev.IsFinal() {
				return ev, nil
			}
		}
	}
}

// Follow subscribes to a session and renders its events until the final one.
func Follow(ctx context.Context, sub Subscriber, sessionID string, w io.Writer, format OutputFormat) (*blackboard.ProgressEvent, error) {
	s, err := sub.SubscribeProgress(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	defer s.Close()

	return FollowSubscription(ctx, s, w, format)
}

// FollowSubscription renders events from an open subscription until the final
// one. Decode errors are written as warnings and do not stop the stream.
// The caller keeps ownership of s.
func FollowSubscription(ctx context.Context, s *blackboard.Subscription, w io.Writer, format OutputFormat) (*blackboard.ProgressEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-s.Events():
			if !ok {
				return nil, nil
			}
			if err := WriteEvent(w, ev, format); err != nil {
				return nil, err
			}
			if ev.IsFinal() {
				return ev, nil
			}
		case err, ok := <-s.Errors():
			if ok {
				fmt.Fprintf(w, "⚠️  %v\n", err)
			}
		}
	}
}

// WriteEvent writes a single event in the requested format.
func WriteEvent(w io.Writer, ev *blackboard.ProgressEvent, format OutputFormat) error {
	switch format {
	case OutputFormatJSONL:
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case OutputFormatText, "":
		_, err := fmt.Fprintf(w, "[%s] %s\n", ev.Timestamp.Local().Format("15:04:05"), FormatEvent(ev))
		return err
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// FormatEvent renders an event as one human-readable line.
func FormatEvent(ev *blackboard.ProgressEvent) string {
	note := ""
	if ev.ActiveNote != "" {
		note = fmt.Sprintf(" (%s: %s)", ev.ActiveAgent, ev.ActiveNote)
	}

	switch ev.Kind {
	case blackboard.EventHalted:
		version := 0
		if ev.State != nil {
			version = ev.State.CurrentVersion
		}
		return fmt.Sprintf("⏸️  Halted for review: session=%s version=%d%s", ev.SessionID, version, note)
	case blackboard.EventComplete:
		return fmt.Sprintf("🎉 Completed: session=%s%s", ev.SessionID, note)
	case blackboard.EventError:
		return fmt.Sprintf("❌ Error: session=%s status=%s: %s", ev.SessionID, ev.Status, ev.Error)
	}

	switch ev.Step {
	case blackboard.StepDraft:
		return fmt.Sprintf("✍️  Draft written: iteration=%d%s", ev.Iteration, note)
	case blackboard.StepSafetyReview:
		return fmt.Sprintf("🛡️  Safety review%s", note)
	case blackboard.StepClinicalCritique:
		return fmt.Sprintf("🩺 Clinical critique%s", note)
	case blackboard.StepSupervise:
		return fmt.Sprintf("🧭 Supervisor decision%s", note)
	default:
		return fmt.Sprintf("• %s: status=%s%s", ev.Kind, ev.Status, note)
	}
}

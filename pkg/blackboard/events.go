package blackboard

import (
	"sync"
	"time"
)

// EventKind classifies a progress event. Every kind except EventStateUpdate is final:
// it is the last event of a run and carries the full state snapshot.
type EventKind string

const (
	EventStateUpdate EventKind = "state_update"
	EventHalted      EventKind = "halted"
	EventComplete    EventKind = "complete"
	EventError       EventKind = "error"
)

// ProgressEvent is emitted after each persisted step and once when a run stops.
type ProgressEvent struct {
	SessionID   string    `json:"session_id"`
	Kind        EventKind `json:"kind"`
	Step        Step      `json:"step,omitempty"`
	Status      Status    `json:"status"`
	ActiveNote  string    `json:"active_note,omitempty"`
	ActiveAgent string    `json:"active_agent,omitempty"`
	Iteration   int       `json:"iteration"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Final       bool      `json:"final"`
	State       *State    `json:"state,omitempty"`
}

// IsFinal reports whether the event ends a run.
func (e *ProgressEvent) IsFinal() bool {
	return e.Kind != EventStateUpdate
}

// NewProgressEvent builds an event describing s. Final events embed a copy of the state.
func NewProgressEvent(kind EventKind, s *State) *ProgressEvent {
	ev := &ProgressEvent{
		SessionID: s.SessionID,
		Kind:      kind,
		Step:      s.ActiveStep,
		Status:    s.Status,
		Iteration: s.IterationCount,
		Timestamp: now(),
	}

	if note := s.LatestNote(); note != nil {
		ev.ActiveNote = note.Text
		ev.ActiveAgent = note.Author
	}

	if ev.IsFinal() {
		ev.Final = true
		ev.State = s.Clone()
	}

	return ev
}

// Subscription represents an active subscription to a session's progress events.
// Events are delivered on Events(); decode or transport failures on Errors().
type Subscription struct {
	events <-chan *ProgressEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// NewSubscription wraps channels fed by a transport-specific goroutine.
// cancel must stop that goroutine, which then closes both channels.
func NewSubscription(events <-chan *ProgressEvent, errors <-chan error, cancel func()) *Subscription {
	return &Subscription{events: events, errors: errors, cancel: cancel}
}

// Events returns a read-only channel that delivers progress events.
// The channel is closed when the subscription is closed.
func (s *Subscription) Events() <-chan *ProgressEvent {
	return s.events
}

// Errors returns a read-only channel that delivers subscription errors.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

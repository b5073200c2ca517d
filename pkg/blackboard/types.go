// Package blackboard provides type-safe Go definitions and Redis schema patterns
// for the Foundry blackboard. The blackboard is the single shared record that
// every orchestration step reads and writes, persisted as a checkpoint after
// each step so a session can be suspended and resumed.
//
// All Redis keys and channels are namespaced by instance name to enable multiple
// Foundry instances to safely coexist on a single Redis server.
package blackboard

import (
	"fmt"
	"time"
)

// State is the blackboard record for one session.
// It is identified by SessionID, which is the sole key into the checkpoint store.
type State struct {
	SessionID      string             `json:"session_id"`
	UserIntent     string             `json:"user_intent"`                   // Immutable after creation
	Status         Status             `json:"status"`                        // Closed lifecycle enum
	CurrentDraft   *string            `json:"current_draft,omitempty"`       // Latest draft content, absent until first draft
	CurrentVersion int                `json:"current_version"`               // Version of CurrentDraft, 0 before first draft
	DraftHistory   []DraftRecord      `json:"draft_history"`                 // Append-only, version i+1 at index i
	IterationCount int                `json:"iteration_count"`               // Incremented once per drafting step
	MaxIterations  int                `json:"max_iterations"`                // Revision cap enforced by the router
	AgentNotes     []Note             `json:"agent_notes"`                   // Append-only scratchpad
	ActiveStep     Step               `json:"active_step,omitempty"`         // Step that last wrote the state
	SafetyChecks   map[string]bool    `json:"safety_checks"`                 // Merged across reviews
	SafetyScore    *float64           `json:"safety_score,omitempty"`        // [0,1]
	EmpathyScore   *float64           `json:"empathy_score,omitempty"`       // [0,1]
	ClinicalScore  *float64           `json:"clinical_score,omitempty"`      // [0,1]
	Decision       SupervisorDecision `json:"supervisor_decision,omitempty"` // Structured routing signal from the supervisor
	Halted         bool               `json:"halted"`
	HumanApproved  bool               `json:"human_approved"`
	HumanEdits     *string            `json:"human_edits,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
}

// DraftRecord is one entry in a session's draft history.
type DraftRecord struct {
	Content       string    `json:"content"`
	Version       int       `json:"version"`
	Iteration     int       `json:"iteration"`
	Author        string    `json:"author"`
	CreatedAt     time.Time `json:"created_at"`
	SafetyScore   *float64  `json:"safety_score,omitempty"`
	EmpathyScore  *float64  `json:"empathy_score,omitempty"`
	ClinicalScore *float64  `json:"clinical_score,omitempty"`
	Feedback      []string  `json:"feedback"`
}

// Note is a message on the blackboard scratchpad.
// An empty Target means the note is broadcast to every step.
type Note struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Target    string    `json:"target,omitempty"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// Scores groups the optional quality scores recorded alongside a draft.
type Scores struct {
	Safety   *float64
	Empathy  *float64
	Clinical *float64
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInitializing     Status = "initializing"
	StatusDrafting         Status = "drafting"
	StatusReviewing        Status = "reviewing"
	StatusCritiquing       Status = "critiquing"
	StatusDeciding         Status = "deciding"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusInitializing, StatusDrafting, StatusReviewing, StatusCritiquing, StatusDeciding,
		StatusAwaitingApproval, StatusApproved, StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// IsAbsorbing reports whether automatic execution must not advance past this status.
func (s Status) IsAbsorbing() bool {
	return s == StatusAwaitingApproval || s == StatusCompleted || s == StatusFailed
}

// Step identifies one of the four working steps of the graph.
type Step string

const (
	StepDraft            Step = "draft"
	StepSafetyReview     Step = "safety_review"
	StepClinicalCritique Step = "clinical_critique"
	StepSupervise        Step = "supervise"
)

// Validate checks if the Step is a valid enum value. The empty step is valid
// and means no step has written the state yet.
func (s Step) Validate() error {
	switch s {
	case "", StepDraft, StepSafetyReview, StepClinicalCritique, StepSupervise:
		return nil
	default:
		return fmt.Errorf("invalid step: %s", s)
	}
}

// Priority is the urgency of a note.
type Priority string

const (
	PriorityInfo     Priority = "info"
	PriorityWarning  Priority = "warning"
	PriorityCritical Priority = "critical"
)

// Validate checks if the Priority is a valid enum value.
func (p Priority) Validate() error {
	switch p {
	case PriorityInfo, PriorityWarning, PriorityCritical:
		return nil
	default:
		return fmt.Errorf("invalid priority: %s", p)
	}
}

// SupervisorDecision is the structured signal the supervisor step leaves for the router.
type SupervisorDecision string

const (
	// DecisionNone means the supervisor has no objection; the run terminates.
	DecisionNone SupervisorDecision = ""

	// DecisionNeedsRevision sends the session back to drafting.
	DecisionNeedsRevision SupervisorDecision = "needs_revision"

	// DecisionReadyForReview suspends the session for human approval.
	DecisionReadyForReview SupervisorDecision = "ready_for_review"

	// DecisionAwaitingReview is treated like DecisionReadyForReview.
	DecisionAwaitingReview SupervisorDecision = "awaiting_review"
)

// Validate checks if the SupervisorDecision is a valid enum value.
func (d SupervisorDecision) Validate() error {
	switch d {
	case DecisionNone, DecisionNeedsRevision, DecisionReadyForReview, DecisionAwaitingReview:
		return nil
	default:
		return fmt.Errorf("invalid supervisor decision: %s", d)
	}
}

// Validate checks the structural invariants of the State.
func (s *State) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("session_id cannot be empty")
	}

	if s.UserIntent == "" {
		return fmt.Errorf("user_intent cannot be empty")
	}

	if err := s.Status.Validate(); err != nil {
		return err
	}

	if err := s.ActiveStep.Validate(); err != nil {
		return err
	}

	if err := s.Decision.Validate(); err != nil {
		return err
	}

	if s.MaxIterations < 1 {
		return fmt.Errorf("invalid max_iterations: must be >= 1, got %d", s.MaxIterations)
	}

	if s.IterationCount < 0 || s.IterationCount > s.MaxIterations {
		return fmt.Errorf("invalid iteration_count: %d (max %d)", s.IterationCount, s.MaxIterations)
	}

	if s.CurrentVersion != len(s.DraftHistory) {
		return fmt.Errorf("current_version %d does not match draft history length %d", s.CurrentVersion, len(s.DraftHistory))
	}

	for i, d := range s.DraftHistory {
		if d.Version != i+1 {
			return fmt.Errorf("draft at index %d has version %d, expected %d", i, d.Version, i+1)
		}
	}

	for name, score := range map[string]*float64{
		"safety_score":   s.SafetyScore,
		"empathy_score":  s.EmpathyScore,
		"clinical_score": s.ClinicalScore,
	} {
		if score != nil && (*score < 0 || *score > 1) {
			return fmt.Errorf("invalid %s: %v not in [0,1]", name, *score)
		}
	}

	return nil
}

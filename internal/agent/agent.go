// Package agent defines the collaborator contracts the orchestration steps call
// out to, plus two families of implementations: deterministic built-ins and
// external commands driven over a JSON stdin/stdout contract.
package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// ErrInvalidOutput marks a collaborator response that can never succeed on retry.
var ErrInvalidOutput = errors.New("invalid collaborator output")

// DraftRequest is what the drafting collaborator sees.
type DraftRequest struct {
	Intent       string            `json:"intent"`
	CurrentDraft *string           `json:"current_draft,omitempty"`
	Notes        []blackboard.Note `json:"notes"`
	Iteration    int               `json:"iteration"`
}

// DraftResult is a new draft plus optional reviewer-facing feedback.
type DraftResult struct {
	Content  string   `json:"content"`
	Feedback []string `json:"feedback,omitempty"`
	Note     string   `json:"note,omitempty"`
}

// SafetyResult carries boolean checks that are merged into the blackboard.
type SafetyResult struct {
	Checks   map[string]bool     `json:"checks"`
	Score    *float64            `json:"score,omitempty"`
	Note     string              `json:"note,omitempty"`
	Priority blackboard.Priority `json:"priority,omitempty"`
}

// CritiqueResult carries the quality scores.
type CritiqueResult struct {
	EmpathyScore  *float64 `json:"empathy_score,omitempty"`
	ClinicalScore *float64 `json:"clinical_score,omitempty"`
	Feedback      []string `json:"feedback,omitempty"`
	Note          string   `json:"note,omitempty"`
}

// Decision is the supervisor's structured routing signal.
type Decision struct {
	Decision blackboard.SupervisorDecision `json:"decision"`
	Halt     bool                          `json:"halt,omitempty"`
	Note     string                        `json:"note,omitempty"`
}

type Drafter interface {
	Draft(ctx context.Context, req DraftRequest) (*DraftResult, error)
}

type SafetyReviewer interface {
	Review(ctx context.Context, s *blackboard.State) (*SafetyResult, error)
}

type QualityCritic interface {
	Critique(ctx context.Context, s *blackboard.State) (*CritiqueResult, error)
}

type Supervisor interface {
	Decide(ctx context.Context, s *blackboard.State) (*Decision, error)
}

// Collaborators bundles one implementation of each role.
type Collaborators struct {
	Drafter    Drafter
	Safety     SafetyReviewer
	Critic     QualityCritic
	Supervisor Supervisor
}

// Builtin returns the deterministic built-in collaborators.
func Builtin() Collaborators {
	return Collaborators{
		Drafter:    BuiltinDrafter{},
		Safety:     BuiltinSafety{},
		Critic:     BuiltinCritic{},
		Supervisor: BuiltinSupervisor{},
	}
}

// CommandSpec configures an external command collaborator.
type CommandSpec struct {
	Command []string
	Dir     string
	Timeout time.Duration
}

// Specs selects a command per role. A nil or empty spec falls back to the built-in.
type Specs struct {
	Drafter    *CommandSpec
	Safety     *CommandSpec
	Critic     *CommandSpec
	Supervisor *CommandSpec
}

// New assembles collaborators from specs.
func New(specs Specs, logger *zap.Logger) Collaborators {
	c := Builtin()

	execFor := func(spec *CommandSpec) *Exec {
		if spec == nil || len(spec.Command) == 0 {
			return nil
		}
		return &Exec{Command: spec.Command, Dir: spec.Dir, Timeout: spec.Timeout, Logger: logger}
	}

	if e := execFor(specs.Drafter); e != nil {
		c.Drafter = ExecDrafter{e}
	}
	if e := execFor(specs.Safety); e != nil {
		c.Safety = ExecSafety{e}
	}
	if e := execFor(specs.Critic); e != nil {
		c.Critic = ExecCritic{e}
	}
	if e := execFor(specs.Supervisor); e != nil {
		c.Supervisor = ExecSupervisor{e}
	}

	return c
}

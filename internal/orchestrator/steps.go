package orchestrator

import (
	"context"
	"fmt"
	"maps"

	"github.com/dyluth/foundry/internal/agent"
	"github.com/dyluth/foundry/pkg/blackboard"
)

// Update is the partial state a step produces. Steps compute it from a
// snapshot without touching the store; the engine applies it to the latest
// committed state under the session's write lock.
type Update struct {
	Step   blackboard.Step
	Status blackboard.Status

	Draft *DraftUpdate

	SafetyChecks  map[string]bool
	SafetyScore   *float64
	EmpathyScore  *float64
	ClinicalScore *float64

	Decision *blackboard.SupervisorDecision
	Halt     bool

	Notes []blackboard.Note
}

// DraftUpdate is a new draft to append.
type DraftUpdate struct {
	Content  string
	Author   string
	Feedback []string
}

// Apply mutates s with the update. Drafts and notes only go through the
// blackboard append operations.
func (u *Update) Apply(s *blackboard.State) {
	if u.Draft != nil {
		s.IterationCount++
		s.AppendDraft(u.Draft.Content, u.Draft.Author, blackboard.Scores{}, u.Draft.Feedback)
	}

	if s.SafetyChecks == nil {
		s.SafetyChecks = map[string]bool{}
	}
	maps.Copy(s.SafetyChecks, u.SafetyChecks)

	if u.SafetyScore != nil {
		s.SafetyScore = u.SafetyScore
	}
	if u.EmpathyScore != nil {
		s.EmpathyScore = u.EmpathyScore
	}
	if u.ClinicalScore != nil {
		s.ClinicalScore = u.ClinicalScore
	}

	if u.Decision != nil {
		s.Decision = *u.Decision
	}

	for _, n := range u.Notes {
		s.AppendNote(n.Author, n.Text, n.Target, n.Priority)
	}

	s.ActiveStep = u.Step
	s.Status = u.Status
	if u.Halt {
		s.Halted = true
		s.Status = blackboard.StatusAwaitingApproval
	}
	s.Touch()
}

func note(author, text string, target blackboard.Step, priority blackboard.Priority) blackboard.Note {
	return blackboard.Note{Author: author, Text: text, Target: string(target), Priority: priority}
}

// stepFunc computes the update for one step from a state snapshot.
type stepFunc func(ctx context.Context, s *blackboard.State) (*Update, error)

func draftStep(d agent.Drafter) stepFunc {
	return func(ctx context.Context, s *blackboard.State) (*Update, error) {
		iteration := s.IterationCount + 1
		res, err := d.Draft(ctx, agent.DraftRequest{
			Intent:       s.UserIntent,
			CurrentDraft: s.CurrentDraft,
			Notes:        s.NotesFor(string(blackboard.StepDraft)),
			Iteration:    iteration,
		})
		if err != nil {
			return nil, err
		}

		text := res.Note
		if text == "" {
			text = fmt.Sprintf("Draft written for iteration %d", iteration)
		}

		return &Update{
			Step:   blackboard.StepDraft,
			Status: blackboard.StatusDrafting,
			Draft:  &DraftUpdate{Content: res.Content, Author: agent.AuthorDrafter, Feedback: res.Feedback},
			Notes:  []blackboard.Note{note(agent.AuthorDrafter, text, "", blackboard.PriorityInfo)},
		}, nil
	}
}

func safetyStep(r agent.SafetyReviewer) stepFunc {
	return func(ctx context.Context, s *blackboard.State) (*Update, error) {
		res, err := r.Review(ctx, s)
		if err != nil {
			return nil, err
		}
		if err := agent.ValidScore("safety_score", res.Score); err != nil {
			return nil, err
		}

		priority := res.Priority
		if priority == "" {
			priority = blackboard.PriorityInfo
		}
		var target blackboard.Step
		if priority != blackboard.PriorityInfo {
			target = blackboard.StepDraft
		}
		text := res.Note
		if text == "" {
			text = fmt.Sprintf("Safety review recorded %d checks", len(res.Checks))
		}

		return &Update{
			Step:         blackboard.StepSafetyReview,
			Status:       blackboard.StatusReviewing,
			SafetyChecks: res.Checks,
			SafetyScore:  res.Score,
			Notes:        []blackboard.Note{note(agent.AuthorSafety, text, target, priority)},
		}, nil
	}
}

func critiqueStep(c agent.QualityCritic) stepFunc {
	return func(ctx context.Context, s *blackboard.State) (*Update, error) {
		res, err := c.Critique(ctx, s)
		if err != nil {
			return nil, err
		}
		if err := agent.ValidScore("empathy_score", res.EmpathyScore); err != nil {
			return nil, err
		}
		if err := agent.ValidScore("clinical_score", res.ClinicalScore); err != nil {
			return nil, err
		}

		priority := blackboard.PriorityInfo
		var target blackboard.Step
		if len(res.Feedback) > 0 {
			priority = blackboard.PriorityWarning
			target = blackboard.StepDraft
		}
		text := res.Note
		if text == "" {
			text = "Clinical critique complete"
		}

		return &Update{
			Step:          blackboard.StepClinicalCritique,
			Status:        blackboard.StatusCritiquing,
			EmpathyScore:  res.EmpathyScore,
			ClinicalScore: res.ClinicalScore,
			Notes:         []blackboard.Note{note(agent.AuthorCritic, text, target, priority)},
		}, nil
	}
}

func superviseStep(v agent.Supervisor) stepFunc {
	return func(ctx context.Context, s *blackboard.State) (*Update, error) {
		res, err := v.Decide(ctx, s)
		if err != nil {
			return nil, err
		}
		if err := res.Decision.Validate(); err != nil {
			return nil, fmt.Errorf("%v: %w", err, agent.ErrInvalidOutput)
		}

		var target blackboard.Step
		if res.Decision == blackboard.DecisionNeedsRevision {
			target = blackboard.StepDraft
		}
		text := res.Note
		if text == "" {
			text = "Supervisor decision: " + decisionLabel(res.Decision)
		}

		decision := res.Decision
		return &Update{
			Step:     blackboard.StepSupervise,
			Status:   blackboard.StatusDeciding,
			Decision: &decision,
			Halt:     res.Halt,
			Notes:    []blackboard.Note{note(agent.AuthorSupervisor, text, target, blackboard.PriorityInfo)},
		}, nil
	}
}

func decisionLabel(d blackboard.SupervisorDecision) string {
	if d == blackboard.DecisionNone {
		return "complete"
	}
	return string(d)
}

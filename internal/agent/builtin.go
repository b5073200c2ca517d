package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// Built-in collaborators are deterministic rule-based stand-ins for model-backed
// agents. They let a session run end to end without any external command and
// converge in two drafting rounds: the first draft omits the sections the
// reviewers ask for, the revision adds whatever the notes request.

// Author names used on notes and draft records.
const (
	AuthorDrafter    = "drafter"
	AuthorSafety     = "safety"
	AuthorCritic     = "critic"
	AuthorSupervisor = "supervisor"
)

// Section keywords shared by the drafter and the reviewers.
const (
	keywordDisclaimer = "disclaimer"
	keywordCrisis     = "crisis"
	keywordEmpathy    = "empathy"
	keywordMonitoring = "monitoring"
)

var sections = map[string]string{
	keywordDisclaimer: "## Disclaimer\nThis protocol is not a substitute for professional care.",
	keywordCrisis:     "## Crisis Resources\nIf you are in immediate danger, contact local emergency services or a crisis line.",
	keywordEmpathy:    "## A Note Before You Begin\nWe understand this can feel hard. You are not alone, and we will work through it together.",
	keywordMonitoring: "## Monitoring\nTrack progress weekly and review the plan with your clinician.",
}

// BuiltinDrafter writes a structured protocol and adds sections requested in notes.
type BuiltinDrafter struct{}

func (BuiltinDrafter) Draft(_ context.Context, req DraftRequest) (*DraftResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Protocol: %s\n\n", strings.TrimSpace(req.Intent))
	b.WriteString("## Assessment\nIdentify triggers, frequency and severity.\n\n")
	b.WriteString("## Intervention\nPractise the core exercise daily for ten minutes.\n")

	var addressed []string
	for _, kw := range []string{keywordEmpathy, keywordMonitoring, keywordCrisis, keywordDisclaimer} {
		if requested(req.Notes, kw) {
			b.WriteString("\n" + sections[kw] + "\n")
			addressed = append(addressed, kw)
		}
	}

	note := fmt.Sprintf("Draft for iteration %d written", req.Iteration)
	if len(addressed) > 0 {
		note += "; addressed " + strings.Join(addressed, ", ")
	}

	return &DraftResult{Content: b.String(), Feedback: addressed, Note: note}, nil
}

func requested(notes []blackboard.Note, keyword string) bool {
	for _, n := range notes {
		if n.Author == AuthorDrafter {
			continue
		}
		if strings.Contains(strings.ToLower(n.Text), keyword) {
			return true
		}
	}
	return false
}

// BuiltinSafety checks the draft for the mandatory safety sections.
type BuiltinSafety struct{}

func (BuiltinSafety) Review(_ context.Context, s *blackboard.State) (*SafetyResult, error) {
	draft := strings.ToLower(s.Draft())
	checks := map[string]bool{
		"has_disclaimer":         strings.Contains(draft, "## disclaimer"),
		"has_crisis_resources":   strings.Contains(draft, "## crisis resources"),
		"no_dosage_instructions": !strings.Contains(draft, "mg "),
	}

	var missing []string
	passed := 0
	for _, name := range []string{"has_disclaimer", "has_crisis_resources", "no_dosage_instructions"} {
		if checks[name] {
			passed++
		} else {
			missing = append(missing, name)
		}
	}
	score := float64(passed) / float64(len(checks))

	res := &SafetyResult{Checks: checks, Score: &score, Priority: blackboard.PriorityInfo, Note: "All safety checks passed"}
	if len(missing) > 0 {
		res.Priority = blackboard.PriorityCritical
		res.Note = "Safety review failed: " + strings.Join(missing, ", ") +
			"; add a " + keywordDisclaimer + " and " + keywordCrisis + " resources"
	}
	return res, nil
}

// BuiltinCritic scores empathy and clinical structure.
type BuiltinCritic struct{}

func (BuiltinCritic) Critique(_ context.Context, s *blackboard.State) (*CritiqueResult, error) {
	draft := strings.ToLower(s.Draft())

	empathy := 0.0
	for _, w := range []string{"understand", "not alone", "together", "feel"} {
		if strings.Contains(draft, w) {
			empathy += 0.25
		}
	}

	clinical := 0.0
	for _, h := range []string{"## assessment", "## intervention", "## monitoring"} {
		if strings.Contains(draft, h) {
			clinical += 1.0 / 3
		}
	}
	if clinical > 1 {
		clinical = 1
	}

	var feedback []string
	if empathy < 0.75 {
		feedback = append(feedback, "increase "+keywordEmpathy+" toward the reader")
	}
	if clinical < 0.99 {
		feedback = append(feedback, "add a "+keywordMonitoring+" section")
	}

	note := fmt.Sprintf("Empathy %.2f, clinical %.2f", empathy, clinical)
	if len(feedback) > 0 {
		note += ": " + strings.Join(feedback, "; ")
	}

	return &CritiqueResult{EmpathyScore: &empathy, ClinicalScore: &clinical, Feedback: feedback, Note: note}, nil
}

// BuiltinSupervisor requests revision until every score clears its threshold,
// then hands the draft to a human.
type BuiltinSupervisor struct{}

const (
	safetyThreshold  = 0.99
	qualityThreshold = 0.7
)

func (BuiltinSupervisor) Decide(_ context.Context, s *blackboard.State) (*Decision, error) {
	if below(s.SafetyScore, safetyThreshold) || below(s.EmpathyScore, qualityThreshold) || below(s.ClinicalScore, qualityThreshold) {
		return &Decision{
			Decision: blackboard.DecisionNeedsRevision,
			Note:     fmt.Sprintf("Revision %d requested: scores below threshold", s.IterationCount),
		}, nil
	}

	return &Decision{
		Decision: blackboard.DecisionReadyForReview,
		Note:     "Draft meets all thresholds and is ready for human review",
	}, nil
}

func below(score *float64, threshold float64) bool {
	return score == nil || *score < threshold
}

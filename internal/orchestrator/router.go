package orchestrator

import (
	"fmt"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// Decision is the router's verdict: one of the four steps, or halt/terminate.
type Decision string

const (
	RouteDraft            Decision = Decision(blackboard.StepDraft)
	RouteSafetyReview     Decision = Decision(blackboard.StepSafetyReview)
	RouteClinicalCritique Decision = Decision(blackboard.StepClinicalCritique)
	RouteSupervise        Decision = Decision(blackboard.StepSupervise)
	RouteHalt             Decision = "halt"
	RouteTerminate        Decision = "terminate"
)

// IsControl reports whether the decision stops the run loop.
func (d Decision) IsControl() bool {
	return d == RouteHalt || d == RouteTerminate
}

// Route maps a state to the next step. It is a pure function of its input.
//
// Rules, first match wins:
//  1. halted → halt
//  2. human_approved → terminate
//  3-5. draft → safety_review → clinical_critique → supervise
//  6. after supervise: needs_revision → draft, ready/awaiting review → halt, otherwise terminate
//  7. no draft yet → draft
//  8. otherwise → supervise
//
// A draft decision is turned into halt once iteration_count reaches max_iterations.
func Route(s *blackboard.State) (Decision, error) {
	if s.Halted {
		return RouteHalt, nil
	}
	if s.HumanApproved {
		return RouteTerminate, nil
	}

	var next Decision
	switch s.ActiveStep {
	case blackboard.StepDraft:
		next = RouteSafetyReview
	case blackboard.StepSafetyReview:
		next = RouteClinicalCritique
	case blackboard.StepClinicalCritique:
		next = RouteSupervise
	case blackboard.StepSupervise:
		switch s.Decision {
		case blackboard.DecisionNeedsRevision:
			next = RouteDraft
		case blackboard.DecisionReadyForReview, blackboard.DecisionAwaitingReview:
			next = RouteHalt
		case blackboard.DecisionNone:
			next = RouteTerminate
		default:
			return "", fmt.Errorf("unknown supervisor decision %q", s.Decision)
		}
	case "":
		if s.CurrentDraft == nil {
			next = RouteDraft
		} else {
			next = RouteSupervise
		}
	default:
		return "", fmt.Errorf("unknown active step %q", s.ActiveStep)
	}

	if next == RouteDraft && IterationCapReached(s) {
		return RouteHalt, nil
	}
	return next, nil
}

// IterationCapReached reports whether another drafting step would exceed max_iterations.
func IterationCapReached(s *blackboard.State) bool {
	return s.IterationCount >= s.MaxIterations
}

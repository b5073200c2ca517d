package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyluth/foundry/internal/agent"
	"github.com/dyluth/foundry/pkg/blackboard"
)

// fakeAgents implements every collaborator role with call counters and
// scriptable behaviour.
type fakeAgents struct {
	mu    sync.Mutex
	calls map[string]int

	// decisions are returned in order; the last one repeats
	decisions []blackboard.SupervisorDecision
	haltOnce  bool

	draftErr      error
	draftFailures int // fail only the first N draft calls when > 0

	draftStarted chan struct{} // signalled when Draft begins, if set
	draftRelease chan struct{} // Draft waits on this, if set

	safetyScore *float64 // overrides the default score of 1 when set

	lastDraftRequest agent.DraftRequest
}

func newFakeAgents() *fakeAgents {
	return &fakeAgents{
		calls:     map[string]int{},
		decisions: []blackboard.SupervisorDecision{blackboard.DecisionReadyForReview},
	}
}

func (f *fakeAgents) collaborators() agent.Collaborators {
	return agent.Collaborators{Drafter: f, Safety: f, Critic: f, Supervisor: f}
}

func (f *fakeAgents) count(role string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[role]
}

func (f *fakeAgents) setDraftErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draftErr = err
}

func (f *fakeAgents) Draft(ctx context.Context, req agent.DraftRequest) (*agent.DraftResult, error) {
	f.mu.Lock()
	f.calls["draft"]++
	n := f.calls["draft"]
	f.lastDraftRequest = req
	err := f.draftErr
	if f.draftFailures > 0 && n > f.draftFailures {
		err = nil
	}
	started, release := f.draftStarted, f.draftRelease
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	return &agent.DraftResult{Content: fmt.Sprintf("draft %d", req.Iteration)}, nil
}

func (f *fakeAgents) Review(_ context.Context, _ *blackboard.State) (*agent.SafetyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["safety"]++
	score := 1.0
	if f.safetyScore != nil {
		score = *f.safetyScore
	}
	return &agent.SafetyResult{Checks: map[string]bool{"ok": true}, Score: &score}, nil
}

func (f *fakeAgents) Critique(_ context.Context, _ *blackboard.State) (*agent.CritiqueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["critique"]++
	empathy, clinical := 0.8, 0.9
	return &agent.CritiqueResult{EmpathyScore: &empathy, ClinicalScore: &clinical}, nil
}

func (f *fakeAgents) Decide(_ context.Context, _ *blackboard.State) (*agent.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["supervise"]++

	i := f.calls["supervise"] - 1
	if i >= len(f.decisions) {
		i = len(f.decisions) - 1
	}
	d := &agent.Decision{Decision: f.decisions[i]}
	if f.haltOnce {
		d.Halt = true
		f.haltOnce = false
	}
	return d, nil
}

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dyluth/foundry/internal/agent"
	"github.com/dyluth/foundry/internal/testutil"
	"github.com/dyluth/foundry/pkg/blackboard"
)

// setupEngine wires an engine to a miniredis-backed blackboard used as both store and bus.
func setupEngine(t *testing.T, f *fakeAgents, cfg Config) (*Engine, *blackboard.Client, *miniredis.Miniredis) {
	t.Helper()

	client, mr := testutil.NewBlackboard(t, "test")

	if cfg.RetryInitialInterval == 0 {
		cfg.RetryInitialInterval = time.Millisecond
	}
	engine := NewEngine(client, client, f.collaborators(), cfg, zap.NewNop())
	t.Cleanup(engine.Close)

	return engine, client, mr
}

// seed stores a fresh session without starting a run.
func seed(t *testing.T, client *blackboard.Client, id string, maxIterations int) {
	t.Helper()
	require.NoError(t, client.PutState(context.Background(), id, blackboard.NewState(id, "write a plan", maxIterations)))
}

func waitForStatus(t *testing.T, e *Engine, id string, status blackboard.Status) *blackboard.State {
	t.Helper()
	var state *blackboard.State
	require.Eventually(t, func() bool {
		s, err := e.GetState(context.Background(), id)
		if err != nil {
			return false
		}
		state = s
		return s.Status == status
	}, 5*time.Second, 10*time.Millisecond, "session %s never reached %s", id, status)
	return state
}

func collect(t *testing.T, events <-chan *blackboard.ProgressEvent) []*blackboard.ProgressEvent {
	t.Helper()
	var out []*blackboard.ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("stream did not finish, got %d events", len(out))
		}
	}
}

func TestIterationCapForcesHalt(t *testing.T) {
	f := newFakeAgents()
	f.decisions = []blackboard.SupervisorDecision{blackboard.DecisionNeedsRevision}
	e, _, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	id, err := e.Create(ctx, "write a plan", "", 1)
	require.NoError(t, err)

	state := waitForStatus(t, e, id, blackboard.StatusAwaitingApproval)
	require.NoError(t, e.Run(ctx, id)) // waits for the background run, then replays

	assert.Equal(t, 1, f.count("draft"), "cap must stop a second draft")
	assert.Equal(t, 1, f.count("supervise"))
	assert.Equal(t, 1, state.IterationCount)
	assert.Equal(t, 1, state.CurrentVersion)
	assert.True(t, state.Halted)
	assert.Contains(t, state.LatestNote().Text, "Iteration limit of 1 reached")
}

func TestIterationCountNeverExceedsMax(t *testing.T) {
	f := newFakeAgents()
	f.decisions = []blackboard.SupervisorDecision{blackboard.DecisionNeedsRevision}
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "s1", 3)
	require.NoError(t, e.Run(ctx, "s1"))

	history, err := e.History(ctx, "s1")
	require.NoError(t, err)
	for _, snapshot := range history {
		assert.LessOrEqual(t, snapshot.IterationCount, snapshot.MaxIterations)
	}

	final := history[len(history)-1]
	assert.Equal(t, 3, final.IterationCount)
	require.Len(t, final.DraftHistory, 3)
	for i, d := range final.DraftHistory {
		assert.Equal(t, i+1, d.Version)
		assert.Equal(t, i+1, d.Iteration)
	}
}

func TestReadyForReviewHaltsAfterOnePass(t *testing.T) {
	f := newFakeAgents()
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "s1", 5)
	require.NoError(t, e.Run(ctx, "s1"))

	state, err := e.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, blackboard.StatusAwaitingApproval, state.Status)
	assert.True(t, state.Halted)

	for _, role := range []string{"draft", "safety", "critique", "supervise"} {
		assert.Equal(t, 1, f.count(role), role)
	}

	history, err := e.History(ctx, "s1")
	require.NoError(t, err)
	var statuses []blackboard.Status
	for _, h := range history {
		statuses = append(statuses, h.Status)
	}
	assert.Equal(t, []blackboard.Status{
		blackboard.StatusInitializing,
		blackboard.StatusDrafting,
		blackboard.StatusReviewing,
		blackboard.StatusCritiquing,
		blackboard.StatusDeciding,
		blackboard.StatusAwaitingApproval,
	}, statuses)

	assert.Equal(t, map[string]bool{"ok": true}, state.SafetyChecks)
	require.NotNil(t, state.ClinicalScore)
	assert.Equal(t, 0.9, *state.ClinicalScore)
}

func TestManualHaltPersistsInFlightStep(t *testing.T) {
	f := newFakeAgents()
	f.draftStarted = make(chan struct{}, 1)
	f.draftRelease = make(chan struct{})
	e, _, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	id, err := e.Create(ctx, "write a plan", "s1", 3)
	require.NoError(t, err)

	select {
	case <-f.draftStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("draft never started")
	}

	halted, err := e.Halt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, blackboard.StatusAwaitingApproval, halted.Status)
	assert.Zero(t, halted.CurrentVersion, "draft still in flight")

	close(f.draftRelease)
	require.NoError(t, e.Run(ctx, id)) // queues behind the in-flight run

	state, err := e.GetState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentVersion, "in-flight draft must be persisted")
	assert.Equal(t, blackboard.StepDraft, state.ActiveStep)
	assert.Equal(t, blackboard.StatusAwaitingApproval, state.Status)
	assert.True(t, state.Halted)
	assert.Zero(t, f.count("safety"), "run must stop at the step boundary")
}

func TestApprovalDuringStepKeepsApprovedDraft(t *testing.T) {
	f := newFakeAgents()
	f.draftStarted = make(chan struct{}, 1)
	f.draftRelease = make(chan struct{})
	e, _, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	id, err := e.Create(ctx, "write a plan", "s1", 3)
	require.NoError(t, err)

	select {
	case <-f.draftStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("draft never started")
	}

	approved := "text the reviewer signed off"
	done := make(chan error, 1)
	var state *blackboard.State
	go func() {
		var err error
		state, err = e.Approve(ctx, id, &approved)
		done <- err
	}()

	// Approve persists before waiting on the in-flight run
	waitForStatus(t, e, id, blackboard.StatusApproved)
	close(f.draftRelease)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("approve never returned")
	}

	assert.Equal(t, blackboard.StatusCompleted, state.Status)
	assert.Equal(t, approved, state.Draft())
	require.NotNil(t, state.HumanEdits)
	assert.Equal(t, approved, *state.HumanEdits)
	assert.Zero(t, state.CurrentVersion, "the machine draft must not be appended after approval")
	assert.Empty(t, state.DraftHistory)
	assert.Zero(t, f.count("safety"))
}

func TestApproveCompletedIsNoop(t *testing.T) {
	f := newFakeAgents()
	f.decisions = []blackboard.SupervisorDecision{blackboard.DecisionNone}
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "s1", 3)
	require.NoError(t, e.Run(ctx, "s1"))

	before, err := e.GetState(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, blackboard.StatusCompleted, before.Status)
	historyBefore, err := e.History(ctx, "s1")
	require.NoError(t, err)

	edited := "something else"
	after, err := e.Approve(ctx, "s1", &edited)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	historyAfter, err := e.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, historyAfter, len(historyBefore))
	assert.Equal(t, 1, f.count("draft"))
}

func TestApproveEdits(t *testing.T) {
	tests := []struct {
		name       string
		edited     func(draft string) *string
		wantEdits  bool
		wantMarker bool
	}{
		{"no content", func(string) *string { return nil }, false, false},
		{"empty content", func(string) *string { s := ""; return &s }, false, false},
		{"blank content", func(string) *string { s := " \n"; return &s }, false, false},
		{"same content after trimming", func(d string) *string { s := "  " + d + "\n"; return &s }, false, false},
		{"different content", func(string) *string { s := "rewritten by a human"; return &s }, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeAgents()
			e, client, _ := setupEngine(t, f, Config{})
			ctx := context.Background()

			seed(t, client, "s1", 3)
			require.NoError(t, e.Run(ctx, "s1"))
			halted, err := e.GetState(ctx, "s1")
			require.NoError(t, err)

			state, err := e.Approve(ctx, "s1", tt.edited(halted.Draft()))
			require.NoError(t, err)

			assert.Equal(t, blackboard.StatusCompleted, state.Status)
			assert.True(t, state.HumanApproved)
			assert.False(t, state.Halted)
			assert.Equal(t, tt.wantEdits, state.HumanEdits != nil)

			var approval string
			for _, n := range state.AgentNotes {
				if n.Author == AuthorHuman {
					approval = n.Text
				}
			}
			assert.True(t, strings.HasPrefix(approval, "Draft approved and finalized"))
			assert.Equal(t, tt.wantMarker, strings.Contains(approval, "(with edits)"))
			assert.Equal(t, "Workflow completed successfully", state.LatestNote().Text)

			if tt.wantEdits {
				assert.Equal(t, "rewritten by a human", state.Draft())
			} else {
				assert.Equal(t, halted.Draft(), state.Draft())
			}
			assert.Equal(t, 1, f.count("draft"), "approval must not re-run steps")
		})
	}
}

func TestStreamReplaysAbsorbingStateWithoutRunningSteps(t *testing.T) {
	f := newFakeAgents()
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "s1", 3)
	require.NoError(t, e.Run(ctx, "s1"))
	calls := f.count("draft") + f.count("safety") + f.count("critique") + f.count("supervise")

	for i := 0; i < 3; i++ {
		events, err := e.Stream(ctx, "s1")
		require.NoError(t, err)

		got := collect(t, events)
		require.Len(t, got, 1)
		assert.Equal(t, blackboard.EventHalted, got[0].Kind)
		require.NotNil(t, got[0].State)
		assert.Equal(t, blackboard.StatusAwaitingApproval, got[0].State.Status)
	}

	assert.Equal(t, calls, f.count("draft")+f.count("safety")+f.count("critique")+f.count("supervise"))
}

func TestStreamRunsAndEmitsEachStep(t *testing.T) {
	f := newFakeAgents()
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "s1", 3)

	events, err := e.Stream(ctx, "s1")
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, 5)
	var steps []blackboard.Step
	for _, ev := range got[:4] {
		assert.Equal(t, blackboard.EventStateUpdate, ev.Kind)
		steps = append(steps, ev.Step)
	}
	assert.Equal(t, []blackboard.Step{
		blackboard.StepDraft, blackboard.StepSafetyReview, blackboard.StepClinicalCritique, blackboard.StepSupervise,
	}, steps)

	final := got[4]
	assert.True(t, final.IsFinal())
	assert.Equal(t, blackboard.EventHalted, final.Kind)
	assert.Equal(t, blackboard.StatusAwaitingApproval, final.Status)
}

func TestRunIsSingleWriterPerSession(t *testing.T) {
	f := newFakeAgents()
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "s1", 3)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Run(ctx, "s1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.count("draft"))
	assert.Equal(t, 1, f.count("supervise"))

	state, err := e.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentVersion)
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	f := newFakeAgents()
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		seed(t, client, id, 3)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, e.Run(ctx, id))
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		state, err := e.GetState(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, blackboard.StatusAwaitingApproval, state.Status)
		assert.Equal(t, 1, state.CurrentVersion)
	}
	assert.Equal(t, len(ids), f.count("draft"))
}

func TestCollaboratorErrorLeavesSessionResumable(t *testing.T) {
	f := newFakeAgents()
	f.draftErr = errors.New("model unavailable")
	e, client, _ := setupEngine(t, f, Config{CollaboratorRetries: 1})
	ctx := context.Background()

	seed(t, client, "s1", 3)

	err := e.Run(ctx, "s1")
	require.Error(t, err)
	assert.True(t, IsCollaboratorError(err))
	assert.Equal(t, 2, f.count("draft"), "one call plus one retry")

	state, err := e.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, blackboard.StatusInitializing, state.Status)
	assert.Zero(t, state.CurrentVersion)

	f.setDraftErr(nil)
	require.NoError(t, e.Run(ctx, "s1"))
	waitForStatus(t, e, "s1", blackboard.StatusAwaitingApproval)
}

func TestCollaboratorRetrySucceeds(t *testing.T) {
	f := newFakeAgents()
	f.draftErr = errors.New("flaky")
	f.draftFailures = 1
	e, client, _ := setupEngine(t, f, Config{CollaboratorRetries: 2})

	seed(t, client, "s1", 3)
	require.NoError(t, e.Run(context.Background(), "s1"))

	assert.Equal(t, 2, f.count("draft"))
}

func TestStreamDoesNotQueueDuplicateRuns(t *testing.T) {
	f := newFakeAgents()
	f.draftStarted = make(chan struct{}, 2)
	f.draftRelease = make(chan struct{})
	f.draftErr = errors.New("model unavailable")
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "s1", 3)

	first, err := e.Stream(ctx, "s1")
	require.NoError(t, err)
	select {
	case <-f.draftStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("draft never started")
	}

	// The first run holds the session; these share a single queued run
	streams := []<-chan *blackboard.ProgressEvent{first}
	for i := 0; i < 3; i++ {
		events, err := e.Stream(ctx, "s1")
		require.NoError(t, err)
		streams = append(streams, events)
	}
	close(f.draftRelease)

	for _, events := range streams {
		got := collect(t, events)
		require.NotEmpty(t, got)
		assert.Equal(t, blackboard.EventError, got[len(got)-1].Kind)
	}

	require.Eventually(t, func() bool { return f.count("draft") >= 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		unlock, ok := e.runs.TryLock("s1")
		if ok {
			unlock()
		}
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	e.Close()

	assert.Equal(t, 2, f.count("draft"))
}

func TestOutOfRangeScoreIsCollaboratorError(t *testing.T) {
	f := newFakeAgents()
	bad := 1.5
	f.safetyScore = &bad
	e, client, _ := setupEngine(t, f, Config{CollaboratorRetries: 2})

	seed(t, client, "s1", 3)
	err := e.Run(context.Background(), "s1")

	assert.True(t, IsCollaboratorError(err))
	assert.False(t, IsPersistenceError(err))
	assert.ErrorIs(t, err, agent.ErrInvalidOutput)
	assert.Equal(t, 1, f.count("safety"))

	state, err := e.GetState(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, blackboard.StepDraft, state.ActiveStep)
	assert.Nil(t, state.SafetyScore)
}

func TestInvalidOutputIsNotRetried(t *testing.T) {
	f := newFakeAgents()
	f.draftErr = agent.ErrInvalidOutput
	e, client, _ := setupEngine(t, f, Config{CollaboratorRetries: 3})

	seed(t, client, "s1", 3)
	err := e.Run(context.Background(), "s1")

	assert.True(t, IsCollaboratorError(err))
	assert.Equal(t, 1, f.count("draft"))
}

func TestStepTimeoutMarksSessionFailed(t *testing.T) {
	f := newFakeAgents()
	f.draftRelease = make(chan struct{}) // never released
	e, client, _ := setupEngine(t, f, Config{StepTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	seed(t, client, "s1", 3)
	err := e.Run(ctx, "s1")
	require.Error(t, err)
	assert.True(t, IsInvariantViolation(err))

	state, err := e.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, blackboard.StatusFailed, state.Status)
	assert.Zero(t, state.CurrentVersion)

	// Failed sessions replay rather than re-run
	require.NoError(t, e.Run(ctx, "s1"))
	assert.Equal(t, 1, f.count("draft"))

	_, err = e.Approve(ctx, "s1", nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUnroutableStateMarksSessionFailed(t *testing.T) {
	f := newFakeAgents()
	e, client, mr := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "s1", 3)
	mr.HSet(blackboard.SessionKey("test", "s1"), "active_step", "publish")

	err := e.Run(ctx, "s1")
	require.Error(t, err)
	assert.True(t, IsInvariantViolation(err))

	state, err := e.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, blackboard.StatusFailed, state.Status)
	assert.Equal(t, "publish", state.Metadata["invalid_active_step"])
	assert.Zero(t, f.count("draft"))
}

func TestSupervisorHaltRequest(t *testing.T) {
	f := newFakeAgents()
	f.decisions = []blackboard.SupervisorDecision{blackboard.DecisionNeedsRevision}
	f.haltOnce = true
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "s1", 3)
	require.NoError(t, e.Run(ctx, "s1"))

	state, err := e.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, state.Halted)
	assert.Equal(t, blackboard.StatusAwaitingApproval, state.Status)
	assert.Equal(t, 1, f.count("draft"))
}

func TestHaltIdleSessionNotifiesObservers(t *testing.T) {
	f := newFakeAgents()
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "s1", 3)
	sub, err := client.SubscribeProgress(ctx, "s1")
	require.NoError(t, err)
	defer sub.Close()

	state, err := e.Halt(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, state.Halted)
	assert.Equal(t, "Workflow halted for review", state.LatestNote().Text)
	assert.Equal(t, blackboard.PriorityWarning, state.LatestNote().Priority)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, blackboard.EventHalted, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("no halted event")
	}

	// Resuming a manually halted session requires approval
	require.NoError(t, e.Run(ctx, "s1"))
	assert.Zero(t, f.count("draft"))
}

func TestHaltCompletedIsNoop(t *testing.T) {
	f := newFakeAgents()
	f.decisions = []blackboard.SupervisorDecision{blackboard.DecisionNone}
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "s1", 3)
	require.NoError(t, e.Run(ctx, "s1"))

	state, err := e.Halt(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, blackboard.StatusCompleted, state.Status)
	assert.False(t, state.Halted)
}

func TestCreate(t *testing.T) {
	f := newFakeAgents()
	e, _, _ := setupEngine(t, f, Config{MaxIterations: 4})
	ctx := context.Background()

	t.Run("generates id and persists before returning", func(t *testing.T) {
		id, err := e.Create(ctx, "  write a plan  ", "", 0)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		state, err := e.GetState(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "write a plan", state.UserIntent)
		assert.Equal(t, 4, state.MaxIterations)

		waitForStatus(t, e, id, blackboard.StatusAwaitingApproval)
	})

	t.Run("rejects empty intent", func(t *testing.T) {
		_, err := e.Create(ctx, "   ", "", 0)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		_, err := e.Create(ctx, "intent", "dup", 0)
		require.NoError(t, err)
		_, err = e.Create(ctx, "intent", "dup", 0)
		assert.ErrorIs(t, err, ErrSessionExists)
	})
}

func TestSessionNotFound(t *testing.T) {
	e, _, _ := setupEngine(t, newFakeAgents(), Config{})
	ctx := context.Background()

	_, err := e.GetState(ctx, "missing")
	assert.True(t, IsSessionNotFound(err))

	assert.True(t, IsSessionNotFound(e.Run(ctx, "missing")))

	_, err = e.Approve(ctx, "missing", nil)
	assert.True(t, IsSessionNotFound(err))

	_, err = e.Halt(ctx, "missing")
	assert.True(t, IsSessionNotFound(err))

	_, err = e.Stream(ctx, "missing")
	assert.True(t, IsSessionNotFound(err))

	_, err = e.History(ctx, "missing")
	assert.True(t, IsSessionNotFound(err))
}

func TestPersistenceErrorPropagates(t *testing.T) {
	e, client, mr := setupEngine(t, newFakeAgents(), Config{})
	seed(t, client, "s1", 3)

	mr.Close()

	_, err := e.GetState(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.False(t, IsSessionNotFound(err))

	resp, ok := e.Health(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "unhealthy", resp.Status)
}

// failingStore rejects writes once failPuts is set.
type failingStore struct {
	*blackboard.Client
	failPuts atomic.Bool
}

func (s *failingStore) PutState(ctx context.Context, sessionID string, st *blackboard.State) error {
	if s.failPuts.Load() {
		return errors.New("disk full")
	}
	return s.Client.PutState(ctx, sessionID, st)
}

func TestPersistenceFailureEndsStream(t *testing.T) {
	f := newFakeAgents()
	f.draftStarted = make(chan struct{}, 1)
	f.draftRelease = make(chan struct{})
	client, _ := testutil.NewBlackboard(t, "test")
	store := &failingStore{Client: client}
	e := NewEngine(store, client, f.collaborators(), Config{}, zap.NewNop())
	t.Cleanup(e.Close)
	ctx := context.Background()

	seed(t, client, "s1", 3)

	events, err := e.Stream(ctx, "s1")
	require.NoError(t, err)
	select {
	case <-f.draftStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("draft never started")
	}
	store.failPuts.Store(true)
	close(f.draftRelease)

	got := collect(t, events)
	require.Len(t, got, 1)
	final := got[0]
	assert.Equal(t, blackboard.EventError, final.Kind)
	assert.Contains(t, final.Error, "disk full")
	require.NotNil(t, final.State)
	assert.Equal(t, blackboard.StatusInitializing, final.State.Status, "reports the last committed state")

	state, err := e.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, state.CurrentVersion)
}

func TestRecoverSessions(t *testing.T) {
	f := newFakeAgents()
	e, client, _ := setupEngine(t, f, Config{})
	ctx := context.Background()

	seed(t, client, "fresh", 3)

	parked := blackboard.NewState("parked", "intent", 3)
	parked.Halted = true
	parked.Status = blackboard.StatusAwaitingApproval
	require.NoError(t, client.PutState(ctx, "parked", parked))

	resumed, err := e.RecoverSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	waitForStatus(t, e, "fresh", blackboard.StatusAwaitingApproval)

	state, err := e.GetState(ctx, "parked")
	require.NoError(t, err)
	assert.Zero(t, state.CurrentVersion)
}

func TestListSessions(t *testing.T) {
	e, client, _ := setupEngine(t, newFakeAgents(), Config{})
	seed(t, client, "s1", 3)

	ids, err := e.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	resp, ok := e.Health(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "healthy", resp.Status)
}

package blackboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float(v float64) *float64 { return &v }

func TestNewState(t *testing.T) {
	t.Run("seeds empty quality fields", func(t *testing.T) {
		s := NewState("s1", "write a plan", 3)

		assert.Equal(t, StatusInitializing, s.Status)
		assert.Equal(t, 3, s.MaxIterations)
		assert.Nil(t, s.CurrentDraft)
		assert.Zero(t, s.CurrentVersion)
		assert.Empty(t, s.DraftHistory)
		assert.Empty(t, s.AgentNotes)
		assert.Empty(t, s.SafetyChecks)
		assert.Nil(t, s.SafetyScore)
		assert.False(t, s.Halted)
		assert.Equal(t, s.CreatedAt, s.UpdatedAt)
		require.NoError(t, s.Validate())
	})

	t.Run("defaults max iterations", func(t *testing.T) {
		s := NewState("s1", "intent", 0)
		assert.Equal(t, DefaultMaxIterations, s.MaxIterations)
	})
}

func TestAppendDraft(t *testing.T) {
	s := NewState("s1", "intent", 5)

	for i := 1; i <= 3; i++ {
		s.IterationCount = i
		rec := s.AppendDraft("draft", "drafter", Scores{Safety: float(0.5)}, nil)

		assert.Equal(t, i, rec.Version)
		assert.Equal(t, i, rec.Iteration)
		assert.NotNil(t, rec.Feedback)
	}

	assert.Equal(t, 3, s.CurrentVersion)
	require.NotNil(t, s.CurrentDraft)
	assert.Equal(t, "draft", *s.CurrentDraft)

	for i, d := range s.DraftHistory {
		assert.Equal(t, i+1, d.Version, "version must equal index+1")
	}
	require.NoError(t, s.Validate())
}

func TestAppendNote(t *testing.T) {
	s := NewState("s1", "intent", 5)
	before := s.UpdatedAt

	s.AppendNote("safety", "check dosage", "draft", PriorityCritical)
	s.AppendNote("system", "broadcast", "", "")

	require.Len(t, s.AgentNotes, 2)
	assert.Equal(t, PriorityCritical, s.AgentNotes[0].Priority)
	assert.Equal(t, PriorityInfo, s.AgentNotes[1].Priority, "empty priority defaults to info")
	assert.False(t, s.UpdatedAt.Before(before))

	assert.Len(t, s.NotesFor("draft"), 2)
	assert.Len(t, s.NotesFor("supervise"), 1)
	assert.Equal(t, "broadcast", s.LatestNote().Text)
}

func TestClone(t *testing.T) {
	s := NewState("s1", "intent", 5)
	s.IterationCount = 1
	s.AppendDraft("v1", "drafter", Scores{}, []string{"a"})
	s.SafetyChecks["dosage"] = true
	s.SafetyScore = float(0.9)

	c := s.Clone()
	c.SafetyChecks["dosage"] = false
	*c.SafetyScore = 0.1
	*c.CurrentDraft = "changed"
	c.DraftHistory[0].Feedback[0] = "b"
	c.AppendNote("x", "y", "", PriorityInfo)

	assert.True(t, s.SafetyChecks["dosage"])
	assert.Equal(t, 0.9, *s.SafetyScore)
	assert.Equal(t, "v1", *s.CurrentDraft)
	assert.Equal(t, "a", s.DraftHistory[0].Feedback[0])
	assert.Empty(t, s.AgentNotes)
}

func TestStateValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *State)
		wantErr string
	}{
		{"empty session id", func(s *State) { s.SessionID = "" }, "session_id"},
		{"empty intent", func(s *State) { s.UserIntent = "" }, "user_intent"},
		{"bad status", func(s *State) { s.Status = "running" }, "invalid status"},
		{"bad step", func(s *State) { s.ActiveStep = "publish" }, "invalid step"},
		{"bad decision", func(s *State) { s.Decision = "maybe" }, "invalid supervisor decision"},
		{"iteration over cap", func(s *State) { s.IterationCount = 6 }, "iteration_count"},
		{"version mismatch", func(s *State) { s.CurrentVersion = 2 }, "current_version"},
		{"score out of range", func(s *State) { s.EmpathyScore = float(1.5) }, "empathy_score"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState("s1", "intent", 5)
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStatusIsAbsorbing(t *testing.T) {
	assert.True(t, StatusAwaitingApproval.IsAbsorbing())
	assert.True(t, StatusCompleted.IsAbsorbing())
	assert.True(t, StatusFailed.IsAbsorbing())
	assert.False(t, StatusApproved.IsAbsorbing())
	assert.False(t, StatusDrafting.IsAbsorbing())
}

func TestNewProgressEvent(t *testing.T) {
	s := NewState("s1", "intent", 5)
	s.ActiveStep = StepSafetyReview
	s.Status = StatusReviewing
	s.AppendNote("safety", "all checks passed", "", PriorityInfo)

	ev := NewProgressEvent(EventStateUpdate, s)
	assert.False(t, ev.IsFinal())
	assert.False(t, ev.Final)
	assert.Nil(t, ev.State)
	assert.Equal(t, "all checks passed", ev.ActiveNote)
	assert.Equal(t, "safety", ev.ActiveAgent)

	final := NewProgressEvent(EventHalted, s)
	assert.True(t, final.IsFinal())
	assert.True(t, final.Final)
	require.NotNil(t, final.State)
	assert.Equal(t, "s1", final.State.SessionID)
}

package printer

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// capture redirects output and disables colour for the duration of a test.
func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	var out, errOut bytes.Buffer
	prevOut, prevErr, prevNoColor := Stdout, Stderr, color.NoColor
	Stdout, Stderr, color.NoColor = &out, &errOut, true
	t.Cleanup(func() {
		Stdout, Stderr, color.NoColor = prevOut, prevErr, prevNoColor
	})
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, errOut := capture(t)

		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		assert.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "This is a test error")
	})

	t.Run("single suggestion is printed bare", func(t *testing.T) {
		_, errOut := capture(t)

		Error("Test Error", "Explanation", []string{"Try this fix"})
		assert.Contains(t, errOut.String(), "\nTry this fix\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)

		Error("Test Error", "Explanation", []string{"First", "Second"})
		assert.Contains(t, errOut.String(), "Either:\n  1. First\n  2. Second\n")
	})
}

func TestErrorWithContextOrdersKeys(t *testing.T) {
	_, errOut := capture(t)

	err := ErrorWithContext("Session failed", "", map[string]string{
		"status":  "failed",
		"session": "s1",
	}, nil)
	assert.Equal(t, "Session failed", err.Error())
	assert.Contains(t, errOut.String(), "  session: s1\n  status: failed\n")
}

func TestIsReported(t *testing.T) {
	capture(t)

	err := Error("boom", "", nil)
	assert.True(t, IsReported(err))
	assert.True(t, IsReported(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsReported(errors.New("plain")))
	assert.False(t, IsReported(nil))
}

func TestMessages(t *testing.T) {
	out, _ := capture(t)

	Success("done\n")
	Success("✓ already marked\n")
	Warning("careful\n")
	Step("next\n")
	Info("plain %d\n", 1)

	assert.Equal(t, "✓ done\n✓ already marked\n⚠️  careful\n→ next\nplain 1\n", out.String())
}

func TestSession(t *testing.T) {
	out, _ := capture(t)

	s := blackboard.NewState("s1", "intent", 3)
	s.IterationCount = 1
	s.AppendDraft("Take one tablet daily.", "drafter", blackboard.Scores{}, nil)
	safety := 1.0
	s.SafetyScore = &safety
	s.Decision = blackboard.DecisionReadyForReview
	s.Status = blackboard.StatusAwaitingApproval
	s.AppendNote("supervisor", "Ready for human review", "", blackboard.PriorityInfo)

	Session(s)

	text := out.String()
	assert.Contains(t, text, "Status:     awaiting_approval\n")
	assert.Contains(t, text, "Iteration:  1/3\n")
	assert.Contains(t, text, "Decision:   ready_for_review\n")
	assert.Contains(t, text, "Scores:     safety=1.00\n")
	assert.Contains(t, text, "Last note:  supervisor: Ready for human review\n")
	assert.Contains(t, text, "\nTake one tablet daily.\n")
}

func TestStatusColor(t *testing.T) {
	assert.Equal(t, red, StatusColor(blackboard.StatusFailed))
	assert.Equal(t, yellow, StatusColor(blackboard.StatusAwaitingApproval))
	assert.Equal(t, green, StatusColor(blackboard.StatusCompleted))
	assert.Equal(t, cyan, StatusColor(blackboard.StatusDrafting))
}

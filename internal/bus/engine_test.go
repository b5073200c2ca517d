package bus

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dyluth/foundry/internal/agent"
	"github.com/dyluth/foundry/internal/checkpoint"
	"github.com/dyluth/foundry/internal/orchestrator"
	"github.com/dyluth/foundry/pkg/blackboard"
)

// TestEngineStreamsOverNATS drives the built-in collaborators end to end with
// a SQLite checkpoint store and the embedded broker.
func TestEngineStreamsOverNATS(t *testing.T) {
	ctx := context.Background()

	b, err := StartEmbedded("test", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	store, err := checkpoint.OpenSQLite(ctx, filepath.Join(t.TempDir(), "foundry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := orchestrator.NewEngine(store, b, agent.Builtin(), orchestrator.DefaultConfig(), zap.NewNop())
	t.Cleanup(engine.Close)

	require.NoError(t, store.PutState(ctx, "s1", blackboard.NewState("s1", "explain a new prescription", 5)))

	events, err := engine.Stream(ctx, "s1")
	require.NoError(t, err)

	var last *blackboard.ProgressEvent
	timeout := time.After(10 * time.Second)
	for last == nil || !last.IsFinal() {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed before the final event")
			last = ev
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}

	assert.Equal(t, blackboard.EventHalted, last.Kind)
	require.NotNil(t, last.State)
	assert.Equal(t, blackboard.DecisionReadyForReview, last.State.Decision)
	assert.Equal(t, 2, last.State.IterationCount)

	state, err := engine.Approve(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, blackboard.StatusCompleted, state.Status)
}

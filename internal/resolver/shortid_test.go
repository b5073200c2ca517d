package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/foundry/internal/checkpoint"
	"github.com/dyluth/foundry/pkg/blackboard"
)

func setupStore(t *testing.T, ids ...string) *checkpoint.SQLiteStore {
	t.Helper()

	store, err := checkpoint.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "resolver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, id := range ids {
		require.NoError(t, store.PutState(context.Background(), id, blackboard.NewState(id, "intent", 3)))
	}
	return store
}

func TestResolveSessionID(t *testing.T) {
	const (
		first  = "6f1c2d3e-0000-4000-8000-000000000001"
		second = "6f1c2d3e-0000-4000-8000-000000000002"
		other  = "9a8b7c6d-0000-4000-8000-000000000003"
	)
	store := setupStore(t, first, second, other, "custom-id")
	ctx := context.Background()

	tests := []struct {
		name      string
		input     string
		want      string
		checkErr  func(error) bool
		errSubstr string
	}{
		{name: "full UUID", input: other, want: other},
		{name: "custom ID", input: "custom-id", want: "custom-id"},
		{name: "unique prefix", input: "9a8b7c", want: other},
		{name: "prefix of a custom ID", input: "custom", want: "custom-id"},
		{name: "ambiguous prefix", input: "6f1c2d", checkErr: IsAmbiguousError},
		{name: "ambiguous until the last character", input: first[:35], checkErr: IsAmbiguousError},
		{name: "distinct last character", input: second, want: second},
		{name: "no match", input: "ffffff", checkErr: IsNotFoundError},
		{name: "unknown full UUID", input: "00000000-0000-4000-8000-000000000000", checkErr: IsNotFoundError},
		{name: "too short", input: "6f1c", errSubstr: "at least 6 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveSessionID(ctx, store, tt.input)
			switch {
			case tt.checkErr != nil:
				require.Error(t, err)
				assert.True(t, tt.checkErr(err), "unexpected error type: %v", err)
			case tt.errSubstr != "":
				assert.ErrorContains(t, err, tt.errSubstr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFormatAmbiguousError(t *testing.T) {
	t.Run("lists every match", func(t *testing.T) {
		msg := FormatAmbiguousError(&AmbiguousError{ShortID: "abcdef", Matches: []string{"abcdef-1", "abcdef-2"}})
		assert.Contains(t, msg, "matches 2 sessions")
		assert.Contains(t, msg, "  abcdef-1\n  abcdef-2\n")
		assert.NotContains(t, msg, "more")
	})

	t.Run("truncates after ten", func(t *testing.T) {
		var matches []string
		for i := 0; i < 13; i++ {
			matches = append(matches, fmt.Sprintf("abcdef-%02d", i))
		}
		msg := FormatAmbiguousError(&AmbiguousError{ShortID: "abcdef", Matches: matches})
		assert.Contains(t, msg, "abcdef-09")
		assert.NotContains(t, msg, "abcdef-10")
		assert.Contains(t, msg, "...and 3 more")
	})
}

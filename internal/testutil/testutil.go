// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// NewBlackboard starts an in-memory Redis and returns a blackboard client for
// instance. Both are torn down when the test ends.
func NewBlackboard(t *testing.T, instance string) (*blackboard.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, instance)
	require.NoError(t, err, "Failed to create blackboard client")
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// Workspace is an isolated project directory containing a foundry.yml.
type Workspace struct {
	Dir        string
	ConfigPath string
}

// SingleProcessConfig returns a foundry.yml that needs no external services:
// a SQLite store inside dir and the embedded event bus.
func SingleProcessConfig(dir, instance string) string {
	return fmt.Sprintf(`version: "1.0"
instance: %s
store:
  backend: sqlite
  sqlite_path: %s
bus:
  backend: embedded
logging:
  level: error
  format: console
`, instance, filepath.Join(dir, "foundry.db"))
}

// SetupWorkspace creates a temp directory holding foundryYML as foundry.yml.
// An empty foundryYML writes SingleProcessConfig.
func SetupWorkspace(t *testing.T, foundryYML string) *Workspace {
	t.Helper()

	dir := t.TempDir()
	if foundryYML == "" {
		foundryYML = SingleProcessConfig(dir, "test")
	}

	path := filepath.Join(dir, "foundry.yml")
	require.NoError(t, os.WriteFile(path, []byte(foundryYML), 0644), "Failed to write foundry.yml")

	return &Workspace{Dir: dir, ConfigPath: path}
}

// Chdir switches into the workspace until the test ends.
func (w *Workspace) Chdir(t *testing.T) {
	t.Helper()

	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(w.Dir), "Failed to change to workspace")
	t.Cleanup(func() { os.Chdir(originalDir) })
}

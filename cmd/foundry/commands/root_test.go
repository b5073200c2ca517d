package commands

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

// TestRootCommand_ShowsHelpWhenNoSubcommand tests that the root command
// shows help instead of silently succeeding when invoked without a subcommand
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	out, _ := captureOutput(t)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetErr(nil) })

	err := execute(t)

	assert.NoError(t, err)
	assert.Contains(t, buf.String()+out.String(), "Usage:", "Help should be displayed")
	assert.Contains(t, buf.String(), "foundry", "Help should show command name")
}

// TestRootCommand_RejectsUnknownFlags tests that unknown flags
// passed to the root command cause an error instead of being silently ignored
func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	captureOutput(t)

	err := execute(t, "--unknown-flag", "value")
	assert.Error(t, err, "Unknown flag should cause an error")
	assert.Contains(t, err.Error(), "unknown flag", "Error should mention unknown flag")
}

// TestRootCommand_RejectsSubcommandFlags tests that flags meant for
// subcommands (like --approve) are rejected when passed to root command
func TestRootCommand_RejectsSubcommandFlags(t *testing.T) {
	captureOutput(t)

	err := execute(t, "--approve")
	assert.Error(t, err, "Subcommand flag passed to root should cause error")
	assert.Contains(t, err.Error(), "unknown flag: --approve")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"init", "serve", "mcp", "run", "status", "history", "watch", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCommand_AcceptsValidSubcommand(t *testing.T) {
	testRoot := &cobra.Command{
		Use: "foundry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	subcommandExecuted := false
	testRoot.AddCommand(&cobra.Command{
		Use: "test-sub",
		RunE: func(cmd *cobra.Command, args []string) error {
			subcommandExecuted = true
			return nil
		},
	})

	testRoot.SetArgs([]string{"test-sub"})
	assert.NoError(t, testRoot.Execute())
	assert.True(t, subcommandExecuted, "Subcommand should have been executed")
}

func TestVersionCommand(t *testing.T) {
	captureOutput(t)
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { SetVersionInfo("dev", "none", "unknown") })

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	assert.NoError(t, execute(t, "version"))
	assert.Equal(t, "foundry 1.2.3 (commit: abc123, built: 2026-01-01)\n", buf.String())
}

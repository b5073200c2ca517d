package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/foundry/internal/scaffold"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new foundry project",
	Long: `Initialize a new foundry project with a default configuration and an
example collaborator.

Creates:
  • foundry.yml - Project configuration (SQLite store, embedded event bus)
  • agents/example-supervisor/ - Example supervisor speaking the collaborator protocol
  • .foundry/ - Local data directory

Use --force to reinitialize an existing project (WARNING: destroys existing configuration).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	// Note: Cannot use -f shorthand because it conflicts with global --config flag
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (removes existing foundry.yml and agents/)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if err := scaffold.CheckExisting(); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()
	return nil
}

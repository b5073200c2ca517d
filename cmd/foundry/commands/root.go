package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/foundry/internal/config"
	"github.com/dyluth/foundry/internal/printer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "foundry",
	Short: "foundry - blackboard orchestrator for drafting reviewed clinical content",
	Long: `foundry drives a drafter, a safety reviewer, a clinical critic and a
supervisor around a shared blackboard until a draft is ready for a human.

Every step is checkpointed, so sessions survive restarts and can be
inspected, streamed, halted and approved at any point.`,
	// Unknown flags on the root must fail instead of silently showing help
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors ourselves
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.Execute()
	if err != nil && !printer.IsReported(err) {
		printer.Error(err.Error(), "", nil)
	}
	return err
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", config.DefaultPath, "Path to foundry.yml")
}

package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/foundry/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve sessions as MCP tools over stdio",
	Long: `Expose the engine to an MCP client over stdin/stdout.

Tools:
  create_session   Start a session from an intent
  get_session      Read the latest checkpoint
  approve_session  Approve the current draft, optionally with edits
  halt_session     Stop a session for human review

Logs are written to stderr; stdout carries the protocol.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, true, stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	engine := rt.newEngine()
	defer engine.Close()

	server, err := mcpserver.NewServer(&mcpserver.Config{
		Version: version,
		Logger:  rt.logger,
	}, engine)
	if err != nil {
		return err
	}

	return server.Run(ctx)
}

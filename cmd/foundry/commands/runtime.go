package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dyluth/foundry/internal/agent"
	"github.com/dyluth/foundry/internal/bus"
	"github.com/dyluth/foundry/internal/checkpoint"
	"github.com/dyluth/foundry/internal/config"
	"github.com/dyluth/foundry/internal/logging"
	"github.com/dyluth/foundry/internal/orchestrator"
	"github.com/dyluth/foundry/internal/printer"
	"github.com/dyluth/foundry/internal/resolver"
	"github.com/dyluth/foundry/pkg/blackboard"
)

// runtime bundles the store, bus and logger a command works against.
type runtime struct {
	cfg    *config.FoundryConfig
	logger *zap.Logger
	store  checkpoint.Store
	bus    orchestrator.EventBus

	closers []io.Closer
}

// loadConfig reads --config, falling back to defaults when the file is absent.
func loadConfig() (*config.FoundryConfig, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix %s, or regenerate it:\n  foundry init --force", configPath)},
		)
	}
	return cfg, nil
}

// openRuntime connects to the configured store and, when withBus is set, the
// progress bus. Logs go to logOut.
func openRuntime(ctx context.Context, cfg *config.FoundryConfig, withBus bool, logOut io.Writer) (*runtime, error) {
	logger, err := logging.NewWithWriter(cfg.Logging.Level, cfg.Logging.Format, logOut)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger}

	store, err := checkpoint.Open(ctx, checkpoint.Options{
		Backend:    cfg.Store.Backend,
		RedisURL:   cfg.Store.RedisURL,
		Instance:   cfg.Instance,
		SQLitePath: cfg.Store.SQLitePath,
	})
	if err != nil {
		return nil, printer.ErrorWithContext(
			"checkpoint store unavailable",
			err.Error(),
			map[string]string{"backend": cfg.Store.Backend, "instance": cfg.Instance},
			[]string{fmt.Sprintf("Check the store settings in %s", configPath)},
		)
	}
	rt.store = store
	rt.closers = append(rt.closers, store)

	if !withBus {
		return rt, nil
	}

	if err := rt.openBus(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	return rt, nil
}

func (rt *runtime) openBus(ctx context.Context) error {
	cfg := rt.cfg

	switch cfg.Bus.Backend {
	case config.BusRedis:
		// Reuse the store's connection when it is already a Redis blackboard
		if client, ok := rt.store.(*blackboard.Client); ok {
			rt.bus = client
			return nil
		}

		redisOpts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		client, err := blackboard.NewClient(redisOpts, cfg.Instance)
		if err != nil {
			return err
		}
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return printer.ErrorWithContext(
				"Redis connection failed",
				fmt.Sprintf("Could not connect to Redis at %s", redisOpts.Addr),
				nil,
				[]string{"Start Redis, or switch bus.backend to 'embedded' for a single process"},
			)
		}
		rt.bus = client
		rt.closers = append(rt.closers, client)

	case config.BusNATS:
		b, err := bus.Connect(cfg.Bus.NATSURL, cfg.Instance, rt.logger)
		if err != nil {
			return printer.ErrorWithContext(
				"NATS connection failed",
				err.Error(),
				map[string]string{"url": cfg.Bus.NATSURL},
				nil,
			)
		}
		rt.bus = b
		rt.closers = append(rt.closers, b)

	case config.BusEmbedded:
		b, err := bus.StartEmbedded(cfg.Instance, rt.logger)
		if err != nil {
			return err
		}
		rt.bus = b
		rt.closers = append(rt.closers, b)

	default:
		return fmt.Errorf("unknown bus backend: %s", cfg.Bus.Backend)
	}

	return nil
}

// newEngine builds an engine over the runtime's store and bus.
func (rt *runtime) newEngine() *orchestrator.Engine {
	cfg := orchestrator.DefaultConfig()
	cfg.MaxIterations = *rt.cfg.Engine.MaxIterations
	cfg.StepTimeout = rt.cfg.Engine.StepTimeout
	cfg.CollaboratorRetries = *rt.cfg.Engine.CollaboratorRetries

	collaborators := agent.New(agentSpecs(rt.cfg.Agents), rt.logger)
	return orchestrator.NewEngine(rt.store, rt.bus, collaborators, cfg, rt.logger)
}

// Close releases connections in reverse order of opening.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.logger.Warn("close_failed", zap.Error(err))
		}
	}
	rt.logger.Sync()
}

func agentSpecs(a config.AgentsConfig) agent.Specs {
	spec := func(c *config.Agent) *agent.CommandSpec {
		if c == nil {
			return nil
		}
		return &agent.CommandSpec{Command: c.Command, Dir: c.Dir, Timeout: c.Timeout}
	}

	return agent.Specs{
		Drafter:    spec(a.Drafter),
		Safety:     spec(a.Safety),
		Critic:     spec(a.Critic),
		Supervisor: spec(a.Supervisor),
	}
}

// resolveSession expands a session ID prefix against the store.
func (rt *runtime) resolveSession(ctx context.Context, shortID string) (string, error) {
	store, ok := rt.store.(resolver.Store)
	if !ok {
		return shortID, nil
	}

	id, err := resolver.ResolveSessionID(ctx, store, shortID)
	switch {
	case err == nil:
		return id, nil
	case resolver.IsNotFoundError(err):
		return "", sessionNotFound(shortID)
	case resolver.IsAmbiguousError(err):
		return "", printer.Error(
			"ambiguous session ID",
			resolver.FormatAmbiguousError(err.(*resolver.AmbiguousError)),
			nil,
		)
	default:
		return "", printer.Error("invalid session ID", err.Error(), nil)
	}
}

// sessionNotFound prints the standard message for an unknown session ID.
func sessionNotFound(sessionID string) error {
	return printer.Error(
		fmt.Sprintf("session '%s' not found", sessionID),
		"No checkpoint exists for this session in the configured store.",
		[]string{"List sessions:\n  foundry status"},
	)
}

// stderr is where command logs go so stdout stays machine-readable.
var stderr io.Writer = os.Stderr

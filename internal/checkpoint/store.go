// Package checkpoint defines the durable store the execution engine persists
// blackboard state into, and provides its backends.
//
// Two backends are available: Redis (pkg/blackboard.Client, shared by every
// process pointed at the same instance) and SQLite (a single embedded file for
// local runs). Both keep the latest snapshot per session plus an append-only
// log of every snapshot written.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// Store is a durable mapping from session ID to the latest state snapshot plus
// its snapshot history. Implementations are safe for concurrent use; calls for
// different sessions never interfere.
type Store interface {
	// GetState returns the latest snapshot or an error satisfying blackboard.IsNotFound.
	GetState(ctx context.Context, sessionID string) (*blackboard.State, error)

	// PutState overwrites the latest snapshot and appends it to the history log.
	PutState(ctx context.Context, sessionID string, s *blackboard.State) error

	// StateExists reports whether a snapshot exists for the session.
	StateExists(ctx context.Context, sessionID string) (bool, error)

	// GetHistory returns every snapshot written for the session, oldest first.
	GetHistory(ctx context.Context, sessionID string) ([]*blackboard.State, error)

	Ping(ctx context.Context) error
	Close() error
}

// Lister is implemented by stores that can enumerate their sessions.
// Recovery at startup needs it; the core operations do not.
type Lister interface {
	ListSessions(ctx context.Context) ([]string, error)
}

var (
	_ Store  = (*blackboard.Client)(nil)
	_ Lister = (*blackboard.Client)(nil)
	_ Store  = (*SQLiteStore)(nil)
	_ Lister = (*SQLiteStore)(nil)
)

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Options selects and configures a store backend.
type Options struct {
	Backend    string
	RedisURL   string
	Instance   string
	SQLitePath string
}

// Open builds a store for the configured backend. The caller owns the store
// and must Close it.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendRedis, "":
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}

		client, err := blackboard.NewClient(redisOpts, opts.Instance)
		if err != nil {
			return nil, err
		}

		if err := client.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", redisOpts.Addr, err)
		}

		return client, nil

	case BackendSQLite:
		return OpenSQLite(ctx, opts.SQLitePath)

	default:
		return nil, fmt.Errorf("unknown store backend: %s", opts.Backend)
	}
}

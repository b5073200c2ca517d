package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no checkpoint exists for a session.
var ErrNotFound = errors.New("session not found")

// Client provides instance-scoped Redis operations for the blackboard.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new blackboard client for the specified instance.
// The client automatically namespaces all keys and channels with the instance name.
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PutState overwrites the latest checkpoint for sessionID and appends the
// snapshot to the session's history log, atomically in one MULTI/EXEC.
// The session is also added to the instance's session index.
func (c *Client) PutState(ctx context.Context, sessionID string, s *State) error {
	if s.SessionID != sessionID {
		return fmt.Errorf("state session_id %q does not match key %q", s.SessionID, sessionID)
	}

	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}

	hash, err := StateToHash(s)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	snapshot, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := SessionKey(c.instanceName, sessionID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// Full replacement so optional fields never linger from an older snapshot
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, hash)
		pipe.RPush(ctx, SessionHistoryKey(c.instanceName, sessionID), snapshot)
		pipe.ZAddNX(ctx, SessionIndexKey(c.instanceName), redis.Z{
			Score:  float64(s.CreatedAt.UnixMilli()),
			Member: sessionID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write state to Redis: %w", err)
	}

	return nil
}

// GetState retrieves the latest checkpoint for a session.
// Returns ErrNotFound if the session doesn't exist. Use IsNotFound() to check.
func (c *Client) GetState(ctx context.Context, sessionID string) (*State, error) {
	key := SessionKey(c.instanceName, sessionID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read state from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, ErrNotFound
	}

	state, err := HashToState(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize state: %w", err)
	}

	return state, nil
}

// StateExists checks if a checkpoint exists without fetching it.
func (c *Client) StateExists(ctx context.Context, sessionID string) (bool, error) {
	exists, err := c.rdb.Exists(ctx, SessionKey(c.instanceName, sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check state existence: %w", err)
	}
	return exists > 0, nil
}

// GetHistory returns every snapshot ever written for a session, oldest first.
// Returns ErrNotFound if the session has no history.
func (c *Client) GetHistory(ctx context.Context, sessionID string) ([]*State, error) {
	raw, err := c.rdb.LRange(ctx, SessionHistoryKey(c.instanceName, sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history from Redis: %w", err)
	}

	if len(raw) == 0 {
		return nil, ErrNotFound
	}

	history := make([]*State, 0, len(raw))
	for i, item := range raw {
		var s State
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot %d: %w", i, err)
		}
		s.Normalize()
		history = append(history, &s)
	}

	return history, nil
}

// ListSessions returns all known session IDs ordered by creation time.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.ZRange(ctx, SessionIndexKey(c.instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

// PublishProgress publishes a progress event on the session's channel.
func (c *Client) PublishProgress(ctx context.Context, ev *ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	channel := ProgressChannel(c.instanceName, ev.SessionID)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}

	return nil
}

// SubscribeProgress subscribes to a session's progress events.
// The call returns only after Redis has confirmed the subscription, so no event
// published after it returns can be missed.
// Caller must call Close() on the subscription when done.
func (c *Client) SubscribeProgress(ctx context.Context, sessionID string) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, ProgressChannel(c.instanceName, sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to progress events: %w", err)
	}

	// Create buffered channels for events and errors
	eventsChan := make(chan *ProgressEvent, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					// Send error on error channel, skip message
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal progress event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return NewSubscription(eventsChan, errorsChan, cancelFunc), nil
}

// IsNotFound returns true if the error indicates a missing session.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, redis.Nil)
}

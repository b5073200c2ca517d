// Package bus carries progress events over NATS for deployments that run
// observers outside the Redis instance, or that want an in-process broker.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// NATS publishes and subscribes to progress events on
// foundry.<instance>.progress.<session_id>.
type NATS struct {
	nc       *nats.Conn
	instance string
	logger   *zap.Logger

	embedded *natsserver.Server
	once     sync.Once
}

// Connect dials a NATS server.
func Connect(url, instance string, logger *zap.Logger) (*NATS, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(url,
		nats.Name("foundry-"+instance),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	logger.Info("Connected to NATS", zap.String("url", url))
	return &NATS{nc: nc, instance: instance, logger: logger}, nil
}

// StartEmbedded runs an in-process NATS server on a random loopback port and
// connects to it. Close shuts the server down.
func StartEmbedded(instance string, logger *zap.Logger) (*NATS, error) {
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready")
	}

	b, err := Connect(srv.ClientURL(), instance, logger)
	if err != nil {
		srv.Shutdown()
		return nil, err
	}
	b.embedded = srv
	return b, nil
}

// Close drains the connection and stops the embedded server, if any.
func (b *NATS) Close() error {
	b.once.Do(func() {
		b.nc.Close()
		if b.embedded != nil {
			b.embedded.Shutdown()
			b.embedded.WaitForShutdown()
		}
	})
	return nil
}

// Ping verifies the connection is usable.
func (b *NATS) Ping(ctx context.Context) error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("NATS connection is %s", b.nc.Status())
	}
	return nil
}

// Subject returns the progress subject for a session.
func (b *NATS) Subject(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, ".*> \t\r\n") {
		return "", fmt.Errorf("session id %q is not a valid subject token", sessionID)
	}
	return fmt.Sprintf("foundry.%s.progress.%s", b.instance, sessionID), nil
}

// PublishProgress publishes a progress event.
func (b *NATS) PublishProgress(_ context.Context, ev *blackboard.ProgressEvent) error {
	subject, err := b.Subject(ev.SessionID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}

// SubscribeProgress subscribes to a session's progress events. The
// subscription is registered with the server before the call returns.
func (b *NATS) SubscribeProgress(ctx context.Context, sessionID string) (*blackboard.Subscription, error) {
	subject, err := b.Subject(sessionID)
	if err != nil {
		return nil, err
	}

	msgChan := make(chan *nats.Msg, 64)
	sub, err := b.nc.ChanSubscribe(subject, msgChan)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to confirm subscription: %w", err)
	}

	events := make(chan *blackboard.ProgressEvent, 10)
	errs := make(chan error, 10)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(events)
		defer close(errs)
		defer func() { _ = sub.Unsubscribe() }()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg := <-msgChan:
				var ev blackboard.ProgressEvent
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					select {
					case errs <- fmt.Errorf("failed to unmarshal progress event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case events <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return blackboard.NewSubscription(events, errs, cancel), nil
}

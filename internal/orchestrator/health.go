package orchestrator

import (
	"context"
	"time"
)

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Error  string `json:"error,omitempty"`
}

// Health reports whether the checkpoint store is reachable.
func (e *Engine) Health(ctx context.Context) (*HealthResponse, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := e.store.Ping(ctx); err != nil {
		return &HealthResponse{Status: "unhealthy", Store: "disconnected", Error: err.Error()}, false
	}
	return &HealthResponse{Status: "healthy", Store: "connected"}, true
}

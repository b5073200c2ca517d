// Package api provides the HTTP interface to the orchestration engine.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dyluth/foundry/internal/orchestrator"
	"github.com/dyluth/foundry/pkg/blackboard"
)

// Engine is the subset of the orchestration engine the API serves.
type Engine interface {
	Create(ctx context.Context, intent, sessionID string, maxIterations int) (string, error)
	GetState(ctx context.Context, sessionID string) (*blackboard.State, error)
	History(ctx context.Context, sessionID string) ([]*blackboard.State, error)
	ListSessions(ctx context.Context) ([]string, error)
	Stream(ctx context.Context, sessionID string) (<-chan *blackboard.ProgressEvent, error)
	Approve(ctx context.Context, sessionID string, edited *string) (*blackboard.State, error)
	Halt(ctx context.Context, sessionID string) (*blackboard.State, error)
	Health(ctx context.Context) (*orchestrator.HealthResponse, bool)
}

var _ Engine = (*orchestrator.Engine)(nil)

// DefaultHeartbeat is the SSE keep-alive interval.
const DefaultHeartbeat = 15 * time.Second

// Server provides HTTP endpoints for foundry.
type Server struct {
	echo      *echo.Echo
	engine    Engine
	logger    *zap.Logger
	addr      string
	heartbeat time.Duration
}

// NewServer creates a new HTTP server listening on addr.
func NewServer(engine Engine, logger *zap.Logger, addr string) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		engine:    engine,
		logger:    logger,
		addr:      addr,
		heartbeat: DefaultHeartbeat,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	sessions := s.echo.Group("/api/sessions")
	sessions.GET("", s.handleList)
	sessions.POST("", s.handleCreate)
	sessions.GET("/:id", s.handleGet)
	sessions.GET("/:id/stream", s.handleStream)
	sessions.GET("/:id/history", s.handleHistory)
	sessions.POST("/:id/approve", s.handleApprove)
	sessions.POST("/:id/halt", s.handleHalt)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called. http.ErrServerClosed is not reported.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// httpError maps engine errors onto status codes.
func httpError(err error) error {
	switch {
	case orchestrator.IsSessionNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrSessionExists), errors.Is(err, orchestrator.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case orchestrator.IsCollaboratorError(err):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case orchestrator.IsPersistenceError(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// CreateRequest is the request body for POST /api/sessions.
type CreateRequest struct {
	Intent        string `json:"intent"`
	SessionID     string `json:"session_id,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// CreateResponse is the response body for POST /api/sessions.
type CreateResponse struct {
	SessionID string            `json:"session_id"`
	Status    blackboard.Status `json:"status"`
}

// ApproveRequest is the request body for POST /api/sessions/:id/approve.
// A nil ApprovedContent approves the current draft as is.
type ApproveRequest struct {
	ApprovedContent *string `json:"approved_content,omitempty"`
}

// ListResponse is the response body for GET /api/sessions.
type ListResponse struct {
	Sessions []string `json:"sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp, ok := s.engine.Health(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleList(c echo.Context) error {
	ids, err := s.engine.ListSessions(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, ListResponse{Sessions: ids})
}

func (s *Server) handleCreate(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid create request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.MaxIterations < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_iterations must be positive")
	}

	ctx := c.Request().Context()
	id, err := s.engine.Create(ctx, req.Intent, req.SessionID, req.MaxIterations)
	if err != nil {
		return httpError(err)
	}

	status := blackboard.StatusInitializing
	if state, err := s.engine.GetState(ctx, id); err == nil {
		status = state.Status
	}
	return c.JSON(http.StatusCreated, CreateResponse{SessionID: id, Status: status})
}

func (s *Server) handleGet(c echo.Context) error {
	state, err := s.engine.GetState(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) handleHistory(c echo.Context) error {
	history, err := s.engine.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) handleApprove(c echo.Context) error {
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	state, err := s.engine.Approve(c.Request().Context(), c.Param("id"), req.ApprovedContent)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) handleHalt(c echo.Context) error {
	state, err := s.engine.Halt(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, state)
}

// handleStream streams a session's progress via Server-Sent Events.
//
// Each event is written as
//
//	event: state_update|halted|complete|error
//	data: {"session_id":"...","kind":"...",...}
//
// The stream ends after the final event or when the client disconnects. A
// session that is already awaiting approval, completed or failed yields a
// single final event.
func (s *Server) handleStream(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	events, err := s.engine.Stream(ctx, id)
	if err != nil {
		return httpError(err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to encode progress event", zap.String("session_id", id), zap.Error(err))
				return nil
			}

			fmt.Fprintf(w, "event: %s\n", ev.Kind)
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush()

			if ev.IsFinal() {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			w.Flush()

		case <-ctx.Done():
			return nil
		}
	}
}

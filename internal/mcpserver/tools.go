package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/dyluth/foundry/pkg/blackboard"
)

type createSessionInput struct {
	Intent        string `json:"intent" jsonschema:"What the drafted content should achieve"`
	SessionID     string `json:"session_id,omitempty" jsonschema:"Optional session identifier; a UUID is generated when empty"`
	MaxIterations int    `json:"max_iterations,omitempty" jsonschema:"Revision cap; the server default is used when zero"`
}

type sessionInput struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier"`
}

type approveSessionInput struct {
	SessionID       string  `json:"session_id" jsonschema:"Session identifier"`
	ApprovedContent *string `json:"approved_content,omitempty" jsonschema:"Replacement draft; omit to approve the current draft"`
}

// sessionOutput is the flattened view of a session returned by every tool.
type sessionOutput struct {
	SessionID      string `json:"session_id" jsonschema:"Session identifier"`
	Status         string `json:"status" jsonschema:"Lifecycle status"`
	Iteration      int    `json:"iteration" jsonschema:"Drafting iterations so far"`
	MaxIterations  int    `json:"max_iterations" jsonschema:"Revision cap"`
	Version        int    `json:"version" jsonschema:"Current draft version"`
	Halted         bool   `json:"halted" jsonschema:"True while waiting for a human"`
	HumanApproved  bool   `json:"human_approved" jsonschema:"True once approved"`
	Decision       string `json:"supervisor_decision,omitempty" jsonschema:"Latest supervisor decision"`
	Draft          string `json:"draft,omitempty" jsonschema:"Current draft content"`
	LatestNote     string `json:"latest_note,omitempty" jsonschema:"Most recent scratchpad note"`
	LatestNoteFrom string `json:"latest_note_author,omitempty" jsonschema:"Author of the most recent note"`
}

func toOutput(s *blackboard.State) sessionOutput {
	out := sessionOutput{
		SessionID:     s.SessionID,
		Status:        string(s.Status),
		Iteration:     s.IterationCount,
		MaxIterations: s.MaxIterations,
		Version:       s.CurrentVersion,
		Halted:        s.Halted,
		HumanApproved: s.HumanApproved,
		Decision:      string(s.Decision),
		Draft:         s.Draft(),
	}
	if n := s.LatestNote(); n != nil {
		out.LatestNote = n.Text
		out.LatestNoteFrom = n.Author
	}
	return out
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_session",
		Description: "Start a drafting session; the run proceeds in the background until it needs human review",
	}, s.createSession)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_session",
		Description: "Read the latest checkpoint of a session",
	}, s.getSession)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "approve_session",
		Description: "Approve a halted session, optionally replacing the draft, and finalize it",
	}, s.approveSession)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "halt_session",
		Description: "Suspend a session for human review at the next step boundary",
	}, s.haltSession)
}

func (s *Server) createSession(ctx context.Context, _ *mcp.CallToolRequest, args createSessionInput) (*mcp.CallToolResult, sessionOutput, error) {
	id, err := s.engine.Create(ctx, args.Intent, args.SessionID, args.MaxIterations)
	if err != nil {
		return nil, sessionOutput{}, fmt.Errorf("create session failed: %w", err)
	}

	state, err := s.engine.GetState(ctx, id)
	if err != nil {
		return nil, sessionOutput{}, err
	}

	s.logger.Debug("mcp session created", zap.String("session_id", id))
	return textResult("Session created: %s", id), toOutput(state), nil
}

func (s *Server) getSession(ctx context.Context, _ *mcp.CallToolRequest, args sessionInput) (*mcp.CallToolResult, sessionOutput, error) {
	state, err := s.engine.GetState(ctx, args.SessionID)
	if err != nil {
		return nil, sessionOutput{}, err
	}
	return textResult("Session %s is %s (version %d)", state.SessionID, state.Status, state.CurrentVersion), toOutput(state), nil
}

func (s *Server) approveSession(ctx context.Context, _ *mcp.CallToolRequest, args approveSessionInput) (*mcp.CallToolResult, sessionOutput, error) {
	state, err := s.engine.Approve(ctx, args.SessionID, args.ApprovedContent)
	if err != nil {
		return nil, sessionOutput{}, fmt.Errorf("approve failed: %w", err)
	}
	return textResult("Session %s is %s", state.SessionID, state.Status), toOutput(state), nil
}

func (s *Server) haltSession(ctx context.Context, _ *mcp.CallToolRequest, args sessionInput) (*mcp.CallToolResult, sessionOutput, error) {
	state, err := s.engine.Halt(ctx, args.SessionID)
	if err != nil {
		return nil, sessionOutput{}, fmt.Errorf("halt failed: %w", err)
	}
	return textResult("Session %s halted for review", state.SessionID), toOutput(state), nil
}

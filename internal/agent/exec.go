package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/foundry/pkg/blackboard"
)

const (
	// maxOutputSize caps captured stdout and stderr.
	maxOutputSize = 10 * 1024 * 1024

	// DefaultExecTimeout applies when a command collaborator has no timeout configured.
	DefaultExecTimeout = 5 * time.Minute
)

// ExecInput is the JSON document written to a command collaborator's stdin.
//
// Example JSON:
//
//	{
//	  "role": "drafter",
//	  "state": { "session_id": "...", "user_intent": "...", ... },
//	  "draft_request": { "intent": "...", "notes": [...], "iteration": 2 }
//	}
type ExecInput struct {
	Role         string            `json:"role"`
	State        *blackboard.State `json:"state"`
	DraftRequest *DraftRequest     `json:"draft_request,omitempty"`
}

// Exec runs an external command as a collaborator. The command receives an
// ExecInput on stdin, which is closed after writing, and must print exactly one
// JSON object on stdout and exit zero. The object's shape depends on the role:
// DraftResult, SafetyResult, CritiqueResult or Decision.
type Exec struct {
	Command []string
	Dir     string
	Timeout time.Duration
	Logger  *zap.Logger
}

// run executes the command once and decodes stdout into out.
func (e *Exec) run(ctx context.Context, in *ExecInput, out any) error {
	if len(e.Command) == 0 {
		return fmt.Errorf("%s: command array is empty: %w", in.Role, ErrInvalidOutput)
	}

	inputJSON, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s input: %w", in.Role, err)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.Command[0], e.Command[1:]...)
	cmd.Dir = e.Dir
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(inputJSON)

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	start := time.Now()
	err = cmd.Run()
	e.logger().Debug("collaborator command finished",
		zap.String("role", in.Role),
		zap.Strings("command", e.Command),
		zap.Duration("duration", time.Since(start)),
		zap.String("stderr", truncate(stderrBuf.String(), 500)),
	)

	if stdoutBuf.Len() >= maxOutputSize {
		return fmt.Errorf("%s output exceeded 10MB limit: %w", in.Role, ErrInvalidOutput)
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return fmt.Errorf("%s command timed out after %s", in.Role, timeout)
		case errors.As(err, &exitErr):
			return fmt.Errorf("%s command exited with code %d: %s", in.Role, exitErr.ExitCode(), truncate(stderrBuf.String(), 200))
		default:
			return fmt.Errorf("%s command failed: %w", in.Role, err)
		}
	}

	if stdoutBuf.Len() == 0 {
		return fmt.Errorf("%s produced no output on stdout: %w", in.Role, ErrInvalidOutput)
	}

	if err := json.Unmarshal(stdoutBuf.Bytes(), out); err != nil {
		return fmt.Errorf("%s produced invalid JSON (%v): %s: %w", in.Role, err, truncate(stdoutBuf.String(), 200), ErrInvalidOutput)
	}

	return nil
}

func (e *Exec) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// ExecDrafter adapts Exec to the Drafter role.
type ExecDrafter struct{ *Exec }

func (d ExecDrafter) Draft(ctx context.Context, req DraftRequest) (*DraftResult, error) {
	var out DraftResult
	if err := d.run(ctx, &ExecInput{Role: AuthorDrafter, DraftRequest: &req}, &out); err != nil {
		return nil, err
	}
	if out.Content == "" {
		return nil, fmt.Errorf("drafter returned empty content: %w", ErrInvalidOutput)
	}
	return &out, nil
}

// ExecSafety adapts Exec to the SafetyReviewer role.
type ExecSafety struct{ *Exec }

func (r ExecSafety) Review(ctx context.Context, s *blackboard.State) (*SafetyResult, error) {
	var out SafetyResult
	if err := r.run(ctx, &ExecInput{Role: AuthorSafety, State: s}, &out); err != nil {
		return nil, err
	}
	if err := ValidScore("score", out.Score); err != nil {
		return nil, err
	}
	if out.Priority != "" {
		if err := out.Priority.Validate(); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidOutput)
		}
	}
	return &out, nil
}

// ExecCritic adapts Exec to the QualityCritic role.
type ExecCritic struct{ *Exec }

func (c ExecCritic) Critique(ctx context.Context, s *blackboard.State) (*CritiqueResult, error) {
	var out CritiqueResult
	if err := c.run(ctx, &ExecInput{Role: AuthorCritic, State: s}, &out); err != nil {
		return nil, err
	}
	if err := ValidScore("empathy_score", out.EmpathyScore); err != nil {
		return nil, err
	}
	if err := ValidScore("clinical_score", out.ClinicalScore); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecSupervisor adapts Exec to the Supervisor role.
type ExecSupervisor struct{ *Exec }

func (v ExecSupervisor) Decide(ctx context.Context, s *blackboard.State) (*Decision, error) {
	var out Decision
	if err := v.run(ctx, &ExecInput{Role: AuthorSupervisor, State: s}, &out); err != nil {
		return nil, err
	}
	if err := out.Decision.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidOutput)
	}
	return &out, nil
}

// ValidScore rejects a score outside [0,1] as ErrInvalidOutput. A nil score is valid.
func ValidScore(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("%s %v not in [0,1]: %w", name, *v, ErrInvalidOutput)
	}
	return nil
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}

// truncate limits a string to maxLen characters, appending "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

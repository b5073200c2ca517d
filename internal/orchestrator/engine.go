package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dyluth/foundry/internal/agent"
	"github.com/dyluth/foundry/internal/checkpoint"
	"github.com/dyluth/foundry/pkg/blackboard"
)

// Note authors used by the engine itself.
const (
	AuthorHuman  = "human"
	AuthorSystem = "system"
)

var (
	// ErrInvalidRequest is returned for malformed create requests.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSessionExists is returned when create is given an ID already in the store.
	ErrSessionExists = errors.New("session already exists")

	// ErrInvalidTransition is returned when a protocol operation does not apply to the session's status.
	ErrInvalidTransition = errors.New("invalid transition")

	// errNoChange tells mutate to skip the write.
	errNoChange = errors.New("no change")

	errStepTimeout = errors.New("step exceeded timeout")
)

// EventBus carries progress events from the engine to observers.
// blackboard.Client (Redis Pub/Sub) and bus.NATS implement it.
type EventBus interface {
	PublishProgress(ctx context.Context, ev *blackboard.ProgressEvent) error
	SubscribeProgress(ctx context.Context, sessionID string) (*blackboard.Subscription, error)
}

// Config tunes the engine.
type Config struct {
	// MaxIterations is the default revision cap for new sessions.
	MaxIterations int

	// StepTimeout, when positive, fails the session if a step runs longer.
	StepTimeout time.Duration

	// CollaboratorRetries is how many times a failed collaborator call is retried.
	CollaboratorRetries int

	// RetryInitialInterval is the first backoff delay between retries.
	RetryInitialInterval time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        blackboard.DefaultMaxIterations,
		CollaboratorRetries:  2,
		RetryInitialInterval: 500 * time.Millisecond,
	}
}

// Engine drives sessions through the step/router loop, checkpointing after
// every step. At most one run is active per session; all read-modify-write
// cycles on a session's state are serialized.
type Engine struct {
	store  checkpoint.Store
	bus    EventBus
	steps  map[Decision]stepFunc
	cfg    Config
	logger *zap.Logger

	runs   *keyedMutex // one run per session
	writes *keyedMutex // one read-modify-write per session

	pendingMu sync.Mutex
	pending   map[string]struct{} // background runs waiting for the run lock

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates an engine. The store and bus are owned by the caller.
func NewEngine(store checkpoint.Store, bus EventBus, collaborators agent.Collaborators, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = blackboard.DefaultMaxIterations
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = DefaultConfig().RetryInitialInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		store: store,
		bus:   bus,
		steps: map[Decision]stepFunc{
			RouteDraft:            draftStep(collaborators.Drafter),
			RouteSafetyReview:     safetyStep(collaborators.Safety),
			RouteClinicalCritique: critiqueStep(collaborators.Critic),
			RouteSupervise:        superviseStep(collaborators.Supervisor),
		},
		cfg:     cfg,
		logger:  logger.Named("engine"),
		runs:    newKeyedMutex(),
		writes:  newKeyedMutex(),
		pending: make(map[string]struct{}),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Close cancels background runs and waits for them to stop at their next suspension point.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Create seeds and durably persists a new session, then starts its run in the
// background. An empty sessionID gets a generated UUID; maxIterations <= 0 uses
// the engine default.
func (e *Engine) Create(ctx context.Context, intent, sessionID string, maxIterations int) (string, error) {
	intent = strings.TrimSpace(intent)
	if intent == "" {
		return "", fmt.Errorf("%w: intent cannot be empty", ErrInvalidRequest)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if maxIterations <= 0 {
		maxIterations = e.cfg.MaxIterations
	}

	exists, err := e.store.StateExists(ctx, sessionID)
	if err != nil {
		return "", &PersistenceError{Op: "exists", Err: err}
	}
	if exists {
		return "", fmt.Errorf("session %s: %w", sessionID, ErrSessionExists)
	}

	state := blackboard.NewState(sessionID, intent, maxIterations)
	if err := e.store.PutState(ctx, sessionID, state); err != nil {
		return "", &PersistenceError{Op: "put", Err: err}
	}

	e.logger.Info("session_created",
		zap.String("session_id", sessionID),
		zap.Int("max_iterations", maxIterations),
	)

	e.runAsync(sessionID)
	return sessionID, nil
}

// runAsync starts a run in the background, detached from any request context.
// At most one background run per session waits for the run lock; further
// requests while it waits are dropped, as that run will serve them.
func (e *Engine) runAsync(sessionID string) {
	e.pendingMu.Lock()
	if _, queued := e.pending[sessionID]; queued {
		e.pendingMu.Unlock()
		return
	}
	e.pending[sessionID] = struct{}{}
	e.pendingMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		unlock, err := e.runs.Lock(e.baseCtx, sessionID)
		e.pendingMu.Lock()
		delete(e.pending, sessionID)
		e.pendingMu.Unlock()
		if err != nil {
			return
		}
		defer unlock()

		if err := e.run(e.baseCtx, sessionID); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("run_stopped", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

// Run drives a session until the router halts or terminates it. If another run
// holds the session, Run waits for it. A session already awaiting approval,
// completed or failed is not advanced; its final event is replayed instead.
func (e *Engine) Run(ctx context.Context, sessionID string) error {
	unlock, err := e.runs.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	return e.run(ctx, sessionID)
}

// run is the step loop. The caller holds the session's run lock.
func (e *Engine) run(ctx context.Context, sessionID string) (err error) {
	RunsActive.Inc()
	defer RunsActive.Dec()

	// last is the latest committed state, reported if the store fails mid-run
	var last *blackboard.State
	defer func() {
		if IsPersistenceError(err) {
			e.persistenceFailed(ctx, sessionID, last, err)
		}
	}()

	state, err := e.load(ctx, sessionID)
	if err != nil {
		return err
	}
	last = state

	if state.Status.IsAbsorbing() {
		e.logger.Debug("run_replayed", zap.String("session_id", sessionID), zap.String("status", string(state.Status)))
		RunsFinished.WithLabelValues("replayed").Inc()
		e.publish(ctx, finalEvent(state))
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		decision, err := Route(state)
		if err != nil {
			return e.fail(ctx, sessionID, err.Error())
		}

		switch decision {
		case RouteHalt:
			return e.finishHalt(ctx, sessionID)
		case RouteTerminate:
			return e.finishComplete(ctx, sessionID)
		}

		update, err := e.invoke(ctx, decision, state)
		if err != nil {
			return e.stepFailed(ctx, sessionID, decision, state, err)
		}

		// Apply onto the latest committed state, not the snapshot the step read,
		// so a halt or approval that landed while the collaborator ran survives.
		// An approved draft is final: the step's result is dropped.
		discarded := false
		next, err := e.mutate(ctx, sessionID, func(s *blackboard.State) error {
			if s.HumanApproved {
				discarded = true
				return errNoChange
			}
			preempted := s.Halted
			update.Apply(s)
			if preempted {
				s.Halted = true
				s.Status = blackboard.StatusAwaitingApproval
			}
			return nil
		})
		if err != nil {
			return err
		}
		state, last = next, next

		if discarded {
			StepsTotal.WithLabelValues(string(decision), "discarded").Inc()
			e.logger.Info("step_discarded",
				zap.String("session_id", sessionID),
				zap.String("step", string(decision)),
				zap.String("reason", "approved while running"),
			)
			continue
		}

		StepsTotal.WithLabelValues(string(decision), "applied").Inc()
		e.logger.Info("step_completed",
			zap.String("session_id", sessionID),
			zap.String("step", string(decision)),
			zap.String("status", string(state.Status)),
			zap.Int("iteration", state.IterationCount),
			zap.Int("version", state.CurrentVersion),
		)
		e.publish(ctx, blackboard.NewProgressEvent(blackboard.EventStateUpdate, state))
	}
}

// invoke runs one step against a snapshot with retries, racing it against the
// step timeout when one is configured.
func (e *Engine) invoke(ctx context.Context, decision Decision, state *blackboard.State) (*Update, error) {
	step, ok := e.steps[decision]
	if !ok {
		return nil, fmt.Errorf("no step registered for %s", decision)
	}

	stepCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.cfg.StepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, e.cfg.StepTimeout)
	}
	defer cancel()

	e.logger.Debug("step_started",
		zap.String("session_id", state.SessionID),
		zap.String("step", string(decision)),
		zap.Int("iteration", state.IterationCount),
	)

	snapshot := state.Clone()
	start := time.Now()

	type result struct {
		update *Update
		err    error
	}
	done := make(chan result, 1)

	go func() {
		var update *Update
		op := func() error {
			u, err := step(stepCtx, snapshot)
			if err != nil {
				if errors.Is(err, agent.ErrInvalidOutput) || stepCtx.Err() != nil {
					return backoff.Permanent(err)
				}
				return err
			}
			update = u
			return nil
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = e.cfg.RetryInitialInterval
		policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.CollaboratorRetries)), stepCtx)

		err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
			CollaboratorRetries.WithLabelValues(string(decision)).Inc()
			e.logger.Warn("collaborator_retry",
				zap.String("session_id", state.SessionID),
				zap.String("step", string(decision)),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		})
		done <- result{update: update, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-stepCtx.Done():
		res = result{err: stepCtx.Err()}
	}
	StepDuration.WithLabelValues(string(decision)).Observe(time.Since(start).Seconds())

	if res.err != nil {
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s after %s", errStepTimeout, decision, e.cfg.StepTimeout)
		}
		return nil, res.err
	}
	return res.update, nil
}

// stepFailed classifies a step error. The checkpoint is left untouched except
// when the watchdog fires, which marks the session failed.
func (e *Engine) stepFailed(ctx context.Context, sessionID string, decision Decision, state *blackboard.State, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(err, errStepTimeout) {
		StepsTotal.WithLabelValues(string(decision), "timeout").Inc()
		return e.fail(ctx, sessionID, err.Error())
	}

	StepsTotal.WithLabelValues(string(decision), "collaborator_error").Inc()
	RunsFinished.WithLabelValues("error").Inc()

	cerr := &CollaboratorError{Step: blackboard.Step(decision), Err: err}
	e.logger.Error("collaborator_error",
		zap.String("session_id", sessionID),
		zap.String("step", string(decision)),
		zap.Error(err),
	)

	ev := blackboard.NewProgressEvent(blackboard.EventError, state)
	ev.Error = cerr.Error()
	e.publish(ctx, ev)

	return cerr
}

// persistenceFailed ends the run for observers with an error event built from
// the last committed state.
func (e *Engine) persistenceFailed(ctx context.Context, sessionID string, last *blackboard.State, err error) {
	RunsFinished.WithLabelValues("error").Inc()
	e.logger.Error("persistence_error", zap.String("session_id", sessionID), zap.Error(err))

	if last == nil {
		last = &blackboard.State{SessionID: sessionID}
	}
	ev := blackboard.NewProgressEvent(blackboard.EventError, last)
	ev.Error = err.Error()
	e.publish(context.WithoutCancel(ctx), ev)
}

// finishHalt persists the suspension and emits the halted event.
func (e *Engine) finishHalt(ctx context.Context, sessionID string) error {
	state, err := e.mutate(ctx, sessionID, func(s *blackboard.State) error {
		if s.Halted && s.Status == blackboard.StatusAwaitingApproval {
			return errNoChange
		}
		if s.ActiveStep == blackboard.StepSupervise && s.Decision == blackboard.DecisionNeedsRevision && IterationCapReached(s) {
			s.AppendNote(AuthorSystem,
				fmt.Sprintf("Iteration limit of %d reached; awaiting human review", s.MaxIterations),
				"", blackboard.PriorityWarning)
		}
		s.Halted = true
		s.Status = blackboard.StatusAwaitingApproval
		return nil
	})
	if err != nil {
		return err
	}

	RunsFinished.WithLabelValues("halted").Inc()
	e.logger.Info("session_halted",
		zap.String("session_id", sessionID),
		zap.Int("iteration", state.IterationCount),
		zap.Int("version", state.CurrentVersion),
	)
	e.publish(ctx, blackboard.NewProgressEvent(blackboard.EventHalted, state))
	return nil
}

// finishComplete persists the terminal state and emits the complete event.
func (e *Engine) finishComplete(ctx context.Context, sessionID string) error {
	state, err := e.mutate(ctx, sessionID, func(s *blackboard.State) error {
		s.Halted = false
		s.Status = blackboard.StatusCompleted
		s.AppendNote(AuthorSystem, "Workflow completed successfully", "", blackboard.PriorityInfo)
		return nil
	})
	if err != nil {
		return err
	}

	RunsFinished.WithLabelValues("completed").Inc()
	e.logger.Info("session_completed",
		zap.String("session_id", sessionID),
		zap.Int("version", state.CurrentVersion),
		zap.Bool("human_edits", state.HumanEdits != nil),
	)
	e.publish(ctx, blackboard.NewProgressEvent(blackboard.EventComplete, state))
	return nil
}

// fail marks the session failed and returns an InvariantViolation.
func (e *Engine) fail(ctx context.Context, sessionID, reason string) error {
	violation := &InvariantViolation{SessionID: sessionID, Reason: reason}

	state, err := e.mutate(ctx, sessionID, func(s *blackboard.State) error {
		// Keep unroutable values for diagnosis without making the checkpoint unwritable
		if s.Metadata == nil {
			s.Metadata = map[string]any{}
		}
		if s.ActiveStep.Validate() != nil {
			s.Metadata["invalid_active_step"] = string(s.ActiveStep)
			s.ActiveStep = ""
		}
		if s.Decision.Validate() != nil {
			s.Metadata["invalid_supervisor_decision"] = string(s.Decision)
			s.Decision = blackboard.DecisionNone
		}
		s.Status = blackboard.StatusFailed
		s.AppendNote(AuthorSystem, "Run aborted: "+reason, "", blackboard.PriorityCritical)
		return nil
	})
	if err != nil {
		return errors.Join(violation, err)
	}

	RunsFinished.WithLabelValues("failed").Inc()
	e.logger.Error("session_failed", zap.String("session_id", sessionID), zap.String("reason", reason))

	ev := blackboard.NewProgressEvent(blackboard.EventError, state)
	ev.Error = violation.Error()
	e.publish(ctx, ev)

	return violation
}

// Approve records human approval, optionally replacing the draft, and resumes
// the run, which terminates the session. Approving a completed session is a no-op.
// A step still running when approval lands has its result dropped.
func (e *Engine) Approve(ctx context.Context, sessionID string, edited *string) (*blackboard.State, error) {
	withEdits := false

	state, err := e.mutate(ctx, sessionID, func(s *blackboard.State) error {
		switch s.Status {
		case blackboard.StatusCompleted:
			return errNoChange
		case blackboard.StatusFailed:
			return fmt.Errorf("session %s has failed: %w", sessionID, ErrInvalidTransition)
		}

		// Blank content means no edits
		if edited != nil && strings.TrimSpace(*edited) != "" && strings.TrimSpace(*edited) != strings.TrimSpace(s.Draft()) {
			content := *edited
			s.CurrentDraft = &content
			edits := content
			s.HumanEdits = &edits
			withEdits = true
		}

		text := "Draft approved and finalized"
		if withEdits {
			text += " (with edits)"
		}
		s.AppendNote(AuthorHuman, text, "", blackboard.PriorityInfo)
		s.HumanApproved = true
		s.Halted = false
		s.Status = blackboard.StatusApproved
		return nil
	})
	if err != nil {
		return nil, err
	}
	if state.Status == blackboard.StatusCompleted {
		return state, nil
	}

	e.logger.Info("session_approved", zap.String("session_id", sessionID), zap.Bool("with_edits", withEdits))

	if err := e.Run(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.GetState(ctx, sessionID)
}

// Halt suspends a session at the next step boundary. An in-flight step still
// completes and is persisted. Completed and failed sessions are left as they are.
func (e *Engine) Halt(ctx context.Context, sessionID string) (*blackboard.State, error) {
	state, err := e.mutate(ctx, sessionID, func(s *blackboard.State) error {
		if s.Status == blackboard.StatusCompleted || s.Status == blackboard.StatusFailed {
			return errNoChange
		}
		s.Status = blackboard.StatusAwaitingApproval
		s.Halted = true
		s.AppendNote(AuthorHuman, "Workflow halted for review", "", blackboard.PriorityWarning)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("session_halt_requested", zap.String("session_id", sessionID))

	// With no run in flight nobody else will announce the halt.
	if unlock, ok := e.runs.TryLock(sessionID); ok {
		e.publish(ctx, finalEvent(state))
		unlock()
	}
	return state, nil
}

// GetState returns the latest checkpoint for a session.
func (e *Engine) GetState(ctx context.Context, sessionID string) (*blackboard.State, error) {
	return e.load(ctx, sessionID)
}

// History returns every checkpoint written for a session, oldest first.
func (e *Engine) History(ctx context.Context, sessionID string) ([]*blackboard.State, error) {
	history, err := e.store.GetHistory(ctx, sessionID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, &PersistenceError{Op: "history", Err: err}
	}
	return history, nil
}

// ListSessions returns known session IDs when the store can enumerate them.
func (e *Engine) ListSessions(ctx context.Context) ([]string, error) {
	lister, ok := e.store.(checkpoint.Lister)
	if !ok {
		return nil, fmt.Errorf("store does not support listing sessions")
	}
	ids, err := lister.ListSessions(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return ids, nil
}

// Stream returns the session's progress events, ending with a final event.
// A session that is already awaiting approval, completed or failed yields its
// final snapshot once without running any step. Otherwise the caller is
// subscribed first and a run is requested; if one is already in flight the
// request queues behind it. The channel closes after the final event or when
// ctx is done; the run itself is not tied to ctx.
func (e *Engine) Stream(ctx context.Context, sessionID string) (<-chan *blackboard.ProgressEvent, error) {
	state, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if state.Status.IsAbsorbing() {
		out := make(chan *blackboard.ProgressEvent, 1)
		out <- finalEvent(state)
		close(out)
		return out, nil
	}

	sub, err := e.bus.SubscribeProgress(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to session %s: %w", sessionID, err)
	}

	e.runAsync(sessionID)

	out := make(chan *blackboard.ProgressEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.IsFinal() {
					return
				}
			case err, ok := <-sub.Errors():
				if !ok {
					return
				}
				e.logger.Warn("progress_subscription_error", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}()

	return out, nil
}

// load reads the latest checkpoint, classifying failures.
func (e *Engine) load(ctx context.Context, sessionID string) (*blackboard.State, error) {
	state, err := e.store.GetState(ctx, sessionID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	return state, nil
}

// mutate performs one read-modify-write of a session under its write lock.
// fn may return errNoChange to skip the write; the loaded state is returned.
func (e *Engine) mutate(ctx context.Context, sessionID string, fn func(s *blackboard.State) error) (*blackboard.State, error) {
	unlock, err := e.writes.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := fn(state); err != nil {
		if errors.Is(err, errNoChange) {
			return state, nil
		}
		return nil, err
	}

	state.Touch()
	if err := e.store.PutState(ctx, sessionID, state); err != nil {
		return nil, &PersistenceError{Op: "put", Err: err}
	}
	return state, nil
}

// publish delivers an event to observers. The checkpoint is the source of
// truth, so a publish failure is logged and otherwise ignored.
func (e *Engine) publish(ctx context.Context, ev *blackboard.ProgressEvent) {
	if e.bus == nil {
		return
	}
	if err := e.bus.PublishProgress(ctx, ev); err != nil {
		e.logger.Warn("progress_publish_failed",
			zap.String("session_id", ev.SessionID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
	}
}

// finalEvent builds the replay event for a session that is no longer advancing.
func finalEvent(s *blackboard.State) *blackboard.ProgressEvent {
	switch s.Status {
	case blackboard.StatusCompleted:
		return blackboard.NewProgressEvent(blackboard.EventComplete, s)
	case blackboard.StatusFailed:
		ev := blackboard.NewProgressEvent(blackboard.EventError, s)
		ev.Error = "session failed"
		return ev
	default:
		return blackboard.NewProgressEvent(blackboard.EventHalted, s)
	}
}

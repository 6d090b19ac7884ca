// internal/agent/controller.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/contextbudget"
	"github.com/xkilldash9x/webpilot/internal/cycle"
	"github.com/xkilldash9x/webpilot/internal/validation"
)

// requestSafetyMargin is subtracted when the context is recomputed to fit
// the whole-request ceiling.
const requestSafetyMargin = 500

// Controller drives one task at a time through observe, decide, act and
// reflect until the task completes or a termination condition fires.
type Controller struct {
	logger     *zap.Logger
	cfg        config.AgentConfig
	page       schemas.PageModelProvider
	backend    schemas.ActionBackend
	oracle     DecisionOracle
	journal    RunJournal
	validator  *validation.Validator
	classifier *validation.ErrorClassifier
	budget     *contextbudget.Manager
	handlers   map[ActionName]actionHandler

	systemPrompt string

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	running atomic.Bool
	stopped atomic.Bool
}

// Option customizes a Controller.
type Option func(*Controller)

// WithJournal persists every action record and the final result.
func WithJournal(j RunJournal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithValidator replaces the default validator.
func WithValidator(v *validation.Validator) Option {
	return func(c *Controller) { c.validator = v }
}

// WithErrorClassifier replaces the default error classifier.
func WithErrorClassifier(ec *validation.ErrorClassifier) Option {
	return func(c *Controller) { c.classifier = ec }
}

// WithBudgetManager replaces the default context budget manager.
func WithBudgetManager(m *contextbudget.Manager) Option {
	return func(c *Controller) { c.budget = m }
}

// New creates a controller. The oracle doubles as the judge for the default
// validator and error classifier.
func New(logger *zap.Logger, cfg config.AgentConfig, page schemas.PageModelProvider, backend schemas.ActionBackend, oracle DecisionOracle, opts ...Option) *Controller {
	cfg = withDefaults(cfg)
	c := &Controller{
		logger:       logger.Named("agent"),
		cfg:          cfg,
		page:         page,
		backend:      backend,
		oracle:       oracle,
		state:        StateIdle,
		systemPrompt: buildSystemPrompt(Catalog()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.validator == nil {
		c.validator = validation.NewValidator(logger, oracle, cfg.Validation)
	}
	if c.classifier == nil {
		c.classifier = validation.NewErrorClassifier(logger, oracle, cfg.Errors)
	}
	if c.budget == nil {
		c.budget = contextbudget.NewManager(logger, contextbudget.HeuristicEstimator{}, cfg.Budget)
	}
	c.handlers = c.buildHandlers()
	return c
}

func withDefaults(cfg config.AgentConfig) config.AgentConfig {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.CycleWindow < 2 {
		cfg.CycleWindow = cycle.DefaultWindow
	}
	if cfg.QueryHistory <= 0 {
		cfg.QueryHistory = defaultQueryHistory
	}
	if cfg.Budget.ContextTokens <= 0 {
		cfg.Budget.ContextTokens = 3000
	}
	if cfg.Budget.HistoryTokens <= 0 {
		cfg.Budget.HistoryTokens = 2000
	}
	if cfg.Budget.RequestTokens <= 0 {
		cfg.Budget.RequestTokens = 25000
	}
	if cfg.Validation.CacheSize <= 0 {
		cfg.Validation.CacheSize = 100
	}
	if cfg.Validation.CriticalActions == nil {
		cfg.Validation.CriticalActions = []string{string(ActionNavigate), string(ActionClickElement), string(ActionTypeText)}
	}
	return cfg
}

// State returns the current loop state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState moves the state machine, refusing to leave a terminal state.
func (c *Controller) setState(newState State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IsTerminal() {
		c.logger.Warn("Refusing state transition out of terminal state",
			zap.String("from", string(c.state)), zap.String("to", string(newState)))
		return
	}
	if c.state != newState {
		c.logger.Debug("State transition", zap.String("from", string(c.state)), zap.String("to", string(newState)))
	}
	c.state = newState
}

// Stop asks the running task to end at the next check. It is safe to call
// from any goroutine, and a Stop issued before Run ends that run at once.
func (c *Controller) Stop() {
	c.stopped.Store(true)
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) stopRequested(ctx context.Context) bool {
	return c.stopped.Load() || ctx.Err() != nil
}

// Run executes task to completion. The error is nil only when the task was
// completed; otherwise it is a *RunError carrying the termination reason.
// The returned result is non-nil whenever the run started.
func (c *Controller) Run(ctx context.Context, task string) (*RunResult, error) {
	if strings.TrimSpace(task) == "" {
		return nil, ErrEmptyTask
	}
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer c.stopped.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.state = StateIdle
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	session := NewTaskSession(c.cfg.QueryHistory)
	session.SetTask(task)
	c.validator.Reset()
	c.classifier.Reset()

	logger := c.logger.With(zap.String("session_id", session.ID))
	logger.Info("Starting task",
		zap.String("task", task),
		zap.Int("max_iterations", c.cfg.MaxIterations),
		zap.Int("requirements", len(session.Requirements())))

	started := time.Now()
	result, err := c.loop(runCtx, logger, session)
	result.StartedAt = started
	result.FinishedAt = time.Now()

	if c.journal != nil {
		if jerr := c.journal.RecordRun(context.WithoutCancel(ctx), *result); jerr != nil {
			logger.Warn("Failed to journal run result", zap.Error(jerr))
		}
	}

	if err != nil {
		logger.Warn("Task ended without completion",
			zap.String("reason", string(result.Reason)),
			zap.Int("iterations", result.Iterations),
			zap.Error(err))
	} else {
		logger.Info("Task completed", zap.Int("iterations", result.Iterations), zap.String("message", result.Message))
	}
	return result, err
}

// turn is what one iteration knows before it acts.
type turn struct {
	page     *schemas.PageModel
	before   schemas.PageStateSnapshot
	context  *contextbudget.BoundedContext
	decision *Decision
}

func (c *Controller) loop(ctx context.Context, logger *zap.Logger, s *TaskSession) (*RunResult, error) {
	for {
		if c.stopRequested(ctx) {
			return c.finish(s, ReasonStopped, "stopped before the task was completed", nil, ErrStopped)
		}
		if s.Iteration >= c.cfg.MaxIterations {
			return c.finish(s, ReasonIterationLimit,
				fmt.Sprintf("no completion after %d iterations", s.Iteration), nil, ErrIterationLimit)
		}
		s.Iteration++
		iterLogger := logger.With(zap.Int("iteration", s.Iteration))

		// -- Observe --
		c.setState(StateObserving)
		s.Status = StateObserving
		page, err := c.page.Extract(ctx)
		if c.stopRequested(ctx) {
			return c.finish(s, ReasonStopped, "stopped while observing the page", nil, ErrStopped)
		}
		if err != nil {
			return c.finish(s, ReasonCollaboratorFailure, "page model extraction failed", nil,
				fmt.Errorf("extract page model: %w", err))
		}
		if page == nil {
			return c.finish(s, ReasonCollaboratorFailure, "page model extraction returned nothing", nil,
				errors.New("extract page model: nil page"))
		}
		if s.Visit(page.URL) {
			iterLogger.Debug("Visited new page", zap.String("url", cycle.NormalizeURL(page.URL)))
		}
		if v := cycle.Detect(s.CycleRecords(), c.cfg.CycleWindow); v != nil {
			return c.finishLoop(iterLogger, s, v)
		}

		// -- Decide --
		c.setState(StateDeciding)
		s.Status = StateDeciding
		t := &turn{page: page, before: page.State}
		if t.before == (schemas.PageStateSnapshot{}) {
			t.before = schemas.SnapshotOf(page)
		}
		t.context, t.decision, err = c.decide(ctx, iterLogger, s, page)
		if c.stopRequested(ctx) {
			return c.finish(s, ReasonStopped, "stopped while deciding", nil, ErrStopped)
		}
		if err != nil {
			if errors.Is(err, contextbudget.ErrBudgetExceeded) {
				return c.finish(s, ReasonBudgetExceeded, "decision request does not fit the token budget", nil, err)
			}
			return c.finish(s, ReasonOracleFailure, "no action could be chosen", nil, err)
		}
		iterLogger.Info("Decision made",
			zap.String("action", string(t.decision.Action)),
			zap.String("thought", t.decision.Thought))

		// -- Act --
		c.setState(StateActing)
		s.Status = StateActing
		started := time.Now()
		out, err := c.act(ctx, s, t)
		if c.stopRequested(ctx) {
			return c.finish(s, ReasonStopped, "stopped while acting", nil, ErrStopped)
		}
		if err != nil {
			return c.finish(s, ReasonCollaboratorFailure, "action backend failed", nil, err)
		}

		// -- Reflect --
		c.setState(StateReflecting)
		s.Status = StateReflecting
		rec, err := c.reflect(ctx, iterLogger, s, t, out, started)
		if err != nil {
			return c.finish(s, ReasonCollaboratorFailure, "could not record the action", nil, err)
		}
		if out.completed {
			return c.finish(s, ReasonCompleted, out.result.Message, nil, nil)
		}
		if !rec.Result.Success {
			if v := cycle.Detect(s.CycleRecords(), c.cfg.CycleWindow); v != nil {
				return c.finishLoop(iterLogger, s, v)
			}
		}

		if err := c.pause(ctx, c.cfg.StepDelay); err != nil {
			return c.finish(s, ReasonStopped, "stopped between steps", nil, ErrStopped)
		}
	}
}

func (c *Controller) finishLoop(logger *zap.Logger, s *TaskSession, v *cycle.Verdict) (*RunResult, error) {
	logger.Warn("Loop detected, aborting task",
		zap.String("kind", string(v.Kind)),
		zap.String("reason", v.Reason),
		zap.Int("repeat_count", v.RepeatCount))
	return c.finish(s, ReasonLoopDetected, v.Reason, v, fmt.Errorf("%w: %s", ErrLoopDetected, v.Reason))
}

// finish moves to a terminal state and builds the run result.
func (c *Controller) finish(s *TaskSession, reason Reason, message string, loop *cycle.Verdict, err error) (*RunResult, error) {
	result := &RunResult{
		SessionID:  s.ID,
		Task:       s.Task,
		Success:    reason == ReasonCompleted,
		Message:    message,
		Reason:     reason,
		Iterations: s.Iteration,
		Loop:       loop,
		Records:    s.Records(),
	}
	if result.Success {
		c.setState(StateCompleted)
		s.Status = StateCompleted
		return result, nil
	}
	c.setState(StateError)
	s.Status = StateError
	if err != nil {
		s.LastError = err.Error()
	}
	return result, &RunError{Reason: reason, Err: err}
}

// decide builds the bounded context and asks the oracle for the next action.
func (c *Controller) decide(ctx context.Context, logger *zap.Logger, s *TaskSession, page *schemas.PageModel) (*contextbudget.BoundedContext, *Decision, error) {
	est := c.budget.Estimator()
	in := contextbudget.PrepareInput{
		Page:           page,
		Task:           s.Task,
		History:        contextbudget.TrimHistory(est, s.HistoryEntries(), c.cfg.Budget.HistoryTokens),
		Requirements:   s.Requirements(),
		CompletedSteps: s.CompletedSteps,
		ExtractedInfo:  s.ExtractedInfo,
		Notes:          s.TakeNotes(),
	}
	bc, err := c.budget.Prepare(in, c.cfg.Budget.ContextTokens)
	if err != nil {
		return nil, nil, err
	}

	tools := Catalog()
	size := contextbudget.EstimateRequest(est, c.systemPrompt, bc.Text, tools)
	if size > c.cfg.Budget.RequestTokens {
		ceiling := c.cfg.Budget.RequestTokens - est.Count(c.systemPrompt) - est.CountJSON(tools) - requestSafetyMargin
		logger.Warn("Decision request over budget, recomputing context",
			zap.Int("request_tokens", size),
			zap.Int("max_request_tokens", c.cfg.Budget.RequestTokens),
			zap.Int("context_ceiling", ceiling))
		bc, err = c.budget.Prepare(in, ceiling)
		if err != nil {
			return nil, nil, err
		}
		size = contextbudget.EstimateRequest(est, c.systemPrompt, bc.Text, tools)
		if size > c.cfg.Budget.RequestTokens {
			return nil, nil, &contextbudget.BudgetError{Measured: size, Ceiling: c.cfg.Budget.RequestTokens}
		}
	}

	decision, err := c.callOracle(ctx, logger, DecisionRequest{
		SystemPrompt: c.systemPrompt,
		Context:      bc.Text,
		Tools:        tools,
	})
	if err != nil {
		return nil, nil, err
	}
	return bc, decision, nil
}

// callOracle converts oracle errors and panics into ErrOracleFailure.
func (c *Controller) callOracle(ctx context.Context, logger *zap.Logger, req DecisionRequest) (d *Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in decision oracle",
				zap.Any("panic_value", r),
				zap.Stack("stack"))
			d = nil
			err = fmt.Errorf("%w: oracle panicked: %v", ErrOracleFailure, r)
		}
	}()

	d, err = c.oracle.Decide(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrOracleFailure, err)
	}
	if d == nil || d.Action == "" {
		return nil, fmt.Errorf("%w: decision names no action", ErrOracleFailure)
	}
	if d.Params == nil {
		d.Params = map[string]interface{}{}
	}
	if d.Repaired {
		logger.Debug("Decision recovered from malformed oracle output", zap.String("action", string(d.Action)))
	}
	return d, nil
}

// act dispatches the decision through the handler table.
func (c *Controller) act(ctx context.Context, s *TaskSession, t *turn) (actionOutcome, error) {
	handler, ok := c.handlers[t.decision.Action]
	if !ok {
		c.logger.Warn("Oracle chose an action outside the catalog", zap.String("action", string(t.decision.Action)))
		return actionOutcome{
			action: t.decision.Action,
			before: t.before,
			after:  t.before,
			result: schemas.ActionResult{
				Success: false,
				Error:   actionError(ErrCodeUnknownAction, "%q is not a known action", t.decision.Action),
			},
		}, nil
	}
	return handler(ctx, s, t)
}

// reflect validates the outcome, attaches recovery advice and commits the
// record.
func (c *Controller) reflect(ctx context.Context, logger *zap.Logger, s *TaskSession, t *turn, out actionOutcome, started time.Time) (ActionRecord, error) {
	d := t.decision
	rec := ActionRecord{
		ID:          uuidNewString(),
		Iteration:   s.Iteration,
		Action:      out.action,
		Params:      d.Params,
		Thought:     d.Thought,
		Result:      out.result,
		Before:      out.before,
		After:       out.after,
		PageChanged: out.before != out.after,
		Valid:       out.result.Success,
		Cached:      out.cached,
		Timestamp:   started,
		Duration:    time.Since(started),
	}

	if !out.skipValidation {
		v := c.validator.Validate(ctx, validation.Input{
			Action: string(out.action),
			Params: d.Params,
			Result: out.result,
			Before: out.before,
			After:  out.after,
			Task:   s.Task,
		})
		rec.Valid = v.IsValid
		rec.Validation = v.Message
	}

	switch {
	case !out.result.Success && !out.skipValidation:
		advice := c.classifier.Classify(ctx, out.result.Error, string(out.action), t.context.Text)
		rec.Advice = &advice
		logger.Info("Action failed",
			zap.String("action", string(out.action)),
			zap.String("error", out.result.Error),
			zap.String("strategy", string(advice.Strategy)))
	case out.result.Success && !rec.Valid:
		rec.Advice = &validation.Advice{
			Suggestion: "The action had no visible effect. Try a different element or approach instead of repeating it.",
			Strategy:   validation.StrategyAlternative,
			Source:     validation.SourceRule,
		}
		logger.Info("Action produced no expected effect",
			zap.String("action", string(out.action)),
			zap.String("validation", rec.Validation))
	}

	if err := s.Append(rec); err != nil {
		return rec, err
	}
	if !out.result.Success {
		s.LastError = out.result.Error
	}

	if out.result.Success && rec.Valid {
		c.creditProgress(logger, s, d, out.action)
		if out.action != ActionTaskComplete {
			s.CompletedSteps = append(s.CompletedSteps, summarize(out.action, d.Params))
		}
		if out.action == ActionExtractText {
			if text := out.result.String("text"); text != "" {
				key := paramString(d.Params, "description")
				if key == "" {
					key = paramString(d.Params, "selector")
				}
				s.ExtractedInfo[key] = text
			}
		}
	}

	if c.journal != nil {
		if err := c.journal.RecordAction(ctx, s.ID, rec); err != nil {
			logger.Warn("Failed to journal action record", zap.Error(err))
		}
	}
	return rec, nil
}

// creditProgress applies the decision's explicit progress, or else credits
// one unit to every requirement an interaction mentions.
func (c *Controller) creditProgress(logger *zap.Logger, s *TaskSession, d *Decision, action ActionName) {
	if len(d.Progress) > 0 {
		for key, n := range d.Progress {
			if s.Credit(key, n) {
				logger.Info("Requirement progress", zap.String("requirement", key), zap.Int("credit", n))
			}
		}
		return
	}
	if action != ActionClickElement && action != ActionTypeText {
		return
	}
	text := strings.Join([]string{
		paramString(d.Params, "description"),
		paramString(d.Params, "selector"),
		paramString(d.Params, "text"),
	}, " ")
	for _, key := range s.MatchRequirements(text) {
		if s.Credit(key, 1) {
			logger.Info("Requirement progress", zap.String("requirement", key), zap.Int("credit", 1))
		}
	}
}

// pause sleeps for d or until ctx is done.
func (c *Controller) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/cycle"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
)

// actionOutcome is what a handler reports back to the reflect phase.
type actionOutcome struct {
	// action labels the record; it differs from the decision for rejected
	// completions.
	action    ActionName
	result    schemas.ActionResult
	before    schemas.PageStateSnapshot
	after     schemas.PageStateSnapshot
	cached    bool
	completed bool
	// skipValidation bypasses the validator and error classifier.
	skipValidation bool
}

type actionHandler func(ctx context.Context, s *TaskSession, t *turn) (actionOutcome, error)

// buildHandlers creates the dispatch table for the whole catalog.
func (c *Controller) buildHandlers() map[ActionName]actionHandler {
	handlers := make(map[ActionName]actionHandler, len(catalog))
	register := func(h actionHandler, names ...ActionName) {
		for _, n := range names {
			handlers[n] = h
		}
	}

	register(c.executeBackend,
		ActionNavigate, ActionClickElement, ActionTypeText, ActionScroll,
		ActionWaitForElement, ActionExtractText, ActionSearchOnPage,
		ActionReloadPage, ActionTakeScreenshot)
	register(c.handleQueryDOM, ActionQueryDOM)
	register(c.handleTaskComplete, ActionTaskComplete)
	return handlers
}

// settleDelays is how long the page gets to settle after each action.
var settleDelays = map[ActionName]time.Duration{
	ActionNavigate:     2 * time.Second,
	ActionClickElement: 1500 * time.Millisecond,
	ActionTypeText:     500 * time.Millisecond,
	ActionScroll:       time.Second,
	ActionSearchOnPage: 2 * time.Second,
	ActionReloadPage:   2 * time.Second,
}

const (
	defaultSettleDelay = time.Second
	failedSettleDelay  = 500 * time.Millisecond
)

// settleDelay returns the per-action delay capped by MaxSettleDelay. A
// non-positive cap disables settling.
func (c *Controller) settleDelay(name ActionName, success bool) time.Duration {
	if c.cfg.MaxSettleDelay <= 0 {
		return 0
	}
	d := defaultSettleDelay
	if !success {
		d = failedSettleDelay
	} else if base, ok := settleDelays[name]; ok {
		d = base
	}
	if d > c.cfg.MaxSettleDelay {
		d = c.cfg.MaxSettleDelay
	}
	return d
}

func (c *Controller) executeBackend(ctx context.Context, s *TaskSession, t *turn) (actionOutcome, error) {
	name := t.decision.Action
	out := actionOutcome{action: name, before: t.before, after: t.before}

	if err := checkParams(name, t.decision.Params); err != nil {
		out.result = schemas.ActionResult{Error: actionError(ErrCodeInvalidParameters, "%v", err)}
		return out, nil
	}

	res, err := c.backend.Execute(ctx, string(name), t.decision.Params)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, fmt.Errorf("%s: execute %s: %w", ErrCodeExecutionFailure, name, err)
	}
	out.result = res

	if err := c.pause(ctx, c.settleDelay(name, res.Success)); err != nil {
		return out, err
	}

	after, err := c.page.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, fmt.Errorf("snapshot after %s: %w", name, err)
	}
	out.after = after
	return out, nil
}

// handleTaskComplete gates completion on requirement counters and, when
// enabled, on the deep completion check. A rejection is recorded and the
// loop continues.
func (c *Controller) handleTaskComplete(ctx context.Context, s *TaskSession, t *turn) (actionOutcome, error) {
	reject := func(reason string) actionOutcome {
		s.AddNote("task_complete rejected: " + reason)
		c.logger.Info("Completion rejected", zap.String("session_id", s.ID), zap.String("reason", reason))
		return actionOutcome{
			action:         actionTaskCompleteRejected,
			before:         t.before,
			after:          t.before,
			skipValidation: true,
			result: schemas.ActionResult{
				Error: actionError(ErrCodeCompletionRejected, "%s", reason),
			},
		}
	}

	if !s.CanComplete() {
		return reject(s.PendingRequirements()), nil
	}

	if c.cfg.CompletionCheck {
		verdict := c.validator.CheckCompletion(ctx, s.Task, t.context.Text, s.HistoryLines())
		if ctx.Err() != nil {
			return actionOutcome{}, ctx.Err()
		}
		if !verdict.IsCompleted {
			reason := fmt.Sprintf("completion check says %d%% done", verdict.CompletionPercentage)
			if verdict.Message != "" {
				reason += ": " + verdict.Message
			}
			if len(verdict.MissingSteps) > 0 {
				reason += "; missing: " + strings.Join(verdict.MissingSteps, ", ")
			}
			return reject(reason), nil
		}
	}

	summary := paramString(t.decision.Params, "summary")
	if summary == "" {
		summary = "task completed"
	}
	return actionOutcome{
		action:         ActionTaskComplete,
		before:         t.before,
		after:          t.before,
		completed:      true,
		skipValidation: true,
		result:         schemas.ActionResult{Success: true, Message: summary},
	}, nil
}

// handleQueryDOM answers a page question from the session cache when possible
// and otherwise asks the oracle, keeping any selector found in the answer.
func (c *Controller) handleQueryDOM(ctx context.Context, s *TaskSession, t *turn) (actionOutcome, error) {
	out := actionOutcome{action: ActionQueryDOM, before: t.before, after: t.before}
	if err := checkParams(ActionQueryDOM, t.decision.Params); err != nil {
		out.result = schemas.ActionResult{Error: actionError(ErrCodeInvalidParameters, "%v", err)}
		return out, nil
	}
	query := paramString(t.decision.Params, "query")

	if rec, ok := s.LookupQuery(query, t.page.URL); ok {
		c.logger.Debug("Page question served from cache",
			zap.String("query", query), zap.Int("answered_at", rec.Iteration))
		out.cached = true
		out.result = schemas.ActionResult{
			Success: true,
			Message: "answered earlier: " + rec.Answer,
			Data:    queryData(rec, true),
		}
		return out, nil
	}

	answer, err := c.oracle.Judge(ctx, domQuestionPrompt(query, t.context.Text))
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		c.logger.Warn("Page question failed", zap.String("query", query), zap.Error(err))
		out.result = schemas.ActionResult{Error: actionError(ErrCodeQueryFailed, "%v", err)}
		return out, nil
	}
	answer = strings.TrimSpace(answer)

	rec := QueryRecord{
		Query:      query,
		Normalized: cycle.NormalizeQuery(query),
		URL:        t.page.URL,
		Answer:     answer,
		Iteration:  s.Iteration,
	}
	if sel := llmutil.ExtractSelector(answer); sel != "" {
		rec.Selector = llmutil.NormalizeSelector(sel)
	}
	s.AddQuery(rec)

	out.result = schemas.ActionResult{
		Success: true,
		Message: answer,
		Data:    queryData(rec, false),
	}
	return out, nil
}

func queryData(rec QueryRecord, cached bool) map[string]interface{} {
	data := map[string]interface{}{
		"answer": rec.Answer,
		"cached": cached,
	}
	if rec.Selector != "" {
		data["selector"] = rec.Selector
	}
	return data
}

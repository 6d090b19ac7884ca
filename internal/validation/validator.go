// Package validation judges whether executed actions achieved their intended
// effect and advises on recovery after failures.
package validation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
)

// Tier identifies which validation level produced a verdict.
type Tier int

const (
	TierHeuristic Tier = 1
	TierOracle    Tier = 2
)

// Input describes one executed action and the page state around it.
type Input struct {
	Action string
	Params map[string]interface{}
	Result schemas.ActionResult
	Before schemas.PageStateSnapshot
	After  schemas.PageStateSnapshot
	Task   string
}

// PageChanged reports whether the before and after snapshots differ.
func (in Input) PageChanged() bool { return in.Before != in.After }

// NewModal reports whether the action opened a modal.
func (in Input) NewModal() bool { return in.After.ModalCount > in.Before.ModalCount }

// NewForm reports whether the action revealed a form.
func (in Input) NewForm() bool { return in.After.FormCount > in.Before.FormCount }

// Verdict is the outcome of validating one action.
type Verdict struct {
	IsValid     bool     `json:"is_valid"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
	Tier        Tier     `json:"tier"`
	Cached      bool     `json:"-"`
}

// CompletionVerdict is the deep task-completion assessment.
type CompletionVerdict struct {
	IsCompleted          bool     `json:"is_completed"`
	CompletionPercentage int      `json:"completion_percentage"`
	Message              string   `json:"message"`
	MissingSteps         []string `json:"missing_steps"`
	Suggestions          []string `json:"suggestions"`
}

// Validator runs tiered action validation.
type Validator struct {
	logger   *zap.Logger
	judge    Judge
	critical config.ValidationConfig
	cache    *boundedCache[Verdict]
}

// NewValidator creates a validator. judge may be nil; critical inconclusive
// actions are then accepted with a warning.
func NewValidator(logger *zap.Logger, judge Judge, cfg config.ValidationConfig) *Validator {
	return &Validator{
		logger:   logger.Named("action_validator"),
		judge:    judge,
		critical: cfg,
		cache:    newBoundedCache[Verdict](cfg.CacheSize),
	}
}

// Validate judges whether an action achieved its intended effect. Cheap
// heuristics answer first; only inconclusive critical actions reach the
// oracle.
func (v *Validator) Validate(ctx context.Context, in Input) Verdict {
	var failure string
	if !in.Result.Success {
		failure = in.Result.Error
	}
	key := cacheKey(in.Action, in.Params, in.Result.Success, failure, in.PageChanged(), in.NewModal(), in.NewForm())
	if cached, ok := v.cache.get(key); ok {
		cached.Cached = true
		return cached
	}

	verdict, conclusive := heuristicVerdict(in)
	if !conclusive {
		if v.critical.IsCritical(in.Action) {
			verdict = v.oracleVerdict(ctx, in)
		} else {
			verdict = Verdict{IsValid: true, Message: "no validation required for this action", Tier: TierHeuristic}
		}
	}

	v.cache.put(key, verdict)
	return verdict
}

// heuristicVerdict is the first tier. The boolean reports whether the
// heuristics were conclusive. Apart from successful text entry it only
// rejects; an action that had its expected effect is left to the oracle.
func heuristicVerdict(in Input) (Verdict, bool) {
	if !in.Result.Success {
		msg := "action failed"
		if in.Result.Error != "" {
			msg = "action failed: " + in.Result.Error
		}
		return Verdict{IsValid: false, Message: msg, Tier: TierHeuristic}, true
	}

	switch in.Action {
	case "navigate":
		if !in.PageChanged() {
			return Verdict{
				IsValid:     false,
				Message:     "navigation did not change the page",
				Suggestions: []string{"check the URL", "wait for the page to load"},
				Tier:        TierHeuristic,
			}, true
		}
	case "click_element":
		if !in.PageChanged() && !in.NewModal() && !in.NewForm() {
			return Verdict{
				IsValid:     false,
				Message:     "click had no visible effect",
				Suggestions: []string{"the element may not be interactive", "try a different element"},
				Tier:        TierHeuristic,
			}, true
		}
	case "type_text":
		return Verdict{IsValid: true, Message: "text entered", Tier: TierHeuristic}, true
	}
	return Verdict{}, false
}

// oracleVerdict is the second tier: the oracle predicts the expected outcome
// and then compares it with what actually happened.
func (v *Validator) oracleVerdict(ctx context.Context, in Input) Verdict {
	fallback := Verdict{IsValid: true, Message: "validation oracle unavailable, accepting action", Tier: TierOracle}
	if v.judge == nil {
		return fallback
	}

	expected, err := v.expectedOutcome(ctx, in)
	if err != nil {
		v.logger.Warn("Could not derive expected outcome", zap.String("action", in.Action), zap.Error(err))
		return fallback
	}

	reply, err := v.judge.Judge(ctx, matchPrompt(in, expected, describeOutcome(in)))
	if err != nil {
		v.logger.Warn("Validation oracle failed", zap.String("action", in.Action), zap.Error(err))
		return fallback
	}
	return parseVerdict(reply)
}

func (v *Validator) expectedOutcome(ctx context.Context, in Input) (string, error) {
	if in.Action == "type_text" {
		return fmt.Sprintf("the text %q appears in the target field", paramString(in.Params, "text")), nil
	}
	params, _ := canonicalJSON.MarshalToString(in.Params)
	prompt := fmt.Sprintf(`Task: %s
Action: %s
Parameters: %s

In one sentence, what should be observable on the page after this action succeeds?`,
		in.Task, in.Action, params)
	reply, err := v.judge.Judge(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func matchPrompt(in Input, expected, actual string) string {
	return fmt.Sprintf(`Action: %s
Expected outcome: %s
Actual outcome: %s

Did the action achieve its expected outcome? Reply with JSON only:
{"is_valid": true|false, "message": "short explanation", "suggestions": ["..."]}`,
		in.Action, expected, actual)
}

// describeOutcome renders the observed diff in plain words.
func describeOutcome(in Input) string {
	var parts []string
	if in.Result.Message != "" {
		parts = append(parts, in.Result.Message)
	}
	if in.Before.URL != in.After.URL {
		parts = append(parts, fmt.Sprintf("URL changed from %s to %s", in.Before.URL, in.After.URL))
	}
	if in.NewModal() {
		parts = append(parts, "a modal opened")
	}
	if in.NewForm() {
		parts = append(parts, "a form appeared")
	}
	if in.Before.InteractiveCount != in.After.InteractiveCount {
		parts = append(parts, fmt.Sprintf("interactive elements %d -> %d", in.Before.InteractiveCount, in.After.InteractiveCount))
	}
	if len(parts) == 0 {
		return "no visible change"
	}
	return strings.Join(parts, "; ")
}

func parseVerdict(reply string) Verdict {
	obj, _, err := llmutil.DecodeObject(reply)
	if err == nil {
		if valid, ok := obj["is_valid"].(bool); ok {
			return Verdict{
				IsValid:     valid,
				Message:     stringField(obj, "message"),
				Suggestions: stringList(obj["suggestions"]),
				Tier:        TierOracle,
			}
		}
	}

	// Not JSON: fall back to reading the answer's tone.
	lower := strings.ToLower(reply)
	negative := false
	for _, w := range []string{"invalid", "not valid", "false", "failed", "did not", "didn't"} {
		if strings.Contains(lower, w) {
			negative = true
			break
		}
	}
	return Verdict{IsValid: !negative, Message: truncate(strings.TrimSpace(reply), 200), Tier: TierOracle}
}

// CheckCompletion asks the oracle whether the task is done. An oracle error
// yields a not-completed verdict.
func (v *Validator) CheckCompletion(ctx context.Context, task, pageSummary string, history []string) CompletionVerdict {
	if v.judge == nil {
		return CompletionVerdict{Message: "completion check unavailable"}
	}
	prompt := fmt.Sprintf(`Task: %s

Current page:
%s

Actions so far:
%s

Is the task fully completed? Reply with JSON only:
{"is_completed": true|false, "completion_percentage": 0-100, "message": "...", "missing_steps": ["..."], "suggestions": ["..."]}`,
		task, truncate(pageSummary, 2000), strings.Join(history, "\n"))

	reply, err := v.judge.Judge(ctx, prompt)
	if err != nil {
		v.logger.Warn("Completion check failed", zap.Error(err))
		return CompletionVerdict{Message: "completion check failed: " + err.Error()}
	}
	obj, _, err := llmutil.DecodeObject(reply)
	if err != nil {
		return CompletionVerdict{Message: "completion check returned no structure"}
	}

	out := CompletionVerdict{
		Message:      stringField(obj, "message"),
		MissingSteps: stringList(obj["missing_steps"]),
		Suggestions:  stringList(obj["suggestions"]),
	}
	out.IsCompleted, _ = obj["is_completed"].(bool)
	if pct, ok := obj["completion_percentage"].(float64); ok {
		out.CompletionPercentage = clampPercent(int(pct))
	} else if out.IsCompleted {
		out.CompletionPercentage = 100
	}
	return out
}

// Reset clears cached verdicts between sessions.
func (v *Validator) Reset() { v.cache.purge() }

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func paramString(params map[string]interface{}, key string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}

func stringField(obj map[string]interface{}, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

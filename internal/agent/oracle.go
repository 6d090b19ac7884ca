package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
)

// LLMOracle implements DecisionOracle on top of an LLM client. Decisions go
// to the powerful tier, judgments to the fast tier.
type LLMOracle struct {
	logger *zap.Logger
	client schemas.LLMClient
}

var _ DecisionOracle = (*LLMOracle)(nil)

// NewLLMOracle creates an oracle backed by client.
func NewLLMOracle(logger *zap.Logger, client schemas.LLMClient) *LLMOracle {
	return &LLMOracle{
		logger: logger.Named("llm_oracle"),
		client: client,
	}
}

// decisionPayload is the JSON shape the model is asked to produce.
type decisionPayload struct {
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
	Thought    string                 `json:"thought"`
	Progress   map[string]int         `json:"progress"`
}

// Decide asks the model for the next action.
func (o *LLMOracle) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	raw, err := o.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   decisionUserPrompt(req.Context),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate decision: %w", err)
	}

	d, err := ParseDecision(raw)
	if err != nil {
		o.logger.Warn("Unusable decision from model", zap.Error(err), zap.String("raw", truncate(raw, 300)))
		return nil, err
	}
	return d, nil
}

// Judge answers a free-form prompt on the fast tier.
func (o *LLMOracle) Judge(ctx context.Context, prompt string) (string, error) {
	reply, err := o.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: prompt,
		Tier:       schemas.TierFast,
		Options:    schemas.GenerationOptions{Temperature: 0.1},
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate judgment: %w", err)
	}
	return reply, nil
}

// ParseDecision turns raw model output into a Decision. Strict JSON is tried
// first, then structural repair and key/value scraping. Replies that name no
// action, or an action outside the catalog, are errors.
func ParseDecision(raw string) (*Decision, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrOracleFailure)
	}

	var p decisionPayload
	repaired := false
	if parsed, err := llmutil.ParseJSONResponse[decisionPayload](raw); err == nil && parsed.Action != "" {
		p = *parsed
	} else {
		obj, rep, derr := llmutil.DecodeObject(raw)
		if derr != nil {
			return nil, fmt.Errorf("%w: reply has no action: %v", ErrOracleFailure, derr)
		}
		p = payloadFromObject(obj)
		repaired = rep
	}

	name := ActionName(strings.TrimSpace(strings.ToLower(p.Action)))
	if name == "" {
		return nil, fmt.Errorf("%w: reply has no action", ErrOracleFailure)
	}
	if !IsKnownAction(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDecision, p.Action)
	}
	if p.Parameters == nil {
		p.Parameters = map[string]interface{}{}
	}
	return &Decision{
		Action:   name,
		Params:   p.Parameters,
		Thought:  p.Thought,
		Progress: p.Progress,
		Repaired: repaired,
	}, nil
}

// payloadFromObject reads a loosely shaped object. Top-level fields other
// than the reserved ones become parameters when no parameter object exists.
func payloadFromObject(obj map[string]interface{}) decisionPayload {
	var p decisionPayload
	for _, key := range []string{"action", "name", "tool"} {
		if s, ok := obj[key].(string); ok && s != "" {
			p.Action = s
			break
		}
	}
	p.Thought, _ = obj["thought"].(string)

	for _, key := range []string{"parameters", "params"} {
		if m, ok := obj[key].(map[string]interface{}); ok {
			p.Parameters = m
			break
		}
	}
	if p.Parameters == nil {
		p.Parameters = map[string]interface{}{}
		for k, v := range obj {
			switch k {
			case "action", "name", "tool", "thought", "progress", "parameters", "params":
				continue
			}
			p.Parameters[k] = v
		}
	}

	if m, ok := obj["progress"].(map[string]interface{}); ok {
		p.Progress = make(map[string]int, len(m))
		for k, v := range m {
			if f, ok := v.(float64); ok && f > 0 {
				p.Progress[k] = int(f)
			}
		}
	}
	return p
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

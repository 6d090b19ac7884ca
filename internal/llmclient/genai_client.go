package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// contentGenerator is the slice of the genai SDK this client uses; *genai.Models satisfies it.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIClient implements schemas.LLMClient on top of the official Go SDK.
type GenAIClient struct {
	models contentGenerator
	logger *zap.Logger
	config config.LLMModelConfig
}

var _ schemas.LLMClient = (*GenAIClient)(nil)

// NewGenAIClient creates an SDK-backed client for the Gemini API backend.
func NewGenAIClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required for model %q", cfg.Model)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIClient{
		models: client.Models,
		logger: logger.Named("llm_client.genai"),
		config: cfg,
	}, nil
}

// Generate runs a single-turn generation.
func (c *GenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if c.config.APITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.APITimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.config.Model, genai.Text(req.UserPrompt), c.buildConfig(req))
	if err != nil {
		return "", fmt.Errorf("genai generate (%s): %w", c.config.Model, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("genai returned no candidates")
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("genai returned empty content (Reason: %s)", resp.Candidates[0].FinishReason)
	}

	fields := []zap.Field{zap.String("model", c.config.Model), zap.Duration("duration", time.Since(start))}
	if u := resp.UsageMetadata; u != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("completion_tokens", u.CandidatesTokenCount),
			zap.Int32("total_tokens", u.TotalTokenCount))
	}
	c.logger.Info("LLM generation complete (genai)", fields...)
	return text, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (c *GenAIClient) Close() error { return nil }

func (c *GenAIClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](float32(req.Options.Temperature)),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}

	topP := req.Options.TopP
	if topP <= 0 {
		topP = float64(c.config.TopP)
	}
	if topP > 0 {
		gc.TopP = genai.Ptr[float32](float32(topP))
	}
	topK := req.Options.TopK
	if topK <= 0 {
		topK = c.config.TopK
	}
	if topK > 0 {
		gc.TopK = genai.Ptr[float32](float32(topK))
	}
	maxTokens := req.Options.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}
	return gc
}

package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	gotModel  string
	gotConfig *genai.GenerateContentConfig
	resp      *genai.GenerateContentResponse
	err       error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	f.gotConfig = cfg
	return f.resp, f.err
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: s}}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 3, TotalTokenCount: 13},
	}
}

func TestGenAIClient_Generate(t *testing.T) {
	fake := &fakeGenerator{resp: textResponse(`{"action":"scroll"}`)}
	c := &GenAIClient{models: fake, logger: setupTestLogger(t), config: getValidLLMConfig()}

	req := createTestRequest()
	req.Options.ForceJSONFormat = true
	got, err := c.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `{"action":"scroll"}`, got)

	assert.Equal(t, "test-model", fake.gotModel)
	require.NotNil(t, fake.gotConfig)
	assert.Equal(t, "application/json", fake.gotConfig.ResponseMIMEType)
	require.NotNil(t, fake.gotConfig.SystemInstruction)
	assert.Equal(t, "System prompt instructions.", fake.gotConfig.SystemInstruction.Parts[0].Text)
	require.NotNil(t, fake.gotConfig.TopK)
	assert.Equal(t, float32(50), *fake.gotConfig.TopK)
}

func TestGenAIClient_Errors(t *testing.T) {
	c := &GenAIClient{models: &fakeGenerator{err: errors.New("quota")}, logger: setupTestLogger(t), config: getValidLLMConfig()}
	_, err := c.Generate(context.Background(), createTestRequest())
	assert.ErrorContains(t, err, "quota")

	c.models = &fakeGenerator{resp: &genai.GenerateContentResponse{}}
	_, err = c.Generate(context.Background(), createTestRequest())
	assert.ErrorContains(t, err, "no candidates")
}

func TestNewGenAIClient_RequiresKey(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.APIKey = ""
	_, err := NewGenAIClient(context.Background(), cfg, setupTestLogger(t))
	assert.ErrorContains(t, err, "API key is required")
}

package llmclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/webpilot/internal/config"
)

// setupGeminiClient points a GeminiClient at a mock HTTP server.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *httptest.Server, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)
	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(cfg, zap.New(loggerCore))
	require.NoError(t, err)
	client.httpClient.Timeout = 5 * time.Second
	client.backoffFactory = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 5 * time.Millisecond
		b.MaxElapsedTime = 2 * time.Second
		return b
	}

	t.Cleanup(server.Close)
	return client, server, observedLogs
}

func writeCandidate(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(GeminiResponsePayload{
		Candidates:    []GeminiCandidate{{Content: GeminiContent{Parts: []GeminiPart{{Text: text}}}, FinishReason: "STOP"}},
		UsageMetadata: GeminiUsage{PromptTokenCount: 100, CandidatesTokenCount: 50, TotalTokenCount: 150},
	})
}

func TestNewGeminiClient(t *testing.T) {
	cfg := getValidLLMConfig()
	client, err := NewGeminiClient(cfg, setupTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model), client.endpoint)
	assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)

	cfg.APIKey = ""
	_, err = NewGeminiClient(cfg, setupTestLogger(t))
	assert.ErrorContains(t, err, "API key is required")
}

func TestBuildRequestPayload(t *testing.T) {
	client, _, _ := setupGeminiClient(t, nil)
	client.config.MaxTokens = 2048
	client.config.SafetyFilters = map[string]string{"CAT_B": "BLOCK_HIGH", "CAT_A": "BLOCK_LOW"}

	req := createTestRequest()
	req.Options.Temperature = 0.2
	req.Options.ForceJSONFormat = true
	req.Options.MaxOutputTokens = 512

	payload := client.buildRequestPayload(req)

	require.NotNil(t, payload.SystemInstruction)
	assert.Equal(t, req.SystemPrompt, payload.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "user", payload.Contents[0].Role)
	assert.Equal(t, req.UserPrompt, payload.Contents[0].Parts[0].Text)
	assert.Equal(t, 0.2, payload.GenerationConfig.Temperature)
	assert.InDelta(t, 0.9, payload.GenerationConfig.TopP, 1e-6)
	assert.Equal(t, 50, payload.GenerationConfig.TopK)
	assert.Equal(t, 512, payload.GenerationConfig.MaxOutputTokens, "request option overrides model default")
	assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)
	assert.Equal(t, []GeminiSafetySetting{{"CAT_A", "BLOCK_LOW"}, {"CAT_B", "BLOCK_HIGH"}}, payload.SafetySettings)

	req.SystemPrompt = ""
	assert.Nil(t, client.buildRequestPayload(req).SystemInstruction)
}

func TestGenerate_Success(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		var payload GeminiRequestPayload
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "User query.", payload.Contents[0].Parts[0].Text)
		writeCandidate(w, "generated")
	}
	client, _, logs := setupGeminiClient(t, handler)

	got, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "generated", got)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "LLM generation complete (Gemini)", entry.Message)
	assert.Equal(t, int64(100), entry.ContextMap()["prompt_tokens"])
}

func TestGenerate_RetryOnTransientErrors(t *testing.T) {
	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeCandidate(w, "after retry")
	}
	client, _, logs := setupGeminiClient(t, handler)

	got, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "after retry", got)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, 2, logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestGenerate_NoRetryOnPermanentErrors(t *testing.T) {
	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("API Key Invalid"))
	}
	client, _, _ := setupGeminiClient(t, handler)

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestGenerate_SafetyBlockIsPermanent(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(GeminiResponsePayload{
			Candidates: []GeminiCandidate{{FinishReason: "SAFETY"}},
		})
	}
	client, _, _ := setupGeminiClient(t, handler)

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestGenerate_RetryOnNetworkError(t *testing.T) {
	client, server, logs := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached despite server being closed")
	})
	client.backoffFactory = func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := client.Generate(ctx, createTestRequest())
	require.Error(t, err)

	var permanent *backoff.PermanentError
	assert.False(t, errors.As(err, &permanent))
	assert.Greater(t, logs.FilterLevelExact(zap.WarnLevel).Len(), 1)
}

func TestGeminiClient_ClosePassesThrough(t *testing.T) {
	client, err := NewGeminiClient(config.LLMModelConfig{APIKey: "k", Model: "m"}, setupTestLogger(t))
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}

package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// RateLimitedClient throttles calls to an underlying client with a token bucket.
type RateLimitedClient struct {
	next    schemas.LLMClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ schemas.LLMClient = (*RateLimitedClient)(nil)

// NewRateLimitedClient wraps next. A non-positive rps disables throttling.
func NewRateLimitedClient(next schemas.LLMClient, rps float64, burst int, logger *zap.Logger) *RateLimitedClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedClient{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("llm_ratelimit"),
	}
}

// Generate waits for a token, then delegates.
func (c *RateLimitedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Debug("Rate limiter wait aborted", zap.Error(err))
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}
	return c.next.Generate(ctx, req)
}

// Close closes the wrapped client.
func (c *RateLimitedClient) Close() error { return c.next.Close() }

package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/validation"
)

func TestExecute_UnknownAction(t *testing.T) {
	s := &Session{logger: zaptest.NewLogger(t)}
	s.handlers = s.buildHandlers()

	res, err := s.Execute(context.Background(), "teleport", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unsupported action: teleport")
}

func TestBuildHandlers_CoversBrowserActions(t *testing.T) {
	s := &Session{}
	handlers := s.buildHandlers()
	for _, name := range []string{
		"navigate", "click_element", "type_text", "scroll", "wait_for_element",
		"extract_text", "search_on_page", "reload_page", "take_screenshot",
	} {
		assert.Contains(t, handlers, name)
	}
	assert.NotContains(t, handlers, "query_dom", "page questions are answered by the agent")
	assert.NotContains(t, handlers, "task_complete")
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t,
		"click_element failed: element not found or not visible within the time limit",
		describeError("click_element", fmt.Errorf("wait: %w", context.DeadlineExceeded)))
	assert.Equal(t,
		"navigate failed: navigation timeout exceeded",
		describeError("navigate", context.DeadlineExceeded))
	assert.Contains(t, describeError("type_text", errors.New("could not find node with given id")), "element not found")
	assert.Equal(t, "scroll failed: boom", describeError("scroll", errors.New("boom")))
}

func TestDescribeError_RecoveryStrategy(t *testing.T) {
	tests := []struct {
		action string
		want   validation.Strategy
	}{
		{"navigate", validation.StrategyWait},
		{"reload_page", validation.StrategyWait},
		{"wait_for_element", validation.StrategyWait},
		{"take_screenshot", validation.StrategyWait},
		{"search_on_page", validation.StrategyWait},
		{"click_element", validation.StrategyScroll},
		{"extract_text", validation.StrategyScroll},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			msg := describeError(tt.action, fmt.Errorf("run: %w", context.DeadlineExceeded))
			advice, ok := validation.MatchRule(msg, tt.action)
			require.True(t, ok, msg)
			assert.Equal(t, tt.want, advice.Strategy, msg)
		})
	}
}

func TestSearchResult(t *testing.T) {
	hits, err := decodeHits(`[{"selector":"#price","text":"42 EUR"},{"selector":"td:nth-of-type(3)","text":"42 EUR incl. tax"}]`)
	require.NoError(t, err)

	res := searchResult("42 EUR", hits)
	assert.True(t, res.Success)
	assert.Equal(t, "#price", res.String("selector"))
	assert.Equal(t, 2, res.Data["matches"])
	assert.Equal(t, []string{"#price", "td:nth-of-type(3)"}, res.Data["selectors"])

	miss := searchResult("refund", nil)
	assert.False(t, miss.Success)
	assert.Contains(t, miss.Error, `"refund" not found`)
}

func TestNormalizeTarget(t *testing.T) {
	cases := map[string]string{
		"example.com":           "https://example.com",
		" http://a.example/x ":  "http://a.example/x",
		"about:blank":           "about:blank",
		"data:text/html,<p>":    "data:text/html,<p>",
		"https://b.example?q=1": "https://b.example?q=1",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeTarget(in), in)
	}
}

func TestParams(t *testing.T) {
	params := map[string]interface{}{
		"selector":   "  #q ",
		"count":      float64(3),
		"submit":     "true",
		"timeout_ms": "1500",
		"flag":       true,
	}
	assert.Equal(t, "#q", stringParam(params, "selector"))
	assert.Equal(t, "3", stringParam(params, "count"))
	assert.Equal(t, "", stringParam(params, "missing"))
	assert.True(t, boolParam(params, "submit"))
	assert.True(t, boolParam(params, "flag"))
	assert.False(t, boolParam(params, "missing"))
	assert.Equal(t, 1500, intParam(params, "timeout_ms"))
	assert.Equal(t, 3, intParam(params, "count"))
	assert.Equal(t, 0, intParam(params, "selector"))
}

func TestExecOptions(t *testing.T) {
	base := len(ExecOptions(config.BrowserConfig{}))

	opts := ExecOptions(config.BrowserConfig{
		Headless:    true,
		UserDataDir: "/tmp/profile",
		Viewport:    map[string]int{"width": 1280, "height": 800},
		Args:        []string{"--lang=en-US", "mute-audio", "--"},
	})
	// The bare "--" is skipped.
	assert.Len(t, opts, base+5)
}

package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

func setupValidator(t *testing.T) (*Validator, *MockJudge) {
	t.Helper()
	judge := new(MockJudge)
	cfg := config.ValidationConfig{
		CriticalActions: []string{"navigate", "click_element", "type_text", "search_on_page"},
		CacheSize:       100,
	}
	return NewValidator(zaptest.NewLogger(t), judge, cfg), judge
}

var (
	home   = schemas.PageStateSnapshot{URL: "https://a.test", InteractiveCount: 10}
	moved  = schemas.PageStateSnapshot{URL: "https://a.test/next", InteractiveCount: 12}
	modal  = schemas.PageStateSnapshot{URL: "https://a.test", InteractiveCount: 14, ModalCount: 1}
	withFm = schemas.PageStateSnapshot{URL: "https://a.test", InteractiveCount: 13, FormCount: 1}
)

func TestValidate_Heuristics(t *testing.T) {
	tests := []struct {
		name  string
		in    Input
		valid bool
	}{
		{"failure is invalid", Input{Action: "scroll", Result: schemas.ActionResult{Error: "boom"}, Before: home, After: home}, false},
		{"navigate unchanged", Input{Action: "navigate", Params: map[string]interface{}{"url": "https://a.test"}, Result: schemas.ActionResult{Success: true}, Before: home, After: home}, false},
		{"click no effect", Input{Action: "click_element", Params: map[string]interface{}{"selector": "#dead"}, Result: schemas.ActionResult{Success: true}, Before: home, After: home}, false},
		{"non-critical inconclusive", Input{Action: "scroll", Result: schemas.ActionResult{Success: true}, Before: home, After: home}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, judge := setupValidator(t)
			got := v.Validate(context.Background(), tt.in)
			assert.Equal(t, tt.valid, got.IsValid)
			assert.Equal(t, TierHeuristic, got.Tier)
			judge.AssertNotCalled(t, "Judge", mock.Anything, mock.Anything)
		})
	}
}

func TestValidate_DefaultCriticalSetReachesOracle(t *testing.T) {
	cfg := config.NewDefaultConfig().AgentCfg.Validation
	require.ElementsMatch(t, []string{"navigate", "click_element", "type_text"}, cfg.CriticalActions)

	tests := []struct {
		name   string
		in     Input
		actual string
	}{
		{"navigate changed", Input{Action: "navigate", Params: map[string]interface{}{"url": "https://a.test/next"}, Result: schemas.ActionResult{Success: true}, Before: home, After: moved}, "URL changed"},
		{"click opens modal", Input{Action: "click_element", Params: map[string]interface{}{"selector": "#open"}, Result: schemas.ActionResult{Success: true}, Before: home, After: modal}, "a modal opened"},
		{"click reveals form", Input{Action: "click_element", Params: map[string]interface{}{"selector": "#reply"}, Result: schemas.ActionResult{Success: true}, Before: home, After: withFm}, "a form appeared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judge := new(MockJudge)
			v := NewValidator(zaptest.NewLogger(t), judge, cfg)
			judge.On("Judge", mock.Anything, mock.MatchedBy(func(p string) bool { return !strings.Contains(p, "Expected outcome") })).
				Return("The next page is shown.", nil).Once()
			judge.On("Judge", mock.Anything, mock.MatchedBy(func(p string) bool {
				return strings.Contains(p, "Expected outcome") && strings.Contains(p, tt.actual)
			})).Return(`{"is_valid": false, "message": "wrong page"}`, nil).Once()

			got := v.Validate(context.Background(), tt.in)
			assert.False(t, got.IsValid)
			assert.Equal(t, TierOracle, got.Tier)
			assert.Equal(t, "wrong page", got.Message)
			judge.AssertExpectations(t)
		})
	}

	t.Run("type_text stays first tier", func(t *testing.T) {
		judge := new(MockJudge)
		v := NewValidator(zaptest.NewLogger(t), judge, cfg)
		got := v.Validate(context.Background(), Input{Action: "type_text", Params: map[string]interface{}{"selector": "#q", "text": "x"}, Result: schemas.ActionResult{Success: true}, Before: home, After: moved})
		assert.True(t, got.IsValid)
		assert.Equal(t, TierHeuristic, got.Tier)
		judge.AssertNotCalled(t, "Judge", mock.Anything, mock.Anything)
	})
}

func TestValidate_NonCriticalEffectAccepted(t *testing.T) {
	judge := new(MockJudge)
	v := NewValidator(zaptest.NewLogger(t), judge, config.ValidationConfig{CriticalActions: []string{"type_text"}})
	got := v.Validate(context.Background(), Input{Action: "click_element", Params: map[string]interface{}{"selector": "#open"}, Result: schemas.ActionResult{Success: true}, Before: home, After: modal})
	assert.True(t, got.IsValid)
	assert.Equal(t, TierHeuristic, got.Tier)
	judge.AssertNotCalled(t, "Judge", mock.Anything, mock.Anything)
}

func TestValidate_FailuresCachedPerError(t *testing.T) {
	v, _ := setupValidator(t)
	in := Input{Action: "click_element", Params: map[string]interface{}{"selector": "#buy"}, Result: schemas.ActionResult{Error: "element not found"}, Before: home, After: home}
	first := v.Validate(context.Background(), in)
	assert.Equal(t, "action failed: element not found", first.Message)

	in.Result.Error = "click timeout"
	second := v.Validate(context.Background(), in)
	assert.False(t, second.Cached)
	assert.Equal(t, "action failed: click timeout", second.Message)

	in.Result.Error = "element not found"
	assert.True(t, v.Validate(context.Background(), in).Cached)
}

func TestValidate_TypeTextNeverConsultsOracle(t *testing.T) {
	v, judge := setupValidator(t)
	in := Input{
		Action: "type_text",
		Params: map[string]interface{}{"selector": "#q", "text": "laptops"},
		Result: schemas.ActionResult{Success: true},
		Before: home,
		After:  home,
	}
	got := v.Validate(context.Background(), in)
	assert.True(t, got.IsValid)
	judge.AssertNotCalled(t, "Judge", mock.Anything, mock.Anything)
}

func TestValidate_OracleTierForCriticalInconclusive(t *testing.T) {
	v, judge := setupValidator(t)
	in := Input{
		Action: "search_on_page",
		Params: map[string]interface{}{"query": "laptops"},
		Result: schemas.ActionResult{Success: true},
		Before: home,
		After:  moved,
		Task:   "find a laptop",
	}
	judge.On("Judge", mock.Anything, mock.MatchedBy(func(p string) bool { return !strings.Contains(p, "Expected outcome") })).
		Return("Search results for laptops are shown.", nil).Once()
	judge.On("Judge", mock.Anything, mock.MatchedBy(func(p string) bool { return strings.Contains(p, "Expected outcome") })).
		Return(`{"is_valid": true, "message": "results shown", "suggestions": []}`, nil).Once()

	got := v.Validate(context.Background(), in)
	assert.True(t, got.IsValid)
	assert.Equal(t, TierOracle, got.Tier)
	assert.Equal(t, "results shown", got.Message)

	// Second call is served from the cache.
	again := v.Validate(context.Background(), in)
	assert.True(t, again.Cached)
	judge.AssertNumberOfCalls(t, "Judge", 2)
}

func TestValidate_OracleFallbacks(t *testing.T) {
	in := Input{Action: "search_on_page", Params: map[string]interface{}{"query": "x"}, Result: schemas.ActionResult{Success: true}, Before: home, After: home}

	t.Run("oracle error accepts with warning", func(t *testing.T) {
		v, judge := setupValidator(t)
		judge.On("Judge", mock.Anything, mock.Anything).Return("", errors.New("quota"))
		got := v.Validate(context.Background(), in)
		assert.True(t, got.IsValid)
		assert.Contains(t, got.Message, "unavailable")
	})

	t.Run("malformed reply uses keyword scan", func(t *testing.T) {
		v, judge := setupValidator(t)
		judge.On("Judge", mock.Anything, mock.Anything).Return("The action failed to show results", nil)
		got := v.Validate(context.Background(), in)
		assert.False(t, got.IsValid)
	})
}

func TestValidator_Reset(t *testing.T) {
	v, _ := setupValidator(t)
	v.Validate(context.Background(), Input{Action: "scroll", Result: schemas.ActionResult{Success: true}})
	require.Equal(t, 1, v.cache.len())
	v.Reset()
	assert.Equal(t, 0, v.cache.len())
}

func TestCheckCompletion(t *testing.T) {
	t.Run("parsed", func(t *testing.T) {
		v, judge := setupValidator(t)
		judge.On("Judge", mock.Anything, mock.Anything).Return(
			`{"is_completed": false, "completion_percentage": 60, "message": "two left", "missing_steps": ["apply to job 2", "apply to job 3"]}`, nil)
		got := v.CheckCompletion(context.Background(), "apply to 3 jobs", "page", []string{"#1 click"})
		assert.False(t, got.IsCompleted)
		assert.Equal(t, 60, got.CompletionPercentage)
		assert.Equal(t, []string{"apply to job 2", "apply to job 3"}, got.MissingSteps)
	})

	t.Run("oracle error is not completed", func(t *testing.T) {
		v, judge := setupValidator(t)
		judge.On("Judge", mock.Anything, mock.Anything).Return("", errors.New("down"))
		got := v.CheckCompletion(context.Background(), "task", "page", nil)
		assert.False(t, got.IsCompleted)
		assert.Contains(t, got.Message, "down")
	})
}

func TestBoundedCache_EvictsOldestInsertion(t *testing.T) {
	c := newBoundedCache[int](2)
	c.put("a", 1)
	c.put("b", 2)
	_, _ = c.get("a") // a read must not refresh a
	c.put("c", 3)

	_, ok := c.get("a")
	assert.False(t, ok)
	got, ok := c.get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, got)
}

package validation

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
)

// Strategy is the recovery vocabulary shared with the decision prompt.
type Strategy string

const (
	StrategyScroll                 Strategy = "scroll"
	StrategyScrollToElement        Strategy = "scroll_to_element"
	StrategyWait                   Strategy = "wait"
	StrategyCloseOverlays          Strategy = "close_overlays"
	StrategyAlternative            Strategy = "alternative"
	StrategyAlternativeDescription Strategy = "alternative_description"
	StrategyUseSearch              Strategy = "use_search"
)

// Source records where a piece of advice came from.
type Source string

const (
	SourceRule    Source = "rule"
	SourceCache   Source = "cache"
	SourceOracle  Source = "oracle"
	SourceDefault Source = "default"
)

// MaxRetries is advisory: how often a failed action is worth retrying with
// the suggested strategy before the decision should change course.
const MaxRetries = 3

const maxErrorKeyRunes = 200

// Advice is a recovery suggestion for a failed action.
type Advice struct {
	Suggestion string   `json:"suggestion"`
	Strategy   Strategy `json:"strategy"`
	Source     Source   `json:"source"`
}

type errorRule struct {
	patterns   []string
	strategy   Strategy
	suggestion string
	// override applies for specific actions.
	override map[string]ruleOverride
}

type ruleOverride struct {
	strategy   Strategy
	suggestion string
}

// errorRules is evaluated top to bottom; the first rule with a matching
// pattern wins.
var errorRules = []errorRule{
	{
		patterns:   []string{"not found", "no such element"},
		strategy:   StrategyScroll,
		suggestion: "The element is not in the page yet. Scroll to reveal more content, then look for it again.",
		override: map[string]ruleOverride{
			"type_text": {StrategyAlternative, "The input field was not found. Look for a different field that accepts this text."},
		},
	},
	{
		patterns:   []string{"timeout", "timed out", "exceeded"},
		strategy:   StrategyWait,
		suggestion: "The page did not respond in time. Wait for it to finish loading and retry.",
	},
	{
		patterns:   []string{"not visible", "hidden"},
		strategy:   StrategyScrollToElement,
		suggestion: "The element exists but is not visible. Scroll it into view before interacting.",
	},
	{
		patterns:   []string{"disabled"},
		strategy:   StrategyWait,
		suggestion: "The element is disabled. Complete the required fields or wait until it becomes enabled.",
	},
	{
		patterns:   []string{"intercept", "obscured", "not clickable", "overlay"},
		strategy:   StrategyCloseOverlays,
		suggestion: "Another element covers the target. Close the popup, banner or modal first.",
	},
	{
		patterns:   []string{"invalid selector", "malformed", "syntax error"},
		strategy:   StrategyAlternativeDescription,
		suggestion: "The selector is invalid. Describe the element differently or pick a selector from the element list.",
	},
	{
		patterns:   []string{"page not loaded", "navigation"},
		strategy:   StrategyWait,
		suggestion: "The page is still loading or navigating. Wait before the next action.",
	},
	{
		patterns:   []string{"out of viewport", "outside of the viewport"},
		strategy:   StrategyScrollToElement,
		suggestion: "The element is outside the viewport. Scroll to it first.",
	},
	{
		patterns:   []string{"net::", "err_", "network", "connection"},
		strategy:   StrategyWait,
		suggestion: "A network error occurred. Wait and retry, or reload the page.",
	},
	{
		patterns:   []string{"detached", "stale"},
		strategy:   StrategyAlternative,
		suggestion: "The element was replaced while acting on it. Look it up again on the current page.",
	},
	{
		patterns:   []string{"javascript", "evaluation failed"},
		strategy:   StrategyAlternative,
		suggestion: "A script on the page failed. Try another way to reach the same goal.",
	},
	{
		patterns:   []string{"iframe", "frame"},
		strategy:   StrategyAlternative,
		suggestion: "The element lives inside a frame. Try an element outside the frame or another route.",
	},
	{
		patterns:   []string{"401", "403", "forbidden", "unauthorized"},
		strategy:   StrategyAlternative,
		suggestion: "Access was denied. Check whether a login is required or choose another page.",
	},
	{
		patterns:   []string{"search"},
		strategy:   StrategyUseSearch,
		suggestion: "Use the site's search box to find what you need instead of browsing for it.",
	},
}

const defaultSuggestion = "The cause is unclear. Wait briefly, then re-examine the page before retrying."

// ErrorClassifier turns a failure description into recovery advice.
type ErrorClassifier struct {
	logger *zap.Logger
	judge  Judge
	cache  *boundedCache[Advice]
}

// NewErrorClassifier creates a classifier. judge may be nil, in which case
// unmatched errors fall straight to the default advice.
func NewErrorClassifier(logger *zap.Logger, judge Judge, cfg config.ErrorsConfig) *ErrorClassifier {
	size := cfg.CacheSize
	if size <= 0 {
		size = 200
	}
	return &ErrorClassifier{
		logger: logger.Named("error_classifier"),
		judge:  judge,
		cache:  newBoundedCache[Advice](size),
	}
}

// Classify maps an error to advice: rule table, then cache, then oracle,
// then a default wait.
func (c *ErrorClassifier) Classify(ctx context.Context, errorText, action, pageContext string) Advice {
	if advice, ok := MatchRule(errorText, action); ok {
		return advice
	}

	key := cacheKey(stripDigits(truncate(errorText, maxErrorKeyRunes)), action, contextShape(pageContext))
	if advice, ok := c.cache.get(key); ok {
		advice.Source = SourceCache
		return advice
	}

	if c.judge == nil {
		return defaultAdvice()
	}

	reply, err := c.judge.Judge(ctx, errorAnalysisPrompt(errorText, action, pageContext))
	if err != nil {
		c.logger.Warn("Error analysis failed, using default advice",
			zap.String("action", action), zap.Error(err))
		return defaultAdvice()
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return defaultAdvice()
	}

	advice := Advice{
		Suggestion: truncate(reply, 300),
		Strategy:   ParseStrategy(reply),
		Source:     SourceOracle,
	}
	c.cache.put(key, advice)
	c.logger.Debug("Classified error via oracle",
		zap.String("action", action), zap.String("strategy", string(advice.Strategy)))
	return advice
}

// Reset drops cached advice between sessions.
func (c *ErrorClassifier) Reset() { c.cache.purge() }

// MatchRule applies the ordered rule table. It is pure.
func MatchRule(errorText, action string) (Advice, bool) {
	lower := strings.ToLower(errorText)
	if strings.TrimSpace(lower) == "" {
		return Advice{}, false
	}
	for _, rule := range errorRules {
		for _, p := range rule.patterns {
			if !strings.Contains(lower, p) {
				continue
			}
			if o, ok := rule.override[action]; ok {
				return Advice{Suggestion: o.suggestion, Strategy: o.strategy, Source: SourceRule}, true
			}
			return Advice{Suggestion: rule.suggestion, Strategy: rule.strategy, Source: SourceRule}, true
		}
	}
	return Advice{}, false
}

// ParseStrategy maps free-form advice back onto the strategy vocabulary.
func ParseStrategy(text string) Strategy {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "search"):
		return StrategyUseSearch
	case strings.Contains(lower, "scroll"):
		if strings.Contains(lower, "element") || strings.Contains(lower, "into view") {
			return StrategyScrollToElement
		}
		return StrategyScroll
	case strings.Contains(lower, "alternative"):
		if strings.Contains(lower, "description") {
			return StrategyAlternativeDescription
		}
		return StrategyAlternative
	case strings.Contains(lower, "close"), strings.Contains(lower, "modal"), strings.Contains(lower, "overlay"):
		return StrategyCloseOverlays
	default:
		return StrategyWait
	}
}

func defaultAdvice() Advice {
	return Advice{Suggestion: defaultSuggestion, Strategy: StrategyWait, Source: SourceDefault}
}

// contextShape reduces a page summary to the coarse shape used in cache keys.
func contextShape(pageContext string) string {
	lower := strings.ToLower(pageContext)
	switch {
	case strings.TrimSpace(lower) == "":
		return "empty"
	case strings.Contains(lower, "modal"):
		return "modal"
	case strings.Contains(lower, "form"):
		return "form"
	default:
		return "normal"
	}
}

func errorAnalysisPrompt(errorText, action, pageContext string) string {
	return fmt.Sprintf(`A browser automation action failed.
Action: %s
Error: %s
Page context: %s

In one or two sentences, suggest how to recover. Mention exactly one approach:
scroll, scroll to the element, wait, close overlays or modals, try an alternative element,
describe the element differently, or use the site search.`,
		action, truncate(errorText, 500), truncate(pageContext, 800))
}

func stripDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

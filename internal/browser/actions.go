package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

const (
	maxExtractRunes = 4000
	maxSearchHits   = 10
	finalURLTimeout = 2 * time.Second
)

// ErrUnsupportedAction is returned inside a failed result for unknown names.
var ErrUnsupportedAction = errors.New("unsupported action")

type actionFunc func(ctx context.Context, params map[string]interface{}) (schemas.ActionResult, error)

func (s *Session) buildHandlers() map[string]actionFunc {
	return map[string]actionFunc{
		"navigate":         s.navigate,
		"click_element":    s.click,
		"type_text":        s.typeText,
		"scroll":           s.scroll,
		"wait_for_element": s.waitForElement,
		"extract_text":     s.extractText,
		"search_on_page":   s.searchOnPage,
		"reload_page":      s.reload,
		"take_screenshot":  s.screenshot,
	}
}

// Execute runs one automation primitive. Page-level failures (missing
// element, timeout) come back as an unsuccessful result; the error return is
// reserved for a cancelled caller or a dead browser.
func (s *Session) Execute(ctx context.Context, action string, params map[string]interface{}) (schemas.ActionResult, error) {
	h, ok := s.handlers[action]
	if !ok {
		return schemas.ActionResult{Error: fmt.Sprintf("%v: %s", ErrUnsupportedAction, action)}, nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	start := time.Now()
	res, err := h(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return schemas.ActionResult{}, ctx.Err()
		}
		if s.tabCtx.Err() != nil {
			return schemas.ActionResult{}, fmt.Errorf("browser is no longer available: %w", err)
		}
		res = schemas.ActionResult{Error: describeError(action, err)}
	}
	s.logger.Debug("Action executed",
		zap.String("action", action),
		zap.Bool("success", res.Success),
		zap.String("error", res.Error),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// describeError turns CDP failures into the wording recovery rules match on.
func describeError(action string, err error) string {
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return describeTimeout(action)
	case strings.Contains(msg, "could not find node"), strings.Contains(msg, "No node"):
		return fmt.Sprintf("%s failed: element not found: %s", action, msg)
	}
	return fmt.Sprintf("%s failed: %s", action, msg)
}

// describeTimeout words a deadline by what the action was waiting for. Only
// actions that wait on a selector before acting report a missing element.
func describeTimeout(action string) string {
	switch action {
	case "navigate", "reload_page":
		return fmt.Sprintf("%s failed: navigation timeout exceeded", action)
	case "click_element", "type_text", "scroll", "extract_text":
		return fmt.Sprintf("%s failed: element not found or not visible within the time limit", action)
	case "wait_for_element":
		return "wait_for_element failed: timeout, element did not appear in time"
	}
	return fmt.Sprintf("%s failed: timeout exceeded", action)
}

func (s *Session) navigate(ctx context.Context, params map[string]interface{}) (schemas.ActionResult, error) {
	target := stringParam(params, "url")
	if target == "" {
		return schemas.ActionResult{Error: "navigate requires a url"}, nil
	}
	target = normalizeTarget(target)

	opCtx, cancel := s.operationContext(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Navigate(target)); err != nil {
		return schemas.ActionResult{}, err
	}
	final := s.currentURL(opCtx)
	return schemas.ActionResult{
		Success: true,
		Message: "navigated to " + final,
		Data:    map[string]interface{}{"url": final},
	}, nil
}

func (s *Session) click(ctx context.Context, params map[string]interface{}) (schemas.ActionResult, error) {
	sel := stringParam(params, "selector")
	opCtx, cancel := s.operationContext(ctx, s.cfg.ActionTimeout)
	defer cancel()
	err := chromedp.Run(opCtx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{
		Success: true,
		Message: "clicked " + sel,
		Data:    map[string]interface{}{"url": s.currentURL(opCtx)},
	}, nil
}

func (s *Session) typeText(ctx context.Context, params map[string]interface{}) (schemas.ActionResult, error) {
	sel := stringParam(params, "selector")
	text := stringParam(params, "text")

	actions := []chromedp.Action{
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Focus(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	}
	submit := boolParam(params, "submit")
	if submit {
		actions = append(actions, chromedp.SendKeys(sel, kb.Enter, chromedp.ByQuery))
	}

	opCtx, cancel := s.operationContext(ctx, s.cfg.ActionTimeout)
	defer cancel()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		return schemas.ActionResult{}, err
	}
	msg := fmt.Sprintf("typed %d characters into %s", len([]rune(text)), sel)
	if submit {
		msg += " and submitted"
	}
	return schemas.ActionResult{Success: true, Message: msg}, nil
}

func (s *Session) scroll(ctx context.Context, params map[string]interface{}) (schemas.ActionResult, error) {
	opCtx, cancel := s.operationContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	if sel := stringParam(params, "selector"); sel != "" {
		if err := chromedp.Run(opCtx, chromedp.ScrollIntoView(sel, chromedp.ByQuery)); err != nil {
			return schemas.ActionResult{}, err
		}
		return schemas.ActionResult{Success: true, Message: "scrolled " + sel + " into view"}, nil
	}

	direction := strings.ToLower(stringParam(params, "direction"))
	if direction == "" {
		direction = "down"
	}
	var offset float64
	script := fmt.Sprintf("(%s)(%q)", scrollScript, direction)
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &offset)); err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{
		Success: true,
		Message: "scrolled " + direction,
		Data:    map[string]interface{}{"offset": int(math.Round(offset))},
	}, nil
}

func (s *Session) waitForElement(ctx context.Context, params map[string]interface{}) (schemas.ActionResult, error) {
	sel := stringParam(params, "selector")
	timeout := s.cfg.ActionTimeout
	if ms := intParam(params, "timeout_ms"); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	opCtx, cancel := s.operationContext(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{Success: true, Message: sel + " is visible"}, nil
}

func (s *Session) extractText(ctx context.Context, params map[string]interface{}) (schemas.ActionResult, error) {
	sel := stringParam(params, "selector")
	if sel == "" {
		sel = "body"
	}
	opCtx, cancel := s.operationContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	var text string
	if err := chromedp.Run(opCtx, chromedp.Text(sel, &text, chromedp.ByQuery, chromedp.NodeReady)); err != nil {
		return schemas.ActionResult{}, err
	}
	text = capRunes(strings.Join(strings.Fields(text), " "), maxExtractRunes)
	if text == "" {
		return schemas.ActionResult{Error: fmt.Sprintf("extract_text failed: %s has no text", sel)}, nil
	}
	return schemas.ActionResult{
		Success: true,
		Message: capRunes(text, 200),
		Data:    map[string]interface{}{"text": text, "selector": sel},
	}, nil
}

type searchHit struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

func (s *Session) searchOnPage(ctx context.Context, params map[string]interface{}) (schemas.ActionResult, error) {
	needle := stringParam(params, "text")
	opCtx, cancel := s.operationContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	var raw string
	script := fmt.Sprintf("(%s)(%q, %d)", searchScript, needle, maxSearchHits)
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &raw)); err != nil {
		return schemas.ActionResult{}, err
	}
	hits, err := decodeHits(raw)
	if err != nil {
		return schemas.ActionResult{}, err
	}
	return searchResult(needle, hits), nil
}

func decodeHits(raw string) ([]searchHit, error) {
	var hits []searchHit
	if err := json.Unmarshal([]byte(raw), &hits); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}
	return hits, nil
}

func searchResult(needle string, hits []searchHit) schemas.ActionResult {
	if len(hits) == 0 {
		return schemas.ActionResult{Error: fmt.Sprintf("search_on_page: text %q not found on page", needle)}
	}
	selectors := make([]string, 0, len(hits))
	lines := make([]string, 0, len(hits))
	for _, h := range hits {
		selectors = append(selectors, h.Selector)
		lines = append(lines, fmt.Sprintf("%s %q", h.Selector, h.Text))
	}
	return schemas.ActionResult{
		Success: true,
		Message: fmt.Sprintf("found %d matches: %s", len(hits), strings.Join(lines, "; ")),
		Data: map[string]interface{}{
			"selector":  selectors[0],
			"selectors": selectors,
			"matches":   len(hits),
		},
	}
}

func (s *Session) reload(ctx context.Context, _ map[string]interface{}) (schemas.ActionResult, error) {
	opCtx, cancel := s.operationContext(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Reload()); err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{Success: true, Message: "reloaded " + s.currentURL(opCtx)}, nil
}

func (s *Session) screenshot(ctx context.Context, _ map[string]interface{}) (schemas.ActionResult, error) {
	opCtx, cancel := s.operationContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	var buf []byte
	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	if err != nil {
		return schemas.ActionResult{}, err
	}
	s.mu.Lock()
	s.lastScreenshot = buf
	s.mu.Unlock()
	return schemas.ActionResult{
		Success: true,
		Message: fmt.Sprintf("captured %d byte screenshot", len(buf)),
		Data:    map[string]interface{}{"bytes": len(buf), "format": "png"},
	}, nil
}

// currentURL reads the tab location even when opCtx has already expired.
func (s *Session) currentURL(opCtx context.Context) string {
	ctx, cancel := context.WithTimeout(Detach(opCtx), finalURLTimeout)
	defer cancel()
	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		s.logger.Debug("Could not read location", zap.Error(err))
		return ""
	}
	return loc
}

// normalizeTarget adds a scheme to bare hosts.
func normalizeTarget(u string) string {
	u = strings.TrimSpace(u)
	if strings.Contains(u, "://") || strings.HasPrefix(u, "about:") || strings.HasPrefix(u, "data:") {
		return u
	}
	return "https://" + u
}

func stringParam(params map[string]interface{}, key string) string {
	switch v := params[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func boolParam(params map[string]interface{}, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	}
	return false
}

func intParam(params map[string]interface{}, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

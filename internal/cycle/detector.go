// Package cycle recognizes when the agent keeps repeating itself without
// making progress. Detection is a pure function over recent action records.
package cycle

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var canonicalJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind names the check that produced a verdict.
type Kind string

const (
	KindConsecutiveRepeat   Kind = "consecutive_repeat"
	KindRepeatingFailure    Kind = "repeating_failure"
	KindRepeatingTarget     Kind = "repeating_target"
	KindABABPattern         Kind = "abab_pattern"
	KindDuplicateExtraction Kind = "duplicate_extraction"
	KindDuplicateQuery      Kind = "duplicate_query"
)

// DefaultWindow is the lookback used when the caller passes a non-positive size.
const DefaultWindow = 4

// criticalActions repeat-trigger at 2 instead of 3.
var criticalActions = map[string]bool{
	"navigate":      true,
	"click_element": true,
}

// Record is the detector's view of one executed action.
type Record struct {
	Action      string
	Params      map[string]interface{}
	Success     bool
	Error       string
	PageChanged bool
}

// Verdict describes a detected repetition.
type Verdict struct {
	Kind        Kind                   `json:"kind"`
	Reason      string                 `json:"reason"`
	Action      string                 `json:"action"`
	Params      map[string]interface{} `json:"params,omitempty"`
	RepeatCount int                    `json:"repeat_count"`
}

// Signature identifies an action by name and canonical parameters.
func Signature(action string, params map[string]interface{}) string {
	if len(params) == 0 {
		return action + ":{}"
	}
	b, err := canonicalJSON.Marshal(params)
	if err != nil {
		return action + ":" + fmt.Sprint(params)
	}
	return action + ":" + string(b)
}

func (r Record) signature() string { return Signature(r.Action, r.Params) }

func (r Record) param(key string) string {
	if r.Params == nil {
		return ""
	}
	if s, ok := r.Params[key].(string); ok {
		return s
	}
	return ""
}

// description is the coarse label used for pattern checks.
func (r Record) description() string {
	if r.Action == "navigate" {
		return r.Action + ":" + NormalizeURL(r.param("url"))
	}
	if d := r.param("description"); d != "" {
		return r.Action + ":" + d
	}
	if d := r.param("element_description"); d != "" {
		return r.Action + ":" + d
	}
	return r.Action
}

// Detect runs the repetition checks over the last 2*windowSize records and
// returns the first positive verdict, or nil. Checks run in priority order:
// consecutive repeat, repeating failure, repeating target, A-B-A-B,
// duplicate extraction, duplicate query.
func Detect(history []Record, windowSize int) *Verdict {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	recent := last(history, 2*windowSize)
	if len(recent) < 2 {
		return nil
	}

	checks := []func([]Record) *Verdict{
		consecutiveRepeat,
		repeatingFailure,
		repeatingTarget,
		ababPattern,
		duplicateExtraction,
		duplicateQuery,
	}
	for _, check := range checks {
		if v := check(recent); v != nil {
			return v
		}
	}
	return nil
}

func consecutiveRepeat(recent []Record) *Verdict {
	window := last(recent, 6)
	newest := window[len(window)-1]
	if newest.PageChanged {
		return nil
	}
	sig := newest.signature()
	count := 1
	for i := len(window) - 2; i >= 0; i-- {
		r := window[i]
		if r.PageChanged || r.signature() != sig {
			break
		}
		count++
	}

	threshold := 3
	if criticalActions[newest.Action] {
		threshold = 2
	}
	if count < threshold {
		return nil
	}
	return &Verdict{
		Kind:        KindConsecutiveRepeat,
		Reason:      fmt.Sprintf("action %s repeated %d times in a row without any page change", newest.Action, count),
		Action:      newest.Action,
		Params:      newest.Params,
		RepeatCount: count,
	}
}

func repeatingFailure(recent []Record) *Verdict {
	window := last(recent, 4)
	newest := window[len(window)-1]
	if newest.Success || newest.PageChanged || newest.Error == "" {
		return nil
	}
	sig := newest.signature()
	count := 1
	for i := len(window) - 2; i >= 0; i-- {
		r := window[i]
		if r.Success || r.PageChanged || r.Error != newest.Error || r.signature() != sig {
			break
		}
		count++
	}
	if count < 2 {
		return nil
	}
	return &Verdict{
		Kind:        KindRepeatingFailure,
		Reason:      fmt.Sprintf("action %s failed %d times with the same error: %s", newest.Action, count, newest.Error),
		Action:      newest.Action,
		Params:      newest.Params,
		RepeatCount: count,
	}
}

func repeatingTarget(recent []Record) *Verdict {
	window := last(recent, 4)
	var target string
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Action == "navigate" {
			target = NormalizeURL(window[i].param("url"))
			break
		}
	}
	if target == "" {
		return nil
	}
	count := 0
	var hit Record
	for _, r := range window {
		if r.Action == "navigate" && !r.PageChanged && NormalizeURL(r.param("url")) == target {
			count++
			hit = r
		}
	}
	if count < 2 {
		return nil
	}
	return &Verdict{
		Kind:        KindRepeatingTarget,
		Reason:      fmt.Sprintf("navigated to %s %d times without the page changing", target, count),
		Action:      hit.Action,
		Params:      hit.Params,
		RepeatCount: count,
	}
}

func ababPattern(recent []Record) *Verdict {
	if len(recent) < 4 {
		return nil
	}
	w := last(recent, 4)
	a, b := w[0].description(), w[1].description()
	if a == b || w[2].description() != a || w[3].description() != b {
		return nil
	}
	return &Verdict{
		Kind:        KindABABPattern,
		Reason:      fmt.Sprintf("alternating between %q and %q", a, b),
		Action:      w[3].Action,
		Params:      w[3].Params,
		RepeatCount: 2,
	}
}

func duplicateExtraction(recent []Record) *Verdict {
	window := last(recent, 3)
	return findDuplicatePair(window, func(a, b Record) bool {
		return a.Action == "extract_text" && b.Action == "extract_text" &&
			a.param("description") == b.param("description")
	}, func(r Record) *Verdict {
		return &Verdict{
			Kind:        KindDuplicateExtraction,
			Reason:      fmt.Sprintf("text %q extracted again without any page change", r.param("description")),
			Action:      r.Action,
			Params:      r.Params,
			RepeatCount: 2,
		}
	})
}

func duplicateQuery(recent []Record) *Verdict {
	window := last(recent, 5)
	return findDuplicatePair(window, func(a, b Record) bool {
		if a.Action != "query_dom" || b.Action != "query_dom" {
			return false
		}
		qa, qb := a.param("query"), b.param("query")
		return NormalizeQuery(qa) == NormalizeQuery(qb) || SimilarQueries(qa, qb)
	}, func(r Record) *Verdict {
		return &Verdict{
			Kind:        KindDuplicateQuery,
			Reason:      fmt.Sprintf("page question %q asked again without any page change", r.param("query")),
			Action:      r.Action,
			Params:      r.Params,
			RepeatCount: 2,
		}
	})
}

// findDuplicatePair looks for i < j with same(window[i], window[j]) and no
// page change in window[i+1..j].
func findDuplicatePair(window []Record, same func(a, b Record) bool, verdict func(Record) *Verdict) *Verdict {
	for j := len(window) - 1; j > 0; j-- {
		for i := j - 1; i >= 0; i-- {
			if window[i+1].PageChanged {
				break
			}
			if same(window[i], window[j]) {
				return verdict(window[j])
			}
		}
	}
	return nil
}

// NormalizeURL drops the query string, fragment and trailing slashes.
func NormalizeURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/")
}

func last[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

package contextbudget

import (
	"fmt"
	"strings"
)

// HistoryEntry is the prompt-facing view of one executed action.
type HistoryEntry struct {
	Iteration   int
	Action      string
	Summary     string // e.g. `click_element(#submit)`
	Success     bool
	Error       string
	Message     string
	PageChanged bool
	Suggestion  string
}

// Line renders the entry as a single history line.
func (h HistoryEntry) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s", h.Iteration, h.Summary)
	if h.Success {
		b.WriteString(" -> ok")
		if h.PageChanged {
			b.WriteString(" (page changed)")
		}
		if h.Message != "" {
			b.WriteString(": ")
			b.WriteString(truncateRunes(h.Message, 120))
		}
	} else {
		b.WriteString(" -> failed")
		if h.Error != "" {
			b.WriteString(": ")
			b.WriteString(truncateRunes(h.Error, 160))
		}
		if h.Suggestion != "" {
			b.WriteString(" | hint: ")
			b.WriteString(truncateRunes(h.Suggestion, 120))
		}
	}
	return b.String()
}

// lessImportantTail is how many low-value entries survive trimming.
const lessImportantTail = 5

// IsImportant reports whether an entry carries progress worth keeping in the
// prompt: navigations, successful interactions and extractions, completion.
func (h HistoryEntry) IsImportant() bool {
	switch h.Action {
	case "navigate", "task_complete", "task_complete_rejected":
		return true
	case "click_element", "type_text", "extract_text", "query_dom", "search_on_page":
		return h.Success
	}
	return false
}

// TrimHistory selects the entries shown to the oracle so that their rendered
// cost fits budget. All important entries plus the last few less important
// ones are preferred; important entries are dropped oldest-first only when
// that is still too large, and as a last resort the newest half is kept.
// Chronological order is preserved and the input is never modified.
func TrimHistory(est Estimator, history []HistoryEntry, budget int) []HistoryEntry {
	if len(history) == 0 {
		return nil
	}
	if costOf(est, history) <= budget {
		return append([]HistoryEntry(nil), history...)
	}

	var lessIdx []int
	for i, h := range history {
		if !h.IsImportant() {
			lessIdx = append(lessIdx, i)
		}
	}
	keepLess := map[int]bool{}
	if len(lessIdx) > lessImportantTail {
		lessIdx = lessIdx[len(lessIdx)-lessImportantTail:]
	}
	for _, i := range lessIdx {
		keepLess[i] = true
	}

	kept := make([]HistoryEntry, 0, len(history))
	for i, h := range history {
		if h.IsImportant() || keepLess[i] {
			kept = append(kept, h)
		}
	}
	if costOf(est, kept) <= budget {
		return kept
	}

	// Drop important entries from the oldest end.
	for len(kept) > 0 && costOf(est, kept) > budget {
		drop := -1
		for i, h := range kept {
			if h.IsImportant() {
				drop = i
				break
			}
		}
		if drop < 0 {
			break
		}
		kept = append(kept[:drop:drop], kept[drop+1:]...)
	}
	if costOf(est, kept) <= budget && len(kept) > 0 {
		return kept
	}

	half := history[len(history)/2:]
	for len(half) > 0 && costOf(est, half) > budget {
		half = half[1:]
	}
	return append([]HistoryEntry(nil), half...)
}

func costOf(est Estimator, entries []HistoryEntry) int {
	total := 0
	for _, h := range entries {
		total += est.Count(h.Line()) + 1
	}
	return total
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

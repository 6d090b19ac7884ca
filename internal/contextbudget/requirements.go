package contextbudget

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// requirementPattern finds "<count> <noun phrase>" up to the next clause break.
var requirementPattern = regexp.MustCompile(`(\d+)\s+([^\n\r.;,]*)`)

const requirementWindow = 50

// requirementKeywords maps a requirement key to the stems that identify it
// inside the noun phrase following a count.
var requirementKeywords = []struct {
	key   string
	stems []string
}{
	{"applications", []string{"apply", "applic", "respond", "response", "vacanc", "ваканс", "отклик"}},
	{"messages", []string{"message", "email", "e-mail", "сообщен", "письм"}},
	{"items", []string{"item", "product", "cart", "товар"}},
}

// Requirement is a quantitative sub-goal extracted from the task text.
type Requirement struct {
	Key      string `json:"key"`
	Required int    `json:"required"`
	Achieved int    `json:"achieved"`
}

// Satisfied reports whether the achieved count reached the required count.
func (r Requirement) Satisfied() bool { return r.Achieved >= r.Required }

// ParseRequirements extracts requirement counters from a task description.
// When the same key appears more than once, the largest count wins. The
// result is sorted by key.
func ParseRequirements(task string) []Requirement {
	counts := map[string]int{}
	lower := strings.ToLower(task)
	for _, m := range requirementPattern.FindAllStringSubmatch(lower, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		window := m[2]
		if r := []rune(window); len(r) > requirementWindow {
			window = string(r[:requirementWindow])
		}
		for _, kw := range requirementKeywords {
			if containsAny(window, kw.stems) {
				if n > counts[kw.key] {
					counts[kw.key] = n
				}
				break
			}
		}
	}

	reqs := make([]Requirement, 0, len(counts))
	for key, n := range counts {
		reqs = append(reqs, Requirement{Key: key, Required: n})
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Key < reqs[j].Key })
	return reqs
}

// RequirementSet is the ordered collection of counters owned by a task session.
// Achieved counts only ever grow.
type RequirementSet struct {
	items []Requirement
}

// NewRequirementSet builds a set from parsed requirements.
func NewRequirementSet(reqs []Requirement) *RequirementSet {
	items := make([]Requirement, len(reqs))
	copy(items, reqs)
	return &RequirementSet{items: items}
}

// Items returns a copy of the counters.
func (s *RequirementSet) Items() []Requirement {
	if s == nil {
		return nil
	}
	out := make([]Requirement, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of counters.
func (s *RequirementSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Credit adds n (> 0) to the named counter. Unknown keys and non-positive
// amounts are ignored. It returns whether anything changed.
func (s *RequirementSet) Credit(key string, n int) bool {
	if s == nil || n <= 0 {
		return false
	}
	for i := range s.items {
		if s.items[i].Key == key {
			s.items[i].Achieved += n
			return true
		}
	}
	return false
}

// CanComplete is true only when every counter is satisfied.
func (s *RequirementSet) CanComplete() bool {
	if s == nil {
		return true
	}
	for _, r := range s.items {
		if !r.Satisfied() {
			return false
		}
	}
	return true
}

// Status renders "key: done/count" lines.
func (s *RequirementSet) Status() string {
	if s == nil {
		return ""
	}
	return FormatRequirementStatus(s.items)
}

// Pending renders the unsatisfied counters, e.g. "need 3 applications, done 2".
func (s *RequirementSet) Pending() string {
	if s == nil {
		return ""
	}
	return FormatPendingRequirements(s.items)
}

// MatchKeys returns the keys whose stems occur in text.
func (s *RequirementSet) MatchKeys(text string) []string {
	if s == nil || text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var keys []string
	for _, r := range s.items {
		for _, kw := range requirementKeywords {
			if kw.key == r.Key && containsAny(lower, kw.stems) {
				keys = append(keys, r.Key)
			}
		}
	}
	return keys
}

// FormatRequirementStatus renders one "key: done/count" line per requirement.
func FormatRequirementStatus(reqs []Requirement) string {
	parts := make([]string, 0, len(reqs))
	for _, r := range reqs {
		parts = append(parts, fmt.Sprintf("%s: %d/%d", r.Key, r.Achieved, r.Required))
	}
	return strings.Join(parts, "\n")
}

// FormatPendingRequirements lists unsatisfied requirements separated by "; ".
func FormatPendingRequirements(reqs []Requirement) string {
	var parts []string
	for _, r := range reqs {
		if !r.Satisfied() {
			parts = append(parts, fmt.Sprintf("need %d %s, done %d", r.Required, r.Key, r.Achieved))
		}
	}
	return strings.Join(parts, "; ")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/xkilldash9x/webpilot/internal/contextbudget"
	"github.com/xkilldash9x/webpilot/internal/cycle"
)

// uuidNewString is swapped in tests that need deterministic IDs.
var uuidNewString = uuid.NewString

const defaultQueryHistory = 20

// TaskSession is the state of one attempt at a task. It is owned by a single
// run and is not safe for concurrent use.
type TaskSession struct {
	ID        string
	Task      string
	Status    State
	Iteration int
	LastError string

	// ExtractedInfo holds text remembered from successful extract_text actions.
	ExtractedInfo  map[string]string
	CompletedSteps []string

	visited      map[string]struct{}
	records      []ActionRecord
	requirements *contextbudget.RequirementSet
	queries      []QueryRecord
	queryCap     int
	notes        []string
}

// NewTaskSession creates an idle session keeping at most queryCap answered
// page questions.
func NewTaskSession(queryCap int) *TaskSession {
	if queryCap <= 0 {
		queryCap = defaultQueryHistory
	}
	s := &TaskSession{queryCap: queryCap}
	s.SetTask("")
	return s
}

// SetTask starts a fresh attempt: a new ID, requirement counters parsed from
// the task text and every derived collection cleared.
func (s *TaskSession) SetTask(task string) {
	s.ID = uuidNewString()
	s.Task = task
	s.Status = StateIdle
	s.Iteration = 0
	s.LastError = ""
	s.ExtractedInfo = make(map[string]string)
	s.CompletedSteps = nil
	s.visited = make(map[string]struct{})
	s.records = nil
	s.requirements = contextbudget.NewRequirementSet(contextbudget.ParseRequirements(task))
	s.queries = nil
	s.notes = nil
}

// Visit adds the normalized URL to the visited set and reports whether it
// was new.
func (s *TaskSession) Visit(rawURL string) bool {
	u := cycle.NormalizeURL(rawURL)
	if u == "" {
		return false
	}
	if _, ok := s.visited[u]; ok {
		return false
	}
	s.visited[u] = struct{}{}
	return true
}

// Visited returns the visited URLs in sorted order.
func (s *TaskSession) Visited() []string {
	out := make([]string, 0, len(s.visited))
	for u := range s.visited {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Append adds a record. Records are strictly ordered by iteration and an
// iteration owns at most one record.
func (s *TaskSession) Append(rec ActionRecord) error {
	if n := len(s.records); n > 0 && rec.Iteration <= s.records[n-1].Iteration {
		return fmt.Errorf("record for iteration %d after iteration %d", rec.Iteration, s.records[n-1].Iteration)
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the action history.
func (s *TaskSession) Records() []ActionRecord {
	out := make([]ActionRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Requirements returns the current requirement counters.
func (s *TaskSession) Requirements() []contextbudget.Requirement { return s.requirements.Items() }

// CanComplete reports whether every requirement counter is satisfied.
func (s *TaskSession) CanComplete() bool { return s.requirements.CanComplete() }

// PendingRequirements renders the unsatisfied counters.
func (s *TaskSession) PendingRequirements() string { return s.requirements.Pending() }

// RequirementStatus renders every counter as "key: done/count".
func (s *TaskSession) RequirementStatus() string { return s.requirements.Status() }

// Credit adds progress to a requirement counter.
func (s *TaskSession) Credit(key string, n int) bool { return s.requirements.Credit(key, n) }

// MatchRequirements returns the requirement keys mentioned in text.
func (s *TaskSession) MatchRequirements(text string) []string { return s.requirements.MatchKeys(text) }

// LookupQuery returns the newest answered question whose normalized form
// matches query and whose URL is url or unknown.
func (s *TaskSession) LookupQuery(query, url string) (QueryRecord, bool) {
	norm := cycle.NormalizeQuery(query)
	if norm == "" {
		return QueryRecord{}, false
	}
	target := cycle.NormalizeURL(url)
	for i := len(s.queries) - 1; i >= 0; i-- {
		q := s.queries[i]
		if q.Normalized != norm {
			continue
		}
		if q.URL == "" || cycle.NormalizeURL(q.URL) == target {
			return q, true
		}
	}
	return QueryRecord{}, false
}

// AddQuery stores an answered question, dropping the oldest when full.
func (s *TaskSession) AddQuery(q QueryRecord) {
	if q.Normalized == "" {
		q.Normalized = cycle.NormalizeQuery(q.Query)
	}
	s.queries = append(s.queries, q)
	if over := len(s.queries) - s.queryCap; over > 0 {
		s.queries = append([]QueryRecord(nil), s.queries[over:]...)
	}
}

// Queries returns the cached questions, oldest first.
func (s *TaskSession) Queries() []QueryRecord {
	out := make([]QueryRecord, len(s.queries))
	copy(out, s.queries)
	return out
}

// AddNote queues a remark for the next decision context.
func (s *TaskSession) AddNote(note string) { s.notes = append(s.notes, note) }

// TakeNotes returns the queued remarks and clears them.
func (s *TaskSession) TakeNotes() []string {
	notes := s.notes
	s.notes = nil
	return notes
}

// CycleRecords is the loop detector's view of the history. Questions served
// from the cache are relabelled so they never count as repeated queries.
func (s *TaskSession) CycleRecords() []cycle.Record {
	out := make([]cycle.Record, len(s.records))
	for i, r := range s.records {
		name := string(r.Action)
		if r.Cached && r.Action == ActionQueryDOM {
			name = "query_dom_cached"
		}
		out[i] = cycle.Record{
			Action:      name,
			Params:      r.Params,
			Success:     r.Result.Success,
			Error:       r.Result.Error,
			PageChanged: r.PageChanged,
		}
	}
	return out
}

// HistoryEntries is the prompt-facing view of the history.
func (s *TaskSession) HistoryEntries() []contextbudget.HistoryEntry {
	out := make([]contextbudget.HistoryEntry, len(s.records))
	for i, r := range s.records {
		e := contextbudget.HistoryEntry{
			Iteration:   r.Iteration,
			Action:      string(r.Action),
			Summary:     summarize(r.Action, r.Params),
			Success:     r.Result.Success && r.Valid,
			Error:       r.Result.Error,
			Message:     r.Result.Message,
			PageChanged: r.PageChanged,
		}
		if r.Result.Success && !r.Valid {
			e.Error = "no effect: " + r.Validation
		}
		if r.Advice != nil {
			e.Suggestion = r.Advice.Suggestion
		}
		out[i] = e
	}
	return out
}

// HistoryLines renders every history entry on one line.
func (s *TaskSession) HistoryLines() []string {
	entries := s.HistoryEntries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Line()
	}
	return lines
}

// summaryKeys is the order in which a parameter is picked to label an action.
var summaryKeys = []string{"selector", "url", "query", "text", "direction", "description", "summary"}

func summarize(name ActionName, params map[string]interface{}) string {
	for _, k := range summaryKeys {
		if v := paramString(params, k); v != "" {
			if r := []rune(v); len(r) > 80 {
				v = string(r[:77]) + "..."
			}
			return fmt.Sprintf("%s(%s)", name, v)
		}
	}
	return string(name) + "()"
}

func paramString(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	switch v := params[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

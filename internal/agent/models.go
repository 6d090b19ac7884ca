// internal/agent/models.go
package agent

import (
	"time"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/cycle"
	"github.com/xkilldash9x/webpilot/internal/validation"
)

// State is the controller's position in the observe/decide/act/reflect cycle.
type State string

const (
	StateIdle       State = "idle"
	StateObserving  State = "observing"
	StateDeciding   State = "deciding"
	StateActing     State = "acting"
	StateReflecting State = "reflecting"
	// StateWaitingUser is reserved; no transition reaches it.
	StateWaitingUser State = "waiting_user"
	StateCompleted   State = "completed"
	StateError       State = "error"
)

// IsTerminal reports whether the state ends a run.
func (s State) IsTerminal() bool { return s == StateCompleted || s == StateError }

// Decision is the oracle's choice of the next action.
type Decision struct {
	Action  ActionName             `json:"action"`
	Params  map[string]interface{} `json:"parameters"`
	Thought string                 `json:"thought,omitempty"`
	// Progress credits requirement counters explicitly, e.g. {"applications": 1}.
	Progress map[string]int `json:"progress,omitempty"`
	// Repaired is set when the oracle's output needed structural repair.
	Repaired bool `json:"-"`
}

// DecisionRequest is everything the oracle sees for one decision.
type DecisionRequest struct {
	SystemPrompt string
	Context      string
	Tools        []ToolDefinition
}

// ActionRecord is the immutable log entry for one executed action.
type ActionRecord struct {
	ID          string                    `json:"id"`
	Iteration   int                       `json:"iteration"`
	Action      ActionName                `json:"action"`
	Params      map[string]interface{}    `json:"params"`
	Thought     string                    `json:"thought,omitempty"`
	Result      schemas.ActionResult      `json:"result"`
	Before      schemas.PageStateSnapshot `json:"before"`
	After       schemas.PageStateSnapshot `json:"after"`
	PageChanged bool                      `json:"page_changed"`
	Valid       bool                      `json:"valid"`
	Validation  string                    `json:"validation,omitempty"`
	Advice      *validation.Advice        `json:"advice,omitempty"`
	// Cached marks a page question answered from the session's query cache.
	Cached    bool          `json:"cached,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// QueryRecord is a page question the oracle has already answered.
type QueryRecord struct {
	Query      string `json:"query"`
	Normalized string `json:"normalized"`
	URL        string `json:"url"`
	Answer     string `json:"answer"`
	Selector   string `json:"selector,omitempty"`
	Iteration  int    `json:"iteration"`
}

// RunResult summarizes a finished run.
type RunResult struct {
	SessionID  string         `json:"session_id"`
	Task       string         `json:"task"`
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	Reason     Reason         `json:"reason"`
	Iterations int            `json:"iterations"`
	Loop       *cycle.Verdict `json:"loop,omitempty"`
	Records    []ActionRecord `json:"records"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

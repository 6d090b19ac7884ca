package contextbudget

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// ErrBudgetExceeded is returned when no coarsening stage fits the ceiling.
var ErrBudgetExceeded = errors.New("context budget exceeded")

// BudgetError carries the sizes behind an ErrBudgetExceeded.
type BudgetError struct {
	Measured int
	Ceiling  int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%s: %d tokens after maximal truncation, ceiling %d", ErrBudgetExceeded, e.Measured, e.Ceiling)
}

func (e *BudgetError) Unwrap() error { return ErrBudgetExceeded }

// PrepareInput is everything the manager may draw on for one decision.
type PrepareInput struct {
	Page           *schemas.PageModel
	Task           string
	History        []HistoryEntry
	Requirements   []Requirement
	CompletedSteps []string
	ExtractedInfo  map[string]string
	// Notes are short controller remarks (rejected completion, recovery advice).
	Notes []string
}

// BoundedContext is the rendered situational summary plus what went into it.
type BoundedContext struct {
	Text     string
	Tokens   int
	Elements []RankedElement
	Stage    int
	TaskType TaskType
}

// RankedElement is an element that made it into the context.
type RankedElement struct {
	schemas.Element
	Score int
}

// Split is the ceiling-to-content reservation.
type Split struct {
	Reserved int
	Elements int
	Text     int
}

// stage describes one coarsening level.
type stage struct {
	textCap      int // per-element cap, 0 = adaptive only
	modalCap     int // modal text cap, 0 = adaptive
	previewCap   int // chars, -1 drops the preview
	topN         int // non-modal element limit, 0 = budget only
	historyLimit int
}

var stages = []stage{
	{previewCap: 0, historyLimit: 5},
	{textCap: 30, previewCap: 500, historyLimit: 5},
	{textCap: 30, previewCap: 200, topN: 15, historyLimit: 3},
	{textCap: 30, previewCap: -1, topN: 15, historyLimit: 3},
	{textCap: 30, previewCap: -1, topN: 15, historyLimit: 2},
	{textCap: 20, modalCap: 20, previewCap: -1, topN: 10, historyLimit: 1},
	{textCap: 15, modalCap: 20, previewCap: -1, topN: 0, historyLimit: 0},
}

// the last stage keeps modal elements only.
const modalOnlyStage = 6

const (
	maxTaskRunes      = 600
	maxExtractedRunes = 200
	maxNoteRunes      = 240
	minTextShare      = 100
)

// Manager assembles bounded decision contexts.
type Manager struct {
	logger       *zap.Logger
	est          Estimator
	reserveRatio float64
	elementRatio float64
}

// NewManager creates a manager using the ratios from the budget config.
func NewManager(logger *zap.Logger, est Estimator, cfg config.BudgetConfig) *Manager {
	if est == nil {
		est = HeuristicEstimator{}
	}
	reserve, element := cfg.ReserveRatio, cfg.ElementRatio
	if reserve <= 0 || reserve >= 1 {
		reserve = 0.2
	}
	if element <= 0 || element > 1 {
		element = 0.7
	}
	return &Manager{
		logger:       logger.Named("context_budget"),
		est:          est,
		reserveRatio: reserve,
		elementRatio: element,
	}
}

// Estimator returns the estimator the manager measures with.
func (m *Manager) Estimator() Estimator { return m.est }

// SplitBudget divides maxTokens into reserve, element and free-text shares.
func (m *Manager) SplitBudget(maxTokens int) Split {
	reserved := int(math.Round(float64(maxTokens) * m.reserveRatio))
	available := maxTokens - reserved
	elements := int(math.Round(float64(available) * m.elementRatio))
	text := available - elements
	if text < minTextShare && available >= 2*minTextShare {
		text = minTextShare
		elements = available - text
	}
	return Split{Reserved: reserved, Elements: elements, Text: text}
}

// Prepare renders a context whose estimated cost is at most maxTokens. Each
// coarsening stage is rendered and re-measured until one fits; identical
// inputs always produce identical output.
func (m *Manager) Prepare(in PrepareInput, maxTokens int) (*BoundedContext, error) {
	if maxTokens <= 0 {
		return nil, &BudgetError{Measured: 0, Ceiling: maxTokens}
	}
	tt := DetectTaskType(in.Task)
	split := m.SplitBudget(maxTokens)
	var ranked []scoredElement
	if in.Page != nil {
		ranked = rankElements(in.Page.Elements, tt)
	}

	measured := 0
	for i, st := range stages {
		elements := m.selectElements(ranked, tt, split.Elements, st, i == modalOnlyStage)
		text := m.render(in, elements, split, st)
		measured = m.est.Count(text)
		if measured <= maxTokens {
			if i > 0 {
				m.logger.Debug("Context coarsened to fit budget",
					zap.Int("stage", i),
					zap.Int("tokens", measured),
					zap.Int("max_tokens", maxTokens),
					zap.Int("elements", len(elements)))
			}
			return &BoundedContext{
				Text:     text,
				Tokens:   measured,
				Elements: elements,
				Stage:    i,
				TaskType: tt,
			}, nil
		}
	}

	m.logger.Warn("Context does not fit budget after maximal truncation",
		zap.Int("tokens", measured), zap.Int("max_tokens", maxTokens))
	return nil, &BudgetError{Measured: measured, Ceiling: maxTokens}
}

// selectElements walks ranked elements most-relevant-first, shrinking the
// per-element text allowance as the element budget is consumed. Modal
// elements are always kept, even past the element budget.
func (m *Manager) selectElements(ranked []scoredElement, tt TaskType, budget int, st stage, modalOnly bool) []RankedElement {
	var out []RankedElement
	used := 0
	nonModal := 0
	full := false

	for _, se := range ranked {
		remaining := budget - used
		limit := textLimit(se, tt, remaining)

		if se.el.InModal {
			if st.modalCap > 0 && limit > st.modalCap {
				limit = st.modalCap
			}
			el := shrinkElement(se.el, limit)
			used += m.est.Count(elementLine(el))
			out = append(out, RankedElement{Element: el, Score: se.score})
			continue
		}
		if modalOnly || full {
			continue
		}
		if st.topN > 0 && nonModal >= st.topN {
			continue
		}

		if st.textCap > 0 && limit > st.textCap {
			limit = st.textCap
		}
		el := shrinkElement(se.el, limit)
		cost := m.est.Count(elementLine(el))
		if used+cost > budget {
			if se.score < highPriorityScore {
				// Ranked order means nothing further is worth more.
				full = true
				continue
			}
			el = shrinkElement(se.el, 20)
			cost = m.est.Count(elementLine(el))
			if used+cost > budget {
				continue
			}
		}
		used += cost
		nonModal++
		out = append(out, RankedElement{Element: el, Score: se.score})
	}
	return out
}

func shrinkElement(el schemas.Element, limit int) schemas.Element {
	el.Text = truncateRunes(collapseSpace(el.Text), limit)
	return el
}

// render assembles the context text for one stage.
func (m *Manager) render(in PrepareInput, elements []RankedElement, split Split, st stage) string {
	var b strings.Builder

	b.WriteString("Task: ")
	b.WriteString(truncateRunes(collapseSpace(in.Task), maxTaskRunes))
	b.WriteString("\n")
	if in.Page != nil {
		b.WriteString("URL: ")
		b.WriteString(in.Page.URL)
		b.WriteString("\n")
		if in.Page.Title != "" {
			b.WriteString("Title: ")
			b.WriteString(truncateRunes(in.Page.Title, 120))
			b.WriteString("\n")
		}
	}

	if len(in.Requirements) > 0 {
		b.WriteString("\nRequirements:\n")
		b.WriteString(FormatRequirementStatus(in.Requirements))
		b.WriteString("\n")
		if pending := FormatPendingRequirements(in.Requirements); pending != "" {
			b.WriteString("Pending: ")
			b.WriteString(pending)
			b.WriteString("\n")
		}
	}

	if len(elements) > 0 {
		b.WriteString("\nElements (most relevant first):\n")
		for _, re := range elements {
			b.WriteString(elementLine(re.Element))
			b.WriteString("\n")
		}
	}

	if in.Page != nil && st.previewCap >= 0 {
		// Free-text share converted back to characters.
		chars := split.Text * 4
		if st.previewCap > 0 && chars > st.previewCap {
			chars = st.previewCap
		}
		if preview := truncateRunes(collapseSpace(in.Page.TextPreview), chars); preview != "" {
			b.WriteString("\nText preview:\n")
			b.WriteString(preview)
			b.WriteString("\n")
		}
	}

	if st.historyLimit > 0 {
		if len(in.CompletedSteps) > 0 {
			b.WriteString("\nCompleted steps:\n")
			steps := tail(in.CompletedSteps, 2*st.historyLimit)
			for _, s := range steps {
				b.WriteString("- ")
				b.WriteString(truncateRunes(s, maxNoteRunes))
				b.WriteString("\n")
			}
		}
		if len(in.ExtractedInfo) > 0 {
			b.WriteString("\nExtracted info:\n")
			keys := make([]string, 0, len(in.ExtractedInfo))
			for k := range in.ExtractedInfo {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range tail(keys, 2*st.historyLimit) {
				fmt.Fprintf(&b, "- %s: %s\n", truncateRunes(k, 60), truncateRunes(collapseSpace(in.ExtractedInfo[k]), maxExtractedRunes))
			}
		}
		if h := tail(in.History, st.historyLimit); len(h) > 0 {
			b.WriteString("\nRecent actions:\n")
			for _, e := range h {
				b.WriteString(e.Line())
				b.WriteString("\n")
			}
		}
	}

	for _, n := range in.Notes {
		b.WriteString("\nNote: ")
		b.WriteString(truncateRunes(n, maxNoteRunes))
		b.WriteString("\n")
	}

	return b.String()
}

func elementLine(el schemas.Element) string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(string(el.Kind))
	b.WriteString(" ")
	b.WriteString(el.Selector)
	if el.Text != "" {
		fmt.Fprintf(&b, " %q", el.Text)
	}
	if el.InModal {
		b.WriteString(" [modal]")
	} else if el.InForm {
		b.WriteString(" [form]")
	}
	return b.String()
}

func tail[T any](s []T, n int) []T {
	if n <= 0 {
		return nil
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package contextbudget

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// TaskType is a coarse hint about what the task mostly involves.
type TaskType string

const (
	TaskGeneral    TaskType = "general"
	TaskForm       TaskType = "form"
	TaskNavigation TaskType = "navigation"
	TaskReading    TaskType = "reading"
)

var taskTypeKeywords = []struct {
	typ   TaskType
	words []string
}{
	{TaskForm, []string{"fill", "form", "input", "sign up", "register", "заполн", "форм"}},
	{TaskNavigation, []string{"navigate", "go to", "open", "find", "перейд", "найд", "открой"}},
	{TaskReading, []string{"read", "extract", "summar", "прочит", "извлеч"}},
}

// DetectTaskType classifies a task by keyword; the first matching family wins.
func DetectTaskType(task string) TaskType {
	lower := strings.ToLower(task)
	for _, k := range taskTypeKeywords {
		if containsAny(lower, k.words) {
			return k.typ
		}
	}
	return TaskGeneral
}

// Score weights. Modal membership dominates everything else.
const (
	weightModal       = 100
	weightForm        = 30
	weightStableID    = 5
	weightVisibleText = 4
	weightVisible     = 2

	boostForm       = 20
	boostNavigation = 15
	boostReading    = 10

	// highPriorityScore marks elements that get a larger text allowance and a
	// second chance at a reduced size when they do not fit.
	highPriorityScore = 25
)

var kindWeight = map[schemas.ElementKind]int{
	schemas.KindButton:   12,
	schemas.KindInput:    12,
	schemas.KindTextarea: 12,
	schemas.KindSelect:   12,
	schemas.KindCheckbox: 10,
	schemas.KindLink:     8,
	schemas.KindText:     3,
	schemas.KindOther:    1,
}

// ScoreElement computes the composite priority of an element for a task type.
func ScoreElement(el schemas.Element, tt TaskType) int {
	score := kindWeight[el.Kind] + el.Relevance
	if el.InModal {
		score += weightModal
	}
	if el.InForm {
		score += weightForm
	}
	if el.StableID() != "" {
		score += weightStableID
	}
	if strings.TrimSpace(el.Text) != "" {
		score += weightVisibleText
	}
	if el.Visible {
		score += weightVisible
	}

	switch tt {
	case TaskForm:
		if el.InForm || el.Kind.IsFormControl() {
			score += boostForm
		}
	case TaskNavigation:
		if el.Kind == schemas.KindLink || el.Kind == schemas.KindButton || el.Href() != "" {
			score += boostNavigation
		}
	case TaskReading:
		if utf8.RuneCountInString(el.Text) > 50 {
			score += boostReading
		}
	}
	return score
}

// scoredElement pairs an element with its score and original position.
type scoredElement struct {
	el    schemas.Element
	score int
	index int
}

// rankElements orders elements by descending score; ties keep page order.
func rankElements(elements []schemas.Element, tt TaskType) []scoredElement {
	ranked := make([]scoredElement, len(elements))
	for i, el := range elements {
		ranked[i] = scoredElement{el: el, score: ScoreElement(el, tt), index: i}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].index < ranked[j].index
	})
	return ranked
}

// textLimit returns the per-element character allowance for the remaining
// element budget (in tokens).
func textLimit(se scoredElement, tt TaskType, remaining int) int {
	switch {
	case se.el.InModal:
		if remaining > 200 {
			return 100
		}
		return 70
	case se.el.InForm:
		if tt == TaskForm {
			return 90
		}
		return 70
	case tt == TaskReading && se.el.Kind == schemas.KindText:
		if remaining > 200 {
			return 120
		}
		return 60
	case se.score >= highPriorityScore:
		if remaining > 100 {
			return 60
		}
		return 40
	case remaining > 50:
		return 25
	default:
		return 15
	}
}

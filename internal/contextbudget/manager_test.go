package contextbudget

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(zaptest.NewLogger(t), HeuristicEstimator{}, config.BudgetConfig{ReserveRatio: 0.2, ElementRatio: 0.7})
}

// bigPage builds a page with n ordinary elements and the given number of
// modal buttons appended at the end of the DOM order.
func bigPage(n, modals int) *schemas.PageModel {
	kinds := []schemas.ElementKind{schemas.KindLink, schemas.KindText, schemas.KindButton, schemas.KindInput}
	page := &schemas.PageModel{
		URL:         "https://jobs.test/list",
		Title:       "Jobs",
		TextPreview: strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 40),
	}
	for i := 0; i < n; i++ {
		el := schemas.Element{
			Kind:     kinds[i%len(kinds)],
			Selector: fmt.Sprintf("#item-%d", i),
			Text:     fmt.Sprintf("Item number %d with a fairly long description text", i),
			Visible:  i%3 != 0,
			InForm:   i%50 == 0,
		}
		if i%7 == 0 {
			el.Attributes = map[string]string{"id": fmt.Sprintf("item-%d", i)}
		}
		page.Elements = append(page.Elements, el)
	}
	labels := []string{"Close", "Apply", "Cancel"}
	for i := 0; i < modals; i++ {
		page.Elements = append(page.Elements, schemas.Element{
			Kind:     schemas.KindButton,
			Selector: fmt.Sprintf("#modal-btn-%d", i),
			Text:     labels[i%len(labels)],
			InModal:  true,
			Visible:  true,
		})
	}
	return page
}

func TestSplitBudget(t *testing.T) {
	m := setupManager(t)

	s := m.SplitBudget(3000)
	assert.Equal(t, Split{Reserved: 600, Elements: 1680, Text: 720}, s)

	small := m.SplitBudget(100)
	assert.Equal(t, 20, small.Reserved)
	assert.Equal(t, 80, small.Elements+small.Text)
}

func TestPrepare_LargePageTinyBudget(t *testing.T) {
	m := setupManager(t)
	page := bigPage(500, 3)

	bc, err := m.Prepare(PrepareInput{Page: page, Task: "Apply to the job"}, 100)
	require.NoError(t, err)

	assert.LessOrEqual(t, bc.Tokens, 100)
	assert.Equal(t, HeuristicEstimator{}.Count(bc.Text), bc.Tokens, "reported size must be re-measured")
	require.NotEmpty(t, bc.Elements)
	assert.Less(t, len(bc.Elements), 500, "most non-modal elements must be dropped")

	for i := 1; i < len(bc.Elements); i++ {
		assert.GreaterOrEqual(t, bc.Elements[i-1].Score, bc.Elements[i].Score, "elements sorted by descending score")
	}

	var modals []string
	for _, el := range bc.Elements {
		if el.InModal {
			modals = append(modals, el.Selector)
		}
	}
	assert.ElementsMatch(t, []string{"#modal-btn-0", "#modal-btn-1", "#modal-btn-2"}, modals)
	assert.Contains(t, bc.Text, "#modal-btn-0")
}

func TestPrepare_CostNeverExceedsCeiling(t *testing.T) {
	m := setupManager(t)
	page := bigPage(300, 2)
	in := PrepareInput{
		Page:           page,
		Task:           "Fill the registration form and submit it",
		Requirements:   []Requirement{{Key: "applications", Required: 3, Achieved: 1}},
		CompletedSteps: []string{"opened registration page"},
		ExtractedInfo:  map[string]string{"price": "42 EUR", "name": "Widget"},
		Notes:          []string{"task_complete rejected: need 3 applications, done 1"},
	}
	for i := 0; i < 12; i++ {
		in.History = append(in.History, HistoryEntry{Iteration: i, Action: "scroll", Summary: "scroll(down)", Success: true})
	}

	for _, ceiling := range []int{150, 300, 800, 1500, 3000} {
		t.Run(fmt.Sprintf("ceiling_%d", ceiling), func(t *testing.T) {
			bc, err := m.Prepare(in, ceiling)
			require.NoError(t, err)
			assert.LessOrEqual(t, HeuristicEstimator{}.Count(bc.Text), ceiling)
			assert.Equal(t, TaskForm, bc.TaskType)
		})
	}
}

func TestPrepare_Idempotent(t *testing.T) {
	m := setupManager(t)
	in := PrepareInput{
		Page:          bigPage(200, 1),
		Task:          "Read the article and extract the author",
		ExtractedInfo: map[string]string{"b": "2", "a": "1", "c": "3"},
	}

	first, err := m.Prepare(in, 400)
	require.NoError(t, err)
	second, err := m.Prepare(in, 400)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Prepare is not idempotent (-first +second):\n%s", diff)
	}
}

func TestPrepare_PrefersStagesInOrder(t *testing.T) {
	m := setupManager(t)
	page := &schemas.PageModel{
		URL:         "https://a.test",
		Title:       "Small",
		TextPreview: "hello world",
		Elements: []schemas.Element{
			{Kind: schemas.KindButton, Selector: "#go", Text: "Go", Visible: true},
		},
	}
	bc, err := m.Prepare(PrepareInput{Page: page, Task: "click go"}, 3000)
	require.NoError(t, err)
	assert.Equal(t, 0, bc.Stage, "a small page needs no coarsening")
	assert.Contains(t, bc.Text, "Text preview:\nhello world")
	assert.Contains(t, bc.Text, `- button #go "Go"`)
}

func TestPrepare_BudgetExceeded(t *testing.T) {
	m := setupManager(t)

	_, err := m.Prepare(PrepareInput{Task: strings.Repeat("very long task ", 20)}, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))

	var be *BudgetError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 5, be.Ceiling)
	assert.Greater(t, be.Measured, 5)

	_, err = m.Prepare(PrepareInput{Task: "x"}, 0)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestScoreElement(t *testing.T) {
	modal := schemas.Element{Kind: schemas.KindText, InModal: true}
	formInput := schemas.Element{Kind: schemas.KindInput, InForm: true, Text: "Email", Visible: true, Attributes: map[string]string{"id": "email"}}
	link := schemas.Element{Kind: schemas.KindLink, Text: "Next page", Visible: true, Attributes: map[string]string{"href": "/next"}}
	paragraph := schemas.Element{Kind: schemas.KindText, Text: strings.Repeat("long text ", 10), Visible: true}

	assert.Greater(t, ScoreElement(modal, TaskGeneral), ScoreElement(formInput, TaskForm), "modal membership dominates")
	assert.Greater(t, ScoreElement(formInput, TaskGeneral), ScoreElement(link, TaskGeneral))
	assert.Equal(t, ScoreElement(link, TaskGeneral)+boostNavigation, ScoreElement(link, TaskNavigation))
	assert.Equal(t, ScoreElement(formInput, TaskGeneral)+boostForm, ScoreElement(formInput, TaskForm))
	assert.Equal(t, ScoreElement(paragraph, TaskGeneral)+boostReading, ScoreElement(paragraph, TaskReading))
}

func TestDetectTaskType(t *testing.T) {
	assert.Equal(t, TaskForm, DetectTaskType("Fill in the signup form"))
	assert.Equal(t, TaskNavigation, DetectTaskType("Go to the settings page"))
	assert.Equal(t, TaskReading, DetectTaskType("Read the article"))
	assert.Equal(t, TaskGeneral, DetectTaskType("Delete spam"))
}

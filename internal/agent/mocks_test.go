package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// -- Collaborator Mocks --

type MockPageModelProvider struct {
	mock.Mock
}

func (m *MockPageModelProvider) Extract(ctx context.Context) (*schemas.PageModel, error) {
	args := m.Called(ctx)
	page, _ := args.Get(0).(*schemas.PageModel)
	return page, args.Error(1)
}

func (m *MockPageModelProvider) Snapshot(ctx context.Context) (schemas.PageStateSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.PageStateSnapshot), args.Error(1)
}

type MockActionBackend struct {
	mock.Mock
}

func (m *MockActionBackend) Execute(ctx context.Context, action string, params map[string]interface{}) (schemas.ActionResult, error) {
	args := m.Called(ctx, action, params)
	return args.Get(0).(schemas.ActionResult), args.Error(1)
}

type MockDecisionOracle struct {
	mock.Mock
}

func (m *MockDecisionOracle) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(DecisionRequest) *Decision); ok {
		return fn(req), args.Error(1)
	}
	d, _ := args.Get(0).(*Decision)
	return d, args.Error(1)
}

func (m *MockDecisionOracle) Judge(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) RecordAction(ctx context.Context, sessionID string, rec ActionRecord) error {
	args := m.Called(ctx, sessionID, rec)
	return args.Error(0)
}

func (m *MockJournal) RecordRun(ctx context.Context, result RunResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Scripted surface --

// fakeSurface is a page that changes structure whenever an action listed in
// changing succeeds.
type fakeSurface struct {
	mu       sync.Mutex
	url      string
	version  int
	changing map[string]bool
	failing  map[string]string
	elements []schemas.Element
	executed []string
}

var (
	_ schemas.PageModelProvider = (*fakeSurface)(nil)
	_ schemas.ActionBackend     = (*fakeSurface)(nil)
)

func newFakeSurface(url string, changing ...string) *fakeSurface {
	f := &fakeSurface{
		url:      url,
		changing: map[string]bool{},
		failing:  map[string]string{},
		elements: []schemas.Element{
			{Kind: schemas.KindInput, Selector: "input#q", Text: "Search", Visible: true},
			{Kind: schemas.KindButton, Selector: "#submit", Text: "Submit", Visible: true},
		},
	}
	for _, a := range changing {
		f.changing[a] = true
	}
	return f
}

func (f *fakeSurface) snapshotLocked() schemas.PageStateSnapshot {
	return schemas.PageStateSnapshot{
		URL:              f.url,
		Title:            "Fake",
		DOMHash:          fmt.Sprintf("%s-v%d", schemas.Fingerprint(len(f.elements), 0, 0), f.version),
		InteractiveCount: len(f.elements) + f.version,
	}
}

func (f *fakeSurface) Extract(ctx context.Context) (*schemas.PageModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &schemas.PageModel{
		URL:         f.url,
		Title:       "Fake",
		Elements:    append([]schemas.Element(nil), f.elements...),
		TextPreview: "A fake page used in tests.",
		State:       f.snapshotLocked(),
	}, nil
}

func (f *fakeSurface) Snapshot(ctx context.Context) (schemas.PageStateSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked(), nil
}

func (f *fakeSurface) Execute(ctx context.Context, action string, params map[string]interface{}) (schemas.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, action)
	if msg, ok := f.failing[action]; ok {
		return schemas.ActionResult{Success: false, Error: msg}, nil
	}
	if f.changing[action] {
		f.version++
	}
	if action == "extract_text" {
		return schemas.ActionResult{Success: true, Data: map[string]interface{}{"text": "42 EUR"}}, nil
	}
	return schemas.ActionResult{Success: true}, nil
}

func (f *fakeSurface) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

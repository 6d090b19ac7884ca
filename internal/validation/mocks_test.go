package validation

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockJudge is a testify mock for the Judge interface.
type MockJudge struct {
	mock.Mock
}

func (m *MockJudge) Judge(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

package task

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRunner is a mock implementation of the Runner interface for testing.
type MockRunner struct {
	mock.Mock
}

// Run is the mock implementation of the Run method.
func (m *MockRunner) Run(ctx context.Context, payloadPath string) (Outcome, error) {
	args := m.Called(ctx, payloadPath)
	return args.Get(0).(Outcome), args.Error(1)
}

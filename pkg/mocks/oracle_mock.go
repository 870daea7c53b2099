package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockOracle is a mock implementation of conditions.Oracle interface.
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Judge(ctx context.Context, text, criterion string) (bool, error) {
	args := m.Called(ctx, text, criterion)

	return args.Bool(0), args.Error(1)
}

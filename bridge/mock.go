package bridge

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// MockAccountRegistry mocks the AccountRegistry interface
type MockAccountRegistry struct {
	mock.Mock
}

// EnsureAccount mocks the EnsureAccount method
func (m *MockAccountRegistry) EnsureAccount(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

// EnsureSignersOwned mocks the EnsureSignersOwned method
func (m *MockAccountRegistry) EnsureSignersOwned(ctx context.Context, accountID string, wallets []string) error {
	args := m.Called(ctx, accountID, wallets)
	return args.Error(0)
}

// MockDispatcher mocks the Dispatcher interface
type MockDispatcher struct {
	mock.Mock
}

// Dispatch mocks the Dispatch method
func (m *MockDispatcher) Dispatch(ctx context.Context, req interfaces.Request, key interfaces.Key) error {
	args := m.Called(ctx, req, key)
	return args.Error(0)
}

package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/irfndi/esp-selector-go/internal/cache"
)

// MockCacheAdmin is a mock implementation of CacheAdmin for testing
type MockCacheAdmin struct {
	mock.Mock
}

func (m *MockCacheAdmin) GetStats() cache.CacheStats {
	args := m.Called()
	return args.Get(0).(cache.CacheStats)
}

func (m *MockCacheAdmin) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCacheAdmin) Invalidate(ctx context.Context, pumpID string) {
	m.Called(ctx, pumpID)
}

func (m *MockCacheAdmin) LogStats() {
	m.Called()
}

// MockHealthChecker is a mock implementation of HealthChecker for testing
type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

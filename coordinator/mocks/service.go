package mocks

import (
	"context"

	"github.com/absmach/flround/coordinator"
	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/mqtt"
	"github.com/stretchr/testify/mock"
)

var _ coordinator.Service = (*MockService)(nil)

// MockService is a mock implementation of the coordinator.Service interface
type MockService struct {
	mock.Mock
}

func (m *MockService) Run(ctx context.Context, handler mqtt.Handler) error {
	args := m.Called(ctx, handler)

	return args.Error(0)
}

func (m *MockService) Handle(ctx context.Context, topic string, payload []byte) error {
	args := m.Called(ctx, topic, payload)

	return args.Error(0)
}

func (m *MockService) Status(ctx context.Context) (coordinator.Status, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.Status), args.Error(1)
}

func (m *MockService) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(fl.RoundPage), args.Error(1)
}

func (m *MockService) GetRound(ctx context.Context, round uint64) (fl.RoundRecord, error) {
	args := m.Called(ctx, round)

	return args.Get(0).(fl.RoundRecord), args.Error(1)
}

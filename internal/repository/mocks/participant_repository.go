package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"ripple/internal/domain"
)

// ParticipantRepository 是 repository.ParticipantRepository 的 mock 实现
type ParticipantRepository struct {
	mock.Mock
}

func (m *ParticipantRepository) Create(ctx context.Context, p *domain.Participant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *ParticipantRepository) Find(ctx context.Context, roomID, sessionID string) (*domain.Participant, error) {
	args := m.Called(ctx, roomID, sessionID)
	p, _ := args.Get(0).(*domain.Participant)
	return p, args.Error(1)
}

func (m *ParticipantRepository) Count(ctx context.Context, roomID string) (int64, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ParticipantRepository) Touch(ctx context.Context, roomID, sessionID string, at time.Time) error {
	args := m.Called(ctx, roomID, sessionID, at)
	return args.Error(0)
}

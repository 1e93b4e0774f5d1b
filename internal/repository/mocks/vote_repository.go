package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ripple/internal/domain"
)

// VoteRepository 是 repository.VoteRepository 的 mock 实现
type VoteRepository struct {
	mock.Mock
}

func (m *VoteRepository) Find(ctx context.Context, postID, sessionID string) (*domain.Vote, error) {
	args := m.Called(ctx, postID, sessionID)
	v, _ := args.Get(0).(*domain.Vote)
	return v, args.Error(1)
}

func (m *VoteRepository) Apply(ctx context.Context, vote *domain.Vote, delta int) (int, error) {
	args := m.Called(ctx, vote, delta)
	return args.Int(0), args.Error(1)
}

package repository

import (
	"context"

	"ripple/internal/domain"
)

// VoteRepository 定义了投票的存储操作。
type VoteRepository interface {
	// Find 查找会话对帖子的当前投票，不存在时返回 ErrVoteNotFound。
	Find(ctx context.Context, postID, sessionID string) (*domain.Vote, error)

	// Apply 在同一个事务中写入(插入或覆盖)投票记录并把 delta 累加到帖子分数上，
	// 返回帖子的新分数。帖子不存在时返回 ErrPostNotFound。
	Apply(ctx context.Context, vote *domain.Vote, delta int) (int, error)
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"ripple/internal/domain"
	"ripple/internal/repository"
)

// VoteLedger 保证每个 (帖子, 会话) 只有一票，并在投票变化时更新帖子分数。
//
// 同一帖子的投票在进程内按帖子串行化，读取旧票、写入新票和分数累加都在锁内完成，
// 后到的写者一定看到先到写者存下的票。写票与改分数由存储层放在同一个事务里。
type VoteLedger struct {
	votes repository.VoteRepository
	locks *keyedMutex
	now   func() time.Time
}

// NewVoteLedger 创建 VoteLedger 实例。
func NewVoteLedger(votes repository.VoteRepository) *VoteLedger {
	if votes == nil {
		panic("VoteRepository cannot be nil for VoteLedger")
	}
	return &VoteLedger{
		votes: votes,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Cast 记录会话对帖子的投票并返回帖子的新分数。
// 首次投票分数加上方向值；同方向重投只更新时间；反向改票分数变化 new-old (±2)。
func (l *VoteLedger) Cast(ctx context.Context, postID, sessionID string, direction domain.VoteDirection) (int, error) {
	unlock := l.locks.Lock(postID)
	defer unlock()

	now := l.now()
	var (
		vote  domain.Vote
		delta int
	)
	existing, err := l.votes.Find(ctx, postID, sessionID)
	switch {
	case err == nil:
		vote = *existing
		delta = direction.Value() - existing.VoteType.Value()
		vote.VoteType = direction
		vote.UpdatedAt = now
	case errors.Is(err, repository.ErrNotFound):
		vote = domain.Vote{
			ID:        ulid.Make().String(),
			PostID:    postID,
			SessionID: sessionID,
			VoteType:  direction,
			CreatedAt: now,
			UpdatedAt: now,
		}
		delta = direction.Value()
	default:
		return 0, storageError("find vote", err)
	}

	score, err := l.votes.Apply(ctx, &vote, delta)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrPostNotFound
		}
		return 0, storageError("apply vote", err)
	}

	logrus.WithFields(logrus.Fields{
		"post_id":    postID,
		"session_id": sessionID,
		"direction":  direction,
		"delta":      delta,
		"score":      score,
	}).Debug("Vote cast")
	return score, nil
}

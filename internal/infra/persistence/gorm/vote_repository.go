package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ripple/internal/domain"
	"ripple/internal/repository"
)

// GormVoteRepository 是 VoteRepository 接口的 GORM 实现
type GormVoteRepository struct {
	db *gorm.DB
}

// NewGormVoteRepository 创建 GormVoteRepository 实例
func NewGormVoteRepository(db *gorm.DB) *GormVoteRepository {
	if db == nil {
		panic("database connection cannot be nil for GormVoteRepository")
	}
	return &GormVoteRepository{db: db}
}

func (r *GormVoteRepository) Find(ctx context.Context, postID, sessionID string) (*domain.Vote, error) {
	var vote domain.Vote
	err := r.db.WithContext(ctx).
		Where("post_id = ? AND session_id = ?", postID, sessionID).
		First(&vote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrVoteNotFound
		}
		return nil, fmt.Errorf("gorm: find vote (post: %s): %w", postID, err)
	}
	return &vote, nil
}

// Apply 在一个事务里完成投票 upsert 与分数累加，两者要么都生效要么都不生效
func (r *GormVoteRepository) Apply(ctx context.Context, vote *domain.Vote, delta int) (int, error) {
	var score int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Post{}).Where("id = ?", vote.PostID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return repository.ErrPostNotFound
		}

		// (post_id, session_id) 冲突时只覆盖方向和更新时间
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "post_id"}, {Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"vote_type", "updated_at"}),
		}).Create(vote).Error
		if err != nil {
			return err
		}

		if delta != 0 {
			err = tx.Model(&domain.Post{}).Where("id = ?", vote.PostID).
				UpdateColumn("vote_score", gorm.Expr("vote_score + ?", delta)).Error
			if err != nil {
				return err
			}
		}
		return tx.Model(&domain.Post{}).Select("vote_score").Where("id = ?", vote.PostID).Scan(&score).Error
	})
	if err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("gorm: apply vote (post: %s): %w", vote.PostID, err)
	}
	return score, nil
}

package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"ripple/internal/domain"
	"ripple/internal/repository"
)

// GormPostRepository 是 PostRepository 接口的 GORM 实现
type GormPostRepository struct {
	db *gorm.DB
}

// NewGormPostRepository 创建 GormPostRepository 实例
func NewGormPostRepository(db *gorm.DB) *GormPostRepository {
	if db == nil {
		panic("database connection cannot be nil for GormPostRepository")
	}
	return &GormPostRepository{db: db}
}

func (r *GormPostRepository) Create(ctx context.Context, post *domain.Post) error {
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("gorm: create post (room: %s): %w", post.RoomID, err)
	}
	return nil
}

func (r *GormPostRepository) FindByID(ctx context.Context, id string) (*domain.Post, error) {
	var post domain.Post
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrPostNotFound
		}
		return nil, fmt.Errorf("gorm: find post by id %s: %w", id, err)
	}
	return &post, nil
}

// ListByRoom 按创建时间升序返回房间内的全部帖子，ID 作为同一时刻的次序
func (r *GormPostRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Post, error) {
	var posts []domain.Post
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").Order("id ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list posts (room: %s): %w", roomID, err)
	}
	return posts, nil
}

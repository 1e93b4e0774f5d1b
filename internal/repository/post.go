package repository

import (
	"context"

	"ripple/internal/domain"
)

// PostRepository 定义了帖子的存储操作。
type PostRepository interface {
	Create(ctx context.Context, post *domain.Post) error

	// FindByID 不存在时返回 ErrPostNotFound。
	FindByID(ctx context.Context, id string) (*domain.Post, error)

	// ListByRoom 返回房间内全部帖子，按创建时间升序。
	ListByRoom(ctx context.Context, roomID string) ([]domain.Post, error)
}

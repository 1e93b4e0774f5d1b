package repository

import (
	"context"
	"time"

	"ripple/internal/domain"
)

// RoomRepository 定义了房间数据的存储和检索操作。
type RoomRepository interface {
	// Create 保存新房间。
	Create(ctx context.Context, room *domain.Room) error

	// FindByID 根据房间 ID 查找房间。不存在时返回 ErrRoomNotFound。
	// 不判断是否过期，由调用方决定。
	FindByID(ctx context.Context, id string) (*domain.Room, error)

	// ListExpired 返回过期时间早于 now 的房间，清理任务使用。
	ListExpired(ctx context.Context, now time.Time) ([]domain.Room, error)

	// MarkClosed 将房间标记为已关闭。
	MarkClosed(ctx context.Context, id string) error

	// Delete 删除房间及其帖子、投票、参与者。
	Delete(ctx context.Context, id string) error
}

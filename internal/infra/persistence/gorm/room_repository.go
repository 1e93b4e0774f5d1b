package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ripple/internal/domain"
	"ripple/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// Create 保存新房间
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create room %s: %w", room.ID, err)
	}
	return nil
}

// FindByID 实现根据房间 ID 查找房间
func (r *GormRoomRepository) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %s: %w", id, err)
	}
	return &room, nil
}

// ListExpired 返回已过期或已关闭的房间。
// 已关闭但上次删除失败的房间也会被再次返回，交给下一轮清理。
func (r *GormRoomRepository) ListExpired(ctx context.Context, now time.Time) ([]domain.Room, error) {
	var rooms []domain.Room
	err := r.db.WithContext(ctx).
		Where("expires_at <= ? OR is_active = ?", now, false).
		Order("expires_at ASC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list expired rooms: %w", err)
	}
	return rooms, nil
}

// MarkClosed 将房间标记为已关闭
func (r *GormRoomRepository) MarkClosed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&domain.Room{}).Where("id = ?", id).Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("gorm: close room %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrRoomNotFound
	}
	return nil
}

// Delete 在一个事务内删除房间及其全部关联数据。房间已不存在时视为成功。
func (r *GormRoomRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		postIDs := tx.Model(&domain.Post{}).Select("id").Where("room_id = ?", id)
		if err := tx.Where("post_id IN (?)", postIDs).Delete(&domain.Vote{}).Error; err != nil {
			return fmt.Errorf("delete votes: %w", err)
		}
		if err := tx.Where("room_id = ?", id).Delete(&domain.Post{}).Error; err != nil {
			return fmt.Errorf("delete posts: %w", err)
		}
		if err := tx.Where("room_id = ?", id).Delete(&domain.Participant{}).Error; err != nil {
			return fmt.Errorf("delete participants: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&domain.Room{}).Error; err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("gorm: delete room %s: %w", id, err)
	}
	return nil
}

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

// GormParticipantRepository 是 ParticipantRepository 接口的 GORM 实现
type GormParticipantRepository struct {
	db *gorm.DB
}

// NewGormParticipantRepository 创建 GormParticipantRepository 实例
func NewGormParticipantRepository(db *gorm.DB) *GormParticipantRepository {
	if db == nil {
		panic("database connection cannot be nil for GormParticipantRepository")
	}
	return &GormParticipantRepository{db: db}
}

func (r *GormParticipantRepository) Create(ctx context.Context, p *domain.Participant) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create participant (room: %s): %w", p.RoomID, err)
	}
	return nil
}

func (r *GormParticipantRepository) Find(ctx context.Context, roomID, sessionID string) (*domain.Participant, error) {
	var p domain.Participant
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND session_id = ?", roomID, sessionID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("gorm: find participant (room: %s): %w", roomID, err)
	}
	return &p, nil
}

func (r *GormParticipantRepository) Count(ctx context.Context, roomID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Participant{}).Where("room_id = ?", roomID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count participants (room: %s): %w", roomID, err)
	}
	return count, nil
}

func (r *GormParticipantRepository) Touch(ctx context.Context, roomID, sessionID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("room_id = ? AND session_id = ?", roomID, sessionID).
		Update("last_seen", at)
	if result.Error != nil {
		return fmt.Errorf("gorm: touch participant (room: %s): %w", roomID, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrParticipantNotFound
	}
	return nil
}

package repository

import (
	"context"
	"time"

	"ripple/internal/domain"
)

// ParticipantRepository 定义了房间参与者的存储操作。
type ParticipantRepository interface {
	// Create 保存新参与者。(room_id, session_id) 已存在时返回 ErrDuplicateEntry。
	Create(ctx context.Context, p *domain.Participant) error

	// Find 查找会话在房间中的参与者记录，不存在时返回 ErrParticipantNotFound。
	Find(ctx context.Context, roomID, sessionID string) (*domain.Participant, error)

	// Count 返回房间的参与者数量。
	Count(ctx context.Context, roomID string) (int64, error)

	// Touch 刷新参与者的 last_seen。
	Touch(ctx context.Context, roomID, sessionID string, at time.Time) error
}

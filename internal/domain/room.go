package domain

import "time"

// Room 表示一个有时限的匿名讨论房间。
type Room struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`     // 房间唯一标识符 (uuid)
	Topic           *string   `gorm:"size:200" json:"topic"`            // 可选话题
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"` // 创建时间 (GORM 自动填充)
	ExpiresAt       time.Time `gorm:"index;not null" json:"expires_at"` // 过期时间，清理任务按此字段扫描
	MaxParticipants int       `gorm:"not null;default:100" json:"max_participants"`
	IsActive        bool      `gorm:"not null;default:true" json:"is_active"` // 清理任务关闭房间时置为 false
}

// Addressable 报告房间在 now 时刻是否仍可访问。
// 已关闭或已过期的房间在逻辑上都视为不存在，即便数据库记录还没被清理。
func (r *Room) Addressable(now time.Time) bool {
	return r.IsActive && now.Before(r.ExpiresAt)
}

// TimeRemaining 返回距离过期的剩余时间，过期后为 0。
func (r *Room) TimeRemaining(now time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

package domain

import "time"

// Participant 是某个会话在某个房间内的匿名身份。
// (room_id, session_id) 唯一，重复加入只刷新 LastSeen。
type Participant struct {
	ID          string    `gorm:"primaryKey;size:26" json:"id"`
	RoomID      string    `gorm:"size:36;not null;uniqueIndex:idx_participant_room_session" json:"room_id"`
	SessionID   string    `gorm:"size:64;not null;uniqueIndex:idx_participant_room_session" json:"session_id"`
	AnonymousID string    `gorm:"size:64;not null" json:"anonymous_id"` // 由 identity.Derive 派生的化名
	JoinedAt    time.Time `gorm:"not null" json:"joined_at"`
	LastSeen    time.Time `gorm:"not null" json:"last_seen"`
}

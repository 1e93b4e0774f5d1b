package domain

import "time"

// Post 表示房间内的一条消息。ParentID 为空即为顶层帖子，否则为回复。
type Post struct {
	ID          string    `gorm:"primaryKey;size:26" json:"id"`
	RoomID      string    `gorm:"size:36;not null;index" json:"room_id"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	AnonymousID string    `gorm:"size:64;not null" json:"anonymous_id"` // 创建时从 Participant 复制，之后不再重新派生
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
	ParentID    *string   `gorm:"size:26;index" json:"parent_id"`
	VoteScore   int       `gorm:"not null;default:0" json:"vote_score"`
}

// IsReply 报告帖子是否为回复。
func (p *Post) IsReply() bool {
	return p.ParentID != nil && *p.ParentID != ""
}

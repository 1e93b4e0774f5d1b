package domain

import (
	"fmt"
	"time"
)

// VoteDirection 是投票方向。
type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)

// ParseVoteDirection 校验并转换客户端提交的投票方向。
func ParseVoteDirection(s string) (VoteDirection, error) {
	switch VoteDirection(s) {
	case VoteUp, VoteDown:
		return VoteDirection(s), nil
	default:
		return "", fmt.Errorf("unknown vote direction %q", s)
	}
}

// Value 返回方向对应的分值：up 为 +1，down 为 -1。
func (d VoteDirection) Value() int {
	if d == VoteUp {
		return 1
	}
	return -1
}

// Vote 记录某个会话对某条帖子的当前投票，(post_id, session_id) 唯一。
type Vote struct {
	ID        string        `gorm:"primaryKey;size:26" json:"id"`
	PostID    string        `gorm:"size:26;not null;uniqueIndex:idx_vote_post_session" json:"post_id"`
	SessionID string        `gorm:"size:64;not null;uniqueIndex:idx_vote_post_session" json:"session_id"`
	VoteType  VoteDirection `gorm:"size:4;not null" json:"vote_type"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time     `gorm:"not null" json:"updated_at"`
}

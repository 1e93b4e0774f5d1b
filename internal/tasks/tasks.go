package tasks

import (
	"encoding/json"
	"time"
)

// 定义任务类型常量
const (
	TypeRoomSweep = "room:sweep" // 过期房间清理任务类型
)

// RoomSweepPayload 是清理任务的载荷，只记录周期任务的注册时间用于日志
type RoomSweepPayload struct {
	RegisteredAt time.Time `json:"registered_at"`
}

// NewRoomSweepTask 创建清理任务的载荷
func NewRoomSweepTask(at time.Time) ([]byte, error) {
	payload := RoomSweepPayload{RegisteredAt: at}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return payloadBytes, nil
}

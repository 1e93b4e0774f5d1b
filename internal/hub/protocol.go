package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ripple/internal/domain"
)

// 客户端可以发送的消息类型
const (
	MessagePing      = "ping"
	MessageHeartbeat = "heartbeat"
)

const presenceTimeout = 5 * time.Second

// Presence 在收到心跳时刷新会话的在线时间。
type Presence interface {
	Touch(ctx context.Context, roomID, sessionID string) error
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type pingData struct {
	Timestamp interface{} `json:"timestamp"`
}

// HandleMessage 处理连接上收到的一条文本消息。
// 协议错误以 error 事件回复给同一个连接，不关闭连接。
func (h *Hub) HandleMessage(c *Conn, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reply(c, domain.ErrorEvent("Invalid JSON format"))
		return
	}

	switch msg.Type {
	case MessagePing:
		var data pingData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				h.reply(c, domain.ErrorEvent("Invalid JSON format"))
				return
			}
		}
		h.reply(c, domain.NewEvent(domain.EventPong, map[string]interface{}{"timestamp": data.Timestamp}))

	case MessageHeartbeat:
		if h.presence == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := h.presence.Touch(ctx, c.roomID, c.sessionID); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"room_id":    c.roomID,
				"session_id": c.sessionID,
			}).Warn("Failed to refresh last seen on heartbeat")
		}

	default:
		h.reply(c, domain.ErrorEvent(fmt.Sprintf("Unknown message type: %s", msg.Type)))
	}
}

func (h *Hub) reply(c *Conn, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal reply")
		return
	}
	h.deliver(c, data)
}

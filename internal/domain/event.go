package domain

// 推送给客户端的事件类型
const (
	EventNewPost      = "new_post"
	EventNewVote      = "new_vote"
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventRoomExpiring = "room_expiring"
	EventRoomExpired  = "room_expired"
	EventPong         = "pong"
	EventError        = "error"
)

// Event 是实时连接上收发消息的统一信封。
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewEvent 构造一个事件。
func NewEvent(eventType string, data interface{}) Event {
	return Event{Type: eventType, Data: data}
}

// ErrorEvent 构造一个 error 类型的事件。
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Data: map[string]string{"message": message}}
}

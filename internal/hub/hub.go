// Package hub 维护房间到实时连接的映射，负责事件扇出、加入/离开通知和过期关闭。
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"ripple/internal/domain"
)

const (
	// 单次写入允许的最长时间，超时的连接被视为断开
	writeWait = 10 * time.Second
	// 等待对端 Pong 的最长时间
	pongWait = 60 * time.Second
	// 发送 Ping 的周期，必须小于 pongWait
	pingPeriod = (pongWait * 9) / 10
	// MaxMessageSize 是允许从对端读取的最大消息字节数
	MaxMessageSize = 4096
	// 每个连接的发送队列长度
	sendQueueSize = 64
	// 已过期房间的拒绝记录保留时间
	expiredRetention = time.Hour
)

// WebSocket 关闭码
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

var (
	ErrAlreadyRegistered = errors.New("hub: connection already registered")
	ErrConnClosed        = errors.New("hub: connection closed during registration")
	ErrRoomExpired       = errors.New("hub: room has expired")
)

// Options 配置 Hub，零值字段使用默认值。
type Options struct {
	SendTimeout   time.Duration // 单次发送超时
	SendQueueSize int           // 每个连接的发送队列长度
	PingPeriod    time.Duration // 心跳 Ping 周期
}

func (o Options) withDefaults() Options {
	if o.SendTimeout <= 0 {
		o.SendTimeout = writeWait
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = sendQueueSize
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = pingPeriod
	}
	return o
}

// roomConns 是单个房间的连接集合。dead 表示该集合已从 Hub 中摘除，不能再加入连接。
type roomConns struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
	dead  atomic.Bool
}

// Hub 维护 房间 -> 连接集合 与 连接 -> 会话 两张表，两者各自加锁，
// 每个房间的连接集合还有自己的锁，任何操作同一时刻最多持有其中一把。
type Hub struct {
	presence Presence
	opts     Options
	log      *logrus.Entry

	roomsMu sync.RWMutex
	rooms   map[string]*roomConns
	expired map[string]time.Time // 已过期的房间，之后的注册一律拒绝

	sessionsMu sync.RWMutex
	sessions   map[*Conn]string
}

// NewHub 创建 Hub 实例。presence 可以为 nil，此时心跳不刷新在线时间。
func NewHub(presence Presence, opts Options) *Hub {
	return &Hub{
		presence: presence,
		opts:     opts.withDefaults(),
		log:      logrus.WithField("component", "hub"),
		rooms:    make(map[string]*roomConns),
		expired:  make(map[string]time.Time),
		sessions: make(map[*Conn]string),
	}
}

// Register 把处于 Connecting 状态的连接加入房间，并向房间内其他连接广播 user_joined。
// 房间已被 NotifyExpired 关闭时以 1000 "Room expired" 关闭连接并返回 ErrRoomExpired。
func (h *Hub) Register(c *Conn) error {
	if c.State() != StateConnecting || c.hub != h {
		return ErrAlreadyRegistered
	}

	h.sessionsMu.Lock()
	h.sessions[c] = c.sessionID
	h.sessionsMu.Unlock()

	var count int
	for {
		rc := h.liveRoom(c.roomID)
		if rc == nil {
			h.closeConn(c, CloseNormal, "Room expired", false)
			h.log.WithFields(logrus.Fields{
				"room_id":    c.roomID,
				"session_id": c.sessionID,
			}).Info("Rejected connection to expired room")
			return ErrRoomExpired
		}
		rc.mu.Lock()
		if rc.dead.Load() {
			rc.mu.Unlock()
			continue
		}
		rc.conns[c] = struct{}{}
		count = len(rc.conns)
		rc.mu.Unlock()
		break
	}

	c.start()
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		// 注册过程中被并发关闭，撤销加入
		h.detach(c)
		return ErrConnClosed
	}

	h.log.WithFields(logrus.Fields{
		"room_id":    c.roomID,
		"session_id": c.sessionID,
		"live":       count,
	}).Info("Connection registered")
	h.Broadcast(c.roomID, domain.NewEvent(domain.EventUserJoined, countPayload(count)), c)
	return nil
}

// Unregister 关闭连接并把它从房间中移除。可重复调用，只有第一次生效。
// 房间仍有其他连接时向它们广播 user_left，否则丢弃房间的扇出表项。
func (h *Hub) Unregister(c *Conn) {
	h.closeConn(c, CloseNormal, "", true)
}

// Broadcast 把事件按调用顺序投递给房间内除 exclude 外的所有连接。
// 每个连接由自己的写协程发送，慢连接不会拖慢其他连接；发送队列已满的连接被注销。
func (h *Hub) Broadcast(roomID string, event domain.Event, exclude *Conn) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).WithField("type", event.Type).Error("Failed to marshal broadcast event")
		return
	}
	h.broadcastRaw(roomID, data, exclude)
}

// Publish 向房间内所有连接广播事件。
func (h *Hub) Publish(roomID string, event domain.Event) {
	h.Broadcast(roomID, event, nil)
}

// SendToSession 把事件发给房间内属于 sessionID 的所有连接，返回投递的连接数。
func (h *Hub) SendToSession(roomID, sessionID string, event domain.Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).WithField("type", event.Type).Error("Failed to marshal event")
		return 0
	}

	var targets []*Conn
	h.sessionsMu.RLock()
	for c, sid := range h.sessions {
		if sid == sessionID && c.roomID == roomID {
			targets = append(targets, c)
		}
	}
	h.sessionsMu.RUnlock()

	sent := 0
	for _, c := range targets {
		if h.deliver(c, data) {
			sent++
		}
	}
	return sent
}

// LiveCount 返回房间当前的实时连接数。
func (h *Hub) LiveCount(roomID string) int {
	rc := h.room(roomID)
	if rc == nil {
		return 0
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.conns)
}

// ActiveRooms 返回当前有实时连接的房间 ID。
func (h *Hub) ActiveRooms() []string {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// NotifyExpiring 通知房间即将过期。
func (h *Hub) NotifyExpiring(roomID string, minutesRemaining int) {
	h.Broadcast(roomID, domain.NewEvent(domain.EventRoomExpiring, map[string]interface{}{
		"minutes_remaining": minutesRemaining,
		"message":           fmt.Sprintf("This room will expire in %d minutes", minutesRemaining),
	}), nil)
}

// NotifyExpired 向房间内所有连接发送 room_expired，随后强制关闭它们，并无条件移除房间的扇出表项。
// 返回被关闭的连接数。
func (h *Hub) NotifyExpired(roomID string) int {
	data, err := json.Marshal(domain.NewEvent(domain.EventRoomExpired, map[string]string{
		"message": "This room has expired and will be closed",
	}))
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal room_expired event")
		data = nil
	}
	return h.closeRoom(roomID, data, CloseNormal, "Room expired", true)
}

// Shutdown 关闭所有房间的所有连接，进程退出时调用。
func (h *Hub) Shutdown() {
	total := 0
	for _, roomID := range h.ActiveRooms() {
		total += h.closeRoom(roomID, nil, CloseGoingAway, "Server shutting down", false)
	}
	h.log.WithField("closed", total).Info("Hub shut down")
}

// closeRoom 摘除房间的连接集合，先把 final 排入每个连接的队列再关闭它们。
// expire 为 true 时同时记录房间已过期，与摘除在同一把锁内完成，此后 Register 不会再创建该房间。
func (h *Hub) closeRoom(roomID string, final []byte, code int, reason string, expire bool) int {
	h.roomsMu.Lock()
	rc, ok := h.rooms[roomID]
	delete(h.rooms, roomID)
	if expire {
		now := time.Now()
		for id, at := range h.expired {
			if now.Sub(at) > expiredRetention {
				delete(h.expired, id)
			}
		}
		h.expired[roomID] = now
	}
	h.roomsMu.Unlock()
	if !ok {
		return 0
	}

	rc.mu.Lock()
	rc.dead.Store(true)
	conns := make([]*Conn, 0, len(rc.conns))
	for c := range rc.conns {
		if final != nil {
			c.enqueue(final) // 队列满时放弃通知，连接照常关闭
		}
		conns = append(conns, c)
	}
	rc.conns = make(map[*Conn]struct{})
	rc.mu.Unlock()

	for _, c := range conns {
		h.closeConn(c, code, reason, false)
	}
	h.log.WithFields(logrus.Fields{"room_id": roomID, "closed": len(conns), "reason": reason}).Info("Room connections closed")
	return len(conns)
}

// closeConn 驱动连接 Open/Connecting -> Closing -> Closed。
func (h *Hub) closeConn(c *Conn, code int, reason string, notify bool) {
	if !c.beginClose() {
		return
	}

	h.sessionsMu.Lock()
	delete(h.sessions, c)
	h.sessionsMu.Unlock()

	remaining, removed := h.detach(c)
	c.requestClose(code, reason)

	h.log.WithFields(logrus.Fields{
		"room_id":    c.roomID,
		"session_id": c.sessionID,
		"remaining":  remaining,
	}).Info("Connection unregistered")

	if notify && removed && remaining > 0 {
		h.Broadcast(c.roomID, domain.NewEvent(domain.EventUserLeft, countPayload(remaining)), nil)
	}
}

// detach 把连接从房间集合中移除，返回剩余连接数以及连接是否确实在集合中。
// 集合变空时把它从 rooms 中删除。
func (h *Hub) detach(c *Conn) (int, bool) {
	rc := h.room(c.roomID)
	if rc == nil {
		return 0, false
	}

	rc.mu.Lock()
	if _, ok := rc.conns[c]; !ok {
		rc.mu.Unlock()
		return 0, false
	}
	delete(rc.conns, c)
	remaining := len(rc.conns)
	if remaining == 0 {
		rc.dead.Store(true)
	}
	rc.mu.Unlock()

	if remaining == 0 {
		h.roomsMu.Lock()
		if h.rooms[c.roomID] == rc {
			delete(h.rooms, c.roomID)
		}
		h.roomsMu.Unlock()
	}
	return remaining, true
}

func (h *Hub) broadcastRaw(roomID string, data []byte, exclude *Conn) {
	rc := h.room(roomID)
	if rc == nil {
		return
	}

	// 在房间锁内排队，保证同一房间的广播在每个连接上按调用顺序出现
	var overflow []*Conn
	rc.mu.Lock()
	for c := range rc.conns {
		if c == exclude {
			continue
		}
		if !c.enqueue(data) {
			overflow = append(overflow, c)
		}
	}
	rc.mu.Unlock()

	for _, c := range overflow {
		h.log.WithFields(logrus.Fields{"room_id": roomID, "session_id": c.sessionID}).Warn("Send queue full, dropping slow connection")
		h.Unregister(c)
	}
}

// deliver 把数据排入单个连接的队列，失败时注销该连接。
func (h *Hub) deliver(c *Conn, data []byte) bool {
	if c.enqueue(data) {
		return true
	}
	h.log.WithFields(logrus.Fields{"room_id": c.roomID, "session_id": c.sessionID}).Warn("Send queue full, dropping slow connection")
	h.Unregister(c)
	return false
}

func (h *Hub) room(roomID string) *roomConns {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return h.rooms[roomID]
}

// liveRoom 返回房间当前可用的连接集合，不存在或已摘除时新建一个。房间已过期时返回 nil。
func (h *Hub) liveRoom(roomID string) *roomConns {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	if _, gone := h.expired[roomID]; gone {
		return nil
	}
	rc, ok := h.rooms[roomID]
	if !ok || rc.dead.Load() {
		rc = &roomConns{conns: make(map[*Conn]struct{})}
		h.rooms[roomID] = rc
	}
	return rc
}

func countPayload(n int) map[string]int {
	return map[string]int{"participant_count": n}
}

package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ripple/internal/hub"
	"ripple/internal/middleware"
	"ripple/internal/service"
)

// 应用自定义关闭码
const (
	CloseRoomNotFound = 4004
	CloseCannotJoin   = 4003
)

const (
	// 等待对端 Pong 的最长时间，Hub 的 Ping 周期必须小于该值
	pongWait = 60 * time.Second
	// 发送关闭帧的超时
	closeGracePeriod = time.Second
)

// WebSocketHandler 负责处理 WebSocket 升级请求和连接注册
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	registry *service.Registry
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。allowedOrigin 为 "*" 时允许所有来源。
func NewWebSocketHandler(h *hub.Hub, registry *service.Registry, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if registry == nil {
		panic("Registry cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader: upgrader,
		hub:      h,
		registry: registry,
	}
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /api/rooms/{id}/ws
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	roomID := c.Param("id")
	sessionID := middleware.SessionID(c)
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "session_id": sessionID})

	// 1. 升级连接。房间校验的结果以关闭码告知客户端，所以先升级
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 方法会自动发送 HTTP 错误响应，所以这里只需要记录日志
		logCtx.WithError(err).Warn("WS Handler: Failed to upgrade connection")
		return
	}
	transport := &wsTransport{conn: conn}

	// 2. 房间必须存在且未过期
	ctx := c.Request.Context()
	if _, err := h.registry.Get(ctx, roomID); err != nil {
		if !errors.Is(err, service.ErrNotFound) {
			logCtx.WithError(err).Error("WS Handler: Failed to load room")
		}
		_ = transport.Close(CloseRoomNotFound, "Room not found or expired")
		return
	}

	// 3. 以参与者身份加入
	if _, err := h.registry.Join(ctx, roomID, sessionID); err != nil {
		logCtx.WithError(err).Warn("WS Handler: Join rejected")
		_ = transport.Close(CloseCannotJoin, "Cannot join room")
		return
	}

	// 4. 注册到 Hub，写协程由 Hub 启动
	client := h.hub.NewConn(transport, roomID, sessionID)
	if err := h.hub.Register(client); err != nil {
		if errors.Is(err, hub.ErrRoomExpired) {
			// Hub 已发送 1000 "Room expired" 并关闭连接
			logCtx.Info("WS Handler: Room expired before registration")
			return
		}
		logCtx.WithError(err).Error("WS Handler: Failed to register connection")
		_ = transport.Close(hub.CloseGoingAway, "Registration failed")
		return
	}
	logCtx.Info("WS Handler: Connection registered")

	go h.readPump(conn, client, logCtx)
}

// readPump 从连接读取消息交给 Hub 处理，读失败或对端关闭时注销连接
func (h *WebSocketHandler) readPump(conn *websocket.Conn, client *hub.Conn, logCtx *logrus.Entry) {
	defer h.hub.Unregister(client)

	conn.SetReadLimit(hub.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logCtx.WithError(err).Warn("WS Handler: Unexpected close")
			} else {
				logCtx.WithError(err).Debug("WS Handler: Read loop finished")
			}
			return
		}
		// 任意入站数据都说明对端仍在线
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		h.hub.HandleMessage(client, message)
	}
}

// wsTransport 把 gorilla 连接适配为 hub.Transport。
// 写方法只由 Hub 的写协程调用，满足 gorilla 单写者的要求。
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteText(data []byte, deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) WritePing(deadline time.Time) error {
	return t.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (t *wsTransport) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	// 对端可能已断开，关闭帧发送失败不影响关闭底层连接
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return t.conn.Close()
}

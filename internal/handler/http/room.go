package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ripple/internal/domain"
	"ripple/internal/middleware"
	"ripple/internal/service"
)

// RoomHandler 封装了与房间管理相关的 HTTP 处理逻辑
type RoomHandler struct {
	registry *service.Registry
	issuer   *service.SessionIssuer
	sessions *middleware.Sessions
	now      func() time.Time
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(registry *service.Registry, issuer *service.SessionIssuer, sessions *middleware.Sessions) *RoomHandler {
	if registry == nil || issuer == nil || sessions == nil {
		panic("registry, issuer and sessions must be non-nil for RoomHandler")
	}
	return &RoomHandler{
		registry: registry,
		issuer:   issuer,
		sessions: sessions,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateRoomRequest 定义创建房间请求的结构体，所有字段可选 (缺省与显式 0 不同)
type CreateRoomRequest struct {
	Topic           string `json:"topic"`
	DurationHours   *int   `json:"duration_hours"`
	MaxParticipants *int   `json:"max_participants"`
}

// RoomResponse 是房间的对外表示
type RoomResponse struct {
	domain.Room
	TimeRemaining    int64 `json:"time_remaining"` // 秒
	ParticipantCount int   `json:"participant_count"`
}

// CreateRoomResponse 定义创建房间成功的响应结构体
type CreateRoomResponse struct {
	Room         RoomResponse `json:"room"`
	SessionToken string       `json:"session_token"`
	SessionID    string       `json:"session_id"`
}

// JoinRoomResponse 定义加入房间成功的响应结构体
type JoinRoomResponse struct {
	SessionToken string `json:"session_token"`
	AnonymousID  string `json:"anonymous_id"`
	SessionID    string `json:"session_id"`
}

func (h *RoomHandler) roomResponse(room *domain.Room, participants int) RoomResponse {
	return RoomResponse{
		Room:             *room,
		TimeRemaining:    int64(room.TimeRemaining(h.now()).Seconds()),
		ParticipantCount: participants,
	}
}

// CreateRoom 处理创建新房间的请求，并为创建者签发新的会话
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	// 1. 绑定请求体，空请求体使用默认值
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		logrus.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	// 2. 创建房间
	room, err := h.registry.Create(c.Request.Context(), service.CreateRoomSpec{
		Topic:           req.Topic,
		DurationHours:   req.DurationHours,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	logCtx := logrus.WithField("room_id", room.ID)

	// 3. 创建者总是获得新会话
	sessionID := service.NewSessionID()
	token, err := h.issuer.Issue(sessionID, room.ID)
	if err != nil {
		logCtx.WithError(err).Error("Handler.CreateRoom: Failed to issue session token")
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create room")
		return
	}
	h.sessions.SetCookie(c, sessionID)

	logCtx.WithField("session_id", sessionID).Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusOK, CreateRoomResponse{
		Room:         h.roomResponse(room, 0),
		SessionToken: token,
		SessionID:    sessionID,
	})
}

// GetRoom 返回房间信息，已过期或不存在时返回 404
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("id")
	room, err := h.registry.Get(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	count, err := h.registry.Count(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, h.roomResponse(room, count))
}

// JoinRoom 让当前会话加入房间，返回绑定到该房间的凭证和化名
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	roomID := c.Param("id")
	sessionID := middleware.SessionID(c)
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "session_id": sessionID})

	participant, err := h.registry.Join(c.Request.Context(), roomID, sessionID)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Failed to join room")
		HandleServiceError(c, err)
		return
	}

	token, err := h.issuer.Issue(sessionID, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Handler.JoinRoom: Failed to issue session token")
		ErrorResponse(c, http.StatusInternalServerError, "Failed to join room")
		return
	}
	h.sessions.SetCookie(c, sessionID)

	SuccessResponse(c, http.StatusOK, JoinRoomResponse{
		SessionToken: token,
		AnonymousID:  participant.AnonymousID,
		SessionID:    sessionID,
	})
}

package websocket_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ripple/internal/domain"
	wsHandler "ripple/internal/handler/websocket"
	"ripple/internal/hub"
	gormpersistence "ripple/internal/infra/persistence/gorm"
	"ripple/internal/middleware"
	"ripple/internal/service"
	"ripple/internal/testutil"
)

type env struct {
	server   *httptest.Server
	registry *service.Registry
	hub      *hub.Hub
}

func intPtr(v int) *int { return &v }

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	registry := service.NewRegistry(gormpersistence.NewGormRoomRepository(db), gormpersistence.NewGormParticipantRepository(db))
	h := hub.NewHub(registry, hub.Options{})

	issuer, err := service.NewSessionIssuer("ws-test-secret", time.Hour)
	require.NoError(t, err)
	sessions := middleware.NewSessions(issuer, []byte("ws-test-cookie-key"), false)

	r := gin.New()
	r.GET("/api/rooms/:id/ws", sessions.Middleware("id"), wsHandler.NewWebSocketHandler(h, registry, "*").HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return &env{server: srv, registry: registry, hub: h}
}

func (e *env) dial(t *testing.T, roomID, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/api/rooms/" + roomID + "/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type event struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		return closeErr
	}
}

func waitLive(t *testing.T, h *hub.Hub, roomID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.LiveCount(roomID) == n }, 3*time.Second, 10*time.Millisecond)
}

func TestWebSocket_UnknownRoomClosesWith4004(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "no-such-room", "s1")

	closeErr := readClose(t, conn)
	assert.Equal(t, wsHandler.CloseRoomNotFound, closeErr.Code)
	assert.Equal(t, "Room not found or expired", closeErr.Text)
}

func TestWebSocket_FullRoomClosesWith4003(t *testing.T) {
	e := newEnv(t)
	room, err := e.registry.Create(context.Background(), service.CreateRoomSpec{MaxParticipants: intPtr(1)})
	require.NoError(t, err)
	_, err = e.registry.Join(context.Background(), room.ID, "occupant")
	require.NoError(t, err)

	conn := e.dial(t, room.ID, "latecomer")
	closeErr := readClose(t, conn)
	assert.Equal(t, wsHandler.CloseCannotJoin, closeErr.Code)
	assert.Equal(t, "Cannot join room", closeErr.Text)
}

func TestWebSocket_RoomLifecycle(t *testing.T) {
	e := newEnv(t)
	room, err := e.registry.Create(context.Background(), service.CreateRoomSpec{})
	require.NoError(t, err)

	alice := e.dial(t, room.ID, "alice")
	waitLive(t, e.hub, room.ID, 1)
	bob := e.dial(t, room.ID, "bob")

	joined := readEvent(t, alice)
	assert.Equal(t, domain.EventUserJoined, joined.Type)
	assert.Equal(t, float64(2), joined.Data["participant_count"])

	// ping 只回复给发送者
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","data":{"timestamp":42}}`)))
	pong := readEvent(t, bob)
	assert.Equal(t, domain.EventPong, pong.Type)
	assert.Equal(t, float64(42), pong.Data["timestamp"])

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	errEvent := readEvent(t, bob)
	assert.Equal(t, domain.EventError, errEvent.Type)
	assert.Equal(t, "Invalid JSON format", errEvent.Data["message"])

	// 广播到达房间内所有连接
	e.hub.Publish(room.ID, domain.NewEvent(domain.EventNewPost, map[string]string{"content": "hello"}))
	for _, conn := range []*websocket.Conn{alice, bob} {
		ev := readEvent(t, conn)
		assert.Equal(t, domain.EventNewPost, ev.Type)
		assert.Equal(t, "hello", ev.Data["content"])
	}

	// bob 离开
	require.NoError(t, bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	left := readEvent(t, alice)
	assert.Equal(t, domain.EventUserLeft, left.Type)
	assert.Equal(t, float64(1), left.Data["participant_count"])
	waitLive(t, e.hub, room.ID, 1)
}

func TestWebSocket_ExpiredRoomIsClosed(t *testing.T) {
	e := newEnv(t)
	room, err := e.registry.Create(context.Background(), service.CreateRoomSpec{})
	require.NoError(t, err)

	conn := e.dial(t, room.ID, "s1")
	waitLive(t, e.hub, room.ID, 1)

	assert.Equal(t, 1, e.hub.NotifyExpired(room.ID))

	expired := readEvent(t, conn)
	assert.Equal(t, domain.EventRoomExpired, expired.Type)
	assert.Equal(t, "This room has expired and will be closed", expired.Data["message"])

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "Room expired", closeErr.Text)
	assert.Equal(t, 0, e.hub.LiveCount(room.ID))
}

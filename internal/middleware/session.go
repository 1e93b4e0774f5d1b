package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"github.com/sirupsen/logrus"

	"ripple/internal/service"
)

const (
	// SessionKey 是会话 ID 在 gin.Context 中的键
	SessionKey = "session_id"
	// SessionSourceKey 记录会话 ID 的来源，便于调试
	SessionSourceKey = "session_source"

	sessionCookieName = "session_id"
	sessionCookieAge  = 7 * 24 * 60 * 60

	// 与存储层 session_id 列宽一致
	maxSessionIDLength = 64
)

// 会话 ID 的来源
const (
	SourceToken  = "token"
	SourceCookie = "cookie"
	SourceQuery  = "query"
	SourceNew    = "new"
)

// Sessions 为每个请求解析匿名会话 ID。
// 顺序：绑定到当前房间的有效凭证 → 签名 cookie → session_id 查询参数 → 新生成。
// 匿名会话不会因为凭证无效而被拒绝。
type Sessions struct {
	issuer  *service.SessionIssuer
	cookies *securecookie.SecureCookie
	secure  bool
}

// NewSessions 创建 Sessions。hashKey 用于 cookie 签名，不能为空。
func NewSessions(issuer *service.SessionIssuer, hashKey []byte, secure bool) *Sessions {
	if issuer == nil {
		panic("SessionIssuer cannot be nil for Sessions middleware")
	}
	if len(hashKey) == 0 {
		panic("cookie hash key cannot be empty for Sessions middleware")
	}
	cookies := securecookie.New(hashKey, nil)
	cookies.MaxAge(sessionCookieAge)
	return &Sessions{issuer: issuer, cookies: cookies, secure: secure}
}

// Middleware 返回解析会话的 Gin 中间件。
// roomParam 是携带房间 ID 的路由参数名，为空时接受任意房间的有效凭证。
func (s *Sessions) Middleware(roomParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := ""
		if roomParam != "" {
			roomID = c.Param(roomParam)
		}
		sessionID, source := s.resolve(c, roomID)
		c.Set(SessionKey, sessionID)
		c.Set(SessionSourceKey, source)
		c.Next()
	}
}

func (s *Sessions) resolve(c *gin.Context, roomID string) (string, string) {
	// 1. 凭证
	if token := extractToken(c); token != "" {
		claims, err := s.issuer.Verify(token)
		switch {
		case err != nil:
			logrus.WithError(err).Debug("Session middleware: ignoring invalid session token")
		case roomID != "" && claims.RoomID != roomID:
			logrus.WithFields(logrus.Fields{"room_id": roomID, "token_room_id": claims.RoomID}).Debug("Session middleware: token is bound to another room")
		default:
			return claims.SessionID, SourceToken
		}
	}

	// 2. 签名 cookie
	if cookie, err := c.Request.Cookie(sessionCookieName); err == nil {
		var sessionID string
		if err := s.cookies.Decode(sessionCookieName, cookie.Value, &sessionID); err == nil && sessionID != "" {
			return sessionID, SourceCookie
		}
		logrus.Debug("Session middleware: ignoring cookie with invalid signature")
	}

	// 3. 查询参数，超长的值视为未提供
	if sessionID := strings.TrimSpace(c.Query("session_id")); sessionID != "" {
		if len(sessionID) <= maxSessionIDLength {
			return sessionID, SourceQuery
		}
		logrus.WithField("length", len(sessionID)).Debug("Session middleware: ignoring oversized session_id")
	}

	// 4. 新会话
	return service.NewSessionID(), SourceNew
}

// SetCookie 写入签名的 session_id cookie
func (s *Sessions) SetCookie(c *gin.Context, sessionID string) {
	encoded, err := s.cookies.Encode(sessionCookieName, sessionID)
	if err != nil {
		logrus.WithError(err).Error("Session middleware: failed to encode session cookie")
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   sessionCookieAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionID 返回中间件解析出的会话 ID
func SessionID(c *gin.Context) string {
	return c.GetString(SessionKey)
}

// extractToken 从 Authorization 头或 token 查询参数中提取 Bearer Token
func extractToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		// 使用 EqualFold 忽略 "Bearer" 的大小写
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

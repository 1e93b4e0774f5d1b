package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const sessionTokenType = "room_session"

// SessionClaims 是会话凭证的载荷，把匿名会话绑定到某个房间。
type SessionClaims struct {
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

// SessionIssuer 签发和校验 HS256 会话凭证。
type SessionIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewSessionIssuer 创建 SessionIssuer。expiry <= 0 时使用 24 小时。
func NewSessionIssuer(secret string, expiry time.Duration) (*SessionIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &SessionIssuer{secret: []byte(secret), expiry: expiry, now: time.Now}, nil
}

// NewSessionID 生成一个新的匿名会话 ID。
func NewSessionID() string {
	return uuid.NewString()
}

// Issue 为 (sessionID, roomID) 签发凭证。
func (s *SessionIssuer) Issue(sessionID, roomID string) (string, error) {
	now := s.now()
	claims := SessionClaims{
		SessionID: sessionID,
		RoomID:    roomID,
		Type:      sessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify 校验凭证的签名、有效期和类型，失败时返回 ErrInvalidSession。
func (s *SessionIssuer) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidSession)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !token.Valid || claims.Type != sessionTokenType || claims.SessionID == "" || claims.RoomID == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

package bootstrap

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	httpHandler "ripple/internal/handler/http"
	wsHandler "ripple/internal/handler/websocket"
	"ripple/internal/middleware"
)

// routeDeps 是 newRouter 需要的处理器和中间件
type routeDeps struct {
	sessions    *middleware.Sessions
	rooms       *httpHandler.RoomHandler
	posts       *httpHandler.PostHandler
	ws          *wsHandler.WebSocketHandler
	redisClient *redis.Client // 可以为 nil，此时不启用 IP 限流
}

func newRouter(cfg *Config, log *logrus.Logger, deps routeDeps) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))

	router.GET("/", httpHandler.Root)
	router.GET("/health", httpHandler.Health)

	api := router.Group("/api")
	if deps.redisClient != nil {
		api.Use(middleware.RateLimit(deps.redisClient, cfg.KeyPrefix, cfg.IPRateLimit, cfg.IPRateWindow))
	}
	roomSession := deps.sessions.Middleware("id")
	{
		api.POST("/rooms", deps.rooms.CreateRoom)
		api.GET("/rooms/:id", deps.rooms.GetRoom)
		api.POST("/rooms/:id/join", roomSession, deps.rooms.JoinRoom)
		api.GET("/rooms/:id/posts", deps.posts.ListPosts)
		api.POST("/rooms/:id/posts", roomSession, deps.posts.CreatePost)
		api.POST("/posts/:id/vote", deps.sessions.Middleware(""), deps.posts.Vote)
		api.GET("/rooms/:id/ws", roomSession, deps.ws.HandleConnection)
	}
	return router
}

// CORSMiddleware 设置跨域响应头。allowedOrigin 为 "*" 时回显请求的 Origin，以便携带 cookie
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := allowedOrigin
		if origin == "*" {
			if reqOrigin := c.GetHeader("Origin"); reqOrigin != "" {
				origin = reqOrigin
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path, // 不记录查询参数，其中可能带有会话凭证
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else if statusCode >= 500 {
			entry.Error("Server error")
		} else if statusCode >= 400 {
			entry.Warn("Client error")
		} else {
			entry.Info("Request handled")
		}
	}
}

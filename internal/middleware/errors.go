package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// abortWithError 终止请求，响应体与 HTTP 处理器的错误格式一致
func abortWithError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{
		"error":       message,
		"status_code": code,
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

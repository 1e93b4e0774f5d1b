package http

import (
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 以统一格式返回错误
func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error":       message,
		"status_code": code,
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}

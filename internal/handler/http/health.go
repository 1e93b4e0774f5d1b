package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Root 返回服务的基本信息
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Ripple API is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Health 用于存活检查
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ripple/internal/domain"
	"ripple/internal/middleware"
	"ripple/internal/service"
)

// PostHandler 处理帖子和投票请求
type PostHandler struct {
	posts *service.PostService
}

// NewPostHandler 创建 PostHandler 实例
func NewPostHandler(posts *service.PostService) *PostHandler {
	if posts == nil {
		panic("PostService cannot be nil for PostHandler")
	}
	return &PostHandler{posts: posts}
}

// CreatePostRequest 定义发帖请求的结构体，内容校验由 Service 完成
type CreatePostRequest struct {
	Content  string  `json:"content"`
	ParentID *string `json:"parent_id"`
}

// VoteRequest 定义投票请求的结构体
type VoteRequest struct {
	VoteType string `json:"vote_type" binding:"required"`
}

// ListPosts 返回房间内按线程组织的帖子
func (h *PostHandler) ListPosts(c *gin.Context) {
	threads, err := h.posts.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, threads)
}

// CreatePost 以当前会话的化名在房间内发帖
func (h *PostHandler) CreatePost(c *gin.Context) {
	roomID := c.Param("id")
	sessionID := middleware.SessionID(c)

	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("Handler.CreatePost: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	post, err := h.posts.Create(c.Request.Context(), roomID, sessionID, req.Content, req.ParentID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, service.Thread{Post: *post, Replies: []domain.Post{}})
}

// Vote 记录当前会话对帖子的投票
func (h *PostHandler) Vote(c *gin.Context) {
	postID := c.Param("id")
	sessionID := middleware.SessionID(c)

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "vote_type is required")
		return
	}

	result, err := h.posts.Vote(c.Request.Context(), postID, sessionID, req.VoteType)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, result)
}

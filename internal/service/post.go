package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"ripple/internal/domain"
	"ripple/internal/ratelimit"
	"ripple/internal/repository"
)

// MaxPostLength 是帖子内容的最大字符数
const MaxPostLength = 500

// Admitter 是写操作的限流判断。
type Admitter interface {
	Admit(sessionID string, class ratelimit.Class) bool
}

// Publisher 把状态变化事件推送给房间内的实时连接。
type Publisher interface {
	Publish(roomID string, event domain.Event)
}

// Thread 是一个顶层帖子及其回复，回复按创建时间升序。
type Thread struct {
	domain.Post
	Replies []domain.Post `json:"replies"`
}

// VoteResult 是一次投票的结果。
type VoteResult struct {
	PostID   string               `json:"post_id"`
	VoteType domain.VoteDirection `json:"vote_type"`
	NewScore int                  `json:"new_score"`
}

// PostService 处理发帖、帖子列表和投票，并把结果推送给房间。
type PostService struct {
	registry     *Registry
	posts        repository.PostRepository
	participants repository.ParticipantRepository
	ledger       *VoteLedger
	limiter      Admitter
	publisher    Publisher
	now          func() time.Time
}

// NewPostService 创建 PostService 实例。
func NewPostService(
	registry *Registry,
	posts repository.PostRepository,
	participants repository.ParticipantRepository,
	ledger *VoteLedger,
	limiter Admitter,
	publisher Publisher,
) *PostService {
	if registry == nil || posts == nil || participants == nil || ledger == nil || limiter == nil || publisher == nil {
		panic("all dependencies must be non-nil for PostService")
	}
	return &PostService{
		registry:     registry,
		posts:        posts,
		participants: participants,
		ledger:       ledger,
		limiter:      limiter,
		publisher:    publisher,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Create 以会话在房间中的化名发帖。parentID 非空时为回复，被回复的帖子必须是同房间的顶层帖子。
func (s *PostService) Create(ctx context.Context, roomID, sessionID, content string, parentID *string) (*domain.Post, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "session_id": sessionID})

	// 1. 校验内容
	if strings.TrimSpace(content) == "" {
		return nil, invalidInput("content must not be empty")
	}
	if utf8.RuneCountInString(content) > MaxPostLength {
		return nil, invalidInput("content must be at most %d characters", MaxPostLength)
	}

	// 2. 限流
	if !s.limiter.Admit(sessionID, ratelimit.ClassPost) {
		logCtx.Warn("Post rejected: rate limit exceeded")
		return nil, ErrRateLimited
	}

	// 3. 房间必须可访问，会话必须已加入
	if _, err := s.registry.Get(ctx, roomID); err != nil {
		return nil, err
	}
	participant, err := s.participants.Find(ctx, roomID, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotParticipant
		}
		return nil, storageError("find participant", err)
	}

	// 4. 校验父帖子
	if parentID != nil && *parentID == "" {
		parentID = nil
	}
	if parentID != nil {
		parent, err := s.posts.FindByID(ctx, *parentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, invalidInput("parent post does not exist")
			}
			return nil, storageError("find parent post", err)
		}
		if parent.RoomID != roomID {
			return nil, invalidInput("parent post belongs to another room")
		}
		if parent.IsReply() {
			return nil, invalidInput("replies cannot be replied to")
		}
	}

	// 5. 保存并推送
	post := &domain.Post{
		ID:          ulid.Make().String(),
		RoomID:      roomID,
		Content:     content,
		AnonymousID: participant.AnonymousID,
		CreatedAt:   s.now(),
		ParentID:    parentID,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, storageError("create post", err)
	}
	s.publisher.Publish(roomID, domain.NewEvent(domain.EventNewPost, post))

	logCtx.WithField("post_id", post.ID).Info("Post created")
	return post, nil
}

// List 返回房间的帖子，顶层帖子按创建时间排列，各自带一层回复。
func (s *PostService) List(ctx context.Context, roomID string) ([]Thread, error) {
	if _, err := s.registry.Get(ctx, roomID); err != nil {
		return nil, err
	}
	posts, err := s.posts.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, storageError("list posts", err)
	}

	threads := make([]Thread, 0, len(posts))
	index := make(map[string]int, len(posts))
	for _, p := range posts {
		if p.IsReply() {
			continue
		}
		index[p.ID] = len(threads)
		threads = append(threads, Thread{Post: p, Replies: []domain.Post{}})
	}
	for _, p := range posts {
		if !p.IsReply() {
			continue
		}
		// 只有挂在顶层帖子下的回复会被展示
		if i, ok := index[*p.ParentID]; ok {
			threads[i].Replies = append(threads[i].Replies, p)
		}
	}
	return threads, nil
}

// Vote 记录会话对帖子的投票并推送新分数。
func (s *PostService) Vote(ctx context.Context, postID, sessionID, voteType string) (*VoteResult, error) {
	direction, err := domain.ParseVoteDirection(voteType)
	if err != nil {
		return nil, invalidInput("vote_type must be 'up' or 'down'")
	}
	if !s.limiter.Admit(sessionID, ratelimit.ClassVote) {
		logrus.WithFields(logrus.Fields{"post_id": postID, "session_id": sessionID}).Warn("Vote rejected: rate limit exceeded")
		return nil, ErrRateLimited
	}

	post, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, storageError("find post", err)
	}
	if _, err := s.registry.Get(ctx, post.RoomID); err != nil {
		return nil, err
	}

	score, err := s.ledger.Cast(ctx, postID, sessionID, direction)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(post.RoomID, domain.NewEvent(domain.EventNewVote, map[string]interface{}{
		"post_id":   postID,
		"new_score": score,
	}))
	return &VoteResult{PostID: postID, VoteType: direction, NewScore: score}, nil
}

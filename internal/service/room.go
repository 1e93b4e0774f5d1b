package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"ripple/internal/domain"
	"ripple/internal/identity"
	"ripple/internal/repository"
)

// 房间创建参数的取值范围
const (
	DefaultDurationHours   = 24
	MinDurationHours       = 1
	MaxDurationHours       = 168
	DefaultMaxParticipants = 100
	MaxParticipantsLimit   = 1000
	MaxTopicLength         = 200
)

// CreateRoomSpec 是创建房间的参数。nil 字段使用默认值，显式给出的值 (包括 0) 必须在范围内。
type CreateRoomSpec struct {
	Topic           string
	DurationHours   *int
	MaxParticipants *int
}

// roomEntry 是 Registry 中单个房间的内存视图，mu 串行化该房间的加入操作。
type roomEntry struct {
	mu           sync.Mutex
	room         domain.Room
	participants int
}

// Registry 维护当前开放房间的内存视图：过期时间、容量和参与者数量。
// 房间之间互不阻塞，同一房间的加入操作串行执行。
type Registry struct {
	rooms        repository.RoomRepository
	participants repository.ParticipantRepository
	now          func() time.Time

	mu      sync.RWMutex // 只保护 entries 映射
	entries map[string]*roomEntry
}

// RegistryOption 配置 Registry。
type RegistryOption func(*Registry)

// WithRegistryClock 替换时钟，测试中使用。
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry 创建 Registry 实例。
func NewRegistry(rooms repository.RoomRepository, participants repository.ParticipantRepository, opts ...RegistryOption) *Registry {
	if rooms == nil || participants == nil {
		panic("RoomRepository and ParticipantRepository cannot be nil for Registry")
	}
	r := &Registry{
		rooms:        rooms,
		participants: participants,
		now:          func() time.Time { return time.Now().UTC() },
		entries:      make(map[string]*roomEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create 校验参数并创建新房间。
func (r *Registry) Create(ctx context.Context, spec CreateRoomSpec) (*domain.Room, error) {
	durationHours := DefaultDurationHours
	if spec.DurationHours != nil {
		durationHours = *spec.DurationHours
	}
	maxParticipants := DefaultMaxParticipants
	if spec.MaxParticipants != nil {
		maxParticipants = *spec.MaxParticipants
	}
	if durationHours < MinDurationHours || durationHours > MaxDurationHours {
		return nil, invalidInput("duration_hours must be between %d and %d", MinDurationHours, MaxDurationHours)
	}
	if maxParticipants < 1 || maxParticipants > MaxParticipantsLimit {
		return nil, invalidInput("max_participants must be between 1 and %d", MaxParticipantsLimit)
	}
	var topic *string
	if t := strings.TrimSpace(spec.Topic); t != "" {
		if utf8.RuneCountInString(t) > MaxTopicLength {
			return nil, invalidInput("topic must be at most %d characters", MaxTopicLength)
		}
		topic = &t
	}

	now := r.now()
	room := &domain.Room{
		ID:              uuid.NewString(),
		Topic:           topic,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(durationHours) * time.Hour),
		MaxParticipants: maxParticipants,
		IsActive:        true,
	}
	if err := r.rooms.Create(ctx, room); err != nil {
		return nil, storageError("create room", err)
	}

	r.mu.Lock()
	r.entries[room.ID] = &roomEntry{room: *room}
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{"room_id": room.ID, "expires_at": room.ExpiresAt}).Info("Room created")
	return room, nil
}

// Get 返回可访问的房间。已过期或已关闭的房间即便记录尚未被清理也返回 ErrRoomNotFound。
func (r *Registry) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	entry, err := r.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	room := entry.room
	entry.mu.Unlock()

	if !room.Addressable(r.now()) {
		return nil, ErrRoomNotFound
	}
	return &room, nil
}

// Count 返回房间当前的参与者数量。
func (r *Registry) Count(ctx context.Context, roomID string) (int, error) {
	entry, err := r.entry(ctx, roomID)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.participants, nil
}

// Join 让会话加入房间。
// 同一会话重复加入返回已有身份并刷新 last_seen，不重复占用容量；
// 新会话在房间已满时返回 ErrRoomFull。首次加入时派生化名。
func (r *Registry) Join(ctx context.Context, roomID, sessionID string) (*domain.Participant, error) {
	if sessionID == "" {
		return nil, invalidInput("session id is required")
	}
	entry, err := r.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "session_id": sessionID})
	now := r.now()
	if !entry.room.Addressable(now) {
		return nil, ErrRoomExpired
	}

	// 1. 已加入的会话只刷新 last_seen
	existing, err := r.participants.Find(ctx, roomID, sessionID)
	if err == nil {
		if err := r.participants.Touch(ctx, roomID, sessionID, now); err != nil {
			return nil, storageError("touch participant", err)
		}
		existing.LastSeen = now
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageError("find participant", err)
	}

	// 2. 容量检查
	if entry.participants >= entry.room.MaxParticipants {
		logCtx.Warn("Join rejected: room is full")
		return nil, ErrRoomFull
	}

	// 3. 创建新身份
	p := &domain.Participant{
		ID:          ulid.Make().String(),
		RoomID:      roomID,
		SessionID:   sessionID,
		AnonymousID: identity.Derive(roomID, sessionID),
		JoinedAt:    now,
		LastSeen:    now,
	}
	if err := r.participants.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 记录已被别处写入，按已加入处理
			existing, findErr := r.participants.Find(ctx, roomID, sessionID)
			if findErr != nil {
				return nil, storageError("find participant", findErr)
			}
			return existing, nil
		}
		return nil, storageError("create participant", err)
	}
	entry.participants++

	logCtx.WithFields(logrus.Fields{"anonymous_id": p.AnonymousID, "participants": entry.participants}).Info("Participant joined room")
	return p, nil
}

// Touch 刷新参与者的 last_seen，心跳消息使用。
func (r *Registry) Touch(ctx context.Context, roomID, sessionID string) error {
	if err := r.participants.Touch(ctx, roomID, sessionID, r.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotParticipant
		}
		return storageError("touch participant", err)
	}
	return nil
}

// Expire 关闭房间。内存视图先于存储更新，所以调用返回前 Get 就已经返回 ErrRoomNotFound。
func (r *Registry) Expire(ctx context.Context, roomID string) error {
	r.mu.RLock()
	entry, ok := r.entries[roomID]
	r.mu.RUnlock()
	if ok {
		entry.mu.Lock()
		entry.room.IsActive = false
		entry.mu.Unlock()
	}

	if err := r.rooms.MarkClosed(ctx, roomID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return storageError("close room", err)
	}
	return nil
}

// Forget 丢弃房间的内存视图，房间记录删除后调用。
func (r *Registry) Forget(roomID string) {
	r.mu.Lock()
	delete(r.entries, roomID)
	r.mu.Unlock()
}

// entry 返回房间的内存视图，缓存未命中时从存储加载。
// 已不可访问的房间不进入缓存。
func (r *Registry) entry(ctx context.Context, roomID string) (*roomEntry, error) {
	r.mu.RLock()
	entry, ok := r.entries[roomID]
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}

	room, err := r.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, storageError("find room", err)
	}
	if !room.Addressable(r.now()) {
		return nil, ErrRoomNotFound
	}
	count, err := r.participants.Count(ctx, roomID)
	if err != nil {
		return nil, storageError("count participants", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[roomID]; ok {
		return existing, nil
	}
	entry = &roomEntry{room: *room, participants: int(count)}
	r.entries[roomID] = entry
	return entry, nil
}

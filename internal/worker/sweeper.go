package worker

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ripple/internal/domain"
	"ripple/internal/repository"
)

// RoomNotifier 是 Sweeper 对实时连接层的依赖
type RoomNotifier interface {
	ActiveRooms() []string
	NotifyExpiring(roomID string, minutesRemaining int)
	NotifyExpired(roomID string) int
}

// RoomCloser 是 Sweeper 对房间注册表的依赖
type RoomCloser interface {
	Get(ctx context.Context, roomID string) (*domain.Room, error)
	Expire(ctx context.Context, roomID string) error
	Forget(roomID string)
}

// Pruner 是清理周期结束时顺带执行的内存整理，例如限流窗口
type Pruner interface {
	Prune() int
}

// SweeperConfig 配置清理周期，零值字段使用默认值
type SweeperConfig struct {
	Interval    time.Duration // 清理周期
	WarnBefore  time.Duration // 剩余时间小于该值时发送 room_expiring
	Concurrency int           // 同时清理的房间数
	RoomTimeout time.Duration // 单个房间清理的超时时间
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = 300 * time.Second
	}
	if c.WarnBefore <= 0 {
		c.WarnBefore = 10 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RoomTimeout <= 0 {
		c.RoomTimeout = 30 * time.Second
	}
	return c
}

// SweepResult 汇总一次清理周期的结果
type SweepResult struct {
	Expired int // 找到的过期房间数
	Cleaned int // 成功删除的房间数
	Failed  int // 删除失败、留待下次的房间数
	Closed  int // 被强制关闭的连接数
	Warned  int // 发送了过期预警的房间数
}

// Sweeper 定期找出过期房间，通知并关闭其连接，再删除其存储记录。
// 单个房间失败只记录日志，下个周期重试，不影响其他房间。
type Sweeper struct {
	rooms    repository.RoomRepository
	registry RoomCloser
	notifier RoomNotifier
	pruners  []Pruner
	cfg      SweeperConfig
	now      func() time.Time
	log      *logrus.Entry

	cycleMu sync.Mutex // 同一时刻只运行一个清理周期

	warnedMu sync.Mutex
	warned   map[string]struct{}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper 创建 Sweeper 实例
func NewSweeper(rooms repository.RoomRepository, registry RoomCloser, notifier RoomNotifier, cfg SweeperConfig, pruners ...Pruner) *Sweeper {
	if rooms == nil || registry == nil || notifier == nil {
		panic("rooms, registry and notifier must be non-nil for Sweeper")
	}
	return &Sweeper{
		rooms:    rooms,
		registry: registry,
		notifier: notifier,
		pruners:  pruners,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		log:      logrus.WithField("component", "sweeper"),
		warned:   make(map[string]struct{}),
		stop:     make(chan struct{}),
	}
}

// Interval 返回清理周期
func (s *Sweeper) Interval() time.Duration { return s.cfg.Interval }

// Start 在后台按固定周期运行清理，启动时先执行一次
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.Sweep(context.Background())
		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stop:
				return
			}
		}
	}()
	s.log.WithField("interval", s.cfg.Interval).Info("Sweeper started")
}

// Stop 停止后台清理，并等待正在执行的清理周期完成
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	// 由 asynq 触发的周期不在 wg 中，等它结束
	s.cycleMu.Lock()
	s.cycleMu.Unlock()
	s.log.Info("Sweeper stopped")
}

// Sweep 执行一个清理周期。失败不会立即重试，由下一个周期处理。
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	var result SweepResult
	now := s.now()

	// 1. 即将过期的房间先发预警
	result.Warned = s.warnExpiring(ctx, now)

	// 2. 找出过期房间
	rooms, err := s.rooms.ListExpired(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("Failed to list expired rooms, will retry next cycle")
		return result
	}
	result.Expired = len(rooms)

	// 3. 每个房间独立清理
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	for _, room := range rooms {
		roomID := room.ID
		g.Go(func() error {
			closed, err := s.cleanup(ctx, roomID)
			mu.Lock()
			defer mu.Unlock()
			result.Closed += closed
			if err != nil {
				result.Failed++
				s.log.WithError(err).WithField("room_id", roomID).Error("Failed to clean up expired room, will retry next cycle")
				return nil
			}
			result.Cleaned++
			return nil
		})
	}
	_ = g.Wait()

	// 4. 整理内存
	for _, p := range s.pruners {
		p.Prune()
	}

	if result.Expired > 0 || result.Warned > 0 {
		s.log.WithFields(logrus.Fields{
			"expired": result.Expired,
			"cleaned": result.Cleaned,
			"failed":  result.Failed,
			"closed":  result.Closed,
			"warned":  result.Warned,
		}).Info("Sweep cycle finished")
	}
	return result
}

// cleanup 关闭单个过期房间：先在注册表中关闭，再通知并断开连接，最后删除记录
func (s *Sweeper) cleanup(ctx context.Context, roomID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RoomTimeout)
	defer cancel()

	if err := s.registry.Expire(ctx, roomID); err != nil {
		// 过期时间已到，Get 仍会返回不存在，继续清理
		s.log.WithError(err).WithField("room_id", roomID).Warn("Failed to mark room closed")
	}
	closed := s.notifier.NotifyExpired(roomID)

	if err := s.rooms.Delete(ctx, roomID); err != nil {
		return closed, err
	}
	s.registry.Forget(roomID)

	s.warnedMu.Lock()
	delete(s.warned, roomID)
	s.warnedMu.Unlock()
	return closed, nil
}

// warnExpiring 对有实时连接且剩余时间不超过 WarnBefore 的房间发送一次 room_expiring
func (s *Sweeper) warnExpiring(ctx context.Context, now time.Time) int {
	warned := 0
	for _, roomID := range s.notifier.ActiveRooms() {
		room, err := s.registry.Get(ctx, roomID)
		if err != nil {
			continue
		}
		remaining := room.ExpiresAt.Sub(now)
		if remaining <= 0 || remaining > s.cfg.WarnBefore {
			continue
		}

		s.warnedMu.Lock()
		_, done := s.warned[roomID]
		if !done {
			s.warned[roomID] = struct{}{}
		}
		s.warnedMu.Unlock()
		if done {
			continue
		}

		minutes := int(math.Ceil(remaining.Minutes()))
		s.notifier.NotifyExpiring(roomID, minutes)
		warned++
	}
	return warned
}

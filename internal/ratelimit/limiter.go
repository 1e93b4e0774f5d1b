// Package ratelimit 实现按 (会话, 操作类别) 计数的滑动窗口限流。
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Class 是被限流的操作类别。
type Class string

const (
	ClassPost Class = "post"
	ClassVote Class = "vote"
)

// Rule 表示在 Window 时间内最多允许 Limit 次请求。
type Rule struct {
	Limit  int
	Window time.Duration
}

type windowKey struct {
	session string
	class   Class
}

// window 保存某个 key 最近被放行的时间戳。
// dead 表示该窗口已被 Prune 摘除，持有旧指针的调用方需要重新获取。
type window struct {
	mu   sync.Mutex
	hits []time.Time
	dead atomic.Bool
}

// Limiter 是真正的滑动窗口限流器：窗口边界随 now 连续移动，而不是按固定桶切分。
// 不同 key 之间互不阻塞，同一 key 的读改写在该 key 的锁内完成。
type Limiter struct {
	rules map[Class]Rule
	now   func() time.Time

	mu      sync.Mutex // 只保护 windows 映射本身
	windows map[windowKey]*window
}

// Option 配置 Limiter。
type Option func(*Limiter)

// WithClock 替换时钟，测试中使用。
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New 创建限流器。rules 中没有配置的类别不做限制。
func New(rules map[Class]Rule, opts ...Option) *Limiter {
	for class, rule := range rules {
		if rule.Limit <= 0 || rule.Window <= 0 {
			panic("ratelimit: invalid rule for class " + string(class))
		}
	}
	l := &Limiter{
		rules:   rules,
		now:     time.Now,
		windows: make(map[windowKey]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit 判断 sessionID 的一次 class 操作是否放行。放行时记录本次时间戳，拒绝时不记录。
func (l *Limiter) Admit(sessionID string, class Class) bool {
	rule, ok := l.rules[class]
	if !ok {
		return true
	}
	key := windowKey{session: sessionID, class: class}

	for {
		w := l.window(key)
		w.mu.Lock()
		if w.dead.Load() {
			w.mu.Unlock()
			continue
		}
		now := l.now()
		w.hits = trim(w.hits, now.Add(-rule.Window))
		if len(w.hits) >= rule.Limit {
			w.mu.Unlock()
			return false
		}
		w.hits = append(w.hits, now)
		w.mu.Unlock()
		return true
	}
}

// Prune 摘除所有已无有效记录的窗口，返回摘除数量。由清理任务定期调用。
func (l *Limiter) Prune() int {
	type candidate struct {
		key windowKey
		w   *window
	}

	l.mu.Lock()
	candidates := make([]candidate, 0, len(l.windows))
	for k, w := range l.windows {
		candidates = append(candidates, candidate{key: k, w: w})
	}
	l.mu.Unlock()

	now := l.now()
	removed := 0
	for _, c := range candidates {
		rule := l.rules[c.key.class]

		c.w.mu.Lock()
		c.w.hits = trim(c.w.hits, now.Add(-rule.Window))
		stale := len(c.w.hits) == 0
		if stale {
			c.w.dead.Store(true)
		}
		c.w.mu.Unlock()
		if !stale {
			continue
		}

		l.mu.Lock()
		if l.windows[c.key] == c.w {
			delete(l.windows, c.key)
			removed++
		}
		l.mu.Unlock()
	}
	return removed
}

// Size 返回当前跟踪的窗口数量。
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *Limiter) window(key windowKey) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || w.dead.Load() {
		w = &window{}
		l.windows[key] = w
	}
	return w
}

// trim 丢弃不晚于 cutoff 的时间戳。hits 按时间递增排列。
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

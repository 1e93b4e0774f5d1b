package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// State 是连接的生命周期状态：Connecting -> Open -> Closing -> Closed。
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport 是底层实时连接的写端。所有写操作只在连接自己的写协程中调用。
type Transport interface {
	WriteText(data []byte, deadline time.Time) error
	WritePing(deadline time.Time) error
	Close(code int, reason string) error
}

type closeRequest struct {
	code   int
	reason string
}

// Conn 是绑定到一个 (房间, 会话) 的实时连接，生命周期内绑定不变。
type Conn struct {
	hub       *Hub
	transport Transport
	roomID    string
	sessionID string

	state     atomic.Int32
	started   atomic.Bool
	out       chan []byte
	quit      chan closeRequest
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn 创建一个处于 Connecting 状态的连接，调用 Register 后开始收发。
func (h *Hub) NewConn(t Transport, roomID, sessionID string) *Conn {
	return &Conn{
		hub:       h,
		transport: t,
		roomID:    roomID,
		sessionID: sessionID,
		out:       make(chan []byte, h.opts.SendQueueSize),
		quit:      make(chan closeRequest, 1),
		done:      make(chan struct{}),
	}
}

func (c *Conn) RoomID() string    { return c.roomID }
func (c *Conn) SessionID() string { return c.sessionID }
func (c *Conn) State() State      { return State(c.state.Load()) }

// Done 在连接进入 Closed 状态后关闭。
func (c *Conn) Done() <-chan struct{} { return c.done }

// enqueue 非阻塞地把数据放入发送队列，队列已满时返回 false。
func (c *Conn) enqueue(data []byte) bool {
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

// beginClose 尝试进入 Closing 状态，只有第一个调用者成功。
func (c *Conn) beginClose() bool {
	for {
		s := c.state.Load()
		if s != int32(StateConnecting) && s != int32(StateOpen) {
			return false
		}
		if c.state.CompareAndSwap(s, int32(StateClosing)) {
			return true
		}
	}
}

// requestClose 通知写协程清空队列后关闭底层连接；写协程未启动时直接关闭。
func (c *Conn) requestClose(code int, reason string) {
	if !c.started.Load() {
		_ = c.transport.Close(code, reason)
		c.markClosed()
		return
	}
	select {
	case c.quit <- closeRequest{code: code, reason: reason}:
	default:
	}
}

func (c *Conn) markClosed() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

func (c *Conn) start() {
	if c.started.CompareAndSwap(false, true) {
		go c.writePump()
	}
}

// writePump 是连接唯一的写协程。写失败视为连接断开，触发注销，之后不再尝试写入。
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingPeriod)
	defer ticker.Stop()
	logCtx := logrus.WithFields(logrus.Fields{"room_id": c.roomID, "session_id": c.sessionID})

	broken := false
	write := func(data []byte) {
		if broken {
			return
		}
		if err := c.transport.WriteText(data, time.Now().Add(c.hub.opts.SendTimeout)); err != nil {
			logCtx.WithError(err).Warn("Failed to write message, disconnecting")
			broken = true
			c.hub.Unregister(c)
		}
	}

	for {
		select {
		case data := <-c.out:
			write(data)

		case <-ticker.C:
			if broken {
				continue
			}
			if err := c.transport.WritePing(time.Now().Add(c.hub.opts.SendTimeout)); err != nil {
				logCtx.WithError(err).Warn("Failed to send ping, disconnecting")
				broken = true
				c.hub.Unregister(c)
			}

		case req := <-c.quit:
			// 把已排队的消息(例如 room_expired)发完再关闭
			for flushing := true; flushing; {
				select {
				case data := <-c.out:
					write(data)
				default:
					flushing = false
				}
			}
			if err := c.transport.Close(req.code, req.reason); err != nil {
				logCtx.WithError(err).Debug("Transport close returned error")
			}
			c.markClosed()
			return

		case <-c.done:
			return
		}
	}
}

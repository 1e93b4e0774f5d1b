package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ripple/internal/domain"
	"ripple/internal/hub"
	gormpersistence "ripple/internal/infra/persistence/gorm"
	"ripple/internal/repository"
	"ripple/internal/repository/mocks"
	"ripple/internal/service"
	"ripple/internal/testutil"
)

type recordingTransport struct {
	mu     sync.Mutex
	types  []string
	data   []map[string]interface{}
	closed int
}

func (r *recordingTransport) WriteText(data []byte, _ time.Time) error {
	var msg struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	r.mu.Lock()
	r.types = append(r.types, msg.Type)
	r.data = append(r.data, msg.Data)
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) WritePing(time.Time) error { return nil }

func (r *recordingTransport) Close(int, string) error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.types {
		if t == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	clock    *clock
	rooms    *gormpersistence.GormRoomRepository
	registry *service.Registry
	hub      *hub.Hub
	sweeper  *Sweeper
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func intPtr(v int) *int { return &v }

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	clk := &clock{now: time.Now().UTC().Truncate(time.Second)}
	rooms := gormpersistence.NewGormRoomRepository(db)
	registry := service.NewRegistry(rooms, gormpersistence.NewGormParticipantRepository(db), service.WithRegistryClock(clk.Now))
	h := hub.NewHub(registry, hub.Options{})
	s := NewSweeper(rooms, registry, h, SweeperConfig{Interval: time.Hour})
	s.now = clk.Now
	return &fixture{clock: clk, rooms: rooms, registry: registry, hub: h, sweeper: s}
}

func (f *fixture) connect(t *testing.T, roomID, sessionID string) (*hub.Conn, *recordingTransport) {
	t.Helper()
	rt := &recordingTransport{}
	c := f.hub.NewConn(rt, roomID, sessionID)
	require.NoError(t, f.hub.Register(c))
	return c, rt
}

func TestSweeper_ClosesExpiredRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expiring, err := f.registry.Create(ctx, service.CreateRoomSpec{DurationHours: intPtr(1)})
	require.NoError(t, err)
	lasting, err := f.registry.Create(ctx, service.CreateRoomSpec{DurationHours: intPtr(48)})
	require.NoError(t, err)

	c1, t1 := f.connect(t, expiring.ID, "s1")
	c2, t2 := f.connect(t, expiring.ID, "s2")
	_, t3 := f.connect(t, lasting.ID, "s3")

	f.clock.Advance(2 * time.Hour)
	result := f.sweeper.Sweep(ctx)

	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.Cleaned)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 2, result.Closed)

	for _, c := range []*hub.Conn{c1, c2} {
		select {
		case <-c.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("connection was not closed")
		}
	}
	assert.Equal(t, 1, t1.count(domain.EventRoomExpired))
	assert.Equal(t, 1, t2.count(domain.EventRoomExpired))
	assert.Equal(t, 0, t3.count(domain.EventRoomExpired))
	assert.Equal(t, 0, f.hub.LiveCount(expiring.ID))
	assert.Equal(t, 1, f.hub.LiveCount(lasting.ID))

	_, err = f.registry.Get(ctx, expiring.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.rooms.FindByID(ctx, expiring.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.registry.Get(ctx, lasting.ID)
	assert.NoError(t, err)
}

func TestSweeper_WarnsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.registry.Create(ctx, service.CreateRoomSpec{DurationHours: intPtr(1)})
	require.NoError(t, err)
	_, rt := f.connect(t, room.ID, "s1")

	f.clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, f.sweeper.Sweep(ctx).Warned)

	f.clock.Advance(25*time.Minute + 30*time.Second)
	assert.Equal(t, 1, f.sweeper.Sweep(ctx).Warned)
	f.clock.Advance(time.Minute)
	assert.Equal(t, 0, f.sweeper.Sweep(ctx).Warned)

	require.Eventually(t, func() bool { return rt.count(domain.EventRoomExpiring) == 1 }, time.Second, 10*time.Millisecond)

	rt.mu.Lock()
	var minutes interface{}
	for i, typ := range rt.types {
		if typ == domain.EventRoomExpiring {
			minutes = rt.data[i]["minutes_remaining"]
		}
	}
	rt.mu.Unlock()
	assert.Equal(t, float64(5), minutes)
}

func TestSweeper_StorageFailureIsIsolated(t *testing.T) {
	rooms := new(mocks.RoomRepository)
	participants := new(mocks.ParticipantRepository)
	registry := service.NewRegistry(rooms, participants)
	h := hub.NewHub(nil, hub.Options{})
	s := NewSweeper(rooms, registry, h, SweeperConfig{Interval: time.Hour})

	expired := []domain.Room{{ID: "room-a"}, {ID: "room-b"}, {ID: "room-c"}}
	rooms.On("ListExpired", mock.Anything, mock.Anything).Return(expired, nil).Once()
	rooms.On("MarkClosed", mock.Anything, mock.Anything).Return(nil)
	rooms.On("Delete", mock.Anything, "room-a").Return(nil).Once()
	rooms.On("Delete", mock.Anything, "room-b").Return(errors.New("database is locked")).Once()
	rooms.On("Delete", mock.Anything, "room-c").Return(nil).Once()

	result := s.Sweep(context.Background())
	assert.Equal(t, 3, result.Expired)
	assert.Equal(t, 2, result.Cleaned)
	assert.Equal(t, 1, result.Failed)

	// 失败的房间在下个周期重试
	rooms.On("ListExpired", mock.Anything, mock.Anything).Return([]domain.Room{{ID: "room-b"}}, nil).Once()
	rooms.On("Delete", mock.Anything, "room-b").Return(nil).Once()

	result = s.Sweep(context.Background())
	assert.Equal(t, 1, result.Cleaned)
	assert.Equal(t, 0, result.Failed)
	rooms.AssertExpectations(t)
	participants.AssertExpectations(t)
}

func TestSweeper_ListFailureSkipsCycle(t *testing.T) {
	rooms := new(mocks.RoomRepository)
	registry := service.NewRegistry(rooms, new(mocks.ParticipantRepository))
	s := NewSweeper(rooms, registry, hub.NewHub(nil, hub.Options{}), SweeperConfig{})

	rooms.On("ListExpired", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()

	result := s.Sweep(context.Background())
	assert.Equal(t, SweepResult{}, result)
	rooms.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

type countingPruner struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPruner) Prune() int {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return 0
}

func TestSweeper_StopWaitsForInFlightCycle(t *testing.T) {
	rooms := new(mocks.RoomRepository)
	registry := service.NewRegistry(rooms, new(mocks.ParticipantRepository))
	pruner := &countingPruner{}
	s := NewSweeper(rooms, registry, hub.NewHub(nil, hub.Options{}), SweeperConfig{Interval: time.Hour}, pruner)

	started := make(chan struct{})
	rooms.On("ListExpired", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			time.Sleep(100 * time.Millisecond)
		}).
		Return([]domain.Room{{ID: "room-a"}}, nil).Once()
	rooms.On("MarkClosed", mock.Anything, "room-a").Return(nil).Once()
	rooms.On("Delete", mock.Anything, "room-a").Return(nil).Once()

	s.Start()
	<-started
	s.Stop()

	rooms.AssertExpectations(t)
	pruner.mu.Lock()
	assert.Equal(t, 1, pruner.calls)
	pruner.mu.Unlock()
}

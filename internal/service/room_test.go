package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ripple/internal/identity"
	"ripple/internal/repository/mocks"
	"ripple/internal/service"
)

func TestRegistry_Create_Defaults(t *testing.T) {
	s := newStores(t)
	clock := newTestClock()
	registry := service.NewRegistry(s.rooms, s.participants, service.WithRegistryClock(clock.Now))

	room, err := registry.Create(context.Background(), service.CreateRoomSpec{Topic: "  lunch spots  "})

	require.NoError(t, err)
	assert.NotEmpty(t, room.ID)
	require.NotNil(t, room.Topic)
	assert.Equal(t, "lunch spots", *room.Topic)
	assert.Equal(t, 100, room.MaxParticipants)
	assert.Equal(t, clock.Now().Add(24*time.Hour), room.ExpiresAt)
	assert.True(t, room.IsActive)
}

func TestRegistry_Create_Validation(t *testing.T) {
	s := newStores(t)
	registry := service.NewRegistry(s.rooms, s.participants)
	ctx := context.Background()

	cases := []service.CreateRoomSpec{
		{DurationHours: intPtr(0)},
		{DurationHours: intPtr(-1)},
		{DurationHours: intPtr(169)},
		{MaxParticipants: intPtr(0)},
		{MaxParticipants: intPtr(1001)},
		{MaxParticipants: intPtr(-5)},
		{Topic: strings.Repeat("x", 201)},
	}
	for _, spec := range cases {
		_, err := registry.Create(ctx, spec)
		assert.ErrorIs(t, err, service.ErrInvalidInput, "spec %+v", spec)
	}

	room, err := registry.Create(ctx, service.CreateRoomSpec{DurationHours: intPtr(168), MaxParticipants: intPtr(1000)})
	require.NoError(t, err)
	assert.Nil(t, room.Topic)
}

func TestRegistry_Join_Idempotent(t *testing.T) {
	s := newStores(t)
	clock := newTestClock()
	registry := service.NewRegistry(s.rooms, s.participants, service.WithRegistryClock(clock.Now))
	ctx := context.Background()
	room, err := registry.Create(ctx, service.CreateRoomSpec{DurationHours: intPtr(1)})
	require.NoError(t, err)

	first, err := registry.Join(ctx, room.ID, "session-a")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := registry.Join(ctx, room.ID, "session-a")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.AnonymousID, second.AnonymousID)
	assert.Equal(t, identity.Derive(room.ID, "session-a"), first.AnonymousID)
	assert.True(t, second.LastSeen.After(first.LastSeen), "rejoin refreshes last seen")

	count, err := registry.Count(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegistry_Join_Capacity(t *testing.T) {
	s := newStores(t)
	registry := service.NewRegistry(s.rooms, s.participants)
	ctx := context.Background()
	room, err := registry.Create(ctx, service.CreateRoomSpec{MaxParticipants: intPtr(3)})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		_, err := registry.Join(ctx, room.ID, fmt.Sprintf("s%d", i))
		require.NoError(t, err, "join %d of 3 must succeed", i)
	}

	_, err = registry.Join(ctx, room.ID, "s4")
	assert.ErrorIs(t, err, service.ErrRoomFull)

	// 已加入的会话在满员时仍可重新加入
	_, err = registry.Join(ctx, room.ID, "s2")
	assert.NoError(t, err)
}

func TestRegistry_Join_ConcurrentRespectsCapacity(t *testing.T) {
	s := newStores(t)
	registry := service.NewRegistry(s.rooms, s.participants)
	ctx := context.Background()
	room, err := registry.Create(ctx, service.CreateRoomSpec{MaxParticipants: intPtr(5)})
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
		full   int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := registry.Join(ctx, room.ID, fmt.Sprintf("session-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, service.ErrRoomFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, joined)
	assert.Equal(t, 15, full)
	stored, err := s.participants.Count(ctx, room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, stored)
}

func TestRegistry_Get_LazyExpiry(t *testing.T) {
	s := newStores(t)
	clock := newTestClock()
	registry := service.NewRegistry(s.rooms, s.participants, service.WithRegistryClock(clock.Now))
	ctx := context.Background()
	room, err := registry.Create(ctx, service.CreateRoomSpec{DurationHours: intPtr(1)})
	require.NoError(t, err)

	_, err = registry.Get(ctx, room.ID)
	require.NoError(t, err)

	clock.Advance(time.Hour)

	_, err = registry.Get(ctx, room.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = registry.Join(ctx, room.ID, "late")
	assert.ErrorIs(t, err, service.ErrNotFound)

	// 记录仍在存储中，只是逻辑上已过期
	_, err = s.rooms.FindByID(ctx, room.ID)
	assert.NoError(t, err)

	// 重启后（新的 Registry）同样判定为不存在
	fresh := service.NewRegistry(s.rooms, s.participants, service.WithRegistryClock(clock.Now))
	_, err = fresh.Get(ctx, room.ID)
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestRegistry_Expire(t *testing.T) {
	s := newStores(t)
	registry := service.NewRegistry(s.rooms, s.participants)
	ctx := context.Background()
	room, err := registry.Create(ctx, service.CreateRoomSpec{})
	require.NoError(t, err)

	require.NoError(t, registry.Expire(ctx, room.ID))

	_, err = registry.Get(ctx, room.ID)
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
	stored, err := s.rooms.FindByID(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	registry.Forget(room.ID)
	_, err = registry.Get(ctx, room.ID)
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestRegistry_Get_Unknown(t *testing.T) {
	s := newStores(t)
	registry := service.NewRegistry(s.rooms, s.participants)

	_, err := registry.Get(context.Background(), "does-not-exist")

	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestRegistry_StorageFailure(t *testing.T) {
	// Arrange
	roomRepo := new(mocks.RoomRepository)
	participantRepo := new(mocks.ParticipantRepository)
	registry := service.NewRegistry(roomRepo, participantRepo)
	ctx := context.Background()
	roomRepo.On("FindByID", ctx, "r1").Return(nil, errors.New("connection refused")).Once()
	roomRepo.On("Create", ctx, mock.Anything).Return(errors.New("disk full")).Once()

	// Act
	_, getErr := registry.Get(ctx, "r1")
	_, createErr := registry.Create(ctx, service.CreateRoomSpec{})

	// Assert
	assert.ErrorIs(t, getErr, service.ErrStorage)
	assert.NotErrorIs(t, getErr, service.ErrNotFound)
	assert.ErrorIs(t, createErr, service.ErrStorage)

	// Verify
	roomRepo.AssertExpectations(t)
	participantRepo.AssertExpectations(t)
}

func TestRegistry_Touch(t *testing.T) {
	s := newStores(t)
	registry := service.NewRegistry(s.rooms, s.participants)
	ctx := context.Background()
	room, err := registry.Create(ctx, service.CreateRoomSpec{})
	require.NoError(t, err)
	_, err = registry.Join(ctx, room.ID, "s1")
	require.NoError(t, err)

	assert.NoError(t, registry.Touch(ctx, room.ID, "s1"))
	assert.ErrorIs(t, registry.Touch(ctx, room.ID, "stranger"), service.ErrNotParticipant)
}

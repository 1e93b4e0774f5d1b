package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ripple/internal/domain"
	"ripple/internal/repository"
	"ripple/internal/repository/mocks"
	"ripple/internal/service"
)

func seedPost(t *testing.T, s stores, id string) {
	t.Helper()
	require.NoError(t, s.posts.Create(context.Background(), &domain.Post{
		ID: id, RoomID: "room", Content: "hello", AnonymousID: "Calm Fox", CreatedAt: time.Now().UTC(),
	}))
}

func postScore(t *testing.T, s stores, id string) int {
	t.Helper()
	p, err := s.posts.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p.VoteScore
}

func TestVoteLedger_Cast_Transitions(t *testing.T) {
	s := newStores(t)
	seedPost(t, s, "p1")
	ledger := service.NewVoteLedger(s.votes)
	ctx := context.Background()

	score, err := ledger.Cast(ctx, "p1", "a", domain.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, 1, score, "first up vote")

	score, err = ledger.Cast(ctx, "p1", "a", domain.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, 1, score, "same direction again is a no-op")

	score, err = ledger.Cast(ctx, "p1", "a", domain.VoteDown)
	require.NoError(t, err)
	assert.Equal(t, -1, score, "flip up to down swings by -2")

	score, err = ledger.Cast(ctx, "p1", "a", domain.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, 1, score, "flip down to up swings by +2")

	assert.Equal(t, 1, postScore(t, s, "p1"))
}

func TestVoteLedger_Cast_ScoreIsSumOfCurrentVotes(t *testing.T) {
	s := newStores(t)
	seedPost(t, s, "p1")
	ledger := service.NewVoteLedger(s.votes)
	ctx := context.Background()

	steps := []struct {
		session   string
		direction domain.VoteDirection
	}{
		{"a", domain.VoteUp}, {"b", domain.VoteUp}, {"c", domain.VoteDown},
		{"b", domain.VoteDown}, {"a", domain.VoteUp}, {"c", domain.VoteUp}, {"d", domain.VoteDown},
	}
	current := map[string]int{}
	var score int
	for _, step := range steps {
		var err error
		score, err = ledger.Cast(ctx, "p1", step.session, step.direction)
		require.NoError(t, err)
		current[step.session] = step.direction.Value()
	}

	want := 0
	for _, v := range current {
		want += v
	}
	assert.Equal(t, want, score)
	assert.Equal(t, want, postScore(t, s, "p1"))
}

func TestVoteLedger_Cast_ConcurrentSameSession(t *testing.T) {
	s := newStores(t)
	seedPost(t, s, "p1")
	ledger := service.NewVoteLedger(s.votes)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Cast(ctx, "p1", "same", domain.VoteUp)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, postScore(t, s, "p1"), "repeated concurrent up votes count once")
}

func TestVoteLedger_Cast_ConcurrentFlips(t *testing.T) {
	s := newStores(t)
	seedPost(t, s, "p1")
	ledger := service.NewVoteLedger(s.votes)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		dir := domain.VoteUp
		if i%2 == 1 {
			dir = domain.VoteDown
		}
		go func(dir domain.VoteDirection) {
			defer wg.Done()
			_, err := ledger.Cast(ctx, "p1", "flipper", dir)
			assert.NoError(t, err)
		}(dir)
	}
	wg.Wait()

	vote, err := s.votes.Find(ctx, "p1", "flipper")
	require.NoError(t, err)
	assert.Equal(t, vote.VoteType.Value(), postScore(t, s, "p1"), "score matches the stored direction")
}

func TestVoteLedger_Cast_ConcurrentDistinctSessions(t *testing.T) {
	s := newStores(t)
	seedPost(t, s, "p1")
	ledger := service.NewVoteLedger(s.votes)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Cast(ctx, "p1", fmt.Sprintf("s%d", i), domain.VoteUp)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, postScore(t, s, "p1"))
}

func TestVoteLedger_Cast_PostNotFound(t *testing.T) {
	s := newStores(t)
	ledger := service.NewVoteLedger(s.votes)

	_, err := ledger.Cast(context.Background(), "ghost", "a", domain.VoteUp)

	assert.ErrorIs(t, err, service.ErrPostNotFound)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestVoteLedger_Cast_StorageFailure(t *testing.T) {
	// Arrange
	votes := new(mocks.VoteRepository)
	ledger := service.NewVoteLedger(votes)
	ctx := context.Background()
	votes.On("Find", ctx, "p1", "a").Return(nil, repository.ErrVoteNotFound).Once()
	votes.On("Apply", ctx, mock.MatchedBy(func(v *domain.Vote) bool {
		return v.PostID == "p1" && v.SessionID == "a" && v.VoteType == domain.VoteDown
	}), -1).Return(0, errors.New("deadlock detected")).Once()
	votes.On("Find", ctx, "p2", "a").Return(nil, errors.New("timeout")).Once()

	// Act
	_, applyErr := ledger.Cast(ctx, "p1", "a", domain.VoteDown)
	_, findErr := ledger.Cast(ctx, "p2", "a", domain.VoteUp)

	// Assert
	assert.ErrorIs(t, applyErr, service.ErrStorage)
	assert.ErrorIs(t, findErr, service.ErrStorage)

	// Verify
	votes.AssertExpectations(t)
}

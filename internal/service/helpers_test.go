package service_test

import (
	"sync"
	"testing"
	"time"

	"ripple/internal/domain"
	gormpersistence "ripple/internal/infra/persistence/gorm"
	"ripple/internal/ratelimit"
	"ripple/internal/testutil"
)

type stores struct {
	rooms        *gormpersistence.GormRoomRepository
	participants *gormpersistence.GormParticipantRepository
	posts        *gormpersistence.GormPostRepository
	votes        *gormpersistence.GormVoteRepository
}

func newStores(t *testing.T) stores {
	db := testutil.NewDB(t)
	return stores{
		rooms:        gormpersistence.NewGormRoomRepository(db),
		participants: gormpersistence.NewGormParticipantRepository(db),
		posts:        gormpersistence.NewGormPostRepository(db),
		votes:        gormpersistence.NewGormVoteRepository(db),
	}
}

func intPtr(v int) *int { return &v }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type published struct {
	roomID string
	event  domain.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(roomID string, event domain.Event) {
	p.mu.Lock()
	p.events = append(p.events, published{roomID: roomID, event: event})
	p.mu.Unlock()
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.event.Type)
	}
	return out
}

type allowAll struct{}

func (allowAll) Admit(string, ratelimit.Class) bool { return true }

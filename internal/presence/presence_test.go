package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ButyrinIA/blogpress/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestHub(ttl time.Duration) (*Hub, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	h := NewHub(ttl)
	h.now = c.now
	return h, c
}

func receive(t *testing.T, ch <-chan []models.Viewer) []models.Viewer {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "Канал закрыт раньше времени")
		return v
	case <-time.After(time.Second):
		t.Fatal("Таймаут ожидания снимка присутствия")
		return nil
	}
}

func TestHub_JoinLeave(t *testing.T) {
	h, _ := newTestHub(time.Minute)

	s1 := h.Join("post1", Member{UserID: "bob", Name: "Bob"})
	s2 := h.Join("post1", Member{UserID: "alice", Name: "Alice"})
	s3 := h.Join("post1", Member{UserID: "bob", Name: "Bob"}) // second tab

	viewers := h.Viewers("post1")
	require.Len(t, viewers, 2, "Вкладки одного пользователя должны объединяться")
	assert.Equal(t, "alice", viewers[0].UserID)
	assert.Equal(t, "bob", viewers[1].UserID)
	assert.True(t, viewers[1].Online)

	h.Leave("post1", s1)
	viewers = h.Viewers("post1")
	assert.True(t, viewers[1].Online, "Bob всё ещё открыт во второй вкладке")

	h.Leave("post1", s3)
	h.Leave("post1", s2)
	for _, v := range h.Viewers("post1") {
		assert.False(t, v.Online)
	}

	assert.Empty(t, h.Viewers("other"))
	assert.NotNil(t, h.Viewers("other"))
}

func TestHub_Heartbeat(t *testing.T) {
	h, c := newTestHub(time.Minute)
	sid := h.Join("post1", Member{UserID: "bob"})

	c.add(40 * time.Second)
	assert.True(t, h.Heartbeat("post1", sid))
	c.add(40 * time.Second)
	h.sweep()
	assert.True(t, h.Viewers("post1")[0].Online, "Heartbeat должен продлевать сессию")

	c.add(2 * time.Minute)
	h.sweep()
	require.Len(t, h.Viewers("post1"), 1)
	assert.False(t, h.Viewers("post1")[0].Online)

	assert.True(t, h.Heartbeat("post1", sid), "Heartbeat возвращает сессию онлайн")
	assert.True(t, h.Viewers("post1")[0].Online)

	assert.False(t, h.Heartbeat("post1", "unknown"))
	assert.False(t, h.Heartbeat("nope", sid))
}

func TestHub_SweepPurges(t *testing.T) {
	h, c := newTestHub(time.Minute)
	sid := h.Join("post1", Member{UserID: "bob"})
	h.Leave("post1", sid)

	c.add(30 * time.Second)
	h.sweep()
	assert.Len(t, h.Viewers("post1"), 1, "Недавно ушедший остаётся в списке")

	c.add(time.Minute)
	h.sweep()
	assert.Empty(t, h.Viewers("post1"))

	h.mu.Lock()
	assert.Empty(t, h.rooms, "Пустая комната должна удаляться")
	h.mu.Unlock()
}

func TestHub_Subscribe(t *testing.T) {
	h, _ := newTestHub(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	h.Join("post1", Member{UserID: "alice"})
	ch := h.Subscribe(ctx, "post1")

	initial := receive(t, ch)
	require.Len(t, initial, 1)
	assert.Equal(t, "alice", initial[0].UserID)

	h.Join("post1", Member{UserID: "bob"})
	h.Join("post1", Member{UserID: "carol"})
	latest := receive(t, ch)
	assert.Len(t, latest, 3, "Медленный слушатель получает только последний снимок")

	h.Join("post2", Member{UserID: "dave"})
	select {
	case v := <-ch:
		t.Fatalf("Неожиданный снимок из другой комнаты: %v", v)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "Канал должен быть закрыт")
	case <-time.After(time.Second):
		t.Fatal("Канал не закрыт после отмены контекста")
	}
}

func TestHub_Run(t *testing.T) {
	h := NewHub(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	h.Join("post1", Member{UserID: "bob"})
	assert.Eventually(t, func() bool {
		v := h.Viewers("post1")
		return len(v) == 0
	}, time.Second, 10*time.Millisecond, "Janitor должен очистить молчащую сессию")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

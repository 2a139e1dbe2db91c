// Package presence отслеживает, кто сейчас смотрит комнату (страницу поста).
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/ButyrinIA/blogpress/internal/models"
)

// Member - участник, входящий в комнату
type Member struct {
	UserID string
	Name   string
	Image  *string
}

type session struct {
	member    Member
	online    bool
	lastSeen  time.Time
	offlineAt time.Time
}

type room struct {
	sessions  map[string]*session
	listeners map[chan []models.Viewer]struct{}
}

// Hub хранит сессии по комнатам и оповещает слушателей при каждом изменении
type Hub struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	rooms map[string]*room
}

func NewHub(ttl time.Duration) *Hub {
	return &Hub{ttl: ttl, now: time.Now, rooms: make(map[string]*room)}
}

// TTL - время тишины, после которого сессия уходит в офлайн
func (h *Hub) TTL() time.Duration { return h.ttl }

// Join регистрирует новую сессию участника в комнате и возвращает ее id
func (h *Hub) Join(roomID string, member Member) string {
	id := uuid.New().String()
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.room(roomID)
	r.sessions[id] = &session{member: member, online: true, lastSeen: h.now()}
	h.publish(r)
	return id
}

// Heartbeat отмечает сессию живой. false - сессии нет, нужно войти заново
func (h *Hub) Heartbeat(roomID, sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.lastSeen = h.now()
	if !s.online {
		s.online = true
		h.publish(r)
	}
	return true
}

// Leave переводит сессию в офлайн. Она остается в списке до очистки
func (h *Hub) Leave(roomID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	s, ok := r.sessions[sessionID]
	if !ok || !s.online {
		return
	}
	s.online = false
	s.lastSeen = h.now()
	s.offlineAt = s.lastSeen
	h.publish(r)
}

// Viewers возвращает по одной записи на пользователя, по возрастанию user id
func (h *Hub) Viewers(roomID string) []models.Viewer {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return []models.Viewer{}
	}
	return r.snapshot()
}

// Subscribe отдает снимки комнаты, начиная с текущего, до завершения ctx.
// Отстающий слушатель получает только последний снимок.
func (h *Hub) Subscribe(ctx context.Context, roomID string) <-chan []models.Viewer {
	ch := make(chan []models.Viewer, 1)

	h.mu.Lock()
	r := h.room(roomID)
	r.listeners[ch] = struct{}{}
	ch <- r.snapshot()
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if r, ok := h.rooms[roomID]; ok {
			delete(r.listeners, ch)
			h.drop(roomID, r)
		}
		close(ch)
	}()
	return ch
}

// Run завершает молчащие сессии до отмены ctx
func (h *Hub) Run(ctx context.Context) error {
	interval := h.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[INFO] запуск presence janitor, ttl=%v", h.ttl)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep переводит молчащие сессии в офлайн и удаляет давно ушедшие
func (h *Hub) sweep() {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, r := range h.rooms {
		changed := false
		for sid, s := range r.sessions {
			switch {
			case s.online && now.Sub(s.lastSeen) > h.ttl:
				s.online = false
				s.offlineAt = now
				changed = true
			case !s.online && now.Sub(s.offlineAt) > h.ttl:
				delete(r.sessions, sid)
				changed = true
			}
		}
		if changed {
			h.publish(r)
		}
		h.drop(id, r)
	}
}

func (h *Hub) room(id string) *room {
	r, ok := h.rooms[id]
	if !ok {
		r = &room{sessions: make(map[string]*session), listeners: make(map[chan []models.Viewer]struct{})}
		h.rooms[id] = r
	}
	return r
}

func (h *Hub) drop(id string, r *room) {
	if len(r.sessions) == 0 && len(r.listeners) == 0 {
		delete(h.rooms, id)
	}
}

// publish отправляет снимок каждому слушателю, заменяя непрочитанный. Вызывается под mu
func (h *Hub) publish(r *room) {
	if len(r.listeners) == 0 {
		return
	}
	snap := r.snapshot()
	for ch := range r.listeners {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (r *room) snapshot() []models.Viewer {
	byUser := make(map[string]*models.Viewer, len(r.sessions))
	for _, s := range r.sessions {
		v, ok := byUser[s.member.UserID]
		if !ok {
			v = &models.Viewer{UserID: s.member.UserID, Name: s.member.Name, Image: s.member.Image}
			byUser[s.member.UserID] = v
		}
		v.Online = v.Online || s.online
		if s.lastSeen.After(v.LastSeen) {
			v.LastSeen = s.lastSeen
		}
	}

	viewers := make([]models.Viewer, 0, len(byUser))
	for _, v := range byUser {
		viewers = append(viewers, *v)
	}
	sort.Slice(viewers, func(i, j int) bool { return viewers[i].UserID < viewers[j].UserID })
	return viewers
}

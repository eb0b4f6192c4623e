package memory

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"group-quiz-hub/internal/app"
	"group-quiz-hub/internal/domain"
)

// RoomStore is an in-memory implementation of app.RoomStore.
type RoomStore struct {
	clock clockwork.Clock

	mu    sync.RWMutex
	rooms map[domain.SessionKey]*app.Room
}

func NewRoomStore(clock clockwork.Clock) *RoomStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RoomStore{
		clock: clock,
		rooms: make(map[domain.SessionKey]*app.Room),
	}
}

func (s *RoomStore) GetOrCreate(key domain.SessionKey) *app.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[key]; ok {
		return room
	}
	room := app.NewRoom(key, s.clock)
	s.rooms[key] = room
	return room
}

func (s *RoomStore) Get(key domain.SessionKey) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[key]
	return room, ok
}

func (s *RoomStore) Delete(key domain.SessionKey, room *app.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rooms[key]
	if !ok || current != room {
		return false
	}
	delete(s.rooms, key)
	return true
}

func (s *RoomStore) Keys() []domain.SessionKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]domain.SessionKey, 0, len(s.rooms))
	for key := range s.rooms {
		keys = append(keys, key)
	}
	return keys
}

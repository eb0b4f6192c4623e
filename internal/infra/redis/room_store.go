package redis

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"group-quiz-hub/internal/app"
	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/infra/memory"
)

// RoomStore keeps rooms in process memory and marks each live room in Redis
// so operators (and other instances) can see which sessions are hosted.
type RoomStore struct {
	*memory.RoomStore
	client *redis.Client
	ttl    time.Duration
}

func NewRoomStore(client *redis.Client, ttl time.Duration, clock clockwork.Clock) *RoomStore {
	return &RoomStore{
		RoomStore: memory.NewRoomStore(clock),
		client:    client,
		ttl:       ttl,
	}
}

func (s *RoomStore) GetOrCreate(key domain.SessionKey) *app.Room {
	room := s.RoomStore.GetOrCreate(key)
	// best-effort liveness marker, refreshed on every lookup
	if err := s.client.Set(context.Background(), s.key(key), "1", s.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("session", key.String()).Msg("failed to mark room live")
	}
	return room
}

func (s *RoomStore) Delete(key domain.SessionKey, room *app.Room) bool {
	if !s.RoomStore.Delete(key, room) {
		return false
	}
	_ = s.client.Del(context.Background(), s.key(key)).Err()
	return true
}

func (s *RoomStore) key(key domain.SessionKey) string {
	return "quiz:session:" + key.String()
}

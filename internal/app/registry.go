package app

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/metrics"
	"group-quiz-hub/internal/protocol"
)

// RoomStore abstracts where rooms are kept (in-memory, Redis-marked, etc).
type RoomStore interface {
	GetOrCreate(key domain.SessionKey) *Room
	Get(key domain.SessionKey) (*Room, bool)
	// Delete removes key only while it still maps to room.
	Delete(key domain.SessionKey, room *Room) bool
	Keys() []domain.SessionKey
}

// Registry maps session keys to rooms and owns their membership.
type Registry struct {
	rooms RoomStore
	clock clockwork.Clock
}

func NewRegistry(rooms RoomStore, clock clockwork.Clock) *Registry {
	return &Registry{rooms: rooms, clock: clock}
}

// Room returns the room for key, creating an empty one if needed.
func (g *Registry) Room(key domain.SessionKey) *Room {
	return g.rooms.GetOrCreate(key)
}

func (g *Registry) Get(key domain.SessionKey) (*Room, bool) {
	return g.rooms.Get(key)
}

// Join adds peer to the room for key and announces it to the others.
func (g *Registry) Join(key domain.SessionKey, peer Peer, remaining func() int) (*Room, error) {
	for attempt := 0; attempt < 3; attempt++ {
		room := g.rooms.GetOrCreate(key)
		err := room.join(peer, remaining)
		if err == errRoomEvicted {
			g.rooms.Delete(key, room)
			continue
		}
		return room, err
	}
	return nil, domain.ErrSessionNotFound
}

// Leave removes peer and announces it. Leaderboard rooms hold no state and
// are dropped as soon as they empty; session rooms wait for the idle sweep.
func (g *Registry) Leave(key domain.SessionKey, peer Peer) {
	room, ok := g.rooms.Get(key)
	if !ok {
		return
	}
	if left := room.leave(peer); left == 0 && key.IsLeaderboard() {
		g.rooms.Delete(key, room)
	}
}

// Broadcast fans msg out to every peer in the room except excludeID.
func (g *Registry) Broadcast(key domain.SessionKey, msg protocol.ServerMessage, excludeID string) {
	if room, ok := g.rooms.Get(key); ok {
		room.broadcast(msg, excludeID)
	}
}

// Evict closes every peer of room and forgets it.
func (g *Registry) Evict(key domain.SessionKey, room *Room, code int, reason string) {
	room.closeAll(code, reason)
	if g.rooms.Delete(key, room) {
		log.Info().Str("session", key.String()).Str("reason", reason).Msg("room evicted")
	}
}

// EvictIdle forgets every room that has had no peers for at least
// timeout and returns their keys.
func (g *Registry) EvictIdle(timeout time.Duration) []domain.SessionKey {
	now := g.clock.Now()
	keys := g.rooms.Keys()
	metrics.Rooms.Set(float64(len(keys)))

	var evicted []domain.SessionKey
	for _, key := range keys {
		room, ok := g.rooms.Get(key)
		if !ok || !room.evictIfIdle(now, timeout) {
			continue
		}
		if g.rooms.Delete(key, room) {
			log.Info().Str("session", key.String()).Str("reason", "idle").Msg("room evicted")
		}
		evicted = append(evicted, key)
	}
	return evicted
}

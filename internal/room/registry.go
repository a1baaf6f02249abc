// Package room keeps the authoritative room membership table.
//
// Rooms are created on first join and dropped when their last member
// leaves. Rooms are spread over independently locked shards so that traffic
// in one room never waits on a mutation in an unrelated one.
package room

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/samber/lo"
)

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

// Registry maps room ids to the set of connection ids joined to them.
type Registry struct {
	shards [shardCount]*shard
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{rooms: make(map[string]map[string]struct{})}
	}
	return r
}

func (r *Registry) shardFor(roomID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return r.shards[h.Sum32()%shardCount]
}

// Join adds connID to roomID. It reports whether the connection was newly
// added; joining twice is a no-op.
func (r *Registry) Join(connID, roomID string) bool {
	s := r.shardFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		s.rooms[roomID] = members
	}
	if _, exists := members[connID]; exists {
		return false
	}
	members[connID] = struct{}{}
	return true
}

// Leave removes connID from roomID and reports whether it was a member.
func (r *Registry) Leave(connID, roomID string) bool {
	s := r.shardFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(s.rooms, roomID)
	}
	return true
}

// Members returns a sorted snapshot of the connection ids in roomID.
func (r *Registry) Members(roomID string) []string {
	s := r.shardFor(roomID)
	s.mu.RLock()
	ids := lo.Keys(s.rooms[roomID])
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of members in roomID.
func (r *Registry) Count(roomID string) int {
	s := r.shardFor(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID])
}

// IsMember reports whether connID currently belongs to roomID.
func (r *Registry) IsMember(connID, roomID string) bool {
	s := r.shardFor(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID][connID]
	return ok
}

// Stats returns the number of non-empty rooms and the total membership count.
func (r *Registry) Stats() (rooms, members int) {
	for _, s := range r.shards {
		s.mu.RLock()
		rooms += len(s.rooms)
		for _, m := range s.rooms {
			members += len(m)
		}
		s.mu.RUnlock()
	}
	return rooms, members
}

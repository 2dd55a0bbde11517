package realtime

import (
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const registryShardCount = 32

// Registry is the in-process mapping from user identity to its set of live
// sessions. Contention is sharded by user identity so unrelated users never
// serialize on one lock; a second shard set indexes sessions by connection
// identifier for unregister and the heartbeat sweep.
type Registry struct {
	users []registryUserShard
	conns []registryConnShard
}

type registryUserShard struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[string]*Session
}

type registryConnShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	r := &Registry{
		users: make([]registryUserShard, registryShardCount),
		conns: make([]registryConnShard, registryShardCount),
	}
	for i := range r.users {
		r.users[i].sessions = make(map[uuid.UUID]map[string]*Session)
	}
	for i := range r.conns {
		r.conns[i].sessions = make(map[string]*Session)
	}
	return r
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % registryShardCount)
}

// Register adds a session under its owning user and returns the connection
// identifier.
func (r *Registry) Register(s *Session) string {
	us := &r.users[shardIndex(s.userID.String())]
	us.mu.Lock()
	set := us.sessions[s.userID]
	if set == nil {
		set = make(map[string]*Session)
		us.sessions[s.userID] = set
	}
	set[s.id] = s
	us.mu.Unlock()

	cs := &r.conns[shardIndex(s.id)]
	cs.mu.Lock()
	cs.sessions[s.id] = s
	cs.mu.Unlock()

	slog.Debug("session registered", "connID", s.id, "userID", s.userID)
	return s.id
}

// Unregister removes a session by connection identifier. Removing an unknown
// identifier is a no-op; cleanup paths race and must stay idempotent.
func (r *Registry) Unregister(connID string) {
	cs := &r.conns[shardIndex(connID)]
	cs.mu.Lock()
	s, ok := cs.sessions[connID]
	if ok {
		delete(cs.sessions, connID)
	}
	cs.mu.Unlock()
	if !ok {
		return
	}

	us := &r.users[shardIndex(s.userID.String())]
	us.mu.Lock()
	if set := us.sessions[s.userID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(us.sessions, s.userID)
		}
	}
	us.mu.Unlock()

	slog.Debug("session unregistered", "connID", connID, "userID", s.userID)
}

// ConnectionsFor returns the local sessions belonging to a user.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []*Session {
	us := &r.users[shardIndex(userID.String())]
	us.mu.RLock()
	defer us.mu.RUnlock()

	set := us.sessions[userID]
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// SessionByConn resolves a connection identifier to its session, if local.
func (r *Registry) SessionByConn(connID string) (*Session, bool) {
	cs := &r.conns[shardIndex(connID)]
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	s, ok := cs.sessions[connID]
	return s, ok
}

// Snapshot returns every registered session. Used by the heartbeat sweep and
// by shutdown draining.
func (r *Registry) Snapshot() []*Session {
	var out []*Session
	for i := range r.conns {
		cs := &r.conns[i]
		cs.mu.RLock()
		for _, s := range cs.sessions {
			out = append(out, s)
		}
		cs.mu.RUnlock()
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	n := 0
	for i := range r.conns {
		cs := &r.conns[i]
		cs.mu.RLock()
		n += len(cs.sessions)
		cs.mu.RUnlock()
	}
	return n
}

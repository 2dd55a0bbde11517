package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// MembershipChecker is the durable group-membership collaborator. A user can
// be a durable member without holding a live room subscription; the reverse is
// rejected at join time.
type MembershipChecker interface {
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
}

const roomShardCount = 32

// RoomTracker maps group identity to the local connections subscribed to that
// group's live channel. A reverse index from connection to joined rooms makes
// disconnect cleanup O(rooms joined) with no dangling references.
type RoomTracker struct {
	membership MembershipChecker
	shards     []roomShard
	byConnMu   sync.Mutex
	byConn     map[string]map[uuid.UUID]struct{}
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[string]struct{}
}

func NewRoomTracker(membership MembershipChecker) *RoomTracker {
	t := &RoomTracker{
		membership: membership,
		shards:     make([]roomShard, roomShardCount),
		byConn:     make(map[string]map[uuid.UUID]struct{}),
	}
	for i := range t.shards {
		t.shards[i].rooms = make(map[uuid.UUID]map[string]struct{})
	}
	return t
}

func (t *RoomTracker) shard(groupID uuid.UUID) *roomShard {
	return &t.shards[shardIndex(groupID.String())]
}

// Join subscribes a connection to a group's live channel after validating
// durable membership. Joining twice is a no-op.
func (t *RoomTracker) Join(ctx context.Context, groupID uuid.UUID, s *Session) error {
	ok, err := t.membership.IsMember(ctx, groupID, s.userID)
	if err != nil {
		return fmt.Errorf("membership lookup: %w", err)
	}
	if !ok {
		return ErrNotAMember
	}

	sh := t.shard(groupID)
	sh.mu.Lock()
	set := sh.rooms[groupID]
	if set == nil {
		set = make(map[string]struct{})
		sh.rooms[groupID] = set
	}
	set[s.id] = struct{}{}
	sh.mu.Unlock()

	t.byConnMu.Lock()
	joined := t.byConn[s.id]
	if joined == nil {
		joined = make(map[uuid.UUID]struct{})
		t.byConn[s.id] = joined
	}
	joined[groupID] = struct{}{}
	t.byConnMu.Unlock()

	slog.Debug("room joined", "groupID", groupID, "connID", s.id, "userID", s.userID)
	return nil
}

// Leave removes a connection from a room. Idempotent.
func (t *RoomTracker) Leave(groupID uuid.UUID, connID string) {
	sh := t.shard(groupID)
	sh.mu.Lock()
	if set := sh.rooms[groupID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(sh.rooms, groupID)
		}
	}
	sh.mu.Unlock()

	t.byConnMu.Lock()
	if joined := t.byConn[connID]; joined != nil {
		delete(joined, groupID)
		if len(joined) == 0 {
			delete(t.byConn, connID)
		}
	}
	t.byConnMu.Unlock()
}

// MembersOf returns the local connection identifiers subscribed to a group.
func (t *RoomTracker) MembersOf(groupID uuid.UUID) []string {
	sh := t.shard(groupID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	set := sh.rooms[groupID]
	out := make([]string, 0, len(set))
	for connID := range set {
		out = append(out, connID)
	}
	return out
}

// DropConnection removes a connection from every room it joined. Called on
// session close via registry cleanup.
func (t *RoomTracker) DropConnection(connID string) {
	t.byConnMu.Lock()
	joined := t.byConn[connID]
	delete(t.byConn, connID)
	t.byConnMu.Unlock()

	for groupID := range joined {
		sh := t.shard(groupID)
		sh.mu.Lock()
		if set := sh.rooms[groupID]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(sh.rooms, groupID)
			}
		}
		sh.mu.Unlock()
	}
}

// JoinedRooms returns the rooms a connection currently subscribes to.
func (t *RoomTracker) JoinedRooms(connID string) []uuid.UUID {
	t.byConnMu.Lock()
	defer t.byConnMu.Unlock()

	joined := t.byConn[connID]
	out := make([]uuid.UUID, 0, len(joined))
	for groupID := range joined {
		out = append(out, groupID)
	}
	return out
}

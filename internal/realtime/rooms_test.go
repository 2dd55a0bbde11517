package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestRoomJoinRequiresDurableMembership(t *testing.T) {
	env := newTestEnv(t)
	groupID := uuid.New()
	member := uuid.New()
	outsider := uuid.New()
	env.membership.allow(groupID, member)

	ms := newDetachedSession(env.gw, member)
	os := newDetachedSession(env.gw, outsider)

	if err := env.rooms.Join(context.Background(), groupID, ms); err != nil {
		t.Fatalf("member join failed: %v", err)
	}
	if err := env.rooms.Join(context.Background(), groupID, os); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}

	members := env.rooms.MembersOf(groupID)
	if len(members) != 1 || members[0] != ms.id {
		t.Errorf("expected only member connection in room, got %v", members)
	}
}

func TestRoomJoinLeaveNetEffect(t *testing.T) {
	env := newTestEnv(t)
	groupID := uuid.New()
	userID := uuid.New()
	env.membership.allow(groupID, userID)

	s := newDetachedSession(env.gw, userID)
	ctx := context.Background()

	// join, join, leave, leave, join nets out to joined once.
	if err := env.rooms.Join(ctx, groupID, s); err != nil {
		t.Fatal(err)
	}
	if err := env.rooms.Join(ctx, groupID, s); err != nil {
		t.Fatal(err)
	}
	env.rooms.Leave(groupID, s.id)
	env.rooms.Leave(groupID, s.id) // idempotent
	if err := env.rooms.Join(ctx, groupID, s); err != nil {
		t.Fatal(err)
	}

	members := env.rooms.MembersOf(groupID)
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}

	rooms := env.rooms.JoinedRooms(s.id)
	if len(rooms) != 1 || rooms[0] != groupID {
		t.Errorf("expected joined rooms [%s], got %v", groupID, rooms)
	}
}

func TestRoomDropConnectionRemovesEverywhere(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	g1, g2 := uuid.New(), uuid.New()
	env.membership.allow(g1, userID)
	env.membership.allow(g2, userID)

	s := newDetachedSession(env.gw, userID)
	ctx := context.Background()
	if err := env.rooms.Join(ctx, g1, s); err != nil {
		t.Fatal(err)
	}
	if err := env.rooms.Join(ctx, g2, s); err != nil {
		t.Fatal(err)
	}

	env.rooms.DropConnection(s.id)

	if len(env.rooms.MembersOf(g1)) != 0 || len(env.rooms.MembersOf(g2)) != 0 {
		t.Error("dropped connection must not linger in any room")
	}
	if len(env.rooms.JoinedRooms(s.id)) != 0 {
		t.Error("reverse index must be cleared")
	}
}

func TestRoomJoinPropagatesLookupError(t *testing.T) {
	env := newTestEnv(t)
	env.membership.err = errors.New("db down")

	s := newDetachedSession(env.gw, uuid.New())
	err := env.rooms.Join(context.Background(), uuid.New(), s)
	if err == nil || errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected wrapped lookup error, got %v", err)
	}
}

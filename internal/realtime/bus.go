package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventMessage    EventKind = "message"
	EventPresence   EventKind = "presence"
	EventMembership EventKind = "membership"
)

// DeliveryEvent is the immutable envelope carried across processes. Origin
// plus the per-origin sequence number identifies an event for deduplication;
// every subscribed process receives every event, the origin included.
type DeliveryEvent struct {
	Kind      EventKind       `json:"kind"`
	Origin    string          `json:"origin"`
	Seq       uint64          `json:"seq"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	GroupID   *uuid.UUID      `json:"group_id,omitempty"`
	Broadcast bool            `json:"broadcast,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func (e *DeliveryEvent) dedupKey() string {
	return fmt.Sprintf("%s:%d", e.Origin, e.Seq)
}

// partitionKey keeps events of one conversation on one Kafka partition so
// per-conversation order survives the broker.
func (e *DeliveryEvent) partitionKey() string {
	switch {
	case e.GroupID != nil:
		return "group:" + e.GroupID.String()
	case e.UserID != nil:
		return "user:" + e.UserID.String()
	default:
		return "broadcast"
	}
}

// Bus is the cross-process broadcast transport. Handlers must be idempotent:
// a broker may redeliver, and the origin process receives its own publishes.
type Bus interface {
	Publish(ctx context.Context, event *DeliveryEvent) error
	Subscribe(handler func(*DeliveryEvent)) error
	Close() error
}

// dedupCache remembers recently applied (origin, seq) pairs with FIFO
// eviction. Seen returns true exactly once per key until eviction.
type dedupCache struct {
	mu    sync.Mutex
	max   int
	seen  map[string]struct{}
	order []string
	head  int
}

func newDedupCache(max int) *dedupCache {
	if max <= 0 {
		max = 4096
	}
	return &dedupCache{
		max:   max,
		seen:  make(map[string]struct{}, max),
		order: make([]string, 0, max),
	}
}

// Add records a key, returning false if it was already present.
func (c *dedupCache) Add(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.seen[key]; dup {
		return false
	}
	if len(c.seen) >= c.max {
		oldest := c.order[c.head]
		delete(c.seen, oldest)
		c.order[c.head] = key
		c.head = (c.head + 1) % c.max
	} else {
		c.order = append(c.order, key)
	}
	c.seen[key] = struct{}{}
	return true
}

func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

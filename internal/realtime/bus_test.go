package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestDedupCacheRejectsRedelivery(t *testing.T) {
	c := newDedupCache(16)

	if !c.Add("proc-a:1") {
		t.Fatal("first add must succeed")
	}
	if c.Add("proc-a:1") {
		t.Fatal("redelivered key must be rejected")
	}
	if !c.Add("proc-a:2") {
		t.Fatal("distinct seq must be accepted")
	}
	if !c.Add("proc-b:1") {
		t.Fatal("same seq from another origin must be accepted")
	}
}

func TestDedupCacheFIFOEviction(t *testing.T) {
	c := newDedupCache(3)

	for i := 1; i <= 4; i++ {
		c.Add(fmt.Sprintf("proc-a:%d", i))
	}
	if c.Len() != 3 {
		t.Fatalf("cache size = %d, want 3", c.Len())
	}
	// proc-a:1 was evicted and may be applied again; the newest keys hold.
	if !c.Add("proc-a:1") {
		t.Error("evicted key should be accepted again")
	}
	if c.Add("proc-a:4") {
		t.Error("recent key should still be rejected")
	}
}

func TestDedupCacheConcurrentSingleWinner(t *testing.T) {
	c := newDedupCache(128)

	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Add("proc-a:7") {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var n int
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("expected exactly one winner, got %d", n)
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	bus := NewRedisBus(client)
	t.Cleanup(func() { bus.Close() })

	received := make(chan *DeliveryEvent, 1)
	require.NoError(t, bus.Subscribe(func(e *DeliveryEvent) {
		received <- e
	}))

	groupID := uuid.New()
	payload, _ := json.Marshal(map[string]string{"text": "hello"})
	event := &DeliveryEvent{
		Kind:    EventMessage,
		Origin:  "proc-test",
		Seq:     42,
		GroupID: &groupID,
		Payload: payload,
	}
	require.NoError(t, bus.Publish(context.Background(), event))

	select {
	case got := <-received:
		require.Equal(t, EventMessage, got.Kind)
		require.Equal(t, "proc-test", got.Origin)
		require.Equal(t, uint64(42), got.Seq)
		require.NotNil(t, got.GroupID)
		require.Equal(t, groupID, *got.GroupID)
		require.JSONEq(t, string(payload), string(got.Payload))
		require.Equal(t, event.dedupKey(), got.dedupKey())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus delivery")
	}
}

func TestDeliveryEventPartitionKey(t *testing.T) {
	groupID := uuid.New()
	userID := uuid.New()

	e := &DeliveryEvent{GroupID: &groupID}
	if got, want := e.partitionKey(), "group:"+groupID.String(); got != want {
		t.Errorf("group partition key = %q, want %q", got, want)
	}
	e = &DeliveryEvent{UserID: &userID}
	if got, want := e.partitionKey(), "user:"+userID.String(); got != want {
		t.Errorf("user partition key = %q, want %q", got, want)
	}
	e = &DeliveryEvent{Broadcast: true}
	if e.partitionKey() != "broadcast" {
		t.Errorf("broadcast partition key = %q", e.partitionKey())
	}
}

package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestPresence(t *testing.T) (*RedisPresence, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisPresence(client, time.Minute), mr
}

func TestPresenceOnlineUntilLastConnectionCloses(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()
	userID := uuid.New()

	online, err := p.IsOnline(ctx, userID)
	require.NoError(t, err)
	require.False(t, online)

	require.NoError(t, p.MarkOnline(ctx, userID, "proc-a"))
	require.NoError(t, p.MarkOnline(ctx, userID, "proc-b"))

	online, err = p.IsOnline(ctx, userID)
	require.NoError(t, err)
	require.True(t, online)

	require.NoError(t, p.MarkOffline(ctx, userID, "proc-a"))
	online, err = p.IsOnline(ctx, userID)
	require.NoError(t, err)
	require.True(t, online, "second connection should keep the user online")

	require.NoError(t, p.MarkOffline(ctx, userID, "proc-b"))
	online, err = p.IsOnline(ctx, userID)
	require.NoError(t, err)
	require.False(t, online)
}

func TestPresenceLastSeenStampedAtZero(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()
	userID := uuid.New()

	seen, err := p.LastSeen(ctx, userID)
	require.NoError(t, err)
	require.True(t, seen.IsZero())

	require.NoError(t, p.MarkOnline(ctx, userID, "proc-a"))
	require.NoError(t, p.MarkOffline(ctx, userID, "proc-a"))

	seen, err = p.LastSeen(ctx, userID)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), seen, 5*time.Second)
}

func TestPresenceOfflineClampsAtZero(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, p.MarkOnline(ctx, userID, "proc-a"))
	require.NoError(t, p.MarkOffline(ctx, userID, "proc-a"))
	// Racing cleanup paths can decrement twice; the counter must not go
	// negative or a later connect would read as offline.
	require.NoError(t, p.MarkOffline(ctx, userID, "proc-a"))

	count, err := p.ConnectionCount(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	require.NoError(t, p.MarkOnline(ctx, userID, "proc-a"))
	online, err := p.IsOnline(ctx, userID)
	require.NoError(t, err)
	require.True(t, online)
}

func TestPresenceSweepReclaimsDeadProcess(t *testing.T) {
	p, mr := newTestPresence(t)
	ctx := context.Background()
	userA := uuid.New()
	userB := uuid.New()

	require.NoError(t, p.MarkOnline(ctx, userA, "proc-dead"))
	require.NoError(t, p.MarkOnline(ctx, userA, "proc-dead"))
	require.NoError(t, p.MarkOnline(ctx, userB, "proc-dead"))
	require.NoError(t, p.MarkOnline(ctx, userA, "proc-live"))

	// Expire only the dead process's liveness key.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, p.TouchProcess(ctx, "proc-live"))

	require.NoError(t, p.SweepDeadProcesses(ctx))

	online, err := p.IsOnline(ctx, userA)
	require.NoError(t, err)
	require.True(t, online, "proc-live still holds a connection for userA")

	count, err := p.ConnectionCount(ctx, userA)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	online, err = p.IsOnline(ctx, userB)
	require.NoError(t, err)
	require.False(t, online)

	seen, err := p.LastSeen(ctx, userB)
	require.NoError(t, err)
	require.False(t, seen.IsZero())

	// Sweep is idempotent once the dead process's bookkeeping is gone.
	require.NoError(t, p.SweepDeadProcesses(ctx))
	count, err = p.ConnectionCount(ctx, userA)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestPresenceConcurrentSweepersSubtractOnce(t *testing.T) {
	p, mr := newTestPresence(t)
	ctx := context.Background()
	userID := uuid.New()

	// Two connections died with their process; one survives elsewhere. Two
	// sweepers racing over the same dead process must subtract its
	// contribution exactly once, or the surviving connection reads offline.
	require.NoError(t, p.MarkOnline(ctx, userID, "proc-dead"))
	require.NoError(t, p.MarkOnline(ctx, userID, "proc-dead"))
	require.NoError(t, p.MarkOnline(ctx, userID, "proc-live"))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, p.TouchProcess(ctx, "proc-live"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.SweepDeadProcesses(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	count, err := p.ConnectionCount(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	online, err := p.IsOnline(ctx, userID)
	require.NoError(t, err)
	require.True(t, online)
}

func TestPresenceOfflineRaceDoesNotEraseConnect(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, p.MarkOnline(ctx, userID, "proc-a"))
	require.NoError(t, p.MarkOffline(ctx, userID, "proc-a"))

	// The floor at zero runs inside Redis, so a connect landing between the
	// decrement and the floor cannot be wiped out. With the count already at
	// zero, an extra offline followed by an online must leave the user online.
	require.NoError(t, p.MarkOffline(ctx, userID, "proc-a"))
	require.NoError(t, p.MarkOnline(ctx, userID, "proc-a"))

	count, err := p.ConnectionCount(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

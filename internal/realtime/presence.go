package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Presence is the process-shared online/offline state. A user is online iff
// its live connection count across all processes is greater than zero.
type Presence interface {
	MarkOnline(ctx context.Context, userID uuid.UUID, procID string) error
	MarkOffline(ctx context.Context, userID uuid.UUID, procID string) error
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	LastSeen(ctx context.Context, userID uuid.UUID) (time.Time, error)
}

const (
	presenceCountKey    = "presence:count:%s"
	presenceLastSeenKey = "presence:last_seen:%s"
	presenceProcsKey    = "presence:procs"
	presenceProcKey     = "presence:proc:%s"
	presenceProcCounts  = "presence:proc:%s:counts"
)

// RedisPresence keeps one atomic counter per user plus, per process, a
// liveness key with TTL and a hash of that process's per-user contributions.
// A process that dies without calling MarkOffline leaves its counts behind;
// SweepDeadProcesses subtracts them once the liveness key expires. Until the
// sweep runs the user may look online; the staleness window is bounded by
// the liveness TTL.
type RedisPresence struct {
	client  *redis.Client
	procTTL time.Duration
}

// decrFloorScript decrements a counter by ARGV[1] without letting it go
// negative. The floor must happen inside Redis: a client-side clamp would
// race a concurrent Incr and erase it.
var decrFloorScript = redis.NewScript(`
local v = redis.call('DECRBY', KEYS[1], ARGV[1])
if v < 0 then
	redis.call('SET', KEYS[1], '0')
	v = 0
end
return v`)

func NewRedisPresence(client *redis.Client, procTTL time.Duration) *RedisPresence {
	return &RedisPresence{client: client, procTTL: procTTL}
}

func (p *RedisPresence) MarkOnline(ctx context.Context, userID uuid.UUID, procID string) error {
	pipe := p.client.Pipeline()
	pipe.Incr(ctx, fmt.Sprintf(presenceCountKey, userID))
	pipe.HIncrBy(ctx, fmt.Sprintf(presenceProcCounts, procID), userID.String(), 1)
	pipe.SAdd(ctx, presenceProcsKey, procID)
	pipe.Set(ctx, fmt.Sprintf(presenceProcKey, procID), "1", p.procTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

func (p *RedisPresence) MarkOffline(ctx context.Context, userID uuid.UUID, procID string) error {
	// A racing cleanup path may decrement twice; the script floors at zero.
	count, err := decrFloorScript.Run(ctx, p.client, []string{fmt.Sprintf(presenceCountKey, userID)}, 1).Int64()
	if err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	p.client.HIncrBy(ctx, fmt.Sprintf(presenceProcCounts, procID), userID.String(), -1)
	if count == 0 {
		if err := p.stampLastSeen(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

func (p *RedisPresence) stampLastSeen(ctx context.Context, userID uuid.UUID) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := p.client.Set(ctx, fmt.Sprintf(presenceLastSeenKey, userID), now, 0).Err(); err != nil {
		return fmt.Errorf("stamp last seen: %w", err)
	}
	return nil
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	val, err := p.client.Get(ctx, fmt.Sprintf(presenceCountKey, userID)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val > 0, nil
}

func (p *RedisPresence) LastSeen(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	val, err := p.client.Get(ctx, fmt.Sprintf(presenceLastSeenKey, userID)).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(val, 0), nil
}

// ConnectionCount reports the live connection count across all processes.
func (p *RedisPresence) ConnectionCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	val, err := p.client.Get(ctx, fmt.Sprintf(presenceCountKey, userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// TouchProcess refreshes this process's liveness key. Called on the sweep
// interval while the process is healthy.
func (p *RedisPresence) TouchProcess(ctx context.Context, procID string) error {
	pipe := p.client.Pipeline()
	pipe.SAdd(ctx, presenceProcsKey, procID)
	pipe.Set(ctx, fmt.Sprintf(presenceProcKey, procID), "1", p.procTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SweepDeadProcesses reconciles counters left behind by processes that
// vanished without unwinding their sessions. Any process whose liveness key
// has expired gets its per-user contributions subtracted and its bookkeeping
// deleted. Users whose count reaches zero get a last-seen stamp.
//
// Every live process runs this sweep concurrently, so a dead process must be
// claimed before its counts are touched: the SRem on the process set returns
// 1 for exactly one claimant, and only the claimant subtracts.
func (p *RedisPresence) SweepDeadProcesses(ctx context.Context) error {
	procs, err := p.client.SMembers(ctx, presenceProcsKey).Result()
	if err != nil {
		return fmt.Errorf("sweep: list processes: %w", err)
	}

	for _, procID := range procs {
		alive, err := p.client.Exists(ctx, fmt.Sprintf(presenceProcKey, procID)).Result()
		if err != nil {
			return err
		}
		if alive > 0 {
			continue
		}

		claimed, err := p.client.SRem(ctx, presenceProcsKey, procID).Result()
		if err != nil {
			return err
		}
		if claimed == 0 {
			// Another sweeper claimed this process.
			continue
		}

		counts, err := p.client.HGetAll(ctx, fmt.Sprintf(presenceProcCounts, procID)).Result()
		if err != nil {
			return err
		}
		for userStr, contribStr := range counts {
			contrib, err := strconv.ParseInt(contribStr, 10, 64)
			if err != nil || contrib <= 0 {
				continue
			}
			userID, err := uuid.Parse(userStr)
			if err != nil {
				continue
			}
			count, err := decrFloorScript.Run(ctx, p.client, []string{fmt.Sprintf(presenceCountKey, userID)}, contrib).Int64()
			if err != nil {
				return err
			}
			if count == 0 {
				if err := p.stampLastSeen(ctx, userID); err != nil {
					return err
				}
			}
		}

		if err := p.client.Del(ctx, fmt.Sprintf(presenceProcCounts, procID)).Err(); err != nil {
			return err
		}
		slog.Info("reclaimed presence counts from dead process", "procID", procID, "users", len(counts))
	}
	return nil
}

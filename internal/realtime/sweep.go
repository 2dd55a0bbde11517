package realtime

import (
	"context"
	"log/slog"
	"time"
)

// ProcessLiveness is the part of the presence store the sweeper drives: the
// per-process liveness heartbeat and the reclamation of counts left behind by
// processes that died without unwinding their sessions.
type ProcessLiveness interface {
	TouchProcess(ctx context.Context, procID string) error
	SweepDeadProcesses(ctx context.Context) error
}

// Sweeper runs the per-process liveness loop: it closes local sessions whose
// heartbeat deadline has lapsed, refreshes this process's liveness key, and
// reconciles presence counts for vanished processes. Each backend process
// runs its own sweeper on an independent interval.
type Sweeper struct {
	registry *Registry
	liveness ProcessLiveness
	procID   string
	interval time.Duration
}

func NewSweeper(registry *Registry, liveness ProcessLiveness, procID string, interval time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		liveness: liveness,
		procID:   procID,
		interval: interval,
	}
}

func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	now := time.Now()
	for _, s := range sw.registry.Snapshot() {
		if s.deadlineExpired(now) {
			slog.Info("closing unresponsive session", "connID", s.ID(), "userID", s.UserID())
			s.Close("heartbeat timeout")
		}
	}

	if err := sw.liveness.TouchProcess(ctx, sw.procID); err != nil {
		slog.Error("failed to refresh process liveness", "procID", sw.procID, "error", err)
	}
	if err := sw.liveness.SweepDeadProcesses(ctx); err != nil {
		slog.Error("presence sweep failed", "error", err)
	}
}

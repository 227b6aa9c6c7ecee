package persistence

import (
	"GasFutures/internal/core"
	"GasFutures/internal/event"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrCheckpointMismatch = errors.New("replayed state diverges from checkpoint")

// RecoveryStats summarizes a startup replay.
type RecoveryStats struct {
	Replayed    int
	Applied     int
	LastLogSeq  int64
	Checkpoint  int64 // log sequence of the verified checkpoint, 0 if none
	WarmedKeys  int
	ReplayTaken time.Duration
}

// Recovery rebuilds an exchange from the command log.
type Recovery struct {
	Log       *CommandLog
	Snapshots *SnapshotManager
	PageSize  int
	WarmKeys  int
	Logger    zerolog.Logger
}

// Run replays the whole log into x. When a checkpoint exists, the replay
// pauses at its sequence and the rebuilt state must match it exactly.
func (r *Recovery) Run(ctx context.Context, x *core.Exchange) (RecoveryStats, error) {
	start := time.Now()
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	var stats RecoveryStats
	latest, err := r.Log.LatestLogSeq(ctx)
	if err != nil {
		return stats, fmt.Errorf("latest log sequence: %w", err)
	}
	stats.LastLogSeq = latest

	var cp *core.Checkpoint
	if r.Snapshots != nil {
		if cp, err = r.Snapshots.LoadLatest(ctx, latest); err != nil {
			return stats, err
		}
	}

	replay := func(page []LoggedCommand) error {
		cmds := make([]event.Command, len(page))
		for i, lc := range page {
			cmds[i] = lc.Command
		}
		stats.Replayed += len(cmds)
		stats.Applied += x.Replay(cmds, page[len(page)-1].LogSeq)
		return nil
	}

	from := int64(0)
	if cp != nil && cp.LogSeq > 0 {
		if err := r.Log.Each(ctx, 0, cp.LogSeq, pageSize, replay); err != nil {
			return stats, err
		}
		if diff := x.Checkpoint().Diff(*cp); len(diff) > 0 {
			r.Logger.Error().
				Int64("checkpoint", cp.LogSeq).
				Strs("diff", diff).
				Msg("checkpoint verification failed")
			return stats, fmt.Errorf("%w at log_seq %d: %s", ErrCheckpointMismatch, cp.LogSeq, strings.Join(diff, "; "))
		}
		stats.Checkpoint = cp.LogSeq
		from = cp.LogSeq
		r.Logger.Info().Int64("checkpoint", cp.LogSeq).Msg("checkpoint verified")
	}

	if err := r.Log.Each(ctx, from, 0, pageSize, replay); err != nil {
		return stats, err
	}

	if r.WarmKeys > 0 {
		keys, err := r.Log.RecentKeys(ctx, r.WarmKeys)
		if err != nil {
			return stats, err
		}
		x.WarmIdempotency(keys)
		stats.WarmedKeys = len(keys)
	}

	stats.ReplayTaken = time.Since(start)
	return stats, nil
}

package persistence

import (
	"GasFutures/internal/core"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SnapshotManager stores exchange checkpoints. A checkpoint is not a
// restore point: recovery always replays the command log, and the
// checkpoint proves the replay reached the same ledger and hash chains.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// Save persists cp keyed by its log sequence.
func (sm *SnapshotManager) Save(ctx context.Context, cp core.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots (log_seq, data)
		VALUES ($1, $2)
		ON CONFLICT (log_seq) DO UPDATE SET data = EXCLUDED.data, created_at = NOW()
	`, cp.LogSeq, data)
	if err != nil {
		return fmt.Errorf("save checkpoint %d: %w", cp.LogSeq, err)
	}
	return nil
}

// LoadLatest returns the newest checkpoint at or below maxLogSeq, or nil if
// there is none.
func (sm *SnapshotManager) LoadLatest(ctx context.Context, maxLogSeq int64) (*core.Checkpoint, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE log_seq <= $1
		ORDER BY log_seq DESC
		LIMIT 1
	`, maxLogSeq).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var cp core.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Prune keeps the newest keep checkpoints.
func (sm *SnapshotManager) Prune(ctx context.Context, keep int) error {
	_, err := sm.db.ExecContext(ctx, `
		DELETE FROM event_log.snapshots
		WHERE log_seq NOT IN (
			SELECT log_seq FROM event_log.snapshots ORDER BY log_seq DESC LIMIT $1
		)
	`, keep)
	return err
}

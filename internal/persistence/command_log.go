package persistence

import (
	"GasFutures/internal/event"
	"GasFutures/internal/ingestion"
	"context"
	"database/sql"
	"fmt"
)

// LoggedCommand is one entry of the persisted command log.
type LoggedCommand struct {
	LogSeq  int64
	Command event.Command
}

// CommandLog reads event_log.commands back for replay and dedup warming.
type CommandLog struct {
	db *sql.DB
}

func NewCommandLog(db *sql.DB) *CommandLog {
	return &CommandLog{db: db}
}

// Load returns up to limit commands with afterSeq < log_seq <= untilSeq in
// log order. untilSeq <= 0 means no upper bound.
func (cl *CommandLog) Load(ctx context.Context, afterSeq, untilSeq int64, limit int) ([]LoggedCommand, error) {
	query := `
		SELECT log_seq, command_type, payload
		FROM event_log.commands
		WHERE log_seq > $1 AND ($2 <= 0 OR log_seq <= $2)
		ORDER BY log_seq ASC
		LIMIT $3
	`
	rows, err := cl.db.QueryContext(ctx, query, afterSeq, untilSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("load commands: %w", err)
	}
	defer rows.Close()

	var out []LoggedCommand
	for rows.Next() {
		var (
			seq     int64
			ctype   string
			payload []byte
		)
		if err := rows.Scan(&seq, &ctype, &payload); err != nil {
			return nil, err
		}
		cmd, err := ingestion.ParseCommand(ctype, payload)
		if err != nil {
			return nil, fmt.Errorf("decode command %d: %w", seq, err)
		}
		out = append(out, LoggedCommand{LogSeq: seq, Command: cmd})
	}
	return out, rows.Err()
}

// Each pages through the log and calls fn once per page.
func (cl *CommandLog) Each(ctx context.Context, afterSeq, untilSeq int64, pageSize int, fn func([]LoggedCommand) error) error {
	for {
		page, err := cl.Load(ctx, afterSeq, untilSeq, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		afterSeq = page[len(page)-1].LogSeq
	}
}

// LatestLogSeq returns the highest logged sequence, 0 for an empty log.
func (cl *CommandLog) LatestLogSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := cl.db.QueryRowContext(ctx, `SELECT MAX(log_seq) FROM event_log.commands`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// RecentKeys returns the composite dedup keys ("type:key") of the newest
// limit commands, oldest first.
func (cl *CommandLog) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := cl.db.QueryContext(ctx, `
		SELECT command_type, idempotency_key FROM (
			SELECT log_seq, command_type, idempotency_key
			FROM event_log.commands
			ORDER BY log_seq DESC
			LIMIT $1
		) recent
		ORDER BY log_seq ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0, limit)
	for rows.Next() {
		var ctype, key string
		if err := rows.Scan(&ctype, &key); err != nil {
			return nil, err
		}
		keys = append(keys, ctype+":"+key)
	}
	return keys, rows.Err()
}

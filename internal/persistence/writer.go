package persistence

import (
	"GasFutures/internal/core"
	"GasFutures/internal/event"
	"GasFutures/internal/ingestion"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Postgres caps a statement at 65535 bind parameters.
const maxParams = 65535

// CommandRow represents a row in event_log.commands
type CommandRow struct {
	LogSeq         int64
	CommandType    string
	IdempotencyKey string
	MarketID       *string
	Payload        []byte // JSON, decoded by ingestion.ParseCommand on replay
	Rejected       bool
	TimestampUs    int64
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Stream         string
	Sequence       int64
	LogSeq         int64
	EventType      string
	IdempotencyKey string
	CommandRef     string
	MarketID       *string
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string
	LogSeq        int64
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   string
	TimestampUs   int64
}

// FillRow represents a row in gasfutures.fills
type FillRow struct {
	FillID       uuid.UUID
	Market       string
	MakerOrderID uuid.UUID
	TakerOrderID uuid.UUID
	Maker        uuid.UUID
	Taker        uuid.UUID
	TakerSide    string
	Price        int64
	Quantity     int64
	MakerFee     int64
	TakerFee     int64
	LogSeq       int64
	TimestampUs  int64
}

// SettlementRow represents a row in gasfutures.settlements
type SettlementRow struct {
	Market          string
	SettlementPrice int64
	Method          string
	SampleCount     int
	TimestampUs     int64
	LogSeq          int64
}

// Rows is everything one flush writes.
type Rows struct {
	Commands    []CommandRow
	Events      []EventRow
	Journals    []JournalRow
	Fills       []FillRow
	Settlements []SettlementRow
}

func (r *Rows) Len() int { return len(r.Commands) }

func (r *Rows) Reset() {
	r.Commands = r.Commands[:0]
	r.Events = r.Events[:0]
	r.Journals = r.Journals[:0]
	r.Fills = r.Fills[:0]
	r.Settlements = r.Settlements[:0]
}

// Append converts one core output into rows.
func (r *Rows) Append(out core.CoreOutput) error {
	payload, err := ingestion.EncodeCommand(out.Command)
	if err != nil {
		return fmt.Errorf("encode command %d: %w", out.LogSeq, err)
	}
	r.Commands = append(r.Commands, CommandRow{
		LogSeq:         out.LogSeq,
		CommandType:    out.Command.CommandType().String(),
		IdempotencyKey: out.Command.IdempotencyKey(),
		MarketID:       out.Command.MarketID(),
		Payload:        payload,
		Rejected:       out.Rejected,
		TimestampUs:    out.Command.Timestamp(),
	})

	for _, env := range out.Envelopes {
		data, err := json.Marshal(env.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", env.EventType, err)
		}
		r.Events = append(r.Events, EventRow{
			Stream:         out.Stream,
			Sequence:       env.Sequence,
			LogSeq:         out.LogSeq,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			CommandRef:     env.CommandRef,
			MarketID:       env.MarketID,
			Payload:        data,
			StateHash:      env.StateHash[:],
			PrevHash:       env.PrevHash[:],
			Timestamp:      env.Timestamp,
		})

		switch e := env.Payload.(type) {
		case *event.OrderFilled:
			r.Fills = append(r.Fills, FillRow{
				FillID:       e.FillID,
				Market:       e.Market,
				MakerOrderID: e.MakerOrderID,
				TakerOrderID: e.TakerOrderID,
				Maker:        e.Maker,
				Taker:        e.Taker,
				TakerSide:    e.TakerSide,
				Price:        e.Price,
				Quantity:     e.Quantity,
				MakerFee:     e.MakerFee,
				TakerFee:     e.TakerFee,
				LogSeq:       out.LogSeq,
				TimestampUs:  e.TimestampUs,
			})
		case *event.MarketSettled:
			r.Settlements = append(r.Settlements, SettlementRow{
				Market:          e.Market,
				SettlementPrice: e.SettlementPrice,
				Method:          e.Method,
				SampleCount:     e.SampleCount,
				TimestampUs:     e.TimestampUs,
				LogSeq:          out.LogSeq,
			})
		}
	}

	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			r.Journals = append(r.Journals, JournalRow{
				JournalID:     j.JournalID,
				BatchID:       j.BatchID,
				EventRef:      j.EventRef,
				LogSeq:        out.LogSeq,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
				TimestampUs:   j.Timestamp,
			})
		}
	}
	return nil
}

// LastLogSeq returns the highest log sequence in the batch.
func (r *Rows) LastLogSeq() int64 {
	if len(r.Commands) == 0 {
		return 0
	}
	return r.Commands[len(r.Commands)-1].LogSeq
}

// Writer writes rows with multi-row INSERTs. Every statement is idempotent
// (ON CONFLICT DO NOTHING), so a retried flush is harmless.
type Writer struct{}

// WriteAll writes every table in foreign-key order inside tx.
func (w Writer) WriteAll(ctx context.Context, tx *sql.Tx, rows *Rows) error {
	steps := []struct {
		stage string
		fn    func() error
	}{
		{"write_commands", func() error { return w.WriteCommands(ctx, tx, rows.Commands) }},
		{"write_events", func() error { return w.WriteEvents(ctx, tx, rows.Events) }},
		{"write_journals", func() error { return w.WriteJournals(ctx, tx, rows.Journals) }},
		{"write_fills", func() error { return w.WriteFills(ctx, tx, rows.Fills) }},
		{"write_settlements", func() error { return w.WriteSettlements(ctx, tx, rows.Settlements) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return &StageError{Stage: step.stage, Err: err}
		}
	}
	return nil
}

// StageError tags a write failure with the statement that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

func (Writer) WriteCommands(ctx context.Context, tx *sql.Tx, rows []CommandRow) error {
	args := make([][]any, len(rows))
	for i, c := range rows {
		args[i] = []any{c.LogSeq, c.CommandType, c.IdempotencyKey, c.MarketID, c.Payload, c.Rejected, c.TimestampUs}
	}
	return insertRows(ctx, tx, "event_log.commands",
		[]string{"log_seq", "command_type", "idempotency_key", "market_id", "payload", "rejected", "timestamp_us"},
		args, "ON CONFLICT DO NOTHING")
}

func (Writer) WriteEvents(ctx context.Context, tx *sql.Tx, rows []EventRow) error {
	args := make([][]any, len(rows))
	for i, e := range rows {
		args[i] = []any{e.Stream, e.Sequence, e.LogSeq, e.EventType, e.IdempotencyKey, e.CommandRef,
			e.MarketID, e.Payload, e.StateHash, e.PrevHash, e.Timestamp}
	}
	return insertRows(ctx, tx, "event_log.events",
		[]string{"stream", "sequence", "log_seq", "event_type", "idempotency_key", "command_ref",
			"market_id", "payload", "state_hash", "prev_hash", "timestamp"},
		args, "ON CONFLICT (stream, sequence) DO NOTHING")
}

func (Writer) WriteJournals(ctx context.Context, tx *sql.Tx, rows []JournalRow) error {
	args := make([][]any, len(rows))
	for i, j := range rows {
		args[i] = []any{j.JournalID, j.BatchID, j.EventRef, j.LogSeq, j.DebitAccount, j.CreditAccount,
			j.Amount, j.JournalType, j.TimestampUs}
	}
	return insertRows(ctx, tx, "event_log.journal",
		[]string{"journal_id", "batch_id", "event_ref", "log_seq", "debit_account", "credit_account",
			"amount", "journal_type", "timestamp_us"},
		args, "ON CONFLICT (journal_id) DO NOTHING")
}

func (Writer) WriteFills(ctx context.Context, tx *sql.Tx, rows []FillRow) error {
	args := make([][]any, len(rows))
	for i, f := range rows {
		args[i] = []any{f.FillID, f.Market, f.MakerOrderID, f.TakerOrderID, f.Maker, f.Taker, f.TakerSide,
			f.Price, f.Quantity, f.MakerFee, f.TakerFee, f.LogSeq, f.TimestampUs}
	}
	return insertRows(ctx, tx, "gasfutures.fills",
		[]string{"fill_id", "market", "maker_order_id", "taker_order_id", "maker", "taker", "taker_side",
			"price", "quantity", "maker_fee", "taker_fee", "log_seq", "timestamp_us"},
		args, "ON CONFLICT (fill_id) DO NOTHING")
}

func (Writer) WriteSettlements(ctx context.Context, tx *sql.Tx, rows []SettlementRow) error {
	args := make([][]any, len(rows))
	for i, s := range rows {
		args[i] = []any{s.Market, s.SettlementPrice, s.Method, s.SampleCount, s.TimestampUs, s.LogSeq}
	}
	return insertRows(ctx, tx, "gasfutures.settlements",
		[]string{"market", "settlement_price", "method", "sample_count", "timestamp_us", "log_seq"},
		args, "ON CONFLICT (market) DO NOTHING")
}

// insertRows builds multi-row INSERT statements, split so no statement
// exceeds the bind parameter limit.
func insertRows(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any, conflict string) error {
	if len(rows) == 0 {
		return nil
	}
	perStmt := maxParams / len(columns)

	for start := 0; start < len(rows); start += perStmt {
		end := min(start+perStmt, len(rows))
		query, args := buildInsert(table, columns, rows[start:end], conflict)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func buildInsert(table string, columns []string, rows [][]any, conflict string) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	args := make([]any, 0, len(rows)*len(columns))
	placeholders := make([]string, len(columns))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		for j := range columns {
			placeholders[j] = fmt.Sprintf("$%d", len(args)+j+1)
		}
		sb.WriteString("(" + strings.Join(placeholders, ", ") + ")")
		args = append(args, row...)
	}
	sb.WriteString(" " + conflict)
	return sb.String(), args
}

package query

import (
	"GasFutures/internal/core"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// maxChainBreaks bounds the breaks one report lists.
const maxChainBreaks = 10

// QueryService serves history that lives only in Postgres: fills, journals
// and the persisted hash chains. Live state (markets, books, positions,
// balances) is read from the exchange directly.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// Fills returns fills of market, newest first, optionally restricted to
// one owner on either side. Pages hold up to limit commands' worth of fills
// so one command's fills never straddle two pages; before > 0 pages below
// that log sequence.
func (qs *QueryService) Fills(ctx context.Context, market string, owner *uuid.UUID, limit int, before int64) (*Page[FillRecord], error) {
	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	where := "market = $1"
	args := []any{market}
	if owner != nil {
		args = append(args, *owner)
		where += fmt.Sprintf(" AND (maker = $%d OR taker = $%d)", len(args), len(args))
	}

	query := pagedQuery(`
		SELECT fill_id, market, maker_order_id, taker_order_id, maker, taker, taker_side,
		       price, quantity, maker_fee, taker_fee, log_seq, timestamp_us
		FROM gasfutures.fills`, "gasfutures.fills", where, "fill_id", &args, limit, before)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &Page[FillRecord]{AsOfLogSeq: asOf}
	for rows.Next() {
		var f FillRecord
		if err := rows.Scan(
			&f.FillID, &f.Market, &f.MakerOrderID, &f.TakerOrderID, &f.Maker, &f.Taker, &f.TakerSide,
			&f.Price, &f.Quantity, &f.MakerFee, &f.TakerFee, &f.LogSeq, &f.TimestampUs,
		); err != nil {
			return nil, err
		}
		page.Items = append(page.Items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	trim(page, limit, func(f FillRecord) int64 { return f.LogSeq })
	return page, nil
}

// Journals returns journal entries touching owner's accounts, newest first,
// paged like Fills.
func (qs *QueryService) Journals(ctx context.Context, owner uuid.UUID, limit int, before int64) (*Page[JournalHistoryEntry], error) {
	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	args := []any{fmt.Sprintf("user:%s:%%", owner)}
	query := pagedQuery(`
		SELECT journal_id, batch_id, event_ref, log_seq,
		       debit_account, credit_account, amount, journal_type, timestamp_us
		FROM event_log.journal`, "event_log.journal",
		"(debit_account LIKE $1 OR credit_account LIKE $1)", "journal_id", &args, limit, before)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &Page[JournalHistoryEntry]{AsOfLogSeq: asOf}
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.LogSeq,
			&e.DebitAccount, &e.CreditAccount, &e.Amount, &e.JournalType, &e.TimestampUs,
		); err != nil {
			return nil, err
		}
		page.Items = append(page.Items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	trim(page, limit, func(e JournalHistoryEntry) int64 { return e.LogSeq })
	return page, nil
}

// pagedQuery selects every row of the newest limit+1 log sequences that
// match where. The extra sequence tells trim whether another page exists.
func pagedQuery(selectFrom, table, where, tiebreak string, args *[]any, limit int, before int64) string {
	if before > 0 {
		*args = append(*args, before)
		where += fmt.Sprintf(" AND log_seq < $%d", len(*args))
	}
	*args = append(*args, limit+1)
	return fmt.Sprintf(`%s
		WHERE %s AND log_seq IN (
			SELECT DISTINCT log_seq FROM %s WHERE %s ORDER BY log_seq DESC LIMIT $%d
		)
		ORDER BY log_seq DESC, %s`, selectFrom, where, table, where, len(*args), tiebreak)
}

// trim drops the group of the lookahead sequence, if present, and sets the
// cursor to the oldest sequence kept.
func trim[T any](page *Page[T], limit int, seqOf func(T) int64) {
	groups := 0
	for i, item := range page.Items {
		if i == 0 || seqOf(item) != seqOf(page.Items[i-1]) {
			groups++
			if groups > limit {
				page.Items = page.Items[:i]
				page.NextCursor = seqOf(page.Items[i-1])
				return
			}
		}
	}
}

// --- Admin APIs ---

// VerifyIntegrity re-walks every persisted hash chain and, when the log has
// caught up with live, compares journal totals per account with the live
// ledger.
func (qs *QueryService) VerifyIntegrity(ctx context.Context, live core.Checkpoint) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT stream, sequence, prev_hash, state_hash,
		       LAG(sequence) OVER w, LAG(state_hash) OVER w
		FROM event_log.events
		WINDOW w AS (PARTITION BY stream ORDER BY sequence)
		ORDER BY stream, sequence
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			stream              string
			seq                 int64
			prevHash, stateHash []byte
			prevSeq             sql.NullInt64
			expected            []byte
		)
		if err := rows.Scan(&stream, &seq, &prevHash, &stateHash, &prevSeq, &expected); err != nil {
			return nil, err
		}
		report.CheckedEvents++

		var reason string
		switch {
		case !prevSeq.Valid:
			genesis := core.NewStateHasher(stream).GetPrevHash()
			if !bytes.Equal(prevHash, genesis[:]) {
				reason = "first event does not link to genesis"
			}
		case seq != prevSeq.Int64+1:
			reason = fmt.Sprintf("gap after sequence %d", prevSeq.Int64)
		case !bytes.Equal(prevHash, expected):
			reason = "prev_hash does not match predecessor"
		}
		if reason != "" && len(report.ChainBreaks) < maxChainBreaks {
			report.ChainBreaks = append(report.ChainBreaks, ChainBreak{Stream: stream, Sequence: seq, Reason: reason})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	persistedSeq, err := qs.watermark(ctx)
	if err != nil {
		return nil, err
	}
	report.CheckedLogSeq = persistedSeq

	if persistedSeq == live.LogSeq {
		report.BalancesCheck = true
		persisted, err := qs.journalTotals(ctx, persistedSeq)
		if err != nil {
			return nil, err
		}
		report.AccountDrift = diffBalances(persisted, live.Balances)
	}

	report.IsHealthy = len(report.ChainBreaks) == 0 && len(report.AccountDrift) == 0
	return report, nil
}

// journalTotals sums persisted journals into per-account balances. Debits
// increase a balance and credits decrease it.
func (qs *QueryService) journalTotals(ctx context.Context, upTo int64) (map[string]int64, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account, SUM(delta)::BIGINT FROM (
			SELECT debit_account AS account, amount AS delta FROM event_log.journal WHERE log_seq <= $1
			UNION ALL
			SELECT credit_account, -amount FROM event_log.journal WHERE log_seq <= $1
		) moves
		GROUP BY account
	`, upTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var account string
		var total int64
		if err := rows.Scan(&account, &total); err != nil {
			return nil, err
		}
		totals[account] = total
	}
	return totals, rows.Err()
}

func diffBalances(persisted, live map[string]int64) []Drift {
	var drift []Drift
	for account, p := range persisted {
		if l := live[account]; l != p {
			drift = append(drift, Drift{Account: account, Persisted: p, Live: l})
		}
	}
	for account, l := range live {
		if _, ok := persisted[account]; !ok && l != 0 {
			drift = append(drift, Drift{Account: account, Live: l})
		}
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].Account < drift[j].Account })
	return drift
}

// watermark is the highest persisted log sequence.
func (qs *QueryService) watermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `SELECT MAX(log_seq) FROM event_log.commands`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

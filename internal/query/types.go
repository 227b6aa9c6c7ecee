package query

import "github.com/google/uuid"

// FillRecord is a persisted fill.
type FillRecord struct {
	FillID       uuid.UUID `json:"fill_id"`
	Market       string    `json:"market"`
	MakerOrderID uuid.UUID `json:"maker_order_id"`
	TakerOrderID uuid.UUID `json:"taker_order_id"`
	Maker        uuid.UUID `json:"maker"`
	Taker        uuid.UUID `json:"taker"`
	TakerSide    string    `json:"taker_side"`
	Price        int64     `json:"price"`
	Quantity     int64     `json:"quantity"`
	MakerFee     int64     `json:"maker_fee"`
	TakerFee     int64     `json:"taker_fee"`
	LogSeq       int64     `json:"log_seq"`
	TimestampUs  int64     `json:"timestamp_us"`
}

// JournalHistoryEntry is a persisted journal touching an owner's accounts.
type JournalHistoryEntry struct {
	JournalID     uuid.UUID `json:"journal_id"`
	BatchID       uuid.UUID `json:"batch_id"`
	EventRef      string    `json:"event_ref"`
	LogSeq        int64     `json:"log_seq"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	Amount        int64     `json:"amount"`
	JournalType   string    `json:"journal_type"`
	TimestampUs   int64     `json:"timestamp_us"`
}

// Page is a cursor-paginated result. NextCursor is the log sequence to pass
// as the next "before", 0 when the page is the last one.
type Page[T any] struct {
	Items      []T   `json:"items"`
	NextCursor int64 `json:"next_cursor,omitempty"`
	AsOfLogSeq int64 `json:"as_of_log_seq"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy     bool         `json:"is_healthy"`
	ChainBreaks   []ChainBreak `json:"chain_breaks,omitempty"`
	AccountDrift  []Drift      `json:"account_drift,omitempty"`
	CheckedEvents int64        `json:"checked_events"`
	CheckedLogSeq int64        `json:"checked_log_seq"`
	BalancesCheck bool         `json:"balances_checked"` // false when the log lags the live ledger
}

// ChainBreak is an event whose prev_hash or sequence does not follow its
// predecessor in the same stream.
type ChainBreak struct {
	Stream   string `json:"stream"`
	Sequence int64  `json:"sequence"`
	Reason   string `json:"reason"`
}

// Drift is an account whose persisted journal total differs from the live
// ledger balance.
type Drift struct {
	Account   string `json:"account"`
	Persisted int64  `json:"persisted"`
	Live      int64  `json:"live"`
}

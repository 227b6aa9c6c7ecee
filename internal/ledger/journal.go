package ledger

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeMarginPost
	JournalTypeMarginRelease
	JournalTypeTradePnL
	JournalTypeTradeFee
	JournalTypeMakerRebate
	JournalTypeLiquidationFee
	JournalTypeKeeperReward
	JournalTypeSettlementPnL
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeMarginPost:
		return "margin_post"
	case JournalTypeMarginRelease:
		return "margin_release"
	case JournalTypeTradePnL:
		return "trade_pnl"
	case JournalTypeTradeFee:
		return "trade_fee"
	case JournalTypeMakerRebate:
		return "maker_rebate"
	case JournalTypeLiquidationFee:
		return "liquidation_fee"
	case JournalTypeKeeperReward:
		return "keeper_reward"
	case JournalTypeSettlementPnL:
		return "settlement_pnl"
	default:
		return "unknown"
	}
}

// batchNamespace seeds deterministic batch and journal IDs so that a
// replayed command produces byte-identical journals.
var batchNamespace = uuid.MustParse("6f1c2d7e-3b0a-4c55-9a61-2f4e8d0b7c19")

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string      // Idempotency key of the source command
	DebitAccount  AccountKey  // balance increases
	CreditAccount AccountKey  // balance decreases
	Amount        int64       // ALWAYS positive
	JournalType   JournalType
	Timestamp     int64 // Command timestamp (epoch microseconds)
}

// Batch represents a set of journal entries applied atomically
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Timestamp int64
	Journals  []Journal
}

// NewBatch creates an empty batch whose ID is derived from eventRef.
func NewBatch(eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.NewSHA1(batchNamespace, []byte(eventRef)),
		EventRef:  eventRef,
		Timestamp: timestamp,
	}
}

// Add appends a transfer of amount from `from` to `to`. Zero amounts are
// skipped; a negative amount reverses the direction.
func (b *Batch) Add(from, to AccountKey, amount int64, jt JournalType) {
	if amount == 0 {
		return
	}
	if amount < 0 {
		from, to, amount = to, from, -amount
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.NewSHA1(b.BatchID, []byte(strconv.Itoa(len(b.Journals)))),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		DebitAccount:  to,
		CreditAccount: from,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount between two accounts, so every entry is balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}

package state

import (
	"GasFutures/internal/event"

	"github.com/google/uuid"
)

// Position is an owner's isolated-margin exposure in one market.
// MarginPosted mirrors the owner's ledger margin account for the market.
type Position struct {
	Owner         uuid.UUID
	Market        string
	Side          event.Side
	Size          int64 // contracts, sign carried by Side
	AvgEntryPrice int64 // 1e6-scaled
	MarginPosted  int64 // quote micro-units
	RealizedPnL   int64 // cumulative
	CreatedAt     int64 // epoch microseconds of first fill
	UpdatedAt     int64
}

// NewPosition returns a flat position.
func NewPosition(owner uuid.UUID, market string) *Position {
	return &Position{Owner: owner, Market: market}
}

// IsFlat returns true if position has no exposure
func (p *Position) IsFlat() bool {
	return p.Side == event.SideFlat || p.Size == 0
}

// SideSign returns +1 for long, -1 for short, 0 for flat
func (p *Position) SideSign() int64 {
	return p.Side.Sign()
}

// SignedSize returns size with the side's sign.
func (p *Position) SignedSize() int64 {
	return p.Size * p.Side.Sign()
}

// Clone returns a copy for staging.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}

func (p *Position) reset() {
	p.Side = event.SideFlat
	p.Size = 0
	p.AvgEntryPrice = 0
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)

	buf = append(buf, p.Owner[:]...)

	// market (length-prefixed)
	buf = append(buf, byte(len(p.Market)))
	buf = append(buf, []byte(p.Market)...)

	buf = append(buf, byte(p.Side))
	buf = appendInt64LE(buf, p.Size)
	buf = appendInt64LE(buf, p.AvgEntryPrice)
	buf = appendInt64LE(buf, p.MarginPosted)
	buf = appendInt64LE(buf, p.RealizedPnL)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

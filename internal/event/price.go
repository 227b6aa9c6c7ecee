package event

import (
	"fmt"
)

// IndexReading is one raw index sample: the chain-native reference value
// used directly as a 1e6-scaled price.
type IndexReading struct {
	Market      string
	Price       int64
	TimestampUs int64
}

func (r *IndexReading) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", r.Market, r.TimestampUs)
}
func (r *IndexReading) CommandType() CommandType { return CommandTypeIndexReading }
func (r *IndexReading) MarketID() *string        { return &r.Market }
func (r *IndexReading) Timestamp() int64         { return r.TimestampUs }

// IndexPriceAccepted is emitted when a reading passes the deviation gate
type IndexPriceAccepted struct {
	Market      string `json:"market"`
	Price       int64  `json:"price"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (e *IndexPriceAccepted) EventType() EventType { return EventTypeIndexPriceAccepted }
func (e *IndexPriceAccepted) MarketID() *string    { return &e.Market }

// PriceDeviationRejected is emitted when a reading exceeds maxDeviationBps
type PriceDeviationRejected struct {
	Market            string `json:"market"`
	Price             int64  `json:"price"`
	LastAcceptedPrice int64  `json:"last_accepted_price"`
	DeviationBps      int64  `json:"deviation_bps"`
	MaxDeviationBps   int64  `json:"max_deviation_bps"`
	TimestampUs       int64  `json:"timestamp_us"`
}

func (e *PriceDeviationRejected) EventType() EventType { return EventTypePriceDeviationRejected }
func (e *PriceDeviationRejected) MarketID() *string    { return &e.Market }

package ingestion

import (
	"GasFutures/internal/event"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrUnknownCommandType = errors.New("unknown command type")

// ParseCommand converts a JSON payload into a typed command. The ingestion
// shell validates and converts raw messages before handing them to the
// exchange; the persistence layer uses the same codec for the command log.
func ParseCommand(commandType string, data []byte) (event.Command, error) {
	switch event.ParseCommandType(commandType) {
	case event.CommandTypeListMarket:
		return parseListMarket(data)
	case event.CommandTypeIndexReading:
		return parseIndexReading(data)
	case event.CommandTypeSubmitOrder:
		return parseSubmitOrder(data)
	case event.CommandTypeCancelOrder:
		return parseCancelOrder(data)
	case event.CommandTypeLiquidate:
		return parseLiquidate(data)
	case event.CommandTypeSettle:
		return parseSettle(data)
	case event.CommandTypeDepositCollateral:
		return parseDeposit(data)
	case event.CommandTypeWithdrawCollateral:
		return parseWithdrawal(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommandType, commandType)
	}
}

// EncodeCommand is the inverse of ParseCommand.
func EncodeCommand(cmd event.Command) ([]byte, error) {
	var wire any
	switch c := cmd.(type) {
	case *event.ListMarket:
		tiers := make([]tierJSON, len(c.Tiers))
		for i, t := range c.Tiers {
			tiers[i] = tierJSON(t)
		}
		wire = listMarketJSON{
			RequestID:            c.RequestID.String(),
			Symbol:               c.Symbol,
			ContractClass:        c.ContractClass,
			ContractSize:         c.ContractSize,
			TickSize:             c.TickSize,
			InitialMarginBps:     c.InitialMarginBps,
			MaintenanceMarginBps: c.MaintenanceMarginBps,
			LiquidationFeeBps:    c.LiquidationFeeBps,
			KeeperIncentiveBps:   c.KeeperIncentiveBps,
			MaxDeviationBps:      c.MaxDeviationBps,
			MakerFeeBps:          c.MakerFeeBps,
			TakerFeeBps:          c.TakerFeeBps,
			ListingTimestampUs:   c.ListingTimestampUs,
			ExpiryTimestampUs:    c.ExpiryTimestampUs,
			Tiers:                tiers,
			TimestampUs:          c.TimestampUs,
		}
	case *event.IndexReading:
		wire = indexReadingJSON{Market: c.Market, Price: c.Price, TimestampUs: c.TimestampUs}
	case *event.SubmitOrder:
		wire = submitOrderJSON{
			OrderID:     c.OrderID.String(),
			Owner:       c.Owner.String(),
			Market:      c.Market,
			Side:        c.Side.String(),
			Quantity:    c.Quantity,
			LimitPrice:  c.LimitPrice,
			TimeInForce: c.TimeInForce.String(),
			TimestampUs: c.TimestampUs,
		}
	case *event.CancelOrder:
		wire = cancelOrderJSON{
			OrderID:     c.OrderID.String(),
			Owner:       c.Owner.String(),
			Market:      c.Market,
			TimestampUs: c.TimestampUs,
		}
	case *event.Liquidate:
		wire = liquidateJSON{
			RequestID:   c.RequestID.String(),
			Market:      c.Market,
			Owner:       c.Owner.String(),
			Keeper:      c.Keeper.String(),
			TimestampUs: c.TimestampUs,
		}
	case *event.Settle:
		wire = settleJSON{
			RequestID:   c.RequestID.String(),
			Market:      c.Market,
			BatchSize:   c.BatchSize,
			TimestampUs: c.TimestampUs,
		}
	case *event.DepositCollateral:
		wire = collateralJSON{
			ID:          c.DepositID.String(),
			Owner:       c.Owner.String(),
			Amount:      c.Amount,
			TimestampUs: c.TimestampUs,
		}
	case *event.WithdrawCollateral:
		wire = collateralJSON{
			ID:          c.WithdrawalID.String(),
			Owner:       c.Owner.String(),
			Amount:      c.Amount,
			TimestampUs: c.TimestampUs,
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommandType, cmd)
	}
	return json.Marshal(wire)
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type tierJSON struct {
	NotionalThreshold int64 `json:"notional_threshold"`
	InitialMarginBps  int64 `json:"initial_margin_bps"`
}

type listMarketJSON struct {
	RequestID            string     `json:"request_id"`
	Symbol               string     `json:"symbol"`
	ContractClass        string     `json:"contract_class"`
	ContractSize         int64      `json:"contract_size"`
	TickSize             int64      `json:"tick_size"`
	InitialMarginBps     int64      `json:"initial_margin_bps"`
	MaintenanceMarginBps int64      `json:"maintenance_margin_bps"`
	LiquidationFeeBps    int64      `json:"liquidation_fee_bps"`
	KeeperIncentiveBps   int64      `json:"keeper_incentive_bps"`
	MaxDeviationBps      int64      `json:"max_deviation_bps"`
	MakerFeeBps          int64      `json:"maker_fee_bps"`
	TakerFeeBps          int64      `json:"taker_fee_bps"`
	ListingTimestampUs   int64      `json:"listing_timestamp_us"`
	ExpiryTimestampUs    int64      `json:"expiry_timestamp_us"`
	Tiers                []tierJSON `json:"tiers,omitempty"`
	TimestampUs          int64      `json:"timestamp_us"`
}

func parseListMarket(data []byte) (*event.ListMarket, error) {
	var j listMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ListMarket: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	if j.Symbol == "" {
		return nil, fmt.Errorf("parse ListMarket: empty symbol")
	}

	tiers := make([]event.TierSpec, len(j.Tiers))
	for i, t := range j.Tiers {
		tiers[i] = event.TierSpec(t)
	}
	return &event.ListMarket{
		RequestID:            requestID,
		Symbol:               j.Symbol,
		ContractClass:        j.ContractClass,
		ContractSize:         j.ContractSize,
		TickSize:             j.TickSize,
		InitialMarginBps:     j.InitialMarginBps,
		MaintenanceMarginBps: j.MaintenanceMarginBps,
		LiquidationFeeBps:    j.LiquidationFeeBps,
		KeeperIncentiveBps:   j.KeeperIncentiveBps,
		MaxDeviationBps:      j.MaxDeviationBps,
		MakerFeeBps:          j.MakerFeeBps,
		TakerFeeBps:          j.TakerFeeBps,
		ListingTimestampUs:   j.ListingTimestampUs,
		ExpiryTimestampUs:    j.ExpiryTimestampUs,
		Tiers:                tiers,
		TimestampUs:          j.TimestampUs,
	}, nil
}

type indexReadingJSON struct {
	Market      string `json:"market"`
	Price       int64  `json:"price"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseIndexReading(data []byte) (*event.IndexReading, error) {
	var j indexReadingJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse IndexReading: %w", err)
	}
	if j.Market == "" {
		return nil, fmt.Errorf("parse IndexReading: empty market")
	}
	return &event.IndexReading{
		Market:      j.Market,
		Price:       j.Price,
		TimestampUs: j.TimestampUs,
	}, nil
}

type submitOrderJSON struct {
	OrderID     string `json:"order_id"`
	Owner       string `json:"owner"`
	Market      string `json:"market"`
	Side        string `json:"side"` // "buy" or "sell"
	Quantity    int64  `json:"quantity"`
	LimitPrice  int64  `json:"limit_price,omitempty"`
	TimeInForce string `json:"tif,omitempty"` // "GTC" (default) or "IOC"
	TimestampUs int64  `json:"timestamp_us"`
}

func parseSubmitOrder(data []byte) (*event.SubmitOrder, error) {
	var j submitOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SubmitOrder: %w", err)
	}
	orderID, err := uuid.Parse(j.OrderID)
	if err != nil {
		return nil, fmt.Errorf("parse order_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}

	var side event.OrderSide
	switch j.Side {
	case "buy":
		side = event.OrderSideBuy
	case "sell":
		side = event.OrderSideSell
	default:
		return nil, fmt.Errorf("parse side: %q", j.Side)
	}

	var tif event.TimeInForce
	switch j.TimeInForce {
	case "", "GTC":
		tif = event.TimeInForceGTC
	case "IOC":
		tif = event.TimeInForceIOC
	default:
		return nil, fmt.Errorf("parse tif: %q", j.TimeInForce)
	}

	return &event.SubmitOrder{
		OrderID:     orderID,
		Owner:       owner,
		Market:      j.Market,
		Side:        side,
		Quantity:    j.Quantity,
		LimitPrice:  j.LimitPrice,
		TimeInForce: tif,
		TimestampUs: j.TimestampUs,
	}, nil
}

type cancelOrderJSON struct {
	OrderID     string `json:"order_id"`
	Owner       string `json:"owner"`
	Market      string `json:"market"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseCancelOrder(data []byte) (*event.CancelOrder, error) {
	var j cancelOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CancelOrder: %w", err)
	}
	orderID, err := uuid.Parse(j.OrderID)
	if err != nil {
		return nil, fmt.Errorf("parse order_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return &event.CancelOrder{
		OrderID:     orderID,
		Owner:       owner,
		Market:      j.Market,
		TimestampUs: j.TimestampUs,
	}, nil
}

type liquidateJSON struct {
	RequestID   string `json:"request_id"`
	Market      string `json:"market"`
	Owner       string `json:"owner"`
	Keeper      string `json:"keeper,omitempty"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseLiquidate(data []byte) (*event.Liquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}

	// no keeper: the treasury keeps the whole fee
	keeper := uuid.Nil
	if j.Keeper != "" {
		if keeper, err = uuid.Parse(j.Keeper); err != nil {
			return nil, fmt.Errorf("parse keeper: %w", err)
		}
	}
	return &event.Liquidate{
		RequestID:   requestID,
		Market:      j.Market,
		Owner:       owner,
		Keeper:      keeper,
		TimestampUs: j.TimestampUs,
	}, nil
}

type settleJSON struct {
	RequestID   string `json:"request_id"`
	Market      string `json:"market"`
	BatchSize   int    `json:"batch_size,omitempty"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseSettle(data []byte) (*event.Settle, error) {
	var j settleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Settle: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	if j.BatchSize < 0 {
		return nil, fmt.Errorf("parse batch_size: %d", j.BatchSize)
	}
	return &event.Settle{
		RequestID:   requestID,
		Market:      j.Market,
		BatchSize:   j.BatchSize,
		TimestampUs: j.TimestampUs,
	}, nil
}

// collateralJSON is shared by deposits and withdrawals; ID is the
// deposit_id or withdrawal_id respectively.
type collateralJSON struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	Amount      int64  `json:"amount"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseCollateral(name string, data []byte) (uuid.UUID, uuid.UUID, collateralJSON, error) {
	var j collateralJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return uuid.Nil, uuid.Nil, j, fmt.Errorf("parse %s: %w", name, err)
	}
	id, err := uuid.Parse(j.ID)
	if err != nil {
		return uuid.Nil, uuid.Nil, j, fmt.Errorf("parse id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return uuid.Nil, uuid.Nil, j, fmt.Errorf("parse owner: %w", err)
	}
	return id, owner, j, nil
}

func parseDeposit(data []byte) (*event.DepositCollateral, error) {
	id, owner, j, err := parseCollateral("DepositCollateral", data)
	if err != nil {
		return nil, err
	}
	return &event.DepositCollateral{DepositID: id, Owner: owner, Amount: j.Amount, TimestampUs: j.TimestampUs}, nil
}

func parseWithdrawal(data []byte) (*event.WithdrawCollateral, error) {
	id, owner, j, err := parseCollateral("WithdrawCollateral", data)
	if err != nil {
		return nil, err
	}
	return &event.WithdrawCollateral{WithdrawalID: id, Owner: owner, Amount: j.Amount, TimestampUs: j.TimestampUs}, nil
}

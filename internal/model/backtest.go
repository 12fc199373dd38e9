package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultInitialBalance is used when a request does not carry a balance
var DefaultInitialBalance = decimal.NewFromInt(1_000_000)

// Named history horizons accepted in BacktestRequest.Period
var horizons = map[string]time.Duration{
	"1D": 24 * time.Hour,
	"1W": 7 * 24 * time.Hour,
	"1M": 30 * 24 * time.Hour,
	"3M": 90 * 24 * time.Hour,
	"6M": 180 * 24 * time.Hour,
	"1Y": 365 * 24 * time.Hour,
}

// BacktestWindow selects the candle history and capital of a run.
// Exactly one of Period and Count describes the amount of history.
type BacktestWindow struct {
	Period         string          `json:"period,omitempty" validate:"omitempty,oneof=1D 1W 1M 3M 6M 1Y"`
	Count          int             `json:"count,omitempty" validate:"omitempty,gt=0"`
	CandleUnit     CandleUnit      `json:"candleUnit,omitempty"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
	To             *time.Time      `json:"to,omitempty"`
}

// BacktestRequest represents the input parameters for a backtest
type BacktestRequest struct {
	Strategy StrategySpec `json:"strategy" validate:"required"`
	BacktestWindow
	StrategyID string `json:"strategyId,omitempty"`
}

// BatchBacktestRequest runs several independent backtests
type BatchBacktestRequest struct {
	Requests []BacktestRequest `json:"requests" validate:"required,min=1,max=50,dive"`
}

// CandleCount resolves the number of candles the request asks for.
// A named period is converted using the candle unit length.
func (r *BacktestWindow) CandleCount() (int, error) {
	if r.Count > 0 {
		if r.Period != "" {
			return 0, fmt.Errorf("%w: period and count are mutually exclusive", ErrInvalidRequest)
		}
		return r.Count, nil
	}
	if r.Period == "" {
		return 0, fmt.Errorf("%w: either period or count is required", ErrInvalidRequest)
	}
	horizon, ok := horizons[r.Period]
	if !ok {
		return 0, fmt.Errorf("%w: unknown period %q", ErrInvalidRequest, r.Period)
	}
	unit := r.Unit()
	if !unit.Valid() {
		return 0, fmt.Errorf("%w: unknown candle unit %q", ErrInvalidRequest, unit)
	}
	return int(horizon / unit.Duration()), nil
}

// Unit returns the candle unit, defaulting to one-minute candles
func (r *BacktestWindow) Unit() CandleUnit {
	if r.CandleUnit == "" {
		return UnitMinute1
	}
	return r.CandleUnit
}

// Balance returns the initial balance, defaulting when unset
func (r *BacktestWindow) Balance() decimal.Decimal {
	if r.InitialBalance.IsZero() {
		return DefaultInitialBalance
	}
	return r.InitialBalance
}

// BacktestStatus represents the lifecycle state of a stored run
type BacktestStatus string

const (
	StatusRunning   BacktestStatus = "running"
	StatusCompleted BacktestStatus = "completed"
	StatusAborted   BacktestStatus = "aborted"
	StatusFailed    BacktestStatus = "failed"
)

// BacktestRun is a stored backtest execution and its result
type BacktestRun struct {
	ID             string          `json:"id" db:"id"`
	StrategyID     string          `json:"strategyId,omitempty" db:"strategy_id"`
	StrategyType   StrategyType    `json:"strategyType" db:"strategy_type"`
	Market         string          `json:"market" db:"market"`
	CandleUnit     CandleUnit      `json:"candleUnit" db:"candle_unit"`
	CandleCount    int             `json:"candleCount" db:"candle_count"`
	InitialBalance decimal.Decimal `json:"initialBalance" db:"initial_balance"`
	Status         BacktestStatus  `json:"status" db:"status"`
	Result         *BacktestResult `json:"result,omitempty" db:"result"`
	ErrorMessage   *string         `json:"errorMessage,omitempty" db:"error_message"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// BacktestCompletedEvent is published when a run finishes
type BacktestCompletedEvent struct {
	RunID        string          `json:"runId"`
	StrategyID   string          `json:"strategyId,omitempty"`
	Market       string          `json:"market"`
	Status       BacktestStatus  `json:"status"`
	TotalTrades  int             `json:"totalTrades"`
	ProfitRate   float64         `json:"profitRate"`
	FinalBalance decimal.Decimal `json:"finalBalance"`
	CompletedAt  time.Time       `json:"completedAt"`
}

package model

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// TradeSide is the direction of a ledger entry
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Trade is one immutable ledger entry of a backtest run.
// Profit and ProfitRate are set on SELL trades only. Balance counts the
// open position at its entry notional, Cash is the free cash alone.
type Trade struct {
	Timestamp            int64            `json:"timestamp"`
	Type                 TradeSide        `json:"type"`
	Price                decimal.Decimal  `json:"price"`
	Volume               decimal.Decimal  `json:"volume"`
	Profit               *decimal.Decimal `json:"profit,omitempty"`
	ProfitRate           *float64         `json:"profitRate,omitempty"`
	Balance              decimal.Decimal  `json:"balance"`
	Cash                 decimal.Decimal  `json:"cash"`
	CumulativeProfit     decimal.Decimal  `json:"cumulativeProfit"`
	CumulativeProfitRate float64          `json:"cumulativeProfitRate"`
}

// MonthlyReturn is the performance of one calendar month
type MonthlyReturn struct {
	Month      string  `json:"month"`
	Profit     float64 `json:"profit"`
	ProfitRate float64 `json:"profitRate"`
	Trades     int     `json:"trades"`
}

// DailyReturn is the performance of one calendar day
type DailyReturn struct {
	Date       string  `json:"date"`
	Profit     float64 `json:"profit"`
	ProfitRate float64 `json:"profitRate"`
	Trades     int     `json:"trades"`
}

// TimeOfDayCount counts trades per local-hour band
type TimeOfDayCount struct {
	Morning   int `json:"morning"`
	Afternoon int `json:"afternoon"`
	Evening   int `json:"evening"`
	Night     int `json:"night"`
}

// TimeOfDayProfit sums realized profit per local-hour band
type TimeOfDayProfit struct {
	Morning   float64 `json:"morning"`
	Afternoon float64 `json:"afternoon"`
	Evening   float64 `json:"evening"`
	Night     float64 `json:"night"`
}

// HoldingTime is the mean holding time in hours
type HoldingTime struct {
	Profitable   float64 `json:"profitable"`
	Unprofitable float64 `json:"unprofitable"`
}

// VolumeProfile counts SELL trades per volume tercile
type VolumeProfile struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// TradePatterns summarizes when and how trades happened
type TradePatterns struct {
	TimeOfDay          TimeOfDayCount  `json:"timeOfDay"`
	ProfitByTime       TimeOfDayProfit `json:"profitByTime"`
	ConsecutiveWins    int             `json:"consecutiveWins"`
	ConsecutiveLosses  int             `json:"consecutiveLosses"`
	AverageHoldingTime HoldingTime     `json:"averageHoldingTime"`
	VolumeProfile      VolumeProfile   `json:"volumeProfile"`
}

// ImprovementType classifies a strategy suggestion
type ImprovementType string

const (
	ImprovementTimeRestriction ImprovementType = "TIME_RESTRICTION"
	ImprovementConsecutiveLoss ImprovementType = "CONSECUTIVE_LOSS"
	ImprovementHoldingTime     ImprovementType = "HOLDING_TIME"
)

// StrategyImprovement is a heuristic suggestion derived from the ledger
type StrategyImprovement struct {
	Type        ImprovementType `json:"type"`
	Description string          `json:"description"`
	Impact      float64         `json:"impact"`
}

// BacktestResult is the complete report of one backtest run.
// Rates are percentages.
type BacktestResult struct {
	Trades               []Trade               `json:"trades"`
	TotalTrades          int                   `json:"totalTrades"`
	WinCount             int                   `json:"winCount"`
	LossCount            int                   `json:"lossCount"`
	WinRate              float64               `json:"winRate"`
	InitialBalance       decimal.Decimal       `json:"initialBalance"`
	FinalBalance         decimal.Decimal       `json:"finalBalance"`
	TotalProfit          decimal.Decimal       `json:"totalProfit"`
	ProfitRate           float64               `json:"profitRate"`
	AverageWinAmount     float64               `json:"averageWinAmount"`
	AverageLossAmount    float64               `json:"averageLossAmount"`
	LargestWin           float64               `json:"largestWin"`
	LargestLoss          float64               `json:"largestLoss"`
	ProfitFactor         float64               `json:"profitFactor"`
	RecoveryFactor       float64               `json:"recoveryFactor"`
	Expectancy           float64               `json:"expectancy"`
	MaxDrawdown          float64               `json:"maxDrawdown"`
	SharpeRatio          float64               `json:"sharpeRatio"`
	AverageHoldingPeriod float64               `json:"averageHoldingPeriod"`
	MonthlyReturns       []MonthlyReturn       `json:"monthlyReturns"`
	DailyReturns         []DailyReturn         `json:"dailyReturns"`
	TradePatterns        TradePatterns         `json:"tradePatterns"`
	Suggestions          []StrategyImprovement `json:"suggestions"`
	Aborted              bool                  `json:"aborted,omitempty"`
}

// Value implements the driver.Valuer interface for BacktestResult
func (r BacktestResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface for BacktestResult
func (r *BacktestResult) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, r)
}

package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// StrategyType identifies a strategy variant
type StrategyType string

const (
	StrategyVolatilityBreakout StrategyType = "VOLATILITY_BREAKOUT"
	StrategyMovingAverage      StrategyType = "MOVING_AVERAGE"
	StrategyRSI                StrategyType = "RSI"
)

// Parameter defaults applied when a numeric parameter is missing
const (
	DefaultK            = 0.5
	DefaultStopLoss     = 0.02
	DefaultProfitTarget = 0.01
	DefaultShortPeriod  = 5
	DefaultLongPeriod   = 20
	DefaultRSIPeriod    = 14
	DefaultOversold     = 30.0
	DefaultOverbought   = 70.0
)

// StrategyParams is the closed set of strategy variants.
// Only types in this package implement it.
type StrategyParams interface {
	Type() StrategyType
	// ExitRules returns the profit target and stop loss as fractions
	ExitRules() (profitTarget, stopLoss float64)
	isStrategy()
}

// VolatilityBreakout buys when the close breaks above the previous range scaled by K
type VolatilityBreakout struct {
	K            float64 `json:"k"`
	StopLoss     float64 `json:"stopLoss"`
	ProfitTarget float64 `json:"profitTarget"`
}

// MovingAverageCrossover compares a short and a long simple moving average
type MovingAverageCrossover struct {
	ShortPeriod  int     `json:"shortPeriod"`
	LongPeriod   int     `json:"longPeriod"`
	StopLoss     float64 `json:"stopLoss"`
	ProfitTarget float64 `json:"profitTarget"`
}

// RSI trades oversold and overbought levels of the Wilder RSI
type RSI struct {
	Period       int     `json:"period"`
	Oversold     float64 `json:"oversold"`
	Overbought   float64 `json:"overbought"`
	StopLoss     float64 `json:"stopLoss"`
	ProfitTarget float64 `json:"profitTarget"`
}

func (VolatilityBreakout) Type() StrategyType     { return StrategyVolatilityBreakout }
func (MovingAverageCrossover) Type() StrategyType { return StrategyMovingAverage }
func (RSI) Type() StrategyType                    { return StrategyRSI }

func (s VolatilityBreakout) ExitRules() (float64, float64)     { return s.ProfitTarget, s.StopLoss }
func (s MovingAverageCrossover) ExitRules() (float64, float64) { return s.ProfitTarget, s.StopLoss }
func (s RSI) ExitRules() (float64, float64)                    { return s.ProfitTarget, s.StopLoss }

func (VolatilityBreakout) isStrategy()     {}
func (MovingAverageCrossover) isStrategy() {}
func (RSI) isStrategy()                    {}

// Params holds raw numeric strategy parameters as sent by clients
type Params map[string]float64

// Value implements the driver.Valuer interface for Params
func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface for Params
func (p *Params) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, p)
}

func (p Params) float(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

func (p Params) int(name string, def int) (int, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidRequest, name)
	}
	return int(v), nil
}

// StrategySpec is the wire form of a strategy: type, market and raw params
type StrategySpec struct {
	Type   StrategyType `json:"type" validate:"required,oneof=VOLATILITY_BREAKOUT MOVING_AVERAGE RSI"`
	Market string       `json:"market" validate:"required"`
	Params Params       `json:"params"`
}

// Parse converts the spec into its strategy variant. Missing numeric
// parameters fall back to defaults; an unknown type is rejected.
func (s StrategySpec) Parse() (StrategyParams, error) {
	return ParseStrategy(s.Type, s.Params)
}

// ParseStrategy builds a strategy variant from a type tag and raw params
func ParseStrategy(strategyType StrategyType, params Params) (StrategyParams, error) {
	stopLoss := params.float("stopLoss", DefaultStopLoss)
	profitTarget := params.float("profitTarget", DefaultProfitTarget)
	if err := checkFraction("stopLoss", stopLoss); err != nil {
		return nil, err
	}
	if err := checkFraction("profitTarget", profitTarget); err != nil {
		return nil, err
	}

	switch strategyType {
	case StrategyVolatilityBreakout:
		k := params.float("k", DefaultK)
		if k <= 0 {
			return nil, fmt.Errorf("%w: k must be positive", ErrInvalidRequest)
		}
		return VolatilityBreakout{K: k, StopLoss: stopLoss, ProfitTarget: profitTarget}, nil

	case StrategyMovingAverage:
		short, err := params.int("shortPeriod", DefaultShortPeriod)
		if err != nil {
			return nil, err
		}
		long, err := params.int("longPeriod", DefaultLongPeriod)
		if err != nil {
			return nil, err
		}
		if short < 1 || long < 1 {
			return nil, fmt.Errorf("%w: moving average periods must be positive", ErrInvalidRequest)
		}
		if short >= long {
			return nil, fmt.Errorf("%w: shortPeriod must be less than longPeriod", ErrInvalidRequest)
		}
		return MovingAverageCrossover{ShortPeriod: short, LongPeriod: long, StopLoss: stopLoss, ProfitTarget: profitTarget}, nil

	case StrategyRSI:
		period, err := params.int("period", DefaultRSIPeriod)
		if err != nil {
			return nil, err
		}
		if period < 1 {
			return nil, fmt.Errorf("%w: period must be positive", ErrInvalidRequest)
		}
		oversold := params.float("oversold", DefaultOversold)
		overbought := params.float("overbought", DefaultOverbought)
		if oversold < 0 || overbought > 100 || oversold >= overbought {
			return nil, fmt.Errorf("%w: require 0 <= oversold < overbought <= 100", ErrInvalidRequest)
		}
		return RSI{Period: period, Oversold: oversold, Overbought: overbought, StopLoss: stopLoss, ProfitTarget: profitTarget}, nil

	default:
		return nil, fmt.Errorf("%w: unknown strategy type %q", ErrInvalidRequest, strategyType)
	}
}

func checkFraction(name string, v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%w: %s must be in (0, 1]", ErrInvalidRequest, name)
	}
	return nil
}

// Strategy is a stored strategy definition
type Strategy struct {
	ID        string       `json:"id" db:"id"`
	Type      StrategyType `json:"type" db:"type"`
	Market    string       `json:"market" db:"market"`
	Enabled   bool         `json:"enabled" db:"enabled"`
	Params    Params       `json:"params" db:"params"`
	CreatedAt time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time    `json:"updatedAt" db:"updated_at"`
}

// Spec returns the wire form of the stored strategy
func (s *Strategy) Spec() StrategySpec {
	return StrategySpec{Type: s.Type, Market: s.Market, Params: s.Params}
}

// StrategyCreate is the payload for creating or replacing a strategy
type StrategyCreate struct {
	Type    StrategyType `json:"type" validate:"required,oneof=VOLATILITY_BREAKOUT MOVING_AVERAGE RSI"`
	Market  string       `json:"market" validate:"required"`
	Enabled bool         `json:"enabled"`
	Params  Params       `json:"params"`
}

// StrategyUpdate is a partial update. Nil fields are left unchanged and
// non-nil Params replace the stored ones.
type StrategyUpdate struct {
	Market  *string `json:"market,omitempty" validate:"omitempty,min=1"`
	Enabled *bool   `json:"enabled,omitempty"`
	Params  Params  `json:"params,omitempty"`
}

// Apply merges the update into s
func (u *StrategyUpdate) Apply(s *Strategy) {
	if u.Market != nil {
		s.Market = *u.Market
	}
	if u.Enabled != nil {
		s.Enabled = *u.Enabled
	}
	if u.Params != nil {
		s.Params = u.Params
	}
}

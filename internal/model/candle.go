package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents one OHLCV bar supplied by a candle source.
// Candles of one run are ascending by Timestamp with no duplicates.
type Candle struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Time returns the candle timestamp in the given location
func (c Candle) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(c.Timestamp).In(loc)
}

// CandleUnit is the time unit of one candle
type CandleUnit string

const (
	UnitMinute1   CandleUnit = "minute1"
	UnitMinute3   CandleUnit = "minute3"
	UnitMinute5   CandleUnit = "minute5"
	UnitMinute10  CandleUnit = "minute10"
	UnitMinute15  CandleUnit = "minute15"
	UnitMinute30  CandleUnit = "minute30"
	UnitMinute60  CandleUnit = "minute60"
	UnitMinute240 CandleUnit = "minute240"
	UnitDay       CandleUnit = "day"
	UnitWeek      CandleUnit = "week"
	UnitMonth     CandleUnit = "month"
)

var unitMinutes = map[CandleUnit]int{
	UnitMinute1:   1,
	UnitMinute3:   3,
	UnitMinute5:   5,
	UnitMinute10:  10,
	UnitMinute15:  15,
	UnitMinute30:  30,
	UnitMinute60:  60,
	UnitMinute240: 240,
}

// Valid reports whether u is a known candle unit
func (u CandleUnit) Valid() bool {
	if _, ok := unitMinutes[u]; ok {
		return true
	}
	return u == UnitDay || u == UnitWeek || u == UnitMonth
}

// Minutes returns the minute interval for minute units and 0 otherwise
func (u CandleUnit) Minutes() int {
	return unitMinutes[u]
}

// Duration returns the nominal length of one candle. Months count as 30 days.
func (u CandleUnit) Duration() time.Duration {
	if m, ok := unitMinutes[u]; ok {
		return time.Duration(m) * time.Minute
	}
	switch u {
	case UnitDay:
		return 24 * time.Hour
	case UnitWeek:
		return 7 * 24 * time.Hour
	case UnitMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

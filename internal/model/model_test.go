package model

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategyDefaults(t *testing.T) {
	s, err := ParseStrategy(StrategyVolatilityBreakout, nil)
	require.NoError(t, err)
	assert.Equal(t, VolatilityBreakout{K: 0.5, StopLoss: 0.02, ProfitTarget: 0.01}, s)

	s, err = ParseStrategy(StrategyMovingAverage, Params{"shortPeriod": 7})
	require.NoError(t, err)
	assert.Equal(t, MovingAverageCrossover{ShortPeriod: 7, LongPeriod: 20, StopLoss: 0.02, ProfitTarget: 0.01}, s)

	s, err = ParseStrategy(StrategyRSI, Params{"profitTarget": 0.05})
	require.NoError(t, err)
	rsi := s.(RSI)
	assert.Equal(t, 14, rsi.Period)
	target, stop := rsi.ExitRules()
	assert.Equal(t, 0.05, target)
	assert.Equal(t, 0.02, stop)
}

func TestParseStrategyRejects(t *testing.T) {
	tests := []struct {
		name   string
		typ    StrategyType
		params Params
	}{
		{"unknown type", "MEAN_REVERSION", nil},
		{"zero stop loss", StrategyRSI, Params{"stopLoss": 0}},
		{"profit target above one", StrategyRSI, Params{"profitTarget": 1.5}},
		{"non-positive k", StrategyVolatilityBreakout, Params{"k": 0}},
		{"fractional period", StrategyMovingAverage, Params{"shortPeriod": 2.5}},
		{"short not below long", StrategyMovingAverage, Params{"shortPeriod": 20, "longPeriod": 20}},
		{"zero rsi period", StrategyRSI, Params{"period": 0}},
		{"inverted levels", StrategyRSI, Params{"oversold": 70, "overbought": 30}},
		{"overbought above 100", StrategyRSI, Params{"overbought": 101}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStrategy(tt.typ, tt.params)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestCandleCount(t *testing.T) {
	tests := []struct {
		name    string
		window  BacktestWindow
		want    int
		wantErr bool
	}{
		{"explicit count", BacktestWindow{Count: 250}, 250, false},
		{"one day of minutes", BacktestWindow{Period: "1D"}, 1440, false},
		{"one month of hours", BacktestWindow{Period: "1M", CandleUnit: UnitMinute60}, 720, false},
		{"one year of days", BacktestWindow{Period: "1Y", CandleUnit: UnitDay}, 365, false},
		{"six months of minutes", BacktestWindow{Period: "6M"}, 259200, false},
		{"both", BacktestWindow{Period: "1D", Count: 10}, 0, true},
		{"neither", BacktestWindow{}, 0, true},
		{"unknown period", BacktestWindow{Period: "2Y"}, 0, true},
		{"unknown unit", BacktestWindow{Period: "1D", CandleUnit: "tick"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.window.CandleCount()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWindowDefaults(t *testing.T) {
	var w BacktestWindow
	assert.Equal(t, UnitMinute1, w.Unit())
	assert.True(t, w.Balance().Equal(DefaultInitialBalance))
}

func TestCandleUnit(t *testing.T) {
	assert.True(t, UnitMinute240.Valid())
	assert.True(t, UnitMonth.Valid())
	assert.False(t, CandleUnit("minute2").Valid())
	assert.Equal(t, 240, UnitMinute240.Minutes())
	assert.Equal(t, 0, UnitWeek.Minutes())
	assert.Equal(t, 7*24*time.Hour, UnitWeek.Duration())

	c := Candle{Timestamp: 1704067200000}
	assert.Equal(t, 2024, c.Time(nil).Year())
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	assert.Equal(t, 9, c.Time(seoul).Hour())
}

func TestParamsDatabaseRoundTrip(t *testing.T) {
	value, err := Params{"k": 0.4}.Value()
	require.NoError(t, err)

	var fromBytes Params
	require.NoError(t, fromBytes.Scan(value))
	assert.Equal(t, 0.4, fromBytes["k"])

	var fromString Params
	require.NoError(t, fromString.Scan(`{"period": 9}`))
	assert.Equal(t, 9.0, fromString["period"])

	var bad Params
	assert.Error(t, bad.Scan(42))

	empty, err := Params(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), empty)
}

func TestStrategyUpdateApply(t *testing.T) {
	s := Strategy{Market: "KRW-BTC", Params: Params{"k": 0.5}}
	market := "KRW-SOL"
	enabled := true

	(&StrategyUpdate{}).Apply(&s)
	assert.Equal(t, "KRW-BTC", s.Market)

	(&StrategyUpdate{Market: &market, Enabled: &enabled, Params: Params{"k": 0.7}}).Apply(&s)
	assert.Equal(t, "KRW-SOL", s.Market)
	assert.True(t, s.Enabled)
	assert.Equal(t, 0.7, s.Params["k"])
	assert.Equal(t, StrategySpec{Type: s.Type, Market: "KRW-SOL", Params: Params{"k": 0.7}}, s.Spec())
}

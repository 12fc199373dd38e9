package client

import (
	"context"
	"sort"
	"time"

	"services/backtest-service/internal/model"
)

// CandleSource supplies candles for a market. Results are ascending by
// timestamp, hold at most count candles ending at or before to (the latest
// available when nil) and may be empty.
type CandleSource interface {
	FetchCandles(ctx context.Context, market string, unit model.CandleUnit, count int, to *time.Time) ([]model.Candle, error)
}

// normalize sorts candles ascending, drops duplicate timestamps and keeps
// the latest count entries
func normalize(candles []model.Candle, count int) []model.Candle {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})

	out := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		if n := len(out); n > 0 && out[n-1].Timestamp == c.Timestamp {
			continue
		}
		out = append(out, c)
	}

	if count > 0 && len(out) > count {
		out = out[len(out)-count:]
	}
	return out
}

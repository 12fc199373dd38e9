package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"services/backtest-service/internal/model"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// CsvCandleDTO is one row of a candle CSV export. Timestamps are epoch
// milliseconds or RFC 3339.
type CsvCandleDTO struct {
	Timestamp string `csv:"timestamp"`
	Open      string `csv:"open"`
	High      string `csv:"high"`
	Low       string `csv:"low"`
	Close     string `csv:"close"`
	Volume    string `csv:"volume"`
}

// ToModel converts the row into a candle
func (dto *CsvCandleDTO) ToModel() (model.Candle, error) {
	ts, err := parseTimestamp(dto.Timestamp)
	if err != nil {
		return model.Candle{}, err
	}

	fields := []struct {
		name  string
		value string
	}{
		{"open", dto.Open}, {"high", dto.High}, {"low", dto.Low}, {"close", dto.Close}, {"volume", dto.Volume},
	}
	parsed := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		v := strings.TrimSpace(f.value)
		if v == "" && f.name == "volume" {
			parsed[i] = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return model.Candle{}, fmt.Errorf("invalid %s %q: %w", f.name, f.value, err)
		}
		parsed[i] = d
	}

	return model.Candle{
		Timestamp: ts,
		Open:      parsed[0],
		High:      parsed[1],
		Low:       parsed[2],
		Close:     parsed[3],
		Volume:    parsed[4],
	}, nil
}

func parseTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return t.UnixMilli(), nil
}

// CSVSource serves candles loaded from a CSV file. The market and unit of
// a request are not checked; the file is assumed to hold one series.
type CSVSource struct {
	candles []model.Candle
}

// NewCSVSource loads candles from the file at path
func NewCSVSource(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()

	return ReadCSVSource(f)
}

// ReadCSVSource loads candles from r
func ReadCSVSource(r io.Reader) (*CSVSource, error) {
	var rows []*CsvCandleDTO
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("error unmarshalling candles: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		c, err := row.ToModel()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		candles = append(candles, c)
	}

	return &CSVSource{candles: normalize(candles, 0)}, nil
}

// Len returns the number of loaded candles
func (s *CSVSource) Len() int {
	return len(s.candles)
}

// FetchCandles returns the latest count candles at or before to
func (s *CSVSource) FetchCandles(ctx context.Context, _ string, _ model.CandleUnit, count int, to *time.Time) ([]model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	end := len(s.candles)
	if to != nil {
		limit := to.UnixMilli()
		for end > 0 && s.candles[end-1].Timestamp > limit {
			end--
		}
	}
	start := 0
	if count > 0 && end > count {
		start = end - count
	}

	out := make([]model.Candle, end-start)
	copy(out, s.candles[start:end])
	return out, nil
}

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"services/backtest-service/internal/model"
)

var historyStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeUpbit serves size one-minute candles starting at historyStart,
// newest first, honouring count and an exclusive to bound.
func fakeUpbit(t *testing.T, size int, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		require.Equal(t, "/v1/candles/minutes/1", r.URL.Path)
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("market"))

		count, err := strconv.Atoi(r.URL.Query().Get("count"))
		require.NoError(t, err)
		require.LessOrEqual(t, count, MaxCandlesPerRequest)

		end := size
		if to := r.URL.Query().Get("to"); to != "" {
			bound, err := time.Parse("2006-01-02T15:04:05Z", to)
			require.NoError(t, err)
			end = int(bound.Sub(historyStart) / time.Minute)
			if end > size {
				end = size
			}
		}

		var out []map[string]interface{}
		for i := end - 1; i >= 0 && len(out) < count; i-- {
			start := historyStart.Add(time.Duration(i) * time.Minute)
			price := 100 + i
			out = append(out, map[string]interface{}{
				"market":                  "KRW-BTC",
				"candle_date_time_utc":    start.Format("2006-01-02T15:04:05"),
				"opening_price":           price,
				"high_price":              price + 1,
				"low_price":               price - 1,
				"trade_price":             price,
				"timestamp":               start.Add(59 * time.Second).UnixMilli(),
				"candle_acc_trade_volume": 1.5,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}))
}

func newTestClient(baseURL string, retries uint64) *UpbitClient {
	c := NewUpbitClient(UpbitOptions{BaseURL: baseURL, MaxRetries: retries}, zap.NewNop())
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestUpbitClientPaginates(t *testing.T) {
	var calls int32
	srv := fakeUpbit(t, 1000, &calls)
	defer srv.Close()

	candles, err := newTestClient(srv.URL, 0).FetchCandles(context.Background(), "KRW-BTC", model.UnitMinute1, 450, nil)
	require.NoError(t, err)

	require.Len(t, candles, 450)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, historyStart.Add(550*time.Minute).UnixMilli(), candles[0].Timestamp)
	assert.Equal(t, historyStart.Add(999*time.Minute).UnixMilli(), candles[449].Timestamp)
	for i := 1; i < len(candles); i++ {
		require.Equal(t, candles[i-1].Timestamp+60_000, candles[i].Timestamp)
	}
	assert.Equal(t, "1099", candles[449].Close.String())
	assert.Equal(t, "1.5", candles[0].Volume.String())
}

func TestUpbitClientStopsWhenHistoryEnds(t *testing.T) {
	var calls int32
	srv := fakeUpbit(t, 250, &calls)
	defer srv.Close()

	to := historyStart.Add(300 * time.Minute)
	candles, err := newTestClient(srv.URL, 0).FetchCandles(context.Background(), "KRW-BTC", model.UnitMinute1, 1000, &to)
	require.NoError(t, err)

	assert.Len(t, candles, 250)
	assert.Equal(t, historyStart.UnixMilli(), candles[0].Timestamp)
}

func TestUpbitClientRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[{"candle_date_time_utc":"2024-01-01T00:00:00","opening_price":1,"high_price":2,"low_price":1,"trade_price":2,"timestamp":1704067259000,"candle_acc_trade_volume":3}]`))
	}))
	defer srv.Close()

	candles, err := newTestClient(srv.URL, 3).FetchCandles(context.Background(), "KRW-ETH", model.UnitDay, 10, nil)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	assert.Equal(t, historyStart.UnixMilli(), candles[0].Timestamp)
}

func TestUpbitClientFailures(t *testing.T) {
	t.Run("client error is not retried", func(t *testing.T) {
		var attempts int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			http.Error(w, `{"error":{"name":"404","message":"Code not found"}}`, http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, 3).FetchCandles(context.Background(), "KRW-NOPE", model.UnitMinute5, 10, nil)
		require.ErrorIs(t, err, model.ErrUpstreamFailure)
		assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
	})

	t.Run("server errors exhaust retries", func(t *testing.T) {
		var attempts int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, 2).FetchCandles(context.Background(), "KRW-BTC", model.UnitMinute1, 10, nil)
		require.ErrorIs(t, err, model.ErrUpstreamFailure)
		assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"not":"a list"}`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, 0).FetchCandles(context.Background(), "KRW-BTC", model.UnitMinute1, 10, nil)
		require.ErrorIs(t, err, model.ErrUpstreamFailure)
	})

	t.Run("deadline while fetching", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(300 * time.Millisecond):
			}
			w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := newTestClient(srv.URL, 2).FetchCandles(ctx, "KRW-BTC", model.UnitMinute1, 10, nil)
		require.ErrorIs(t, err, model.ErrUpstreamFailure)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("unknown unit", func(t *testing.T) {
		_, err := newTestClient("http://unused", 0).FetchCandles(context.Background(), "KRW-BTC", model.CandleUnit("minute7"), 10, nil)
		require.ErrorIs(t, err, model.ErrInvalidRequest)
	})
}

func TestCandlePath(t *testing.T) {
	for unit, want := range map[model.CandleUnit]string{
		model.UnitMinute1:   "/v1/candles/minutes/1",
		model.UnitMinute240: "/v1/candles/minutes/240",
		model.UnitDay:       "/v1/candles/days",
		model.UnitWeek:      "/v1/candles/weeks",
		model.UnitMonth:     "/v1/candles/months",
	} {
		got, err := candlePath(unit)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.True(t, strings.HasPrefix(got, "/v1/candles/"))
	}
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"services/backtest-service/internal/backtest"
	"services/backtest-service/internal/config"
	"services/backtest-service/internal/model"
	"services/backtest-service/internal/repository"
	"services/backtest-service/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSource struct {
	err   error
	block bool
	late  bool // answer only after ctx is done
}

func (s *stubSource) FetchCandles(ctx context.Context, _ string, unit model.CandleUnit, count int, _ *time.Time) ([]model.Candle, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.late {
		<-ctx.Done()
	}

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	candles := make([]model.Candle, count)
	for i := range candles {
		// saw-tooth between 100 and 119
		price := decimal.NewFromInt(int64(100 + i%20))
		candles[i] = model.Candle{
			Timestamp: base + int64(i)*unit.Duration().Milliseconds(),
			Open:      price,
			High:      price.Add(decimal.NewFromInt(2)),
			Low:       price.Sub(decimal.NewFromInt(2)),
			Close:     price,
			Volume:    decimal.NewFromInt(10),
		}
	}
	return candles, nil
}

func newTestRouter(source *stubSource, runTimeout time.Duration) *gin.Engine {
	cfg := config.BacktestConfig{
		MinCandleCount:    100,
		MaxCandleCount:    5000,
		MaxConcurrentRuns: 2,
		RunTimeout:        runTimeout,
	}
	logger := zap.NewNop()
	sim := backtest.NewSimulator(backtest.DefaultConfig(), logger)
	backtestService := service.NewBacktestService(source, sim, repository.NewMemoryBacktestRepository(), nil, cfg, logger)
	strategyService := service.NewStrategyService(repository.NewMemoryStrategyRepository(), backtestService, logger)

	backtestHandler := NewBacktestHandler(backtestService, logger)
	strategyHandler := NewStrategyHandler(strategyService, backtestHandler, logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.POST("/backtests", backtestHandler.RunBacktest)
	v1.POST("/backtests/batch", backtestHandler.RunBatch)
	v1.GET("/backtests/results/:strategyId", backtestHandler.ListResults)
	v1.GET("/backtests/runs/:id", backtestHandler.GetRun)

	v1.GET("/strategies", strategyHandler.ListStrategies)
	v1.POST("/strategies", strategyHandler.CreateStrategy)
	v1.GET("/strategies/:id", strategyHandler.GetStrategy)
	v1.PATCH("/strategies/:id", strategyHandler.UpdateStrategy)
	v1.DELETE("/strategies/:id", strategyHandler.DeleteStrategy)
	v1.POST("/strategies/:id/start", strategyHandler.StartStrategy)
	v1.POST("/strategies/:id/stop", strategyHandler.StopStrategy)
	v1.POST("/strategies/:id/backtest", strategyHandler.BacktestStrategy)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	}
	return w, decoded
}

const maRequest = `{
	"strategy": {"type": "MOVING_AVERAGE", "market": "KRW-BTC", "params": {"shortPeriod": 3, "longPeriod": 8}},
	"count": 400
}`

func TestRunBacktestEndpoint(t *testing.T) {
	r := newTestRouter(&stubSource{}, time.Minute)

	w, body := do(t, r, http.MethodPost, "/api/v1/backtests", maRequest)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotEmpty(t, body["id"])

	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, result, "trades")
	assert.Contains(t, result, "maxDrawdown")
	assert.Contains(t, result, "suggestions")

	w, run := do(t, r, http.MethodGet, "/api/v1/backtests/runs/"+body["id"].(string), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", run["status"])
	assert.Equal(t, "MOVING_AVERAGE", run["strategyType"])
}

func TestRunBacktestEndpointErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  *stubSource
		timeout time.Duration
		body    string
		status  int
		partial bool
	}{
		{"malformed json", &stubSource{}, time.Minute, `{"strategy":`, http.StatusBadRequest, false},
		{"count below minimum", &stubSource{}, time.Minute,
			`{"strategy":{"type":"RSI","market":"KRW-BTC"},"count":10}`, http.StatusBadRequest, false},
		{"unknown strategy", &stubSource{}, time.Minute,
			`{"strategy":{"type":"GRID","market":"KRW-BTC"},"count":200}`, http.StatusBadRequest, false},
		{"upstream failure", &stubSource{err: errors.New("503 from upstream")}, time.Minute, maRequest, http.StatusBadGateway, false},
		{"fetch timeout", &stubSource{block: true}, 20 * time.Millisecond, maRequest, http.StatusGatewayTimeout, false},
		{"simulation timeout", &stubSource{late: true}, 20 * time.Millisecond, maRequest, http.StatusGatewayTimeout, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(tt.source, tt.timeout)
			w, body := do(t, r, http.MethodPost, "/api/v1/backtests", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, body["error"])
			if tt.partial {
				result, ok := body["result"].(map[string]interface{})
				require.True(t, ok)
				assert.Equal(t, true, result["aborted"])
			} else {
				assert.NotContains(t, body, "result")
			}
		})
	}
}

func TestRunBatchEndpoint(t *testing.T) {
	r := newTestRouter(&stubSource{}, time.Minute)

	batch := `{"requests": [` + maRequest + `, {"strategy":{"type":"RSI","market":"KRW-ETH"},"count":5}]}`
	w, body := do(t, r, http.MethodPost, "/api/v1/backtests/batch", batch)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	results, ok := body["results"].([]interface{})
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.Contains(t, results[0], "run")
	assert.Contains(t, results[1], "error")

	w, _ = do(t, r, http.MethodPost, "/api/v1/backtests/batch", `{"requests": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRunNotFound(t *testing.T) {
	r := newTestRouter(&stubSource{}, time.Minute)
	w, body := do(t, r, http.MethodGet, "/api/v1/backtests/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, body["error"])
}

func TestStrategyEndpoints(t *testing.T) {
	r := newTestRouter(&stubSource{}, time.Minute)

	w, created := do(t, r, http.MethodPost, "/api/v1/strategies",
		`{"type":"VOLATILITY_BREAKOUT","market":"KRW-BTC","params":{"k":0.6}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := created["id"].(string)
	assert.Equal(t, false, created["enabled"])

	w, _ = do(t, r, http.MethodPost, "/api/v1/strategies", `{"type":"VOLATILITY_BREAKOUT","market":"KRW-BTC","params":{"k":-1}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, started := do(t, r, http.MethodPost, "/api/v1/strategies/"+id+"/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, started["enabled"])

	w, list := do(t, r, http.MethodGet, "/api/v1/strategies?enabled=true&market=KRW-BTC", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, list["data"], 1)

	w, _ = do(t, r, http.MethodGet, "/api/v1/strategies?enabled=maybe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, patched := do(t, r, http.MethodPatch, "/api/v1/strategies/"+id, `{"market":"KRW-ETH"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "KRW-ETH", patched["market"])

	w, stopped := do(t, r, http.MethodPost, "/api/v1/strategies/"+id+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, stopped["enabled"])

	w, run := do(t, r, http.MethodPost, "/api/v1/strategies/"+id+"/backtest", `{"count":300,"candleUnit":"minute5"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	runID := run["id"].(string)

	w, results := do(t, r, http.MethodGet, "/api/v1/backtests/results/"+id+"?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	stored, ok := results["results"].([]interface{})
	require.True(t, ok)
	require.Len(t, stored, 1)
	assert.Equal(t, runID, stored[0].(map[string]interface{})["id"])

	w, _ = do(t, r, http.MethodDelete, "/api/v1/strategies/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/strategies/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/strategies/"+id+"/backtest", `{"count":300}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

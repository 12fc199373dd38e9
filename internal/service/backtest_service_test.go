package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"services/backtest-service/internal/backtest"
	"services/backtest-service/internal/config"
	"services/backtest-service/internal/model"
	"services/backtest-service/internal/repository"
)

type fakeSource struct {
	mu     sync.Mutex
	calls  int
	counts []int
	err    error
	block  bool
}

func (f *fakeSource) FetchCandles(ctx context.Context, _ string, unit model.CandleUnit, count int, _ *time.Time) ([]model.Candle, error) {
	f.mu.Lock()
	f.calls++
	f.counts = append(f.counts, count)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return wave(count, unit.Duration()), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.BacktestCompletedEvent
}

func (p *fakePublisher) PublishBacktestCompleted(_ context.Context, event model.BacktestCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func wave(n int, step time.Duration) []model.Candle {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	candles := make([]model.Candle, n)
	for i := range candles {
		price := decimal.NewFromFloat(100 + 10*math.Sin(float64(i)/4)).Round(4)
		candles[i] = model.Candle{
			Timestamp: base + int64(i)*step.Milliseconds(),
			Open:      price,
			High:      price.Add(decimal.NewFromInt(1)),
			Low:       price.Sub(decimal.NewFromInt(1)),
			Close:     price,
			Volume:    decimal.NewFromInt(int64(1 + i%7)),
		}
	}
	return candles
}

func testBacktestConfig() config.BacktestConfig {
	return config.BacktestConfig{
		MinCandleCount:    100,
		MaxCandleCount:    2000,
		MaxConcurrentRuns: 2,
		RunTimeout:        time.Minute,
	}
}

func newTestBacktestService(source *fakeSource, events EventPublisher, cfg config.BacktestConfig) (*BacktestService, *repository.MemoryBacktestRepository) {
	store := repository.NewMemoryBacktestRepository()
	sim := backtest.NewSimulator(backtest.DefaultConfig(), zap.NewNop())
	return NewBacktestService(source, sim, store, events, cfg, zap.NewNop()), store
}

func rsiRequest(count int) *model.BacktestRequest {
	return &model.BacktestRequest{
		Strategy: model.StrategySpec{
			Type:   model.StrategyRSI,
			Market: "KRW-BTC",
			Params: model.Params{"period": 14},
		},
		BacktestWindow: model.BacktestWindow{Count: count},
	}
}

func TestRunBacktest(t *testing.T) {
	source := &fakeSource{}
	events := &fakePublisher{}
	svc, store := newTestBacktestService(source, events, testBacktestConfig())

	run, err := svc.RunBacktest(context.Background(), rsiRequest(500))
	require.NoError(t, err)
	require.NotNil(t, run.Result)

	assert.Equal(t, model.StatusCompleted, run.Status)
	assert.Equal(t, model.StrategyRSI, run.StrategyType)
	assert.Equal(t, model.UnitMinute1, run.CandleUnit)
	assert.Equal(t, 500, run.CandleCount)
	assert.True(t, run.InitialBalance.Equal(model.DefaultInitialBalance))
	assert.NotNil(t, run.CompletedAt)
	assert.Nil(t, run.ErrorMessage)
	assert.Greater(t, run.Result.TotalTrades, 0)

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)

	require.Len(t, events.events, 1)
	assert.Equal(t, run.ID, events.events[0].RunID)
	assert.Equal(t, run.Result.TotalTrades, events.events[0].TotalTrades)
	assert.True(t, run.Result.FinalBalance.Equal(events.events[0].FinalBalance))
}

func TestRunBacktestRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *model.BacktestRequest)
	}{
		{"missing market", func(r *model.BacktestRequest) { r.Strategy.Market = "" }},
		{"unknown type", func(r *model.BacktestRequest) { r.Strategy.Type = "GRID" }},
		{"bad params", func(r *model.BacktestRequest) { r.Strategy.Params = model.Params{"oversold": 80, "overbought": 70} }},
		{"too few candles", func(r *model.BacktestRequest) { r.Count = 99 }},
		{"too many candles", func(r *model.BacktestRequest) { r.Count = 2001 }},
		{"no history", func(r *model.BacktestRequest) { r.Count = 0 }},
		{"period and count", func(r *model.BacktestRequest) { r.Period = "1D" }},
		{"unknown period", func(r *model.BacktestRequest) { r.Count = 0; r.Period = "2D" }},
		{"unknown unit", func(r *model.BacktestRequest) { r.CandleUnit = "minute2" }},
		{"negative balance", func(r *model.BacktestRequest) { r.InitialBalance = decimal.NewFromInt(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{}
			svc, _ := newTestBacktestService(source, nil, testBacktestConfig())

			req := rsiRequest(500)
			tt.mutate(req)
			run, err := svc.RunBacktest(context.Background(), req)

			assert.ErrorIs(t, err, model.ErrInvalidRequest)
			assert.Nil(t, run)
			assert.Zero(t, source.calls)
		})
	}
}

func TestRunBacktestResolvesPeriod(t *testing.T) {
	source := &fakeSource{}
	svc, _ := newTestBacktestService(source, nil, testBacktestConfig())

	req := rsiRequest(0)
	req.Period = "1D"
	run, err := svc.RunBacktest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1440, run.CandleCount)
	assert.Equal(t, []int{1440}, source.counts)

	req.Period = "1W"
	_, err = svc.RunBacktest(context.Background(), req)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestRunBacktestUpstreamFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("connection reset")}
	svc, store := newTestBacktestService(source, nil, testBacktestConfig())

	run, err := svc.RunBacktest(context.Background(), rsiRequest(200))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUpstreamFailure)
	require.NotNil(t, run)
	assert.Equal(t, model.StatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "connection reset")

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
}

func TestRunBacktestTimeout(t *testing.T) {
	cfg := testBacktestConfig()
	cfg.RunTimeout = 20 * time.Millisecond
	svc, _ := newTestBacktestService(&fakeSource{block: true}, nil, cfg)

	run, err := svc.RunBacktest(context.Background(), rsiRequest(200))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, model.ErrUpstreamFailure)
	assert.Equal(t, model.StatusFailed, run.Status)
}

func TestRunBacktestCancelledDuringSimulation(t *testing.T) {
	svc, store := newTestBacktestService(&fakeSource{}, nil, testBacktestConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := svc.RunBacktest(ctx, rsiRequest(300))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, run)
	assert.Equal(t, model.StatusAborted, run.Status)
	require.NotNil(t, run.Result)
	assert.True(t, run.Result.Aborted)

	_, err = store.GetRun(context.Background(), run.ID)
	assert.NoError(t, err)
}

func TestRunBatch(t *testing.T) {
	source := &fakeSource{}
	svc, _ := newTestBacktestService(source, nil, testBacktestConfig())

	bad := *rsiRequest(10)
	reqs := []model.BacktestRequest{*rsiRequest(200), bad, *rsiRequest(300)}
	reqs[2].Strategy.Type = model.StrategyMovingAverage
	reqs[2].Strategy.Params = nil

	items, err := svc.RunBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Empty(t, items[0].Error)
	assert.Equal(t, 200, items[0].Run.CandleCount)

	assert.Nil(t, items[1].Run)
	assert.Contains(t, items[1].Error, "candle count 10")

	assert.Empty(t, items[2].Error)
	assert.Equal(t, model.StrategyMovingAverage, items[2].Run.StrategyType)
	assert.Equal(t, 2, source.calls)

	_, err = svc.RunBatch(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestListResults(t *testing.T) {
	svc, _ := newTestBacktestService(&fakeSource{}, nil, testBacktestConfig())

	req := rsiRequest(150)
	req.StrategyID = "s-1"
	first, err := svc.RunBacktest(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.RunBacktest(context.Background(), req)
	require.NoError(t, err)

	runs, err := svc.ListResults(context.Background(), "s-1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	got, err := svc.GetRun(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "s-1", got.StrategyID)
}

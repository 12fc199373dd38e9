package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"services/backtest-service/internal/backtest"
	"services/backtest-service/internal/client"
	"services/backtest-service/internal/config"
	"services/backtest-service/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BacktestStore persists backtest runs
type BacktestStore interface {
	SaveRun(ctx context.Context, run *model.BacktestRun) error
	GetRun(ctx context.Context, id string) (*model.BacktestRun, error)
	ListRunsByStrategy(ctx context.Context, strategyID string, limit int) ([]model.BacktestRun, error)
}

// EventPublisher announces finished runs
type EventPublisher interface {
	PublishBacktestCompleted(ctx context.Context, event model.BacktestCompletedEvent) error
}

// BatchItem is the outcome of one request of a batch
type BatchItem struct {
	Run   *model.BacktestRun `json:"run,omitempty"`
	Error string             `json:"error,omitempty"`
}

// BacktestService runs backtests against a candle source and stores the results
type BacktestService struct {
	source    client.CandleSource
	simulator *backtest.Simulator
	store     BacktestStore
	events    EventPublisher
	cfg       config.BacktestConfig
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewBacktestService creates a new backtest service. events may be nil.
func NewBacktestService(
	source client.CandleSource,
	simulator *backtest.Simulator,
	store BacktestStore,
	events EventPublisher,
	cfg config.BacktestConfig,
	logger *zap.Logger,
) *BacktestService {
	return &BacktestService{
		source:    source,
		simulator: simulator,
		store:     store,
		events:    events,
		cfg:       cfg,
		validate:  validator.New(),
		logger:    logger,
	}
}

// RunBacktest validates the request, fetches the candles and replays them.
//
// The stored run is returned together with any error. A run cut short by
// the timeout or by ctx carries the partial result with status aborted.
func (s *BacktestService) RunBacktest(ctx context.Context, req *model.BacktestRequest) (*model.BacktestRun, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	strategy, err := req.Strategy.Parse()
	if err != nil {
		return nil, err
	}
	unit := req.Unit()
	if !unit.Valid() {
		return nil, fmt.Errorf("%w: unknown candle unit %q", model.ErrInvalidRequest, unit)
	}
	count, err := req.CandleCount()
	if err != nil {
		return nil, err
	}
	if count < s.cfg.MinCandleCount || count > s.cfg.MaxCandleCount {
		return nil, fmt.Errorf("%w: candle count %d outside [%d, %d]",
			model.ErrInvalidRequest, count, s.cfg.MinCandleCount, s.cfg.MaxCandleCount)
	}
	balance := req.Balance()
	if !balance.IsPositive() {
		return nil, fmt.Errorf("%w: initialBalance must be positive", model.ErrInvalidRequest)
	}

	run := &model.BacktestRun{
		ID:             uuid.New().String(),
		StrategyID:     req.StrategyID,
		StrategyType:   strategy.Type(),
		Market:         req.Strategy.Market,
		CandleUnit:     unit,
		CandleCount:    count,
		InitialBalance: balance,
		Status:         model.StatusRunning,
		CreatedAt:      time.Now().UTC(),
	}

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	candles, err := s.source.FetchCandles(runCtx, run.Market, unit, count, req.To)
	if err != nil {
		if !errors.Is(err, model.ErrUpstreamFailure) {
			err = fmt.Errorf("%w: %w", model.ErrUpstreamFailure, err)
		}
		s.logger.Error("Failed to fetch candles",
			zap.Error(err),
			zap.String("market", run.Market),
			zap.String("unit", string(unit)),
			zap.Int("count", count))
		s.finish(ctx, run, nil, model.StatusFailed, err)
		return run, err
	}

	result, runErr := s.simulator.Run(runCtx, candles, strategy, balance)
	status := model.StatusCompleted
	if runErr != nil {
		status = model.StatusAborted
	}
	s.finish(ctx, run, result, status, runErr)

	s.logger.Info("Backtest finished",
		zap.String("id", run.ID),
		zap.String("strategy", string(run.StrategyType)),
		zap.String("market", run.Market),
		zap.Int("candles", len(candles)),
		zap.Int("trades", result.TotalTrades),
		zap.String("status", string(status)))
	return run, runErr
}

// finish records the outcome, stores the run and publishes the completion event.
// Storage and publishing failures are logged and do not fail the run.
func (s *BacktestService) finish(ctx context.Context, run *model.BacktestRun, result *model.BacktestResult, status model.BacktestStatus, runErr error) {
	completed := time.Now().UTC()
	run.Status = status
	run.Result = result
	run.CompletedAt = &completed
	if runErr != nil {
		msg := runErr.Error()
		run.ErrorMessage = &msg
	}

	// Aborted runs are saved even when ctx is already cancelled
	saveCtx := context.WithoutCancel(ctx)
	if err := s.store.SaveRun(saveCtx, run); err != nil {
		s.logger.Error("Failed to save backtest run", zap.Error(err), zap.String("id", run.ID))
	}

	if s.events == nil {
		return
	}
	event := model.BacktestCompletedEvent{
		RunID:       run.ID,
		StrategyID:  run.StrategyID,
		Market:      run.Market,
		Status:      status,
		CompletedAt: completed,
	}
	if result != nil {
		event.TotalTrades = result.TotalTrades
		event.ProfitRate = result.ProfitRate
		event.FinalBalance = result.FinalBalance
	}
	if err := s.events.PublishBacktestCompleted(saveCtx, event); err != nil {
		s.logger.Warn("Failed to publish backtest event", zap.Error(err), zap.String("id", run.ID))
	}
}

// RunBatch runs independent requests concurrently, at most
// MaxConcurrentRuns at a time. Items follow the order of reqs.
func (s *BacktestService) RunBatch(ctx context.Context, reqs []model.BacktestRequest) ([]BatchItem, error) {
	batch := model.BatchBacktestRequest{Requests: reqs}
	if err := s.validate.Struct(&batch); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}

	items := make([]BatchItem, len(reqs))
	var g errgroup.Group
	limit := s.cfg.MaxConcurrentRuns
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i := range reqs {
		i := i
		g.Go(func() error {
			run, err := s.RunBacktest(ctx, &reqs[i])
			items[i].Run = run
			if err != nil {
				items[i].Error = err.Error()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetRun retrieves a stored run
func (s *BacktestService) GetRun(ctx context.Context, id string) (*model.BacktestRun, error) {
	return s.store.GetRun(ctx, id)
}

// ListResults returns the latest runs of a strategy, newest first
func (s *BacktestService) ListResults(ctx context.Context, strategyID string, limit int) ([]model.BacktestRun, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.store.ListRunsByStrategy(ctx, strategyID, limit)
}

package service

import (
	"context"
	"fmt"
	"time"

	"services/backtest-service/internal/model"
	"services/backtest-service/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StrategyStore persists strategy definitions
type StrategyStore interface {
	Create(ctx context.Context, strategy *model.Strategy) error
	Get(ctx context.Context, id string) (*model.Strategy, error)
	List(ctx context.Context, filter repository.StrategyFilter) ([]model.Strategy, error)
	Update(ctx context.Context, strategy *model.Strategy) error
	Delete(ctx context.Context, id string) error
}

// StrategyService handles strategy operations
type StrategyService struct {
	store     StrategyStore
	backtests *BacktestService
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewStrategyService creates a new strategy service
func NewStrategyService(store StrategyStore, backtests *BacktestService, logger *zap.Logger) *StrategyService {
	return &StrategyService{
		store:     store,
		backtests: backtests,
		validate:  validator.New(),
		logger:    logger,
	}
}

// CreateStrategy validates and stores a new strategy
func (s *StrategyService) CreateStrategy(ctx context.Context, create *model.StrategyCreate) (*model.Strategy, error) {
	if err := s.validate.Struct(create); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	if _, err := model.ParseStrategy(create.Type, create.Params); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	strategy := &model.Strategy{
		ID:        uuid.New().String(),
		Type:      create.Type,
		Market:    create.Market,
		Enabled:   create.Enabled,
		Params:    create.Params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if strategy.Params == nil {
		strategy.Params = model.Params{}
	}

	if err := s.store.Create(ctx, strategy); err != nil {
		return nil, err
	}

	s.logger.Info("Strategy created",
		zap.String("id", strategy.ID),
		zap.String("type", string(strategy.Type)),
		zap.String("market", strategy.Market))
	return strategy, nil
}

// GetStrategy retrieves a strategy by ID
func (s *StrategyService) GetStrategy(ctx context.Context, id string) (*model.Strategy, error) {
	return s.store.Get(ctx, id)
}

// ListStrategies returns strategies matching filter
func (s *StrategyService) ListStrategies(ctx context.Context, filter repository.StrategyFilter) ([]model.Strategy, error) {
	return s.store.List(ctx, filter)
}

// UpdateStrategy applies a partial update and revalidates the parameters
func (s *StrategyService) UpdateStrategy(ctx context.Context, id string, update *model.StrategyUpdate) (*model.Strategy, error) {
	if err := s.validate.Struct(update); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}

	strategy, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	update.Apply(strategy)
	if _, err := model.ParseStrategy(strategy.Type, strategy.Params); err != nil {
		return nil, err
	}
	strategy.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, strategy); err != nil {
		return nil, err
	}
	return strategy, nil
}

// DeleteStrategy removes a strategy
func (s *StrategyService) DeleteStrategy(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Strategy deleted", zap.String("id", id))
	return nil
}

// SetEnabled starts or stops a strategy
func (s *StrategyService) SetEnabled(ctx context.Context, id string, enabled bool) (*model.Strategy, error) {
	return s.UpdateStrategy(ctx, id, &model.StrategyUpdate{Enabled: &enabled})
}

// BacktestStrategy backtests a stored strategy over window.
// The run is recorded under the strategy ID.
func (s *StrategyService) BacktestStrategy(ctx context.Context, id string, window model.BacktestWindow) (*model.BacktestRun, error) {
	strategy, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.backtests.RunBacktest(ctx, &model.BacktestRequest{
		Strategy:       strategy.Spec(),
		BacktestWindow: window,
		StrategyID:     strategy.ID,
	})
}

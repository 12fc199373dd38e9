package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"services/backtest-service/internal/model"
)

// MemoryBacktestRepository keeps runs in process memory
type MemoryBacktestRepository struct {
	mu   sync.RWMutex
	runs map[string]model.BacktestRun
}

// NewMemoryBacktestRepository creates an empty in-memory run store
func NewMemoryBacktestRepository() *MemoryBacktestRepository {
	return &MemoryBacktestRepository{runs: make(map[string]model.BacktestRun)}
}

func (r *MemoryBacktestRepository) SaveRun(_ context.Context, run *model.BacktestRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *MemoryBacktestRepository) GetRun(_ context.Context, id string) (*model.BacktestRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("backtest run %s: %w", id, model.ErrNotFound)
	}
	return &run, nil
}

func (r *MemoryBacktestRepository) ListRunsByStrategy(_ context.Context, strategyID string, limit int) ([]model.BacktestRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := []model.BacktestRun{}
	for _, run := range r.runs {
		if run.StrategyID == strategyID {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// MemoryStrategyRepository keeps strategies in process memory
type MemoryStrategyRepository struct {
	mu         sync.RWMutex
	strategies map[string]model.Strategy
}

// NewMemoryStrategyRepository creates an empty in-memory strategy store
func NewMemoryStrategyRepository() *MemoryStrategyRepository {
	return &MemoryStrategyRepository{strategies: make(map[string]model.Strategy)}
}

func (r *MemoryStrategyRepository) Create(_ context.Context, strategy *model.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[strategy.ID]; exists {
		return fmt.Errorf("strategy %s already exists", strategy.ID)
	}
	r.strategies[strategy.ID] = cloneStrategy(*strategy)
	return nil
}

func (r *MemoryStrategyRepository) Get(_ context.Context, id string) (*model.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy %s: %w", id, model.ErrNotFound)
	}
	s = cloneStrategy(s)
	return &s, nil
}

func (r *MemoryStrategyRepository) List(_ context.Context, filter StrategyFilter) ([]model.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	markets := make(map[string]bool, len(filter.Markets))
	for _, m := range filter.Markets {
		markets[m] = true
	}

	out := []model.Strategy{}
	for _, s := range r.strategies {
		if len(markets) > 0 && !markets[s.Market] {
			continue
		}
		if filter.Enabled != nil && s.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, cloneStrategy(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryStrategyRepository) Update(_ context.Context, strategy *model.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[strategy.ID]; !ok {
		return fmt.Errorf("strategy %s: %w", strategy.ID, model.ErrNotFound)
	}
	r.strategies[strategy.ID] = cloneStrategy(*strategy)
	return nil
}

func (r *MemoryStrategyRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[id]; !ok {
		return fmt.Errorf("strategy %s: %w", id, model.ErrNotFound)
	}
	delete(r.strategies, id)
	return nil
}

func cloneStrategy(s model.Strategy) model.Strategy {
	if s.Params != nil {
		params := make(model.Params, len(s.Params))
		for k, v := range s.Params {
			params[k] = v
		}
		s.Params = params
	}
	return s
}

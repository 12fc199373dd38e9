package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"services/backtest-service/internal/model"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// BacktestRepository handles database operations for backtest runs
type BacktestRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewBacktestRepository creates a new backtest repository
func NewBacktestRepository(db *sqlx.DB, logger *zap.Logger) *BacktestRepository {
	return &BacktestRepository{
		db:     db,
		logger: logger,
	}
}

// SaveRun inserts or replaces a run
func (r *BacktestRepository) SaveRun(ctx context.Context, run *model.BacktestRun) error {
	query := `
		INSERT INTO backtest_runs (
			id, strategy_id, strategy_type, market, candle_unit, candle_count,
			initial_balance, status, result, error_message, created_at, completed_at
		)
		VALUES (
			:id, :strategy_id, :strategy_type, :market, :candle_unit, :candle_count,
			:initial_balance, :status, :result, :error_message, :created_at, :completed_at
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at
	`

	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		r.logger.Error("Failed to save backtest run", zap.Error(err), zap.String("id", run.ID))
		return err
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *BacktestRepository) GetRun(ctx context.Context, id string) (*model.BacktestRun, error) {
	query := `
		SELECT
			id, strategy_id, strategy_type, market, candle_unit, candle_count,
			initial_balance, status, result, error_message, created_at, completed_at
		FROM backtest_runs
		WHERE id = $1
	`

	var run model.BacktestRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("backtest run %s: %w", id, model.ErrNotFound)
		}
		r.logger.Error("Failed to get backtest run", zap.Error(err), zap.String("id", id))
		return nil, err
	}
	return &run, nil
}

// ListRunsByStrategy returns the latest runs of a strategy, newest first
func (r *BacktestRepository) ListRunsByStrategy(ctx context.Context, strategyID string, limit int) ([]model.BacktestRun, error) {
	query := `
		SELECT
			id, strategy_id, strategy_type, market, candle_unit, candle_count,
			initial_balance, status, result, error_message, created_at, completed_at
		FROM backtest_runs
		WHERE strategy_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	runs := []model.BacktestRun{}
	if err := r.db.SelectContext(ctx, &runs, query, strategyID, limit); err != nil {
		r.logger.Error("Failed to list backtest runs",
			zap.Error(err),
			zap.String("strategyID", strategyID),
			zap.Int("limit", limit))
		return nil, err
	}
	return runs, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"services/backtest-service/internal/model"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// StrategyFilter narrows a strategy listing. Zero values match everything.
type StrategyFilter struct {
	Markets []string
	Enabled *bool
}

// StrategyRepository handles database operations for strategies
type StrategyRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStrategyRepository creates a new strategy repository
func NewStrategyRepository(db *sqlx.DB, logger *zap.Logger) *StrategyRepository {
	return &StrategyRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a strategy
func (r *StrategyRepository) Create(ctx context.Context, strategy *model.Strategy) error {
	query := `
		INSERT INTO strategies (id, type, market, enabled, params, created_at, updated_at)
		VALUES (:id, :type, :market, :enabled, :params, :created_at, :updated_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, strategy); err != nil {
		r.logger.Error("Failed to create strategy", zap.Error(err), zap.String("id", strategy.ID))
		return err
	}
	return nil
}

// Get retrieves a strategy by ID
func (r *StrategyRepository) Get(ctx context.Context, id string) (*model.Strategy, error) {
	query := `
		SELECT id, type, market, enabled, params, created_at, updated_at
		FROM strategies
		WHERE id = $1
	`

	var strategy model.Strategy
	if err := r.db.GetContext(ctx, &strategy, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("strategy %s: %w", id, model.ErrNotFound)
		}
		r.logger.Error("Failed to get strategy", zap.Error(err), zap.String("id", id))
		return nil, err
	}
	return &strategy, nil
}

// List returns strategies matching filter ordered by creation time
func (r *StrategyRepository) List(ctx context.Context, filter StrategyFilter) ([]model.Strategy, error) {
	query := `
		SELECT id, type, market, enabled, params, created_at, updated_at
		FROM strategies
		WHERE (cardinality($1::text[]) = 0 OR market = ANY($1))
		  AND ($2::boolean IS NULL OR enabled = $2)
		ORDER BY created_at
	`

	markets := filter.Markets
	if markets == nil {
		markets = []string{}
	}

	strategies := []model.Strategy{}
	if err := r.db.SelectContext(ctx, &strategies, query, pq.Array(markets), filter.Enabled); err != nil {
		r.logger.Error("Failed to list strategies", zap.Error(err), zap.Strings("markets", markets))
		return nil, err
	}
	return strategies, nil
}

// Update replaces the mutable fields of a strategy
func (r *StrategyRepository) Update(ctx context.Context, strategy *model.Strategy) error {
	query := `
		UPDATE strategies
		SET type = :type, market = :market, enabled = :enabled, params = :params, updated_at = :updated_at
		WHERE id = :id
	`

	res, err := r.db.NamedExecContext(ctx, query, strategy)
	if err != nil {
		r.logger.Error("Failed to update strategy", zap.Error(err), zap.String("id", strategy.ID))
		return err
	}
	return expectRow(res, "strategy", strategy.ID)
}

// Delete removes a strategy
func (r *StrategyRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete strategy", zap.Error(err), zap.String("id", id))
		return err
	}
	return expectRow(res, "strategy", id)
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
	}
	return nil
}

package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// StrategyParamsRepository реализует работу с параметрами стратегии.
// Таблица всегда держит одну строку.
type StrategyParamsRepository struct {
	db *sql.DB
}

// NewStrategyParamsRepository создает новый репозиторий параметров
func NewStrategyParamsRepository(db *sql.DB) *StrategyParamsRepository {
	return &StrategyParamsRepository{db: db}
}

// Get получает текущие параметры стратегии
func (r *StrategyParamsRepository) Get() (*domain.StrategyParams, error) {
	query := `
		SELECT trade_size_percent, max_positions, correlation_threshold,
		       zscore_threshold, max_portfolio_allocation, updated_at
		FROM strategy_params WHERE id = 1
	`
	params := &domain.StrategyParams{}
	err := r.db.QueryRow(query).Scan(
		&params.TradeSizePercent,
		&params.MaxPositions,
		&params.CorrelationThreshold,
		&params.ZScoreThreshold,
		&params.MaxPortfolioAllocation,
		&params.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: strategy params not initialized", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return params, nil
}

// Save перезаписывает параметры стратегии
func (r *StrategyParamsRepository) Save(params *domain.StrategyParams) error {
	params.UpdatedAt = time.Now()

	query := `
		INSERT INTO strategy_params (
			id, trade_size_percent, max_positions, correlation_threshold,
			zscore_threshold, max_portfolio_allocation, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			trade_size_percent = EXCLUDED.trade_size_percent,
			max_positions = EXCLUDED.max_positions,
			correlation_threshold = EXCLUDED.correlation_threshold,
			zscore_threshold = EXCLUDED.zscore_threshold,
			max_portfolio_allocation = EXCLUDED.max_portfolio_allocation,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(
		query,
		params.TradeSizePercent,
		params.MaxPositions,
		params.CorrelationThreshold,
		params.ZScoreThreshold,
		params.MaxPortfolioAllocation,
		params.UpdatedAt,
	)
	return err
}

package repository

import (
	"database/sql"
	"time"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// CorrelatedPairRepository реализует работу с результатами анализа пар
type CorrelatedPairRepository struct {
	db *sql.DB
}

// NewCorrelatedPairRepository создает новый репозиторий для пар
func NewCorrelatedPairRepository(db *sql.DB) *CorrelatedPairRepository {
	return &CorrelatedPairRepository{db: db}
}

const pairColumns = `id, pair_a, pair_b, correlation, cointegrated, regression_coefficient,
       spread_mean, spread_std, spread_zscore, half_life, analyzed_at`

// Upsert создает или обновляет статистику пары. Ориентация (pair_a,
// pair_b) фиксированная, повторный скан перезаписывает числа.
func (r *CorrelatedPairRepository) Upsert(pair *domain.CorrelatedPair) error {
	if pair.AnalyzedAt.IsZero() {
		pair.AnalyzedAt = time.Now()
	}

	query := `
		INSERT INTO correlated_pairs (
			pair_a, pair_b, correlation, cointegrated, regression_coefficient,
			spread_mean, spread_std, spread_zscore, half_life, analyzed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pair_a, pair_b) DO UPDATE SET
			correlation = EXCLUDED.correlation,
			cointegrated = EXCLUDED.cointegrated,
			regression_coefficient = EXCLUDED.regression_coefficient,
			spread_mean = EXCLUDED.spread_mean,
			spread_std = EXCLUDED.spread_std,
			spread_zscore = EXCLUDED.spread_zscore,
			half_life = EXCLUDED.half_life,
			analyzed_at = EXCLUDED.analyzed_at
		RETURNING id
	`
	return r.db.QueryRow(
		query,
		pair.PairA,
		pair.PairB,
		pair.Correlation,
		pair.Cointegrated,
		pair.RegressionCoefficient,
		pair.SpreadMean,
		pair.SpreadStd,
		pair.SpreadZScore,
		pair.HalfLife,
		pair.AnalyzedAt,
	).Scan(&pair.ID)
}

// GetAll получает все пары, сильная корреляция первой
func (r *CorrelatedPairRepository) GetAll() ([]domain.CorrelatedPair, error) {
	query := `SELECT ` + pairColumns + ` FROM correlated_pairs ORDER BY correlation DESC`
	return r.queryPairs(query)
}

// GetCointegrated получает только торгуемые пары
func (r *CorrelatedPairRepository) GetCointegrated() ([]domain.CorrelatedPair, error) {
	query := `SELECT ` + pairColumns + ` FROM correlated_pairs WHERE cointegrated = true ORDER BY correlation DESC`
	return r.queryPairs(query)
}

// Get получает пару по символам ног
func (r *CorrelatedPairRepository) Get(pairA, pairB string) (*domain.CorrelatedPair, error) {
	query := `SELECT ` + pairColumns + ` FROM correlated_pairs WHERE pair_a = $1 AND pair_b = $2`

	pair := &domain.CorrelatedPair{}
	err := r.db.QueryRow(query, pairA, pairB).Scan(
		&pair.ID,
		&pair.PairA,
		&pair.PairB,
		&pair.Correlation,
		&pair.Cointegrated,
		&pair.RegressionCoefficient,
		&pair.SpreadMean,
		&pair.SpreadStd,
		&pair.SpreadZScore,
		&pair.HalfLife,
		&pair.AnalyzedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// queryPairs выполняет запрос и возвращает список пар
func (r *CorrelatedPairRepository) queryPairs(query string, args ...interface{}) ([]domain.CorrelatedPair, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []domain.CorrelatedPair
	for rows.Next() {
		var pair domain.CorrelatedPair
		err := rows.Scan(
			&pair.ID,
			&pair.PairA,
			&pair.PairB,
			&pair.Correlation,
			&pair.Cointegrated,
			&pair.RegressionCoefficient,
			&pair.SpreadMean,
			&pair.SpreadStd,
			&pair.SpreadZScore,
			&pair.HalfLife,
			&pair.AnalyzedAt,
		)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}

	return pairs, rows.Err()
}

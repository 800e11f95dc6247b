package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// AccountMetricsRepository реализует хранение снапшотов метрик счета
type AccountMetricsRepository struct {
	db *sql.DB
}

// NewAccountMetricsRepository создает новый репозиторий метрик
func NewAccountMetricsRepository(db *sql.DB) *AccountMetricsRepository {
	return &AccountMetricsRepository{db: db}
}

// Save сохраняет снапшот метрик
func (r *AccountMetricsRepository) Save(metrics *domain.AccountMetrics) error {
	if metrics.CreatedAt.IsZero() {
		metrics.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO account_metrics (
			balance, available_margin, margin_used, unrealized_pnl,
			daily_pnl, open_positions, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return r.db.QueryRow(
		query,
		metrics.Balance,
		metrics.AvailableMargin,
		metrics.MarginUsed,
		metrics.UnrealizedPnL,
		metrics.DailyPnL,
		metrics.OpenPositions,
		metrics.CreatedAt,
	).Scan(&metrics.ID)
}

// GetFirstOfDay получает первый снапшот календарного дня, к которому
// относится момент day. База для расчета дневного PnL.
func (r *AccountMetricsRepository) GetFirstOfDay(day time.Time) (*domain.AccountMetrics, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	query := `
		SELECT id, balance, available_margin, margin_used, unrealized_pnl,
		       daily_pnl, open_positions, created_at
		FROM account_metrics
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at
		LIMIT 1
	`
	metrics := &domain.AccountMetrics{}
	err := r.db.QueryRow(query, start, end).Scan(
		&metrics.ID,
		&metrics.Balance,
		&metrics.AvailableMargin,
		&metrics.MarginUsed,
		&metrics.UnrealizedPnL,
		&metrics.DailyPnL,
		&metrics.OpenPositions,
		&metrics.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no metrics for %s", domain.ErrNotFound, start.Format("2006-01-02"))
	}
	if err != nil {
		return nil, err
	}
	return metrics, nil
}

// GetRecent получает последние N снапшотов для дашборда
func (r *AccountMetricsRepository) GetRecent(limit int) ([]domain.AccountMetrics, error) {
	query := `
		SELECT id, balance, available_margin, margin_used, unrealized_pnl,
		       daily_pnl, open_positions, created_at
		FROM account_metrics
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []domain.AccountMetrics
	for rows.Next() {
		var m domain.AccountMetrics
		err := rows.Scan(
			&m.ID,
			&m.Balance,
			&m.AvailableMargin,
			&m.MarginUsed,
			&m.UnrealizedPnL,
			&m.DailyPnL,
			&m.OpenPositions,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}

	return metrics, rows.Err()
}

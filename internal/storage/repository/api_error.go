package repository

import (
	"database/sql"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// APIErrorRepository реализует журнал исчерпанных ретраев API биржи
type APIErrorRepository struct {
	db *sql.DB
}

// NewAPIErrorRepository создает новый репозиторий ошибок API
func NewAPIErrorRepository(db *sql.DB) *APIErrorRepository {
	return &APIErrorRepository{db: db}
}

// Save записывает ошибку после исчерпания всех попыток
func (r *APIErrorRepository) Save(operation, message string, attempts int) error {
	query := `INSERT INTO api_errors (operation, message, attempts) VALUES ($1, $2, $3)`
	_, err := r.db.Exec(query, operation, message, attempts)
	return err
}

// GetRecent получает последние N ошибок API
func (r *APIErrorRepository) GetRecent(limit int) ([]domain.APIError, error) {
	query := `
		SELECT id, operation, message, attempts, created_at
		FROM api_errors
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []domain.APIError
	for rows.Next() {
		var apiErr domain.APIError
		if err := rows.Scan(&apiErr.ID, &apiErr.Operation, &apiErr.Message, &apiErr.Attempts, &apiErr.CreatedAt); err != nil {
			return nil, err
		}
		errs = append(errs, apiErr)
	}

	return errs, rows.Err()
}

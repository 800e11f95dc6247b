package repository

import (
	"database/sql"
	"encoding/json"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// EventRepository реализует журнал событий бота
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает новый репозиторий журнала событий
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Log записывает событие с произвольными данными
func (r *EventRepository) Log(name string, data map[string]interface{}) error {
	payload := "{}"
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		payload = string(raw)
	}

	query := `INSERT INTO bot_events (name, data) VALUES ($1, $2)`
	_, err := r.db.Exec(query, name, payload)
	return err
}

// GetRecent получает последние N событий
func (r *EventRepository) GetRecent(limit int) ([]domain.BotEvent, error) {
	query := `
		SELECT id, name, data, created_at
		FROM bot_events
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.BotEvent
	for rows.Next() {
		var event domain.BotEvent
		if err := rows.Scan(&event.ID, &event.Name, &event.Data, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

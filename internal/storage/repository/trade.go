package repository

import (
	"database/sql"
	"fmt"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// TradeRepository реализует работу со сделками леджера
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый репозиторий для сделок
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

const tradeColumns = `id, symbol, side, size, leverage, entry_price, current_price, status,
       stop_loss, take_profit, pair_symbol, pair_correlation,
       unrealized_pnl, pnl, opened_at, closed_at, close_reason`

// Create сохраняет новую сделку. Идентификатор назначает леджер.
func (r *TradeRepository) Create(trade *domain.Trade) error {
	query := `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.db.Exec(
		query,
		trade.ID,
		trade.Symbol,
		trade.Side,
		trade.Size,
		trade.Leverage,
		trade.EntryPrice,
		trade.CurrentPrice,
		trade.Status,
		trade.StopLoss,
		trade.TakeProfit,
		trade.PairSymbol,
		trade.PairCorrelation,
		trade.UnrealizedPnL,
		trade.PnL,
		trade.OpenedAt,
		trade.ClosedAt,
		trade.CloseReason,
	)
	return err
}

// Update перезаписывает изменяемые поля сделки
func (r *TradeRepository) Update(trade *domain.Trade) error {
	query := `
		UPDATE trades SET
			size = $2,
			entry_price = $3,
			current_price = $4,
			status = $5,
			stop_loss = $6,
			take_profit = $7,
			unrealized_pnl = $8,
			pnl = $9,
			closed_at = $10,
			close_reason = $11
		WHERE id = $1
	`
	result, err := r.db.Exec(
		query,
		trade.ID,
		trade.Size,
		trade.EntryPrice,
		trade.CurrentPrice,
		trade.Status,
		trade.StopLoss,
		trade.TakeProfit,
		trade.UnrealizedPnL,
		trade.PnL,
		trade.ClosedAt,
		trade.CloseReason,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: trade %s", domain.ErrNotFound, trade.ID)
	}
	return nil
}

// GetByID получает сделку по идентификатору
func (r *TradeRepository) GetByID(id string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`

	trade := &domain.Trade{}
	err := r.scanTrade(r.db.QueryRow(query, id), trade)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: trade %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// GetActive получает открытые сделки в порядке открытия
func (r *TradeRepository) GetActive() ([]domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = $1 ORDER BY opened_at`
	return r.queryTrades(query, domain.StatusOpen)
}

// GetPending получает сделки, застрявшие между записью и ордером
func (r *TradeRepository) GetPending() ([]domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = $1 ORDER BY opened_at`
	return r.queryTrades(query, domain.StatusPending)
}

// GetRecent получает последние N сделок любого статуса
func (r *TradeRepository) GetRecent(limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY opened_at DESC LIMIT $1`
	return r.queryTrades(query, limit)
}

// queryTrades выполняет запрос и возвращает список сделок
func (r *TradeRepository) queryTrades(query string, args ...interface{}) ([]domain.Trade, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var trade domain.Trade
		if err := r.scanTrade(rows, &trade); err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}

	return trades, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *TradeRepository) scanTrade(row rowScanner, trade *domain.Trade) error {
	return row.Scan(
		&trade.ID,
		&trade.Symbol,
		&trade.Side,
		&trade.Size,
		&trade.Leverage,
		&trade.EntryPrice,
		&trade.CurrentPrice,
		&trade.Status,
		&trade.StopLoss,
		&trade.TakeProfit,
		&trade.PairSymbol,
		&trade.PairCorrelation,
		&trade.UnrealizedPnL,
		&trade.PnL,
		&trade.OpenedAt,
		&trade.ClosedAt,
		&trade.CloseReason,
	)
}

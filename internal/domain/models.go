package domain

import (
	"math"
	"time"
)

// Trade представляет одну ногу парной позиции в леджере
type Trade struct {
	ID              string     `db:"id" json:"id"`
	Symbol          string     `db:"symbol" json:"symbol"`
	Side            string     `db:"side" json:"side"` // "long" or "short"
	Size            float64    `db:"size" json:"size"`
	Leverage        int        `db:"leverage" json:"leverage"`
	EntryPrice      float64    `db:"entry_price" json:"entryPrice"`
	CurrentPrice    float64    `db:"current_price" json:"currentPrice"`
	Status          string     `db:"status" json:"status"` // "pending", "open", "closed", "failed"
	StopLoss        *float64   `db:"stop_loss" json:"stopLoss,omitempty"`
	TakeProfit      *float64   `db:"take_profit" json:"takeProfit,omitempty"`
	PairSymbol      *string    `db:"pair_symbol" json:"pairSymbol,omitempty"`
	PairCorrelation *float64   `db:"pair_correlation" json:"pairCorrelation,omitempty"`
	UnrealizedPnL   float64    `db:"unrealized_pnl" json:"unrealizedPnl"`
	PnL             *float64   `db:"pnl" json:"pnl,omitempty"`
	OpenedAt        time.Time  `db:"opened_at" json:"openedAt"`
	ClosedAt        *time.Time `db:"closed_at" json:"closedAt,omitempty"`
	CloseReason     *string    `db:"close_reason" json:"closeReason,omitempty"`
}

// IsOpen сообщает, активна ли сделка
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// HasPair сообщает, привязана ли сделка к парной ноге
func (t *Trade) HasPair() bool {
	return t.PairSymbol != nil && *t.PairSymbol != ""
}

// Position представляет позицию по данным биржи (не персистится).
// Size со знаком: положительный — long, отрицательный — short.
type Position struct {
	Symbol        string  `json:"symbol"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entryPrice"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	Leverage      int     `json:"leverage"`
	MarginUsed    float64 `json:"marginUsed"`
}

// IsFlat сообщает, что позиции фактически нет (размер меньше пыли)
func (p *Position) IsFlat() bool {
	return math.Abs(p.Size) < DustSize
}

// IsLong сообщает, что позиция длинная
func (p *Position) IsLong() bool {
	return p.Size >= DustSize
}

// IsShort сообщает, что позиция короткая
func (p *Position) IsShort() bool {
	return p.Size <= -DustSize
}

// Notional возвращает долларовую стоимость позиции по указанной цене
func (p *Position) Notional(price float64) float64 {
	return math.Abs(p.Size) * price
}

// AccountState представляет состояние счета по данным биржи (не персистится)
type AccountState struct {
	AccountValue    float64 `json:"accountValue"`
	AvailableMargin float64 `json:"availableMargin"`
	TotalMarginUsed float64 `json:"totalMarginUsed"`
}

// CorrelatedPair представляет результат анализа пары активов
type CorrelatedPair struct {
	ID                    int64     `db:"id" json:"id"`
	PairA                 string    `db:"pair_a" json:"pairA"`
	PairB                 string    `db:"pair_b" json:"pairB"`
	Correlation           float64   `db:"correlation" json:"correlation"`
	Cointegrated          bool      `db:"cointegrated" json:"cointegrated"`
	RegressionCoefficient float64   `db:"regression_coefficient" json:"regressionCoefficient"`
	SpreadMean            float64   `db:"spread_mean" json:"spreadMean"`
	SpreadStd             float64   `db:"spread_std" json:"spreadStd"`
	SpreadZScore          float64   `db:"spread_zscore" json:"spreadZScore"`
	HalfLife              float64   `db:"half_life" json:"halfLife"`
	AnalyzedAt            time.Time `db:"analyzed_at" json:"analyzedAt"`
}

// IsCointegrated проверяет период полураспада спреда против рабочего диапазона.
// Флаг Cointegrated в базе — производное этого же правила на момент анализа.
func (p *CorrelatedPair) IsCointegrated() bool {
	return p.HalfLife >= MinHalfLife && p.HalfLife <= MaxHalfLife
}

// StrategyParams представляет параметры стратегии
type StrategyParams struct {
	TradeSizePercent       float64   `db:"trade_size_percent" json:"tradeSizePercent"`
	MaxPositions           int       `db:"max_positions" json:"maxPositions"`
	CorrelationThreshold   float64   `db:"correlation_threshold" json:"correlationThreshold"`
	ZScoreThreshold        float64   `db:"zscore_threshold" json:"zScoreThreshold"`
	MaxPortfolioAllocation float64   `db:"max_portfolio_allocation" json:"maxPortfolioAllocation"`
	UpdatedAt              time.Time `db:"updated_at" json:"updatedAt"`
}

// AccountMetrics представляет снапшот метрик счета для аналитики
type AccountMetrics struct {
	ID              int64     `db:"id" json:"id"`
	Balance         float64   `db:"balance" json:"balance"`
	AvailableMargin float64   `db:"available_margin" json:"availableMargin"`
	MarginUsed      float64   `db:"margin_used" json:"marginUsed"`
	UnrealizedPnL   float64   `db:"unrealized_pnl" json:"unrealizedPnl"`
	DailyPnL        float64   `db:"daily_pnl" json:"dailyPnl"`
	OpenPositions   int       `db:"open_positions" json:"openPositions"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// Candle представляет свечу исторических данных
type Candle struct {
	Symbol   string    `json:"symbol"`
	OpenTime time.Time `json:"openTime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// BotEvent представляет событие в журнале бота
type BotEvent struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Data      string    `db:"data" json:"data"` // JSON
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// APIError представляет запись об исчерпанных ретраях вызова биржи
type APIError struct {
	ID        int64     `db:"id" json:"id"`
	Operation string    `db:"operation" json:"operation"`
	Message   string    `db:"message" json:"message"`
	Attempts  int       `db:"attempts" json:"attempts"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

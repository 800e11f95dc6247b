package domain

import "time"

// TradeRepository определяет интерфейс для работы со сделками леджера
type TradeRepository interface {
	Create(trade *Trade) error
	Update(trade *Trade) error
	GetByID(id string) (*Trade, error)
	GetActive() ([]Trade, error)
	GetPending() ([]Trade, error)
	GetRecent(limit int) ([]Trade, error)
}

// CorrelatedPairRepository определяет интерфейс для работы с парами
type CorrelatedPairRepository interface {
	Upsert(pair *CorrelatedPair) error
	Get(pairA, pairB string) (*CorrelatedPair, error)
	GetAll() ([]CorrelatedPair, error)
	GetCointegrated() ([]CorrelatedPair, error)
}

// StrategyParamsRepository определяет интерфейс для параметров стратегии
type StrategyParamsRepository interface {
	Get() (*StrategyParams, error)
	Save(params *StrategyParams) error
}

// EventRepository определяет интерфейс журнала событий бота
type EventRepository interface {
	Log(name string, data map[string]interface{}) error
	GetRecent(limit int) ([]BotEvent, error)
}

// APIErrorRepository определяет интерфейс журнала ошибок API биржи
type APIErrorRepository interface {
	Save(operation, message string, attempts int) error
	GetRecent(limit int) ([]APIError, error)
}

// AccountMetricsRepository определяет интерфейс для снапшотов метрик счета
type AccountMetricsRepository interface {
	Save(metrics *AccountMetrics) error
	GetFirstOfDay(day time.Time) (*AccountMetrics, error)
	GetRecent(limit int) ([]AccountMetrics, error)
}

// Package strategy реализует парный арбитраж: поиск возможностей по
// Z-score спреда, балансировку долларовых размеров ног и атомарное
// открытие двух ног с откатом при сбое.
package strategy

import (
	"context"

	"github.com/kirillm/statarb-bot/internal/domain"
	"github.com/kirillm/statarb-bot/internal/exchange"
	"github.com/kirillm/statarb-bot/internal/ledger"
)

// Executor — прямой доступ к движку исполнения для проверок
// безопасности и аварийного отката
type Executor interface {
	ClosePosition(ctx context.Context, symbol string) (*exchange.CloseResult, error)
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetAccountState(ctx context.Context) *domain.AccountState
}

// TradeLedger — реестр сделок: плановые открытия и закрытия идут
// только через него
type TradeLedger interface {
	Open(ctx context.Context, req ledger.OpenRequest) (*domain.Trade, error)
	Close(ctx context.Context, tradeID, reason string) (bool, error)
	FindActiveBySymbol(symbol string) (*domain.Trade, error)
}

// Store — чтение пар, параметров и сделок плюс журнал событий
type Store interface {
	GetAllPairs() ([]domain.CorrelatedPair, error)
	GetStrategyParams() (*domain.StrategyParams, error)
	GetActiveTrades() ([]domain.Trade, error)
	GetPendingTrades() ([]domain.Trade, error)
	LogEvent(name string, data map[string]interface{}) error
}

// PriceSource — текущие цены для Z-score и размеров
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Incrementer — шаг размера по символу
type Incrementer interface {
	SizeIncrement(symbol string) float64
}

// Pauser — аварийная пауза торговли
type Pauser interface {
	IsActive() bool
	Activate(reason string)
}

// Opportunity — торговая возможность по коинтегрированной паре
type Opportunity struct {
	Pair      domain.CorrelatedPair
	Direction string // domain.DirectionLongSpread | domain.DirectionShortSpread
	ZScore    float64
	PriceA    float64
	PriceB    float64
}

// SideA возвращает сторону ноги A: спред продаем — A покупаем
func (o *Opportunity) SideA() string {
	if o.Direction == domain.DirectionShortSpread {
		return domain.SideLong
	}
	return domain.SideShort
}

// SideB возвращает сторону ноги B: спред продаем — B продаем
func (o *Opportunity) SideB() string {
	if o.Direction == domain.DirectionShortSpread {
		return domain.SideShort
	}
	return domain.SideLong
}

// LegSizes — согласованные размеры ног равной долларовой стоимости
type LegSizes struct {
	SizeA     float64
	SizeB     float64
	NotionalA float64
	NotionalB float64
}

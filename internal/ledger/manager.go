// Package ledger ведет персистентный реестр сделок: открытие ног,
// идемпотентное закрытие с каскадом на парную ногу, сверку с биржей
// и снапшоты метрик счета.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
	"github.com/kirillm/statarb-bot/internal/exchange"
)

// Executor — операции движка исполнения, нужные леджеру
type Executor interface {
	PlaceMarketOrder(ctx context.Context, symbol string, isBuy bool, size float64) (*exchange.OrderResult, error)
	ClosePosition(ctx context.Context, symbol string) (*exchange.CloseResult, error)
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetAccountState(ctx context.Context) *domain.AccountState
}

// PriceSource — источник текущих цен для переоценки сделок
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Store — персистентность сделок, метрик и журнала событий
type Store interface {
	CreateTrade(trade *domain.Trade) error
	UpdateTrade(trade *domain.Trade) error
	GetTradeByID(id string) (*domain.Trade, error)
	GetActiveTrades() ([]domain.Trade, error)
	SaveAccountMetrics(metrics *domain.AccountMetrics) error
	GetFirstMetricsOfDay(day time.Time) (*domain.AccountMetrics, error)
	LogEvent(name string, data map[string]interface{}) error
}

// OpenRequest — заявка на открытие одной ноги
type OpenRequest struct {
	Symbol      string
	Side        string // domain.SideLong | domain.SideShort
	Size        float64
	Leverage    int
	StopLoss    *float64
	TakeProfit  *float64
	PairSymbol  *string
	Correlation *float64
}

// Ledger — реестр сделок поверх движка исполнения и хранилища
type Ledger struct {
	executor Executor
	prices   PriceSource
	store    Store
	logger   *zap.Logger
}

func NewLedger(executor Executor, prices PriceSource, store Store, logger *zap.Logger) *Ledger {
	return &Ledger{
		executor: executor,
		prices:   prices,
		store:    store,
		logger:   logger,
	}
}

// Open открывает сделку: сначала pending запись в базе, затем ордер,
// затем запись переводится в open с фактической ценой исполнения.
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (*domain.Trade, error) {
	if req.Side != domain.SideLong && req.Side != domain.SideShort {
		return nil, fmt.Errorf("%w: side %q", domain.ErrInvalidInput, req.Side)
	}
	if req.Size <= 0 {
		return nil, fmt.Errorf("%w: size %.8f", domain.ErrInvalidInput, req.Size)
	}

	trade := &domain.Trade{
		ID:              uuid.NewString(),
		Symbol:          domain.NormalizeSymbol(req.Symbol),
		Side:            req.Side,
		Size:            req.Size,
		Leverage:        req.Leverage,
		Status:          domain.StatusPending,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		PairSymbol:      req.PairSymbol,
		PairCorrelation: req.Correlation,
		OpenedAt:        time.Now().UTC(),
	}
	if err := l.store.CreateTrade(trade); err != nil {
		return nil, fmt.Errorf("failed to create pending trade: %w", err)
	}

	// Сторона переводится в buy/sell только на границе исполнения
	result, err := l.executor.PlaceMarketOrder(ctx, trade.Symbol, req.Side == domain.SideLong, req.Size)
	if err != nil {
		trade.Status = domain.StatusFailed
		if uerr := l.store.UpdateTrade(trade); uerr != nil {
			l.logger.Error("Не удалось пометить сделку failed",
				zap.String("trade_id", trade.ID), zap.Error(uerr))
		}
		l.logEvent(domain.EventTradeFailed, map[string]interface{}{
			"trade_id": trade.ID,
			"symbol":   trade.Symbol,
			"side":     trade.Side,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("failed to open %s %s: %w", trade.Side, trade.Symbol, err)
	}

	trade.Status = domain.StatusOpen
	trade.Size = result.Size
	trade.EntryPrice = result.AvgPrice
	trade.CurrentPrice = result.AvgPrice
	if err := l.store.UpdateTrade(trade); err != nil {
		// Позиция уже живая: сообщаем наверх, вызывающий решает про откат
		l.logger.Error("🛑 Сделка исполнена, но не записана в базу",
			zap.String("trade_id", trade.ID),
			zap.String("symbol", trade.Symbol),
			zap.Error(err))
		l.logEvent(domain.EventTradeFailed, map[string]interface{}{
			"trade_id": trade.ID,
			"symbol":   trade.Symbol,
			"stage":    "persist_after_fill",
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("trade %s filled but not persisted: %w", trade.ID, err)
	}

	l.logEvent(domain.EventTradeOpened, map[string]interface{}{
		"trade_id":    trade.ID,
		"symbol":      trade.Symbol,
		"side":        trade.Side,
		"size":        trade.Size,
		"entry_price": trade.EntryPrice,
		"attempt":     result.Attempt,
		"resting":     result.Resting,
	})
	l.logger.Info("✅ Сделка открыта",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", trade.Side),
		zap.Float64("size", trade.Size),
		zap.Float64("entry_price", trade.EntryPrice))
	return trade, nil
}

// Close закрывает сделку по ID. Идемпотентно: отсутствующая или уже
// закрытая сделка возвращает false без единого вызова биржи.
// Парная нога закрывается каскадом с суффиксом причины, один уровень.
func (l *Ledger) Close(ctx context.Context, tradeID, reason string) (bool, error) {
	trade, err := l.store.GetTradeByID(tradeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load trade %s: %w", tradeID, err)
	}
	if trade.Status == domain.StatusClosed || trade.Status == domain.StatusFailed {
		return false, nil
	}

	// PnL снимаем с биржи до закрытия, пока позиция еще видна
	var pnl *float64
	if pos, perr := l.executor.GetPosition(ctx, trade.Symbol); perr != nil {
		l.logger.Warn("Не удалось снять PnL перед закрытием",
			zap.String("symbol", trade.Symbol), zap.Error(perr))
	} else if pos != nil && !pos.IsFlat() {
		v := pos.UnrealizedPnL
		pnl = &v
	}

	result, err := l.executor.ClosePosition(ctx, trade.Symbol)
	if err != nil {
		return false, fmt.Errorf("failed to close %s: %w", trade.Symbol, err)
	}

	now := time.Now().UTC()
	trade.Status = domain.StatusClosed
	trade.ClosedAt = &now
	trade.CloseReason = &reason
	trade.PnL = pnl
	if err := l.store.UpdateTrade(trade); err != nil {
		return true, fmt.Errorf("position closed but trade %s not persisted: %w", tradeID, err)
	}

	l.logEvent(domain.EventTradeClosed, map[string]interface{}{
		"trade_id":    trade.ID,
		"symbol":      trade.Symbol,
		"reason":      reason,
		"pnl":         trade.PnL,
		"no_position": result.NoPosition,
	})
	l.logger.Info("Сделка закрыта",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("reason", reason))

	l.closePairLeg(ctx, trade, reason)
	return true, nil
}

// closePairLeg каскадно закрывает парную ногу. Ошибки вторичного
// закрытия попадают в журнал, но не наружу.
func (l *Ledger) closePairLeg(ctx context.Context, trade *domain.Trade, reason string) {
	if !trade.HasPair() || strings.HasSuffix(reason, domain.PairCloseSuffix) {
		return
	}

	pairTrade, err := l.findActiveBySymbol(*trade.PairSymbol)
	if err != nil {
		l.logger.Warn("Не удалось найти парную ногу",
			zap.String("pair_symbol", *trade.PairSymbol), zap.Error(err))
		return
	}
	if pairTrade == nil {
		return
	}

	closed, err := l.Close(ctx, pairTrade.ID, reason+domain.PairCloseSuffix)
	if err != nil {
		l.logger.Error("⚠️ Парная нога не закрылась",
			zap.String("trade_id", pairTrade.ID),
			zap.String("symbol", pairTrade.Symbol),
			zap.Error(err))
		l.logEvent(domain.EventPairCloseFailed, map[string]interface{}{
			"trade_id": pairTrade.ID,
			"symbol":   pairTrade.Symbol,
			"reason":   reason + domain.PairCloseSuffix,
			"error":    err.Error(),
		})
		return
	}
	if closed {
		l.logger.Info("Парная нога закрыта каскадом",
			zap.String("trade_id", pairTrade.ID),
			zap.String("symbol", pairTrade.Symbol))
	}
}

// FindActiveBySymbol возвращает открытую сделку по символу, nil если нет
func (l *Ledger) FindActiveBySymbol(symbol string) (*domain.Trade, error) {
	return l.findActiveBySymbol(domain.NormalizeSymbol(symbol))
}

func (l *Ledger) findActiveBySymbol(symbol string) (*domain.Trade, error) {
	trades, err := l.store.GetActiveTrades()
	if err != nil {
		return nil, fmt.Errorf("failed to load active trades: %w", err)
	}
	for i := range trades {
		if trades[i].Symbol == symbol {
			return &trades[i], nil
		}
	}
	return nil, nil
}

func (l *Ledger) logEvent(name string, data map[string]interface{}) {
	if err := l.store.LogEvent(name, data); err != nil {
		l.logger.Warn("Событие не записано в журнал", zap.String("event", name), zap.Error(err))
	}
}

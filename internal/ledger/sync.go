package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
	"github.com/kirillm/statarb-bot/internal/monitoring"
)

// UpdateAll прогоняет цикл обновления сделок: сверяет каждую открытую
// сделку с живой позицией, переоценивает PnL, срабатывает SL/TP и в
// конце пишет снапшот метрик счета. Ошибки по отдельным сделкам
// логируются и не валят цикл.
func (l *Ledger) UpdateAll(ctx context.Context) error {
	trades, err := l.store.GetActiveTrades()
	if err != nil {
		return fmt.Errorf("failed to load active trades: %w", err)
	}

	openCount := 0
	var unrealized float64
	for i := range trades {
		// Каскадное закрытие внутри цикла могло уже закрыть эту сделку,
		// работаем только со свежей копией
		trade, err := l.store.GetTradeByID(trades[i].ID)
		if err != nil {
			l.logger.Warn("Не удалось перечитать сделку",
				zap.String("trade_id", trades[i].ID), zap.Error(err))
			continue
		}
		if !trade.IsOpen() {
			continue
		}

		pos, err := l.executor.GetPosition(ctx, trade.Symbol)
		if err != nil {
			l.logger.Warn("Позиция недоступна, сделка пропущена",
				zap.String("symbol", trade.Symbol), zap.Error(err))
			openCount++
			continue
		}

		if pos == nil || pos.IsFlat() {
			// Позицию закрыли мимо бота: фиксируем без вызова биржи
			l.forceCloseExternal(trade)
			continue
		}

		price, perr := l.prices.GetPrice(ctx, trade.Symbol)
		if perr != nil {
			l.logger.Debug("Нет свежей цены для переоценки",
				zap.String("symbol", trade.Symbol), zap.Error(perr))
			price = trade.CurrentPrice
		}
		trade.CurrentPrice = price
		trade.UnrealizedPnL = pos.UnrealizedPnL
		if err := l.store.UpdateTrade(trade); err != nil {
			l.logger.Warn("Не удалось обновить сделку",
				zap.String("trade_id", trade.ID), zap.Error(err))
		}

		if reason := l.triggeredExit(trade, price); reason != "" {
			l.logger.Info("Сработал защитный уровень",
				zap.String("trade_id", trade.ID),
				zap.String("symbol", trade.Symbol),
				zap.String("reason", reason),
				zap.Float64("price", price))
			if _, err := l.Close(ctx, trade.ID, reason); err != nil {
				l.logger.Error("Не удалось закрыть по защитному уровню",
					zap.String("trade_id", trade.ID), zap.Error(err))
				openCount++
				unrealized += pos.UnrealizedPnL
			}
			continue
		}

		openCount++
		unrealized += pos.UnrealizedPnL
	}

	l.persistMetrics(ctx, openCount, unrealized)
	return nil
}

// triggeredExit возвращает причину закрытия, если цена пробила SL/TP.
// Для шорта уровни зеркальны.
func (l *Ledger) triggeredExit(trade *domain.Trade, price float64) string {
	if price <= 0 {
		return ""
	}
	long := trade.Side == domain.SideLong

	if trade.StopLoss != nil {
		if long && price <= *trade.StopLoss {
			return domain.CloseReasonStopLoss
		}
		if !long && price >= *trade.StopLoss {
			return domain.CloseReasonStopLoss
		}
	}
	if trade.TakeProfit != nil {
		if long && price >= *trade.TakeProfit {
			return domain.CloseReasonTakeProfit
		}
		if !long && price <= *trade.TakeProfit {
			return domain.CloseReasonTakeProfit
		}
	}
	return ""
}

// forceCloseExternal закрывает сделку в учете без вызова биржи
func (l *Ledger) forceCloseExternal(trade *domain.Trade) {
	now := time.Now().UTC()
	reason := domain.CloseReasonExternal
	lastPnL := trade.UnrealizedPnL

	trade.Status = domain.StatusClosed
	trade.ClosedAt = &now
	trade.CloseReason = &reason
	trade.PnL = &lastPnL
	if err := l.store.UpdateTrade(trade); err != nil {
		l.logger.Error("Не удалось зафиксировать внешнее закрытие",
			zap.String("trade_id", trade.ID), zap.Error(err))
		return
	}

	l.logEvent(domain.EventTradeClosed, map[string]interface{}{
		"trade_id": trade.ID,
		"symbol":   trade.Symbol,
		"reason":   reason,
	})
	l.logger.Warn("⚠️ Позиция закрыта вне бота",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol))
}

// persistMetrics пишет снапшот метрик счета и обновляет gauges
func (l *Ledger) persistMetrics(ctx context.Context, openCount int, unrealized float64) {
	state := l.executor.GetAccountState(ctx)
	if state.AccountValue == 0 && state.AvailableMargin == 0 && state.TotalMarginUsed == 0 {
		// Счет деградировал к нулям: такой снапшот испортит дневной PnL
		monitoring.SetOpenPositions(openCount)
		return
	}

	now := time.Now().UTC()
	dailyPnL := 0.0
	first, err := l.store.GetFirstMetricsOfDay(now)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			l.logger.Warn("Не удалось прочитать первый снапшот дня", zap.Error(err))
		}
	} else if first != nil {
		dailyPnL = state.AccountValue - first.Balance
	}

	metrics := &domain.AccountMetrics{
		Balance:         state.AccountValue,
		AvailableMargin: state.AvailableMargin,
		MarginUsed:      state.TotalMarginUsed,
		UnrealizedPnL:   unrealized,
		DailyPnL:        dailyPnL,
		OpenPositions:   openCount,
		CreatedAt:       now,
	}
	if err := l.store.SaveAccountMetrics(metrics); err != nil {
		l.logger.Warn("Не удалось сохранить метрики счета", zap.Error(err))
	}

	monitoring.SetOpenPositions(openCount)
	monitoring.SetAccountEquity(state.AccountValue)
}

// SyncPositions сверяет леджер с биржей, биржа — источник истины.
// Чужие позиции принимаются в учет, потерянные закрываются как внешние,
// расхождение размеров фиксируется в журнале.
func (l *Ledger) SyncPositions(ctx context.Context) error {
	positions, err := l.executor.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to read exchange positions: %w", err)
	}
	trades, err := l.store.GetActiveTrades()
	if err != nil {
		return fmt.Errorf("failed to load active trades: %w", err)
	}

	bySymbol := make(map[string]*domain.Position, len(positions))
	for i := range positions {
		if positions[i].IsFlat() {
			continue
		}
		bySymbol[positions[i].Symbol] = &positions[i]
	}

	tracked := make(map[string]*domain.Trade, len(trades))
	for i := range trades {
		tracked[trades[i].Symbol] = &trades[i]
	}

	for symbol, pos := range bySymbol {
		trade, known := tracked[symbol]
		if !known {
			l.adoptPosition(pos)
			continue
		}
		drift := math.Abs(math.Abs(pos.Size) - trade.Size)
		if drift > domain.DustSize {
			old := trade.Size
			trade.Size = math.Abs(pos.Size)
			if err := l.store.UpdateTrade(trade); err != nil {
				l.logger.Warn("Не удалось обновить размер сделки",
					zap.String("trade_id", trade.ID), zap.Error(err))
				continue
			}
			l.logEvent(domain.EventSizeDrift, map[string]interface{}{
				"trade_id": trade.ID,
				"symbol":   symbol,
				"old_size": old,
				"new_size": trade.Size,
			})
		}
	}

	for symbol, trade := range tracked {
		if _, live := bySymbol[symbol]; live {
			continue
		}
		if _, err := l.Close(ctx, trade.ID, domain.CloseReasonExternal); err != nil {
			l.logger.Warn("Не удалось закрыть потерянную сделку",
				zap.String("trade_id", trade.ID), zap.Error(err))
		}
	}

	return nil
}

// adoptPosition заводит открытую сделку по чужой позиции с биржи
func (l *Ledger) adoptPosition(pos *domain.Position) {
	side := domain.SideLong
	if pos.Size < 0 {
		side = domain.SideShort
	}

	trade := &domain.Trade{
		ID:            uuid.NewString(),
		Symbol:        pos.Symbol,
		Side:          side,
		Size:          math.Abs(pos.Size),
		Leverage:      pos.Leverage,
		EntryPrice:    pos.EntryPrice,
		CurrentPrice:  pos.EntryPrice,
		Status:        domain.StatusOpen,
		UnrealizedPnL: pos.UnrealizedPnL,
		OpenedAt:      time.Now().UTC(),
	}
	if err := l.store.CreateTrade(trade); err != nil {
		l.logger.Error("Не удалось принять позицию в учет",
			zap.String("symbol", pos.Symbol), zap.Error(err))
		return
	}

	l.logEvent(domain.EventPositionAdopted, map[string]interface{}{
		"trade_id": trade.ID,
		"symbol":   trade.Symbol,
		"side":     trade.Side,
		"size":     trade.Size,
	})
	l.logger.Warn("⚠️ Принята внешняя позиция",
		zap.String("symbol", trade.Symbol),
		zap.String("side", side),
		zap.Float64("size", trade.Size))
}

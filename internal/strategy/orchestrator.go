package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
	"github.com/kirillm/statarb-bot/internal/exchange"
	"github.com/kirillm/statarb-bot/internal/ledger"
	"github.com/kirillm/statarb-bot/internal/monitoring"
)

const (
	// legRetryAttempts — попытки открытия одной ноги
	legRetryAttempts = 3
	// legRetryWait — базовая пауза между попытками, растет с номером
	legRetryWait = 2 * time.Second
	// perturbFraction — случайное возмущение размера при нехватке ликвидности
	perturbFraction = 0.02
)

// PairOrchestrator управляет жизненным циклом парных сделок:
// проверка баланса ног, отбор возможностей, размер, двухногая сага.
type PairOrchestrator struct {
	executor   Executor
	ledger     TradeLedger
	store      Store
	prices     PriceSource
	increments Incrementer
	pause      Pauser
	notify     func(string)
	leverage   int
	logger     *zap.Logger

	// подменяются в тестах
	sleep func(ctx context.Context, d time.Duration) error
	rng   func() float64
}

func NewPairOrchestrator(
	executor Executor,
	tradeLedger TradeLedger,
	store Store,
	prices PriceSource,
	increments Incrementer,
	pause Pauser,
	notify func(string),
	leverage int,
	logger *zap.Logger,
) *PairOrchestrator {
	return &PairOrchestrator{
		executor:   executor,
		ledger:     tradeLedger,
		store:      store,
		prices:     prices,
		increments: increments,
		pause:      pause,
		notify:     notify,
		leverage:   leverage,
		logger:     logger,
		sleep:      sleepCtx,
		rng:        rand.Float64,
	}
}

// RunOpportunityCheck — один цикл поиска и открытия парных сделок.
// Первая успешно открытая пара завершает цикл: следующие возможности
// ждут пересчета статистики.
func (o *PairOrchestrator) RunOpportunityCheck(ctx context.Context) error {
	if o.pause.IsActive() {
		o.logger.Info("Торговля на паузе, цикл открытий пропущен")
		return domain.ErrTradingPaused
	}

	balanced, err := o.checkPositionBalance(ctx)
	if err != nil {
		return fmt.Errorf("safety check failed: %w", err)
	}
	if !balanced {
		return nil
	}

	params, err := o.store.GetStrategyParams()
	if err != nil {
		return fmt.Errorf("failed to load strategy params: %w", err)
	}

	opportunities, err := o.findOpportunities(ctx, params)
	if err != nil {
		return err
	}

	for i := range opportunities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		opp := &opportunities[i]

		reason, err := o.validatePairTrade(ctx, opp, params)
		if err != nil {
			o.logger.Warn("Проверка пары сорвалась",
				zap.String("pair_a", opp.Pair.PairA),
				zap.String("pair_b", opp.Pair.PairB),
				zap.Error(err))
			continue
		}
		if reason != domain.ReasonOK {
			o.logger.Debug("Пара не прошла проверку",
				zap.String("pair_a", opp.Pair.PairA),
				zap.String("pair_b", opp.Pair.PairB),
				zap.String("reason", reason))
			continue
		}

		sizes, sizeReason := o.calculatePositionSizes(ctx, opp, params)
		if sizeReason != "" {
			o.logger.Debug("Пара отклонена на этапе размера",
				zap.String("pair_a", opp.Pair.PairA),
				zap.String("pair_b", opp.Pair.PairB),
				zap.String("reason", sizeReason))
			continue
		}

		if err := o.executePairTrade(ctx, opp, sizes); err != nil {
			monitoring.IncPairTrade("failed")
			o.logger.Warn("Парная сделка не открылась",
				zap.String("pair_a", opp.Pair.PairA),
				zap.String("pair_b", opp.Pair.PairB),
				zap.Error(err))
			continue
		}

		monitoring.IncPairTrade("success")
		break
	}
	return nil
}

// checkPositionBalance — проверка безопасности перед открытиями.
// Число длинных и коротких ног должно совпадать; любой дисбаланс
// блокирует открытия в этом цикле.
func (o *PairOrchestrator) checkPositionBalance(ctx context.Context) (bool, error) {
	positions, err := o.executor.GetPositions(ctx)
	if err != nil {
		// Деградировать к нулю нельзя: пустой список выглядит как баланс
		return false, fmt.Errorf("failed to read positions: %w", err)
	}

	var longs, shorts []domain.Position
	for i := range positions {
		switch {
		case positions[i].IsLong():
			longs = append(longs, positions[i])
		case positions[i].IsShort():
			shorts = append(shorts, positions[i])
		}
	}
	if len(longs) == len(shorts) {
		return true, nil
	}

	excess := longs
	diff := len(longs) - len(shorts)
	if diff < 0 {
		excess = shorts
		diff = -diff
	}
	o.logger.Warn("⚠️ Дисбаланс ног",
		zap.Int("longs", len(longs)),
		zap.Int("shorts", len(shorts)))

	if diff == 1 && o.correctImbalance(ctx, excess) {
		return false, nil
	}

	o.logEvent(domain.EventImbalanceUnresolved, map[string]interface{}{
		"longs":  len(longs),
		"shorts": len(shorts),
	})
	o.notifyf("🚨 Дисбаланс позиций не устранен: long %d / short %d. Торговля остановлена.",
		len(longs), len(shorts))
	o.pause.Activate("position imbalance unresolved")
	return false, nil
}

// correctImbalance закрывает лишнюю ногу при дисбалансе ровно в одну
// позицию. Жертва — самая свежая нога избыточной стороны, у которой
// нет живого парного партнера.
func (o *PairOrchestrator) correctImbalance(ctx context.Context, excess []domain.Position) bool {
	var victim *domain.Trade
	var orphan *domain.Position

	for i := range excess {
		trade, err := o.ledger.FindActiveBySymbol(excess[i].Symbol)
		if err != nil {
			o.logger.Warn("Не удалось сопоставить позицию с леджером",
				zap.String("symbol", excess[i].Symbol), zap.Error(err))
			continue
		}
		if trade == nil {
			if orphan == nil {
				orphan = &excess[i]
			}
			continue
		}
		if trade.HasPair() {
			partner, perr := o.ledger.FindActiveBySymbol(*trade.PairSymbol)
			if perr == nil && partner != nil {
				// Пара целая, эту ногу не трогаем
				continue
			}
		}
		if victim == nil || trade.OpenedAt.After(victim.OpenedAt) {
			victim = trade
		}
	}

	switch {
	case victim != nil:
		closed, err := o.ledger.Close(ctx, victim.ID, domain.CloseReasonImbalance)
		if err != nil || !closed {
			o.logger.Error("Автокоррекция дисбаланса не прошла",
				zap.String("trade_id", victim.ID), zap.Error(err))
			return false
		}
		o.logEvent(domain.EventImbalanceCorrected, map[string]interface{}{
			"trade_id": victim.ID,
			"symbol":   victim.Symbol,
		})
		o.logger.Info("Дисбаланс устранен закрытием ноги",
			zap.String("symbol", victim.Symbol))
		return true
	case orphan != nil:
		if _, err := o.executor.ClosePosition(ctx, orphan.Symbol); err != nil {
			o.logger.Error("Автокоррекция дисбаланса не прошла",
				zap.String("symbol", orphan.Symbol), zap.Error(err))
			return false
		}
		o.logEvent(domain.EventImbalanceCorrected, map[string]interface{}{
			"symbol": orphan.Symbol,
			"direct": true,
		})
		o.logger.Info("Дисбаланс устранен закрытием внешней позиции",
			zap.String("symbol", orphan.Symbol))
		return true
	default:
		return false
	}
}

// executePairTrade открывает обе ноги как сагу: нога A, нога B,
// проверка по бирже. Любой сбой после ноги A заканчивается откатом,
// повисшая одиночная нога недопустима.
func (o *PairOrchestrator) executePairTrade(ctx context.Context, opp *Opportunity, sizes *LegSizes) error {
	symA, symB := opp.Pair.PairA, opp.Pair.PairB

	o.sagaTransition("leg_a_opening", opp, nil, nil)
	legA, err := o.openLegWithRetry(ctx, symA, opp.SideA(), sizes.SizeA, symB, opp.Pair.Correlation)
	if err != nil {
		o.logEvent(domain.EventPairLegAFailed, map[string]interface{}{
			"pair_a": symA,
			"pair_b": symB,
			"error":  err.Error(),
		})
		o.sagaTransition("aborted", opp, nil, nil)
		return fmt.Errorf("leg A %s: %w", symA, err)
	}
	o.sagaTransition("leg_a_open", opp, legA, nil)

	legB, err := o.openLegWithRetry(ctx, symB, opp.SideB(), sizes.SizeB, symA, opp.Pair.Correlation)
	if err != nil {
		o.logEvent(domain.EventPairLegBFailed, map[string]interface{}{
			"pair_a": symA,
			"pair_b": symB,
			"error":  err.Error(),
		})
		o.rollbackLeg(ctx, legA)
		o.sagaTransition("rolled_back", opp, legA, nil)
		return fmt.Errorf("leg B %s: %w", symB, err)
	}
	o.sagaTransition("leg_b_open", opp, legA, legB)

	if err := o.verifyPairLive(ctx, symA, symB); err != nil {
		o.logEvent(domain.EventVerificationFailed, map[string]interface{}{
			"pair_a": symA,
			"pair_b": symB,
			"error":  err.Error(),
		})
		// Закрытие ноги B каскадом заденет и A, вторая команда
		// подчистит остаток при прямом откате
		o.rollbackLeg(ctx, legB)
		o.rollbackLeg(ctx, legA)
		o.sagaTransition("rolled_back", opp, legA, legB)
		return fmt.Errorf("pair verification %s/%s: %w", symA, symB, err)
	}

	o.sagaTransition("complete", opp, legA, legB)
	o.logEvent(domain.EventPairTradeOpened, map[string]interface{}{
		"pair_a":     symA,
		"pair_b":     symB,
		"direction":  opp.Direction,
		"zscore":     opp.ZScore,
		"notional_a": sizes.NotionalA,
		"notional_b": sizes.NotionalB,
	})
	o.logger.Info("✅ Пара открыта",
		zap.String("pair_a", symA),
		zap.String("pair_b", symB),
		zap.String("direction", opp.Direction),
		zap.Float64("zscore", opp.ZScore))
	o.notifyf("🔗 Пара открыта: %s %s / %s %s (Z=%.2f)",
		opp.SideA(), symA, opp.SideB(), symB, opp.ZScore)
	return nil
}

// openLegWithRetry открывает одну ногу с повторами. Пауза растет с
// номером попытки; при нехватке ликвидности размер слегка возмущается,
// чтобы не упираться в тот же уровень книги.
func (o *PairOrchestrator) openLegWithRetry(ctx context.Context, symbol, side string, size float64, pairSymbol string, correlation float64) (*domain.Trade, error) {
	attemptSize := size
	var lastErr error

	for attempt := 1; attempt <= legRetryAttempts; attempt++ {
		trade, err := o.ledger.Open(ctx, ledger.OpenRequest{
			Symbol:      symbol,
			Side:        side,
			Size:        attemptSize,
			Leverage:    o.leverage,
			PairSymbol:  &pairSymbol,
			Correlation: &correlation,
		})
		if err == nil {
			return trade, nil
		}
		lastErr = err
		o.logger.Warn("Нога не открылась",
			zap.String("symbol", symbol),
			zap.String("side", side),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if errors.Is(err, domain.ErrNoImmediateMatch) {
			attemptSize = o.perturbSize(attemptSize, symbol)
		}
		if attempt < legRetryAttempts {
			if serr := o.sleep(ctx, time.Duration(attempt)*legRetryWait); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, lastErr
}

// perturbSize возмущает размер случайным фактором в пределах ±2%
func (o *PairOrchestrator) perturbSize(size float64, symbol string) float64 {
	factor := 1 + (o.rng()*2-1)*perturbFraction
	perturbed := exchange.QuantizeSize(size*factor, o.increments.SizeIncrement(symbol))
	if perturbed <= 0 {
		return size
	}
	return perturbed
}

// rollbackLeg откатывает открытую ногу. Сначала через леджер, при
// отказе — напрямую через движок; если не вышло и так, активируется
// аварийная пауза. Молча бросить ногу нельзя.
func (o *PairOrchestrator) rollbackLeg(ctx context.Context, trade *domain.Trade) {
	closed, err := o.ledger.Close(ctx, trade.ID, domain.CloseReasonRollback)
	if err == nil {
		if closed {
			o.logEvent(domain.EventRollbackOK, map[string]interface{}{
				"trade_id": trade.ID,
				"symbol":   trade.Symbol,
			})
		}
		return
	}

	o.logger.Error("Откат через леджер не прошел, закрываем напрямую",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.Error(err))
	if _, derr := o.executor.ClosePosition(ctx, trade.Symbol); derr != nil {
		o.logEvent(domain.EventRollbackFailed, map[string]interface{}{
			"trade_id": trade.ID,
			"symbol":   trade.Symbol,
			"error":    derr.Error(),
		})
		o.notifyf("🚨 КРИТИЧНО: откат ноги %s не удался, позиция повисла. Торговля остановлена.", trade.Symbol)
		o.pause.Activate("rollback failed: " + trade.Symbol)
		return
	}

	// Позиция закрыта напрямую, запись в леджере подберет SyncPositions
	o.logEvent(domain.EventRollbackOK, map[string]interface{}{
		"trade_id": trade.ID,
		"symbol":   trade.Symbol,
		"direct":   true,
	})
}

// verifyPairLive проверяет по бирже, что обе ноги реально живые
func (o *PairOrchestrator) verifyPairLive(ctx context.Context, symA, symB string) error {
	for _, symbol := range []string{symA, symB} {
		pos, err := o.executor.GetPosition(ctx, symbol)
		if err != nil {
			return fmt.Errorf("failed to verify %s: %w", symbol, err)
		}
		if pos == nil || pos.IsFlat() {
			return fmt.Errorf("%w: %s shows no live position", domain.ErrVerificationFailed, symbol)
		}
	}
	return nil
}

func (o *PairOrchestrator) sagaTransition(state string, opp *Opportunity, legA, legB *domain.Trade) {
	data := map[string]interface{}{
		"state":     state,
		"pair_a":    opp.Pair.PairA,
		"pair_b":    opp.Pair.PairB,
		"direction": opp.Direction,
		"zscore":    opp.ZScore,
	}
	if legA != nil {
		data["leg_a_trade"] = legA.ID
	}
	if legB != nil {
		data["leg_b_trade"] = legB.ID
	}
	o.logEvent(domain.EventPairSagaState, data)
}

func (o *PairOrchestrator) logEvent(name string, data map[string]interface{}) {
	if err := o.store.LogEvent(name, data); err != nil {
		o.logger.Warn("Событие не записано в журнал",
			zap.String("event", name), zap.Error(err))
	}
}

func (o *PairOrchestrator) notifyf(format string, args ...interface{}) {
	if o.notify == nil {
		return
	}
	o.notify(fmt.Sprintf(format, args...))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

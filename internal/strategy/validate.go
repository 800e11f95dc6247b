package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// validatePairTrade проверяет, можно ли открывать пару. Возвращает код
// причины, а не ошибку: единственная настоящая ошибка — сбой чтения
// цены или позиций, его глушить нельзя.
func (o *PairOrchestrator) validatePairTrade(ctx context.Context, opp *Opportunity, params *domain.StrategyParams) (string, error) {
	symA, symB := opp.Pair.PairA, opp.Pair.PairB

	posA, err := o.executor.GetPosition(ctx, symA)
	if err != nil {
		return "", fmt.Errorf("failed to read position %s: %w", symA, err)
	}
	posB, err := o.executor.GetPosition(ctx, symB)
	if err != nil {
		return "", fmt.Errorf("failed to read position %s: %w", symB, err)
	}
	liveA := posA != nil && !posA.IsFlat()
	liveB := posB != nil && !posB.IsFlat()

	// Ровно одна нога с живой позицией — критическая рассинхронизация
	if liveA != liveB {
		return domain.ReasonPairLegMismatch, nil
	}

	active, err := o.store.GetActiveTrades()
	if err != nil {
		return "", fmt.Errorf("failed to load active trades: %w", err)
	}
	activeBySymbol := make(map[string]bool, len(active))
	for i := range active {
		activeBySymbol[active[i].Symbol] = true
	}

	// Биржа и леджер должны сходиться по каждой ноге
	if liveA != activeBySymbol[symA] || liveB != activeBySymbol[symB] {
		return domain.ReasonLedgerDrift, nil
	}

	if activeBySymbol[symA] || activeBySymbol[symB] {
		return domain.ReasonSymbolActive, nil
	}

	pending, err := o.store.GetPendingTrades()
	if err != nil {
		return "", fmt.Errorf("failed to load pending trades: %w", err)
	}
	for i := range pending {
		if pending[i].Symbol == symA || pending[i].Symbol == symB {
			return domain.ReasonSymbolPending, nil
		}
	}

	// Обе будущие ноги должны уместиться в лимит позиций
	if len(active)+2 > params.MaxPositions {
		return domain.ReasonMaxPositions, nil
	}

	if _, err := o.prices.GetPrice(ctx, symA); err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			return domain.ReasonNoPrice, nil
		}
		return "", fmt.Errorf("price lookup %s: %w", symA, err)
	}
	if _, err := o.prices.GetPrice(ctx, symB); err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			return domain.ReasonNoPrice, nil
		}
		return "", fmt.Errorf("price lookup %s: %w", symB, err)
	}

	return domain.ReasonOK, nil
}

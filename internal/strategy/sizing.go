package strategy

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
	"github.com/kirillm/statarb-bot/internal/exchange"
)

// maxLegImbalance — допустимое расхождение долларовой стоимости ног
const maxLegImbalance = 0.05

// balancePasses — максимум шагов балансировки размеров
const balancePasses = 5

// calculatePositionSizes считает размеры ног равной долларовой
// стоимости: бюджет ноги — половина от tradeSizePercent свободной
// маржи. Возвращает код причины при отказе.
func (o *PairOrchestrator) calculatePositionSizes(ctx context.Context, opp *Opportunity, params *domain.StrategyParams) (*LegSizes, string) {
	state := o.executor.GetAccountState(ctx)
	if state.AvailableMargin <= 0 {
		o.logger.Warn("Нет свободной маржи для открытия пары")
		return nil, domain.ReasonSizingFailed
	}

	legBudget := params.TradeSizePercent * state.AvailableMargin / 2
	if legBudget < domain.MinLegNotionalUSD {
		o.logger.Debug("Бюджет ноги меньше минимального ноционала",
			zap.Float64("budget", legBudget))
		return nil, domain.ReasonSizingFailed
	}

	tickA := o.increments.SizeIncrement(opp.Pair.PairA)
	tickB := o.increments.SizeIncrement(opp.Pair.PairB)

	sizeA := exchange.QuantizeSize(legBudget/opp.PriceA, tickA)
	sizeB := exchange.QuantizeSize(legBudget/opp.PriceB, tickB)

	// Подтягиваем ногу к минимальному ноционалу целыми шагами
	if sizeA*opp.PriceA < domain.MinLegNotionalUSD {
		sizeA = exchange.QuantizeSizeUp(domain.MinLegNotionalUSD/opp.PriceA, tickA)
	}
	if sizeB*opp.PriceB < domain.MinLegNotionalUSD {
		sizeB = exchange.QuantizeSizeUp(domain.MinLegNotionalUSD/opp.PriceB, tickB)
	}

	// Балансировка: сжимаем большую ногу на шаг, а если шаг пробил бы
	// минимальный ноционал — растим меньшую. Шаги считаем через decimal,
	// чтобы размер не съезжал с сетки инкремента.
	for pass := 0; pass < balancePasses; pass++ {
		nA := sizeA * opp.PriceA
		nB := sizeB * opp.PriceB
		larger := math.Max(nA, nB)
		if larger <= 0 || math.Abs(nA-nB)/larger <= maxLegImbalance {
			break
		}
		if nA > nB {
			if shrunk := stepSize(sizeA, tickA, -1); shrunk*opp.PriceA >= domain.MinLegNotionalUSD {
				sizeA = shrunk
			} else {
				sizeB = stepSize(sizeB, tickB, 1)
			}
		} else {
			if shrunk := stepSize(sizeB, tickB, -1); shrunk*opp.PriceB >= domain.MinLegNotionalUSD {
				sizeB = shrunk
			} else {
				sizeA = stepSize(sizeA, tickA, 1)
			}
		}
	}

	sizes := &LegSizes{
		SizeA:     sizeA,
		SizeB:     sizeB,
		NotionalA: sizeA * opp.PriceA,
		NotionalB: sizeB * opp.PriceB,
	}

	larger := math.Max(sizes.NotionalA, sizes.NotionalB)
	if sizes.NotionalA < domain.MinLegNotionalUSD || sizes.NotionalB < domain.MinLegNotionalUSD ||
		math.Abs(sizes.NotionalA-sizes.NotionalB)/larger > maxLegImbalance {
		o.logger.Warn("Размеры ног не сбалансировались",
			zap.Float64("notional_a", sizes.NotionalA),
			zap.Float64("notional_b", sizes.NotionalB))
		return nil, domain.ReasonSizingFailed
	}

	if reason := o.checkAllocationCap(ctx, state, sizes, params); reason != "" {
		return nil, reason
	}
	return sizes, ""
}

// stepSize сдвигает размер на steps инкрементов без потери точности
func stepSize(size, tick float64, steps int64) float64 {
	out, _ := decimal.NewFromFloat(size).
		Add(decimal.NewFromFloat(tick).Mul(decimal.NewFromInt(steps))).
		Float64()
	return out
}

// checkAllocationCap проверяет долю портфеля: текущий открытый
// ноционал плюс обе новые ноги не должны превышать лимит от стоимости
// счета. Ноционал открытых позиций считается по цене входа.
func (o *PairOrchestrator) checkAllocationCap(ctx context.Context, state *domain.AccountState, sizes *LegSizes, params *domain.StrategyParams) string {
	if state.AccountValue <= 0 {
		return domain.ReasonSizingFailed
	}

	positions, err := o.executor.GetPositions(ctx)
	if err != nil {
		o.logger.Warn("Не удалось прочитать позиции для лимита аллокации", zap.Error(err))
		return domain.ReasonAllocationCap
	}

	openNotional := 0.0
	for i := range positions {
		openNotional += positions[i].Notional(positions[i].EntryPrice)
	}

	total := openNotional + sizes.NotionalA + sizes.NotionalB
	if total > params.MaxPortfolioAllocation*state.AccountValue {
		o.logger.Info("Лимит аллокации портфеля не пускает пару",
			zap.Float64("total", total),
			zap.Float64("cap", params.MaxPortfolioAllocation*state.AccountValue))
		return domain.ReasonAllocationCap
	}
	return ""
}

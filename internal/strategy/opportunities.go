package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/analysis"
	"github.com/kirillm/statarb-bot/internal/domain"
)

// findOpportunities отбирает торгуемые пары и считает живой Z-score
// по сохраненной статистике спреда. Возможности сортируются по |Z|
// по убыванию: самые растянутые спреды первыми.
func (o *PairOrchestrator) findOpportunities(ctx context.Context, params *domain.StrategyParams) ([]Opportunity, error) {
	pairs, err := o.store.GetAllPairs()
	if err != nil {
		return nil, fmt.Errorf("failed to load pairs: %w", err)
	}

	var opportunities []Opportunity
	for _, pair := range pairs {
		if pair.Correlation < domain.MinEligibleCorrelation || !pair.IsCointegrated() {
			continue
		}

		priceA, errA := o.prices.GetPrice(ctx, pair.PairA)
		priceB, errB := o.prices.GetPrice(ctx, pair.PairB)
		if errA != nil || errB != nil {
			o.logger.Debug("Пара пропущена: нет цены",
				zap.String("pair_a", pair.PairA),
				zap.String("pair_b", pair.PairB),
				zap.NamedError("err_a", errA),
				zap.NamedError("err_b", errB))
			continue
		}

		z := analysis.ZScore(priceA, priceB, &pair)
		if z == nil {
			o.logger.Debug("Пара пропущена: вырожденная статистика спреда",
				zap.String("pair_a", pair.PairA),
				zap.String("pair_b", pair.PairB))
			continue
		}

		direction := domain.DirectionNone
		switch {
		case *z >= params.ZScoreThreshold:
			// Спред дорогой: B продаем, A покупаем
			direction = domain.DirectionShortSpread
		case *z <= -params.ZScoreThreshold:
			// Спред дешевый: B покупаем, A продаем
			direction = domain.DirectionLongSpread
		default:
			continue
		}

		opportunities = append(opportunities, Opportunity{
			Pair:      pair,
			Direction: direction,
			ZScore:    *z,
			PriceA:    priceA,
			PriceB:    priceB,
		})
	}

	sort.Slice(opportunities, func(i, j int) bool {
		return math.Abs(opportunities[i].ZScore) > math.Abs(opportunities[j].ZScore)
	})

	if len(opportunities) > 0 {
		o.logger.Info("Найдены торговые возможности",
			zap.Int("count", len(opportunities)),
			zap.String("best_pair", opportunities[0].Pair.PairA+"/"+opportunities[0].Pair.PairB),
			zap.Float64("best_z", opportunities[0].ZScore))
	}
	return opportunities, nil
}

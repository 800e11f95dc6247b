package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// CandleSource — источник исторических свечей
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, interval string, lookback int) ([]domain.Candle, error)
}

// PairStore — персистентность результатов сканирования
type PairStore interface {
	UpsertCorrelatedPair(pair *domain.CorrelatedPair) error
	GetStrategyParams() (*domain.StrategyParams, error)
}

// Scanner перебирает вселенную символов и обновляет статистику пар
type Scanner struct {
	source   CandleSource
	store    PairStore
	universe []string
	interval string
	lookback int
	logger   *zap.Logger
}

// NewScanner создает сканер пар. Вселенная сортируется, чтобы
// ориентация пары (A, B) не зависела от порядка символов в конфиге.
func NewScanner(source CandleSource, store PairStore, universe []string, interval string, lookback int, logger *zap.Logger) *Scanner {
	sorted := make([]string, len(universe))
	copy(sorted, universe)
	sort.Strings(sorted)

	return &Scanner{
		source:   source,
		store:    store,
		universe: sorted,
		interval: interval,
		lookback: lookback,
		logger:   logger,
	}
}

// RefreshPairs пересчитывает корреляцию и коинтеграцию по всем парам
// вселенной и сохраняет результаты. Возвращает число обновленных пар.
// Символы с недоступной историей пропускаются, а не валят весь скан.
func (s *Scanner) RefreshPairs(ctx context.Context) (int, error) {
	params, err := s.store.GetStrategyParams()
	if err != nil {
		return 0, fmt.Errorf("failed to load strategy params: %w", err)
	}

	closes := make(map[string][]float64, len(s.universe))
	for _, symbol := range s.universe {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		candles, err := s.source.GetCandles(ctx, symbol, s.interval, s.lookback)
		if err != nil {
			s.logger.Warn("⚠️ Символ пропущен: история недоступна",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		closes[symbol] = extractCloses(candles)
	}

	updated := 0
	for i := 0; i < len(s.universe); i++ {
		for j := i + 1; j < len(s.universe); j++ {
			symA, symB := s.universe[i], s.universe[j]
			seriesA, okA := closes[symA]
			seriesB, okB := closes[symB]
			if !okA || !okB {
				continue
			}

			a, b := alignTail(seriesA, seriesB)
			corr := Correlation(a, b)
			if corr < params.CorrelationThreshold {
				continue
			}

			pair := &domain.CorrelatedPair{
				PairA:       symA,
				PairB:       symB,
				Correlation: corr,
				AnalyzedAt:  time.Now().UTC(),
			}

			result, err := TestCointegration(a, b)
			if err != nil {
				// пара остается в базе для дашборда, но без статистики
				// спреда торговать по ней нельзя
				s.logger.Debug("Пара коррелирует, но не коинтегрирована",
					zap.String("pair_a", symA),
					zap.String("pair_b", symB),
					zap.Float64("correlation", corr),
					zap.Error(err))
			} else {
				pair.Cointegrated = result.Cointegrated
				pair.RegressionCoefficient = result.Beta
				pair.SpreadMean = result.SpreadMean
				pair.SpreadStd = result.SpreadStd
				pair.SpreadZScore = result.ZScore
				pair.HalfLife = result.HalfLife
			}

			if err := s.store.UpsertCorrelatedPair(pair); err != nil {
				s.logger.Error("Не удалось сохранить пару",
					zap.String("pair_a", symA),
					zap.String("pair_b", symB),
					zap.Error(err))
				continue
			}
			updated++
		}
	}

	s.logger.Info("🔍 Скан пар завершен",
		zap.Int("symbols", len(closes)),
		zap.Int("pairs_updated", updated))
	return updated, nil
}

// extractCloses вытаскивает цены закрытия в порядке следования свечей
func extractCloses(candles []domain.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// alignTail выравнивает два ряда по хвосту: берутся последние
// min(len(a), len(b)) точек каждого ряда
func alignTail(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return a[len(a)-n:], b[len(b)-n:]
}

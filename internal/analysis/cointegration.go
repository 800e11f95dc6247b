package analysis

import (
	"fmt"
	"math"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// CointegrationResult — статистика спреда пары, пригодная для торговли
type CointegrationResult struct {
	Beta         float64 // коэффициент хеджа из регрессии B ~ A
	SpreadMean   float64
	SpreadStd    float64
	ZScore       float64 // Z-score последней точки спреда
	HalfLife     float64 // период полураспада отклонения, в барах
	Cointegrated bool
}

// TestCointegration проверяет пару ценовых рядов на коинтеграцию.
// Спред строится как B - beta*A, beta — наклон регрессии B на A.
// Скорость возврата к среднему оценивается через AR(1) и переводится
// в период полураспада; торгуемой пара считается только когда
// полураспад попадает в рабочий диапазон.
func TestCointegration(a, b []float64) (*CointegrationResult, error) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if len(a) != len(b) || n < domain.MinCointegrationPoints {
		return nil, fmt.Errorf("%w: need %d aligned points, have %d",
			domain.ErrInsufficientData, domain.MinCointegrationPoints, n)
	}

	reg := LinearRegression(a, b)
	if math.IsNaN(reg.Slope) {
		return nil, fmt.Errorf("%w: flat price series", domain.ErrDegenerateSpread)
	}
	beta := reg.Slope

	spread := make([]float64, len(a))
	for i := range a {
		spread[i] = b[i] - beta*a[i]
	}

	spreadMean := mean(spread)
	spreadStd := stddev(spread, spreadMean)
	if spreadStd < domain.MinSpreadStd {
		return nil, fmt.Errorf("%w: spread std %.2e", domain.ErrDegenerateSpread, spreadStd)
	}

	z := (spread[len(spread)-1] - spreadMean) / spreadStd

	hl, err := halfLife(spread)
	if err != nil {
		return nil, err
	}

	return &CointegrationResult{
		Beta:         beta,
		SpreadMean:   spreadMean,
		SpreadStd:    spreadStd,
		ZScore:       z,
		HalfLife:     hl,
		Cointegrated: hl >= domain.MinHalfLife && hl <= domain.MaxHalfLife,
	}, nil
}

// halfLife оценивает период полураспада отклонения спреда через AR(1):
// приращение спреда регрессируется на лаг, отрицательный наклон
// означает возврат к среднему.
func halfLife(spread []float64) (float64, error) {
	n := len(spread)
	if n < 3 {
		return 0, fmt.Errorf("%w: %d spread points", domain.ErrInsufficientData, n)
	}

	lagged := spread[:n-1]
	delta := make([]float64, n-1)
	for i := 1; i < n; i++ {
		delta[i-1] = spread[i] - spread[i-1]
	}

	reg := LinearRegression(lagged, delta)
	betaAR := reg.Slope
	if math.IsNaN(betaAR) || betaAR >= 0 {
		return 0, fmt.Errorf("%w: AR(1) slope %.4f", domain.ErrNoMeanReversion, betaAR)
	}

	hl := -math.Ln2 / math.Log(1+betaAR)
	if math.IsNaN(hl) || math.IsInf(hl, 0) ||
		hl < domain.MinValidHalfLife || hl > domain.MaxValidHalfLife {
		return 0, fmt.Errorf("%w: half-life %.2f outside [%.0f, %.0f] bars",
			domain.ErrNoMeanReversion, hl, domain.MinValidHalfLife, domain.MaxValidHalfLife)
	}

	return hl, nil
}

// ZScore считает текущий Z-score спреда пары по сохраненной статистике.
// Возвращает nil, если статистика вырождена.
func ZScore(priceA, priceB float64, pair *domain.CorrelatedPair) *float64 {
	if pair == nil || pair.SpreadStd < domain.MinSpreadStd {
		return nil
	}
	z := (priceB - pair.RegressionCoefficient*priceA - pair.SpreadMean) / pair.SpreadStd
	return &z
}

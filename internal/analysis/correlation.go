// Package analysis — чистая математика парного трейдинга:
// корреляция, OLS регрессия, тест коинтеграции и Z-score спреда.
// Функции не делают I/O; данными их кормит Scanner.
package analysis

import "math"

// Correlation считает коэффициент корреляции Пирсона.
// Возвращает 0 при разной длине рядов, менее чем двух точках
// или нулевой дисперсии любого ряда.
func Correlation(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}

	meanA := mean(a)
	meanB := mean(b)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}

	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// RegressionResult — оценка OLS регрессии y = Slope*x + Intercept
type RegressionResult struct {
	Slope     float64
	Intercept float64
	StdErr    float64 // стандартная ошибка наклона
	TStat     float64
}

// LinearRegression оценивает y = slope*x + intercept методом наименьших
// квадратов. При вырожденном входе все поля — NaN.
func LinearRegression(x, y []float64) RegressionResult {
	nan := math.NaN()
	degenerate := RegressionResult{Slope: nan, Intercept: nan, StdErr: nan, TStat: nan}

	n := len(x)
	if n != len(y) || n < 3 {
		return degenerate
	}

	meanX := mean(x)
	meanY := mean(y)

	var sxx, sxy float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		sxx += dx * dx
		sxy += dx * (y[i] - meanY)
	}
	if sxx == 0 {
		return degenerate
	}

	slope := sxy / sxx
	intercept := meanY - slope*meanX

	var rss float64
	for i := 0; i < n; i++ {
		r := y[i] - (slope*x[i] + intercept)
		rss += r * r
	}

	stdErr := math.Sqrt(rss / float64(n-2) / sxx)
	tStat := nan
	if stdErr > 0 {
		tStat = slope / stdErr
	}

	return RegressionResult{
		Slope:     slope,
		Intercept: intercept,
		StdErr:    stdErr,
		TStat:     tStat,
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

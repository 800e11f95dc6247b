// Package monitoring — Prometheus метрики бота.
//
// Основные ряды:
//   - statarb_orders_total{side,stage}       – размещенные ордера по ступеням лестницы
//   - statarb_order_failures_total{side}     – исчерпанные лестницы
//   - statarb_pair_trades_total{result}      – парные сделки (success|failed)
//   - statarb_api_failures_total{operation}  – вызовы биржи, упавшие после всех ретраев
//   - statarb_rate_limit_waits_total         – ожидания у скользящего окна лимитера
//   - statarb_open_positions                 – текущее число открытых сделок леджера
//   - statarb_account_equity_usd             – стоимость счета
//   - statarb_cycle_duration_seconds{cycle}  – длительность циклов оркестратора
//
// Регистрируются в init() и отдаются API сервером на /metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statarb_orders_total",
			Help: "Orders placed, split by side and ladder stage",
		},
		[]string{"side", "stage"},
	)

	orderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statarb_order_failures_total",
			Help: "Order ladders exhausted without a fill",
		},
		[]string{"side"},
	)

	pairTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statarb_pair_trades_total",
			Help: "Pair trades by outcome (success|failed)",
		},
		[]string{"result"},
	)

	apiFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statarb_api_failures_total",
			Help: "Exchange calls that failed after all retries",
		},
		[]string{"operation"},
	)

	rateLimitWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "statarb_rate_limit_waits_total",
			Help: "Times a call waited for the sliding rate-limit window",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "statarb_open_positions",
			Help: "Open ledger trades",
		},
	)

	accountEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "statarb_account_equity_usd",
			Help: "Account value in USD",
		},
	)

	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statarb_cycle_duration_seconds",
			Help:    "Orchestrator cycle duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cycle"},
	)
)

func init() {
	prometheus.MustRegister(orders, orderFailures, pairTrades)
	prometheus.MustRegister(apiFailures, rateLimitWaits)
	prometheus.MustRegister(openPositions, accountEquity, cycleDuration)
}

func IncOrder(side string, stage int)    { orders.WithLabelValues(side, stageLabel(stage)).Inc() }
func IncOrderFailure(side string)        { orderFailures.WithLabelValues(side).Inc() }
func IncPairTrade(result string)         { pairTrades.WithLabelValues(result).Inc() }
func IncAPIFailure(operation string)     { apiFailures.WithLabelValues(operation).Inc() }
func IncRateLimitWait()                  { rateLimitWaits.Inc() }
func SetOpenPositions(n int)             { openPositions.Set(float64(n)) }
func SetAccountEquity(v float64)         { accountEquity.Set(v) }
func ObserveCycle(cycle string, seconds float64) {
	cycleDuration.WithLabelValues(cycle).Observe(seconds)
}

func stageLabel(stage int) string {
	switch stage {
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	default:
		return "other"
	}
}

package exchange

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// Decimals возвращает число десятичных знаков для шага тика
func Decimals(tick float64) int32 {
	if tick <= 0 {
		tick = defaultSizeIncrement
	}
	d := int32(-math.Floor(math.Log10(tick)))
	if d < 0 {
		return 0
	}
	return d
}

// QuantizeSize округляет размер вниз до шага тика
func QuantizeSize(size, tick float64) float64 {
	if size <= 0 {
		return 0
	}
	q, _ := decimal.NewFromFloat(size).RoundFloor(Decimals(tick)).Float64()
	return q
}

// QuantizeSizeUp округляет размер вверх до шага тика.
// Нужен там, где размер подтягивается к минимальному ноционалу.
func QuantizeSizeUp(size, tick float64) float64 {
	if size <= 0 {
		return 0
	}
	q, _ := decimal.NewFromFloat(size).RoundCeil(Decimals(tick)).Float64()
	return q
}

// QuantizePrice округляет цену к ближайшему тику.
// Рынок BTC-PERP усекает цену до целого.
func QuantizePrice(symbol string, price, tick float64) float64 {
	if price <= 0 {
		return 0
	}
	if domain.NormalizeSymbol(symbol) == domain.SymbolBTC {
		return math.Trunc(price)
	}
	q, _ := decimal.NewFromFloat(price).Round(Decimals(tick)).Float64()
	if q <= 0 {
		// Цена меньше тика: отправляем минимальный тик, а не ноль
		return tick
	}
	return q
}

// FormatSize форматирует размер десятичной строкой для протокола
func FormatSize(size, tick float64) string {
	return decimal.NewFromFloat(size).RoundFloor(Decimals(tick)).String()
}

// FormatPrice форматирует цену десятичной строкой для протокола
func FormatPrice(symbol string, price, tick float64) string {
	return decimal.NewFromFloat(QuantizePrice(symbol, price, tick)).String()
}

// ApplySlippage сдвигает опорную цену на долю slippage.
// Покупка платит выше рынка, продажа уступает ниже.
func ApplySlippage(ref float64, isBuy bool, slippage float64) float64 {
	if isBuy {
		return ref * (1 + slippage)
	}
	return ref * (1 - slippage)
}

package domain

import "strings"

// PerpSuffix — суффикс канонической формы символа бессрочного контракта
const PerpSuffix = "-PERP"

// NormalizeSymbol приводит символ к канонической форме BASE-PERP.
// "btc", "BTC" и "BTC-PERP" дают один и тот же результат.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, PerpSuffix) {
		return s
	}
	return s + PerpSuffix
}

// BaseSymbol возвращает базовый тикер без суффикса контракта
func BaseSymbol(symbol string) string {
	return strings.TrimSuffix(NormalizeSymbol(symbol), PerpSuffix)
}

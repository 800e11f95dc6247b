package policy

// Profile — риск-профиль стратегии: стартовые параметры торговли
type Profile struct {
	Name                   string  `yaml:"-"`
	TradeSizePercent       float64 `yaml:"trade_size_percent"`
	MaxPositions           int     `yaml:"max_positions"`
	CorrelationThreshold   float64 `yaml:"correlation_threshold"`
	ZScoreThreshold        float64 `yaml:"zscore_threshold"`
	MaxPortfolioAllocation float64 `yaml:"max_portfolio_allocation"`
}

// Bounds — допустимые диапазоны параметров при ручном обновлении
type Bounds struct {
	TradeSizePercent       Range    `yaml:"trade_size_percent"`
	MaxPositions           IntRange `yaml:"max_positions"`
	CorrelationThreshold   Range    `yaml:"correlation_threshold"`
	ZScoreThreshold        Range    `yaml:"zscore_threshold"`
	MaxPortfolioAllocation Range    `yaml:"max_portfolio_allocation"`
}

// Range — границы вещественного параметра
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains проверяет попадание значения в диапазон включительно
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// IntRange — границы целочисленного параметра
type IntRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Contains проверяет попадание значения в диапазон включительно
func (r IntRange) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

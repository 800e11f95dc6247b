// Package policy задает риск-профили стратегии и аварийную паузу торговли.
// Профили читаются из YAML и дают стартовые параметры плюс границы,
// в которых оператор может их менять на лету.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// Engine хранит выбранный риск-профиль и границы параметров
type Engine struct {
	profile Profile
	bounds  Bounds
}

// LoadProfile читает файл риск-профилей и выбирает профиль по имени
func LoadProfile(path, name string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read risk profiles: %w", err)
	}

	var config struct {
		RiskProfiles map[string]Profile `yaml:"risk_profiles"`
		Bounds       Bounds             `yaml:"bounds"`
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse risk profiles: %w", err)
	}

	profile, ok := config.RiskProfiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: risk profile %q not found", domain.ErrInvalidInput, name)
	}
	profile.Name = name

	engine := &Engine{profile: profile, bounds: config.Bounds}
	params := engine.DefaultParams()
	if err := engine.ValidateParams(&params); err != nil {
		return nil, fmt.Errorf("risk profile %q violates its own bounds: %w", name, err)
	}
	return engine, nil
}

// Profile возвращает активный профиль
func (e *Engine) Profile() Profile {
	return e.profile
}

// DefaultParams строит стартовые параметры стратегии из профиля
func (e *Engine) DefaultParams() domain.StrategyParams {
	return domain.StrategyParams{
		TradeSizePercent:       e.profile.TradeSizePercent,
		MaxPositions:           e.profile.MaxPositions,
		CorrelationThreshold:   e.profile.CorrelationThreshold,
		ZScoreThreshold:        e.profile.ZScoreThreshold,
		MaxPortfolioAllocation: e.profile.MaxPortfolioAllocation,
		UpdatedAt:              time.Now().UTC(),
	}
}

// ValidateParams проверяет параметры против границ профиля.
// Используется при ручном обновлении через API и телеграм.
func (e *Engine) ValidateParams(params *domain.StrategyParams) error {
	if !e.bounds.TradeSizePercent.Contains(params.TradeSizePercent) {
		return fmt.Errorf("%w: trade_size_percent %.4f outside [%.4f, %.4f]",
			domain.ErrInvalidInput, params.TradeSizePercent,
			e.bounds.TradeSizePercent.Min, e.bounds.TradeSizePercent.Max)
	}
	if !e.bounds.MaxPositions.Contains(params.MaxPositions) {
		return fmt.Errorf("%w: max_positions %d outside [%d, %d]",
			domain.ErrInvalidInput, params.MaxPositions,
			e.bounds.MaxPositions.Min, e.bounds.MaxPositions.Max)
	}
	if !e.bounds.CorrelationThreshold.Contains(params.CorrelationThreshold) {
		return fmt.Errorf("%w: correlation_threshold %.4f outside [%.4f, %.4f]",
			domain.ErrInvalidInput, params.CorrelationThreshold,
			e.bounds.CorrelationThreshold.Min, e.bounds.CorrelationThreshold.Max)
	}
	if !e.bounds.ZScoreThreshold.Contains(params.ZScoreThreshold) {
		return fmt.Errorf("%w: zscore_threshold %.4f outside [%.4f, %.4f]",
			domain.ErrInvalidInput, params.ZScoreThreshold,
			e.bounds.ZScoreThreshold.Min, e.bounds.ZScoreThreshold.Max)
	}
	if !e.bounds.MaxPortfolioAllocation.Contains(params.MaxPortfolioAllocation) {
		return fmt.Errorf("%w: max_portfolio_allocation %.4f outside [%.4f, %.4f]",
			domain.ErrInvalidInput, params.MaxPortfolioAllocation,
			e.bounds.MaxPortfolioAllocation.Min, e.bounds.MaxPortfolioAllocation.Max)
	}
	return nil
}

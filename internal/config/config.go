package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// Config содержит все настройки приложения
type Config struct {
	Exchange   ExchangeConfig
	Database   DatabaseConfig
	Telegram   TelegramConfig
	API        APIConfig
	Analysis   AnalysisConfig
	Scheduler  SchedulerConfig
	RateLimit  RateLimitConfig
	Risk       RiskConfig
	LogLevel   string
	LogConsole bool
}

type ExchangeConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	WSURL     string
	Leverage  int
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
	AdminIDs string
}

type APIConfig struct {
	Port int
}

type AnalysisConfig struct {
	Universe       []string
	CandleInterval string
	Lookback       int
}

type SchedulerConfig struct {
	Enabled             bool
	OpportunityInterval time.Duration
	TradeUpdateInterval time.Duration
	PairRefreshInterval time.Duration
	PositionSyncInterval time.Duration
}

type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	MinInterval time.Duration
	CallTimeout time.Duration
}

type RiskConfig struct {
	Profile      string
	ProfilesPath string
}

// Load загружает конфигурацию из .env файла
func Load() (*Config, error) {
	// Загружаем .env файл (если есть)
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	leverage, err := strconv.Atoi(getEnv("EXCHANGE_LEVERAGE", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXCHANGE_LEVERAGE: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	apiPort, err := strconv.Atoi(getEnv("API_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}

	lookback, err := strconv.Atoi(getEnv("ANALYSIS_LOOKBACK", "90"))
	if err != nil {
		return nil, fmt.Errorf("invalid ANALYSIS_LOOKBACK: %w", err)
	}

	schedulerEnabled, err := strconv.ParseBool(getEnv("SCHEDULER_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_ENABLED: %w", err)
	}

	opportunityInterval, err := time.ParseDuration(getEnv("OPPORTUNITY_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid OPPORTUNITY_INTERVAL: %w", err)
	}

	tradeUpdateInterval, err := time.ParseDuration(getEnv("TRADE_UPDATE_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRADE_UPDATE_INTERVAL: %w", err)
	}

	pairRefreshInterval, err := time.ParseDuration(getEnv("PAIR_REFRESH_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAIR_REFRESH_INTERVAL: %w", err)
	}

	positionSyncInterval, err := time.ParseDuration(getEnv("POSITION_SYNC_INTERVAL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid POSITION_SYNC_INTERVAL: %w", err)
	}

	rlMaxRequests, err := strconv.Atoi(getEnv("RATE_LIMIT_MAX_REQUESTS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_MAX_REQUESTS: %w", err)
	}

	rlWindow, err := time.ParseDuration(getEnv("RATE_LIMIT_WINDOW", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}

	rlMinInterval, err := time.ParseDuration(getEnv("RATE_LIMIT_MIN_INTERVAL", "200ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_MIN_INTERVAL: %w", err)
	}

	callTimeout, err := time.ParseDuration(getEnv("EXCHANGE_CALL_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXCHANGE_CALL_TIMEOUT: %w", err)
	}

	logConsole, err := strconv.ParseBool(getEnv("LOG_CONSOLE", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_CONSOLE: %w", err)
	}

	config := &Config{
		Exchange: ExchangeConfig{
			APIKey:    getEnv("EXCHANGE_API_KEY", ""),
			APISecret: getEnv("EXCHANGE_API_SECRET", ""),
			BaseURL:   getEnv("EXCHANGE_BASE_URL", "https://api.perpdex.example.com"),
			WSURL:     getEnv("EXCHANGE_WS_URL", "wss://api.perpdex.example.com/ws"),
			Leverage:  leverage,
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "statarb_bot"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   chatID,
			AdminIDs: getEnv("TELEGRAM_ADMIN_IDS", ""),
		},
		API: APIConfig{
			Port: apiPort,
		},
		Analysis: AnalysisConfig{
			Universe:       parseUniverse(getEnv("TRADING_UNIVERSE", "BTC,ETH,SOL,AVAX,DOGE,LINK,ATOM,NEAR,ARB,OP")),
			CandleInterval: getEnv("CANDLE_INTERVAL", "1h"),
			Lookback:       lookback,
		},
		Scheduler: SchedulerConfig{
			Enabled:              schedulerEnabled,
			OpportunityInterval:  opportunityInterval,
			TradeUpdateInterval:  tradeUpdateInterval,
			PairRefreshInterval:  pairRefreshInterval,
			PositionSyncInterval: positionSyncInterval,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: rlMaxRequests,
			Window:      rlWindow,
			MinInterval: rlMinInterval,
			CallTimeout: callTimeout,
		},
		Risk: RiskConfig{
			Profile:      getEnv("RISK_PROFILE", "moderate"),
			ProfilesPath: getEnv("RISK_PROFILES_PATH", "configs/risk_profiles.yaml"),
		},
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogConsole: logConsole,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	if c.Exchange.APIKey == "" {
		return fmt.Errorf("EXCHANGE_API_KEY is required")
	}
	if c.Exchange.APISecret == "" {
		return fmt.Errorf("EXCHANGE_API_SECRET is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Exchange.Leverage < 1 || c.Exchange.Leverage > 20 {
		return fmt.Errorf("EXCHANGE_LEVERAGE must be between 1 and 20")
	}
	if len(c.Analysis.Universe) < 2 {
		return fmt.Errorf("TRADING_UNIVERSE must contain at least two symbols")
	}
	if c.Analysis.Lookback < domain.MinCointegrationPoints+1 {
		return fmt.Errorf("ANALYSIS_LOOKBACK must be at least %d", domain.MinCointegrationPoints+1)
	}
	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	return nil
}

// parseUniverse разбирает список тикеров и нормализует символы
func parseUniverse(raw string) []string {
	parts := strings.Split(raw, ",")
	universe := make([]string, 0, len(parts))
	seen := make(map[string]bool)
	for _, p := range parts {
		sym := domain.NormalizeSymbol(p)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		universe = append(universe, sym)
	}
	return universe
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kirillm/statarb-bot/internal/domain"
	"github.com/kirillm/statarb-bot/internal/storage/repository"
)

// PostgresStorage является фасадом для работы с PostgreSQL через репозитории.
// Один тип закрывает интерфейсы хранилища леджера, стратегии, сканера
// и журнала ошибок API.
type PostgresStorage struct {
	db      *sql.DB
	trades  *repository.TradeRepository
	pairs   *repository.CorrelatedPairRepository
	params  *repository.StrategyParamsRepository
	metrics *repository.AccountMetricsRepository
	events  *repository.EventRepository
	apiErrs *repository.APIErrorRepository
}

func NewPostgresStorage(host string, port int, user, password, dbname, sslmode string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStorage, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabaseConnection, err)
	}

	// Настройка connection pool из конфигурации
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	storage := &PostgresStorage{
		db:      db,
		trades:  repository.NewTradeRepository(db),
		pairs:   repository.NewCorrelatedPairRepository(db),
		params:  repository.NewStrategyParamsRepository(db),
		metrics: repository.NewAccountMetricsRepository(db),
		events:  repository.NewEventRepository(db),
		apiErrs: repository.NewAPIErrorRepository(db),
	}

	// Запускаем миграции
	if err := storage.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) migrate() error {
	migrations := []string{
		// Сделки леджера: одна строка на ногу, id назначает леджер
		`CREATE TABLE IF NOT EXISTS trades (
			id VARCHAR(36) PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			leverage INTEGER NOT NULL DEFAULT 1,
			entry_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			current_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			stop_loss DECIMAL(20, 8),
			take_profit DECIMAL(20, 8),
			pair_symbol VARCHAR(20),
			pair_correlation DECIMAL(10, 6),
			unrealized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			pnl DECIMAL(20, 8),
			opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMPTZ,
			close_reason VARCHAR(40)
		)`,
		// Статистика пар: одна строка на ориентированную пару
		`CREATE TABLE IF NOT EXISTS correlated_pairs (
			id BIGSERIAL PRIMARY KEY,
			pair_a VARCHAR(20) NOT NULL,
			pair_b VARCHAR(20) NOT NULL,
			correlation DECIMAL(10, 6) NOT NULL DEFAULT 0,
			cointegrated BOOLEAN NOT NULL DEFAULT false,
			regression_coefficient DECIMAL(20, 8) NOT NULL DEFAULT 0,
			spread_mean DECIMAL(20, 8) NOT NULL DEFAULT 0,
			spread_std DECIMAL(20, 8) NOT NULL DEFAULT 0,
			spread_zscore DECIMAL(20, 8) NOT NULL DEFAULT 0,
			half_life DECIMAL(20, 8) NOT NULL DEFAULT 0,
			analyzed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (pair_a, pair_b)
		)`,
		// Параметры стратегии: таблица из одной строки
		`CREATE TABLE IF NOT EXISTS strategy_params (
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			trade_size_percent DECIMAL(10, 6) NOT NULL,
			max_positions INTEGER NOT NULL,
			correlation_threshold DECIMAL(10, 6) NOT NULL,
			zscore_threshold DECIMAL(10, 6) NOT NULL,
			max_portfolio_allocation DECIMAL(10, 6) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Снапшоты метрик счета
		`CREATE TABLE IF NOT EXISTS account_metrics (
			id BIGSERIAL PRIMARY KEY,
			balance DECIMAL(20, 8) NOT NULL,
			available_margin DECIMAL(20, 8) NOT NULL,
			margin_used DECIMAL(20, 8) NOT NULL,
			unrealized_pnl DECIMAL(20, 8) NOT NULL,
			daily_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			open_positions INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Журнал событий бота
		`CREATE TABLE IF NOT EXISTS bot_events (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(60) NOT NULL,
			data TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Ошибки API после исчерпанных ретраев
		`CREATE TABLE IF NOT EXISTS api_errors (
			id BIGSERIAL PRIMARY KEY,
			operation VARCHAR(60) NOT NULL,
			message TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Индексы
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades(opened_at)`,
		`CREATE INDEX IF NOT EXISTS idx_correlated_pairs_cointegrated ON correlated_pairs(cointegrated)`,
		`CREATE INDEX IF NOT EXISTS idx_account_metrics_created_at ON account_metrics(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_events_name ON bot_events(name)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_events_created_at ON bot_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_api_errors_created_at ON api_errors(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// ==================== TRADES ====================

func (s *PostgresStorage) CreateTrade(trade *domain.Trade) error {
	return s.trades.Create(trade)
}

func (s *PostgresStorage) UpdateTrade(trade *domain.Trade) error {
	return s.trades.Update(trade)
}

func (s *PostgresStorage) GetTradeByID(id string) (*domain.Trade, error) {
	return s.trades.GetByID(id)
}

func (s *PostgresStorage) GetActiveTrades() ([]domain.Trade, error) {
	return s.trades.GetActive()
}

func (s *PostgresStorage) GetPendingTrades() ([]domain.Trade, error) {
	return s.trades.GetPending()
}

func (s *PostgresStorage) GetRecentTrades(limit int) ([]domain.Trade, error) {
	return s.trades.GetRecent(limit)
}

// ==================== CORRELATED PAIRS ====================

func (s *PostgresStorage) UpsertCorrelatedPair(pair *domain.CorrelatedPair) error {
	return s.pairs.Upsert(pair)
}

func (s *PostgresStorage) GetAllPairs() ([]domain.CorrelatedPair, error) {
	return s.pairs.GetAll()
}

func (s *PostgresStorage) GetCointegratedPairs() ([]domain.CorrelatedPair, error) {
	return s.pairs.GetCointegrated()
}

func (s *PostgresStorage) GetPair(pairA, pairB string) (*domain.CorrelatedPair, error) {
	return s.pairs.Get(pairA, pairB)
}

// ==================== STRATEGY PARAMS ====================

func (s *PostgresStorage) GetStrategyParams() (*domain.StrategyParams, error) {
	return s.params.Get()
}

func (s *PostgresStorage) SaveStrategyParams(params *domain.StrategyParams) error {
	return s.params.Save(params)
}

// ==================== ACCOUNT METRICS ====================

func (s *PostgresStorage) SaveAccountMetrics(metrics *domain.AccountMetrics) error {
	return s.metrics.Save(metrics)
}

func (s *PostgresStorage) GetFirstMetricsOfDay(day time.Time) (*domain.AccountMetrics, error) {
	return s.metrics.GetFirstOfDay(day)
}

func (s *PostgresStorage) GetRecentMetrics(limit int) ([]domain.AccountMetrics, error) {
	return s.metrics.GetRecent(limit)
}

// ==================== EVENTS ====================

func (s *PostgresStorage) LogEvent(name string, data map[string]interface{}) error {
	return s.events.Log(name, data)
}

func (s *PostgresStorage) GetRecentEvents(limit int) ([]domain.BotEvent, error) {
	return s.events.GetRecent(limit)
}

// ==================== API ERRORS ====================

func (s *PostgresStorage) LogAPIError(operation, message string, attempts int) error {
	return s.apiErrs.Save(operation, message, attempts)
}

func (s *PostgresStorage) GetRecentAPIErrors(limit int) ([]domain.APIError, error) {
	return s.apiErrs.GetRecent(limit)
}

// Close закрывает соединение с базой данных
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// DB возвращает указатель на *sql.DB для вспомогательных запросов
func (s *PostgresStorage) DB() *sql.DB {
	return s.db
}

// Package api — HTTP поверхность: триггеры циклов и данные для дашборда
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// CycleRunner циклы планировщика, общие с тикерами
type CycleRunner interface {
	RunTradeUpdate(ctx context.Context) error
	RunOpportunityCheck(ctx context.Context) error
	RunPairRefresh(ctx context.Context) error
	RunPositionSync(ctx context.Context) error
	Running() bool
}

// Store доступ к данным для read-эндпоинтов и инициализации
type Store interface {
	GetTradeByID(id string) (*domain.Trade, error)
	GetActiveTrades() ([]domain.Trade, error)
	GetPendingTrades() ([]domain.Trade, error)
	GetRecentTrades(limit int) ([]domain.Trade, error)
	GetAllPairs() ([]domain.CorrelatedPair, error)
	GetCointegratedPairs() ([]domain.CorrelatedPair, error)
	GetStrategyParams() (*domain.StrategyParams, error)
	SaveStrategyParams(params *domain.StrategyParams) error
	GetRecentMetrics(limit int) ([]domain.AccountMetrics, error)
	LogEvent(name string, data map[string]interface{}) error
}

// ParamsPolicy стартовые параметры и границы ручных изменений
type ParamsPolicy interface {
	DefaultParams() domain.StrategyParams
	ValidateParams(params *domain.StrategyParams) error
}

// TradingSwitch статус торговой паузы
type TradingSwitch interface {
	GetStatus() (bool, string, time.Time)
}

// AccountSource текущее состояние счета
type AccountSource interface {
	GetAccountState(ctx context.Context) *domain.AccountState
}

// MetadataWarmer прогревает кэш метаданных биржи
type MetadataWarmer interface {
	EnsureInitialized(ctx context.Context) error
}

type Server struct {
	logger     *zap.Logger
	orch       CycleRunner
	store      Store
	policy     ParamsPolicy
	killSwitch TradingSwitch
	account    AccountSource
	warmer     MetadataWarmer
	port       int

	srv *http.Server
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func NewServer(
	logger *zap.Logger,
	orch CycleRunner,
	store Store,
	policy ParamsPolicy,
	killSwitch TradingSwitch,
	account AccountSource,
	warmer MetadataWarmer,
	port int,
) *Server {
	return &Server{
		logger:     logger,
		orch:       orch,
		store:      store,
		policy:     policy,
		killSwitch: killSwitch,
		account:    account,
		warmer:     warmer,
		port:       port,
	}
}

// Handler собирает маршруты. Отдельно от Start для httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/v1/check-opportunities", s.handleCheckOpportunities)
	mux.HandleFunc("/api/v1/strategy/init", s.handleStrategyInit)
	mux.HandleFunc("/api/v1/trades/update", s.handleTradesUpdate)
	mux.HandleFunc("/api/v1/pairs/refresh", s.handlePairsRefresh)
	mux.HandleFunc("/api/v1/positions/sync", s.handlePositionsSync)

	mux.HandleFunc("/api/v1/trades", s.handleTrades)
	mux.HandleFunc("/api/v1/trades/", s.handleTradeByID)
	mux.HandleFunc("/api/v1/pairs", s.handlePairs)
	mux.HandleFunc("/api/v1/dashboard", s.handleDashboard)
	mux.HandleFunc("/api/v1/params", s.handleParams)

	return mux
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("🚀 HTTP сервер запущен", zap.String("addr", addr))

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.srv.ListenAndServe()
}

// Stop мягко останавливает сервер
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("🛑 Останавливаем HTTP сервер...")
	return s.srv.Shutdown(ctx)
}

// ==================== Триггеры циклов ====================

func (s *Server) handleCheckOpportunities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendCycleResult(w, "opportunity check", s.orch.RunOpportunityCheck(r.Context()))
}

func (s *Server) handleTradesUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendCycleResult(w, "trade update", s.orch.RunTradeUpdate(r.Context()))
}

func (s *Server) handlePairsRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendCycleResult(w, "pair refresh", s.orch.RunPairRefresh(r.Context()))
}

func (s *Server) handlePositionsSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendCycleResult(w, "position sync", s.orch.RunPositionSync(r.Context()))
}

// sendCycleResult единообразно раскладывает исход цикла по статусам:
// занято — 409, торговая пауза — 423, остальное — 500
func (s *Server) sendCycleResult(w http.ResponseWriter, cycle string, err error) {
	switch {
	case err == nil:
		s.sendSuccess(w, map[string]interface{}{
			"message":   cycle + " completed",
			"timestamp": time.Now().Unix(),
		})
	case errors.Is(err, domain.ErrCycleBusy):
		s.sendError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrTradingPaused):
		s.sendError(w, err.Error(), http.StatusLocked)
	default:
		s.sendError(w, fmt.Sprintf("%s failed: %v", cycle, err), http.StatusInternalServerError)
	}
}

// ==================== Инициализация стратегии ====================

func (s *Server) handleStrategyInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	existing, err := s.store.GetStrategyParams()
	switch {
	case err == nil:
		s.sendSuccess(w, map[string]interface{}{
			"message": "strategy already initialized",
			"params":  existing,
		})
		return
	case !errors.Is(err, domain.ErrNotFound):
		s.sendError(w, fmt.Sprintf("Failed to read strategy params: %v", err), http.StatusInternalServerError)
		return
	}

	params := s.policy.DefaultParams()
	if err := s.store.SaveStrategyParams(&params); err != nil {
		s.sendError(w, fmt.Sprintf("Failed to save strategy params: %v", err), http.StatusInternalServerError)
		return
	}

	// Прогреваем метаданные биржи, чтобы первый цикл не ждал
	if err := s.warmer.EnsureInitialized(r.Context()); err != nil {
		s.logger.Warn("⚠️ Не удалось прогреть метаданные биржи", zap.Error(err))
	}

	if err := s.store.LogEvent(domain.EventStrategyInitialized, map[string]interface{}{
		"trade_size_percent": params.TradeSizePercent,
		"max_positions":      params.MaxPositions,
		"zscore_threshold":   params.ZScoreThreshold,
	}); err != nil {
		s.logger.Warn("Не удалось записать событие инициализации", zap.Error(err))
	}

	s.logger.Info("✅ Стратегия инициализирована")
	s.sendSuccess(w, map[string]interface{}{
		"message": "strategy initialized",
		"params":  params,
	})
}

// ==================== Чтение данных ====================

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		trades []domain.Trade
		err    error
	)

	switch status := getQueryParam(r, "status", ""); status {
	case "open":
		trades, err = s.store.GetActiveTrades()
	case "pending":
		trades, err = s.store.GetPendingTrades()
	case "":
		trades, err = s.store.GetRecentTrades(getQueryParamInt(r, "limit", 50))
	default:
		s.sendError(w, fmt.Sprintf("Unknown status %q", status), http.StatusBadRequest)
		return
	}

	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get trades: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

func (s *Server) handleTradeByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/trades/")
	if id == "" || strings.Contains(id, "/") {
		s.sendError(w, "Trade ID is required", http.StatusBadRequest)
		return
	}

	trade, err := s.store.GetTradeByID(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.sendError(w, fmt.Sprintf("Trade %s not found", id), http.StatusNotFound)
			return
		}
		s.sendError(w, fmt.Sprintf("Failed to get trade: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, trade)
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		pairs []domain.CorrelatedPair
		err   error
	)

	if getQueryParam(r, "cointegrated", "") == "true" {
		pairs, err = s.store.GetCointegratedPairs()
	} else {
		pairs, err = s.store.GetAllPairs()
	}

	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get pairs: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"pairs": pairs,
		"count": len(pairs),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	trades, err := s.store.GetActiveTrades()
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get trades: %v", err), http.StatusInternalServerError)
		return
	}

	unrealized := 0.0
	for _, t := range trades {
		unrealized += t.UnrealizedPnL
	}

	paused, pauseReason, pausedAt := s.killSwitch.GetStatus()

	data := map[string]interface{}{
		"trading_paused":    paused,
		"scheduler_running": s.orch.Running(),
		"open_trades":       trades,
		"open_count":        len(trades),
		"unrealized_pnl":    unrealized,
		"timestamp":         time.Now().Unix(),
	}
	if paused {
		data["pause_reason"] = pauseReason
		data["paused_at"] = pausedAt
	}

	if state := s.account.GetAccountState(r.Context()); state != nil {
		data["account"] = state
	}

	// Метрики вторичны: без них дашборд все равно полезен
	if metrics, err := s.store.GetRecentMetrics(30); err != nil {
		s.logger.Warn("Не удалось прочитать метрики счета", zap.Error(err))
	} else {
		data["metrics"] = metrics
	}

	s.sendSuccess(w, data)
}

// ==================== Параметры стратегии ====================

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		params, err := s.store.GetStrategyParams()
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.sendError(w, "Strategy params not initialized, call /api/v1/strategy/init", http.StatusNotFound)
				return
			}
			s.sendError(w, fmt.Sprintf("Failed to get params: %v", err), http.StatusInternalServerError)
			return
		}
		s.sendSuccess(w, params)

	case http.MethodPut:
		var params domain.StrategyParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			s.sendError(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := s.policy.ValidateParams(&params); err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := s.store.SaveStrategyParams(&params); err != nil {
			s.sendError(w, fmt.Sprintf("Failed to save params: %v", err), http.StatusInternalServerError)
			return
		}

		if err := s.store.LogEvent(domain.EventParamsUpdated, map[string]interface{}{
			"trade_size_percent": params.TradeSizePercent,
			"max_positions":      params.MaxPositions,
			"zscore_threshold":   params.ZScoreThreshold,
		}); err != nil {
			s.logger.Warn("Не удалось записать событие изменения параметров", zap.Error(err))
		}

		s.sendSuccess(w, params)

	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ==================== Служебные ====================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"status":    "healthy",
		"scheduler": s.orch.Running(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{
		Success: true,
		Data:    data,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   message,
	})
}

func getQueryParam(r *http.Request, key string, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}

func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/analysis"
	"github.com/kirillm/statarb-bot/internal/api"
	"github.com/kirillm/statarb-bot/internal/config"
	"github.com/kirillm/statarb-bot/internal/exchange"
	"github.com/kirillm/statarb-bot/internal/feed"
	"github.com/kirillm/statarb-bot/internal/ledger"
	"github.com/kirillm/statarb-bot/internal/orchestrator"
	"github.com/kirillm/statarb-bot/internal/policy"
	"github.com/kirillm/statarb-bot/internal/storage"
	"github.com/kirillm/statarb-bot/internal/strategy"
	"github.com/kirillm/statarb-bot/internal/telegram"
	"github.com/kirillm/statarb-bot/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := utils.NewLogger(cfg.LogLevel, cfg.LogConsole)
	defer logger.Sync()

	logger.Info("🚀 Запуск statarb-bot",
		zap.String("risk_profile", cfg.Risk.Profile),
		zap.Int("universe", len(cfg.Analysis.Universe)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ==================== Хранилище ====================

	store, err := storage.NewPostgresStorage(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		logger.Fatal("❌ Не удалось подключиться к базе данных", zap.Error(err))
	}
	defer store.Close()

	logger.Info("✅ База данных подключена", zap.String("host", cfg.Database.Host))

	// ==================== Биржа ====================

	client := exchange.NewClient(
		cfg.Exchange.APIKey,
		cfg.Exchange.APISecret,
		cfg.Exchange.BaseURL,
		logger,
	)

	rateLimited := exchange.NewRateLimitedClient(client, store, exchange.RateLimitOptions{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
		MinInterval: cfg.RateLimit.MinInterval,
		CallTimeout: cfg.RateLimit.CallTimeout,
	}, logger)

	// ==================== Цены ====================

	wsFeed := feed.NewWSFeed(cfg.Exchange.WSURL, logger)
	go wsFeed.Run(ctx)

	prices := feed.NewFailover(wsFeed, rateLimited, feed.DefaultStaleness, logger)

	// ==================== Исполнение и реестр сделок ====================

	engine := exchange.NewEngine(rateLimited, prices, store, logger)
	tradeLedger := ledger.NewLedger(engine, prices, store, logger)

	// ==================== Политика риска ====================

	policyEngine, err := policy.LoadProfile(cfg.Risk.ProfilesPath, cfg.Risk.Profile)
	if err != nil {
		logger.Fatal("❌ Не удалось загрузить риск-профиль", zap.Error(err))
	}

	killSwitch := policy.NewKillSwitch(logger)

	// ==================== Анализ и стратегия ====================

	scanner := analysis.NewScanner(
		rateLimited,
		store,
		cfg.Analysis.Universe,
		cfg.Analysis.CandleInterval,
		cfg.Analysis.Lookback,
		logger,
	)

	// Бот создается позже, уведомления идут через замыкание
	var bot *telegram.Bot
	notify := func(text string) {
		if bot != nil {
			bot.Notify(text)
		}
	}

	pairOrch := strategy.NewPairOrchestrator(
		engine,
		tradeLedger,
		store,
		prices,
		rateLimited,
		killSwitch,
		notify,
		cfg.Exchange.Leverage,
		logger,
	)

	// ==================== Планировщик ====================

	scheduler := orchestrator.New(orchestrator.Config{
		TradeUpdate:  cfg.Scheduler.TradeUpdateInterval,
		Opportunity:  cfg.Scheduler.OpportunityInterval,
		PairRefresh:  cfg.Scheduler.PairRefreshInterval,
		PositionSync: cfg.Scheduler.PositionSyncInterval,
	}, tradeLedger, pairOrch, scanner, logger)

	// ==================== Telegram ====================

	// Бот подключается до старта планировщика, чтобы циклы сразу
	// видели канал уведомлений
	if cfg.Telegram.BotToken != "" {
		bot, err = telegram.NewBot(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			cfg.Telegram.AdminIDs,
			store,
			tradeLedger,
			engine,
			killSwitch,
			scheduler,
			logger,
		)
		if err != nil {
			logger.Fatal("❌ Не удалось создать Telegram бота", zap.Error(err))
		}
		go bot.Start()
	} else {
		logger.Info("Telegram бот выключен: TELEGRAM_BOT_TOKEN не задан")
	}

	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			logger.Fatal("❌ Не удалось запустить планировщик", zap.Error(err))
		}
	} else {
		logger.Info("⏸ Планировщик выключен, циклы только через API")
	}

	// ==================== HTTP API ====================

	server := api.NewServer(
		logger,
		scheduler,
		store,
		policyEngine,
		killSwitch,
		engine,
		client,
		cfg.API.Port,
	)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("❌ HTTP сервер упал", zap.Error(err))
		}
	}()

	logger.Info("✅ Бот запущен и готов к работе")

	// ==================== Остановка ====================

	<-ctx.Done()
	logger.Info("🛑 Получен сигнал остановки...")

	if scheduler.Running() {
		scheduler.Stop()
	}
	if bot != nil {
		bot.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Ошибка остановки HTTP сервера", zap.Error(err))
	}

	logger.Info("✅ Бот остановлен")
}

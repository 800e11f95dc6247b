// Package orchestrator — планировщик торговых циклов
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
	"github.com/kirillm/statarb-bot/internal/monitoring"
)

// Имена циклов. Используются в логах, метриках и ошибках занятости.
const (
	CycleTradeUpdate  = "trade_update"
	CycleOpportunity  = "opportunity"
	CyclePairRefresh  = "pair_refresh"
	CyclePositionSync = "position_sync"
)

// TradeUpdater переоценивает открытые сделки и сверяет их с биржей
type TradeUpdater interface {
	UpdateAll(ctx context.Context) error
	SyncPositions(ctx context.Context) error
}

// OpportunityRunner ищет точки входа и открывает парные сделки
type OpportunityRunner interface {
	RunOpportunityCheck(ctx context.Context) error
}

// PairScanner пересчитывает статистику пар торговой вселенной
type PairScanner interface {
	RefreshPairs(ctx context.Context) (int, error)
}

// Config интервалы планировщика
type Config struct {
	TradeUpdate  time.Duration
	Opportunity  time.Duration
	PairRefresh  time.Duration
	PositionSync time.Duration
}

// Orchestrator запускает циклы по расписанию. Те же циклы доступны
// через HTTP, поэтому каждый тип цикла закрыт своим мьютексом:
// повторный запуск того же типа получает ErrCycleBusy вместо ожидания.
//
// Порядок блокировок: update < opportunity. Проверка возможностей
// берет обе, чтобы не гоняться с переоценкой и принудительными
// закрытиями. Остальные циклы друг другу не мешают.
type Orchestrator struct {
	cfg     Config
	trades  TradeUpdater
	pairs   OpportunityRunner
	scanner PairScanner
	logger  *zap.Logger

	updateMu      sync.Mutex
	opportunityMu sync.Mutex
	refreshMu     sync.Mutex
	syncMu        sync.Mutex

	runMu     sync.Mutex
	stopChan  chan struct{}
	isRunning bool
}

// New создает планировщик. Нулевые интервалы заменяются значениями по умолчанию.
func New(cfg Config, trades TradeUpdater, pairs OpportunityRunner, scanner PairScanner, logger *zap.Logger) *Orchestrator {
	if cfg.TradeUpdate <= 0 {
		cfg.TradeUpdate = time.Minute
	}
	if cfg.Opportunity <= 0 {
		cfg.Opportunity = 5 * time.Minute
	}
	if cfg.PairRefresh <= 0 {
		cfg.PairRefresh = time.Hour
	}
	if cfg.PositionSync <= 0 {
		cfg.PositionSync = 15 * time.Minute
	}
	return &Orchestrator{
		cfg:      cfg,
		trades:   trades,
		pairs:    pairs,
		scanner:  scanner,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start запускает фоновый цикл планировщика
func (o *Orchestrator) Start(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if o.isRunning {
		return fmt.Errorf("orchestrator already running")
	}
	o.isRunning = true

	o.logger.Info("🚀 Планировщик запущен",
		zap.Duration("trade_update", o.cfg.TradeUpdate),
		zap.Duration("opportunity", o.cfg.Opportunity),
		zap.Duration("pair_refresh", o.cfg.PairRefresh),
		zap.Duration("position_sync", o.cfg.PositionSync))

	go o.run(ctx)

	return nil
}

// Stop останавливает планировщик
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if !o.isRunning {
		return
	}

	o.logger.Info("🛑 Останавливаем планировщик...")
	close(o.stopChan)
	o.isRunning = false
	o.logger.Info("✅ Планировщик остановлен")
}

// Running сообщает, работает ли планировщик
func (o *Orchestrator) Running() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.isRunning
}

// run основной цикл планировщика
func (o *Orchestrator) run(ctx context.Context) {
	updateTicker := time.NewTicker(o.cfg.TradeUpdate)
	defer updateTicker.Stop()
	opportunityTicker := time.NewTicker(o.cfg.Opportunity)
	defer opportunityTicker.Stop()
	refreshTicker := time.NewTicker(o.cfg.PairRefresh)
	defer refreshTicker.Stop()
	syncTicker := time.NewTicker(o.cfg.PositionSync)
	defer syncTicker.Stop()

	// Сразу после старта сверяем книгу с биржей и переоцениваем сделки,
	// не дожидаясь первого тика
	o.runScheduled(ctx, CyclePositionSync, o.RunPositionSync)
	o.runScheduled(ctx, CycleTradeUpdate, o.RunTradeUpdate)

	for {
		select {
		case <-updateTicker.C:
			o.runScheduled(ctx, CycleTradeUpdate, o.RunTradeUpdate)

		case <-opportunityTicker.C:
			o.runScheduled(ctx, CycleOpportunity, o.RunOpportunityCheck)

		case <-refreshTicker.C:
			o.runScheduled(ctx, CyclePairRefresh, o.RunPairRefresh)

		case <-syncTicker.C:
			o.runScheduled(ctx, CyclePositionSync, o.RunPositionSync)

		case <-o.stopChan:
			return

		case <-ctx.Done():
			return
		}
	}
}

// runScheduled выполняет цикл по тику и разбирает исход в логах
func (o *Orchestrator) runScheduled(ctx context.Context, cycle string, fn func(context.Context) error) {
	err := fn(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrCycleBusy):
		o.logger.Debug("Цикл уже выполняется, тик пропущен", zap.String("cycle", cycle))
	case errors.Is(err, domain.ErrTradingPaused):
		o.logger.Info("⏸ Торговля на паузе, цикл пропущен", zap.String("cycle", cycle))
	case ctx.Err() != nil:
		// Остановка процесса, не ошибка цикла
	default:
		o.logger.Error("❌ Цикл завершился с ошибкой",
			zap.String("cycle", cycle),
			zap.Error(err))
	}
}

// RunTradeUpdate переоценивает открытые сделки по свежим ценам
func (o *Orchestrator) RunTradeUpdate(ctx context.Context) error {
	if !o.updateMu.TryLock() {
		return fmt.Errorf("%w: %s", domain.ErrCycleBusy, CycleTradeUpdate)
	}
	defer o.updateMu.Unlock()

	return o.observe(CycleTradeUpdate, func() error {
		return o.trades.UpdateAll(ctx)
	})
}

// RunOpportunityCheck ищет точки входа. Держит блокировку переоценки
// на весь цикл, чтобы защитные закрытия не меняли книгу под ногами.
func (o *Orchestrator) RunOpportunityCheck(ctx context.Context) error {
	if !o.updateMu.TryLock() {
		return fmt.Errorf("%w: %s", domain.ErrCycleBusy, CycleOpportunity)
	}
	defer o.updateMu.Unlock()

	if !o.opportunityMu.TryLock() {
		return fmt.Errorf("%w: %s", domain.ErrCycleBusy, CycleOpportunity)
	}
	defer o.opportunityMu.Unlock()

	return o.observe(CycleOpportunity, func() error {
		return o.pairs.RunOpportunityCheck(ctx)
	})
}

// RunPairRefresh пересчитывает корреляции и коинтеграцию вселенной
func (o *Orchestrator) RunPairRefresh(ctx context.Context) error {
	if !o.refreshMu.TryLock() {
		return fmt.Errorf("%w: %s", domain.ErrCycleBusy, CyclePairRefresh)
	}
	defer o.refreshMu.Unlock()

	return o.observe(CyclePairRefresh, func() error {
		n, err := o.scanner.RefreshPairs(ctx)
		if err != nil {
			return err
		}
		o.logger.Info("✅ Пары пересчитаны", zap.Int("eligible", n))
		return nil
	})
}

// RunPositionSync сверяет реестр сделок с позициями на бирже
func (o *Orchestrator) RunPositionSync(ctx context.Context) error {
	if !o.syncMu.TryLock() {
		return fmt.Errorf("%w: %s", domain.ErrCycleBusy, CyclePositionSync)
	}
	defer o.syncMu.Unlock()

	return o.observe(CyclePositionSync, func() error {
		return o.trades.SyncPositions(ctx)
	})
}

// observe замеряет длительность цикла для метрик
func (o *Orchestrator) observe(cycle string, fn func() error) error {
	start := time.Now()
	err := fn()
	monitoring.ObserveCycle(cycle, time.Since(start).Seconds())
	return err
}

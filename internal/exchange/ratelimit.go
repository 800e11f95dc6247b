package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kirillm/statarb-bot/internal/domain"
	"github.com/kirillm/statarb-bot/internal/monitoring"
)

// RawClient — низкоуровневые операции биржи, которые оборачивает лимитер
type RawClient interface {
	EnsureInitialized(ctx context.Context) error
	GetMids(ctx context.Context) (map[string]float64, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetAccountState(ctx context.Context) (*domain.AccountState, error)
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)
	GetCandles(ctx context.Context, symbol, interval string, lookback int) ([]domain.Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderStatus, error)
	SizeIncrement(symbol string) float64
}

// EventSink — журнал, в который durable пишутся исчерпанные ретраи
type EventSink interface {
	LogAPIError(operation, message string, attempts int) error
}

// RateLimitOptions — настройки троттлинга вызовов биржи
type RateLimitOptions struct {
	MaxRequests int           // запросов в окне
	Window      time.Duration // скользящее окно
	MinInterval time.Duration // минимальный зазор между запросами
	CallTimeout time.Duration // таймаут одного вызова
}

// DefaultRateLimitOptions — значения по умолчанию
func DefaultRateLimitOptions() RateLimitOptions {
	return RateLimitOptions{
		MaxRequests: 30,
		Window:      60 * time.Second,
		MinInterval: 200 * time.Millisecond,
		CallTimeout: 15 * time.Second,
	}
}

// RateLimitedClient оборачивает Client троттлингом, таймаутами и ретраями.
// Все зависимости передаются явно через конструктор.
type RateLimitedClient struct {
	client  RawClient
	sink    EventSink
	logger  *zap.Logger
	opts    RateLimitOptions
	gap     *rate.Limiter
	backoff time.Duration

	mu     sync.Mutex
	stamps []time.Time

	// подменяются в тестах
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimitedClient(client RawClient, sink EventSink, opts RateLimitOptions, logger *zap.Logger) *RateLimitedClient {
	if opts.MaxRequests < 1 {
		opts.MaxRequests = 1
	}
	if opts.Window <= 0 {
		opts.Window = 60 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	return &RateLimitedClient{
		client:  client,
		sink:    sink,
		logger:  logger,
		opts:    opts,
		gap:     rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		backoff: time.Second,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// GetMids возвращает средние цены всех рынков
func (r *RateLimitedClient) GetMids(ctx context.Context) (map[string]float64, error) {
	var mids map[string]float64
	err := r.do(ctx, "get_mids", 3, func(ctx context.Context) error {
		var err error
		mids, err = r.client.GetMids(ctx)
		return err
	})
	return mids, err
}

// GetPrice возвращает среднюю цену символа
func (r *RateLimitedClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := r.do(ctx, "get_price", 3, func(ctx context.Context) error {
		var err error
		price, err = r.client.GetPrice(ctx, symbol)
		return err
	})
	return price, err
}

// GetAccountState возвращает сводку счета
func (r *RateLimitedClient) GetAccountState(ctx context.Context) (*domain.AccountState, error) {
	var state *domain.AccountState
	err := r.do(ctx, "get_account_state", 3, func(ctx context.Context) error {
		var err error
		state, err = r.client.GetAccountState(ctx)
		return err
	})
	return state, err
}

// GetPositions возвращает все открытые позиции
func (r *RateLimitedClient) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var positions []domain.Position
	err := r.do(ctx, "get_positions", 3, func(ctx context.Context) error {
		var err error
		positions, err = r.client.GetPositions(ctx)
		return err
	})
	return positions, err
}

// GetPosition возвращает позицию по символу, nil если позиции нет
func (r *RateLimitedClient) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	var position *domain.Position
	err := r.do(ctx, "get_position", 3, func(ctx context.Context) error {
		var err error
		position, err = r.client.GetPosition(ctx, symbol)
		return err
	})
	return position, err
}

// GetCandles возвращает последние свечи символа
func (r *RateLimitedClient) GetCandles(ctx context.Context, symbol, interval string, lookback int) ([]domain.Candle, error) {
	var candles []domain.Candle
	err := r.do(ctx, "get_candles", 4, func(ctx context.Context) error {
		var err error
		candles, err = r.client.GetCandles(ctx, symbol, interval, lookback)
		return err
	})
	return candles, err
}

// PlaceOrder размещает ордер. Ретраев здесь два: внешнюю
// лестницу попыток ведет движок исполнения.
func (r *RateLimitedClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderStatus, error) {
	var status *OrderStatus
	err := r.do(ctx, "place_order", 2, func(ctx context.Context) error {
		var err error
		status, err = r.client.PlaceOrder(ctx, req)
		return err
	})
	return status, err
}

// SizeIncrement возвращает шаг размера символа из кэша метаданных
func (r *RateLimitedClient) SizeIncrement(symbol string) float64 {
	return r.client.SizeIncrement(symbol)
}

// do выполняет вызов с обеспечением сессии, троттлингом, таймаутом и ретраями
func (r *RateLimitedClient) do(ctx context.Context, operation string, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	r.ensureSession(ctx)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := r.throttle(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s", domain.ErrOrderTimeout, operation)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		if attempt < attempts {
			wait := r.backoffDelay(attempt)
			r.logger.Debug("retrying exchange call",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err))
			if err := r.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	// Ретраи исчерпаны: фиксируем сбой в хранилище событий
	if err := r.sink.LogAPIError(operation, lastErr.Error(), attempts); err != nil {
		r.logger.Warn("failed to persist api error", zap.Error(err))
	}
	monitoring.IncAPIFailure(operation)
	r.logger.Error("exchange call failed after retries",
		zap.String("operation", operation),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))

	return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}

// ensureSession инициализирует сессию биржи, повторяя попытку один раз.
// Ошибки инициализации проглатываются: если сессия действительно
// недоступна, упадет сам вызов.
func (r *RateLimitedClient) ensureSession(ctx context.Context) {
	if err := r.client.EnsureInitialized(ctx); err != nil {
		r.logger.Warn("exchange session init failed, retrying once", zap.Error(err))
		if err := r.client.EnsureInitialized(ctx); err != nil {
			r.logger.Warn("exchange session init retry failed", zap.Error(err))
		}
	}
}

// throttle выдерживает скользящее окно и минимальный зазор между запросами
func (r *RateLimitedClient) throttle(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := r.now()
		cutoff := now.Add(-r.opts.Window)

		kept := r.stamps[:0]
		for _, ts := range r.stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		r.stamps = kept

		if len(r.stamps) < r.opts.MaxRequests {
			r.stamps = append(r.stamps, now)
			r.mu.Unlock()
			break
		}

		wait := r.stamps[0].Sub(cutoff)
		r.mu.Unlock()

		monitoring.IncRateLimitWait()
		r.logger.Debug("rate limit window full, waiting", zap.Duration("wait", wait))
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if r.opts.MinInterval <= 0 {
		return nil
	}
	return r.gap.Wait(ctx)
}

// backoffDelay возвращает экспоненциальную задержку с джиттером
func (r *RateLimitedClient) backoffDelay(attempt int) time.Duration {
	d := r.backoff * time.Duration(1<<(attempt-1))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

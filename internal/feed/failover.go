package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// DefaultStaleness — возраст, после которого котировка из потока
// считается устаревшей
const DefaultStaleness = 10 * time.Second

// MidSource — кэш котировок из потока
type MidSource interface {
	Mid(symbol string) (float64, time.Time, bool)
}

// RESTSource — запрос цены напрямую у биржи
type RESTSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Failover выбирает источник цены: свежая котировка из потока, затем
// REST, затем последнее известное значение с предупреждением.
type Failover struct {
	ws        MidSource
	rest      RESTSource
	staleness time.Duration
	logger    *zap.Logger

	// подменяется в тестах
	now func() time.Time

	mu       sync.RWMutex
	lastGood map[string]float64
}

func NewFailover(ws MidSource, rest RESTSource, staleness time.Duration, logger *zap.Logger) *Failover {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Failover{
		ws:        ws,
		rest:      rest,
		staleness: staleness,
		logger:    logger,
		now:       time.Now,
		lastGood:  make(map[string]float64),
	}
}

// GetPrice возвращает лучшую доступную цену символа.
// Совсем без цены — domain.ErrPriceUnavailable.
func (f *Failover) GetPrice(ctx context.Context, symbol string) (float64, error) {
	key := domain.NormalizeSymbol(symbol)

	var wsPrice float64
	var wsAt time.Time
	var wsOK bool
	if f.ws != nil {
		wsPrice, wsAt, wsOK = f.ws.Mid(key)
		if wsOK && f.now().Sub(wsAt) <= f.staleness {
			f.remember(key, wsPrice)
			return wsPrice, nil
		}
	}

	price, err := f.rest.GetPrice(ctx, key)
	if err == nil {
		f.remember(key, price)
		return price, nil
	}
	f.logger.Debug("REST цена недоступна",
		zap.String("symbol", key), zap.Error(err))

	// Устаревшая котировка лучше, чем никакая
	if wsOK {
		f.logger.Warn("⚠️ Используем устаревшую цену из потока",
			zap.String("symbol", key),
			zap.Duration("age", f.now().Sub(wsAt)))
		return wsPrice, nil
	}

	f.mu.RLock()
	cached, ok := f.lastGood[key]
	f.mu.RUnlock()
	if ok {
		f.logger.Warn("⚠️ Используем последнюю известную цену",
			zap.String("symbol", key))
		return cached, nil
	}

	return 0, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, key)
}

func (f *Failover) remember(symbol string, price float64) {
	f.mu.Lock()
	f.lastGood[symbol] = price
	f.mu.Unlock()
}

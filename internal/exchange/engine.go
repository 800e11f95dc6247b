package exchange

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
	"github.com/kirillm/statarb-bot/internal/monitoring"
)

// OrderClient — операции биржи, нужные движку исполнения
type OrderClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderStatus, error)
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetAccountState(ctx context.Context) (*domain.AccountState, error)
	SizeIncrement(symbol string) float64
}

// PriceSource — источник опорных цен для агрессивных лимиток
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// TradeEventSink — журнал событий исполнения
type TradeEventSink interface {
	LogEvent(name string, data map[string]interface{}) error
}

type ladderStep struct {
	slippage float64
	tif      string
}

// Лестница открытия: два IOC с растущим slippage, затем GTC в книгу
var openLadder = []ladderStep{
	{slippage: 0.005, tif: domain.TifIoc},
	{slippage: 0.02, tif: domain.TifIoc},
	{slippage: 0.05, tif: domain.TifGtc},
}

// Лестница закрытия: reduceOnly, более агрессивные уровни
var closeLadder = []ladderStep{
	{slippage: 0.02, tif: domain.TifIoc},
	{slippage: 0.10, tif: domain.TifIoc},
	{slippage: 0.15, tif: domain.TifGtc},
}

// partialCloseTolerance — доля исходного размера, выше которой остаток
// после закрытия считается проблемой
const partialCloseTolerance = 0.05

// OrderResult — успешный исход лестницы ордеров
type OrderResult struct {
	OrderID  int64
	Symbol   string
	IsBuy    bool
	Size     float64
	AvgPrice float64
	Resting  bool // GTC принят в книгу, но еще не исполнен
	Attempt  int  // номер ступени лестницы (с единицы)
}

// CloseResult — исход закрытия позиции
type CloseResult struct {
	Symbol     string
	NoPosition bool
	Closed     float64
	Remaining  float64
	Partial    bool
	Order      *OrderResult
}

// Engine — движок исполнения: квантование, лестницы ордеров,
// деградирующие чтения счета
type Engine struct {
	client OrderClient
	prices PriceSource
	events TradeEventSink
	logger *zap.Logger
}

func NewEngine(client OrderClient, prices PriceSource, events TradeEventSink, logger *zap.Logger) *Engine {
	return &Engine{
		client: client,
		prices: prices,
		events: events,
		logger: logger,
	}
}

// PlaceMarketOrder проводит ордер по лестнице агрессивных лимиток.
// Принятый в книгу GTC считается успехом с синтетическими маркерами.
func (e *Engine) PlaceMarketOrder(ctx context.Context, symbol string, isBuy bool, size float64) (*OrderResult, error) {
	symbol = domain.NormalizeSymbol(symbol)
	tick := e.client.SizeIncrement(symbol)
	qty := QuantizeSize(size, tick)
	if qty <= 0 {
		return nil, fmt.Errorf("%w: size %.8f below increment %.8f for %s", domain.ErrInvalidInput, size, tick, symbol)
	}

	var lastErr error
	for i, step := range openLadder {
		attempt := i + 1
		result, err := e.tryStep(ctx, symbol, isBuy, qty, tick, step, false, attempt)
		if err == nil && result != nil {
			monitoring.IncOrder(sideWord(isBuy), attempt)
			e.logger.Info("✅ order executed",
				zap.String("symbol", symbol),
				zap.String("side", sideWord(isBuy)),
				zap.Float64("size", result.Size),
				zap.Float64("price", result.AvgPrice),
				zap.Bool("resting", result.Resting),
				zap.Int("attempt", attempt))
			return result, nil
		}
		if err != nil {
			lastErr = err
			e.logger.Warn("order attempt failed",
				zap.String("symbol", symbol),
				zap.String("side", sideWord(isBuy)),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	monitoring.IncOrderFailure(sideWord(isBuy))
	return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrAllAttemptsFailed, sideWord(isBuy), symbol, lastErr)
}

// ClosePosition закрывает живую позицию по лестнице reduceOnly ордеров.
// Отсутствие позиции — успех, закрытие никогда не должно отказать
// из-за расхождения размеров.
func (e *Engine) ClosePosition(ctx context.Context, symbol string) (*CloseResult, error) {
	symbol = domain.NormalizeSymbol(symbol)

	pos, err := e.client.GetPosition(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to read position before close: %w", err)
	}
	if pos == nil || pos.IsFlat() {
		return &CloseResult{Symbol: symbol, NoPosition: true}, nil
	}

	original := math.Abs(pos.Size)
	// Закрываем ровно живой размер: заявка не может превысить позицию
	isBuy := pos.Size < 0
	tick := e.client.SizeIncrement(symbol)
	qty := QuantizeSize(original, tick)
	if qty <= 0 {
		qty = original
	}

	var order *OrderResult
	var lastErr error
	for i, step := range closeLadder {
		attempt := i + 1
		result, err := e.tryStep(ctx, symbol, isBuy, qty, tick, step, true, attempt)
		if err == nil && result != nil {
			order = result
			break
		}
		if err != nil {
			lastErr = err
			// Нехватка ликвидности на IOC — штатный переход на следующую ступень
			e.logger.Warn("close attempt failed",
				zap.String("symbol", symbol),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if order == nil {
		return nil, fmt.Errorf("%w: close %s: %w", domain.ErrAllAttemptsFailed, symbol, lastErr)
	}

	result := &CloseResult{
		Symbol: symbol,
		Closed: order.Size,
		Order:  order,
	}

	// Сверяем фактический остаток позиции
	after, err := e.client.GetPosition(ctx, symbol)
	if err != nil {
		e.logger.Warn("failed to verify position after close", zap.String("symbol", symbol), zap.Error(err))
		return result, nil
	}
	remaining := 0.0
	if after != nil {
		remaining = math.Abs(after.Size)
	}
	result.Remaining = remaining

	if remaining <= domain.DustSize {
		return result, nil
	}
	if remaining > partialCloseTolerance*original {
		result.Partial = true
		e.logger.Warn("⚠️ position closed partially",
			zap.String("symbol", symbol),
			zap.Float64("original", original),
			zap.Float64("remaining", remaining))
		if err := e.events.LogEvent(domain.EventPartialCloseWarning, map[string]interface{}{
			"symbol":    symbol,
			"original":  original,
			"remaining": remaining,
		}); err != nil {
			e.logger.Warn("failed to log partial close event", zap.Error(err))
		}
	}
	return result, nil
}

// tryStep размещает одну ступень лестницы и интерпретирует статус
func (e *Engine) tryStep(ctx context.Context, symbol string, isBuy bool, qty, tick float64, step ladderStep, reduceOnly bool, attempt int) (*OrderResult, error) {
	ref, err := e.prices.GetPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("no reference price: %w", err)
	}

	px := QuantizePrice(symbol, ApplySlippage(ref, isBuy, step.slippage), tick)
	req := OrderRequest{
		Coin:       symbol,
		IsBuy:      isBuy,
		Size:       FormatSize(qty, tick),
		LimitPx:    FormatPrice(symbol, px, tick),
		OrderType:  OrderType{Limit: &LimitOrderType{Tif: step.tif}},
		ReduceOnly: reduceOnly,
	}

	status, err := e.client.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	switch {
	case status.Filled != nil:
		return &OrderResult{
			OrderID:  status.Filled.Oid,
			Symbol:   symbol,
			IsBuy:    isBuy,
			Size:     status.Filled.TotalSz,
			AvgPrice: status.Filled.AvgPx,
			Attempt:  attempt,
		}, nil
	case status.Accepted != nil && step.tif == domain.TifGtc:
		// GTC лежит в книге: успех с синтетической ценой и размером заявки
		return &OrderResult{
			OrderID:  status.Accepted.Oid,
			Symbol:   symbol,
			IsBuy:    isBuy,
			Size:     qty,
			AvgPrice: px,
			Resting:  true,
			Attempt:  attempt,
		}, nil
	case status.Accepted != nil:
		return nil, fmt.Errorf("%w: accepted status on %s order", domain.ErrProtocol, step.tif)
	case status.Err != "":
		return nil, classifyStatusError(status.Err)
	default:
		return nil, fmt.Errorf("%w: empty order status", domain.ErrProtocol)
	}
}

// GetAccountState возвращает сводку счета, деградируя к нулевым
// значениям при сбое: чтения баланса не должны валить цикл.
func (e *Engine) GetAccountState(ctx context.Context) *domain.AccountState {
	state, err := e.client.GetAccountState(ctx)
	if err != nil || state == nil {
		e.logger.Warn("account state unavailable, degrading to zero", zap.Error(err))
		return &domain.AccountState{}
	}
	return state
}

// GetPosition возвращает позицию по символу. Ошибки пробрасываются:
// проверки безопасности не имеют права видеть фальшивый ноль.
func (e *Engine) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	return e.client.GetPosition(ctx, symbol)
}

// GetPositions возвращает все живые позиции счета
func (e *Engine) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return e.client.GetPositions(ctx)
}

// classifyStatusError различает нехватку ликвидности и прочие отказы
func classifyStatusError(msg string) error {
	if strings.Contains(strings.ToLower(msg), "could not immediately match") {
		return fmt.Errorf("%w: %s", domain.ErrNoImmediateMatch, msg)
	}
	return fmt.Errorf("%w: %s", domain.ErrExchangeAPI, msg)
}

func sideWord(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}

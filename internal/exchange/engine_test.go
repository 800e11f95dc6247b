package exchange

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
)

type mockOrderClient struct {
	placeFn   func(req OrderRequest) (*OrderStatus, error)
	requests  []OrderRequest
	posQueue  []*domain.Position
	posErr    error
	account   *domain.AccountState
	accErr    error
	increment float64
}

func (m *mockOrderClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderStatus, error) {
	m.requests = append(m.requests, req)
	return m.placeFn(req)
}

func (m *mockOrderClient) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	if m.posErr != nil {
		return nil, m.posErr
	}
	if len(m.posQueue) == 0 {
		return nil, nil
	}
	pos := m.posQueue[0]
	m.posQueue = m.posQueue[1:]
	return pos, nil
}

func (m *mockOrderClient) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func (m *mockOrderClient) GetAccountState(ctx context.Context) (*domain.AccountState, error) {
	return m.account, m.accErr
}

func (m *mockOrderClient) SizeIncrement(symbol string) float64 {
	if m.increment > 0 {
		return m.increment
	}
	return 0.001
}

type staticPrices struct {
	price float64
	err   error
}

func (p *staticPrices) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return p.price, p.err
}

type eventRecorder struct {
	events []string
}

func (r *eventRecorder) LogEvent(name string, data map[string]interface{}) error {
	r.events = append(r.events, name)
	return nil
}

func newTestEngine(client *mockOrderClient, price float64) (*Engine, *eventRecorder) {
	events := &eventRecorder{}
	engine := NewEngine(client, &staticPrices{price: price}, events, zap.NewNop())
	return engine, events
}

func TestPlaceMarketOrderFirstAttemptFill(t *testing.T) {
	client := &mockOrderClient{
		placeFn: func(req OrderRequest) (*OrderStatus, error) {
			return &OrderStatus{Filled: &FilledStatus{Oid: 42, AvgPx: 2001.5, TotalSz: 0.5}}, nil
		},
	}
	engine, _ := newTestEngine(client, 2000)

	result, err := engine.PlaceMarketOrder(context.Background(), "ETH-PERP", true, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", result.Attempt)
	}
	if result.OrderID != 42 || result.AvgPrice != 2001.5 || result.Size != 0.5 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Resting {
		t.Error("filled order must not be marked resting")
	}

	req := client.requests[0]
	if req.OrderType.Limit == nil || req.OrderType.Limit.Tif != domain.TifIoc {
		t.Errorf("first attempt must be IOC, got %+v", req.OrderType)
	}
	// Покупка: цена сдвинута вверх на 0.5%
	if req.LimitPx != "2010" {
		t.Errorf("limit price = %s, want 2010", req.LimitPx)
	}
	if req.ReduceOnly {
		t.Error("open order must not be reduceOnly")
	}
}

func TestPlaceMarketOrderEscalatesToGtc(t *testing.T) {
	call := 0
	client := &mockOrderClient{
		placeFn: func(req OrderRequest) (*OrderStatus, error) {
			call++
			if call < 3 {
				return &OrderStatus{Err: "Order could not immediately match against any resting orders."}, nil
			}
			return &OrderStatus{Accepted: &AcceptedStatus{Oid: 99}}, nil
		},
	}
	engine, _ := newTestEngine(client, 2000)

	result, err := engine.PlaceMarketOrder(context.Background(), "ETH-PERP", false, 1.25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Resting {
		t.Error("accepted GTC must be marked resting")
	}
	if result.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", result.Attempt)
	}
	if result.OrderID != 99 {
		t.Errorf("order id = %d, want 99", result.OrderID)
	}
	// Синтетические маркеры: размер заявки и лимитная цена ступени
	if result.Size != 1.25 {
		t.Errorf("size = %v, want requested 1.25", result.Size)
	}
	if math.Abs(result.AvgPrice-1900) > 1e-9 {
		t.Errorf("price = %v, want 1900 (-5%%)", result.AvgPrice)
	}

	last := client.requests[len(client.requests)-1]
	if last.OrderType.Limit.Tif != domain.TifGtc {
		t.Errorf("final attempt tif = %s, want Gtc", last.OrderType.Limit.Tif)
	}
}

func TestPlaceMarketOrderAllAttemptsFail(t *testing.T) {
	client := &mockOrderClient{
		placeFn: func(req OrderRequest) (*OrderStatus, error) {
			return &OrderStatus{Err: "margin check failed"}, nil
		},
	}
	engine, _ := newTestEngine(client, 2000)

	_, err := engine.PlaceMarketOrder(context.Background(), "ETH-PERP", true, 0.5)
	if !errors.Is(err, domain.ErrAllAttemptsFailed) {
		t.Fatalf("expected ErrAllAttemptsFailed, got %v", err)
	}
	if len(client.requests) != 3 {
		t.Errorf("expected full ladder of 3 attempts, got %d", len(client.requests))
	}
}

func TestPlaceMarketOrderRejectsDustSize(t *testing.T) {
	client := &mockOrderClient{
		placeFn: func(req OrderRequest) (*OrderStatus, error) {
			t.Fatal("order must not reach the exchange")
			return nil, nil
		},
	}
	engine, _ := newTestEngine(client, 2000)

	if _, err := engine.PlaceMarketOrder(context.Background(), "ETH-PERP", true, 0.0004); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestClosePositionNoPosition(t *testing.T) {
	client := &mockOrderClient{
		posQueue: []*domain.Position{nil},
		placeFn: func(req OrderRequest) (*OrderStatus, error) {
			t.Fatal("no order expected when position is flat")
			return nil, nil
		},
	}
	engine, _ := newTestEngine(client, 2000)

	result, err := engine.ClosePosition(context.Background(), "ETH-PERP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NoPosition {
		t.Error("expected NoPosition result")
	}
}

func TestClosePositionShortUsesBuyReduceOnly(t *testing.T) {
	client := &mockOrderClient{
		posQueue: []*domain.Position{
			{Symbol: "ETH-PERP", Size: -0.5},
			nil, // после закрытия позиции нет
		},
		placeFn: func(req OrderRequest) (*OrderStatus, error) {
			return &OrderStatus{Filled: &FilledStatus{Oid: 7, AvgPx: 2040, TotalSz: 0.5}}, nil
		},
	}
	engine, _ := newTestEngine(client, 2000)

	result, err := engine.ClosePosition(context.Background(), "ETH-PERP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NoPosition || result.Partial {
		t.Errorf("unexpected result flags: %+v", result)
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %v, want 0", result.Remaining)
	}

	req := client.requests[0]
	if !req.IsBuy {
		t.Error("closing a short must buy")
	}
	if !req.ReduceOnly {
		t.Error("close orders must be reduceOnly")
	}
	if req.Size != "0.5" {
		t.Errorf("close size = %s, want live position size 0.5", req.Size)
	}
}

func TestClosePositionLadderOnNoLiquidity(t *testing.T) {
	call := 0
	client := &mockOrderClient{
		posQueue: []*domain.Position{
			{Symbol: "ETH-PERP", Size: 2},
			nil,
		},
		placeFn: func(req OrderRequest) (*OrderStatus, error) {
			call++
			if call == 1 {
				return &OrderStatus{Err: "Order could not immediately match against any resting orders."}, nil
			}
			return &OrderStatus{Filled: &FilledStatus{Oid: 3, AvgPx: 1800, TotalSz: 2}}, nil
		},
	}
	engine, _ := newTestEngine(client, 2000)

	result, err := engine.ClosePosition(context.Background(), "ETH-PERP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Order.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", result.Order.Attempt)
	}
}

func TestClosePositionPartialWarning(t *testing.T) {
	client := &mockOrderClient{
		posQueue: []*domain.Position{
			{Symbol: "ETH-PERP", Size: 1.0},
			{Symbol: "ETH-PERP", Size: 0.2}, // осталось 20% исходного
		},
		placeFn: func(req OrderRequest) (*OrderStatus, error) {
			return &OrderStatus{Filled: &FilledStatus{Oid: 5, AvgPx: 1960, TotalSz: 0.8}}, nil
		},
	}
	engine, events := newTestEngine(client, 2000)

	result, err := engine.ClosePosition(context.Background(), "ETH-PERP")
	if err != nil {
		t.Fatalf("partial close must stay non-fatal: %v", err)
	}
	if !result.Partial {
		t.Error("expected Partial flag")
	}
	if len(events.events) != 1 || events.events[0] != domain.EventPartialCloseWarning {
		t.Errorf("expected partial_close_warning event, got %v", events.events)
	}
}

func TestGetAccountStateDegradesToZero(t *testing.T) {
	client := &mockOrderClient{accErr: errors.New("api down")}
	engine, _ := newTestEngine(client, 2000)

	state := engine.GetAccountState(context.Background())
	if state == nil {
		t.Fatal("degraded state must not be nil")
	}
	if state.AccountValue != 0 || state.AvailableMargin != 0 {
		t.Errorf("expected zero-valued state, got %+v", state)
	}
}

package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
)

type mockRawClient struct {
	initErr   error
	initCalls int
	midsFn    func() (map[string]float64, error)
	midsCalls int
}

func (m *mockRawClient) EnsureInitialized(ctx context.Context) error {
	m.initCalls++
	return m.initErr
}

func (m *mockRawClient) GetMids(ctx context.Context) (map[string]float64, error) {
	m.midsCalls++
	if m.midsFn != nil {
		return m.midsFn()
	}
	return map[string]float64{"BTC-PERP": 43000}, nil
}

func (m *mockRawClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func (m *mockRawClient) GetAccountState(ctx context.Context) (*domain.AccountState, error) {
	return &domain.AccountState{}, nil
}

func (m *mockRawClient) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func (m *mockRawClient) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	return nil, nil
}

func (m *mockRawClient) GetCandles(ctx context.Context, symbol, interval string, lookback int) ([]domain.Candle, error) {
	return nil, nil
}

func (m *mockRawClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderStatus, error) {
	return &OrderStatus{Filled: &FilledStatus{Oid: 1}}, nil
}

func (m *mockRawClient) SizeIncrement(symbol string) float64 {
	return 0.001
}

type mockSink struct {
	records []struct {
		op       string
		msg      string
		attempts int
	}
}

func (s *mockSink) LogAPIError(operation, message string, attempts int) error {
	s.records = append(s.records, struct {
		op       string
		msg      string
		attempts int
	}{operation, message, attempts})
	return nil
}

func newTestLimiter(client RawClient, sink EventSink, maxRequests int, window time.Duration) (*RateLimitedClient, *time.Time) {
	rl := NewRateLimitedClient(client, sink, RateLimitOptions{
		MaxRequests: maxRequests,
		Window:      window,
		MinInterval: 0,
		CallTimeout: 15 * time.Second,
	}, zap.NewNop())

	cur := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return cur }
	rl.sleep = func(ctx context.Context, d time.Duration) error {
		cur = cur.Add(d)
		return nil
	}
	return rl, &cur
}

func TestSlidingWindowBound(t *testing.T) {
	client := &mockRawClient{}
	rl, cur := newTestLimiter(client, &mockSink{}, 30, time.Minute)

	issued := make([]time.Time, 0, 40)
	for i := 0; i < 40; i++ {
		if _, err := rl.GetMids(context.Background()); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		issued = append(issued, *cur)
	}

	if client.midsCalls != 40 {
		t.Fatalf("expected all 40 calls to go through, got %d", client.midsCalls)
	}

	// Ни одно 60-секундное окно не должно содержать больше 30 запросов
	for i := range issued {
		count := 0
		for j := i; j < len(issued); j++ {
			if issued[j].Sub(issued[i]) < time.Minute {
				count++
			}
		}
		if count > 30 {
			t.Fatalf("window starting at call %d contains %d requests, want <= 30", i, count)
		}
	}

	// Хвост из 10 запросов обязан был дождаться следующего окна
	if issued[30].Sub(issued[29]) < time.Minute {
		t.Errorf("call 31 was not delayed: gap %v", issued[30].Sub(issued[29]))
	}
}

func TestRetryThenSuccess(t *testing.T) {
	calls := 0
	client := &mockRawClient{
		midsFn: func() (map[string]float64, error) {
			calls++
			if calls < 3 {
				return nil, &apiError{op: "get_mids", status: 503, msg: "busy", retryable: true}
			}
			return map[string]float64{"ETH-PERP": 2000}, nil
		},
	}
	sink := &mockSink{}
	rl, _ := newTestLimiter(client, sink, 30, time.Minute)

	mids, err := rl.GetMids(context.Background())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if mids["ETH-PERP"] != 2000 {
		t.Errorf("unexpected mids: %v", mids)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(sink.records) != 0 {
		t.Errorf("sink should stay empty on eventual success, got %v", sink.records)
	}
}

func TestExhaustedRetriesAreDurablyLogged(t *testing.T) {
	client := &mockRawClient{
		midsFn: func() (map[string]float64, error) {
			return nil, &apiError{op: "get_mids", status: 500, msg: "down", retryable: true}
		},
	}
	sink := &mockSink{}
	rl, _ := newTestLimiter(client, sink, 30, time.Minute)

	_, err := rl.GetMids(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !errors.Is(err, domain.ErrExchangeAPI) {
		t.Errorf("expected ErrExchangeAPI in chain, got %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected one durable record, got %d", len(sink.records))
	}
	if sink.records[0].op != "get_mids" || sink.records[0].attempts != 3 {
		t.Errorf("unexpected record: %+v", sink.records[0])
	}
}

func TestNonRetryableFailsFast(t *testing.T) {
	calls := 0
	client := &mockRawClient{
		midsFn: func() (map[string]float64, error) {
			calls++
			return nil, &apiError{op: "get_mids", status: 400, msg: "bad request", retryable: false}
		},
	}
	sink := &mockSink{}
	rl, _ := newTestLimiter(client, sink, 30, time.Minute)

	if _, err := rl.GetMids(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("non-retryable error must not retry, got %d calls", calls)
	}
	if len(sink.records) != 0 {
		t.Errorf("fail-fast errors are not durable records, got %v", sink.records)
	}
}

func TestInitErrorsAreSwallowed(t *testing.T) {
	client := &mockRawClient{initErr: errors.New("metadata down")}
	rl, _ := newTestLimiter(client, &mockSink{}, 30, time.Minute)

	if _, err := rl.GetMids(context.Background()); err != nil {
		t.Fatalf("init failure must not fail the call itself: %v", err)
	}
	// Инициализация повторяется один раз и не пробивается наружу
	if client.initCalls != 2 {
		t.Errorf("expected init attempt plus one retry, got %d", client.initCalls)
	}
}

func TestContextCancelAbortsWait(t *testing.T) {
	client := &mockRawClient{}
	rl, _ := newTestLimiter(client, &mockSink{}, 1, time.Minute)
	rl.sleep = sleepCtx // настоящий sleep, чтобы отмена контекста имела смысл

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := rl.GetMids(ctx); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	cancel()
	if _, err := rl.GetMids(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
)

const (
	infoPath     = "/info"
	exchangePath = "/exchange"
	recvWindow   = "5000"

	// defaultSizeIncrement используется пока метаданные рынка не загружены
	defaultSizeIncrement = 0.001
)

// Client — низкоуровневый REST клиент биржи бессрочных контрактов.
// Потокобезопасен; кэширует метаданные рынков после инициализации.
type Client struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
	logger    *zap.Logger

	mu          sync.RWMutex
	initialized bool
	increments  map[string]float64 // symbol -> size increment
}

// apiError — ошибка вызова биржи с признаком повторяемости
type apiError struct {
	op        string
	status    int
	msg       string
	retryable bool
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s (http %d)", e.op, e.msg, e.status)
}

func (e *apiError) Unwrap() error {
	return domain.ErrExchangeAPI
}

// IsRetryable сообщает, имеет ли смысл повторять вызов
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.retryable
	}
	return errors.Is(err, domain.ErrOrderTimeout)
}

func NewClient(apiKey, apiSecret, baseURL string, logger *zap.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		increments: make(map[string]float64),
	}
}

// EnsureInitialized загружает и кэширует метаданные рынков.
// Повторные вызовы после успешной загрузки ничего не делают.
func (c *Client) EnsureInitialized(ctx context.Context) error {
	c.mu.RLock()
	ready := c.initialized
	c.mu.RUnlock()
	if ready {
		return nil
	}

	body, err := c.post(ctx, infoPath, map[string]interface{}{"type": "meta"}, false)
	if err != nil {
		return fmt.Errorf("failed to load exchange metadata: %w", err)
	}

	var meta metaResponse
	if err := json.Unmarshal(body, &meta); err != nil {
		return fmt.Errorf("%w: bad metadata: %v", domain.ErrProtocol, err)
	}

	c.mu.Lock()
	for _, asset := range meta.Universe {
		symbol := domain.NormalizeSymbol(asset.Name)
		c.increments[symbol] = sizeIncrementFromDecimals(asset.SzDecimals)
	}
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info("exchange metadata loaded", zap.Int("markets", len(meta.Universe)))
	return nil
}

// SizeIncrement возвращает шаг размера для символа (кэш метаданных)
func (c *Client) SizeIncrement(symbol string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if inc, ok := c.increments[domain.NormalizeSymbol(symbol)]; ok {
		return inc
	}
	return defaultSizeIncrement
}

// GetMids возвращает средние цены всех рынков
func (c *Client) GetMids(ctx context.Context) (map[string]float64, error) {
	body, err := c.post(ctx, infoPath, map[string]interface{}{"type": "allMids"}, false)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: bad mids payload: %v", domain.ErrProtocol, err)
	}

	mids := make(map[string]float64, len(raw))
	for coin, px := range raw {
		price, err := strconv.ParseFloat(px, 64)
		if err != nil {
			continue
		}
		mids[domain.NormalizeSymbol(coin)] = price
	}
	return mids, nil
}

// GetPrice возвращает среднюю цену одного символа
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	mids, err := c.GetMids(ctx)
	if err != nil {
		return 0, err
	}
	price, ok := mids[domain.NormalizeSymbol(symbol)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, symbol)
	}
	return price, nil
}

// GetAccountState возвращает сводку счета
func (c *Client) GetAccountState(ctx context.Context) (*domain.AccountState, error) {
	ch, err := c.clearinghouse(ctx)
	if err != nil {
		return nil, err
	}

	state := &domain.AccountState{
		AccountValue:    parseFloat(ch.MarginSummary.AccountValue),
		AvailableMargin: parseFloat(ch.Withdrawable),
		TotalMarginUsed: parseFloat(ch.MarginSummary.TotalMarginUsed),
	}
	return state, nil
}

// GetPositions возвращает все открытые позиции счета
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	ch, err := c.clearinghouse(ctx)
	if err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(ch.AssetPositions))
	for _, ap := range ch.AssetPositions {
		p := domain.Position{
			Symbol:        domain.NormalizeSymbol(ap.Position.Coin),
			Size:          parseFloat(ap.Position.Szi),
			EntryPrice:    parseFloat(ap.Position.EntryPx),
			UnrealizedPnL: parseFloat(ap.Position.UnrealizedPnl),
			MarginUsed:    parseFloat(ap.Position.MarginUsed),
			Leverage:      ap.Position.Leverage.Value,
		}
		if p.IsFlat() {
			continue
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// GetPosition возвращает позицию по символу, nil если позиции нет
func (c *Client) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	want := domain.NormalizeSymbol(symbol)
	for i := range positions {
		if positions[i].Symbol == want {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// GetCandles возвращает последние свечи символа
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, lookback int) ([]domain.Candle, error) {
	end := time.Now()
	start := end.Add(-time.Duration(lookback) * intervalDuration(interval))

	payload := map[string]interface{}{
		"type": "candleSnapshot",
		"req": map[string]interface{}{
			"coin":      domain.BaseSymbol(symbol),
			"interval":  interval,
			"startTime": start.UnixMilli(),
			"endTime":   end.UnixMilli(),
		},
	}

	body, err := c.post(ctx, infoPath, payload, false)
	if err != nil {
		return nil, err
	}

	var raw []candleData
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: bad candle payload: %v", domain.ErrProtocol, err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, cd := range raw {
		candles = append(candles, domain.Candle{
			Symbol:   domain.NormalizeSymbol(symbol),
			OpenTime: time.UnixMilli(cd.OpenTime).UTC(),
			Open:     parseFloat(cd.Open),
			High:     parseFloat(cd.High),
			Low:      parseFloat(cd.Low),
			Close:    parseFloat(cd.Close),
			Volume:   parseFloat(cd.Volume),
		})
	}
	return candles, nil
}

// PlaceOrder размещает лимитный ордер и разбирает статус первой ноги
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderStatus, error) {
	payload := map[string]interface{}{
		"action": map[string]interface{}{
			"type":   "order",
			"orders": []OrderRequest{req},
		},
	}

	body, err := c.post(ctx, exchangePath, payload, true)
	if err != nil {
		return nil, err
	}

	var resp orderAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: bad order response: %v", domain.ErrProtocol, err)
	}

	if resp.Status != "ok" {
		msg := resp.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, &apiError{op: "place_order", status: http.StatusOK, msg: msg, retryable: false}
	}

	if len(resp.Response.Data.Statuses) == 0 {
		return nil, fmt.Errorf("%w: order response without statuses", domain.ErrProtocol)
	}

	return decodeOrderStatus(resp.Response.Data.Statuses[0])
}

// clearinghouse запрашивает состояние счета
func (c *Client) clearinghouse(ctx context.Context) (*clearinghouseResponse, error) {
	body, err := c.post(ctx, infoPath, map[string]interface{}{"type": "clearinghouseState"}, true)
	if err != nil {
		return nil, err
	}

	var ch clearinghouseResponse
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("%w: bad clearinghouse payload: %v", domain.ErrProtocol, err)
	}
	return &ch, nil
}

// post выполняет POST запрос, при необходимости подписывая его
func (c *Client) post(ctx context.Context, path string, payload interface{}, signed bool) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		c.setAuthHeaders(req, timestamp, c.generateSignature(timestamp, string(jsonData)))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apiError{op: path, msg: err.Error(), retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apiError{op: path, status: resp.StatusCode, msg: err.Error(), retryable: true}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{
			op:        path,
			status:    resp.StatusCode,
			msg:       string(body),
			retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	return body, nil
}

// generateSignature генерирует HMAC подпись запроса
func (c *Client) generateSignature(timestamp, payload string) string {
	message := timestamp + c.apiKey + recvWindow + payload
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// setAuthHeaders устанавливает заголовки авторизации
func (c *Client) setAuthHeaders(req *http.Request, timestamp, signature string) {
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-API-SIGN", signature)
	req.Header.Set("X-API-TIMESTAMP", timestamp)
	req.Header.Set("X-API-RECV-WINDOW", recvWindow)
}

func sizeIncrementFromDecimals(szDecimals int) float64 {
	if szDecimals < 0 {
		return defaultSizeIncrement
	}
	inc := 1.0
	for i := 0; i < szDecimals; i++ {
		inc /= 10
	}
	return inc
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// intervalDuration переводит интервал свечи в длительность
func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Package feed поставляет текущие цены: поток котировок по WebSocket
// с кэшем средних цен и источник с переключением на REST при сбоях.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
)

const (
	channelAllMids = "allMids"

	wsReadLimit      = 5 * 1024 * 1024
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	maxReconnectWait = 30 * time.Second
)

type midPoint struct {
	price float64
	at    time.Time
}

// WSFeed держит подключение к потоку средних цен биржи и кэширует
// последние значения по символам. Переподключается сам.
type WSFeed struct {
	url          string
	logger       *zap.Logger
	readTimeout  time.Duration
	pingInterval time.Duration

	mu   sync.RWMutex
	mids map[string]midPoint
}

func NewWSFeed(url string, logger *zap.Logger) *WSFeed {
	return &WSFeed{
		url:          url,
		logger:       logger,
		readTimeout:  60 * time.Second,
		pingInterval: 20 * time.Second,
		mids:         make(map[string]midPoint),
	}
}

// Run блокирует до отмены контекста: подключение, чтение, переподключение
// с экспоненциальной паузой. Запускается в отдельной горутине.
func (f *WSFeed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		err := f.connectAndStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			f.logger.Warn("⚠️ Поток котировок оборвался",
				zap.Error(err),
				zap.Duration("retry_in", backoff))
		}
		// Долго жившее соединение сбрасывает паузу
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *WSFeed) connectAndStream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"method":       "subscribe",
		"subscription": map[string]string{"type": channelAllMids},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("✅ Поток котировок подключен", zap.String("url", f.url))

	conn.SetReadLimit(wsReadLimit)
	if err := conn.SetReadDeadline(time.Now().Add(f.readTimeout)); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	})

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(pingCtx, conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(message)
	}
}

// pingLoop шлет пинги и закрывает соединение при отмене контекста,
// снимая блокировку ReadMessage
func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

type wsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

func (f *WSFeed) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.Debug("Нечитаемое сообщение потока", zap.Error(err))
		return
	}
	if msg.Channel != channelAllMids || len(msg.Data.Mids) == 0 {
		return
	}

	now := time.Now()
	f.mu.Lock()
	for coin, raw := range msg.Data.Mids {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || price <= 0 {
			continue
		}
		f.mids[domain.NormalizeSymbol(coin)] = midPoint{price: price, at: now}
	}
	f.mu.Unlock()
}

// Mid возвращает последнюю среднюю цену символа и момент ее получения
func (f *WSFeed) Mid(symbol string) (float64, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	point, ok := f.mids[domain.NormalizeSymbol(symbol)]
	if !ok {
		return 0, time.Time{}, false
	}
	return point.price, point.at, true
}

// Package telegram — операторский канал: команды и критические уведомления
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
)

const (
	commandTimeout       = 15 * time.Second
	maxCommandsPerSecond = 3
)

// Store данные для информационных команд
type Store interface {
	GetActiveTrades() ([]domain.Trade, error)
	GetAllPairs() ([]domain.CorrelatedPair, error)
	GetStrategyParams() (*domain.StrategyParams, error)
}

// TradeCloser закрывает сделку по команде оператора
type TradeCloser interface {
	Close(ctx context.Context, tradeID, reason string) (bool, error)
}

// AccountSource текущее состояние счета
type AccountSource interface {
	GetAccountState(ctx context.Context) *domain.AccountState
}

// TradingSwitch управление торговой паузой
type TradingSwitch interface {
	Activate(reason string)
	Deactivate()
	GetStatus() (bool, string, time.Time)
}

// SchedulerStatus сообщает, работает ли планировщик
type SchedulerStatus interface {
	Running() bool
}

// Bot обрабатывает команды оператора и шлет уведомления в заданный чат
type Bot struct {
	api        *tgbotapi.BotAPI
	chatID     int64
	auth       *AuthManager
	formatter  *Formatter
	store      Store
	trades     TradeCloser
	account    AccountSource
	killSwitch TradingSwitch
	scheduler  SchedulerStatus
	logger     *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
}

func NewBot(
	token string,
	chatID int64,
	adminIDs string,
	store Store,
	trades TradeCloser,
	account AccountSource,
	killSwitch TradingSwitch,
	scheduler SchedulerStatus,
	logger *zap.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info("✅ Telegram бот авторизован", zap.String("username", api.Self.UserName))

	b := &Bot{
		api:        api,
		chatID:     chatID,
		auth:       NewAuthManager(adminIDs),
		formatter:  NewFormatter(),
		store:      store,
		trades:     trades,
		account:    account,
		killSwitch: killSwitch,
		scheduler:  scheduler,
		logger:     logger,
		done:       make(chan struct{}),
	}

	go b.cleanupLoop()

	return b, nil
}

// Start запускает обработку сообщений. Блокируется до Stop.
func (b *Bot) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.SendMessage("🤖 Бот запущен!\nИспользуйте /help для списка команд.")

	for update := range updates {
		if update.Message == nil {
			continue
		}

		// Работаем только в своем чате
		if b.chatID != 0 && update.Message.Chat.ID != b.chatID {
			b.logger.Warn("Сообщение из чужого чата",
				zap.Int64("chat_id", update.Message.Chat.ID))
			continue
		}

		go b.handleMessage(update.Message)
	}
}

// Stop останавливает бота
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		b.logger.Info("🛑 Останавливаем Telegram бота...")
		close(b.done)
		b.api.StopReceivingUpdates()
	})
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	userID := message.From.ID

	if err := b.auth.CheckRateLimit(userID, maxCommandsPerSecond); err != nil {
		b.SendMessage("⏳ Слишком много запросов, подождите")
		return
	}

	if !message.IsCommand() {
		b.SendMessage("Используйте /help для списка команд")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := b.commandReply(ctx, userID, message.Command(), message.CommandArguments())
	if err != nil {
		b.logger.Warn("Команда завершилась ошибкой",
			zap.String("command", message.Command()),
			zap.Error(err))
		reply = b.formatter.FormatError(err)
	}

	b.SendMessage(reply)
}

// commandReply выполняет команду и возвращает текст ответа
func (b *Bot) commandReply(ctx context.Context, userID int64, command, args string) (string, error) {
	switch command {
	case "start", "help":
		return b.helpText(), nil

	case "status":
		return b.statusReply(ctx)

	case "positions":
		trades, err := b.store.GetActiveTrades()
		if err != nil {
			return "", fmt.Errorf("failed to load active trades: %w", err)
		}
		return b.formatter.FormatTrades(trades), nil

	case "pairs":
		pairs, err := b.store.GetAllPairs()
		if err != nil {
			return "", fmt.Errorf("failed to load pairs: %w", err)
		}
		return b.formatter.FormatPairs(pairs), nil

	case "params":
		params, err := b.store.GetStrategyParams()
		if err != nil {
			return "", fmt.Errorf("failed to load strategy params: %w", err)
		}
		return b.formatter.FormatParams(params), nil

	case "pause":
		if err := b.auth.RequireAdmin(userID); err != nil {
			return "", err
		}
		reason := strings.TrimSpace(args)
		if reason == "" {
			reason = "manual pause via telegram"
		}
		b.killSwitch.Activate(reason)
		return "🛑 Торговля приостановлена", nil

	case "resume":
		if err := b.auth.RequireAdmin(userID); err != nil {
			return "", err
		}
		b.killSwitch.Deactivate()
		return "✅ Торговля возобновлена", nil

	case "close":
		if err := b.auth.RequireAdmin(userID); err != nil {
			return "", err
		}
		return b.closeReply(ctx, strings.TrimSpace(args))

	default:
		return "Неизвестная команда. Используйте /help", nil
	}
}

// statusReply собирает сводку состояния
func (b *Bot) statusReply(ctx context.Context) (string, error) {
	paused, reason, pausedAt := b.killSwitch.GetStatus()

	report := StatusReport{
		Paused:      paused,
		PauseReason: reason,
		PausedAt:    pausedAt,
	}

	if b.scheduler != nil {
		report.SchedulerOn = b.scheduler.Running()
	}

	if state := b.account.GetAccountState(ctx); state != nil {
		report.AccountValue = state.AccountValue
		report.AvailableMargin = state.AvailableMargin
	}

	trades, err := b.store.GetActiveTrades()
	if err != nil {
		return "", fmt.Errorf("failed to load active trades: %w", err)
	}
	report.OpenTrades = len(trades)
	for _, t := range trades {
		report.UnrealizedPnL += t.UnrealizedPnL
	}

	return b.formatter.FormatStatus(report), nil
}

// closeReply закрывает сделку вручную. Парная нога закроется каскадом.
func (b *Bot) closeReply(ctx context.Context, tradeID string) (string, error) {
	if tradeID == "" {
		return "Укажите ID сделки. Пример: /close 3f2a91c0-...", nil
	}

	closed, err := b.trades.Close(ctx, tradeID, domain.CloseReasonManual)
	if err != nil {
		return "", err
	}
	if !closed {
		return "Сделка не найдена или уже закрыта", nil
	}

	return fmt.Sprintf("✅ Сделка %s закрыта", tradeID), nil
}

func (b *Bot) helpText() string {
	return `🤖 *Доступные команды*

/status — состояние счета и торговли
/positions — открытые сделки
/pairs — проанализированные пары
/params — параметры стратегии
/pause [причина] — приостановить торговлю (админ)
/resume — возобновить торговлю (админ)
/close <id> — закрыть сделку (админ)
/help — эта справка`
}

// Notify отправляет критическое уведомление оператору
func (b *Bot) Notify(text string) {
	b.SendMessage(text)
}

// SendMessage отправляет сообщение в рабочий чат
func (b *Bot) SendMessage(text string) {
	if text == "" {
		return
	}

	// Разбиваем длинные сообщения
	const maxLength = 4096
	messages := splitMessage(text, maxLength)

	for _, msg := range messages {
		message := tgbotapi.NewMessage(b.chatID, msg)
		message.ParseMode = "Markdown"
		if _, err := b.api.Send(message); err != nil {
			b.logger.Error("Не удалось отправить сообщение в Telegram", zap.Error(err))
		}
	}
}

// cleanupLoop периодически очищает неактивные rate limiters
func (b *Bot) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.auth.CleanupRateLimiters()
		case <-b.done:
			return
		}
	}
}

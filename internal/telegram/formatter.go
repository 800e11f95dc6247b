package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// StatusReport сводка состояния бота для команды /status
type StatusReport struct {
	Paused          bool
	PauseReason     string
	PausedAt        time.Time
	SchedulerOn     bool
	AccountValue    float64
	AvailableMargin float64
	OpenTrades      int
	UnrealizedPnL   float64
}

// Formatter форматирует ответы бота в Markdown
type Formatter struct{}

// NewFormatter создает форматтер
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatStatus форматирует статус системы
func (f *Formatter) FormatStatus(r StatusReport) string {
	var sb strings.Builder

	sb.WriteString("📊 *Статус*\n\n")

	if r.Paused {
		sb.WriteString("🛑 Торговля: *на паузе*\n")
		if r.PauseReason != "" {
			sb.WriteString(fmt.Sprintf("Причина: %s\n", r.PauseReason))
		}
		if !r.PausedAt.IsZero() {
			sb.WriteString(fmt.Sprintf("С: %s\n", r.PausedAt.Format("2006-01-02 15:04:05")))
		}
	} else {
		sb.WriteString("✅ Торговля: активна\n")
	}

	if r.SchedulerOn {
		sb.WriteString("Планировщик: работает\n")
	} else {
		sb.WriteString("Планировщик: остановлен\n")
	}

	sb.WriteString(fmt.Sprintf("\n💰 Счет: $%.2f\n", r.AccountValue))
	sb.WriteString(fmt.Sprintf("Свободная маржа: $%.2f\n", r.AvailableMargin))
	sb.WriteString(fmt.Sprintf("Открытых сделок: %d\n", r.OpenTrades))
	sb.WriteString(fmt.Sprintf("Нереализованный P&L: %s\n", f.signedMoney(r.UnrealizedPnL)))

	return sb.String()
}

// FormatTrades форматирует список открытых сделок
func (f *Formatter) FormatTrades(trades []domain.Trade) string {
	if len(trades) == 0 {
		return "💼 Открытых сделок нет"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("💼 *Открытые сделки (%d)*\n", len(trades)))

	for _, t := range trades {
		sb.WriteString("\n")
		sb.WriteString(f.formatTradeLine(t))
	}

	return sb.String()
}

func (f *Formatter) formatTradeLine(t domain.Trade) string {
	var sb strings.Builder

	sideEmoji := "🟢"
	if t.Side == domain.SideShort {
		sideEmoji = "🔴"
	}

	sb.WriteString(fmt.Sprintf("%s *%s* %s %.4f @ $%.4f\n",
		sideEmoji, t.Symbol, t.Side, t.Size, t.EntryPrice))
	sb.WriteString(fmt.Sprintf("   Сейчас: $%.4f | P&L: %s\n",
		t.CurrentPrice, f.signedMoney(t.UnrealizedPnL)))

	if t.PairSymbol != nil {
		sb.WriteString(fmt.Sprintf("   Пара: %s", *t.PairSymbol))
		if t.PairCorrelation != nil {
			sb.WriteString(fmt.Sprintf(" (corr %.2f)", *t.PairCorrelation))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("   ID: `%s`\n", t.ID))

	return sb.String()
}

// FormatPairs форматирует список проанализированных пар
func (f *Formatter) FormatPairs(pairs []domain.CorrelatedPair) string {
	if len(pairs) == 0 {
		return "📈 Пары еще не проанализированы"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📈 *Пары (%d)*\n", len(pairs)))

	for _, p := range pairs {
		mark := "⚪"
		if p.Cointegrated {
			mark = "✅"
		}
		sb.WriteString(fmt.Sprintf("\n%s %s / %s\n", mark, p.PairA, p.PairB))
		sb.WriteString(fmt.Sprintf("   corr %.3f | Z %.2f | HL %.1f\n",
			p.Correlation, p.SpreadZScore, p.HalfLife))
	}

	return sb.String()
}

// FormatParams форматирует параметры стратегии
func (f *Formatter) FormatParams(p *domain.StrategyParams) string {
	var sb strings.Builder

	sb.WriteString("⚙️ *Параметры стратегии*\n\n")
	sb.WriteString(fmt.Sprintf("Размер сделки: %.1f%% маржи\n", p.TradeSizePercent*100))
	sb.WriteString(fmt.Sprintf("Макс. позиций: %d\n", p.MaxPositions))
	sb.WriteString(fmt.Sprintf("Порог корреляции: %.2f\n", p.CorrelationThreshold))
	sb.WriteString(fmt.Sprintf("Порог Z-score: %.2f\n", p.ZScoreThreshold))
	sb.WriteString(fmt.Sprintf("Лимит аллокации: %.0f%%\n", p.MaxPortfolioAllocation*100))
	sb.WriteString(fmt.Sprintf("Обновлено: %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05")))

	return sb.String()
}

// FormatError форматирует ошибку для пользователя
func (f *Formatter) FormatError(err error) string {
	return fmt.Sprintf("❌ Ошибка: %v", err)
}

func (f *Formatter) signedMoney(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+$%.2f", v)
	}
	return fmt.Sprintf("-$%.2f", -v)
}

// splitMessage разбивает длинное сообщение на части
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	lines := strings.Split(text, "\n")
	currentMessage := ""

	for _, line := range lines {
		if len(currentMessage)+len(line)+1 > maxLength {
			messages = append(messages, currentMessage)
			currentMessage = line
		} else {
			if currentMessage != "" {
				currentMessage += "\n"
			}
			currentMessage += line
		}
	}

	if currentMessage != "" {
		messages = append(messages, currentMessage)
	}

	return messages
}

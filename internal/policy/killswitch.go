package policy

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// KillSwitch — аварийная пауза торговли. Блокирует только открытие
// новых позиций: закрытия и обновления работают всегда.
type KillSwitch struct {
	mu          sync.RWMutex
	active      bool
	activatedAt time.Time
	reason      string
	logger      *zap.Logger
}

// NewKillSwitch создает kill switch в неактивном состоянии
func NewKillSwitch(logger *zap.Logger) *KillSwitch {
	return &KillSwitch{logger: logger}
}

// Activate активирует аварийную паузу
func (ks *KillSwitch) Activate(reason string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.active = true
	ks.activatedAt = time.Now().UTC()
	ks.reason = reason

	ks.logger.Error("🛑 Торговля остановлена", zap.String("reason", reason))
}

// Deactivate снимает паузу. Требует явного действия оператора.
func (ks *KillSwitch) Deactivate() {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.active = false
	ks.reason = ""

	ks.logger.Info("✅ Торговля возобновлена")
}

// IsActive проверяет, активна ли пауза
func (ks *KillSwitch) IsActive() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active
}

// GetStatus возвращает состояние паузы, причину и время активации
func (ks *KillSwitch) GetStatus() (bool, string, time.Time) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active, ks.reason, ks.activatedAt
}

package domain

// Trade sides
const (
	SideLong  = "long"
	SideShort = "short"
)

// Trade statuses
const (
	StatusPending = "pending"
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusFailed  = "failed"
)

// Close reasons
const (
	CloseReasonManual     = "manual"
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonTakeProfit = "take_profit"
	CloseReasonExternal   = "external"
	CloseReasonRollback   = "rollback"
	CloseReasonImbalance  = "imbalance"

	// PairCloseSuffix добавляется к причине при каскадном закрытии парной ноги
	PairCloseSuffix = "_pair"
)

// Spread directions
const (
	DirectionLongSpread  = "long_spread"  // long B, short A
	DirectionShortSpread = "short_spread" // short B, long A
	DirectionNone        = ""
)

// Order time-in-force (wire values)
const (
	TifIoc = "Ioc"
	TifGtc = "Gtc"
)

// Пороговые константы стратегии
const (
	// DustSize — позиции меньше этого размера считаются отсутствующими
	DustSize = 0.001

	// Рабочий диапазон периода полураспада для торговли
	MinHalfLife = 6.0
	MaxHalfLife = 15.0

	// Допустимый диапазон для валидной AR(1) оценки
	MinValidHalfLife = 1.0
	MaxValidHalfLife = 100.0

	// MinSpreadStd — ниже этого порога спред считается вырожденным
	MinSpreadStd = 1e-8

	// MinEligibleCorrelation — минимальная корреляция для торговли парой
	MinEligibleCorrelation = 0.8

	// MinLegNotionalUSD — минимальный долларовый размер одной ноги
	MinLegNotionalUSD = 10.0

	// MinCointegrationPoints — минимум выровненных точек для теста коинтеграции
	MinCointegrationPoints = 30
)

// Event names (журнал bot_events)
const (
	EventTradeOpened         = "trade_opened"
	EventTradeClosed         = "trade_closed"
	EventTradeFailed         = "trade_failed"
	EventPairTradeOpened     = "pair_trade_opened"
	EventPairSagaState       = "pair_saga_state"
	EventPairLegAFailed      = "pair_leg_a_failed"
	EventPairLegBFailed      = "pair_leg_b_failed"
	EventRollbackOK          = "rollback_ok"
	EventRollbackFailed      = "rollback_failed"
	EventVerificationFailed  = "pair_verification_failed"
	EventPartialCloseWarning = "partial_close_warning"
	EventPositionAdopted     = "position_adopted"
	EventSizeDrift           = "size_drift"
	EventImbalanceCorrected  = "imbalance_corrected"
	EventImbalanceUnresolved = "imbalance_unresolved"
	EventPairCloseFailed     = "pair_close_failed"
	EventStrategyInitialized = "strategy_initialized"
	EventTradingPaused       = "trading_paused"
	EventTradingResumed      = "trading_resumed"
	EventParamsUpdated       = "params_updated"
)

// Validation reason codes (никогда не возвращаются ошибками)
const (
	ReasonOK              = "ok"
	ReasonPairLegMismatch = "pair_leg_mismatch"
	ReasonLedgerDrift     = "ledger_drift"
	ReasonSymbolActive    = "symbol_active"
	ReasonSymbolPending   = "symbol_pending"
	ReasonMaxPositions    = "max_positions"
	ReasonNoPrice         = "no_price"
	ReasonSizingFailed    = "sizing_failed"
	ReasonAllocationCap   = "allocation_cap"
	ReasonTradingPaused   = "trading_paused"
)

// Special symbols
const (
	SymbolBTC = "BTC-PERP"
)

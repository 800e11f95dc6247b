package domain

import "errors"

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput возвращается при некорректных входных данных
	ErrInvalidInput = errors.New("invalid input")

	// ErrExchangeAPI возвращается при ошибке API биржи
	ErrExchangeAPI = errors.New("exchange API error")

	// ErrProtocol возвращается при неразборчивом ответе биржи
	ErrProtocol = errors.New("malformed exchange response")

	// ErrOrderTimeout возвращается когда вызов биржи не уложился в таймаут
	ErrOrderTimeout = errors.New("exchange call timed out")

	// ErrAllAttemptsFailed возвращается когда вся лестница ордеров исчерпана
	ErrAllAttemptsFailed = errors.New("all order attempts failed")

	// ErrNoImmediateMatch возвращается когда IOC ордер не нашел ликвидности
	ErrNoImmediateMatch = errors.New("order could not immediately match")

	// ErrPriceUnavailable возвращается когда цена недоступна ни из одного источника
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrInsufficientData возвращается когда рядов недостаточно для анализа
	ErrInsufficientData = errors.New("insufficient data points")

	// ErrDegenerateSpread возвращается при вырожденном спреде (std ~ 0)
	ErrDegenerateSpread = errors.New("degenerate spread")

	// ErrNoMeanReversion возвращается когда спред не возвращается к среднему
	ErrNoMeanReversion = errors.New("spread does not mean-revert")

	// ErrTradingPaused возвращается когда активирована торговая пауза
	ErrTradingPaused = errors.New("trading is paused")

	// ErrCycleBusy возвращается когда цикл такого типа уже выполняется
	ErrCycleBusy = errors.New("cycle already running")

	// ErrVerificationFailed возвращается когда позиции не подтвердились на бирже
	ErrVerificationFailed = errors.New("position verification failed")

	// ErrInsufficientBalance возвращается при недостаточной марже
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDatabaseConnection возвращается при ошибке подключения к БД
	ErrDatabaseConnection = errors.New("database connection error")
)

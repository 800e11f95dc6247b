package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kirillm/statarb-bot/internal/domain"
	"github.com/kirillm/statarb-bot/internal/exchange"
	"github.com/kirillm/statarb-bot/internal/ledger"
)

type fakeExecutor struct {
	positions  map[string]*domain.Position
	posErr     map[string]error
	listErr    error
	account    domain.AccountState
	closeCalls []string
	closeErr   map[string]error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		positions: make(map[string]*domain.Position),
		posErr:    make(map[string]error),
		closeErr:  make(map[string]error),
		account:   domain.AccountState{AccountValue: 10000, AvailableMargin: 8000},
	}
}

func (f *fakeExecutor) ClosePosition(_ context.Context, symbol string) (*exchange.CloseResult, error) {
	f.closeCalls = append(f.closeCalls, symbol)
	if err := f.closeErr[symbol]; err != nil {
		return nil, err
	}
	delete(f.positions, symbol)
	return &exchange.CloseResult{Symbol: symbol}, nil
}

func (f *fakeExecutor) GetPosition(_ context.Context, symbol string) (*domain.Position, error) {
	if err := f.posErr[symbol]; err != nil {
		return nil, err
	}
	pos, ok := f.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (f *fakeExecutor) GetPositions(_ context.Context) ([]domain.Position, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	symbols := make([]string, 0, len(f.positions))
	for s := range f.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	out := make([]domain.Position, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, *f.positions[s])
	}
	return out, nil
}

func (f *fakeExecutor) GetAccountState(_ context.Context) *domain.AccountState {
	cp := f.account
	return &cp
}

type closeCall struct {
	tradeID string
	reason  string
}

type fakeLedger struct {
	exec       *fakeExecutor
	seq        int
	trades     map[string]*domain.Trade
	active     map[string]*domain.Trade
	openCalls  []ledger.OpenRequest
	openFails  map[string]int
	openErr    map[string]error
	ghost      map[string]bool // открытие не оставляет позицию на бирже
	closeCalls []closeCall
	closeErr   error
	findErr    map[string]error
}

func newFakeLedger(exec *fakeExecutor) *fakeLedger {
	return &fakeLedger{
		exec:      exec,
		trades:    make(map[string]*domain.Trade),
		active:    make(map[string]*domain.Trade),
		openFails: make(map[string]int),
		openErr:   make(map[string]error),
		ghost:     make(map[string]bool),
		findErr:   make(map[string]error),
	}
}

func (f *fakeLedger) Open(_ context.Context, req ledger.OpenRequest) (*domain.Trade, error) {
	f.openCalls = append(f.openCalls, req)
	if f.openFails[req.Symbol] > 0 {
		f.openFails[req.Symbol]--
		if err := f.openErr[req.Symbol]; err != nil {
			return nil, err
		}
		return nil, errors.New("order rejected")
	}
	f.seq++
	trade := &domain.Trade{
		ID:              fmt.Sprintf("trade-%d", f.seq),
		Symbol:          req.Symbol,
		Side:            req.Side,
		Size:            req.Size,
		Leverage:        req.Leverage,
		Status:          domain.StatusOpen,
		PairSymbol:      req.PairSymbol,
		PairCorrelation: req.Correlation,
		OpenedAt:        time.Now(),
	}
	f.trades[trade.ID] = trade
	f.active[req.Symbol] = trade
	if f.exec != nil && !f.ghost[req.Symbol] {
		size := req.Size
		if req.Side == domain.SideShort {
			size = -size
		}
		f.exec.positions[req.Symbol] = &domain.Position{Symbol: req.Symbol, Size: size}
	}
	return trade, nil
}

func (f *fakeLedger) Close(_ context.Context, tradeID, reason string) (bool, error) {
	f.closeCalls = append(f.closeCalls, closeCall{tradeID: tradeID, reason: reason})
	if f.closeErr != nil {
		return false, f.closeErr
	}
	trade, ok := f.trades[tradeID]
	if !ok || !trade.IsOpen() {
		return false, nil
	}
	trade.Status = domain.StatusClosed
	trade.CloseReason = &reason
	delete(f.active, trade.Symbol)
	if f.exec != nil {
		delete(f.exec.positions, trade.Symbol)
	}
	return true, nil
}

func (f *fakeLedger) FindActiveBySymbol(symbol string) (*domain.Trade, error) {
	if err := f.findErr[symbol]; err != nil {
		return nil, err
	}
	if trade, ok := f.active[symbol]; ok {
		return trade, nil
	}
	return nil, nil
}

func (f *fakeLedger) seed(trade *domain.Trade) {
	f.trades[trade.ID] = trade
	if trade.IsOpen() {
		f.active[trade.Symbol] = trade
	}
}

type botEvent struct {
	name string
	data map[string]interface{}
}

type fakeStore struct {
	pairs     []domain.CorrelatedPair
	pairsErr  error
	params    domain.StrategyParams
	paramsErr error
	active    []domain.Trade
	pending   []domain.Trade
	events    []botEvent
}

func (f *fakeStore) GetAllPairs() ([]domain.CorrelatedPair, error) {
	if f.pairsErr != nil {
		return nil, f.pairsErr
	}
	return append([]domain.CorrelatedPair(nil), f.pairs...), nil
}

func (f *fakeStore) GetStrategyParams() (*domain.StrategyParams, error) {
	if f.paramsErr != nil {
		return nil, f.paramsErr
	}
	cp := f.params
	return &cp, nil
}

func (f *fakeStore) GetActiveTrades() ([]domain.Trade, error) {
	return append([]domain.Trade(nil), f.active...), nil
}

func (f *fakeStore) GetPendingTrades() ([]domain.Trade, error) {
	return append([]domain.Trade(nil), f.pending...), nil
}

func (f *fakeStore) LogEvent(name string, data map[string]interface{}) error {
	f.events = append(f.events, botEvent{name: name, data: data})
	return nil
}

func (f *fakeStore) eventNames() []string {
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.name)
	}
	return out
}

func (f *fakeStore) sagaStates() []string {
	var out []string
	for _, e := range f.events {
		if e.name != domain.EventPairSagaState {
			continue
		}
		if state, ok := e.data["state"].(string); ok {
			out = append(out, state)
		}
	}
	return out
}

type fakePrices struct {
	prices map[string]float64
}

func (f *fakePrices) GetPrice(_ context.Context, symbol string) (float64, error) {
	if price, ok := f.prices[symbol]; ok {
		return price, nil
	}
	return 0, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, symbol)
}

type fakeIncrements map[string]float64

func (f fakeIncrements) SizeIncrement(symbol string) float64 {
	if tick, ok := f[symbol]; ok {
		return tick
	}
	return 0.001
}

type fakePause struct {
	active  bool
	reasons []string
}

func (f *fakePause) IsActive() bool { return f.active }

func (f *fakePause) Activate(reason string) {
	f.active = true
	f.reasons = append(f.reasons, reason)
}

type orchestratorFixture struct {
	exec   *fakeExecutor
	ledger *fakeLedger
	store  *fakeStore
	prices *fakePrices
	pause  *fakePause
	notes  []string
	sleeps []time.Duration
	orch   *PairOrchestrator
}

func newFixture() *orchestratorFixture {
	fx := &orchestratorFixture{
		exec:   newFakeExecutor(),
		store:  &fakeStore{params: defaultParams()},
		prices: &fakePrices{prices: map[string]float64{}},
		pause:  &fakePause{},
	}
	fx.ledger = newFakeLedger(fx.exec)
	fx.orch = NewPairOrchestrator(
		fx.exec, fx.ledger, fx.store, fx.prices,
		fakeIncrements{"ETH-PERP": 0.001, "SOL-PERP": 0.01},
		fx.pause,
		func(msg string) { fx.notes = append(fx.notes, msg) },
		7,
		zap.NewNop(),
	)
	fx.orch.sleep = func(_ context.Context, d time.Duration) error {
		fx.sleeps = append(fx.sleeps, d)
		return nil
	}
	// Нулевой сдвиг: 1 + (0.5*2-1)*0.02 = 1.0
	fx.orch.rng = func() float64 { return 0.5 }
	return fx
}

func pairETHSOL() domain.CorrelatedPair {
	return domain.CorrelatedPair{
		PairA:                 "ETH-PERP",
		PairB:                 "SOL-PERP",
		Correlation:           0.92,
		Cointegrated:          true,
		RegressionCoefficient: 2.0,
		SpreadMean:            1.0,
		SpreadStd:             4.0,
		HalfLife:              9.0,
	}
}

func defaultParams() domain.StrategyParams {
	return domain.StrategyParams{
		TradeSizePercent:       0.10,
		MaxPositions:           4,
		CorrelationThreshold:   0.85,
		ZScoreThreshold:        2.5,
		MaxPortfolioAllocation: 0.5,
	}
}

func shortSpreadOpp() *Opportunity {
	return &Opportunity{
		Pair:      pairETHSOL(),
		Direction: domain.DirectionShortSpread,
		ZScore:    3.0,
		PriceA:    100,
		PriceB:    213,
	}
}

func ethSolSizes() *LegSizes {
	return &LegSizes{SizeA: 4.0, SizeB: 1.87, NotionalA: 400, NotionalB: 398.31}
}

func TestRunOpportunityCheckOpensBestPair(t *testing.T) {
	fx := newFixture()
	fx.store.pairs = []domain.CorrelatedPair{pairETHSOL()}
	fx.prices.prices["ETH-PERP"] = 100
	fx.prices.prices["SOL-PERP"] = 213 // Z = (213 - 200 - 1) / 4 = 3.0

	err := fx.orch.RunOpportunityCheck(context.Background())
	require.NoError(t, err)

	require.Len(t, fx.ledger.openCalls, 2)
	legA := fx.ledger.openCalls[0]
	assert.Equal(t, "ETH-PERP", legA.Symbol)
	assert.Equal(t, domain.SideLong, legA.Side)
	assert.InDelta(t, 4.0, legA.Size, 1e-9)
	assert.Equal(t, 7, legA.Leverage)
	require.NotNil(t, legA.PairSymbol)
	assert.Equal(t, "SOL-PERP", *legA.PairSymbol)
	require.NotNil(t, legA.Correlation)
	assert.InDelta(t, 0.92, *legA.Correlation, 1e-9)

	legB := fx.ledger.openCalls[1]
	assert.Equal(t, "SOL-PERP", legB.Symbol)
	assert.Equal(t, domain.SideShort, legB.Side)
	assert.InDelta(t, 1.87, legB.Size, 1e-9)
	require.NotNil(t, legB.PairSymbol)
	assert.Equal(t, "ETH-PERP", *legB.PairSymbol)

	assert.Equal(t, []string{"leg_a_opening", "leg_a_open", "leg_b_open", "complete"}, fx.store.sagaStates())
	assert.Contains(t, fx.store.eventNames(), domain.EventPairTradeOpened)
	require.Len(t, fx.notes, 1)
	assert.Contains(t, fx.notes[0], "Пара открыта")
	assert.False(t, fx.pause.active)
}

func TestRunOpportunityCheckPaused(t *testing.T) {
	fx := newFixture()
	fx.pause.active = true

	err := fx.orch.RunOpportunityCheck(context.Background())
	require.ErrorIs(t, err, domain.ErrTradingPaused)
	assert.Empty(t, fx.ledger.openCalls)
}

func TestRunOpportunityCheckAbortsCycleAfterImbalanceFix(t *testing.T) {
	fx := newFixture()
	// Осиротевшая длинная нога без записи в леджере
	fx.exec.positions["DOGE-PERP"] = &domain.Position{Symbol: "DOGE-PERP", Size: 50}
	fx.store.pairs = []domain.CorrelatedPair{pairETHSOL()}
	fx.prices.prices["ETH-PERP"] = 100
	fx.prices.prices["SOL-PERP"] = 213

	err := fx.orch.RunOpportunityCheck(context.Background())
	require.NoError(t, err)

	// Дисбаланс устранен, но открытий в этом цикле быть не должно
	assert.Equal(t, []string{"DOGE-PERP"}, fx.exec.closeCalls)
	assert.Empty(t, fx.ledger.openCalls)
	assert.Contains(t, fx.store.eventNames(), domain.EventImbalanceCorrected)
	assert.False(t, fx.pause.active)
}

func TestRunOpportunityCheckSkipsBlockedPairTakesNext(t *testing.T) {
	fx := newFixture()
	farPair := domain.CorrelatedPair{
		PairA: "BTC-PERP", PairB: "AVAX-PERP",
		Correlation: 0.95, Cointegrated: true,
		RegressionCoefficient: 2.0, SpreadMean: 1.0, SpreadStd: 4.0, HalfLife: 8.0,
	}
	fx.store.pairs = []domain.CorrelatedPair{pairETHSOL(), farPair}
	fx.prices.prices["ETH-PERP"] = 100
	fx.prices.prices["SOL-PERP"] = 213  // Z = 3.0
	fx.prices.prices["BTC-PERP"] = 100
	fx.prices.prices["AVAX-PERP"] = 185 // Z = -4.0, первая по |Z|
	// Лучшая пара заблокирована отложенной сделкой
	fx.store.pending = []domain.Trade{{Symbol: "AVAX-PERP", Status: domain.StatusPending}}

	err := fx.orch.RunOpportunityCheck(context.Background())
	require.NoError(t, err)

	require.Len(t, fx.ledger.openCalls, 2)
	assert.Equal(t, "ETH-PERP", fx.ledger.openCalls[0].Symbol)
	assert.Equal(t, "SOL-PERP", fx.ledger.openCalls[1].Symbol)
}

func TestRunOpportunityCheckParamsErrorPropagates(t *testing.T) {
	fx := newFixture()
	fx.store.paramsErr = errors.New("db down")

	err := fx.orch.RunOpportunityCheck(context.Background())
	require.Error(t, err)
	assert.Empty(t, fx.ledger.openCalls)
}

func TestExecutePairTradeRollsBackFirstLegWhenSecondFails(t *testing.T) {
	fx := newFixture()
	fx.ledger.openFails["SOL-PERP"] = legRetryAttempts

	err := fx.orch.executePairTrade(context.Background(), shortSpreadOpp(), ethSolSizes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leg B")

	// Нога A закрыта откатом, позиций на бирже не осталось
	require.Len(t, fx.ledger.closeCalls, 1)
	assert.Equal(t, "trade-1", fx.ledger.closeCalls[0].tradeID)
	assert.Equal(t, domain.CloseReasonRollback, fx.ledger.closeCalls[0].reason)
	assert.Empty(t, fx.exec.positions)

	names := fx.store.eventNames()
	assert.Contains(t, names, domain.EventPairLegBFailed)
	assert.Contains(t, names, domain.EventRollbackOK)
	assert.Equal(t, []string{"leg_a_opening", "leg_a_open", "rolled_back"}, fx.store.sagaStates())
	assert.False(t, fx.pause.active)

	// Паузы между повторами растут с номером попытки
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, fx.sleeps)
}

func TestExecutePairTradeAbortsWhenFirstLegExhausted(t *testing.T) {
	fx := newFixture()
	fx.ledger.openFails["ETH-PERP"] = legRetryAttempts

	err := fx.orch.executePairTrade(context.Background(), shortSpreadOpp(), ethSolSizes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leg A")

	// Нога B даже не пробовалась, откатывать нечего
	require.Len(t, fx.ledger.openCalls, legRetryAttempts)
	for _, call := range fx.ledger.openCalls {
		assert.Equal(t, "ETH-PERP", call.Symbol)
	}
	assert.Empty(t, fx.ledger.closeCalls)
	assert.Contains(t, fx.store.eventNames(), domain.EventPairLegAFailed)
	assert.Equal(t, []string{"leg_a_opening", "aborted"}, fx.store.sagaStates())
}

func TestRollbackFallsBackToDirectClose(t *testing.T) {
	fx := newFixture()
	fx.ledger.openFails["SOL-PERP"] = legRetryAttempts
	fx.ledger.closeErr = errors.New("ledger unavailable")

	err := fx.orch.executePairTrade(context.Background(), shortSpreadOpp(), ethSolSizes())
	require.Error(t, err)

	// Леджер не смог, позиция закрыта напрямую через движок
	assert.Equal(t, []string{"ETH-PERP"}, fx.exec.closeCalls)
	assert.NotContains(t, fx.exec.positions, "ETH-PERP")
	assert.Contains(t, fx.store.eventNames(), domain.EventRollbackOK)
	assert.False(t, fx.pause.active)
}

func TestRollbackTotalFailureActivatesPause(t *testing.T) {
	fx := newFixture()
	fx.ledger.openFails["SOL-PERP"] = legRetryAttempts
	fx.ledger.closeErr = errors.New("ledger unavailable")
	fx.exec.closeErr["ETH-PERP"] = errors.New("api down")

	err := fx.orch.executePairTrade(context.Background(), shortSpreadOpp(), ethSolSizes())
	require.Error(t, err)

	assert.Contains(t, fx.store.eventNames(), domain.EventRollbackFailed)
	assert.True(t, fx.pause.active)
	require.Len(t, fx.pause.reasons, 1)
	assert.Contains(t, fx.pause.reasons[0], "rollback failed")
	require.NotEmpty(t, fx.notes)
	assert.Contains(t, fx.notes[len(fx.notes)-1], "КРИТИЧНО")
}

func TestVerificationFailureRollsBackBothLegs(t *testing.T) {
	fx := newFixture()
	// Открытие ноги B проходит, но позиция на бирже не появляется
	fx.ledger.ghost["SOL-PERP"] = true

	err := fx.orch.executePairTrade(context.Background(), shortSpreadOpp(), ethSolSizes())
	require.ErrorIs(t, err, domain.ErrVerificationFailed)

	require.Len(t, fx.ledger.closeCalls, 2)
	assert.Equal(t, closeCall{tradeID: "trade-2", reason: domain.CloseReasonRollback}, fx.ledger.closeCalls[0])
	assert.Equal(t, closeCall{tradeID: "trade-1", reason: domain.CloseReasonRollback}, fx.ledger.closeCalls[1])
	assert.Contains(t, fx.store.eventNames(), domain.EventVerificationFailed)
	assert.Empty(t, fx.exec.positions)
}

func TestOpenLegPerturbsSizeOnLiquidityGap(t *testing.T) {
	fx := newFixture()
	fx.orch.rng = func() float64 { return 1.0 } // фактор ровно 1.02
	fx.ledger.openFails["ETH-PERP"] = 1
	fx.ledger.openErr["ETH-PERP"] = fmt.Errorf("%w: open long ETH-PERP: %w",
		domain.ErrAllAttemptsFailed, domain.ErrNoImmediateMatch)

	err := fx.orch.executePairTrade(context.Background(), shortSpreadOpp(), ethSolSizes())
	require.NoError(t, err)

	require.Len(t, fx.ledger.openCalls, 3)
	assert.InDelta(t, 4.0, fx.ledger.openCalls[0].Size, 1e-9)
	assert.Equal(t, "ETH-PERP", fx.ledger.openCalls[1].Symbol)
	assert.InDelta(t, 4.08, fx.ledger.openCalls[1].Size, 1e-9)
	// Нога B открывается расчетным размером без возмущения
	assert.InDelta(t, 1.87, fx.ledger.openCalls[2].Size, 1e-9)
}

func TestOpenLegKeepsSizeOnGenericError(t *testing.T) {
	fx := newFixture()
	fx.orch.rng = func() float64 { return 1.0 }
	fx.ledger.openFails["ETH-PERP"] = 1
	fx.ledger.openErr["ETH-PERP"] = errors.New("margin check failed")

	err := fx.orch.executePairTrade(context.Background(), shortSpreadOpp(), ethSolSizes())
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(fx.ledger.openCalls), 2)
	assert.InDelta(t, 4.0, fx.ledger.openCalls[0].Size, 1e-9)
	assert.InDelta(t, 4.0, fx.ledger.openCalls[1].Size, 1e-9)
}

func TestCheckPositionBalanceBalancedBook(t *testing.T) {
	fx := newFixture()
	fx.exec.positions["ETH-PERP"] = &domain.Position{Symbol: "ETH-PERP", Size: 4.0}
	fx.exec.positions["SOL-PERP"] = &domain.Position{Symbol: "SOL-PERP", Size: -1.87}

	balanced, err := fx.orch.checkPositionBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, balanced)
	assert.Empty(t, fx.ledger.closeCalls)
}

func TestCheckPositionBalanceClosesUnpairedLeg(t *testing.T) {
	fx := newFixture()
	now := time.Now()
	solSym := "SOL-PERP"
	ethTrade := &domain.Trade{
		ID: "eth-1", Symbol: "ETH-PERP", Side: domain.SideLong, Size: 4.0,
		Status: domain.StatusOpen, PairSymbol: &solSym, OpenedAt: now.Add(-2 * time.Hour),
	}
	ethSym := "ETH-PERP"
	solTrade := &domain.Trade{
		ID: "sol-1", Symbol: "SOL-PERP", Side: domain.SideShort, Size: 1.87,
		Status: domain.StatusOpen, PairSymbol: &ethSym, OpenedAt: now.Add(-2 * time.Hour),
	}
	btcTrade := &domain.Trade{
		ID: "btc-1", Symbol: "BTC-PERP", Side: domain.SideLong, Size: 0.5,
		Status: domain.StatusOpen, OpenedAt: now.Add(-10 * time.Minute),
	}
	fx.ledger.seed(ethTrade)
	fx.ledger.seed(solTrade)
	fx.ledger.seed(btcTrade)
	fx.exec.positions["ETH-PERP"] = &domain.Position{Symbol: "ETH-PERP", Size: 4.0}
	fx.exec.positions["SOL-PERP"] = &domain.Position{Symbol: "SOL-PERP", Size: -1.87}
	fx.exec.positions["BTC-PERP"] = &domain.Position{Symbol: "BTC-PERP", Size: 0.5}

	balanced, err := fx.orch.checkPositionBalance(context.Background())
	require.NoError(t, err)
	assert.False(t, balanced)

	// Целую пару не трогаем, закрывается нога без партнера
	require.Len(t, fx.ledger.closeCalls, 1)
	assert.Equal(t, closeCall{tradeID: "btc-1", reason: domain.CloseReasonImbalance}, fx.ledger.closeCalls[0])
	assert.Contains(t, fx.store.eventNames(), domain.EventImbalanceCorrected)
	assert.False(t, fx.pause.active)
}

func TestCheckPositionBalancePrefersNewestVictim(t *testing.T) {
	fx := newFixture()
	now := time.Now()
	older := &domain.Trade{
		ID: "old-1", Symbol: "ETH-PERP", Side: domain.SideLong, Size: 4.0,
		Status: domain.StatusOpen, OpenedAt: now.Add(-2 * time.Hour),
	}
	newer := &domain.Trade{
		ID: "new-1", Symbol: "BTC-PERP", Side: domain.SideLong, Size: 0.5,
		Status: domain.StatusOpen, OpenedAt: now.Add(-5 * time.Minute),
	}
	fx.ledger.seed(older)
	fx.ledger.seed(newer)
	fx.exec.positions["ETH-PERP"] = &domain.Position{Symbol: "ETH-PERP", Size: 4.0}
	fx.exec.positions["BTC-PERP"] = &domain.Position{Symbol: "BTC-PERP", Size: 0.5}
	fx.exec.positions["SOL-PERP"] = &domain.Position{Symbol: "SOL-PERP", Size: -1.87}

	balanced, err := fx.orch.checkPositionBalance(context.Background())
	require.NoError(t, err)
	assert.False(t, balanced)

	require.Len(t, fx.ledger.closeCalls, 1)
	assert.Equal(t, "new-1", fx.ledger.closeCalls[0].tradeID)
}

func TestCheckPositionBalanceClosesOrphanDirectly(t *testing.T) {
	fx := newFixture()
	fx.exec.positions["XRP-PERP"] = &domain.Position{Symbol: "XRP-PERP", Size: 120}

	balanced, err := fx.orch.checkPositionBalance(context.Background())
	require.NoError(t, err)
	assert.False(t, balanced)

	assert.Equal(t, []string{"XRP-PERP"}, fx.exec.closeCalls)
	assert.Empty(t, fx.ledger.closeCalls)
	assert.Contains(t, fx.store.eventNames(), domain.EventImbalanceCorrected)
	assert.False(t, fx.pause.active)
}

func TestCheckPositionBalancePausesOnWideImbalance(t *testing.T) {
	fx := newFixture()
	fx.exec.positions["ETH-PERP"] = &domain.Position{Symbol: "ETH-PERP", Size: 4.0}
	fx.exec.positions["BTC-PERP"] = &domain.Position{Symbol: "BTC-PERP", Size: 0.5}
	fx.exec.positions["AVAX-PERP"] = &domain.Position{Symbol: "AVAX-PERP", Size: 10}
	fx.exec.positions["SOL-PERP"] = &domain.Position{Symbol: "SOL-PERP", Size: -1.87}

	balanced, err := fx.orch.checkPositionBalance(context.Background())
	require.NoError(t, err)
	assert.False(t, balanced)

	// Расхождение больше одной ноги автоматикой не чинится
	assert.Empty(t, fx.ledger.closeCalls)
	assert.Empty(t, fx.exec.closeCalls)
	assert.Contains(t, fx.store.eventNames(), domain.EventImbalanceUnresolved)
	assert.True(t, fx.pause.active)
	require.NotEmpty(t, fx.notes)
	assert.Contains(t, fx.notes[0], "Дисбаланс")
}

func TestCheckPositionBalancePausesWhenCorrectionFails(t *testing.T) {
	fx := newFixture()
	now := time.Now()
	fx.ledger.seed(&domain.Trade{
		ID: "eth-1", Symbol: "ETH-PERP", Side: domain.SideLong, Size: 4.0,
		Status: domain.StatusOpen, OpenedAt: now,
	})
	fx.exec.positions["ETH-PERP"] = &domain.Position{Symbol: "ETH-PERP", Size: 4.0}
	fx.ledger.closeErr = errors.New("db down")

	balanced, err := fx.orch.checkPositionBalance(context.Background())
	require.NoError(t, err)
	assert.False(t, balanced)
	assert.Contains(t, fx.store.eventNames(), domain.EventImbalanceUnresolved)
	assert.True(t, fx.pause.active)
}

func TestCheckPositionBalancePositionsErrorPropagates(t *testing.T) {
	fx := newFixture()
	fx.exec.listErr = errors.New("api down")

	balanced, err := fx.orch.checkPositionBalance(context.Background())
	require.Error(t, err)
	assert.False(t, balanced)
	assert.False(t, fx.pause.active)
}

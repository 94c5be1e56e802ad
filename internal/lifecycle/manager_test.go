package lifecycle

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarquardt/condorkeeper/internal/broker"
	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/models"
	"github.com/dmarquardt/condorkeeper/internal/storage"
)

// chainBroker serves a canned option chain and panics on anything else.
type chainBroker struct {
	broker.Broker
	chain []broker.OptionQuote
	err   error
}

func (b *chainBroker) GetOptionChain(_ context.Context, _, _ string, _ bool) ([]broker.OptionQuote, error) {
	return b.chain, b.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxRiskPerTrade:    500,
		MaxPositions:       5,
		MaxPerUnderlying:   2,
		ProfitTargetPct:    0.50,
		StopLossMultiplier: 2.0,
		MinDTEExit:         21,
	}
}

func newTestManager(t *testing.T, b broker.Broker) (*Manager, *storage.MockStorage) {
	t.Helper()
	store := storage.NewMockStorage()
	return NewManager(testRiskConfig(), store, b, quietLogger()), store
}

func sampleFill(symbol string) Fill {
	return Fill{
		Symbol:      symbol,
		Strategy:    models.StrategyBullPut,
		Expiration:  time.Now().UTC().AddDate(0, 0, 35),
		Quantity:    1,
		EntryCredit: 1.50,
		ShortStrike: 570,
		LongStrike:  565,
	}
}

func putQuote(strike, bid, ask float64) broker.OptionQuote {
	return broker.OptionQuote{Strike: strike, Type: broker.OptionTypePut, Bid: bid, Ask: ask}
}

func callQuote(strike, bid, ask float64) broker.OptionQuote {
	return broker.OptionQuote{Strike: strike, Type: broker.OptionTypeCall, Bid: bid, Ask: ask}
}

func TestAddFreezesDollarThresholds(t *testing.T) {
	m, store := newTestManager(t, &chainBroker{})

	pos, err := m.Add(sampleFill("SPY"))
	require.NoError(t, err)
	require.NotEmpty(t, pos.ID)

	// $1.50 credit on 1 contract: max profit $150, target $75, stop -$300.
	assert.InDelta(t, 75.0, pos.ProfitTarget, 1e-9)
	assert.InDelta(t, -300.0, pos.StopLoss, 1e-9)
	assert.Equal(t, models.StatusOpen, pos.Status)

	stored, ok := store.GetPositionByID(pos.ID)
	require.True(t, ok)
	assert.InDelta(t, pos.ProfitTarget, stored.ProfitTarget, 1e-9)
}

func TestAddScalesThresholdsByQuantity(t *testing.T) {
	m, _ := newTestManager(t, &chainBroker{})

	fill := sampleFill("SPY")
	fill.Quantity = 3
	pos, err := m.Add(fill)
	require.NoError(t, err)
	assert.InDelta(t, 225.0, pos.ProfitTarget, 1e-9)
	assert.InDelta(t, -900.0, pos.StopLoss, 1e-9)
}

func TestAddRejectsNonPositiveCredit(t *testing.T) {
	m, _ := newTestManager(t, &chainBroker{})
	fill := sampleFill("SPY")
	fill.EntryCredit = 0
	_, err := m.Add(fill)
	require.Error(t, err)
}

func TestAddContinuesWhenPersistenceFails(t *testing.T) {
	store := storage.NewMockStorage()
	store.SetSaveError(errors.New("disk full"))
	m := NewManager(testRiskConfig(), store, &chainBroker{}, quietLogger())

	pos, err := m.Add(sampleFill("SPY"))
	require.NoError(t, err, "persistence failure must not drop the trade")
	assert.NotEmpty(t, pos.ID)
}

func TestCanOpenLimits(t *testing.T) {
	m, store := newTestManager(t, &chainBroker{})

	ok, _ := m.CanOpen("SPY")
	assert.True(t, ok)

	for _, sym := range []string{"SPY", "SPY"} {
		_, err := m.Add(sampleFill(sym))
		require.NoError(t, err)
	}
	ok, reason := m.CanOpen("SPY")
	assert.False(t, ok, "per-underlying cap reached")
	assert.Contains(t, reason, "per underlying")

	ok, _ = m.CanOpen("QQQ")
	assert.True(t, ok)

	for _, sym := range []string{"QQQ", "IWM", "TLT"} {
		_, err := m.Add(sampleFill(sym))
		require.NoError(t, err)
	}
	require.Equal(t, 5, store.OpenPositionCount())
	ok, reason = m.CanOpen("GLD")
	assert.False(t, ok, "portfolio cap reached")
	assert.Contains(t, reason, "max 5")
}

func TestRefreshValuesComputesCostToClose(t *testing.T) {
	b := &chainBroker{chain: []broker.OptionQuote{
		putQuote(570, 0.55, 0.65),
		putQuote(565, 0.30, 0.40),
	}}
	m, store := newTestManager(t, b)
	pos, err := m.Add(sampleFill("SPY"))
	require.NoError(t, err)

	require.NoError(t, m.RefreshValues(context.Background()))

	got, ok := store.GetPositionByID(pos.ID)
	require.True(t, ok)
	// Buy back short at ask 0.65, sell long at bid 0.30.
	assert.InDelta(t, 0.35, got.CurrentValue, 1e-9)
	assert.InDelta(t, 115.0, got.CurrentPnL, 1e-9)
	assert.InDelta(t, 115.0/150.0*100, got.CurrentPnLPct, 1e-6)
}

func TestRefreshValuesIronCondorSumsBothSides(t *testing.T) {
	b := &chainBroker{chain: []broker.OptionQuote{
		putQuote(570, 0.55, 0.65),
		putQuote(565, 0.30, 0.40),
		callQuote(600, 0.45, 0.55),
		callQuote(605, 0.20, 0.30),
	}}
	m, _ := newTestManager(t, b)

	callShort, callLong := 600.0, 605.0
	fill := sampleFill("SPY")
	fill.Strategy = models.StrategyIronCondor
	fill.EntryCredit = 2.40
	fill.CallShortStrike = &callShort
	fill.CallLongStrike = &callLong
	pos, err := m.Add(fill)
	require.NoError(t, err)

	cost, err := m.CostToClose(context.Background(), pos)
	require.NoError(t, err)
	assert.InDelta(t, 0.35+0.35, cost, 1e-9)
}

func TestRefreshValuesSkipsOnDataUnavailable(t *testing.T) {
	b := &chainBroker{err: errors.New("venue down")}
	m, store := newTestManager(t, b)
	pos, err := m.Add(sampleFill("SPY"))
	require.NoError(t, err)

	err = m.RefreshValues(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrDataUnavailable))

	// Prior values survive a failed refresh.
	got, ok := store.GetPositionByID(pos.ID)
	require.True(t, ok)
	assert.InDelta(t, pos.EntryCredit, got.CurrentValue, 1e-9)
}

func TestExitSignalProfitTargetWinsAndIsExclusive(t *testing.T) {
	m, store := newTestManager(t, &chainBroker{})
	pos, err := m.Add(sampleFill("SPY"))
	require.NoError(t, err)

	pos.CurrentPnL = 80 // above the $75 target
	require.NoError(t, store.UpdatePosition(pos))

	signals := m.ExitSignals()
	require.Len(t, signals, 1, "exactly one signal per position")
	assert.Equal(t, models.ExitProfitTarget, signals[0].Reason)
	assert.Equal(t, pos.ID, signals[0].Position.ID)
}

func TestExitSignalStopLoss(t *testing.T) {
	m, store := newTestManager(t, &chainBroker{})
	pos, err := m.Add(sampleFill("SPY"))
	require.NoError(t, err)

	pos.CurrentPnL = -350 // beyond the -$300 stop
	require.NoError(t, store.UpdatePosition(pos))

	signals := m.ExitSignals()
	require.Len(t, signals, 1)
	assert.Equal(t, models.ExitStopLoss, signals[0].Reason)
}

func TestExitSignalDTEFloor(t *testing.T) {
	m, store := newTestManager(t, &chainBroker{})
	fill := sampleFill("SPY")
	fill.Expiration = time.Now().UTC().AddDate(0, 0, 15)
	pos, err := m.Add(fill)
	require.NoError(t, err)

	pos.CurrentPnL = 20 // between stop and target
	require.NoError(t, store.UpdatePosition(pos))

	signals := m.ExitSignals()
	require.Len(t, signals, 1)
	assert.Equal(t, models.ExitDTE, signals[0].Reason)
}

func TestNoSignalInsideThresholds(t *testing.T) {
	m, store := newTestManager(t, &chainBroker{})
	pos, err := m.Add(sampleFill("SPY"))
	require.NoError(t, err)

	pos.CurrentPnL = 20
	require.NoError(t, store.UpdatePosition(pos))
	assert.Empty(t, m.ExitSignals())
}

func TestCloseTransitionsPosition(t *testing.T) {
	m, store := newTestManager(t, &chainBroker{})
	pos, err := m.Add(sampleFill("SPY"))
	require.NoError(t, err)

	require.NoError(t, m.Close(pos.ID, models.ExitProfitTarget, 80))
	got, ok := store.GetPositionByID(pos.ID)
	require.True(t, ok)
	assert.True(t, got.IsTerminal())
	assert.Equal(t, models.ExitProfitTarget, got.ExitReason)
}

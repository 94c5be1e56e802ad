package rolling

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testRollingConfig() config.RollingConfig {
	return config.RollingConfig{
		TestedThreshold:      0.02,
		HighUrgencyThreshold: 0.01,
		LossThresholdPct:     1.0,
		MinDTEToRoll:         7,
		RollOutWeeks:         2,
		StrikeIncrements:     3,
		MinRollCredit:        0.10,
		MaxDebitPct:          0.25,
		MaxRolls:             2,
		TimeValueFactor:      1.2,
		StrikeCreditPerPoint: 0.05,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(testRollingConfig(), 21, quietLogger())
}

func bullPut(shortStrike, longStrike float64, daysToExpiry int) models.Position {
	return models.Position{
		ID:           "p1",
		Symbol:       "SPY",
		Strategy:     models.StrategyBullPut,
		Expiration:   time.Now().UTC().AddDate(0, 0, daysToExpiry),
		Quantity:     1,
		ShortStrike:  shortStrike,
		LongStrike:   longStrike,
		EntryCredit:  1.50,
		CurrentValue: 2.50,
		Status:       models.StatusOpen,
	}
}

func strikeLadder(low, high, step float64) []float64 {
	var out []float64
	for s := low; s <= high; s += step {
		out = append(out, s)
	}
	return out
}

func laterExpirations(from time.Time, weekOffsets ...int) []time.Time {
	var out []time.Time
	for _, w := range weekOffsets {
		out = append(out, from.AddDate(0, 0, 7*w))
	}
	return out
}

func TestNoCandidateAtMaxRolls(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(575, 570, 30)
	pos.RollCount = 2
	assert.Nil(t, e.Evaluate(pos, 577, laterExpirations(pos.Expiration, 1, 2), strikeLadder(545, 600, 5)))
}

func TestNoCandidateBelowRollDTEFloor(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(575, 570, 5)
	assert.Nil(t, e.Evaluate(pos, 577, laterExpirations(pos.Expiration, 1, 2), strikeLadder(545, 600, 5)))
}

func TestNoCandidateWhenHealthy(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(575, 570, 30)
	pos.CurrentPnL = 40
	pos.CurrentPnLPct = 26
	assert.Nil(t, e.Evaluate(pos, 610, laterExpirations(pos.Expiration, 1, 2), strikeLadder(545, 600, 5)))
}

func TestTestedPutRollsDownAndOut(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(575, 570, 30)
	exps := laterExpirations(pos.Expiration, 1, 2, 3)

	// Price 577 against a 575 short put: 0.35% away.
	cand := e.Evaluate(pos, 577, exps, strikeLadder(545, 600, 5))
	require.NotNil(t, cand)
	assert.Equal(t, ReasonTested, cand.Reason)
	assert.Equal(t, UrgencyHigh, cand.Urgency)
	assert.Equal(t, models.RightPut, cand.ThreatenedRight)
	assert.InDelta(t, (577.0-575.0)/577.0, cand.DistanceToShort, 1e-9)

	assert.Less(t, cand.NewShortStrike, 575.0)
	assert.InDelta(t, 560.0, cand.NewShortStrike, 1e-9, "three increments down the ladder")
	assert.InDelta(t, 555.0, cand.NewLongStrike, 1e-9, "width preserved")
	assert.True(t, cand.NewExpiration.After(pos.Expiration))

	ok, reason := e.Decide(cand)
	assert.True(t, ok, reason)
}

func TestTestedMediumUrgency(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(575, 570, 30)

	// 1.88% away: tested but not extreme.
	cand := e.Evaluate(pos, 586, laterExpirations(pos.Expiration, 2), strikeLadder(545, 600, 5))
	require.NotNil(t, cand)
	assert.Equal(t, ReasonTested, cand.Reason)
	assert.Equal(t, UrgencyMedium, cand.Urgency)
}

func TestTestedCallRollsUp(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(580, 585, 30)
	pos.Strategy = models.StrategyBearCall

	cand := e.Evaluate(pos, 578, laterExpirations(pos.Expiration, 2), strikeLadder(545, 620, 5))
	require.NotNil(t, cand)
	assert.Equal(t, ReasonTested, cand.Reason)
	assert.Equal(t, models.RightCall, cand.ThreatenedRight)
	assert.Greater(t, cand.NewShortStrike, 580.0)
	assert.InDelta(t, 595.0, cand.NewShortStrike, 1e-9)
	assert.InDelta(t, 600.0, cand.NewLongStrike, 1e-9)
}

func TestIronCondorThreatenedOnCallWing(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(550, 545, 30)
	pos.Strategy = models.StrategyIronCondor
	callShort, callLong := 580.0, 585.0
	pos.CallShortStrike = &callShort
	pos.CallLongStrike = &callLong

	cand := e.Evaluate(pos, 578, laterExpirations(pos.Expiration, 2), strikeLadder(545, 620, 5))
	require.NotNil(t, cand)
	assert.Equal(t, models.RightCall, cand.ThreatenedRight)
	assert.Greater(t, cand.NewShortStrike, 580.0)
}

func TestLossLimitKeepsStrikes(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(575, 570, 30)
	pos.CurrentPnL = -160
	pos.CurrentPnLPct = -106

	// Far from the strike, so only the loss threshold applies.
	cand := e.Evaluate(pos, 610, laterExpirations(pos.Expiration, 2), strikeLadder(545, 600, 5))
	require.NotNil(t, cand)
	assert.Equal(t, ReasonLossLimit, cand.Reason)
	assert.Equal(t, UrgencyMedium, cand.Urgency)
	assert.InDelta(t, 575.0, cand.NewShortStrike, 1e-9, "strikes fixed, only time rolls")
	assert.InDelta(t, 570.0, cand.NewLongStrike, 1e-9)
}

func TestDTEManagementCandidate(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(575, 570, 10)
	pos.CurrentPnL = -50
	pos.CurrentPnLPct = -33

	cand := e.Evaluate(pos, 610, laterExpirations(pos.Expiration, 2), strikeLadder(545, 600, 5))
	require.NotNil(t, cand)
	assert.Equal(t, ReasonDTEManagement, cand.Reason)
	assert.Equal(t, UrgencyMedium, cand.Urgency)
	assert.InDelta(t, 575.0, cand.NewShortStrike, 1e-9, "strikes fixed, only time rolls")

	// Strikes unchanged, so the estimate is pure time value: 2.50*0.2 = 0.50.
	ok, reason := e.Decide(cand)
	assert.True(t, ok, reason)
	assert.Contains(t, reason, "meets minimum")
}

func TestRollOutPicksClosestLaterExpiration(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(575, 570, 30)
	exps := laterExpirations(pos.Expiration, -1, 1, 2, 3, 6)

	cand := e.Evaluate(pos, 577, exps, strikeLadder(545, 600, 5))
	require.NotNil(t, cand)
	// Two weeks out is the configured target.
	assert.Equal(t, pos.Expiration.AddDate(0, 0, 14), cand.NewExpiration)
}

func TestNoCandidateWithoutLaterExpiration(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(575, 570, 30)
	exps := []time.Time{pos.Expiration.AddDate(0, 0, -7), pos.Expiration}
	assert.Nil(t, e.Evaluate(pos, 577, exps, strikeLadder(545, 600, 5)))
}

func TestEstimatedCreditModel(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(575, 570, 30)

	cand := e.Evaluate(pos, 577, laterExpirations(pos.Expiration, 2), strikeLadder(545, 600, 5))
	require.NotNil(t, cand)
	// Close at 2.50, reopen at 2.50*1.2 - 15 points * 0.05 = 2.25: rolling
	// the short 575 -> 560 away from price gives up premium, a 0.25 debit.
	assert.InDelta(t, -0.25, cand.EstimatedCredit, 1e-9)
	// Break-even for the new put side: 560 - (1.50 - 0.25).
	assert.InDelta(t, 558.75, cand.BreakEven, 1e-9)
	assert.InDelta(t, (5.0-1.25)*100, cand.MaxLoss, 1e-9)
}

func TestEstimatedCreditSignsCallRolls(t *testing.T) {
	e := newTestEngine(t)
	pos := bullPut(580, 585, 30)
	pos.Strategy = models.StrategyBearCall

	cand := e.Evaluate(pos, 578, laterExpirations(pos.Expiration, 2), strikeLadder(545, 620, 5))
	require.NotNil(t, cand)
	require.InDelta(t, 595.0, cand.NewShortStrike, 1e-9)
	// Rolling the short call 580 -> 595 up and away costs the same fifteen
	// points of strike premium as the put side rolling down.
	assert.InDelta(t, -0.25, cand.EstimatedCredit, 1e-9)
}

func TestDecideRejectsExcessiveDebit(t *testing.T) {
	e := newTestEngine(t)
	cand := &Candidate{
		Position:        bullPut(575, 570, 30),
		Reason:          ReasonTested,
		Urgency:         UrgencyMedium,
		ThreatenedRight: models.RightPut,
		UnderlyingPrice: 620,
		NewShortStrike:  560,
		NewLongStrike:   555,
		EstimatedCredit: -0.50, // max debit is 0.25 * 1.50 = 0.375
	}
	ok, reason := e.Decide(cand)
	assert.False(t, ok)
	assert.Contains(t, reason, "debit")
}

func TestDecideRejectsStillTestedStrike(t *testing.T) {
	cfg := testRollingConfig()
	cfg.StrikeIncrements = 1
	e := NewEngine(cfg, 21, quietLogger())
	pos := bullPut(575, 570, 30)

	// One increment down lands at 570, still 1.2% from price 577.
	cand := e.Evaluate(pos, 577, laterExpirations(pos.Expiration, 2), strikeLadder(545, 600, 5))
	require.NotNil(t, cand)
	ok, reason := e.Decide(cand)
	assert.False(t, ok)
	assert.Contains(t, reason, "still within")
}

func TestDecideMediumUrgencyDebitPolicy(t *testing.T) {
	cand := &Candidate{
		Position:        bullPut(575, 570, 30),
		Reason:          ReasonTested,
		Urgency:         UrgencyMedium,
		ThreatenedRight: models.RightPut,
		UnderlyingPrice: 620,
		NewShortStrike:  560,
		NewLongStrike:   555,
		EstimatedCredit: 0.05, // below the 0.10 minimum
	}

	e := newTestEngine(t)
	ok, reason := e.Decide(cand)
	assert.True(t, ok, "debit rolls default to allowed")
	assert.Contains(t, reason, "permitted")

	cfg := testRollingConfig()
	noDebit := false
	cfg.AcceptDebitRolls = &noDebit
	strict := NewEngine(cfg, 21, quietLogger())
	ok, reason = strict.Decide(cand)
	assert.False(t, ok)
	assert.Contains(t, reason, "debit rolls disabled")
}
